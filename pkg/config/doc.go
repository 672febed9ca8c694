// Package config loads the updater configuration.
//
// A configuration file is CUE (.cue) or YAML (.yaml, .yml, .json). It is
// unified with the #Updater CUE schema, which supplies defaults for every
// absent field and rejects unknown fields, then decoded into Updater and
// checked with validator struct tags.
//
// # Usage Example
//
//	cfg, err := config.Load("/etc/updater/updater.yaml")
//	if err != nil {
//	    return err
//	}
//	store, err := stores.Open(ctx, stores.Config{Path: cfg.RecordDB})
//
// An empty path yields the defaults:
//
//	cfg, err := config.Load("")
//
// # Example configuration
//
//	work_dir: /data/updater
//	record_db: /data/updater/record.db
//	partitions:
//	  system: /dev/block/mmcblk0p3
//	plugins:
//	  library: /system/lib/updater/vendor.wasm
//	  instructions: [vendor_check]
//	  allowed_dirs: [/system/lib/updater]
//	logging:
//	  level: debug
package config
