package config

// updaterSchema is the CUE schema of the configuration. Every field has a
// default so that unifying with an empty document yields a complete value.
const updaterSchema = `
#Duration: string & =~"^[0-9]+(ms|s|m|h)$"

#Script: {
	name:     string & !=""
	priority: int & >=0
}

#Plugins: {
	library:            string | *""
	instructions:       [...string] | *[]
	allowed_dirs:       [...string] | *["/system/lib/updater"]
	allowed_checksums:  [...string & =~"^sha256:[0-9a-fA-F]{64}$"] | *[]
	policy_paths:       [...string] | *[]
	require_manifest:   bool | *false
	timeout:            #Duration | *"30s"
	memory_limit_pages: int & >=1 & <=65536 | *256
}

#Logging: {
	level:  "trace" | "debug" | *"info" | "warn" | "error"
	format: *"console" | "json"
	output: string | *"stderr"
}

#Metrics: {
	enabled:        bool | *false
	listen_address: string | *""
	textfile_path:  string | *""
}

#Tracing: {
	enabled:        bool | *false
	exporter:       *"none" | "stdout" | "otlp"
	endpoint:       string | *""
	sampling_rate:  number & >=0 & <=1 | *1.0
	export_timeout: #Duration | *"10s"
	insecure:       bool | *false
}

#Updater: {
	work_dir:        string & !="" | *"/data/updater"
	record_db:       string & !="" | *"/data/updater/record.db"
	retry:           bool | *false
	priority_levels: int & >=1 & <=16 | *4
	partitions: [=~"^[A-Za-z0-9_.-]+$"]: string & =~"^/"
	by_name_dirs: [...string] | *["/dev/block/by-name"]
	scripts: [...#Script] | *[]
	plugins: #Plugins
	ui: output: string | *""
	logging: #Logging
	metrics: #Metrics
	tracing: #Tracing
}
`
