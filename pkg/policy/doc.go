// Package policy provides Open Policy Agent (OPA) admission control for
// external instruction libraries.
//
// Before the registry opens a library it asks the Engine, which evaluates
// every enabled Rego policy with the load request as input:
//
//	{"path": "...", "dir": "...", "checksum": "sha256:...", "instruction": "..."}
//
// Each policy contributes messages to a "deny" set. Any message from a
// policy with error or critical severity rejects the load.
//
// The built-in admission policy (package froyo.updater.admission) rejects
// libraries outside the configured plugin directories, libraries whose
// checksum is not allow-listed when an allow-list is configured, and
// requests for reserved instruction names. The configuration is exposed
// to policies as data.config:
//
//	{"allowed_dirs": [...], "allowed_checksums": [...], "reserved_names": [...]}
//
// Additional .rego files can be loaded with LoadPolicies.
//
// # Usage
//
//	eng, err := policy.NewEngine(ctx, policy.Config{
//	    AllowedDirs:   []string{"/system/lib/updater"},
//	    ReservedNames: script.ReservedNames(),
//	}, logger)
//	if err != nil {
//	    return err
//	}
//	reg := script.NewRegistry(script.WithAdmitter(eng))
package policy
