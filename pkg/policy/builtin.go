package policy

// AdmissionPackage is the Rego package of the built-in admission policy.
const AdmissionPackage = "froyo.updater.admission"

// BuiltinPolicies returns the built-in admission policies.
func BuiltinPolicies() []Policy {
	return []Policy{
		{
			Name:        "library-admission",
			Description: "Restricts external instruction libraries to allowed directories, checksums and names",
			Severity:    SeverityError,
			Enabled:     true,
			Rego:        admissionRego,
		},
	}
}

const admissionRego = `package froyo.updater.admission

import rego.v1

deny contains msg if {
	not dir_allowed
	msg := sprintf("library %s is outside the allowed plugin directories", [input.path])
}

dir_allowed if {
	some d in data.config.allowed_dirs
	input.dir == d
}

dir_allowed if {
	some d in data.config.allowed_dirs
	startswith(input.dir, concat("", [d, "/"]))
}

deny contains msg if {
	count(data.config.allowed_checksums) > 0
	not checksum_allowed
	msg := sprintf("library checksum %s is not allowed", [input.checksum])
}

checksum_allowed if {
	input.checksum in data.config.allowed_checksums
}

deny contains msg if {
	input.instruction in data.config.reserved_names
	msg := sprintf("instruction %s has a reserved name", [input.instruction])
}

deny contains msg if {
	input.instruction == ""
	msg := "instruction name is required"
}
`
