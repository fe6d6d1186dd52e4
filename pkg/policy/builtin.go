package policy

// BuiltinPolicies returns the guardrails every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		runBoundPolicy(),
		declaredActionPolicy(),
	}
}

// runBoundPolicy denies runs that matched more records than their query
// allows, and warns when a run reached its bound.
func runBoundPolicy() Policy {
	return Policy{
		Name:        "run-bound",
		Description: "Runs must not transition more records than their query bound",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package dvctl.guardrails.bound

import rego.v1

deny contains violation if {
	input.run.top <= 0
	violation := {
		"message": sprintf("run %s has no record bound", [input.run.definition]),
		"severity": "critical",
	}
}

deny contains violation if {
	input.run.top > 0
	input.run.count > input.run.top
	violation := {
		"message": sprintf("run %s matched %d records, more than its bound of %d", [input.run.definition, input.run.count, input.run.top]),
		"severity": "error",
	}
}

deny contains violation if {
	input.run.top > 0
	input.run.count == input.run.top
	violation := {
		"message": sprintf("run %s reached its bound of %d; more %s records may match", [input.run.definition, input.run.top, input.run.entity]),
		"severity": "warning",
	}
}
`,
	}
}

// declaredActionPolicy denies runs whose action the registry does not
// declare. It is inert when the engine has no registry.
func declaredActionPolicy() Policy {
	return Policy{
		Name:        "declared-action",
		Description: "Runs may only invoke actions declared in the schema registry",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package dvctl.guardrails.actions

import rego.v1

deny contains violation if {
	data.dvctl.registry.loaded
	input.run.action != ""
	not input.run.action in data.dvctl.registry.actions
	violation := {
		"message": sprintf("action %s is not declared in the schema registry", [input.run.action]),
		"severity": "error",
	}
}

deny contains violation if {
	data.dvctl.registry.loaded
	not input.run.entity in data.dvctl.registry.entities
	violation := {
		"message": sprintf("entity %s is not declared in the schema registry", [input.run.entity]),
		"severity": "error",
	}
}
`,
	}
}
