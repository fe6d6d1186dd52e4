// Package policy gates workflow runs with Open Policy Agent.
//
// Before a run asks for confirmation the Engine evaluates the deny rule of
// every enabled Rego policy against
//
//	{"run": {"definition", "entity", "action", "count", "top"}}
//
// Two built-in policies deny runs that matched more records than their
// query bound and runs whose action or entity the schema registry does not
// declare. The registry is visible to policies as data.dvctl.registry with
// the fields loaded, entities and actions.
//
// Custom policies are .rego files, named after the file, or .json files
// carrying name, rego and severity. A deny result is either a message or an
// object:
//
//	package dvctl.custom
//
//	import rego.v1
//
//	deny contains {"message": "no bulk wins on Fridays", "severity": "error"} if {
//		input.run.action == "WinOpportunity"
//		time.weekday(time.now_ns()) == "Friday"
//	}
//
// Violations with severity error or critical block the run; others are
// logged as warnings.
package policy
