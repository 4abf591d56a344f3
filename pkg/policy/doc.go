// Package policy evaluates deploy admission policies written in Rego.
//
// Every deploy is checked against the enabled policies before any side effect.
// A policy is a Rego module whose package defines a deny set. Each element is
// either a message string or an object with message, severity and field keys:
//
//	package froyo.deploy.regions
//
//	import rego.v1
//
//	deny contains v if {
//		input.target == "virtual-machine"
//		input.region == "sgp1"
//		v := {"message": "sgp1 is not allowed", "severity": "error", "field": "region"}
//	}
//
// Violations with severity error or critical block the deploy; info and
// warning violations are reported only.
//
// Built-in policies are always loaded. Additional policies are read from .rego
// and .json files and can be hot reloaded with Loader.Watch.
package policy
