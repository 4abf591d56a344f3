package policy

// BuiltinPolicies returns the policies shipped with the binary.
func BuiltinPolicies() []Policy {
	return []Policy{
		instanceBoundsPolicy(),
		healthCheckPolicy(),
		branchPolicy(),
		secretHygienePolicy(),
		staticSitePolicy(),
	}
}

func instanceBoundsPolicy() Policy {
	return Policy{
		Name:        "instance-bounds",
		Description: "Instance counts must be positive, ordered and at most 10",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"sizing"},
		Rego: `package froyo.deploy.instances

import rego.v1

deny contains v if {
	input.settings.min_instances < 1
	v := {"message": "min_instances must be at least 1", "field": "settings.min_instances"}
}

deny contains v if {
	input.settings.max_instances < input.settings.min_instances
	v := {
		"message": sprintf("max_instances %v is below min_instances %v", [input.settings.max_instances, input.settings.min_instances]),
		"field": "settings.max_instances",
	}
}

deny contains v if {
	input.settings.max_instances > 10
	v := {"message": "max_instances must not exceed 10", "field": "settings.max_instances"}
}
`,
	}
}

func healthCheckPolicy() Policy {
	return Policy{
		Name:        "health-check",
		Description: "Load-balanced targets need an absolute health check path and a valid port",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"networking"},
		Rego: `package froyo.deploy.health

import rego.v1

deny contains v if {
	input.target == "container-cluster"
	not startswith(input.settings.health_check_path, "/")
	v := {"message": "health_check_path must start with /", "field": "settings.health_check_path"}
}

deny contains v if {
	not valid_port(input.settings.port)
	v := {"message": sprintf("port %v is out of range", [input.settings.port]), "field": "settings.port"}
}

valid_port(p) if {
	p > 0
	p < 65536
}
`,
	}
}

func branchPolicy() Policy {
	return Policy{
		Name:        "branch-name",
		Description: "Branch names must be valid git refs",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"source"},
		Rego: `package froyo.deploy.branch

import rego.v1

deny contains v if {
	contains(input.branch, "..")
	v := {"message": sprintf("branch %s must not contain ..", [input.branch]), "field": "branch"}
}

deny contains v if {
	startswith(input.branch, "-")
	v := {"message": sprintf("branch %s must not start with -", [input.branch]), "field": "branch"}
}

deny contains v if {
	regex.match("[\\s~^:?*\\[\\\\]", input.branch)
	v := {"message": sprintf("branch %s contains characters git does not allow", [input.branch]), "field": "branch"}
}
`,
	}
}

func secretHygienePolicy() Policy {
	return Policy{
		Name:        "secret-hygiene",
		Description: "Credential-looking env vars should be marked secret",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"secrets"},
		Rego: `package froyo.deploy.secrets

import rego.v1

deny contains v if {
	some env in input.env_vars
	not env.is_secret
	regex.match("(?i)(secret|token|password|passwd|private_key|api_key)", env.key)
	v := {"message": sprintf("env var %s looks like a credential but is not marked secret", [env.key]), "field": "env_vars"}
}
`,
	}
}

func staticSitePolicy() Policy {
	return Policy{
		Name:        "static-site-build",
		Description: "Static sites without a build command publish the repository as-is",
		Severity:    SeverityInfo,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"build"},
		Rego: `package froyo.deploy.staticsite

import rego.v1

deny contains v if {
	input.project_type == "static-site"
	input.build_command == ""
	v := {"message": "static site has no build command, the repository is published as-is", "field": "build_command"}
}
`,
	}
}
