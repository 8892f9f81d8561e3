package governance

import (
	"fmt"

	"github.com/fyrsmithlabs/autopilot/internal/secrets"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

// Rule names reported in violations.
const (
	RuleForbiddenPath       = "forbidden_path"
	RuleRequireTests        = "require_tests"
	RuleDependencyAllowlist = "dependency_allowlist"
	RuleSecretScan          = "secret_scan"
)

// BuiltinForbiddenPaths are credential locations no change may touch.
var BuiltinForbiddenPaths = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"id_rsa*",
	"credentials.json",
}

// Policy is a project's governance configuration.
type Policy struct {
	// ForbiddenPaths are gitignore-style globs. A leading "!" re-allows a
	// path forbidden by an earlier entry; it cannot re-allow a built-in.
	ForbiddenPaths []string `koanf:"forbidden_paths" json:"forbidden_paths,omitempty"`
	RequireTests   bool     `koanf:"require_tests" json:"require_tests"`
	// DependencyAllowlist enables the dependency rule when non-empty. Entries
	// are exact names, path.Match globs, or prefixes ending in "/...".
	DependencyAllowlist []string `koanf:"dependency_allowlist" json:"dependency_allowlist,omitempty"`
	ScanSecrets         bool     `koanf:"scan_secrets" json:"scan_secrets"`
	// Severity overrides the default severity of require_tests,
	// dependency_allowlist and secret_scan.
	Severity map[string]workflow.Severity `koanf:"severity" json:"severity,omitempty"`

	// SecretAllowlist is loaded from the project's .gitleaks.toml.
	SecretAllowlist *secrets.Allowlist `koanf:"-" json:"-"`
}

var defaultSeverity = map[string]workflow.Severity{
	RuleForbiddenPath:       workflow.SeverityError,
	RuleRequireTests:        workflow.SeverityWarning,
	RuleDependencyAllowlist: workflow.SeverityError,
	RuleSecretScan:          workflow.SeverityError,
}

// Validate rejects unknown rules and severities in the override map.
func (p Policy) Validate() error {
	for rule, sev := range p.Severity {
		switch rule {
		case RuleRequireTests, RuleDependencyAllowlist, RuleSecretScan:
		case RuleForbiddenPath:
			return fmt.Errorf("severity of %s cannot be overridden", rule)
		default:
			return fmt.Errorf("unknown governance rule %q", rule)
		}
		if sev != workflow.SeverityError && sev != workflow.SeverityWarning {
			return fmt.Errorf("invalid severity %q for %s", sev, rule)
		}
	}
	return nil
}

// SeverityFor returns the effective severity of rule.
func (p Policy) SeverityFor(rule string) workflow.Severity {
	if rule != RuleForbiddenPath {
		if sev, ok := p.Severity[rule]; ok {
			return sev
		}
	}
	if sev, ok := defaultSeverity[rule]; ok {
		return sev
	}
	return workflow.SeverityError
}
