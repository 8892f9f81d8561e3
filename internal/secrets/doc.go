// Package secrets keeps credentials out of workflow records.
//
// Scrubber masks secrets in captured process output before it is stored on a
// StageResult or sent to a fix-suggestion model. Detector runs the gitleaks
// rule set over added diff lines for the governance secret scan, honouring a
// project's .gitleaks.toml allowlist.
package secrets
