// Package governance evaluates a change-set diff against a project policy
// before a pull request is prepared.
//
// Rules:
//
//   - forbidden_path: a changed path matches a forbidden glob. Always an error.
//     A built-in credential set (.env, *.pem, ...) is enforced on top of the
//     configured globs.
//   - require_tests: a changed code file has no matching changed test file.
//     A warning unless the policy raises it.
//   - dependency_allowlist: a manifest (go.mod, requirements.txt,
//     package.json) adds a dependency outside the allowlist. An error unless
//     the policy lowers it.
//   - secret_scan: an added line matches a gitleaks rule. Opt-in.
//
// A result is OK iff it carries no error-severity violation.
package governance
