package governance

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/autopilot/internal/logging"
	"github.com/fyrsmithlabs/autopilot/internal/secrets"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
	"go.uber.org/zap"
)

// Result is the verdict for one diff.
type Result struct {
	OK           bool                 `json:"ok"`
	Violations   []workflow.Violation `json:"violations"`
	ChangedFiles []ChangedFile        `json:"changed_files"`
}

// Errors returns the error-severity violations.
func (r *Result) Errors() []workflow.Violation {
	return r.bySeverity(workflow.SeverityError)
}

// Warnings returns the warning-severity violations.
func (r *Result) Warnings() []workflow.Violation {
	return r.bySeverity(workflow.SeverityWarning)
}

func (r *Result) bySeverity(sev workflow.Severity) []workflow.Violation {
	var out []workflow.Violation
	for _, v := range r.Violations {
		if v.Severity == sev {
			out = append(out, v)
		}
	}
	return out
}

// SecretScanner finds secrets in text.
type SecretScanner interface {
	Detect(content string) []secrets.Leak
}

// Evaluator applies a Policy to diffs. It holds no per-run state and is safe
// for concurrent use.
type Evaluator struct {
	logger *logging.Logger

	scannerOnce sync.Once
	scanner     SecretScanner
	scannerErr  error
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithSecretScanner replaces the default gitleaks scanner.
func WithSecretScanner(s SecretScanner) Option {
	return func(e *Evaluator) {
		e.scanner = s
		e.scannerOnce.Do(func() {})
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// NewEvaluator creates an Evaluator. The gitleaks scanner is built on first
// use by a policy with ScanSecrets set.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate parses diffText and applies policy. An error is returned only for
// an unparseable diff, an invalid policy, or an unavailable secret scanner.
func (e *Evaluator) Evaluate(ctx context.Context, diffText string, policy Policy) (*Result, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid governance policy: %w", err)
	}
	files, err := ParseDiff(diffText)
	if err != nil {
		return nil, err
	}

	res := &Result{ChangedFiles: files, Violations: []workflow.Violation{}}
	res.Violations = append(res.Violations, checkForbiddenPaths(files, policy)...)
	if policy.RequireTests {
		res.Violations = append(res.Violations, checkTests(files, policy)...)
	}
	if len(policy.DependencyAllowlist) > 0 {
		res.Violations = append(res.Violations, checkDependencies(files, policy)...)
	}
	if policy.ScanSecrets {
		found, err := e.checkSecrets(files, policy)
		if err != nil {
			return nil, err
		}
		res.Violations = append(res.Violations, found...)
	}

	res.OK = len(res.Errors()) == 0
	e.logger.Debug(ctx, "governance evaluated",
		zap.Int("changed_files", len(files)),
		zap.Int("violations", len(res.Violations)),
		zap.Bool("ok", res.OK))
	return res, nil
}

func checkForbiddenPaths(files []ChangedFile, policy Policy) []workflow.Violation {
	builtin := newPathMatcher(BuiltinForbiddenPaths)
	configured := newPathMatcher(policy.ForbiddenPaths)
	var out []workflow.Violation
	for _, f := range files {
		for _, p := range f.Paths() {
			glob := builtin.match(p)
			if glob == "" {
				glob = configured.match(p)
			}
			if glob != "" {
				out = append(out, workflow.Violation{
					Rule:     RuleForbiddenPath,
					Severity: workflow.SeverityError,
					Message:  fmt.Sprintf("%s %s matches forbidden pattern %q", f.Kind, p, glob),
					Path:     p,
				})
				break
			}
		}
	}
	return out
}

func checkTests(files []ChangedFile, policy Policy) []workflow.Violation {
	var out []workflow.Violation
	for _, p := range untestedCode(files) {
		out = append(out, workflow.Violation{
			Rule:     RuleRequireTests,
			Severity: policy.SeverityFor(RuleRequireTests),
			Message:  fmt.Sprintf("code file %s changed without a corresponding test change", p),
			Path:     p,
		})
	}
	return out
}

func checkDependencies(files []ChangedFile, policy Policy) []workflow.Violation {
	var out []workflow.Violation
	for _, f := range files {
		eco, ok := manifestEcosystem(f.Path)
		if !ok {
			continue
		}
		for _, dep := range addedDependencies(f) {
			if allowed(dep, eco, policy.DependencyAllowlist) {
				continue
			}
			out = append(out, workflow.Violation{
				Rule:     RuleDependencyAllowlist,
				Severity: policy.SeverityFor(RuleDependencyAllowlist),
				Message:  fmt.Sprintf("%s dependency %q added on line %d is not in the allowlist", eco, dep.Name, dep.Line),
				Path:     f.Path,
			})
		}
	}
	return out
}

func (e *Evaluator) secretScanner() (SecretScanner, error) {
	e.scannerOnce.Do(func() {
		d, err := secrets.NewDetector(nil)
		if err != nil {
			e.scannerErr = err
			return
		}
		e.scanner = d
	})
	return e.scanner, e.scannerErr
}

func (e *Evaluator) checkSecrets(files []ChangedFile, policy Policy) ([]workflow.Violation, error) {
	scanner, err := e.secretScanner()
	if err != nil {
		return nil, fmt.Errorf("secret scanner unavailable: %w", err)
	}

	var allowRegexes []*regexp.Regexp
	if policy.SecretAllowlist != nil {
		for _, p := range policy.SecretAllowlist.Regexes {
			if re, err := regexp.Compile(p); err == nil {
				allowRegexes = append(allowRegexes, re)
			}
		}
	}

	var out []workflow.Violation
	for _, f := range files {
		if len(f.Added) == 0 || f.Binary || secrets.PathAllowed(policy.SecretAllowlist, f.Path) {
			continue
		}
		for _, leak := range scanner.Detect(f.AddedText()) {
			line := locateLeak(f.Added, leak)
			if matchesAny(allowRegexes, line.Text) {
				continue
			}
			out = append(out, workflow.Violation{
				Rule:     RuleSecretScan,
				Severity: policy.SeverityFor(RuleSecretScan),
				Message:  fmt.Sprintf("possible secret (%s) added on line %d", leak.RuleID, line.Number),
				Path:     f.Path,
			})
		}
	}
	return out, nil
}

// locateLeak finds the added line holding the leak. The detector's line
// number is only a fallback since it counts from the start of the joined text.
func locateLeak(added []Line, leak secrets.Leak) Line {
	if leak.Match != "" {
		first, _, _ := strings.Cut(leak.Match, "\n")
		for _, l := range added {
			if strings.Contains(l.Text, first) {
				return l
			}
		}
	}
	for _, idx := range []int{leak.Line, leak.Line - 1} {
		if idx >= 0 && idx < len(added) {
			return added[idx]
		}
	}
	return added[0]
}

func matchesAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(strings.TrimSpace(s)) {
			return true
		}
	}
	return false
}
