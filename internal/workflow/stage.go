package workflow

import "time"

// StageName identifies a pipeline stage.
type StageName string

const (
	StageCodegen    StageName = "codegen"
	StageTests      StageName = "tests"
	StageBugfix     StageName = "bugfix"
	StageSmoke      StageName = "smoke"
	StageGovernance StageName = "governance"
	StagePRPrep     StageName = "pr_prep"
)

// StageOrder is the order stages appear in every run record.
var StageOrder = []StageName{
	StageCodegen,
	StageTests,
	StageBugfix,
	StageSmoke,
	StageGovernance,
	StagePRPrep,
}

// Reason explains why a stage failed or was skipped.
type Reason string

const (
	// Failure reasons.
	ReasonNonzeroExit       Reason = "nonzero_exit"
	ReasonTimeout           Reason = "timeout"
	ReasonCommandNotFound   Reason = "command_not_found"
	ReasonPortUnavailable   Reason = "port_unavailable"
	ReasonProcessExited     Reason = "process_exited"
	ReasonProbeFailed       Reason = "probe_failed"
	ReasonCollaboratorError Reason = "collaborator_error"
	ReasonPolicyViolation   Reason = "policy_violation"

	// Skip reasons.
	ReasonFlagDisabled     Reason = "flag_disabled"
	ReasonDryRun           Reason = "dry_run"
	ReasonCodegenFailed    Reason = "codegen_failed"
	ReasonTestsFailed      Reason = "tests_failed"
	ReasonSmokeFailed      Reason = "smoke_failed"
	ReasonGovernanceFailed Reason = "governance_failed"
	ReasonNotApplicable    Reason = "not_applicable"
	ReasonNotConfigured    Reason = "not_configured"

	// ReasonCancelled covers both an interrupted stage and the stages it
	// prevented from running.
	ReasonCancelled Reason = "cancelled"
)

// Severity of a governance violation.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Violation is one governance rule finding. Path is empty for repo-wide rules.
type Violation struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Path     string   `json:"path,omitempty"`
}

// StageResult is the record of one stage, executed or not.
type StageResult struct {
	Name    StageName `json:"name"`
	Passed  bool      `json:"passed"`
	Skipped bool      `json:"skipped"`
	Reason  Reason    `json:"reason,omitempty"`
	// Error carries a collaborator or infrastructure error message.
	Error      string        `json:"error,omitempty"`
	Command    string        `json:"command,omitempty"`
	ExitCode   int           `json:"exit_code"`
	TimedOut   bool          `json:"timed_out,omitempty"`
	Stdout     string        `json:"stdout,omitempty"`
	Stderr     string        `json:"stderr,omitempty"`
	Truncated  bool          `json:"truncated,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	StartedAt  time.Time     `json:"started_at,omitempty"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Violations []Violation   `json:"violations,omitempty"`
}

// Skip returns a skipped stage record.
func Skip(name StageName, reason Reason) StageResult {
	return StageResult{Name: name, Skipped: true, Reason: reason}
}

// Executed reports whether the stage actually ran.
func (s StageResult) Executed() bool {
	return !s.Skipped
}

// Failed reports whether the stage ran and did not pass.
func (s StageResult) Failed() bool {
	return !s.Skipped && !s.Passed
}

// Outcome is a single label for metrics and progress output.
func (s StageResult) Outcome() string {
	switch {
	case s.Skipped:
		return "skipped"
	case s.Passed:
		return "passed"
	default:
		return "failed"
	}
}

func (s StageResult) clone() StageResult {
	if s.Violations != nil {
		s.Violations = append([]Violation(nil), s.Violations...)
	}
	return s
}

// BugfixSuggestion is advisory output from the fix-suggestion collaborator.
// It is never applied to the repository.
type BugfixSuggestion struct {
	Summary      string    `json:"summary,omitempty"`
	Patch        string    `json:"patch,omitempty"`
	RetryCommand string    `json:"retry_command,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	Model        string    `json:"model,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// PROutcome tags whether a pull request was really opened.
type PROutcome string

const (
	PRCreated PROutcome = "created"
	PRStubbed PROutcome = "stubbed"
)

// PRResult is what the PR-preparation collaborator reports.
type PRResult struct {
	Outcome PROutcome `json:"outcome"`
	URL     string    `json:"url,omitempty"`
	Number  int       `json:"number,omitempty"`
	Branch  string    `json:"branch,omitempty"`
	Base    string    `json:"base,omitempty"`
	Title   string    `json:"title,omitempty"`
	// Reason explains a stubbed outcome.
	Reason string `json:"reason,omitempty"`
}
