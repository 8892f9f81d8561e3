package orchestrator

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/autopilot/internal/bugfix"
	"github.com/fyrsmithlabs/autopilot/internal/governance"
	"github.com/fyrsmithlabs/autopilot/internal/project"
	"github.com/fyrsmithlabs/autopilot/internal/stages"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

// ProjectResolver resolves a project id to its runtime configuration.
type ProjectResolver interface {
	Resolve(ctx context.Context, projectID string) (*project.Project, error)
}

// CodegenRunner generates code for a design contract.
type CodegenRunner interface {
	Run(ctx context.Context, p *project.Project, contractRef string) workflow.StageResult
}

// TestRunner runs a project's tests. A zero timeout selects the runner
// default.
type TestRunner interface {
	Run(ctx context.Context, p *project.Project, timeout time.Duration) workflow.StageResult
}

// SmokeRunner starts, probes and stops a project's service.
type SmokeRunner interface {
	Run(ctx context.Context, p *project.Project, opts stages.SmokeOptions) workflow.StageResult
}

// DiffSource produces the change set of a project's working copy.
type DiffSource interface {
	Diff(ctx context.Context, dir, base string) (string, error)
	ChangedFiles(ctx context.Context, dir, base string) ([]string, error)
}

// GovernanceEvaluator checks a diff against a policy.
type GovernanceEvaluator interface {
	Evaluate(ctx context.Context, diffText string, policy governance.Policy) (*governance.Result, error)
}

// BugfixInvoker runs the bugfix stage.
type BugfixInvoker interface {
	MaybeInvoke(ctx context.Context, in bugfix.Input) (workflow.StageResult, *workflow.BugfixSuggestion)
}

// PRPreparer prepares a pull request for a run that passed every gate.
type PRPreparer interface {
	Prepare(ctx context.Context, p *project.Project, rec workflow.Record) (workflow.PRResult, error)
}

// Deps are the collaborators of an Orchestrator. Projects is required. A
// nil collaborator makes its stage fail with not_configured when requested;
// a nil Bugfix or PR collaborator skips the stage instead.
type Deps struct {
	Projects   ProjectResolver
	Codegen    CodegenRunner
	Tests      TestRunner
	Smoke      SmokeRunner
	Diffs      DiffSource
	Governance GovernanceEvaluator
	Bugfix     BugfixInvoker
	PR         PRPreparer
}
