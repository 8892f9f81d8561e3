package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/autopilot/internal/bugfix"
	"github.com/fyrsmithlabs/autopilot/internal/config"
	"github.com/fyrsmithlabs/autopilot/internal/governance"
	"github.com/fyrsmithlabs/autopilot/internal/project"
	"github.com/fyrsmithlabs/autopilot/internal/stages"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var anyArg = mock.Anything

func newOrchestrator(t *testing.T, deps Deps, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(deps, opts...)
	require.NoError(t, err)
	return o
}

func TestNew_RequiresProjects(t *testing.T) {
	_, err := New(Deps{})
	assert.ErrorIs(t, err, ErrNoProjectResolver)
}

func TestRun_FeatureHappyPath(t *testing.T) {
	h := newHarness()
	h.codegen.On("Run", anyArg, h.project, "contracts/orders.yaml").Return(passed(workflow.StageCodegen))
	h.tests.On("Run", anyArg, h.project, time.Duration(0)).Return(passed(workflow.StageTests))
	h.smoke.On("Run", anyArg, h.project, stages.SmokeOptions{}).Return(passed(workflow.StageSmoke))
	h.diffs.On("Diff", anyArg, "/srv/demo", "main").Return("", nil)
	h.governance.On("Evaluate", anyArg, "", governance.Policy{}).Return(&governance.Result{OK: true}, nil)
	h.pr.On("Prepare", anyArg, h.project, mock.MatchedBy(func(rec workflow.Record) bool {
		gov, ok := rec.Stage(workflow.StageGovernance)
		return ok && gov.Passed && rec.State == workflow.StatePRPrep
	})).Return(workflow.PRResult{Outcome: workflow.PRCreated, Number: 7, URL: "https://github.com/acme/demo/pull/7"}, nil)

	rec, err := newOrchestrator(t, h.deps()).Run(context.Background(), featureRequest(allFlags()))
	require.NoError(t, err)

	assert.Equal(t, workflow.StateTerminal, rec.State)
	assert.Equal(t, workflow.StatusSuccess, rec.Status)
	assert.True(t, rec.ReadyForPR)
	require.Len(t, rec.Stages, len(workflow.StageOrder))
	for i, name := range workflow.StageOrder {
		assert.Equal(t, name, rec.Stages[i].Name)
	}
	bf := stageOf(t, rec, workflow.StageBugfix)
	assert.True(t, bf.Skipped)
	assert.Equal(t, workflow.ReasonNotApplicable, bf.Reason)
	require.NotNil(t, rec.PR)
	assert.Equal(t, 7, rec.PR.Number)
	require.NotNil(t, rec.TestsPassed)
	assert.True(t, *rec.TestsPassed)
	require.NotNil(t, rec.GovernanceOK)
	assert.True(t, *rec.GovernanceOK)
	assert.Equal(t, "all executed stages passed", rec.Message)
	assert.Empty(t, rec.Error)
	h.assertExpectations(t)
}

func TestRun_TestsFailTriggersBugfix(t *testing.T) {
	h := newHarness()
	testsRes := failed(workflow.StageTests, workflow.ReasonNonzeroExit)
	suggestion := &workflow.BugfixSuggestion{Summary: "off by one", Patch: "--- a/x\n+++ b/x\n"}

	h.tests.On("Run", anyArg, h.project, time.Duration(0)).Return(testsRes)
	h.diffs.On("ChangedFiles", anyArg, "/srv/demo", "main").Return([]string{"calc.go"}, nil)
	h.bugfix.On("MaybeInvoke", anyArg, mock.MatchedBy(func(in bugfix.Input) bool {
		return in.Tests.Failed() && len(in.ChangedFiles) == 1 && in.Stack == "go"
	})).Return(workflow.StageResult{Name: workflow.StageBugfix, Passed: true}, suggestion)

	req := workflow.Request{
		Type:      workflow.TypeBugfix,
		ProjectID: "demo",
		Flags:     workflow.Flags{RunTests: true, RunBugfix: true, RunSmoke: true, CreatePR: true},
	}
	rec, err := newOrchestrator(t, h.deps()).Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusFailedTests, rec.Status)
	assert.False(t, rec.ReadyForPR)
	assert.Equal(t, workflow.ReasonNotApplicable, stageOf(t, rec, workflow.StageCodegen).Reason)
	for _, name := range []workflow.StageName{workflow.StageSmoke, workflow.StageGovernance, workflow.StagePRPrep} {
		s := stageOf(t, rec, name)
		assert.True(t, s.Skipped, name)
		assert.Equal(t, workflow.ReasonTestsFailed, s.Reason, name)
	}
	require.NotNil(t, rec.Bugfix)
	assert.Equal(t, "off by one", rec.Bugfix.Summary)
	require.NotNil(t, rec.TestsPassed)
	assert.False(t, *rec.TestsPassed)
	assert.Nil(t, rec.SmokePassed)
	assert.Equal(t, "tests stage failed (nonzero_exit)", rec.Message)
	h.assertExpectations(t)
}

func TestRun_DryRunExecutesNothing(t *testing.T) {
	h := newHarness()
	flags := allFlags()
	flags.DryRun = true
	flags.RunGovernance = true

	rec, err := newOrchestrator(t, h.deps()).Run(context.Background(), featureRequest(flags))
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusSuccess, rec.Status)
	assert.False(t, rec.ReadyForPR)
	require.Len(t, rec.Stages, len(workflow.StageOrder))
	for _, s := range rec.Stages {
		assert.True(t, s.Skipped, s.Name)
		assert.Equal(t, workflow.ReasonDryRun, s.Reason, s.Name)
	}
	assert.Nil(t, rec.TestsPassed)
	assert.Nil(t, rec.PR)
	h.assertExpectations(t)
}

func TestRun_SmokeFailure(t *testing.T) {
	h := newHarness()
	h.tests.On("Run", anyArg, h.project, time.Duration(0)).Return(passed(workflow.StageTests))
	h.smoke.On("Run", anyArg, h.project, stages.SmokeOptions{StartupWait: 3 * time.Second, HealthPath: "/ready"}).
		Return(failed(workflow.StageSmoke, workflow.ReasonProbeFailed))

	req := featureRequest(workflow.Flags{RunTests: true, RunSmoke: true, CreatePR: true})
	req.Timeouts.Smoke = config.Duration(3 * time.Second)
	req.SmokeHealthPath = "/ready"

	rec, err := newOrchestrator(t, h.deps()).Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusFailedSmoke, rec.Status)
	assert.Equal(t, workflow.ReasonSmokeFailed, stageOf(t, rec, workflow.StageGovernance).Reason)
	assert.Equal(t, workflow.ReasonSmokeFailed, stageOf(t, rec, workflow.StagePRPrep).Reason)
	h.assertExpectations(t)
}

func TestRun_GovernanceViolationBlocksPR(t *testing.T) {
	h := newHarness()
	violations := []workflow.Violation{{Rule: governance.RuleForbiddenPath, Severity: workflow.SeverityError, Path: ".env", Message: "forbidden"}}
	h.diffs.On("Diff", anyArg, "/srv/demo", "main").Return(envDiff, nil)
	h.governance.On("Evaluate", anyArg, envDiff, governance.Policy{}).Return(&governance.Result{OK: false, Violations: violations}, nil)

	rec, err := newOrchestrator(t, h.deps()).Run(context.Background(), featureRequest(workflow.Flags{CreatePR: true}))
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusFailedGovernance, rec.Status)
	gov := stageOf(t, rec, workflow.StageGovernance)
	assert.Equal(t, workflow.ReasonPolicyViolation, gov.Reason)
	assert.Equal(t, "1 governance violation(s)", gov.Error)
	assert.Equal(t, violations, rec.Violations)
	assert.Equal(t, workflow.ReasonGovernanceFailed, stageOf(t, rec, workflow.StagePRPrep).Reason)
	assert.False(t, rec.ReadyForPR)
	h.assertExpectations(t)
}

func TestRun_GovernanceWithRealEvaluator(t *testing.T) {
	h := newHarness()
	h.diffs.On("Diff", anyArg, "/srv/demo", "main").Return(envDiff, nil)
	deps := h.deps()
	deps.Governance = governance.NewEvaluator()

	rec, err := newOrchestrator(t, deps).Run(context.Background(), featureRequest(workflow.Flags{RunGovernance: true}))
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusFailedGovernance, rec.Status)
	require.NotEmpty(t, rec.Violations)
	assert.Equal(t, ".env", rec.Violations[0].Path)
	assert.Equal(t, workflow.ReasonFlagDisabled, stageOf(t, rec, workflow.StagePRPrep).Reason)
}

func TestRun_DiffUnavailableSkipsGovernanceAndPR(t *testing.T) {
	h := newHarness()
	h.diffs.On("Diff", anyArg, "/srv/demo", "main").Return("", errors.New("not a git repository"))

	rec, err := newOrchestrator(t, h.deps()).Run(context.Background(), featureRequest(workflow.Flags{CreatePR: true}))
	require.NoError(t, err)

	gov := stageOf(t, rec, workflow.StageGovernance)
	assert.True(t, gov.Skipped)
	assert.Equal(t, workflow.ReasonCollaboratorError, gov.Reason)
	assert.Contains(t, gov.Error, "not a git repository")
	pr := stageOf(t, rec, workflow.StagePRPrep)
	assert.True(t, pr.Skipped)
	assert.Equal(t, workflow.ReasonCollaboratorError, pr.Reason)
	assert.Equal(t, workflow.StatusSuccess, rec.Status)
	assert.Contains(t, rec.Error, "governance: collect diff")
	h.assertExpectations(t)
}

func TestRun_PRFailureDoesNotAffectStatus(t *testing.T) {
	h := newHarness()
	h.diffs.On("Diff", anyArg, "/srv/demo", "main").Return("", nil)
	h.governance.On("Evaluate", anyArg, "", governance.Policy{}).Return(&governance.Result{OK: true}, nil)
	h.pr.On("Prepare", anyArg, h.project, anyArg).Return(workflow.PRResult{}, errors.New("github unavailable"))

	rec, err := newOrchestrator(t, h.deps()).Run(context.Background(), featureRequest(workflow.Flags{CreatePR: true}))
	require.NoError(t, err)

	pr := stageOf(t, rec, workflow.StagePRPrep)
	assert.True(t, pr.Skipped)
	assert.Equal(t, workflow.ReasonCollaboratorError, pr.Reason)
	assert.Equal(t, "github unavailable", pr.Error)
	assert.Equal(t, workflow.StatusSuccess, rec.Status)
	assert.Nil(t, rec.PR)
	assert.Equal(t, "pr_prep: github unavailable", rec.Error)
}

func TestRun_CodegenFailureIsError(t *testing.T) {
	h := newHarness()
	h.codegen.On("Run", anyArg, h.project, "contracts/orders.yaml").Return(failed(workflow.StageCodegen, workflow.ReasonNonzeroExit))

	rec, err := newOrchestrator(t, h.deps()).Run(context.Background(), featureRequest(allFlags()))
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusError, rec.Status)
	for _, name := range []workflow.StageName{workflow.StageTests, workflow.StageSmoke, workflow.StageGovernance, workflow.StagePRPrep} {
		assert.Equal(t, workflow.ReasonCodegenFailed, stageOf(t, rec, name).Reason, name)
	}
	assert.Equal(t, workflow.ReasonNotApplicable, stageOf(t, rec, workflow.StageBugfix).Reason)
	h.assertExpectations(t)
}

func TestRun_MissingCommandIsError(t *testing.T) {
	h := newHarness()
	res := workflow.StageResult{Name: workflow.StageTests, Reason: workflow.ReasonCommandNotFound, ExitCode: 127}
	h.tests.On("Run", anyArg, h.project, time.Duration(0)).Return(res)

	rec, err := newOrchestrator(t, h.deps()).Run(context.Background(), featureRequest(workflow.Flags{RunTests: true}))
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusError, rec.Status)
}

func TestRun_NilCollaboratorIsNotConfigured(t *testing.T) {
	h := newHarness()
	deps := h.deps()
	deps.Smoke = nil

	rec, err := newOrchestrator(t, deps).Run(context.Background(), featureRequest(workflow.Flags{RunSmoke: true}))
	require.NoError(t, err)
	smoke := stageOf(t, rec, workflow.StageSmoke)
	assert.False(t, smoke.Skipped)
	assert.Equal(t, workflow.ReasonNotConfigured, smoke.Reason)
	assert.Equal(t, workflow.StatusError, rec.Status)
}

func TestRun_AllFlagsOff(t *testing.T) {
	h := newHarness()
	rec, err := newOrchestrator(t, h.deps()).Run(context.Background(), featureRequest(workflow.Flags{}))
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusSuccess, rec.Status)
	assert.Equal(t, "no stages executed", rec.Message)
	for _, s := range rec.Stages {
		assert.True(t, s.Skipped, s.Name)
	}
	assert.Equal(t, workflow.ReasonFlagDisabled, stageOf(t, rec, workflow.StageTests).Reason)
	h.assertExpectations(t)
}

func TestRun_TestTimeoutForwarded(t *testing.T) {
	h := newHarness()
	h.tests.On("Run", anyArg, h.project, 90*time.Second).Return(passed(workflow.StageTests))

	req := featureRequest(workflow.Flags{RunTests: true})
	req.Timeouts.Test = config.Duration(90 * time.Second)
	_, err := newOrchestrator(t, h.deps()).Run(context.Background(), req)
	require.NoError(t, err)
	h.assertExpectations(t)
}

func TestAccept_Rejections(t *testing.T) {
	tests := []struct {
		name string
		req  workflow.Request
	}{
		{
			name: "feature without contract",
			req:  workflow.Request{Type: workflow.TypeFeature, ProjectID: "demo"},
		},
		{
			name: "bugfix with contract",
			req:  workflow.Request{Type: workflow.TypeBugfix, ProjectID: "demo", ContractRef: "c.yaml"},
		},
		{
			name: "unknown type",
			req:  workflow.Request{Type: "refactor", ProjectID: "demo"},
		},
		{
			name: "unknown project",
			req:  workflow.Request{Type: workflow.TypeBugfix, ProjectID: "ghost"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			o := newOrchestrator(t, h.deps())

			job, err := o.Accept(context.Background(), tt.req)
			require.Error(t, err)
			require.NotNil(t, job)
			assert.Nil(t, job.Project)

			rec := job.Run.Snapshot()
			assert.Equal(t, workflow.StateTerminal, rec.State)
			assert.Equal(t, workflow.StatusError, rec.Status)
			assert.Equal(t, err.Error(), rec.Error)
			require.Len(t, rec.Stages, len(workflow.StageOrder))
			for _, s := range rec.Stages {
				assert.Equal(t, workflow.ReasonNotApplicable, s.Reason)
			}

			// Executing a rejected job returns it unchanged.
			again := o.Execute(context.Background(), job)
			assert.Equal(t, rec, again)
			h.assertExpectations(t)
		})
	}
}

func TestAccept_UnknownProjectError(t *testing.T) {
	h := newHarness()
	_, err := newOrchestrator(t, h.deps()).Run(context.Background(), workflow.Request{Type: workflow.TypeBugfix, ProjectID: "ghost"})
	assert.ErrorIs(t, err, project.ErrProjectNotFound)
}

func TestAccept_DistinctIDs(t *testing.T) {
	h := newHarness()
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	o := newOrchestrator(t, h.deps(), WithClock(func() time.Time { return fixed }))

	req := workflow.Request{Type: workflow.TypeBugfix, ProjectID: "demo"}
	a, err := o.Accept(context.Background(), req)
	require.NoError(t, err)
	b, err := o.Accept(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, a.Run.ID(), b.Run.ID())
	assert.Equal(t, "main", a.Run.Request().PR.Base)
}

// blockUntilDone makes a mocked stage wait for cancellation and report it.
func blockUntilDone(started chan<- struct{}) func(mock.Arguments) {
	var once sync.Once
	return func(args mock.Arguments) {
		once.Do(func() { close(started) })
		<-args.Get(0).(context.Context).Done()
	}
}

func TestExecute_CancelStopsRun(t *testing.T) {
	h := newHarness()
	started := make(chan struct{})
	h.tests.On("Run", anyArg, h.project, time.Duration(0)).
		Run(blockUntilDone(started)).
		Return(workflow.StageResult{Name: workflow.StageTests, Reason: workflow.ReasonCancelled, ExitCode: -1})

	o := newOrchestrator(t, h.deps())
	job, err := o.Accept(context.Background(), featureRequest(workflow.Flags{RunTests: true, RunSmoke: true, CreatePR: true}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan workflow.Record, 1)
	go func() { done <- o.Execute(ctx, job) }()

	<-started
	cancel()
	var rec workflow.Record
	select {
	case rec = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}

	assert.Equal(t, workflow.StatusError, rec.Status)
	assert.Equal(t, "workflow run cancelled", rec.Message)
	for _, name := range []workflow.StageName{workflow.StageBugfix, workflow.StageSmoke, workflow.StageGovernance, workflow.StagePRPrep} {
		s := stageOf(t, rec, name)
		assert.True(t, s.Skipped, name)
		assert.Equal(t, workflow.ReasonCancelled, s.Reason, name)
	}
	h.smoke.AssertNotCalled(t, "Run", anyArg, anyArg, anyArg)
}

func TestExecute_RunTimeout(t *testing.T) {
	h := newHarness()
	started := make(chan struct{})
	h.tests.On("Run", anyArg, h.project, time.Duration(0)).
		Run(blockUntilDone(started)).
		Return(workflow.StageResult{Name: workflow.StageTests, Reason: workflow.ReasonCancelled, ExitCode: -1})

	req := featureRequest(workflow.Flags{RunTests: true})
	req.Timeouts.Run = config.Duration(50 * time.Millisecond)
	rec, err := newOrchestrator(t, h.deps(), WithRunTimeout(time.Hour)).Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusError, rec.Status)
}

func TestExecute_Progress(t *testing.T) {
	h := newHarness()
	h.tests.On("Run", anyArg, h.project, time.Duration(0)).Return(passed(workflow.StageTests))

	var events []StageProgress
	rec, err := newOrchestrator(t, h.deps()).Run(context.Background(),
		featureRequest(workflow.Flags{RunTests: true}),
		WithProgress(func(p StageProgress) { events = append(events, p) }))
	require.NoError(t, err)

	// One started event for the executed stage plus one settled event per stage.
	require.Len(t, events, len(workflow.StageOrder)+1)
	assert.Equal(t, workflow.StageCodegen, events[0].Stage)
	assert.Equal(t, "skipped", events[0].Outcome)
	assert.Equal(t, StageProgress{RunID: rec.ID, Stage: workflow.StageTests, Outcome: OutcomeStarted, Percentage: 16}, events[1])
	assert.Equal(t, "passed", events[2].Outcome)
	assert.Equal(t, 100, events[len(events)-1].Percentage)
	assert.Equal(t, workflow.StagePRPrep, events[len(events)-1].Stage)
}

func TestExecute_StateMachine(t *testing.T) {
	h := newHarness()
	var states []workflow.State
	o := newOrchestrator(t, h.deps())
	job, err := o.Accept(context.Background(), featureRequest(workflow.Flags{RunTests: true, RunSmoke: true}))
	require.NoError(t, err)

	h.tests.On("Run", anyArg, h.project, time.Duration(0)).
		Run(func(mock.Arguments) { states = append(states, job.Run.State()) }).
		Return(passed(workflow.StageTests))
	h.smoke.On("Run", anyArg, h.project, stages.SmokeOptions{}).
		Run(func(mock.Arguments) { states = append(states, job.Run.State()) }).
		Return(passed(workflow.StageSmoke))

	rec := o.Execute(context.Background(), job)
	assert.Equal(t, []workflow.State{workflow.StateTesting, workflow.StateSmoke}, states)
	assert.Equal(t, workflow.StateTerminal, rec.State)
	assert.False(t, rec.FinishedAt.IsZero())

	select {
	case <-job.Run.Done():
	default:
		t.Fatal("done channel not closed")
	}
}
