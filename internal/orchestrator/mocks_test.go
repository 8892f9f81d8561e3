package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fyrsmithlabs/autopilot/internal/bugfix"
	"github.com/fyrsmithlabs/autopilot/internal/governance"
	"github.com/fyrsmithlabs/autopilot/internal/project"
	"github.com/fyrsmithlabs/autopilot/internal/stages"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
	"github.com/stretchr/testify/mock"
)

type fakeProjects map[string]*project.Project

func (f fakeProjects) Resolve(_ context.Context, id string) (*project.Project, error) {
	p, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", project.ErrProjectNotFound, id)
	}
	return p, nil
}

type mockCodegen struct {
	mock.Mock
}

func (m *mockCodegen) Run(ctx context.Context, p *project.Project, contractRef string) workflow.StageResult {
	args := m.Called(ctx, p, contractRef)
	return args.Get(0).(workflow.StageResult)
}

type mockTests struct {
	mock.Mock
}

func (m *mockTests) Run(ctx context.Context, p *project.Project, timeout time.Duration) workflow.StageResult {
	args := m.Called(ctx, p, timeout)
	return args.Get(0).(workflow.StageResult)
}

type mockSmoke struct {
	mock.Mock
}

func (m *mockSmoke) Run(ctx context.Context, p *project.Project, opts stages.SmokeOptions) workflow.StageResult {
	args := m.Called(ctx, p, opts)
	return args.Get(0).(workflow.StageResult)
}

type mockDiffs struct {
	mock.Mock
}

func (m *mockDiffs) Diff(ctx context.Context, dir, base string) (string, error) {
	args := m.Called(ctx, dir, base)
	return args.String(0), args.Error(1)
}

func (m *mockDiffs) ChangedFiles(ctx context.Context, dir, base string) ([]string, error) {
	args := m.Called(ctx, dir, base)
	files, _ := args.Get(0).([]string)
	return files, args.Error(1)
}

type mockGovernance struct {
	mock.Mock
}

func (m *mockGovernance) Evaluate(ctx context.Context, diffText string, policy governance.Policy) (*governance.Result, error) {
	args := m.Called(ctx, diffText, policy)
	res, _ := args.Get(0).(*governance.Result)
	return res, args.Error(1)
}

type mockBugfix struct {
	mock.Mock
}

func (m *mockBugfix) MaybeInvoke(ctx context.Context, in bugfix.Input) (workflow.StageResult, *workflow.BugfixSuggestion) {
	args := m.Called(ctx, in)
	s, _ := args.Get(1).(*workflow.BugfixSuggestion)
	return args.Get(0).(workflow.StageResult), s
}

type mockPR struct {
	mock.Mock
}

func (m *mockPR) Prepare(ctx context.Context, p *project.Project, rec workflow.Record) (workflow.PRResult, error) {
	args := m.Called(ctx, p, rec)
	return args.Get(0).(workflow.PRResult), args.Error(1)
}

// harness bundles mocked collaborators around one registered project.
type harness struct {
	project    *project.Project
	codegen    *mockCodegen
	tests      *mockTests
	smoke      *mockSmoke
	diffs      *mockDiffs
	governance *mockGovernance
	bugfix     *mockBugfix
	pr         *mockPR
}

func newHarness() *harness {
	return &harness{
		project: &project.Project{
			ID:   "demo",
			Path: "/srv/demo",
			Config: project.Config{
				Stack: project.StackGo,
			},
			Registered: true,
		},
		codegen:    &mockCodegen{},
		tests:      &mockTests{},
		smoke:      &mockSmoke{},
		diffs:      &mockDiffs{},
		governance: &mockGovernance{},
		bugfix:     &mockBugfix{},
		pr:         &mockPR{},
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Projects:   fakeProjects{h.project.ID: h.project},
		Codegen:    h.codegen,
		Tests:      h.tests,
		Smoke:      h.smoke,
		Diffs:      h.diffs,
		Governance: h.governance,
		Bugfix:     h.bugfix,
		PR:         h.pr,
	}
}

func (h *harness) assertExpectations(t mock.TestingT) {
	h.codegen.AssertExpectations(t)
	h.tests.AssertExpectations(t)
	h.smoke.AssertExpectations(t)
	h.diffs.AssertExpectations(t)
	h.governance.AssertExpectations(t)
	h.bugfix.AssertExpectations(t)
	h.pr.AssertExpectations(t)
}

func passed(name workflow.StageName) workflow.StageResult {
	return workflow.StageResult{Name: name, Passed: true, Duration: time.Second}
}

func failed(name workflow.StageName, reason workflow.Reason) workflow.StageResult {
	return workflow.StageResult{Name: name, Reason: reason, ExitCode: 1, Stderr: "boom", Duration: time.Second}
}

func featureRequest(flags workflow.Flags) workflow.Request {
	return workflow.Request{
		Type:        workflow.TypeFeature,
		ProjectID:   "demo",
		ContractRef: "contracts/orders.yaml",
		Flags:       flags,
	}
}

func allFlags() workflow.Flags {
	return workflow.Flags{
		RunCodegen: true,
		RunTests:   true,
		RunSmoke:   true,
		RunBugfix:  true,
		CreatePR:   true,
	}
}

func stageOf(t *testing.T, rec workflow.Record, name workflow.StageName) workflow.StageResult {
	t.Helper()
	s, ok := rec.Stage(name)
	if !ok {
		t.Fatalf("stage %s not recorded", name)
	}
	return s
}

const envDiff = `diff --git a/.env b/.env
new file mode 100644
index 0000000..1111111
--- /dev/null
+++ b/.env
@@ -0,0 +1 @@
+TOKEN=x
`
