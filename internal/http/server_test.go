package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/autopilot/internal/governance"
	"github.com/fyrsmithlabs/autopilot/internal/logging"
	"github.com/fyrsmithlabs/autopilot/internal/monitor"
	"github.com/fyrsmithlabs/autopilot/internal/orchestrator"
	"github.com/fyrsmithlabs/autopilot/internal/project"
	"github.com/fyrsmithlabs/autopilot/internal/runs"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

// stubTests passes or fails every test run and can block until released.
type stubTests struct {
	pass    bool
	release chan struct{}
}

func (s *stubTests) Run(ctx context.Context, _ *project.Project, _ time.Duration) workflow.StageResult {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return workflow.StageResult{Name: workflow.StageTests, Reason: workflow.ReasonCancelled, ExitCode: -1}
		}
	}
	if s.pass {
		return workflow.StageResult{Name: workflow.StageTests, Passed: true}
	}
	return workflow.StageResult{Name: workflow.StageTests, Reason: workflow.ReasonNonzeroExit, ExitCode: 1}
}

type testEnv struct {
	server   *Server
	registry *project.Registry
	runs     *runs.Manager
	dir      string
}

func newTestEnv(t *testing.T, tests *stubTests) *testEnv {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "demo")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	registry, err := project.OpenRegistry(filepath.Join(root, "projects.json"))
	require.NoError(t, err)
	resolver := project.NewResolver(registry, root)

	o, err := orchestrator.New(orchestrator.Deps{Projects: resolver, Tests: tests})
	require.NoError(t, err)
	manager := runs.NewManager(o)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})

	reg := prometheus.NewRegistry()
	server, err := NewServer(Deps{
		Runs:     manager,
		Projects: registry,
		Resolver: resolver,
		Metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, logging.NewNop(), nil)
	require.NoError(t, err)
	return &testEnv{server: server, registry: registry, runs: manager, dir: dir}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer(t *testing.T) {
	t.Run("requires services", func(t *testing.T) {
		_, err := NewServer(Deps{}, logging.NewNop(), nil)
		assert.Error(t, err)
	})

	t.Run("requires logger", func(t *testing.T) {
		env := newTestEnv(t, &stubTests{pass: true})
		_, err := NewServer(env.server.deps, nil, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		env := newTestEnv(t, &stubTests{pass: true})
		assert.Equal(t, "127.0.0.1", env.server.config.Host)
		assert.Equal(t, 8600, env.server.config.Port)
	})
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t, &stubTests{pass: true})
	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[HealthResponse](t, rec).Status)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubTests{pass: true})
	rec := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProjects(t *testing.T) {
	env := newTestEnv(t, &stubTests{pass: true})

	rec := env.do(t, http.MethodPost, "/projects/register", RegisterProjectRequest{
		ProjectID: "shop",
		RepoURL:   "https://github.com/acme/shop",
		Metadata:  map[string]any{"team": "payments"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "shop", decode[ProjectResponse](t, rec).ProjectID)

	rec = env.do(t, http.MethodPost, "/projects/register", RegisterProjectRequest{ProjectID: "shop"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/projects/register", RegisterProjectRequest{ProjectID: "bad/id"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/projects", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]project.Entry](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "payments", entries[0].Metadata["team"])

	rec = env.do(t, http.MethodDelete, "/projects/shop", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodDelete, "/projects/shop", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartRun_Lifecycle(t *testing.T) {
	tests := &stubTests{pass: true, release: make(chan struct{})}
	env := newTestEnv(t, tests)

	rec := env.do(t, http.MethodPost, "/api/v1/workflows", workflow.Request{
		Type:      workflow.TypeBugfix,
		ProjectID: "demo",
		Flags:     workflow.Flags{RunTests: true},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	started := decode[workflow.Record](t, rec)
	assert.Equal(t, "/api/v1/workflows/"+started.ID, rec.Header().Get("Location"))

	assert.Eventually(t, func() bool {
		list := decode[RunListResponse](t, env.do(t, http.MethodGet, "/api/v1/workflows", nil))
		return len(list.Runs) == 1 && list.Runs[0].State == workflow.StateTesting
	}, 5*time.Second, 10*time.Millisecond)

	close(tests.release)
	assert.Eventually(t, func() bool {
		got := decode[RunResponse](t, env.do(t, http.MethodGet, "/api/v1/workflows/"+started.ID, nil))
		return got.State == workflow.StateTerminal
	}, 5*time.Second, 10*time.Millisecond)

	got := decode[RunResponse](t, env.do(t, http.MethodGet, "/api/v1/workflows/"+started.ID, nil))
	assert.Equal(t, workflow.StatusSuccess, got.Status)

	assert.Eventually(t, func() bool {
		return env.do(t, http.MethodPost, "/api/v1/workflows/"+started.ID+"/cancel", nil).Code == http.StatusConflict
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStartRun_Cancel(t *testing.T) {
	tests := &stubTests{pass: true, release: make(chan struct{})}
	env := newTestEnv(t, tests)

	started := decode[workflow.Record](t, env.do(t, http.MethodPost, "/api/v1/workflows", workflow.Request{
		Type:      workflow.TypeBugfix,
		ProjectID: "demo",
		Flags:     workflow.Flags{RunTests: true},
	}))

	rec := env.do(t, http.MethodPost, "/api/v1/workflows/"+started.ID+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := env.runs.Wait(ctx, started.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusError, final.Status)
}

func TestStartRun_Errors(t *testing.T) {
	env := newTestEnv(t, &stubTests{pass: true})

	rec := env.do(t, http.MethodPost, "/api/v1/workflows", workflow.Request{Type: workflow.TypeFeature, ProjectID: "demo"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/workflows", workflow.Request{Type: workflow.TypeBugfix, ProjectID: "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/workflows/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/workflows/unknown/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLegacyRun(t *testing.T) {
	yes, no := true, false

	t.Run("dry run by default", func(t *testing.T) {
		env := newTestEnv(t, &stubTests{pass: true})
		rec := env.do(t, http.MethodPost, "/workflows/run", LegacyRunRequest{
			WorkflowType: "feature_from_contract",
			ProjectID:    "demo",
			ContractPath: "contracts/x.yaml",
			RunTests:     true,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[LegacyRunResponse](t, rec)
		assert.Equal(t, LegacyAccepted, resp.Status)
		assert.Equal(t, "success", resp.WorkflowStatus)
		assert.Nil(t, resp.TestsPassed)
		assert.True(t, resp.Details.Request.Flags.DryRun)
	})

	t.Run("failing tests", func(t *testing.T) {
		env := newTestEnv(t, &stubTests{pass: false})
		rec := env.do(t, http.MethodPost, "/workflows/run", LegacyRunRequest{
			WorkflowType: "bugfix",
			ProjectID:    "demo",
			ContractPath: "ignored.yaml",
			DryRun:       &no,
			RunTests:     true,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[LegacyRunResponse](t, rec)
		assert.Equal(t, LegacyAccepted, resp.Status)
		assert.Equal(t, "failed_tests", resp.WorkflowStatus)
		require.NotNil(t, resp.TestsPassed)
		assert.False(t, *resp.TestsPassed)
		assert.Nil(t, resp.GovernanceOK)
	})

	t.Run("unsupported type", func(t *testing.T) {
		env := newTestEnv(t, &stubTests{pass: true})
		rec := env.do(t, http.MethodPost, "/workflows/run", LegacyRunRequest{WorkflowType: "refactor", ProjectID: "demo"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("feature without contract", func(t *testing.T) {
		env := newTestEnv(t, &stubTests{pass: true})
		rec := env.do(t, http.MethodPost, "/workflows/run", LegacyRunRequest{WorkflowType: "feature", ProjectID: "demo", DryRun: &yes})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown project is rejected", func(t *testing.T) {
		env := newTestEnv(t, &stubTests{pass: true})
		rec := env.do(t, http.MethodPost, "/workflows/run", LegacyRunRequest{WorkflowType: "bugfix", ProjectID: "ghost"})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[LegacyRunResponse](t, rec)
		assert.Equal(t, LegacyRejected, resp.Status)
		assert.Equal(t, "error", resp.WorkflowStatus)
		assert.NotEmpty(t, resp.WorkflowID)
	})
}

func TestLegacyRunRequest_Defaults(t *testing.T) {
	req, err := LegacyRunRequest{ProjectID: "demo", ContractPath: "c.yaml"}.Request()
	require.NoError(t, err)
	assert.Equal(t, workflow.TypeFeature, req.Type)
	assert.True(t, req.Flags.DryRun)
	assert.Equal(t, 60*time.Second, req.Timeouts.Smoke.Duration())
	assert.Equal(t, "/health", req.SmokeHealthPath)
	assert.Equal(t, "c.yaml", req.ContractRef)
}

const envDiff = `diff --git a/.env b/.env
new file mode 100644
index 0000000..1111111
--- /dev/null
+++ b/.env
@@ -0,0 +1 @@
+TOKEN=x
`

func TestEvaluate(t *testing.T) {
	env := newTestEnv(t, &stubTests{pass: true})

	rec := env.do(t, http.MethodPost, "/api/v1/governance/evaluate", EvaluateRequest{Diff: envDiff})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[governance.Result](t, rec)
	assert.False(t, res.OK)
	require.NotEmpty(t, res.Violations)

	rec = env.do(t, http.MethodPost, "/api/v1/governance/evaluate", EvaluateRequest{Diff: envDiff, ProjectID: "demo"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/governance/evaluate", EvaluateRequest{Diff: envDiff, ProjectID: "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMonitorCheck(t *testing.T) {
	env := newTestEnv(t, &stubTests{pass: true})
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "app.log"), []byte("INFO: up\nERROR: down\n"), 0o600))

	rec := env.do(t, http.MethodPost, "/monitor/check", MonitorCheckRequest{LogPaths: []string{"app.log"}, ProjectID: "demo"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[monitor.Result](t, rec)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, monitor.CodeErrorLine, res.Issues[0].Code)
	assert.Equal(t, 2, res.Issues[0].LineNumber)
	assert.Equal(t, "1 issue(s) found: 1 error(s), 0 warning(s)", res.Summary)

	rec = env.do(t, http.MethodPost, "/monitor/check", MonitorCheckRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
