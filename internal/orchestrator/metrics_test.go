package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/autopilot/internal/logging"
	"github.com/fyrsmithlabs/autopilot/internal/telemetry"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestMetrics_RunsAndStages(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	h := newHarness()
	h.tests.On("Run", anyArg, h.project, time.Duration(0)).Return(failed(workflow.StageTests, workflow.ReasonNonzeroExit))
	o := newOrchestrator(t, h.deps(), WithMetrics(metrics))

	_, err := o.Run(context.Background(), featureRequest(workflow.Flags{RunTests: true}))
	require.NoError(t, err)
	_, err = o.Run(context.Background(), workflow.Request{Type: workflow.TypeFeature, ProjectID: "demo"})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("feature", string(workflow.StatusFailedTests))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("feature", string(workflow.StatusError))))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.active))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.stageDuration, "autopilot_stage_duration_seconds"))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.runStarted()
	m.runFinished(workflow.TypeFeature, workflow.StatusSuccess, true)
	m.observeStage(workflow.StageResult{Name: workflow.StageTests}, time.Second)
}

func TestTracing_RunAndStageSpans(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	h := newHarness()
	h.tests.On("Run", anyArg, h.project, time.Duration(0)).Return(passed(workflow.StageTests))
	o := newOrchestrator(t, h.deps(), WithTracer(tel.Tracer(instrumentationName)))

	_, err := o.Run(context.Background(), featureRequest(workflow.Flags{RunTests: true}))
	require.NoError(t, err)

	tel.AssertSpanExists(t, "workflow.run")
	tel.AssertSpanExists(t, "workflow.stage.tests")
	assert.NotContains(t, tel.SpanNames(), "workflow.stage.smoke")
}

func TestLogging_RunLifecycle(t *testing.T) {
	logs := logging.NewTestLogger()
	h := newHarness()
	o := newOrchestrator(t, h.deps(), WithLogger(logs.Logger))

	rec, err := o.Run(context.Background(), featureRequest(workflow.Flags{}))
	require.NoError(t, err)

	logs.AssertLogged(t, zapcore.InfoLevel, "workflow run started")
	logs.AssertLogged(t, zapcore.InfoLevel, "workflow run finished")
	logs.AssertField(t, "workflow run finished", "status", string(rec.Status))
}
