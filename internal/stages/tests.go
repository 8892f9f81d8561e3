package stages

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/autopilot/internal/logging"
	"github.com/fyrsmithlabs/autopilot/internal/process"
	"github.com/fyrsmithlabs/autopilot/internal/project"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
	"go.uber.org/zap"
)

// DefaultTestTimeout bounds a test run when neither the request nor the
// engine configuration sets one.
const DefaultTestTimeout = 5 * time.Minute

// TestStageRunner runs a project's test command.
type TestStageRunner struct {
	runner  *process.Runner
	timeout time.Duration
	logger  *logging.Logger
}

// NewTestStageRunner creates a TestStageRunner. timeout <= 0 selects
// DefaultTestTimeout.
func NewTestStageRunner(runner *process.Runner, timeout time.Duration, logger *logging.Logger) *TestStageRunner {
	if timeout <= 0 {
		timeout = DefaultTestTimeout
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &TestStageRunner{runner: runner, timeout: timeout, logger: logger}
}

// Run executes the test command in the project directory. timeout overrides
// the runner default when positive. The stage passes only on exit 0 within
// the timeout.
//
// Exit status 127 is read as the shell failing to resolve the command, so a
// test script that itself exits 127 is reported as command_not_found and
// ends the workflow in ERROR rather than FAILED_TESTS.
func (r *TestStageRunner) Run(ctx context.Context, p *project.Project, timeout time.Duration) workflow.StageResult {
	if timeout <= 0 {
		timeout = r.timeout
	}
	started := time.Now()

	command := p.TestCommand()
	if command == "" {
		res := workflow.StageResult{Name: workflow.StageTests, ExitCode: -1, Reason: workflow.ReasonNotConfigured, StartedAt: started, FinishedAt: started}
		res.Error = "no test command configured and stack " + string(p.Config.Stack) + " has no default"
		return res
	}

	ctx = logging.WithStage(ctx, string(workflow.StageTests))
	r.logger.Info(ctx, "running tests", zap.String("command", command), zap.Duration("timeout", timeout))

	pres, err := r.runner.Run(ctx, process.Command{
		Args:    process.Shell(command),
		Dir:     p.Path,
		Env:     p.Config.Runtime.Env,
		Timeout: timeout,
	})
	res := fromProcess(workflow.StageTests, command, pres, started)

	switch {
	case err != nil:
		res.Reason = failureReason(err)
		res.Error = err.Error()
	case pres.TimedOut:
		res.Reason = workflow.ReasonTimeout
	case pres.ExitCode != 0:
		res.Reason = workflow.ReasonNonzeroExit
	default:
		res.Passed = true
	}

	r.logger.Info(ctx, "tests finished",
		zap.Bool("passed", res.Passed),
		zap.Int("exit_code", res.ExitCode),
		zap.String("reason", string(res.Reason)),
		zap.Duration("duration", res.Duration))
	return res
}
