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

// ContractEnv carries the design contract reference to the codegen command.
const ContractEnv = "AUTOPILOT_CONTRACT"

// DefaultCodegenTimeout bounds a codegen command.
const DefaultCodegenTimeout = 10 * time.Minute

// CodegenStageRunner runs a project's code generation command for a design
// contract.
type CodegenStageRunner struct {
	runner  *process.Runner
	timeout time.Duration
	logger  *logging.Logger
}

// NewCodegenStageRunner creates a CodegenStageRunner.
func NewCodegenStageRunner(runner *process.Runner, timeout time.Duration, logger *logging.Logger) *CodegenStageRunner {
	if timeout <= 0 {
		timeout = DefaultCodegenTimeout
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CodegenStageRunner{runner: runner, timeout: timeout, logger: logger}
}

// Run executes the codegen command with the contract reference in
// AUTOPILOT_CONTRACT.
func (r *CodegenStageRunner) Run(ctx context.Context, p *project.Project, contractRef string) workflow.StageResult {
	started := time.Now()
	command := p.CodegenCommand()
	if command == "" {
		return workflow.StageResult{
			Name:       workflow.StageCodegen,
			ExitCode:   -1,
			Reason:     workflow.ReasonNotConfigured,
			Error:      "no codegen command configured",
			StartedAt:  started,
			FinishedAt: started,
		}
	}

	env := make(map[string]string, len(p.Config.Runtime.Env)+1)
	for k, v := range p.Config.Runtime.Env {
		env[k] = v
	}
	env[ContractEnv] = contractRef

	ctx = logging.WithStage(ctx, string(workflow.StageCodegen))
	r.logger.Info(ctx, "running codegen", zap.String("command", command), zap.String("contract", contractRef))

	pres, err := r.runner.Run(ctx, process.Command{
		Args:    process.Shell(command),
		Dir:     p.Path,
		Env:     env,
		Timeout: r.timeout,
	})
	res := fromProcess(workflow.StageCodegen, command, pres, started)
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
	r.logger.Info(ctx, "codegen finished", zap.Bool("passed", res.Passed), zap.String("reason", string(res.Reason)))
	return res
}
