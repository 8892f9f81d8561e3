//go:build unix

package stages

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/autopilot/internal/project"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
	"github.com/stretchr/testify/assert"
)

func codegenProject(t *testing.T, command string) *project.Project {
	return &project.Project{
		ID:     "demo",
		Path:   t.TempDir(),
		Config: project.Config{Runtime: project.Runtime{Codegen: command, Env: map[string]string{"APP_ENV": "ci"}}},
	}
}

func TestCodegenStage_PassesContract(t *testing.T) {
	p := codegenProject(t, `test "$AUTOPILOT_CONTRACT" = contracts/login.yaml && test "$APP_ENV" = ci`)
	res := NewCodegenStageRunner(testRunner(), 0, nil).Run(context.Background(), p, "contracts/login.yaml")
	assert.True(t, res.Passed, "stderr=%s", res.Stderr)
	assert.Equal(t, workflow.StageCodegen, res.Name)
	assert.NotContains(t, p.Config.Runtime.Env, ContractEnv)
}

func TestCodegenStage_Failure(t *testing.T) {
	res := NewCodegenStageRunner(testRunner(), 0, nil).Run(context.Background(), codegenProject(t, "exit 4"), "c.yaml")
	assert.False(t, res.Passed)
	assert.Equal(t, workflow.ReasonNonzeroExit, res.Reason)
	assert.Equal(t, 4, res.ExitCode)
}

func TestCodegenStage_NotConfigured(t *testing.T) {
	res := NewCodegenStageRunner(testRunner(), 0, nil).Run(context.Background(), codegenProject(t, ""), "c.yaml")
	assert.False(t, res.Passed)
	assert.False(t, res.Skipped)
	assert.Equal(t, workflow.ReasonNotConfigured, res.Reason)
}
