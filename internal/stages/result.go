package stages

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/autopilot/internal/process"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

// fromProcess fills a stage result from a finished process.
func fromProcess(name workflow.StageName, command string, res *process.Result, started time.Time) workflow.StageResult {
	out := workflow.StageResult{
		Name:       name,
		Command:    command,
		ExitCode:   -1,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	out.Duration = out.FinishedAt.Sub(started)
	if res != nil {
		out.ExitCode = res.ExitCode
		out.Stdout = res.Stdout
		out.Stderr = res.Stderr
		out.TimedOut = res.TimedOut
		out.Truncated = res.Truncated
	}
	return out
}

// failureReason maps a runner error to a stage reason.
func failureReason(err error) workflow.Reason {
	switch {
	case errors.Is(err, process.ErrCommandNotFound):
		return workflow.ReasonCommandNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return workflow.ReasonCancelled
	}
	return workflow.ReasonCollaboratorError
}
