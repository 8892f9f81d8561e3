package orchestrator

import "github.com/fyrsmithlabs/autopilot/internal/workflow"

// StageProgress reports a stage starting or finishing.
type StageProgress struct {
	RunID   string             `json:"run_id"`
	Stage   workflow.StageName `json:"stage"`
	Outcome string             `json:"outcome"`
	Reason  workflow.Reason    `json:"reason,omitempty"`
	// Percentage of stages settled, 0-100.
	Percentage int `json:"percentage"`
}

// Outcome values besides those of workflow.StageResult.Outcome.
const OutcomeStarted = "started"

// ProgressFunc receives stage progress. It is called synchronously from the
// run goroutine and must not block.
type ProgressFunc func(StageProgress)

// ExecOption configures a single Execute call.
type ExecOption func(*execOptions)

type execOptions struct {
	progress ProgressFunc
}

// WithProgress registers a progress callback for one run.
func WithProgress(fn ProgressFunc) ExecOption {
	return func(o *execOptions) {
		o.progress = fn
	}
}
