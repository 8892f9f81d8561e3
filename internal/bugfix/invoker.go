package bugfix

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/fyrsmithlabs/autopilot/internal/logging"
	"github.com/fyrsmithlabs/autopilot/internal/secrets"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
	"go.uber.org/zap"
)

// DefaultTimeout bounds one suggestion request.
const DefaultTimeout = 2 * time.Minute

// DefaultMaxOutput is the tail of stdout and stderr forwarded to the
// suggester.
const DefaultMaxOutput = 8 * 1024

// Failure is the failed test run handed to a Suggester. Output is already
// bounded and scrubbed.
type Failure struct {
	Command      string   `json:"command"`
	ExitCode     int      `json:"exit_code"`
	TimedOut     bool     `json:"timed_out,omitempty"`
	Stdout       string   `json:"stdout"`
	Stderr       string   `json:"stderr"`
	ChangedFiles []string `json:"changed_files,omitempty"`
	Stack        string   `json:"stack,omitempty"`
}

// Suggester produces a fix suggestion for a failed test run.
type Suggester interface {
	Suggest(ctx context.Context, f Failure) (*workflow.BugfixSuggestion, error)
}

// Input is what the orchestrator knows when the bugfix stage is reached.
type Input struct {
	Tests        workflow.StageResult
	Flags        workflow.Flags
	ChangedFiles []string
	Stack        string
}

// Invoker runs the bugfix stage.
type Invoker struct {
	suggester Suggester
	scrubber  *secrets.Scrubber
	timeout   time.Duration
	maxOutput int
	logger    *logging.Logger
	now       func() time.Time
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithTimeout bounds each suggestion request.
func WithTimeout(d time.Duration) Option {
	return func(i *Invoker) {
		if d > 0 {
			i.timeout = d
		}
	}
}

// WithMaxOutput sets how much of each output stream is forwarded.
func WithMaxOutput(n int) Option {
	return func(i *Invoker) {
		if n > 0 {
			i.maxOutput = n
		}
	}
}

// WithScrubber replaces the default secret scrubber.
func WithScrubber(s *secrets.Scrubber) Option {
	return func(i *Invoker) { i.scrubber = s }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(i *Invoker) { i.logger = l }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Invoker) { i.now = now }
}

// NewInvoker creates an Invoker. A nil suggester is allowed; requested
// suggestions are then recorded as not configured.
func NewInvoker(s Suggester, opts ...Option) *Invoker {
	i := &Invoker{
		suggester: s,
		scrubber:  secrets.MustNew(secrets.DefaultConfig()),
		timeout:   DefaultTimeout,
		maxOutput: DefaultMaxOutput,
		logger:    logging.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// MaybeInvoke requests a suggestion when the test stage ran and failed and
// the request asked for one. The returned stage record is never a failure:
// collaborator errors leave the stage skipped with the error recorded, so
// the run status is not affected. The suggestion is nil unless the stage
// passed.
func (i *Invoker) MaybeInvoke(ctx context.Context, in Input) (workflow.StageResult, *workflow.BugfixSuggestion) {
	switch {
	case !in.Flags.RunBugfix:
		return workflow.Skip(workflow.StageBugfix, workflow.ReasonFlagDisabled), nil
	case in.Flags.DryRun:
		return workflow.Skip(workflow.StageBugfix, workflow.ReasonDryRun), nil
	case !in.Tests.Failed():
		return workflow.Skip(workflow.StageBugfix, workflow.ReasonNotApplicable), nil
	case i.suggester == nil:
		res := workflow.Skip(workflow.StageBugfix, workflow.ReasonNotConfigured)
		res.Error = "no fix-suggestion collaborator configured"
		return res, nil
	}

	ctx = logging.WithStage(ctx, string(workflow.StageBugfix))
	started := i.now()
	failure := i.failure(in)

	callCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	suggestion, err := i.suggester.Suggest(callCtx, failure)
	if err == nil && suggestion == nil {
		err = errors.New("suggester returned no suggestion")
	}

	finished := i.now()
	if err != nil {
		reason := workflow.ReasonCollaboratorError
		if ctx.Err() != nil {
			reason = workflow.ReasonCancelled
		}
		i.logger.Warn(ctx, "bugfix suggestion unavailable", zap.Error(err))
		res := workflow.Skip(workflow.StageBugfix, reason)
		res.Error = fmt.Sprintf("fix suggestion failed: %v", err)
		res.StartedAt, res.FinishedAt, res.Duration = started, finished, finished.Sub(started)
		return res, nil
	}

	if suggestion.CreatedAt.IsZero() {
		suggestion.CreatedAt = finished
	}
	i.logger.Info(ctx, "bugfix suggestion received",
		zap.Bool("has_patch", suggestion.Patch != ""),
		zap.String("model", suggestion.Model))

	return workflow.StageResult{
		Name:       workflow.StageBugfix,
		Passed:     true,
		Command:    failure.Command,
		StartedAt:  started,
		FinishedAt: finished,
		Duration:   finished.Sub(started),
	}, suggestion
}

func (i *Invoker) failure(in Input) Failure {
	return Failure{
		Command:      in.Tests.Command,
		ExitCode:     in.Tests.ExitCode,
		TimedOut:     in.Tests.TimedOut,
		Stdout:       i.scrubber.String(tail(in.Tests.Stdout, i.maxOutput)),
		Stderr:       i.scrubber.String(tail(in.Tests.Stderr, i.maxOutput)),
		ChangedFiles: in.ChangedFiles,
		Stack:        in.Stack,
	}
}

// tail returns at most the last n bytes of s, starting on a rune boundary.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := len(s) - n
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}
