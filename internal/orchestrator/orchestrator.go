package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autopilot/internal/bugfix"
	"github.com/fyrsmithlabs/autopilot/internal/logging"
	"github.com/fyrsmithlabs/autopilot/internal/project"
	"github.com/fyrsmithlabs/autopilot/internal/stages"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

const instrumentationName = "github.com/fyrsmithlabs/autopilot/internal/orchestrator"

// ErrNoProjectResolver is returned by New when Deps.Projects is nil.
var ErrNoProjectResolver = errors.New("orchestrator: project resolver is required")

// Orchestrator executes workflow runs.
type Orchestrator struct {
	deps       Deps
	ids        *workflow.IDSource
	metrics    *Metrics
	tracer     trace.Tracer
	logger     *logging.Logger
	runTimeout time.Duration
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracer sets the tracer. The global provider is used by default.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithClock sets the time source for ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRunTimeout bounds a whole run when the request sets no run timeout.
// Zero means unbounded.
func WithRunTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.runTimeout = d
	}
}

// New creates an Orchestrator.
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	if deps.Projects == nil {
		return nil, ErrNoProjectResolver
	}
	o := &Orchestrator{
		deps:   deps,
		tracer: otel.Tracer(instrumentationName),
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.ids = workflow.NewIDSource(o.now)
	return o, nil
}

// Job is an accepted run together with its resolved project.
type Job struct {
	Run     *workflow.Run
	Project *project.Project
}

// Accept validates req, assigns a run id and resolves the project. The
// returned Job is never nil: a rejected request yields a terminal ERROR run
// with every stage skipped, alongside the error.
func (o *Orchestrator) Accept(ctx context.Context, req workflow.Request) (*Job, error) {
	req.Normalize()
	id, at := o.ids.Next(req.ProjectID)
	job := &Job{Run: workflow.NewRun(id, req, at)}

	if err := req.Validate(); err != nil {
		o.reject(ctx, job.Run, err)
		return job, err
	}
	p, err := o.deps.Projects.Resolve(ctx, req.ProjectID)
	if err != nil {
		o.reject(ctx, job.Run, err)
		return job, err
	}
	job.Project = p
	return job, nil
}

func (o *Orchestrator) reject(ctx context.Context, run *workflow.Run, cause error) {
	for _, name := range workflow.StageOrder {
		_ = run.RecordStage(workflow.Skip(name, workflow.ReasonNotApplicable))
	}
	_ = run.Finish(workflow.StatusError, "workflow request rejected", cause.Error(), o.now())

	req := run.Request()
	typ := req.Type
	if typ != workflow.TypeFeature && typ != workflow.TypeBugfix {
		typ = "unknown"
	}
	o.metrics.runFinished(typ, workflow.StatusError, false)
	o.logger.Warn(ctx, "workflow request rejected",
		zap.String("run_id", run.ID()),
		zap.String("project_id", req.ProjectID),
		zap.Error(cause))
}

// Run accepts and executes req synchronously.
func (o *Orchestrator) Run(ctx context.Context, req workflow.Request, opts ...ExecOption) (workflow.Record, error) {
	job, err := o.Accept(ctx, req)
	if err != nil {
		return job.Run.Snapshot(), err
	}
	return o.Execute(ctx, job, opts...), nil
}

// Execute drives an accepted job to TERMINAL and returns the final record.
// Cancelling ctx stops the current stage and skips the rest; the run then
// finishes with ERROR. A job that is already terminal is returned as is.
func (o *Orchestrator) Execute(ctx context.Context, job *Job, opts ...ExecOption) workflow.Record {
	var eo execOptions
	for _, opt := range opts {
		opt(&eo)
	}

	run := job.Run
	if run.State() == workflow.StateTerminal {
		return run.Snapshot()
	}
	req := run.Request()

	if timeout := workflow.TimeoutOr(req.Timeouts.Run, o.runTimeout); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ctx = logging.WithRun(ctx, run.ID(), req.ProjectID)
	ctx, span := o.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.run_id", run.ID()),
		attribute.String("workflow.project_id", req.ProjectID),
		attribute.String("workflow.type", string(req.Type)),
		attribute.Bool("workflow.dry_run", req.Flags.DryRun),
	))
	defer span.End()

	o.metrics.runStarted()
	o.logger.Info(ctx, "workflow run started",
		zap.String("type", string(req.Type)),
		zap.Bool("dry_run", req.Flags.DryRun))

	e := &execution{
		o:        o,
		run:      run,
		project:  job.Project,
		req:      req,
		progress: eo.progress,
	}
	e.execute(ctx)

	snap := run.Snapshot()
	message, errMsg := summarize(snap)
	if err := run.Finish(snap.Status, message, errMsg, o.now()); err != nil {
		o.logger.Warn(ctx, "finish workflow run", zap.Error(err))
	}
	rec := run.Snapshot()

	span.SetAttributes(attribute.String("workflow.status", string(rec.Status)))
	if rec.Status == workflow.StatusSuccess {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, message)
	}
	o.metrics.runFinished(req.Type, rec.Status, true)
	o.logger.Info(ctx, "workflow run finished",
		zap.String("status", string(rec.Status)),
		zap.String("message", message),
		zap.Bool("ready_for_pr", rec.ReadyForPR))
	return rec
}

// execution is the state of one Execute call.
type execution struct {
	o        *Orchestrator
	run      *workflow.Run
	project  *project.Project
	req      workflow.Request
	progress ProgressFunc
	blocked  workflow.Reason
	settled  int
}

func (e *execution) execute(ctx context.Context) {
	e.step(ctx, workflow.StageCodegen, workflow.StateCodegen, e.codegen)
	tests := e.step(ctx, workflow.StageTests, workflow.StateTesting, e.tests)
	e.step(ctx, workflow.StageBugfix, "", func(ctx context.Context) workflow.StageResult {
		return e.bugfix(ctx, tests)
	})
	e.step(ctx, workflow.StageSmoke, workflow.StateSmoke, e.smoke)
	e.step(ctx, workflow.StageGovernance, workflow.StateGovernance, e.governance)
	e.step(ctx, workflow.StagePRPrep, workflow.StatePRPrep, e.prepare)
}

// step gates, runs and records one stage. An empty state leaves the state
// machine where it is.
func (e *execution) step(ctx context.Context, name workflow.StageName, state workflow.State, fn func(context.Context) workflow.StageResult) workflow.StageResult {
	if ctx.Err() != nil {
		e.block(workflow.ReasonCancelled)
	}
	if reason, ok := checkGates(name, e.req, e.blocked); !ok {
		res := workflow.Skip(name, reason)
		e.record(ctx, res)
		return res
	}
	if state != "" {
		if err := e.run.Advance(state); err != nil {
			e.o.logger.Warn(ctx, "advance workflow state", zap.String("state", string(state)), zap.Error(err))
		}
	}
	e.report(name, OutcomeStarted, "")

	sctx := logging.WithStage(ctx, string(name))
	sctx, span := e.o.tracer.Start(sctx, "workflow.stage."+string(name),
		trace.WithAttributes(attribute.String("workflow.stage", string(name))))
	started := e.o.now()
	res := fn(sctx)
	finished := e.o.now()

	res.Name = name
	if res.StartedAt.IsZero() {
		res.StartedAt = started
	}
	if res.FinishedAt.IsZero() {
		res.FinishedAt = finished
	}
	if res.Duration == 0 && res.Executed() {
		res.Duration = finished.Sub(started)
	}

	span.SetAttributes(
		attribute.String("workflow.stage.outcome", res.Outcome()),
		attribute.String("workflow.stage.reason", string(res.Reason)),
	)
	if res.Failed() {
		if res.Error != "" {
			span.RecordError(errors.New(res.Error))
		}
		span.SetStatus(codes.Error, string(res.Reason))
	}
	span.End()

	e.o.metrics.observeStage(res, res.Duration)
	e.record(ctx, res)

	if reason, ok := blockingReason(res); ok {
		e.block(reason)
	}
	// Without a diff the change set is unverified; do not prepare a PR.
	if name == workflow.StageGovernance && res.Skipped && res.Reason == workflow.ReasonCollaboratorError {
		e.block(workflow.ReasonCollaboratorError)
	}
	return res
}

// block makes later stages skip with reason. The first reason wins except
// for cancellation, which overrides.
func (e *execution) block(reason workflow.Reason) {
	if e.blocked == "" || reason == workflow.ReasonCancelled {
		e.blocked = reason
	}
}

func (e *execution) record(ctx context.Context, res workflow.StageResult) {
	if err := e.run.RecordStage(res); err != nil {
		e.o.logger.Warn(ctx, "record stage", zap.String("stage", string(res.Name)), zap.Error(err))
	}
	e.settled++
	e.o.logger.Debug(ctx, "stage settled",
		zap.String("stage", string(res.Name)),
		zap.String("outcome", res.Outcome()),
		zap.String("reason", string(res.Reason)))
	e.report(res.Name, res.Outcome(), res.Reason)
}

func (e *execution) report(name workflow.StageName, outcome string, reason workflow.Reason) {
	if e.progress == nil {
		return
	}
	e.progress(StageProgress{
		RunID:      e.run.ID(),
		Stage:      name,
		Outcome:    outcome,
		Reason:     reason,
		Percentage: e.settled * 100 / len(workflow.StageOrder),
	})
}

func (e *execution) codegen(ctx context.Context) workflow.StageResult {
	if e.o.deps.Codegen == nil {
		return notConfigured("no code generator configured")
	}
	return e.o.deps.Codegen.Run(ctx, e.project, e.req.ContractRef)
}

func (e *execution) tests(ctx context.Context) workflow.StageResult {
	if e.o.deps.Tests == nil {
		return notConfigured("no test runner configured")
	}
	return e.o.deps.Tests.Run(ctx, e.project, e.req.Timeouts.Test.Duration())
}

func (e *execution) bugfix(ctx context.Context, tests workflow.StageResult) workflow.StageResult {
	if !tests.Failed() {
		return workflow.Skip(workflow.StageBugfix, workflow.ReasonNotApplicable)
	}
	if e.o.deps.Bugfix == nil {
		return workflow.Skip(workflow.StageBugfix, workflow.ReasonNotConfigured)
	}
	res, suggestion := e.o.deps.Bugfix.MaybeInvoke(ctx, bugfix.Input{
		Tests:        tests,
		Flags:        e.req.Flags,
		ChangedFiles: e.changedFiles(ctx),
		Stack:        string(e.project.Config.Stack),
	})
	if suggestion != nil {
		if err := e.run.SetBugfix(suggestion); err != nil {
			e.o.logger.Warn(ctx, "attach bugfix suggestion", zap.Error(err))
		}
	}
	return res
}

// changedFiles is best effort context for the bugfix collaborator.
func (e *execution) changedFiles(ctx context.Context) []string {
	if e.o.deps.Diffs == nil {
		return nil
	}
	files, err := e.o.deps.Diffs.ChangedFiles(ctx, e.project.Path, e.req.PR.Base)
	if err != nil {
		e.o.logger.Debug(ctx, "changed files unavailable", zap.Error(err))
		return nil
	}
	return files
}

func (e *execution) smoke(ctx context.Context) workflow.StageResult {
	if e.o.deps.Smoke == nil {
		return notConfigured("no smoke runner configured")
	}
	return e.o.deps.Smoke.Run(ctx, e.project, stages.SmokeOptions{
		StartupWait: e.req.Timeouts.Smoke.Duration(),
		HealthPath:  e.req.SmokeHealthPath,
	})
}

func (e *execution) governance(ctx context.Context) workflow.StageResult {
	if e.o.deps.Governance == nil || e.o.deps.Diffs == nil {
		return notConfigured("no governance evaluator configured")
	}
	diff, err := e.o.deps.Diffs.Diff(ctx, e.project.Path, e.req.PR.Base)
	if err != nil {
		return collaboratorSkip(ctx, workflow.StageGovernance, fmt.Errorf("collect diff: %w", err))
	}
	result, err := e.o.deps.Governance.Evaluate(ctx, diff, e.project.Config.Governance)
	if err != nil {
		return collaboratorSkip(ctx, workflow.StageGovernance, fmt.Errorf("evaluate policy: %w", err))
	}
	res := workflow.StageResult{
		Name:       workflow.StageGovernance,
		Passed:     result.OK,
		Violations: result.Violations,
	}
	if !result.OK {
		res.Reason = workflow.ReasonPolicyViolation
		res.Error = fmt.Sprintf("%d governance violation(s)", len(result.Errors()))
	}
	return res
}

func (e *execution) prepare(ctx context.Context) workflow.StageResult {
	if e.o.deps.PR == nil {
		return workflow.Skip(workflow.StagePRPrep, workflow.ReasonNotConfigured)
	}
	pr, err := e.o.deps.PR.Prepare(ctx, e.project, e.run.Snapshot())
	if err != nil {
		return collaboratorSkip(ctx, workflow.StagePRPrep, err)
	}
	if err := e.run.SetPR(&pr); err != nil {
		e.o.logger.Warn(ctx, "attach pr result", zap.Error(err))
	}
	return workflow.StageResult{Name: workflow.StagePRPrep, Passed: true}
}

func notConfigured(msg string) workflow.StageResult {
	return workflow.StageResult{Reason: workflow.ReasonNotConfigured, Error: msg}
}

// collaboratorSkip records a collaborator fault without failing the run,
// unless the fault is the run being cancelled.
func collaboratorSkip(ctx context.Context, name workflow.StageName, err error) workflow.StageResult {
	reason := workflow.ReasonCollaboratorError
	if ctx.Err() != nil {
		reason = workflow.ReasonCancelled
	}
	res := workflow.Skip(name, reason)
	res.Error = err.Error()
	return res
}

// summarize builds the final message and error text of a run.
func summarize(rec workflow.Record) (message, errMsg string) {
	if rec.Request.Flags.DryRun {
		return "dry run: request accepted, no stages executed", ""
	}
	for _, s := range rec.Stages {
		if s.Reason == workflow.ReasonCancelled {
			errMsg = s.Error
			if errMsg == "" {
				errMsg = "run cancelled before " + string(s.Name)
			}
			return "workflow run cancelled", errMsg
		}
	}

	executed := 0
	for _, s := range rec.Stages {
		if s.Executed() {
			executed++
		}
		if s.Failed() && workflow.ResolveStatus([]workflow.StageResult{s}) != workflow.StatusSuccess {
			msg := s.Error
			if msg == "" {
				msg = string(s.Reason)
			}
			return fmt.Sprintf("%s stage failed (%s)", s.Name, s.Reason), msg
		}
		if errMsg == "" && s.Skipped && s.Reason == workflow.ReasonCollaboratorError && s.Error != "" {
			errMsg = string(s.Name) + ": " + s.Error
		}
	}
	if executed == 0 {
		return "no stages executed", errMsg
	}
	return "all executed stages passed", errMsg
}
