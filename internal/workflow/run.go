package workflow

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRunTerminal is returned when a finished run is mutated.
var ErrRunTerminal = errors.New("workflow run is terminal")

// Record is a point-in-time copy of a run, safe to serialize and share.
type Record struct {
	ID        string  `json:"id"`
	Type      Type    `json:"type"`
	ProjectID string  `json:"project_id"`
	State     State   `json:"state"`
	Status    Status  `json:"status"`
	Request   Request `json:"request"`

	Stages []StageResult `json:"stages"`

	// Nil means the stage did not run.
	TestsPassed  *bool `json:"tests_passed"`
	SmokePassed  *bool `json:"smoke_passed"`
	GovernanceOK *bool `json:"governance_ok"`

	Violations []Violation       `json:"violations,omitempty"`
	Bugfix     *BugfixSuggestion `json:"bugfix,omitempty"`
	PR         *PRResult         `json:"pr,omitempty"`
	ReadyForPR bool              `json:"ready_for_pr"`

	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Terminal reports whether the record is final.
func (r Record) Terminal() bool {
	return r.State == StateTerminal
}

// Stage returns the result for name, if recorded.
func (r Record) Stage(name StageName) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageResult{}, false
}

// Run is the live, mutable execution record owned by the orchestrator.
// Readers take snapshots.
type Run struct {
	mu   sync.RWMutex
	rec  Record
	done chan struct{}
}

// NewRun creates a PENDING run for an accepted request.
func NewRun(id string, req Request, createdAt time.Time) *Run {
	return &Run{
		rec: Record{
			ID:        id,
			Type:      req.Type,
			ProjectID: req.ProjectID,
			State:     StatePending,
			Status:    StatusSuccess,
			Request:   req,
			CreatedAt: createdAt,
		},
		done: make(chan struct{}),
	}
}

// ID returns the run id.
func (r *Run) ID() string {
	return r.rec.ID
}

// Request returns the accepted request.
func (r *Run) Request() Request {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rec.Request
}

// Done is closed when the run reaches TERMINAL.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// State returns the current state.
func (r *Run) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rec.State
}

// Advance moves the state machine forward.
func (r *Run) Advance(next State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if next == StateTerminal {
		return fmt.Errorf("use Finish to terminate run %s", r.rec.ID)
	}
	if !r.rec.State.CanTransition(next) {
		if r.rec.State == StateTerminal {
			return ErrRunTerminal
		}
		return fmt.Errorf("invalid transition %s -> %s", r.rec.State, next)
	}
	r.rec.State = next
	return nil
}

// RecordStage stores res, replacing an earlier record of the same stage, and
// refreshes the derived outputs and the running status.
func (r *Run) RecordStage(res StageResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec.State == StateTerminal {
		return ErrRunTerminal
	}

	res = res.clone()
	replaced := false
	for i := range r.rec.Stages {
		if r.rec.Stages[i].Name == res.Name {
			r.rec.Stages[i] = res
			replaced = true
			break
		}
	}
	if !replaced {
		r.rec.Stages = insertOrdered(r.rec.Stages, res)
	}

	if res.Executed() {
		passed := res.Passed
		switch res.Name {
		case StageTests:
			r.rec.TestsPassed = &passed
		case StageSmoke:
			r.rec.SmokePassed = &passed
		case StageGovernance:
			r.rec.GovernanceOK = &passed
			r.rec.Violations = append([]Violation(nil), res.Violations...)
		}
	}
	r.rec.Status = ResolveStatus(r.rec.Stages)
	return nil
}

func insertOrdered(stages []StageResult, res StageResult) []StageResult {
	pos := stageIndex(res.Name)
	for i, s := range stages {
		if stageIndex(s.Name) > pos {
			stages = append(stages, StageResult{})
			copy(stages[i+1:], stages[i:])
			stages[i] = res
			return stages
		}
	}
	return append(stages, res)
}

func stageIndex(name StageName) int {
	for i, n := range StageOrder {
		if n == name {
			return i
		}
	}
	return len(StageOrder)
}

// SetBugfix attaches a fix suggestion.
func (r *Run) SetBugfix(s *BugfixSuggestion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec.State == StateTerminal {
		return ErrRunTerminal
	}
	r.rec.Bugfix = s
	return nil
}

// SetPR attaches the PR-preparation outcome.
func (r *Run) SetPR(pr *PRResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec.State == StateTerminal {
		return ErrRunTerminal
	}
	r.rec.PR = pr
	return nil
}

// Finish moves the run to TERMINAL with the given status. ErrRunTerminal is
// returned if it already finished.
func (r *Run) Finish(status Status, message, errMsg string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec.State == StateTerminal {
		return ErrRunTerminal
	}
	r.rec.State = StateTerminal
	r.rec.Status = status
	r.rec.Message = message
	r.rec.Error = errMsg
	r.rec.FinishedAt = at
	flags := r.rec.Request.Flags
	r.rec.ReadyForPR = status == StatusSuccess && flags.CreatePR && !flags.DryRun
	close(r.done)
	return nil
}

// Snapshot returns a deep copy of the current record.
func (r *Run) Snapshot() Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec := r.rec
	rec.Stages = make([]StageResult, len(r.rec.Stages))
	for i, s := range r.rec.Stages {
		rec.Stages[i] = s.clone()
	}
	rec.Violations = append([]Violation(nil), r.rec.Violations...)
	rec.TestsPassed = copyBool(r.rec.TestsPassed)
	rec.SmokePassed = copyBool(r.rec.SmokePassed)
	rec.GovernanceOK = copyBool(r.rec.GovernanceOK)
	if r.rec.Bugfix != nil {
		b := *r.rec.Bugfix
		rec.Bugfix = &b
	}
	if r.rec.PR != nil {
		pr := *r.rec.PR
		rec.PR = &pr
	}
	return rec
}

func copyBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

// ResolveStatus computes the run status from stage records. Only executed
// stages count. The bugfix and PR stages never affect the status. An
// infrastructure failure (missing command, cancellation, codegen failure)
// resolves to ERROR.
func ResolveStatus(stages []StageResult) Status {
	worst := StatusSuccess
	for _, s := range stages {
		worst = Worst(worst, stageStatus(s))
	}
	return worst
}

func stageStatus(s StageResult) Status {
	if s.Reason == ReasonCancelled {
		return StatusError
	}
	if !s.Failed() {
		return StatusSuccess
	}
	if s.Reason == ReasonCommandNotFound || s.Reason == ReasonNotConfigured {
		return StatusError
	}
	switch s.Name {
	case StageCodegen:
		return StatusError
	case StageTests:
		return StatusFailedTests
	case StageSmoke:
		return StatusFailedSmoke
	case StageGovernance:
		return StatusFailedGovernance
	}
	return StatusSuccess
}
