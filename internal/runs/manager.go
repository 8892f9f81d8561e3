package runs

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/fyrsmithlabs/autopilot/internal/logging"
	"github.com/fyrsmithlabs/autopilot/internal/orchestrator"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
)

// Common errors.
var (
	ErrRunNotFound = errors.New("run not found")
	ErrRunFinished = errors.New("run already finished")
	ErrClosed      = errors.New("run manager is shut down")
)

// DefaultRetention is how many finished runs stay queryable.
const DefaultRetention = 1000

// Engine accepts and executes runs.
type Engine interface {
	Accept(ctx context.Context, req workflow.Request) (*orchestrator.Job, error)
	Execute(ctx context.Context, job *orchestrator.Job, opts ...orchestrator.ExecOption) workflow.Record
}

type entry struct {
	run    *workflow.Run
	cancel context.CancelFunc
	last   orchestrator.StageProgress
}

// Manager runs workflows asynchronously.
type Manager struct {
	engine    Engine
	logger    *logging.Logger
	slots     *semaphore.Weighted
	retention int

	base     context.Context
	stopBase context.CancelFunc
	wg       sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	active   map[string]*entry
	finished map[string]workflow.Record
	order    []string
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMaxConcurrent bounds how many runs execute at once. Excess runs wait
// in PENDING. Zero means unbounded.
func WithMaxConcurrent(n int64) Option {
	return func(m *Manager) {
		if n > 0 {
			m.slots = semaphore.NewWeighted(n)
		}
	}
}

// WithRetention sets how many finished runs are kept.
func WithRetention(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.retention = n
		}
	}
}

// NewManager creates a Manager around engine.
func NewManager(engine Engine, opts ...Option) *Manager {
	base, stop := context.WithCancel(context.Background())
	m := &Manager{
		engine:    engine,
		logger:    logging.NewNop(),
		retention: DefaultRetention,
		base:      base,
		stopBase:  stop,
		active:    make(map[string]*entry),
		finished:  make(map[string]workflow.Record),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start accepts req and executes it in the background. The returned record
// is the run as accepted. A rejected request returns its terminal record
// together with the error, and the record stays queryable.
func (m *Manager) Start(ctx context.Context, req workflow.Request) (workflow.Record, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return workflow.Record{}, ErrClosed
	}

	job, err := m.engine.Accept(ctx, req)
	if err != nil {
		rec := job.Run.Snapshot()
		m.mu.Lock()
		m.retain(rec)
		m.mu.Unlock()
		return rec, err
	}

	runCtx, cancel := context.WithCancel(logging.WithRun(m.base, job.Run.ID(), req.ProjectID))
	e := &entry{run: job.Run, cancel: cancel}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return workflow.Record{}, ErrClosed
	}
	m.active[job.Run.ID()] = e
	m.wg.Add(1)
	m.mu.Unlock()

	go m.execute(runCtx, job, e)
	return job.Run.Snapshot(), nil
}

func (m *Manager) execute(ctx context.Context, job *orchestrator.Job, e *entry) {
	defer m.wg.Done()
	defer e.cancel()

	if m.slots != nil {
		// A run cancelled while queued still executes, so every stage is
		// recorded as cancelled.
		if err := m.slots.Acquire(ctx, 1); err == nil {
			defer m.slots.Release(1)
		}
	}

	rec := m.engine.Execute(ctx, job, orchestrator.WithProgress(func(p orchestrator.StageProgress) {
		m.mu.Lock()
		e.last = p
		m.mu.Unlock()
	}))

	m.mu.Lock()
	delete(m.active, rec.ID)
	m.retain(rec)
	m.mu.Unlock()

	m.logger.Debug(ctx, "run retired", zap.String("status", string(rec.Status)))
}

// retain stores a finished record, evicting the oldest beyond retention.
// m.mu must be held.
func (m *Manager) retain(rec workflow.Record) {
	if _, ok := m.finished[rec.ID]; !ok {
		m.order = append(m.order, rec.ID)
	}
	m.finished[rec.ID] = rec
	for len(m.order) > m.retention {
		delete(m.finished, m.order[0])
		m.order = m.order[1:]
	}
}

// Get returns the current record of a run.
func (m *Manager) Get(id string) (workflow.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.active[id]; ok {
		return e.run.Snapshot(), nil
	}
	if rec, ok := m.finished[id]; ok {
		return rec, nil
	}
	return workflow.Record{}, ErrRunNotFound
}

// Progress returns the latest stage progress of an active run.
func (m *Manager) Progress(id string) (orchestrator.StageProgress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.active[id]
	if !ok {
		return orchestrator.StageProgress{}, false
	}
	return e.last, true
}

// Cancel stops a run. The run finishes with ERROR once its current stage
// has torn down.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	e, ok := m.active[id]
	_, done := m.finished[id]
	m.mu.Unlock()
	switch {
	case ok:
		e.cancel()
		return nil
	case done:
		return ErrRunFinished
	default:
		return ErrRunNotFound
	}
}

// Wait blocks until the run finishes or ctx ends.
func (m *Manager) Wait(ctx context.Context, id string) (workflow.Record, error) {
	m.mu.Lock()
	e, ok := m.active[id]
	m.mu.Unlock()
	if !ok {
		return m.Get(id)
	}
	select {
	case <-e.run.Done():
		return e.run.Snapshot(), nil
	case <-ctx.Done():
		return workflow.Record{}, ctx.Err()
	}
}

// Active lists runs that have not finished, oldest first.
func (m *Manager) Active() []workflow.Record {
	m.mu.Lock()
	out := make([]workflow.Record, 0, len(m.active))
	for _, e := range m.active {
		out = append(out, e.run.Snapshot())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Shutdown cancels every active run and waits for them to finish.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.stopBase()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
