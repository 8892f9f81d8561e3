package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/fyrsmithlabs/autopilot/internal/logging"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Registry stores project entries in a JSON file.
type Registry struct {
	path   string
	logger *logging.Logger
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *logging.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithClock overrides the clock used for registered_at.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// OpenRegistry loads the registry at path. A missing file is an empty
// registry; the file is created on first write.
func OpenRegistry(path string, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		path:    path,
		logger:  logging.NewNop(),
		now:     time.Now,
		entries: make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	entries, err := r.read()
	if err != nil {
		return nil, err
	}
	r.entries = entries
	return r, nil
}

// Path returns the backing file.
func (r *Registry) Path() string {
	return r.path
}

// Register adds a project. The id must be unused.
func (r *Registry) Register(ctx context.Context, e Entry) (Entry, error) {
	if err := validate.Struct(e); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrInvalidProjectID, err)
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	now := r.now().UTC()
	e.RegisteredAt = &now

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[e.ProjectID]; ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrProjectExists, e.ProjectID)
	}
	next := r.copyEntries()
	next[e.ProjectID] = e
	if err := r.write(next); err != nil {
		return Entry{}, err
	}
	r.entries = next

	r.logger.Info(ctx, "project registered", zap.String("project_id", e.ProjectID), zap.String("repo_url", e.RepoURL))
	return cloneEntry(e), nil
}

// Get retrieves a project by id.
func (r *Registry) Get(ctx context.Context, id string) (Entry, error) {
	if id == "" {
		return Entry{}, ErrInvalidProjectID
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	return cloneEntry(e), nil
}

// List returns all projects sorted by id.
func (r *Registry) List(ctx context.Context) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, cloneEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectID < out[j].ProjectID })
	return out
}

// UpdateMetadata merges metadata into the project's existing metadata.
func (r *Registry) UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	e = cloneEntry(e)
	for k, v := range metadata {
		e.Metadata[k] = v
	}
	next := r.copyEntries()
	next[id] = e
	if err := r.write(next); err != nil {
		return err
	}
	r.entries = next
	return nil
}

// Unregister removes a project.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; !ok {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	next := r.copyEntries()
	delete(next, id)
	if err := r.write(next); err != nil {
		return err
	}
	r.entries = next

	r.logger.Info(ctx, "project unregistered", zap.String("project_id", id))
	return nil
}

// Reload rereads the backing file. A file that fails to parse leaves the
// in-memory entries unchanged.
func (r *Registry) Reload(ctx context.Context) error {
	entries, err := r.read()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
	r.logger.Debug(ctx, "project registry reloaded", zap.Int("projects", len(entries)))
	return nil
}

// Watch reloads the registry whenever its file changes, until ctx is done.
// The parent directory is watched so atomic replacements are seen.
func (r *Registry) Watch(ctx context.Context) error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating registry watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	target := filepath.Clean(r.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) {
				continue
			}
			if err := r.Reload(ctx); err != nil {
				r.logger.Warn(ctx, "project registry reload failed", zap.Error(err))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn(ctx, "project registry watcher error", zap.Error(err))
		}
	}
}

func (r *Registry) read() (map[string]Entry, error) {
	entries := make(map[string]Entry)
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading project registry: %w", err)
	}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing project registry %s: %w", r.path, err)
	}
	for id, e := range entries {
		if e.ProjectID == "" {
			e.ProjectID = id
		}
		if e.Metadata == nil {
			e.Metadata = map[string]any{}
		}
		entries[id] = e
	}
	return entries, nil
}

// write replaces the file atomically.
func (r *Registry) write(entries map[string]Entry) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding project registry: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".projects-*.json")
	if err != nil {
		return fmt.Errorf("writing project registry: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing project registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing project registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("saving project registry: %w", err)
	}
	return nil
}

func (r *Registry) copyEntries() map[string]Entry {
	next := make(map[string]Entry, len(r.entries)+1)
	for k, v := range r.entries {
		next[k] = v
	}
	return next
}

func cloneEntry(e Entry) Entry {
	md := make(map[string]any, len(e.Metadata))
	for k, v := range e.Metadata {
		md[k] = v
	}
	e.Metadata = md
	if e.RegisteredAt != nil {
		t := *e.RegisteredAt
		e.RegisteredAt = &t
	}
	return e
}
