package project

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/autopilot/internal/config"
)

// Resolver turns a project id into a Project.
type Resolver struct {
	registry    *Registry
	projectsDir string
}

// NewResolver creates a Resolver. Ids missing from the registry are looked
// up as directories under projectsDir. registry may be nil.
func NewResolver(registry *Registry, projectsDir string) *Resolver {
	return &Resolver{registry: registry, projectsDir: config.ExpandHome(projectsDir)}
}

// Resolve locates the project directory and loads its configuration.
func (r *Resolver) Resolve(ctx context.Context, id string) (*Project, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProjectID, id)
	}

	p := &Project{ID: id}
	if r.registry != nil {
		e, err := r.registry.Get(ctx, id)
		switch {
		case err == nil:
			p.Registered = true
			p.RepoURL = e.RepoURL
			p.Path = e.Path
		case !errors.Is(err, ErrProjectNotFound):
			return nil, err
		}
	}
	if p.Path == "" {
		if r.projectsDir == "" {
			return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
		}
		p.Path = filepath.Join(r.projectsDir, id)
	}
	p.Path = config.ExpandHome(p.Path)

	info, err := os.Stat(p.Path)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s (no directory at %s)", ErrProjectNotFound, id, p.Path)
	}

	cfg, err := LoadConfig(p.Path)
	if err != nil {
		return nil, err
	}
	p.Config = cfg
	return p, nil
}
