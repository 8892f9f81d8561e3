package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/autopilot/internal/config"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// DefaultRemote is the remote branches are pushed to.
const DefaultRemote = "origin"

// Push pushes the local branch to the same name on the default remote.
// An up-to-date remote is not an error. The token, when set, is sent as
// HTTP basic auth.
func (r *Repository) Push(ctx context.Context, branch string, token config.Secret) error {
	if branch == "" {
		return errors.New("push: branch name required")
	}
	ref := plumbing.NewBranchReferenceName(branch)
	if _, err := r.repo.Reference(ref, true); err != nil {
		return fmt.Errorf("push: local branch %s: %w", branch, err)
	}

	opts := &git.PushOptions{
		RemoteName: DefaultRemote,
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(ref + ":" + ref)},
	}
	if token.IsSet() {
		opts.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: token.Value()}
	}
	err := r.repo.PushContext(ctx, opts)
	if err == nil || errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	return fmt.Errorf("push %s to %s: %w", branch, DefaultRemote, err)
}

// RemoteURL returns the first URL of the default remote, or "".
func (r *Repository) RemoteURL() string {
	rem, err := r.repo.Remote(DefaultRemote)
	if err != nil || len(rem.Config().URLs) == 0 {
		return ""
	}
	return rem.Config().URLs[0]
}

// Push opens the working copy at dir and pushes branch.
func (s *Source) Push(ctx context.Context, dir, branch string, token config.Secret) error {
	r, err := Open(dir, s.logger)
	if err != nil {
		return err
	}
	return r.Push(ctx, branch, token)
}

// RemoteURL returns the origin URL of the working copy at dir.
func (s *Source) RemoteURL(dir string) string {
	r, err := Open(dir, s.logger)
	if err != nil {
		return ""
	}
	return r.RemoteURL()
}
