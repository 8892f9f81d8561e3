package repo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/autopilot/internal/logging"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"
)

// ErrNotRepository is returned when a path is not inside a git working copy.
var ErrNotRepository = errors.New("not a git repository")

// ErrBaseNotFound is returned when the base branch cannot be resolved.
var ErrBaseNotFound = errors.New("base branch not found")

// Repository is an opened git working copy.
type Repository struct {
	repo   *git.Repository
	wt     *git.Worktree
	root   string
	logger *logging.Logger
}

// Open opens the working copy containing path.
func Open(path string, logger *logging.Logger) (*Repository, error) {
	r, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotRepository, path)
		}
		return nil, fmt.Errorf("open repository %s: %w", path, err)
	}
	wt, err := r.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree %s: %w", path, err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Repository{repo: r, wt: wt, root: wt.Filesystem.Root(), logger: logger}, nil
}

// CurrentBranch returns the checked-out branch, or "" on a detached HEAD or
// an unborn branch.
func (r *Repository) CurrentBranch() string {
	head, err := r.repo.Head()
	if err != nil || !head.Name().IsBranch() {
		return ""
	}
	return head.Name().Short()
}

// Diff returns a unified diff from the merge base of HEAD and base to the
// files in the working copy. An empty base diffs against HEAD only.
func (r *Repository) Diff(ctx context.Context, base string) (string, error) {
	patch, err := r.patch(ctx, base)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := encode(&buf, patch); err != nil {
		return "", fmt.Errorf("encode diff: %w", err)
	}
	return buf.String(), nil
}

// ChangedFiles returns the paths Diff would report, sorted.
func (r *Repository) ChangedFiles(ctx context.Context, base string) ([]string, error) {
	patch, err := r.patch(ctx, base)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(patch))
	for _, fp := range patch {
		out = append(out, fp.path())
	}
	return out, nil
}

func (r *Repository) patch(ctx context.Context, base string) (patch, error) {
	from, err := r.baseTree(base)
	if err != nil {
		return nil, err
	}
	paths, err := r.changedPaths(from)
	if err != nil {
		return nil, err
	}

	var out patch
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fp, err := r.filePatch(from, p)
		if err != nil {
			return nil, err
		}
		if fp != nil {
			out = append(out, fp)
		}
	}
	r.logger.Debug(ctx, "computed working copy diff", zap.String("base", base), zap.Int("files", len(out)))
	return out, nil
}

// baseTree resolves the tree diffs start from: the merge base of HEAD and
// base, or HEAD itself. A repository without commits yields a nil tree.
func (r *Repository) baseTree(base string) (*object.Tree, error) {
	headRef, err := r.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	head, err := r.repo.CommitObject(headRef.Hash())
	if err != nil {
		return nil, fmt.Errorf("read HEAD commit: %w", err)
	}
	if base == "" {
		return head.Tree()
	}

	baseHash, err := r.resolveBranch(base)
	if err != nil {
		return nil, err
	}
	baseCommit, err := r.repo.CommitObject(baseHash)
	if err != nil {
		return nil, fmt.Errorf("read %s commit: %w", base, err)
	}
	bases, err := head.MergeBase(baseCommit)
	if err != nil {
		return nil, fmt.Errorf("merge base of HEAD and %s: %w", base, err)
	}
	if len(bases) == 0 {
		return nil, fmt.Errorf("HEAD and %s share no history", base)
	}
	return bases[0].Tree()
}

func (r *Repository) resolveBranch(base string) (plumbing.Hash, error) {
	for _, name := range []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(base),
		plumbing.NewRemoteReferenceName("origin", base),
	} {
		if ref, err := r.repo.Reference(name, true); err == nil {
			return ref.Hash(), nil
		}
	}
	if h, err := r.repo.ResolveRevision(plumbing.Revision(base)); err == nil {
		return *h, nil
	}
	return plumbing.ZeroHash, fmt.Errorf("%w: %s", ErrBaseNotFound, base)
}

// changedPaths is every path that differs between from and HEAD plus every
// path the worktree status reports as changed.
func (r *Repository) changedPaths(from *object.Tree) ([]string, error) {
	set := map[string]bool{}

	if headTree, err := r.headTree(); err != nil {
		return nil, err
	} else if from != nil && headTree != nil && from.Hash != headTree.Hash {
		changes, err := from.Diff(headTree)
		if err != nil {
			return nil, fmt.Errorf("diff trees: %w", err)
		}
		for _, c := range changes {
			if c.From.Name != "" {
				set[c.From.Name] = true
			}
			if c.To.Name != "" {
				set[c.To.Name] = true
			}
		}
	}

	status, err := r.wt.Status()
	if err != nil {
		return nil, fmt.Errorf("worktree status: %w", err)
	}
	for p, s := range status {
		if s.Worktree != git.Unmodified || s.Staging != git.Unmodified {
			set[p] = true
		}
	}

	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func (r *Repository) headTree() (*object.Tree, error) {
	ref, err := r.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, err
	}
	return c.Tree()
}

// filePatch compares path in from with the file on disk. It returns nil
// when both sides are equal.
func (r *Repository) filePatch(from *object.Tree, path string) (*filePatch, error) {
	var old *side
	if from != nil {
		f, err := from.File(path)
		switch {
		case errors.Is(err, object.ErrFileNotFound):
		case err != nil:
			return nil, fmt.Errorf("read %s from base: %w", path, err)
		default:
			content, err := f.Contents()
			if err != nil {
				return nil, fmt.Errorf("read %s from base: %w", path, err)
			}
			old = &side{name: path, mode: f.Mode, hash: f.Hash, content: content}
		}
	}

	cur, err := r.worktreeSide(path)
	if err != nil {
		return nil, err
	}
	if old == nil && cur == nil {
		return nil, nil
	}
	if old != nil && cur != nil && old.hash == cur.hash && old.mode == cur.mode {
		return nil, nil
	}
	return newFilePatch(old, cur), nil
}

func (r *Repository) worktreeSide(path string) (*side, error) {
	full := filepath.Join(r.root, filepath.FromSlash(path))
	info, err := os.Lstat(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, nil
	}

	f, err := r.wt.Filesystem.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return newWorktreeSide(path, info, data)
}

// Source is the orchestrator's diff collaborator. It opens the repository
// on every call so it never holds state between runs.
type Source struct {
	logger *logging.Logger
}

// NewSource creates a Source.
func NewSource(logger *logging.Logger) *Source {
	return &Source{logger: logger}
}

// Diff returns the diff of the working copy at dir against base.
func (s *Source) Diff(ctx context.Context, dir, base string) (string, error) {
	r, err := Open(dir, s.logger)
	if err != nil {
		return "", err
	}
	return r.Diff(ctx, strings.TrimSpace(base))
}

// ChangedFiles returns the changed paths of the working copy at dir.
func (s *Source) ChangedFiles(ctx context.Context, dir, base string) ([]string, error) {
	r, err := Open(dir, s.logger)
	if err != nil {
		return nil, err
	}
	return r.ChangedFiles(ctx, strings.TrimSpace(base))
}

// Branch returns the checked-out branch of the working copy at dir.
func (s *Source) Branch(dir string) string {
	r, err := Open(dir, s.logger)
	if err != nil {
		return ""
	}
	return r.CurrentBranch()
}
