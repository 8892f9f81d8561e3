package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/fyrsmithlabs/autopilot/internal/config"
	"github.com/fyrsmithlabs/autopilot/internal/logging"
	"github.com/fyrsmithlabs/autopilot/internal/project"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
	gh "github.com/google/go-github/v57/github"
	"go.uber.org/zap"
)

// Git is the working-copy access the preparer needs.
type Git interface {
	Branch(dir string) string
	RemoteURL(dir string) string
	Push(ctx context.Context, dir, branch string, token config.Secret) error
}

// Preparer opens pull requests for runs that are ready for review.
type Preparer struct {
	client *gh.Client
	token  config.Secret
	git    Git
	retry  RetryConfig
	logger *logging.Logger
}

// Option configures a Preparer.
type Option func(*Preparer)

// WithToken sets the token used to push branches.
func WithToken(t config.Secret) Option {
	return func(p *Preparer) { p.token = t }
}

// WithRetry replaces the retry configuration.
func WithRetry(cfg RetryConfig) Option {
	return func(p *Preparer) { p.retry = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Preparer) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPreparer creates a Preparer. A nil client makes every result stubbed.
func NewPreparer(client *gh.Client, git Git, opts ...Option) *Preparer {
	p := &Preparer{
		client: client,
		git:    git,
		retry:  DefaultRetryConfig(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Prepare pushes the run's branch when asked and opens a pull request.
// Missing prerequisites (token, branch, GitHub remote) yield a stubbed
// result and no error; API and push failures are returned as errors.
func (p *Preparer) Prepare(ctx context.Context, proj *project.Project, rec workflow.Record) (workflow.PRResult, error) {
	opts := rec.Request.PR
	res := workflow.PRResult{
		Outcome: workflow.PRStubbed,
		Base:    opts.Base,
		Title:   Title(rec),
	}
	if res.Base == "" {
		res.Base = workflow.DefaultPRBase
	}

	res.Branch = strings.TrimSpace(opts.BranchName)
	if res.Branch == "" && p.git != nil {
		res.Branch = p.git.Branch(proj.Path)
	}
	if res.Branch == "" {
		return p.stub(ctx, res, "no branch to open a pull request from")
	}
	if res.Branch == res.Base {
		return p.stub(ctx, res, fmt.Sprintf("branch %s is the base branch", res.Branch))
	}

	remote := proj.RepoURL
	if remote == "" && p.git != nil {
		remote = p.git.RemoteURL(proj.Path)
	}
	repo, err := ParseRepo(remote)
	if err != nil {
		return p.stub(ctx, res, "no GitHub repository: "+err.Error())
	}
	if p.client == nil {
		return p.stub(ctx, res, "no GitHub token configured")
	}

	if opts.PushBranch {
		if p.git == nil {
			return res, errors.New("push requested but no git access configured")
		}
		if err := p.git.Push(ctx, proj.Path, res.Branch, p.token); err != nil {
			return res, err
		}
		p.logger.Info(ctx, "pushed branch", zap.String("branch", res.Branch))
	}

	pr, err := p.create(ctx, repo, res, Body(rec))
	if err != nil {
		return res, fmt.Errorf("create pull request on %s: %w", repo, err)
	}
	res.Outcome = workflow.PRCreated
	res.URL = pr.GetHTMLURL()
	res.Number = pr.GetNumber()
	p.logger.Info(ctx, "pull request ready", zap.String("url", res.URL), zap.Int("number", res.Number))
	return res, nil
}

func (p *Preparer) stub(ctx context.Context, res workflow.PRResult, reason string) (workflow.PRResult, error) {
	res.Reason = reason
	p.logger.Info(ctx, "pull request stubbed", zap.String("reason", reason))
	return res, nil
}

// create opens the PR, or returns the open PR for the same head and base
// when GitHub reports one already exists.
func (p *Preparer) create(ctx context.Context, repo Repo, res workflow.PRResult, body string) (*gh.PullRequest, error) {
	pr, err := retry(ctx, p.retry, p.logger, func() (*gh.PullRequest, *gh.Response, error) {
		return p.client.PullRequests.Create(ctx, repo.Owner, repo.Name, &gh.NewPullRequest{
			Title:               gh.String(res.Title),
			Head:                gh.String(res.Branch),
			Base:                gh.String(res.Base),
			Body:                gh.String(body),
			MaintainerCanModify: gh.Bool(true),
		})
	})
	if err == nil {
		return pr, nil
	}
	var ghErr *gh.ErrorResponse
	if !errors.As(err, &ghErr) || ghErr.Response == nil || ghErr.Response.StatusCode != http.StatusUnprocessableEntity {
		return nil, err
	}

	existing, lerr := retry(ctx, p.retry, p.logger, func() ([]*gh.PullRequest, *gh.Response, error) {
		return p.client.PullRequests.List(ctx, repo.Owner, repo.Name, &gh.PullRequestListOptions{
			State: "open",
			Head:  repo.Owner + ":" + res.Branch,
			Base:  res.Base,
		})
	})
	if lerr != nil || len(existing) == 0 {
		return nil, err
	}
	p.logger.Info(ctx, "pull request already open", zap.Int("number", existing[0].GetNumber()))
	return existing[0], nil
}
