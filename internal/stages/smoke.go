package stages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fyrsmithlabs/autopilot/internal/logging"
	"github.com/fyrsmithlabs/autopilot/internal/process"
	"github.com/fyrsmithlabs/autopilot/internal/project"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
	"go.uber.org/zap"
)

// Smoke defaults.
const (
	DefaultSmokeStartupWait  = 60 * time.Second
	DefaultSmokePollInterval = time.Second
	DefaultSmokeHost         = "127.0.0.1"
	probeRequestTimeout      = 5 * time.Second
)

var errProcessExited = errors.New("service process exited during startup")

// SmokeOptions override the per-project smoke settings for one run.
type SmokeOptions struct {
	StartupWait time.Duration
	HealthPath  string
}

// SmokeStageRunner starts a project's service, probes its health endpoint,
// and stops it.
type SmokeStageRunner struct {
	runner       *process.Runner
	preflight    Preflight
	client       *http.Client
	startupWait  time.Duration
	pollInterval time.Duration
	host         string
	logger       *logging.Logger
}

// SmokeOption configures a SmokeStageRunner.
type SmokeOption func(*SmokeStageRunner)

// WithPreflight replaces the port preflight.
func WithPreflight(p Preflight) SmokeOption {
	return func(s *SmokeStageRunner) { s.preflight = p }
}

// WithHTTPClient sets the probe client.
func WithHTTPClient(c *http.Client) SmokeOption {
	return func(s *SmokeStageRunner) { s.client = c }
}

// WithStartupWait sets the default startup window.
func WithStartupWait(d time.Duration) SmokeOption {
	return func(s *SmokeStageRunner) {
		if d > 0 {
			s.startupWait = d
		}
	}
}

// WithPollInterval sets the probe interval.
func WithPollInterval(d time.Duration) SmokeOption {
	return func(s *SmokeStageRunner) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithHost sets the default host the service is probed on.
func WithHost(host string) SmokeOption {
	return func(s *SmokeStageRunner) {
		if host != "" {
			s.host = host
		}
	}
}

// WithSmokeLogger sets the logger.
func WithSmokeLogger(l *logging.Logger) SmokeOption {
	return func(s *SmokeStageRunner) { s.logger = l }
}

// NewSmokeStageRunner creates a SmokeStageRunner.
func NewSmokeStageRunner(runner *process.Runner, opts ...SmokeOption) *SmokeStageRunner {
	s := &SmokeStageRunner{
		runner:       runner,
		client:       &http.Client{Timeout: probeRequestTimeout},
		startupWait:  DefaultSmokeStartupWait,
		pollInterval: DefaultSmokePollInterval,
		host:         DefaultSmokeHost,
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.preflight == nil {
		s.preflight = NewPortPreflight(0, s.logger)
	}
	return s
}

// Run performs preflight, start, probe and teardown. The started process is
// stopped before Run returns on every path.
func (s *SmokeStageRunner) Run(ctx context.Context, p *project.Project, opts SmokeOptions) workflow.StageResult {
	started := time.Now()
	ctx = logging.WithStage(ctx, string(workflow.StageSmoke))

	command := p.SmokeCommand()
	res := workflow.StageResult{Name: workflow.StageSmoke, Command: command, ExitCode: -1, StartedAt: started}
	finish := func() workflow.StageResult {
		res.FinishedAt = time.Now()
		res.Duration = res.FinishedAt.Sub(started)
		s.logger.Info(ctx, "smoke finished",
			zap.Bool("passed", res.Passed),
			zap.String("reason", string(res.Reason)),
			zap.Duration("duration", res.Duration))
		return res
	}

	if command == "" {
		res.Reason = workflow.ReasonNotConfigured
		res.Error = "no smoke command configured"
		return finish()
	}

	host := p.Config.Runtime.Smoke.Host
	if host == "" {
		host = s.host
	}
	port := p.SmokePort()
	healthPath := p.HealthPath()
	if opts.HealthPath != "" {
		healthPath = opts.HealthPath
	}
	wait := s.startupWait
	if d := p.Config.Runtime.Smoke.StartupWait.Duration(); d > 0 {
		wait = d
	}
	if opts.StartupWait > 0 {
		wait = opts.StartupWait
	}
	url := "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + healthPath

	if err := s.preflight.Clear(ctx, host, port, p.Config.Runtime.Smoke.ProcessName); err != nil {
		if errors.Is(err, ErrPortUnavailable) {
			res.Reason = workflow.ReasonPortUnavailable
		} else {
			res.Reason = failureReason(err)
		}
		res.Error = err.Error()
		return finish()
	}

	s.logger.Info(ctx, "starting service", zap.String("command", command), zap.String("health_url", url), zap.Duration("startup_wait", wait))
	proc, err := s.runner.Start(ctx, process.Command{
		Args: process.Shell(command),
		Dir:  p.Path,
		Env:  p.Config.Runtime.Env,
	})
	if err != nil {
		res.Reason = failureReason(err)
		res.Error = err.Error()
		return finish()
	}

	probeErr := s.probe(ctx, proc, url, wait)

	final := proc.Stop()
	res.ExitCode = final.ExitCode
	res.Stdout = final.Stdout
	res.Stderr = final.Stderr
	res.Truncated = final.Truncated

	switch {
	case probeErr == nil:
		res.Passed = true
	case ctx.Err() != nil:
		res.Reason = workflow.ReasonCancelled
		res.Error = ctx.Err().Error()
	case errors.Is(probeErr, errProcessExited):
		res.Reason = workflow.ReasonProcessExited
		res.Error = probeErr.Error()
		if final.ExitCode == process.ExitCommandNotFound {
			res.Reason = workflow.ReasonCommandNotFound
		}
	default:
		res.Reason = workflow.ReasonProbeFailed
		res.Error = probeErr.Error()
	}
	return finish()
}

// probe polls url at a fixed interval until it answers 2xx or wait elapses,
// then confirms with one more request.
func (s *SmokeStageRunner) probe(ctx context.Context, proc *process.Process, url string, wait time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	attempts := 0
	_, err := backoff.Retry(waitCtx, func() (struct{}, error) {
		attempts++
		if proc.Exited() {
			return struct{}{}, backoff.Permanent(errProcessExited)
		}
		return struct{}{}, s.get(waitCtx, url)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.pollInterval)),
		backoff.WithMaxElapsedTime(wait),
	)
	if err != nil {
		if proc.Exited() {
			return errProcessExited
		}
		return fmt.Errorf("health check %s not ready after %s (%d attempts): %w", url, wait, attempts, err)
	}

	s.logger.Debug(ctx, "service healthy, confirming", zap.Int("attempts", attempts))
	if err := s.get(ctx, url); err != nil {
		return fmt.Errorf("confirming health check %s: %w", url, err)
	}
	return nil
}

func (s *SmokeStageRunner) get(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}
