package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/autopilot/internal/logging"
	"go.uber.org/zap"
)

// ErrCommandNotFound is returned when the executable cannot be resolved,
// either before launch or by the shell (exit status 127).
var ErrCommandNotFound = errors.New("command not found")

// ExitCommandNotFound is the POSIX shell status for an unknown command. A
// shell command that exits 127 on its own is indistinguishable from one the
// shell could not resolve, and is reported as ErrCommandNotFound.
const ExitCommandNotFound = 127

const (
	// DefaultGracePeriod is the wait between SIGTERM and SIGKILL.
	DefaultGracePeriod = 5 * time.Second
	// DefaultMaxOutput caps each captured stream.
	DefaultMaxOutput = 64 * 1024

	groupPollInterval = 25 * time.Millisecond
)

// Command describes one invocation.
type Command struct {
	// Args is argv; Args[0] is resolved through PATH.
	Args []string
	Dir  string
	// Env entries override the inherited environment.
	Env map[string]string
	// Timeout bounds the run; zero means only ctx bounds it.
	Timeout time.Duration
}

// Shell wraps a command line for /bin/sh -c.
func Shell(line string) []string {
	return []string{"/bin/sh", "-c", line}
}

// String renders the command for logs and results.
func (c Command) String() string {
	if len(c.Args) == 3 && c.Args[0] == "/bin/sh" && c.Args[1] == "-c" {
		return c.Args[2]
	}
	return strings.Join(c.Args, " ")
}

// Result is the outcome of a finished process.
type Result struct {
	ExitCode  int           `json:"exit_code"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	TimedOut  bool          `json:"timed_out"`
	Canceled  bool          `json:"canceled"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"duration"`
}

// Success reports a zero exit that was not cut short.
func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0 && !r.TimedOut && !r.Canceled
}

// Runner launches commands. It is safe for concurrent use.
type Runner struct {
	grace     time.Duration
	maxOutput int
	logger    *logging.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithGracePeriod sets the wait between SIGTERM and SIGKILL.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Runner) { r.grace = d }
}

// WithMaxOutput caps each captured stream at n bytes.
func WithMaxOutput(n int) Option {
	return func(r *Runner) { r.maxOutput = n }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a Runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		grace:     DefaultGracePeriod,
		maxOutput: DefaultMaxOutput,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes cmd to completion. The process group is torn down before Run
// returns on every path. A timeout is reported through Result.TimedOut, not
// an error; cancellation of ctx returns the partial result and ctx.Err().
func (r *Runner) Run(ctx context.Context, cmd Command) (*Result, error) {
	p, err := r.Start(ctx, cmd)
	if err != nil {
		return nil, err
	}

	var timeout <-chan time.Time
	if cmd.Timeout > 0 {
		t := time.NewTimer(cmd.Timeout)
		defer t.Stop()
		timeout = t.C
	}

	var timedOut, canceled bool
	select {
	case <-p.Done():
	case <-timeout:
		timedOut = true
	case <-ctx.Done():
		canceled = true
	}

	res := p.Stop()
	res.TimedOut = timedOut
	res.Canceled = canceled

	r.logger.Debug(ctx, "process finished",
		zap.String("command", cmd.String()),
		zap.Int("exit_code", res.ExitCode),
		zap.Bool("timed_out", timedOut),
		zap.Duration("duration", res.Duration))

	switch {
	case canceled:
		return res, ctx.Err()
	case !timedOut && res.ExitCode == ExitCommandNotFound && isShell(cmd.Args):
		return res, fmt.Errorf("%w: %s", ErrCommandNotFound, firstWord(cmd.String()))
	}
	return res, nil
}

// Start launches cmd in the background in a new process group. The caller
// must call Stop. ctx is only used for logging; the process lifetime is
// controlled by Stop.
func (r *Runner) Start(ctx context.Context, cmd Command) (*Process, error) {
	if len(cmd.Args) == 0 {
		return nil, errors.New("empty command")
	}
	if _, err := exec.LookPath(cmd.Args[0]); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCommandNotFound, cmd.Args[0])
	}

	c := exec.Command(cmd.Args[0], cmd.Args[1:]...)
	c.Dir = cmd.Dir
	c.Env = mergeEnv(os.Environ(), cmd.Env)
	setProcessGroup(c)

	p := &Process{
		cmd:    c,
		grace:  r.grace,
		stdout: NewBuffer(r.maxOutput),
		stderr: NewBuffer(r.maxOutput),
		done:   make(chan struct{}),
	}
	c.Stdout = p.stdout
	c.Stderr = p.stderr
	// bounds Wait when an orphaned grandchild holds the output pipes open
	c.WaitDelay = r.grace

	p.started = time.Now()
	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("starting %q: %w", cmd.String(), err)
	}
	p.pid = c.Process.Pid

	go func() {
		p.waitErr = c.Wait()
		p.finished = time.Now()
		close(p.done)
	}()

	r.logger.Debug(ctx, "process started", zap.String("command", cmd.String()), zap.Int("pid", p.pid))
	return p, nil
}

// Process is a running command started with Runner.Start.
type Process struct {
	cmd      *exec.Cmd
	pid      int
	grace    time.Duration
	stdout   *Buffer
	stderr   *Buffer
	started  time.Time
	finished time.Time
	done     chan struct{}
	waitErr  error

	stopOnce sync.Once
	result   *Result
}

// Pid returns the process id, which is also the process group id.
func (p *Process) Pid() int {
	return p.pid
}

// Done is closed once the leader has exited and its output is drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the leader has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Stop terminates the process group and returns the final result.
// It is idempotent and safe to defer.
func (p *Process) Stop() *Result {
	p.stopOnce.Do(func() {
		p.terminate()
		p.result = p.collect()
	})
	return p.result
}

// terminate signals the group with SIGTERM, waits up to the grace period for
// the leader and any group members, then sends SIGKILL.
func (p *Process) terminate() {
	if !p.Exited() || groupAlive(p.pid) {
		_ = signalGroup(p.pid, terminateSignal())
		deadline := time.NewTimer(p.grace)
		defer deadline.Stop()
		tick := time.NewTicker(groupPollInterval)
		defer tick.Stop()
	wait:
		for {
			select {
			case <-deadline.C:
				break wait
			case <-tick.C:
				if p.Exited() && !groupAlive(p.pid) {
					break wait
				}
			}
		}
	}
	_ = signalGroup(p.pid, killSignal())
	<-p.done
}

func (p *Process) collect() *Result {
	res := &Result{
		ExitCode:  -1,
		Stdout:    p.stdout.String(),
		Stderr:    p.stderr.String(),
		Truncated: p.stdout.Truncated() || p.stderr.Truncated(),
		Duration:  p.finished.Sub(p.started),
	}
	if st := p.cmd.ProcessState; st != nil {
		res.ExitCode = st.ExitCode()
	}
	return res
}

// Output returns the output captured so far without stopping the process.
func (p *Process) Output() (stdout, stderr string) {
	return p.stdout.String(), p.stderr.String()
}

func isShell(args []string) bool {
	return len(args) == 3 && args[1] == "-c" && strings.HasSuffix(args[0], "sh")
}

func firstWord(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return s
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	env := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[k]; !ok {
			env = append(env, kv)
		}
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}
