package stages

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/autopilot/internal/logging"
	psnet "github.com/shirou/gopsutil/v3/net"
	ps "github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// ErrPortUnavailable is returned when the smoke port stays bound after
// preflight.
var ErrPortUnavailable = errors.New("port unavailable")

// Preflight clears a smoke target before the service is started.
type Preflight interface {
	// Clear terminates processes listening on port or named processName,
	// then verifies host:port can be bound. Finding nothing to terminate is
	// not an error.
	Clear(ctx context.Context, host string, port int, processName string) error
}

// PortPreflight is the gopsutil-backed Preflight. Processes are sent SIGTERM,
// given the grace period, then killed. The engine's own pid is never touched.
type PortPreflight struct {
	grace  time.Duration
	logger *logging.Logger
}

// NewPortPreflight creates a PortPreflight.
func NewPortPreflight(grace time.Duration, logger *logging.Logger) *PortPreflight {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &PortPreflight{grace: grace, logger: logger}
}

// Clear implements Preflight.
func (p *PortPreflight) Clear(ctx context.Context, host string, port int, processName string) error {
	self := int32(os.Getpid())

	pids := map[int32]string{}
	listeners, err := ListenerPIDs(ctx, port)
	if err != nil {
		p.logger.Warn(ctx, "listing listeners failed", zap.Int("port", port), zap.Error(err))
	}
	for _, pid := range listeners {
		pids[pid] = "port " + strconv.Itoa(port)
	}
	if processName != "" {
		named, err := pidsByName(ctx, processName)
		if err != nil {
			p.logger.Warn(ctx, "listing processes failed", zap.String("name", processName), zap.Error(err))
		}
		for _, pid := range named {
			pids[pid] = "name " + processName
		}
	}
	delete(pids, self)

	for pid, why := range pids {
		p.logger.Info(ctx, "preflight terminating process", zap.Int32("pid", pid), zap.String("match", why))
		p.terminate(ctx, pid)
	}

	deadline := time.Now().Add(p.grace)
	for {
		if portFree(host, port) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s still in use after preflight", ErrPortUnavailable, net.JoinHostPort(host, strconv.Itoa(port)))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (p *PortPreflight) terminate(ctx context.Context, pid int32) {
	proc, err := ps.NewProcessWithContext(ctx, pid)
	if err != nil {
		return
	}
	if err := proc.TerminateWithContext(ctx); err != nil {
		p.logger.Debug(ctx, "terminate failed", zap.Int32("pid", pid), zap.Error(err))
	}
	deadline := time.Now().Add(p.grace)
	for time.Now().Before(deadline) {
		if !Alive(ctx, pid) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	if err := proc.KillWithContext(ctx); err != nil {
		p.logger.Debug(ctx, "kill failed", zap.Int32("pid", pid), zap.Error(err))
	}
}

// ListenerPIDs returns the pids with a TCP socket listening on port.
// Sockets owned by processes the engine may not inspect report no pid and
// are skipped.
func ListenerPIDs(ctx context.Context, port int) ([]int32, error) {
	conns, err := psnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return nil, err
	}
	seen := map[int32]bool{}
	var pids []int32
	for _, c := range conns {
		if c.Status != "LISTEN" || int(c.Laddr.Port) != port || c.Pid <= 0 || seen[c.Pid] {
			continue
		}
		seen[c.Pid] = true
		pids = append(pids, c.Pid)
	}
	return pids, nil
}

func pidsByName(ctx context.Context, name string) ([]int32, error) {
	procs, err := ps.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	var pids []int32
	for _, proc := range procs {
		if n, err := proc.NameWithContext(ctx); err == nil && n == name {
			pids = append(pids, proc.Pid)
		}
	}
	return pids, nil
}

// Alive reports whether pid exists and is not a zombie.
func Alive(ctx context.Context, pid int32) bool {
	proc, err := ps.NewProcessWithContext(ctx, pid)
	if err != nil {
		return false
	}
	status, err := proc.StatusWithContext(ctx)
	if err != nil {
		return false
	}
	for _, s := range status {
		if s == ps.Zombie {
			return false
		}
	}
	return true
}

func portFree(host string, port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}
