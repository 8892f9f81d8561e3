//go:build !unix

package process

import (
	"os"
	"os/exec"
	"syscall"
)

// Without process groups only the direct child can be signalled.

func setProcessGroup(cmd *exec.Cmd) {}

func signalGroup(pid int, _ syscall.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	_ = p.Kill()
	return nil
}

func groupAlive(int) bool { return false }

func terminateSignal() syscall.Signal { return syscall.SIGKILL }
func killSignal() syscall.Signal      { return syscall.SIGKILL }
