//go:build unix

package supervisor

import (
	"errors"
	"syscall"
)

// sysProcAttr makes the supervisor the leader of a new process group.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func (p *Process) signalGroup(sig syscall.Signal) error {
	if p.pgid <= 0 {
		return syscall.ESRCH
	}
	return syscall.Kill(-p.pgid, sig)
}

// groupAlive probes the group with signal 0. EPERM still means a member exists.
func (p *Process) groupAlive() bool {
	if p.pgid <= 0 {
		return false
	}
	err := syscall.Kill(-p.pgid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

func isGone(err error) bool {
	return errors.Is(err, syscall.ESRCH)
}
