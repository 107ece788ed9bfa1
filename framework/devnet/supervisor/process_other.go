//go:build !unix

package supervisor

import (
	"errors"
	"os"
	"syscall"
)

// Process groups are a unix concept; elsewhere only the supervisor itself is
// signalled and its exit is taken as the end of the group.
func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

func (p *Process) signalGroup(_ syscall.Signal) error {
	if p.cmd.Process == nil {
		return os.ErrProcessDone
	}
	return p.cmd.Process.Kill()
}

func (p *Process) groupAlive() bool {
	return !p.Exited()
}

func isGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone)
}
