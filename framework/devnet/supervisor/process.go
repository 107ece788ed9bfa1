package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	groupPollInterval = 50 * time.Millisecond
	// killWait bounds how long teardown waits for the group to vanish after SIGKILL.
	killWait = 5 * time.Second
)

var (
	// ErrSpawnFailure is matched by errors from Launch when the supervisor could not be started.
	ErrSpawnFailure = errors.New("supervisor spawn failed")
	// ErrTeardown is matched by errors from Terminate when the process group could not be removed.
	ErrTeardown = errors.New("supervisor teardown failed")
)

// SpawnError describes a supervisor that could not be started or died right away.
type SpawnError struct {
	Bin      string
	Args     []string
	ExitCode int
	Err      error
}

func (e *SpawnError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("spawn %s %v: exited immediately with code %d: %v", e.Bin, e.Args, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("spawn %s %v: %v", e.Bin, e.Args, e.Err)
}

func (e *SpawnError) Is(target error) bool { return target == ErrSpawnFailure }

func (e *SpawnError) Unwrap() error { return e.Err }

// Process is a running supervisor and the process group it leads. It is owned
// by a single session; Terminate may be called any number of times.
type Process struct {
	cmd    *exec.Cmd
	pgid   int
	logger *zap.Logger
	grace  time.Duration
	output io.Closer

	started time.Time
	done    chan struct{}

	mu       sync.RWMutex
	exitErr  error
	exitCode int

	waitOnce sync.Once
}

func newProcess(cmd *exec.Cmd, logger *zap.Logger, grace time.Duration, output io.Closer) *Process {
	return &Process{
		cmd:      cmd,
		logger:   logger,
		grace:    grace,
		output:   output,
		done:     make(chan struct{}),
		exitCode: -1,
	}
}

// Pid returns the supervisor's process ID.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

// Pgid returns the process group ID shared by the supervisor and every node it forked.
func (p *Process) Pgid() int { return p.pgid }

// Done is closed once the supervisor itself has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// Exited reports whether the supervisor has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitErr returns the error reported by wait, nil while running or after a clean exit.
func (p *Process) ExitErr() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// ExitCode returns the exit code, or -1 while running or when killed by a signal.
func (p *Process) ExitCode() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitCode
}

// Runtime returns how long the supervisor has been (or was) running.
func (p *Process) Runtime() time.Duration {
	if p.started.IsZero() {
		return 0
	}
	return time.Since(p.started)
}

func (p *Process) start() error {
	if err := p.cmd.Start(); err != nil {
		return err
	}
	p.started = time.Now()
	p.pgid = p.cmd.Process.Pid
	go p.waitLoop()
	return nil
}

// waitLoop reaps the supervisor and records how it exited.
func (p *Process) waitLoop() {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		if errors.Is(err, exec.ErrWaitDelay) {
			// nodes forked by the supervisor still hold its output; they are
			// group members and go with the group on Terminate.
			p.logger.Debug("supervisor exited while its output was still held open")
			err = nil
		}

		code := 0
		if err != nil {
			code = -1
		}
		if ps := p.cmd.ProcessState; ps != nil {
			code = ps.ExitCode()
		}

		p.mu.Lock()
		p.exitErr = err
		p.exitCode = code
		p.mu.Unlock()

		if p.output != nil {
			_ = p.output.Close()
		}
		close(p.done)
	})
}

// Terminate sends SIGTERM to the whole process group and blocks until the
// supervisor has been reaped and no member of the group is left. If the group
// is still around after the grace period it is sent SIGKILL.
//
// Terminating a group that is already gone is a no-op. A signal that cannot be
// delivered is logged, not returned: the goal is an absent process group, and
// the wait below decides whether that holds.
func (p *Process) Terminate(ctx context.Context) error {
	log := p.logger.With(zap.Int("pgid", p.pgid))

	if err := p.signalGroup(syscall.SIGTERM); err != nil {
		if isGone(err) {
			log.Debug("process group already gone")
		} else {
			log.Warn("failed to signal process group", zap.Error(err))
		}
	}

	var graceC <-chan time.Time
	if p.grace >= 0 {
		graceTimer := time.NewTimer(p.grace)
		defer graceTimer.Stop()
		graceC = graceTimer.C
	}
	var killC <-chan time.Time

	ticker := time.NewTicker(groupPollInterval)
	defer ticker.Stop()

	doneC := p.done
	for {
		if p.Exited() && !p.groupAlive() {
			log.Debug("process group terminated", zap.Duration("runtime", p.Runtime()))
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for process group %d: %w", ErrTeardown, p.pgid, ctx.Err())
		case <-graceC:
			graceC = nil
			log.Warn("process group ignored SIGTERM, sending SIGKILL", zap.Duration("grace", p.grace))
			if err := p.signalGroup(syscall.SIGKILL); err != nil && !isGone(err) {
				log.Warn("failed to kill process group", zap.Error(err))
			}
			killTimer := time.NewTimer(killWait)
			defer killTimer.Stop()
			killC = killTimer.C
		case <-killC:
			return fmt.Errorf("%w: process group %d still present %s after SIGKILL", ErrTeardown, p.pgid, killWait)
		case <-doneC:
			doneC = nil
		case <-ticker.C:
		}
	}
}
