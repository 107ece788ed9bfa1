// Package supervisor spawns the external devnet supervisor and owns the
// process group it creates.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/crypto-com/devnet-harness/framework/devnet/config"
	"github.com/crypto-com/devnet-harness/framework/devnet/ports"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"
)

// outputWaitDelay bounds how long reaping the supervisor waits for forked
// nodes that inherited its output pipe.
const outputWaitDelay = 2 * time.Second

// Launcher starts supervisor processes.
type Launcher struct {
	logger   *zap.Logger
	settings config.Settings
	output   io.Writer
}

// NewLauncher returns a Launcher using the given settings. Zero settings fields
// take their defaults.
func NewLauncher(logger *zap.Logger, settings config.Settings) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{
		logger:   logger.With(zap.String("component", "supervisor")),
		settings: settings.WithDefaults(),
	}
}

// WithOutput sends the supervisor's stdout and stderr to w instead of the
// debug log. Nodes forked by the supervisor inherit the output. When w is an
// *os.File they write to it directly; any other writer is fed through a pipe
// that reaping waits on for at most two seconds.
func (l *Launcher) WithOutput(w io.Writer) *Launcher {
	l.output = w
	return l
}

// Args returns the command line arguments, without the binary, used to serve
// the devnet described by configPath.
func (l *Launcher) Args(configPath, dataDir string, basePort int) []string {
	args := append([]string{}, l.settings.SupervisorArgs...)
	return append(args,
		"serve",
		"--config", configPath,
		"--data", dataDir,
		"--base_port", strconv.Itoa(basePort),
		"--quiet",
	)
}

// Launch starts the supervisor for the devnet described by configPath as the
// leader of a new process group and returns without waiting for the nodes to
// become reachable.
//
// dataDir must be absent or empty: leftovers usually mean a previous run was
// never torn down. A missing executable, or one that exits within the spawn
// check window, is reported as a *SpawnError.
func (l *Launcher) Launch(ctx context.Context, configPath, dataDir string, basePort int) (*Process, error) {
	if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("devnet config: %w", err)
	}
	if err := ports.Validate(basePort, 1); err != nil {
		return nil, fmt.Errorf("base port: %w", err)
	}
	if err := prepareDataDir(dataDir); err != nil {
		return nil, err
	}

	args := l.Args(configPath, dataDir, basePort)
	bin, err := exec.LookPath(l.settings.SupervisorBin)
	if err != nil {
		return nil, &SpawnError{Bin: l.settings.SupervisorBin, Args: args, ExitCode: -1, Err: err}
	}

	log := l.logger.With(zap.String("config", configPath), zap.Int("base_port", basePort))

	cmd := exec.Command(bin, args...)
	if len(l.settings.SupervisorEnv) > 0 {
		cmd.Env = append(os.Environ(), l.settings.SupervisorEnv...)
	}
	cmd.SysProcAttr = sysProcAttr()
	cmd.WaitDelay = outputWaitDelay

	var output io.Closer
	if l.output != nil {
		cmd.Stdout = l.output
		cmd.Stderr = l.output
	} else {
		w := &zapio.Writer{Log: log, Level: zapcore.DebugLevel}
		cmd.Stdout = w
		cmd.Stderr = w
		output = w
	}

	proc := newProcess(cmd, log, l.settings.TeardownGrace, output)
	log.Info("starting supervisor", zap.String("bin", bin), zap.Strings("args", args))
	if err := proc.start(); err != nil {
		return nil, &SpawnError{Bin: bin, Args: args, ExitCode: -1, Err: err}
	}

	check := time.NewTimer(l.settings.SpawnCheck)
	defer check.Stop()

	select {
	case <-proc.Done():
		exitErr := proc.ExitErr()
		if exitErr == nil {
			exitErr = errors.New("supervisor exited before the devnet was up")
		}
		return nil, &SpawnError{Bin: bin, Args: args, ExitCode: proc.ExitCode(), Err: exitErr}
	case <-ctx.Done():
		if err := proc.Terminate(context.Background()); err != nil {
			log.Warn("teardown after cancelled launch failed", zap.Error(err))
		}
		return nil, ctx.Err()
	case <-check.C:
	}

	log.Debug("supervisor started", zap.Int("pid", proc.Pid()), zap.Int("pgid", proc.Pgid()))
	return proc, nil
}

// prepareDataDir creates dataDir, refusing directories with content.
func prepareDataDir(dataDir string) error {
	entries, err := os.ReadDir(dataDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return os.MkdirAll(dataDir, 0o755)
	case err != nil:
		return fmt.Errorf("data dir %s: %w", dataDir, err)
	case len(entries) > 0:
		return fmt.Errorf("data dir %s is not empty, a previous devnet may still be running", dataDir)
	}
	return nil
}
