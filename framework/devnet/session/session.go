// Package session runs a devnet for the duration of a scope: it launches the
// supervisor, waits until node 0 is reachable, hands out a chain handle and
// tears the whole process group down on every exit path.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/crypto-com/devnet-harness/framework/devnet/chain"
	"github.com/crypto-com/devnet-harness/framework/devnet/config"
	"github.com/crypto-com/devnet-harness/framework/devnet/internal"
	"github.com/crypto-com/devnet-harness/framework/devnet/ports"
	"github.com/crypto-com/devnet-harness/framework/devnet/supervisor"
	"github.com/crypto-com/devnet-harness/framework/devnet/wait"
	"github.com/crypto-com/devnet-harness/framework/types"
	"go.uber.org/zap"
)

const (
	dataDirName = "data"
	logFileName = "supervisor.log"
)

var (
	// ErrSessionClosed is returned when starting a session that has already been torn down.
	ErrSessionClosed = errors.New("session closed")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("session already started")

	errSupervisorExited = errors.New("supervisor exited before the devnet became ready")
)

// Config describes one devnet session.
type Config struct {
	// ConfigPath is the devnet YAML handed to the supervisor.
	ConfigPath string
	// BasePort is the base port of the first validator.
	BasePort int
	// ChainID selects the chain directory under the data directory. It may be
	// left empty when the devnet config declares a single chain.
	ChainID string
	// Flavor selects the chain handle type.
	Flavor chain.Flavor
	// ReadinessService is the service of node 0 probed for readiness, ports.RPC if nil.
	ReadinessService *ports.Service
	// WorkDir holds the data directory and the supervisor log. A temporary
	// directory, removed on teardown, is used when empty.
	WorkDir string
	// KeepWorkDir leaves a temporary WorkDir in place after teardown.
	KeepWorkDir bool

	Settings config.Settings
	Logger   *zap.Logger
}

// Validate checks the config for common errors.
func (cfg Config) Validate() error {
	if cfg.ConfigPath == "" {
		return errors.New("devnet config path must be set")
	}
	if cfg.ReadinessService != nil {
		if _, err := cfg.ReadinessService.Offset(); err != nil {
			return err
		}
	}
	if err := ports.Validate(cfg.BasePort, 1); err != nil {
		return err
	}
	return cfg.Settings.WithDefaults().Validate()
}

func (cfg Config) readinessService() ports.Service {
	if cfg.ReadinessService == nil {
		return ports.RPC
	}
	return *cfg.ReadinessService
}

// Session owns one supervisor process group and the chain handle built on
// top of it. It is meant to be driven by a single goroutine.
type Session struct {
	cfg      Config
	settings config.Settings
	logger   *zap.Logger
	launcher *supervisor.Launcher
	chainID  string
	nodes    int

	mu    sync.RWMutex
	state State

	workDir     string
	ownsWorkDir bool
	logFile     *os.File
	proc        *supervisor.Process
	chain       types.Chain

	closeOnce sync.Once
	closeErr  error
}

var _ types.Devnet = (*Session)(nil)

// New validates cfg and returns a session in the NotStarted state.
func New(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	chainID := cfg.ChainID
	if chainID == "" {
		id, err := config.DefaultChainID(cfg.ConfigPath)
		if err != nil {
			return nil, err
		}
		chainID = id
	}
	nodes, err := config.ValidatorCount(cfg.ConfigPath, chainID)
	if err != nil {
		return nil, err
	}
	if err := ports.Validate(cfg.BasePort, nodes); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("chain_id", chainID), zap.Int("base_port", cfg.BasePort))

	settings := cfg.Settings.WithDefaults()
	return &Session{
		cfg:      cfg,
		settings: settings,
		logger:   logger,
		launcher: supervisor.NewLauncher(logger, settings),
		chainID:  chainID,
		nodes:    nodes,
	}, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()
	s.logger.Debug("session state changed", zap.Stringer("from", prev), zap.Stringer("to", state))
}

// ChainID returns the chain served by the session.
func (s *Session) ChainID() string { return s.chainID }

// BasePort returns the base port of node 0.
func (s *Session) BasePort() int { return s.cfg.BasePort }

// WorkDir returns the directory holding the data directory and the supervisor log.
func (s *Session) WorkDir() string { return s.workDir }

// DataDir returns the directory passed to the supervisor as --data.
func (s *Session) DataDir() string { return filepath.Join(s.workDir, dataDirName) }

// ChainDir returns <data>/<chain_id>.
func (s *Session) ChainDir() string { return filepath.Join(s.DataDir(), s.chainID) }

// LogPath returns the file capturing the supervisor's output.
func (s *Session) LogPath() string { return filepath.Join(s.workDir, logFileName) }

// Chain returns the chain handle, nil until the session is Ready.
func (s *Session) Chain() types.Chain { return s.chain }

// Process returns the supervisor process, nil before it was spawned.
func (s *Session) Process() *supervisor.Process { return s.proc }

// Start launches the supervisor and blocks until node 0 accepts connections
// and the generated configuration could be loaded. On failure everything that
// was started is torn down before the error is returned.
func (s *Session) Start(ctx context.Context) error {
	switch st := s.State(); st {
	case NotStarted:
	case TearingDown, Terminated:
		return ErrSessionClosed
	default:
		return fmt.Errorf("%w: state %s", ErrAlreadyStarted, st)
	}

	if err := s.start(ctx); err != nil {
		s.logger.Error("devnet failed to start", zap.Error(err))
		_ = s.Close(context.WithoutCancel(ctx))
		return err
	}
	return nil
}

func (s *Session) start(ctx context.Context) error {
	s.setState(Spawning)

	if err := s.prepareWorkDir(); err != nil {
		return err
	}
	logFile, err := os.Create(s.LogPath())
	if err != nil {
		return fmt.Errorf("supervisor log: %w", err)
	}
	s.logFile = logFile

	proc, err := s.launcher.WithOutput(logFile).Launch(ctx, s.cfg.ConfigPath, s.DataDir(), s.cfg.BasePort)
	if err != nil {
		return err
	}
	s.proc = proc

	s.setState(AwaitingReadiness)
	if err := s.awaitReadiness(ctx); err != nil {
		return err
	}

	runtime, err := config.LoadRuntime(ctx, s.ChainDir(),
		config.WithAttempts(s.settings.ConfigLoadAttempts),
		config.WithDelay(s.settings.ConfigLoadDelay),
		config.WithLogger(s.logger),
	)
	if err != nil {
		return err
	}

	handle, err := chain.Build(s.cfg.Flavor, s.ChainDir(), runtime,
		chain.WithHost(s.settings.Host),
		chain.WithLogger(s.logger),
	)
	if err != nil {
		return err
	}
	nodes, err := handle.NodeCount()
	if err != nil {
		return err
	}
	s.chain = handle

	s.setState(Ready)
	s.logger.Info("devnet ready", zap.Int("nodes", nodes), zap.String("data", s.DataDir()))
	return nil
}

// awaitReadiness polls node 0 until it accepts connections. An exit of the
// supervisor ends the wait early and is reported as a spawn failure.
func (s *Session) awaitReadiness(ctx context.Context) error {
	svc := s.cfg.readinessService()
	port, err := ports.Port(s.cfg.BasePort, svc)
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		select {
		case <-s.proc.Done():
			cancel(errSupervisorExited)
		case <-waitCtx.Done():
		}
	}()

	s.logger.Debug("waiting for node", zap.Stringer("service", svc), zap.Int("port", port), zap.Duration("timeout", s.settings.ReadinessTimeout))
	err = wait.ForPort(waitCtx, s.settings.Host, port,
		wait.WithTimeout(s.settings.ReadinessTimeout),
		wait.WithInterval(s.settings.ReadinessInterval),
		wait.WithDialTimeout(s.settings.DialTimeout),
		wait.WithLogger(s.logger),
	)
	if err == nil {
		return nil
	}
	if errors.Is(context.Cause(waitCtx), errSupervisorExited) && ctx.Err() == nil {
		exitErr := s.proc.ExitErr()
		if exitErr == nil {
			exitErr = errSupervisorExited
		}
		return &supervisor.SpawnError{
			Bin:      s.settings.SupervisorBin,
			Args:     s.launcher.Args(s.cfg.ConfigPath, s.DataDir(), s.cfg.BasePort),
			ExitCode: s.proc.ExitCode(),
			Err:      exitErr,
		}
	}
	return err
}

func (s *Session) prepareWorkDir() error {
	if s.cfg.WorkDir != "" {
		if err := os.MkdirAll(s.cfg.WorkDir, 0o755); err != nil {
			return fmt.Errorf("work dir: %w", err)
		}
		s.workDir = s.cfg.WorkDir
		return nil
	}
	dir, err := os.MkdirTemp("", "devnet-"+internal.DirName(s.chainID)+"-")
	if err != nil {
		return fmt.Errorf("work dir: %w", err)
	}
	s.workDir = dir
	s.ownsWorkDir = true
	return nil
}

// Close tears the session down: the chain handle is invalidated, the process
// group is terminated and reaped, and a temporary work directory is removed.
// Only the first call does any work; later calls return its result.
//
// Teardown problems are logged. The returned error only reports a process
// group that could not be removed.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.teardown(ctx)
	})
	return s.closeErr
}

func (s *Session) teardown(ctx context.Context) error {
	if s.State() == NotStarted {
		s.setState(Terminated)
		return nil
	}
	s.setState(TearingDown)

	if s.chain != nil {
		if err := s.chain.Close(); err != nil {
			s.logger.Warn("failed to close chain handle", zap.Error(err))
		}
	}

	var err error
	if s.proc != nil {
		if err = s.proc.Terminate(ctx); err != nil {
			s.logger.Error("failed to terminate devnet", zap.Int("pgid", s.proc.Pgid()), zap.Error(err))
		}
	}

	if s.logFile != nil {
		if cerr := s.logFile.Close(); cerr != nil {
			s.logger.Warn("failed to close supervisor log", zap.Error(cerr))
		}
	}

	if s.ownsWorkDir && !s.cfg.KeepWorkDir && err == nil {
		if rerr := os.RemoveAll(s.workDir); rerr != nil {
			s.logger.Warn("failed to remove work dir", zap.String("dir", s.workDir), zap.Error(rerr))
		}
	} else if s.ownsWorkDir {
		s.logger.Info("keeping work dir", zap.String("dir", s.workDir))
	}

	s.setState(Terminated)
	return err
}

// WithSession runs body against a freshly started devnet and tears the devnet
// down afterwards, whether body returns, fails or panics. Panics are re-raised
// once teardown is complete. Teardown errors are logged and never replace the
// error from startup or body.
func WithSession(ctx context.Context, cfg Config, body func(types.Chain) error) error {
	s, err := New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		r := recover()
		_ = s.Close(context.WithoutCancel(ctx))
		if r != nil {
			panic(r)
		}
	}()

	if err := s.Start(ctx); err != nil {
		return err
	}
	return body(s.Chain())
}
