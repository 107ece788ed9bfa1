package session

import (
	"github.com/crypto-com/devnet-harness/framework/devnet/chain"
	"github.com/crypto-com/devnet-harness/framework/devnet/config"
	"github.com/crypto-com/devnet-harness/framework/devnet/ports"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// Builder provides a fluent interface for building a session Config bound to a test.
type Builder struct {
	t   TestingT
	cfg Config
}

// NewBuilder returns a Builder with default settings, environment overrides
// applied, and a logger writing to t.
func NewBuilder(t TestingT) *Builder {
	return &Builder{
		t: t,
		cfg: Config{
			Settings: config.DefaultSettings().WithEnv(),
			Logger:   zaptest.NewLogger(t),
		},
	}
}

// WithConfig replaces the whole config, e.g. with a preset.
func (b *Builder) WithConfig(cfg Config) *Builder {
	if cfg.Logger == nil {
		cfg.Logger = b.cfg.Logger
	}
	b.cfg = cfg
	return b
}

// WithConfigPath sets the devnet YAML handed to the supervisor.
func (b *Builder) WithConfigPath(path string) *Builder {
	b.cfg.ConfigPath = path
	return b
}

// WithBasePort sets the base port of the first validator.
func (b *Builder) WithBasePort(port int) *Builder {
	b.cfg.BasePort = port
	return b
}

// WithChainID sets the chain whose directory is read after startup.
func (b *Builder) WithChainID(chainID string) *Builder {
	b.cfg.ChainID = chainID
	return b
}

// WithFlavor sets the chain handle type.
func (b *Builder) WithFlavor(flavor chain.Flavor) *Builder {
	b.cfg.Flavor = flavor
	return b
}

// WithReadinessService sets the node 0 service probed for readiness.
func (b *Builder) WithReadinessService(svc ports.Service) *Builder {
	b.cfg.ReadinessService = &svc
	return b
}

// WithWorkDir sets the directory for the data directory and the supervisor log.
func (b *Builder) WithWorkDir(dir string) *Builder {
	b.cfg.WorkDir = dir
	return b
}

// WithSettings sets the harness settings.
func (b *Builder) WithSettings(settings config.Settings) *Builder {
	b.cfg.Settings = settings
	return b
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.cfg.Logger = logger
	return b
}

// Build returns the configured Config.
func (b *Builder) Build() Config {
	return b.cfg
}

// Start starts the session and binds its teardown to the test.
func (b *Builder) Start() *Session {
	b.t.Helper()
	return Start(b.t, b.cfg)
}
