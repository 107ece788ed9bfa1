// Package config reads the files a devnet supervisor generates and the
// settings that drive the harness itself.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

const (
	// RuntimeConfigFile is the per-chain file the supervisor writes into the chain directory.
	RuntimeConfigFile = "config.json"
	// GenesisFile is the genesis document of a chain directory.
	GenesisFile = "genesis.json"

	DefaultLoadAttempts = 20
	DefaultLoadDelay    = 100 * time.Millisecond
)

var (
	// ErrConfigMissing means the generated file does not exist (yet).
	ErrConfigMissing = errors.New("config missing")
	// ErrConfigMalformed means the generated file does not match the expected schema.
	ErrConfigMalformed = errors.New("config malformed")
)

// ConfigError carries the path of the file that failed to load.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("load %s: %v", e.Path, e.Err) }

func (e *ConfigError) Unwrap() error { return e.Err }

// Validator describes one validator node of a running devnet.
type Validator struct {
	BasePort int    `json:"base_port"`
	Hostname string `json:"hostname,omitempty"`
	Moniker  string `json:"moniker,omitempty"`
}

// Account is a genesis account declared in the devnet config.
type Account struct {
	Name  string `json:"name"`
	Coins string `json:"coins,omitempty"`
}

// NodeRuntimeConfig is the subset of the supervisor's generated config.json
// consumed by the harness. Validators are ordered by node index.
type NodeRuntimeConfig struct {
	ChainID    string      `json:"chain_id,omitempty"`
	Cmd        string      `json:"cmd,omitempty"`
	Validators []Validator `json:"validators"`
	Accounts   []Account   `json:"accounts,omitempty"`
}

// BasePort returns the base port of validator i.
func (c NodeRuntimeConfig) BasePort(i int) (int, error) {
	if i < 0 || i >= len(c.Validators) {
		return 0, fmt.Errorf("node index %d out of range [0, %d)", i, len(c.Validators))
	}
	return c.Validators[i].BasePort, nil
}

// Validate checks the schema invariants: at least one validator and unique,
// positive base ports.
func (c NodeRuntimeConfig) Validate() error {
	if len(c.Validators) == 0 {
		return fmt.Errorf("%w: no validators", ErrConfigMalformed)
	}
	seen := make(map[int]int, len(c.Validators))
	for i, v := range c.Validators {
		if v.BasePort <= 0 {
			return fmt.Errorf("%w: validator %d has invalid base_port %d", ErrConfigMalformed, i, v.BasePort)
		}
		if j, ok := seen[v.BasePort]; ok {
			return fmt.Errorf("%w: validators %d and %d share base_port %d", ErrConfigMalformed, j, i, v.BasePort)
		}
		seen[v.BasePort] = i
	}
	return nil
}

// ParseRuntime decodes and validates the content of a config.json.
func ParseRuntime(bz []byte) (NodeRuntimeConfig, error) {
	var cfg NodeRuntimeConfig
	if err := json.Unmarshal(bz, &cfg); err != nil {
		return NodeRuntimeConfig{}, fmt.Errorf("%w: %v", ErrConfigMalformed, err)
	}
	if err := cfg.Validate(); err != nil {
		return NodeRuntimeConfig{}, err
	}
	return cfg, nil
}

type loadOptions struct {
	attempts uint
	delay    time.Duration
	logger   *zap.Logger
}

// LoadOption configures LoadRuntime.
type LoadOption func(*loadOptions)

// WithAttempts sets how many reads are made before giving up. One disables retries.
func WithAttempts(n uint) LoadOption { return func(o *loadOptions) { o.attempts = n } }

// WithDelay sets the pause between reads.
func WithDelay(d time.Duration) LoadOption { return func(o *loadOptions) { o.delay = d } }

// WithLogger logs failed reads at debug level.
func WithLogger(l *zap.Logger) LoadOption { return func(o *loadOptions) { o.logger = l } }

// LoadRuntime reads <chainDir>/config.json.
//
// An open RPC port does not mean the supervisor has finished writing this
// file, so missing or unparsable content is retried a bounded number of times
// before the last error is returned.
func LoadRuntime(ctx context.Context, chainDir string, opts ...LoadOption) (NodeRuntimeConfig, error) {
	o := loadOptions{attempts: DefaultLoadAttempts, delay: DefaultLoadDelay, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.attempts == 0 {
		o.attempts = 1
	}

	path := filepath.Join(chainDir, RuntimeConfigFile)
	cfg, err := retry.DoWithData(
		func() (NodeRuntimeConfig, error) {
			bz, err := readFile(path)
			if err != nil {
				return NodeRuntimeConfig{}, err
			}
			return ParseRuntime(bz)
		},
		retry.Context(ctx),
		retry.Attempts(o.attempts),
		retry.Delay(o.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ErrConfigMissing) || errors.Is(err, ErrConfigMalformed)
		}),
		retry.OnRetry(func(n uint, err error) {
			o.logger.Debug("runtime config not ready", zap.String("path", path), zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		return NodeRuntimeConfig{}, &ConfigError{Path: path, Err: err}
	}
	return cfg, nil
}

// readFile maps a missing file to ErrConfigMissing.
func readFile(path string) ([]byte, error) {
	bz, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrConfigMissing, path)
	}
	if err != nil {
		return nil, err
	}
	return bz, nil
}
