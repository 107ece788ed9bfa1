package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultSupervisorBin is the devnet supervisor executable looked up in PATH.
	DefaultSupervisorBin = "pystarport"
	DefaultHost          = "127.0.0.1"

	// EnvSupervisorBin overrides Settings.SupervisorBin.
	EnvSupervisorBin = "DEVNET_SUPERVISOR_BIN"
	// EnvHost overrides Settings.Host.
	EnvHost = "DEVNET_HOST"
)

// Settings holds the knobs of the harness. Zero values are replaced by
// defaults in DefaultSettings and LoadSettings.
type Settings struct {
	// SupervisorBin is the supervisor executable, resolved through PATH.
	SupervisorBin string `toml:"supervisor_bin"`
	// SupervisorArgs are prepended to the "serve" sub-command.
	SupervisorArgs []string `toml:"supervisor_args"`
	// SupervisorEnv holds KEY=VALUE entries added to the inherited environment.
	SupervisorEnv []string `toml:"supervisor_env"`
	// Host is where node services are reachable.
	Host string `toml:"host"`

	ReadinessTimeout  time.Duration `toml:"readiness_timeout"`
	ReadinessInterval time.Duration `toml:"readiness_interval"`
	DialTimeout       time.Duration `toml:"dial_timeout"`

	ConfigLoadAttempts uint          `toml:"config_load_attempts"`
	ConfigLoadDelay    time.Duration `toml:"config_load_delay"`

	// SpawnCheck is how long a freshly spawned supervisor must stay alive to
	// count as started.
	SpawnCheck time.Duration `toml:"spawn_check"`
	// TeardownGrace is how long teardown waits after SIGTERM before sending
	// SIGKILL to the process group. A negative value waits forever.
	TeardownGrace time.Duration `toml:"teardown_grace"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		SupervisorBin:      DefaultSupervisorBin,
		Host:               DefaultHost,
		ReadinessTimeout:   40 * time.Second,
		ReadinessInterval:  100 * time.Millisecond,
		DialTimeout:        time.Second,
		ConfigLoadAttempts: DefaultLoadAttempts,
		ConfigLoadDelay:    DefaultLoadDelay,
		SpawnCheck:         200 * time.Millisecond,
		TeardownGrace:      30 * time.Second,
	}
}

// WithDefaults fills every zero field from DefaultSettings.
func (s Settings) WithDefaults() Settings {
	d := DefaultSettings()
	if s.SupervisorBin == "" {
		s.SupervisorBin = d.SupervisorBin
	}
	if s.Host == "" {
		s.Host = d.Host
	}
	if s.ReadinessTimeout == 0 {
		s.ReadinessTimeout = d.ReadinessTimeout
	}
	if s.ReadinessInterval == 0 {
		s.ReadinessInterval = d.ReadinessInterval
	}
	if s.DialTimeout == 0 {
		s.DialTimeout = d.DialTimeout
	}
	if s.ConfigLoadAttempts == 0 {
		s.ConfigLoadAttempts = d.ConfigLoadAttempts
	}
	if s.ConfigLoadDelay == 0 {
		s.ConfigLoadDelay = d.ConfigLoadDelay
	}
	if s.SpawnCheck == 0 {
		s.SpawnCheck = d.SpawnCheck
	}
	if s.TeardownGrace == 0 {
		s.TeardownGrace = d.TeardownGrace
	}
	return s
}

// WithEnv applies the DEVNET_* environment overrides.
func (s Settings) WithEnv() Settings {
	if bin := os.Getenv(EnvSupervisorBin); bin != "" {
		s.SupervisorBin = bin
	}
	if host := os.Getenv(EnvHost); host != "" {
		s.Host = host
	}
	return s
}

// Validate checks the settings for common errors.
func (s Settings) Validate() error {
	var errs []error
	if s.SupervisorBin == "" {
		errs = append(errs, errors.New("supervisor binary must be set"))
	}
	if s.Host == "" {
		errs = append(errs, errors.New("host must be set"))
	}
	if s.ReadinessTimeout <= 0 {
		errs = append(errs, fmt.Errorf("readiness timeout must be positive, got %s", s.ReadinessTimeout))
	}
	if s.ReadinessInterval <= 0 {
		errs = append(errs, fmt.Errorf("readiness interval must be positive, got %s", s.ReadinessInterval))
	}
	if s.DialTimeout <= 0 {
		errs = append(errs, fmt.Errorf("dial timeout must be positive, got %s", s.DialTimeout))
	}
	if s.SpawnCheck < 0 {
		errs = append(errs, fmt.Errorf("spawn check must not be negative, got %s", s.SpawnCheck))
	}
	return errors.Join(errs...)
}

// LoadSettings decodes a TOML settings file on top of the defaults and applies
// environment overrides.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return Settings{}, fmt.Errorf("decode settings %s: %w", path, err)
	}
	s = s.WithDefaults().WithEnv()
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings %s: %w", path, err)
	}
	return s, nil
}
