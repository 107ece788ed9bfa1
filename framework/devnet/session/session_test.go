package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/crypto-com/devnet-harness/framework/devnet/chain"
	"github.com/crypto-com/devnet-harness/framework/devnet/config"
	"github.com/crypto-com/devnet-harness/framework/devnet/ports"
	"github.com/crypto-com/devnet-harness/framework/devnet/supervisor"
	"github.com/crypto-com/devnet-harness/framework/devnet/wait"
	"github.com/crypto-com/devnet-harness/framework/testutil/fakesupervisor"
	"github.com/crypto-com/devnet-harness/framework/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const host = "127.0.0.1"

func writeDevnetConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devnet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func testConfig(t *testing.T, body string, basePort int) Config {
	t.Helper()
	settings, err := fakesupervisor.Settings()
	require.NoError(t, err)
	return Config{
		ConfigPath: writeDevnetConfig(t, body),
		BasePort:   basePort,
		WorkDir:    t.TempDir(),
		Settings:   settings,
		Logger:     zaptest.NewLogger(t),
	}
}

func rpcPort(basePort int) int {
	return ports.MustPort(basePort, ports.RPC)
}

func requirePortClosed(t *testing.T, port int) {
	t.Helper()
	require.False(t, wait.IsOpen(host, port, 200*time.Millisecond), "port %d still accepts connections", port)
}

func TestWithSession(t *testing.T) {
	const basePort = 26800
	cfg := testConfig(t, "chainmain-1:\n  cmd: chain-maind\n", basePort)

	var handle types.Chain
	err := WithSession(context.Background(), cfg, func(c types.Chain) error {
		handle = c
		n, err := c.NodeCount()
		require.NoError(t, err)
		require.Equal(t, 1, n)
		id, err := c.ChainID()
		require.NoError(t, err)
		require.Equal(t, "chainmain-1", id)

		rpc, err := c.RPCEndpoint(0)
		require.NoError(t, err)
		require.Equal(t, "tcp://127.0.0.1:26801", rpc)
		require.NoError(t, wait.ForPort(context.Background(), host, rpcPort(basePort), wait.WithTimeout(time.Second)))

		first, err := c.Client(context.Background())
		require.NoError(t, err)
		second, err := c.Client(context.Background())
		require.NoError(t, err)
		require.Same(t, first, second)
		return nil
	})
	require.NoError(t, err)

	requirePortClosed(t, rpcPort(basePort))
	_, err = handle.Client(context.Background())
	require.ErrorIs(t, err, chain.ErrChainClosed)
	_, err = handle.EVMRPCEndpoint(0)
	require.ErrorIs(t, err, chain.ErrChainClosed)
	_, err = handle.NodeCount()
	require.ErrorIs(t, err, chain.ErrChainClosed)
}

func TestWithSessionBodyError(t *testing.T) {
	const basePort = 27600
	cfg := testConfig(t, "chainmain-1: {}\n", basePort)
	bodyErr := errors.New("assertion failed")

	err := WithSession(context.Background(), cfg, func(types.Chain) error {
		return bodyErr
	})
	require.ErrorIs(t, err, bodyErr)
	requirePortClosed(t, rpcPort(basePort))
}

func TestWithSessionPanic(t *testing.T) {
	const basePort = 27650
	cfg := testConfig(t, "chainmain-1: {}\n", basePort)

	require.PanicsWithValue(t, "boom", func() {
		_ = WithSession(context.Background(), cfg, func(types.Chain) error {
			panic("boom")
		})
	})
	requirePortClosed(t, rpcPort(basePort))
}

func TestReadinessTimeoutTearsDown(t *testing.T) {
	const basePort = 27700
	cfg := testConfig(t, "chainmain-1:\n  fake_mode: silent\n", basePort)
	cfg.Settings.ReadinessTimeout = 500 * time.Millisecond

	s, err := New(cfg)
	require.NoError(t, err)

	err = s.Start(context.Background())
	require.ErrorIs(t, err, wait.ErrReadinessTimeout)

	var timeoutErr *wait.ReadinessTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, rpcPort(basePort), timeoutErr.Port)
	require.Equal(t, host, timeoutErr.Host)

	require.Equal(t, Terminated, s.State())
	require.Nil(t, s.Chain())
	require.True(t, s.Process().Exited())
	require.NoError(t, s.Close(context.Background()), "teardown is idempotent")
}

func TestEarlyCrashIsSpawnFailure(t *testing.T) {
	cfg := testConfig(t, "chainmain-1:\n  fake_mode: crash\n", 27750)

	start := time.Now()
	err := WithSession(context.Background(), cfg, func(types.Chain) error {
		t.Fatal("body must not run")
		return nil
	})
	require.ErrorIs(t, err, supervisor.ErrSpawnFailure)

	var spawnErr *supervisor.SpawnError
	require.ErrorAs(t, err, &spawnErr)
	require.Equal(t, 4, spawnErr.ExitCode)
	require.Less(t, time.Since(start), cfg.Settings.ReadinessTimeout)
}

func TestConfigWrittenAfterReadiness(t *testing.T) {
	cfg := testConfig(t, "chainmain-1:\n  fake_config_delay: 300ms\n  validators: [{}, {}]\n", 27800)

	err := WithSession(context.Background(), cfg, func(c types.Chain) error {
		n, err := c.NodeCount()
		require.NoError(t, err)
		require.Equal(t, 2, n)
		return nil
	})
	require.NoError(t, err)
}

func TestCronosSession(t *testing.T) {
	const basePort = 27850
	cfg := testConfig(t, `cronos_777-1:
  cmd: cronosd
  genesis:
    app_state:
      cronos:
        params:
          enable_auto_deployment: false
`, basePort)
	cfg.Flavor = chain.FlavorCronos
	svc := ports.EVMRPC
	cfg.ReadinessService = &svc

	err := WithSession(context.Background(), cfg, func(c types.Chain) error {
		cronos, ok := c.(*chain.Cronos)
		require.True(t, ok, "handle is %T", c)
		require.False(t, cronos.EnableAutoDeployment())

		url, err := cronos.EVMRPCEndpoint(0)
		require.NoError(t, err)
		require.Equal(t, "http://127.0.0.1:27857", url)
		return nil
	})
	require.NoError(t, err)
}

func TestSessionLifecycle(t *testing.T) {
	const basePort = 27900
	cfg := testConfig(t, "chainmain-1: {}\n", basePort)

	s, err := New(cfg)
	require.NoError(t, err)
	require.Equal(t, NotStarted, s.State())
	require.Equal(t, "chainmain-1", s.ChainID())

	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, Ready, s.State())
	require.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
	require.FileExists(t, filepath.Join(s.ChainDir(), config.RuntimeConfigFile))
	require.FileExists(t, s.LogPath())

	pgid := s.Process().Pgid()
	require.Positive(t, pgid)

	require.NoError(t, s.Close(context.Background()))
	require.Equal(t, Terminated, s.State())
	require.NoError(t, s.Close(context.Background()))
	require.ErrorIs(t, s.Start(context.Background()), ErrSessionClosed)
	requirePortClosed(t, rpcPort(basePort))

	// user supplied work dirs are left in place
	require.DirExists(t, s.WorkDir())
}

func TestCloseBeforeStart(t *testing.T) {
	s, err := New(testConfig(t, "chainmain-1: {}\n", 27950))
	require.NoError(t, err)

	require.NoError(t, s.Close(context.Background()))
	require.Equal(t, Terminated, s.State())
	require.ErrorIs(t, s.Start(context.Background()), ErrSessionClosed)
}

func TestTemporaryWorkDirRemoved(t *testing.T) {
	cfg := testConfig(t, "chainmain-1: {}\n", 28000)
	cfg.WorkDir = ""

	s, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	dir := s.WorkDir()
	require.DirExists(t, dir)

	require.NoError(t, s.Close(context.Background()))
	require.NoDirExists(t, dir)
}

func TestStartCancelled(t *testing.T) {
	const basePort = 28050
	cfg := testConfig(t, "chainmain-1:\n  fake_mode: silent\n", basePort)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	s, err := New(cfg)
	require.NoError(t, err)
	err = s.Start(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotErrorIs(t, err, wait.ErrReadinessTimeout)
	require.Equal(t, Terminated, s.State())
	require.True(t, s.Process().Exited())
}

func TestConfigValidate(t *testing.T) {
	valid := testConfig(t, "chainmain-1: {}\n", 26800)
	bad := ports.Service(42)

	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"no config path", func(c *Config) { c.ConfigPath = "" }, "config path"},
		{"no base port", func(c *Config) { c.BasePort = 0 }, "base port"},
		{"port range overflow", func(c *Config) { c.BasePort = ports.MaxPort }, "exceeds"},
		{"unknown readiness service", func(c *Config) { c.ReadinessService = &bad }, "service"},
		{"bad settings", func(c *Config) { c.Settings.ReadinessInterval = -time.Second }, "readiness interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestNewRequiresChainID(t *testing.T) {
	cfg := testConfig(t, "chainmain-1: {}\ncronos_777-1: {}\n", 26800)
	_, err := New(cfg)
	require.Error(t, err)

	cfg.ChainID = "cronos_777-1"
	s, err := New(cfg)
	require.NoError(t, err)
	require.Equal(t, "cronos_777-1", s.ChainID())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "not-started", NotStarted.String())
	require.Equal(t, "awaiting-readiness", AwaitingReadiness.String())
	require.Equal(t, "terminated", Terminated.String())
	require.Equal(t, "unknown", State(99).String())
}
