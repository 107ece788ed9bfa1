package supervisor

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/crypto-com/devnet-harness/framework/devnet/config"
	"github.com/crypto-com/devnet-harness/framework/devnet/ports"
	"github.com/crypto-com/devnet-harness/framework/devnet/wait"
	"github.com/crypto-com/devnet-harness/framework/testutil/fakesupervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// syncBuffer collects supervisor output written from the exec copy goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeDevnetConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devnet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func fakeSettings(t *testing.T) config.Settings {
	t.Helper()
	s, err := fakesupervisor.Settings()
	require.NoError(t, err)
	return s
}

func launch(t *testing.T, settings config.Settings, configBody string, basePort int) *Process {
	t.Helper()
	launcher := NewLauncher(zaptest.NewLogger(t), settings)
	dataDir := filepath.Join(t.TempDir(), "data")

	proc, err := launcher.Launch(context.Background(), writeDevnetConfig(t, configBody), dataDir, basePort)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = proc.signalGroup(syscall.SIGKILL)
	})
	return proc
}

func TestLauncherArgs(t *testing.T) {
	settings := config.DefaultSettings()
	settings.SupervisorArgs = []string{"--verbose"}
	l := NewLauncher(nil, settings)

	require.Equal(t, []string{
		"--verbose", "serve",
		"--config", "/cfg/devnet.yaml",
		"--data", "/tmp/data",
		"--base_port", "26800",
		"--quiet",
	}, l.Args("/cfg/devnet.yaml", "/tmp/data", 26800))
}

func TestLaunchMissingBinary(t *testing.T) {
	settings := fakeSettings(t)
	settings.SupervisorBin = "definitely-not-a-devnet-supervisor"

	launcher := NewLauncher(zaptest.NewLogger(t), settings)
	_, err := launcher.Launch(context.Background(), writeDevnetConfig(t, "chainmain-1: {}\n"), filepath.Join(t.TempDir(), "data"), 27100)

	require.ErrorIs(t, err, ErrSpawnFailure)
	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	require.Equal(t, -1, spawnErr.ExitCode)
	require.Equal(t, "definitely-not-a-devnet-supervisor", spawnErr.Bin)
}

func TestLaunchImmediateExit(t *testing.T) {
	settings := fakeSettings(t)
	settings.SpawnCheck = 5 * time.Second

	out := &syncBuffer{}
	launcher := NewLauncher(zaptest.NewLogger(t), settings).WithOutput(out)
	_, err := launcher.Launch(context.Background(),
		writeDevnetConfig(t, "chainmain-1:\n  fake_mode: exit\n"),
		filepath.Join(t.TempDir(), "data"), 27110)

	require.ErrorIs(t, err, ErrSpawnFailure)
	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	require.Equal(t, 3, spawnErr.ExitCode)
	require.Contains(t, out.String(), "refused to start")
}

func TestLaunchPreconditions(t *testing.T) {
	settings := fakeSettings(t)
	launcher := NewLauncher(zaptest.NewLogger(t), settings)
	cfg := writeDevnetConfig(t, "chainmain-1: {}\n")

	t.Run("missing config", func(t *testing.T) {
		_, err := launcher.Launch(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"), filepath.Join(t.TempDir(), "data"), 27120)
		require.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("non-empty data dir", func(t *testing.T) {
		dataDir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dataDir, "leftover"), nil, 0o644))

		_, err := launcher.Launch(context.Background(), cfg, dataDir, 27120)
		require.ErrorContains(t, err, "not empty")
	})

	t.Run("port range too high", func(t *testing.T) {
		_, err := launcher.Launch(context.Background(), cfg, filepath.Join(t.TempDir(), "data"), ports.MaxPort-2)
		require.Error(t, err)
	})
}

func TestTerminateRemovesGroup(t *testing.T) {
	const basePort = 27200
	settings := fakeSettings(t)
	proc := launch(t, settings, "chainmain-1:\n  validators: [{}, {}]\n", basePort)

	for i := 0; i < 2; i++ {
		rpc := ports.MustPort(basePort+i*ports.NodeSpan, ports.RPC)
		require.NoError(t, wait.ForPort(context.Background(), "127.0.0.1", rpc, wait.WithTimeout(10*time.Second)))
	}
	require.True(t, proc.groupAlive())

	require.NoError(t, proc.Terminate(context.Background()))
	require.True(t, proc.Exited())
	require.False(t, proc.groupAlive())
	require.Equal(t, 0, proc.ExitCode())

	for i := 0; i < 2; i++ {
		rpc := ports.MustPort(basePort+i*ports.NodeSpan, ports.RPC)
		assert.False(t, wait.IsOpen("127.0.0.1", rpc, 200*time.Millisecond), "port %d still open", rpc)
	}

	// a second teardown of a vanished group is a no-op
	require.NoError(t, proc.Terminate(context.Background()))
}

func TestTerminateEscalatesToKill(t *testing.T) {
	const basePort = 27300
	settings := fakeSettings(t)
	settings.TeardownGrace = 500 * time.Millisecond
	proc := launch(t, settings, "chainmain-1:\n  fake_mode: stubborn\n", basePort)

	require.NoError(t, wait.ForPort(context.Background(), "127.0.0.1", ports.MustPort(basePort, ports.RPC), wait.WithTimeout(10*time.Second)))

	start := time.Now()
	require.NoError(t, proc.Terminate(context.Background()))
	require.GreaterOrEqual(t, time.Since(start), settings.TeardownGrace)
	require.False(t, proc.groupAlive())
	require.Equal(t, -1, proc.ExitCode(), "killed by a signal")
}

func TestTerminateContextCancelled(t *testing.T) {
	const basePort = 27400
	settings := fakeSettings(t)
	settings.TeardownGrace = -1
	proc := launch(t, settings, "chainmain-1:\n  fake_mode: stubborn\n", basePort)

	require.NoError(t, wait.ForPort(context.Background(), "127.0.0.1", ports.MustPort(basePort, ports.RPC), wait.WithTimeout(10*time.Second)))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := proc.Terminate(ctx)
	require.ErrorIs(t, err, ErrTeardown)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, proc.Exited())

	require.NoError(t, proc.signalGroup(syscall.SIGKILL))
	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor not reaped after SIGKILL")
	}
}

func TestExitCodeWhileNodesHoldOutput(t *testing.T) {
	const basePort = 27550
	proc := launch(t, fakeSettings(t), "chainmain-1:\n  fake_mode: orphan\n", basePort)

	require.NoError(t, wait.ForPort(context.Background(), "127.0.0.1", ports.MustPort(basePort, ports.RPC), wait.WithTimeout(10*time.Second)))

	select {
	case <-proc.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor not reaped")
	}
	require.NoError(t, proc.ExitErr())
	require.Equal(t, 0, proc.ExitCode())
	require.True(t, proc.groupAlive(), "nodes outlive the supervisor")
}

func TestLaunchCancelledContext(t *testing.T) {
	settings := fakeSettings(t)
	settings.SpawnCheck = 10 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	launcher := NewLauncher(zaptest.NewLogger(t), settings)
	_, err := launcher.Launch(ctx, writeDevnetConfig(t, "chainmain-1: {}\n"), filepath.Join(t.TempDir(), "data"), 27500)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, wait.IsOpen("127.0.0.1", ports.MustPort(27500, ports.RPC), 200*time.Millisecond))
}
