package session

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/crypto-com/devnet-harness/framework/devnet/internal"
	"go.uber.org/zap/zaptest"
)

// TestingT is a subset of testing.T required for Start.
type TestingT interface {
	zaptest.TestingT

	Helper()
	Cleanup(func())
	Fatalf(format string, args ...any)
}

// KeepDataOnFailure determines whether the work directory of a session
// started with Start survives a failed test.
//
// The value is false by default, but can be initialized to true by setting the
// environment variable DEVNET_KEEP_DATA to a non-empty value.
var KeepDataOnFailure = os.Getenv("DEVNET_KEEP_DATA") != ""

// EnvLogDir names the directory supervisor logs of failed tests are copied to.
const EnvLogDir = "LOG_DIR"

// Start starts a devnet session bound to t and registers its teardown with
// t.Cleanup. If the devnet cannot be started the test fails immediately.
func Start(t TestingT, cfg Config) *Session {
	t.Helper()

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("devnet session: %v", err)
	}
	keep := s.cfg.KeepWorkDir
	// whether the work dir survives is decided in cleanup, once the test outcome is known.
	s.cfg.KeepWorkDir = true
	t.Cleanup(func() {
		s.cleanup(t, keep)
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start devnet %s: %v", s.chainID, err)
	}
	return s
}

func (s *Session) cleanup(t TestingT, keep bool) {
	if err := s.Close(context.Background()); err != nil {
		t.Logf("devnet teardown: %v", err)
	}
	if s.workDir == "" {
		return
	}

	if t.Failed() {
		if logDir := os.Getenv(EnvLogDir); logDir != "" {
			name := internal.DirName(t.Name()) + "-" + internal.DirName(s.chainID) + ".log"
			if f, err := os.Open(s.LogPath()); err != nil {
				t.Logf("Failed to open supervisor log %s: %v", s.LogPath(), err)
			} else if err := writeToFile(f, logDir, name); err != nil {
				t.Logf("Failed to write supervisor log to %s: %v", logDir, err)
			}
		}
		if KeepDataOnFailure {
			t.Logf("Keeping devnet data in %s", s.workDir)
			return
		}
	}

	if !s.ownsWorkDir || keep || s.closeErr != nil {
		return
	}
	if err := os.RemoveAll(s.workDir); err != nil {
		t.Logf("Failed to remove devnet work dir %s: %v", s.workDir, err)
	}
}

// writeToFile writes the contents of an io.ReadCloser to a specified file in the given directory.
// It ensures the directory exists before creating and writing to the file.
func writeToFile(r io.ReadCloser, dir, filename string) error {
	defer r.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	outFile, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		return err
	}
	defer outFile.Close()

	_, err = io.Copy(outFile, r)
	return err
}
