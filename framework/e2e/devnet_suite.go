package e2e

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/crypto-com/devnet-harness/framework/devnet/chain"
	"github.com/crypto-com/devnet-harness/framework/devnet/config"
	"github.com/crypto-com/devnet-harness/framework/devnet/session"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const (
	// EnvRepoRoot points at the directory holding scripts/*.yaml. When unset the
	// working directory and its parents are searched.
	EnvRepoRoot = "DEVNET_ROOT"

	// ChainmainDenom and CronosDenom are the fee denoms of the bundled devnets.
	ChainmainDenom = "basecro"
	CronosDenom    = "basetcro"

	// CronosEVMChainID is the EIP-155 chain ID of cronos_777-1.
	CronosEVMChainID = 777

	// ValidatorKey is the keyring entry the supervisor creates in each node home.
	ValidatorKey = "validator"
)

// Binaries lists the executables the suite needs in PATH.
func Binaries(settings config.Settings) []string {
	return []string{settings.SupervisorBin, chain.ChainmainBinary, chain.CronosBinary}
}

// MissingBinary returns the first required executable not found in PATH, or "".
func MissingBinary(settings config.Settings) string {
	for _, bin := range Binaries(settings) {
		if _, err := exec.LookPath(bin); err != nil {
			return bin
		}
	}
	return ""
}

// RepoRoot locates the directory holding the devnet configs.
func RepoRoot() (string, error) {
	if root := os.Getenv(EnvRepoRoot); root != "" {
		return root, nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "scripts", "chainmain-devnet.yaml")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no scripts/chainmain-devnet.yaml above the working directory, set %s", EnvRepoRoot)
		}
		dir = parent
	}
}

// DevnetTestSuite runs a chain-main and a cronos devnet side by side for the
// whole suite.
type DevnetTestSuite struct {
	suite.Suite
	ctx      context.Context
	logger   *zap.Logger
	settings config.Settings
	sessions []*session.Session

	Chainmain *chain.Chainmain
	Cronos    *chain.Cronos
}

// SetupSuite starts both devnets and waits until they are reachable.
func (s *DevnetTestSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = zaptest.NewLogger(s.T())
	s.settings = config.DefaultSettings().WithEnv()

	root, err := RepoRoot()
	s.Require().NoError(err)

	chainmainCfg := session.Chainmain(root, session.DefaultChainmainBasePort)
	cronosCfg := session.Cronos(root, session.DefaultCronosBasePort, true)
	for _, cfg := range []*session.Config{&chainmainCfg, &cronosCfg} {
		cfg.Settings = s.settings
		cfg.Logger = s.logger
	}

	s.sessions, err = session.StartGroup(s.ctx, chainmainCfg, cronosCfg)
	s.Require().NoError(err)

	var ok bool
	s.Chainmain, ok = s.sessions[0].Chain().(*chain.Chainmain)
	s.Require().True(ok, "unexpected chain-main handle %T", s.sessions[0].Chain())
	s.Cronos, ok = s.sessions[1].Chain().(*chain.Cronos)
	s.Require().True(ok, "unexpected cronos handle %T", s.sessions[1].Chain())

	s.logger.Info("devnets started",
		zap.String("chainmain", s.sessions[0].DataDir()),
		zap.String("cronos", s.sessions[1].DataDir()))
}

// TearDownSuite terminates both devnets.
func (s *DevnetTestSuite) TearDownSuite() {
	if len(s.sessions) == 0 {
		return
	}
	if err := session.CloseGroup(context.Background(), s.sessions...); err != nil {
		s.T().Logf("Failed to stop devnets: %s", err)
	}
}

// Settings returns the harness settings the suite runs with.
func (s *DevnetTestSuite) Settings() config.Settings {
	return s.settings
}

// Height returns the latest block height of node 0.
func (s *DevnetTestSuite) Height(c *chain.Chain) (int64, error) {
	client, err := c.NodeClient(0)
	if err != nil {
		return 0, err
	}
	status, err := client.Status(s.ctx)
	if err != nil {
		return 0, err
	}
	return status.SyncInfo.LatestBlockHeight, nil
}

// WaitForBlocks waits until node 0 of c has produced delta blocks more than
// when the call started.
func (s *DevnetTestSuite) WaitForBlocks(c *chain.Chain, delta int64, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	start, err := s.Height(c)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			id, _ := c.ChainID()
			return fmt.Errorf("timeout waiting for %d blocks on %s after height %d", delta, id, start)
		case <-ticker.C:
			height, err := s.Height(c)
			if err != nil {
				continue // node busy, try on next tick
			}
			if height >= start+delta {
				return nil
			}
		}
	}
}
