package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/crypto-com/devnet-harness/framework/devnet/chain"
	"github.com/crypto-com/devnet-harness/framework/devnet/ports"
	"github.com/crypto-com/devnet-harness/framework/devnet/session"
	"github.com/crypto-com/devnet-harness/framework/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveOpts struct {
	configPath string
	basePort   int
	chainID    string
	flavor     string
	workDir    string
	readiness  string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a devnet and keep it running until interrupted",
	Long: `Start the devnet described by --config, wait until node 0 accepts
connections, print the endpoints of every node and block until SIGINT or
SIGTERM. The whole process group is terminated before the command returns.

EXAMPLES:
  devnetctl serve --config scripts/chainmain-devnet.yaml --base-port 26800
  devnetctl serve --config scripts/cronos-devnet.yaml --base-port 26650 --flavor cronos --readiness evm-rpc`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVarP(&serveOpts.configPath, "config", "c", "", "devnet YAML handed to the supervisor")
	f.IntVarP(&serveOpts.basePort, "base-port", "p", session.DefaultChainmainBasePort, "base port of the first validator")
	f.StringVar(&serveOpts.chainID, "chain-id", "", "chain to load, required when the config declares several")
	f.StringVar(&serveOpts.flavor, "flavor", "", "chain handle type: chainmain, cronos or empty")
	f.StringVar(&serveOpts.workDir, "work-dir", "", "directory for data and supervisor.log, kept after exit (default: temporary)")
	f.StringVar(&serveOpts.readiness, "readiness", ports.RPC.String(), "node 0 service probed for readiness")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, _ []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	svc, err := ports.ParseService(serveOpts.readiness)
	if err != nil {
		return err
	}

	s, err := session.New(session.Config{
		ConfigPath:       serveOpts.configPath,
		BasePort:         serveOpts.basePort,
		ChainID:          serveOpts.chainID,
		Flavor:           chain.Flavor(serveOpts.flavor),
		ReadinessService: &svc,
		WorkDir:          serveOpts.workDir,
		Settings:         settings,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := s.Close(context.Background()); err != nil {
			logger.Error("teardown failed", zap.Error(err))
		}
	}()

	if err := printEndpoints(cmd.OutOrStdout(), s.Chain()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "data: %s\nlog:  %s\n", s.DataDir(), s.LogPath())

	<-ctx.Done()
	logger.Info("shutting down devnet")
	return nil
}

func printEndpoints(w io.Writer, c types.Chain) error {
	nodes, err := c.NodeCount()
	if err != nil {
		return err
	}
	for i := 0; i < nodes; i++ {
		rpc, err := c.RPCEndpoint(i)
		if err != nil {
			return err
		}
		evm, err := c.EVMRPCEndpoint(i)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "node%d  rpc=%s  evm-rpc=%s\n", i, rpc, evm)
	}
	return nil
}
