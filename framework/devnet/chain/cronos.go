package chain

import (
	"fmt"

	"github.com/crypto-com/devnet-harness/framework/devnet/config"
)

const (
	CronosBinary    = "cronosd"
	ChainmainBinary = "chain-maind"

	// AutoDeploymentPath locates the cronos module flag in genesis.json.
	AutoDeploymentPath = "app_state.cronos.params.enable_auto_deployment"
)

// Cronos is a handle to a cronos devnet.
type Cronos struct {
	*Chain
	enableAutoDeployment bool
}

// NewCronos builds a Cronos handle. The auto-deployment flag is read from
// genesis.json once, here.
func NewCronos(baseDir string, runtime config.NodeRuntimeConfig, opts ...Option) (*Cronos, error) {
	genesis, err := config.LoadGenesis(baseDir)
	if err != nil {
		return nil, err
	}
	autoDeploy, err := genesis.Bool(AutoDeploymentPath)
	if err != nil {
		return nil, fmt.Errorf("cronos genesis: %w", err)
	}

	opts = append([]Option{WithBinary(CronosBinary)}, opts...)
	return &Cronos{
		Chain:                New(baseDir, runtime, opts...),
		enableAutoDeployment: autoDeploy,
	}, nil
}

// EnableAutoDeployment reports whether the chain deploys token contracts automatically.
func (c *Cronos) EnableAutoDeployment() bool { return c.enableAutoDeployment }

// Chainmain is a handle to a chain-main devnet.
type Chainmain struct {
	*Chain
}

// NewChainmain builds a Chainmain handle.
func NewChainmain(baseDir string, runtime config.NodeRuntimeConfig, opts ...Option) *Chainmain {
	opts = append([]Option{WithBinary(ChainmainBinary)}, opts...)
	return &Chainmain{Chain: New(baseDir, runtime, opts...)}
}
