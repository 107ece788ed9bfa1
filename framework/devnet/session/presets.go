package session

import (
	"path/filepath"

	"github.com/crypto-com/devnet-harness/framework/devnet/chain"
	"github.com/crypto-com/devnet-harness/framework/devnet/ports"
)

const (
	ChainmainChainID = "chainmain-1"
	CronosChainID    = "cronos_777-1"

	// DefaultChainmainBasePort and DefaultCronosBasePort keep the two devnets
	// apart when both run in one test binary.
	DefaultChainmainBasePort = 26800
	DefaultCronosBasePort    = 26650
)

// Chainmain returns the config of the chain-main devnet described by
// scripts/chainmain-devnet.yaml under root.
func Chainmain(root string, basePort int) Config {
	return Config{
		ConfigPath: filepath.Join(root, "scripts", "chainmain-devnet.yaml"),
		BasePort:   basePort,
		ChainID:    ChainmainChainID,
		Flavor:     chain.FlavorChainmain,
	}
}

// Cronos returns the config of the cronos devnet under root. The node is
// considered ready once its EVM RPC port accepts connections. Without
// autoDeploy the devnet is started from scripts/disable_auto_deployment.yaml.
func Cronos(root string, basePort int, autoDeploy bool) Config {
	path := filepath.Join(root, "scripts", "cronos-devnet.yaml")
	if !autoDeploy {
		path = filepath.Join(root, "scripts", "disable_auto_deployment.yaml")
	}
	svc := ports.EVMRPC
	return Config{
		ConfigPath:       path,
		BasePort:         basePort,
		ChainID:          CronosChainID,
		Flavor:           chain.FlavorCronos,
		ReadinessService: &svc,
	}
}
