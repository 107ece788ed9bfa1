package chain

import (
	"fmt"

	"github.com/crypto-com/devnet-harness/framework/devnet/config"
	"github.com/crypto-com/devnet-harness/framework/types"
)

// Flavor selects the handle type built for a devnet.
type Flavor string

const (
	FlavorGeneric   Flavor = ""
	FlavorChainmain Flavor = "chainmain"
	FlavorCronos    Flavor = "cronos"
)

var (
	_ types.Chain = (*Chain)(nil)
	_ types.Chain = (*Cronos)(nil)
	_ types.Chain = (*Chainmain)(nil)
)

// Build constructs the handle matching flavor.
func Build(flavor Flavor, baseDir string, runtime config.NodeRuntimeConfig, opts ...Option) (types.Chain, error) {
	switch flavor {
	case FlavorGeneric:
		return New(baseDir, runtime, opts...), nil
	case FlavorChainmain:
		return NewChainmain(baseDir, runtime, opts...), nil
	case FlavorCronos:
		return NewCronos(baseDir, runtime, opts...)
	default:
		return nil, fmt.Errorf("unknown chain flavor %q", flavor)
	}
}
