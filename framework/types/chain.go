package types

import (
	"context"

	"github.com/ethereum/go-ethereum/ethclient"
)

// Chain is a handle to a running devnet. Handles are owned by the session that
// created them and fail with an error once that session has ended.
type Chain interface {
	// ChainID returns the chain ID.
	ChainID() (string, error)
	// BaseDir returns the chain's data directory. It remains valid after Close.
	BaseDir() string
	// NodeCount returns the number of validators.
	NodeCount() (int, error)
	// RPCEndpoint returns the CometBFT RPC endpoint of node i.
	RPCEndpoint(i int) (string, error)
	// EVMRPCEndpoint returns the EVM JSON-RPC endpoint of node i.
	EVMRPCEndpoint(i int) (string, error)
	// Client returns the cached EVM client bound to node 0.
	Client(ctx context.Context) (*ethclient.Client, error)
	// Close invalidates the handle.
	Close() error
}
