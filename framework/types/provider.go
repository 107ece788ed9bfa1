package types

import "context"

// Devnet is a running devnet together with the process group serving it.
//
// different implementations can run the nodes on different backends; the
// harness ships one that supervises local processes.
type Devnet interface {
	// Chain returns the handle to the devnet's chain, nil before it is ready.
	Chain() Chain
	// Start launches the devnet and blocks until its nodes are reachable.
	Start(ctx context.Context) error
	// Close tears the devnet down. It may be called more than once.
	Close(ctx context.Context) error
}
