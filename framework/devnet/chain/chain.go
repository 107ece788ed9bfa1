// Package chain provides handles to devnets started by the supervisor.
//
// A Chain is built from the chain's data directory and its runtime
// configuration once the nodes are reachable. Endpoints are derived from each
// validator's base port, clients are dialed lazily and cached. A Chain belongs
// to the session that created it and is not safe for concurrent use.
package chain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	libclient "github.com/cometbft/cometbft/rpc/jsonrpc/client"
	"github.com/crypto-com/devnet-harness/framework/devnet/config"
	"github.com/crypto-com/devnet-harness/framework/devnet/ports"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ErrChainClosed is returned by a Chain used after Close, i.e. after its session ended.
var ErrChainClosed = errors.New("chain handle is closed")

const nodeRPCTimeout = 10 * time.Second

// Option configures a Chain.
type Option func(*Chain)

// WithHost sets the host node services are reached on. Defaults to config.DefaultHost.
func WithHost(host string) Option {
	return func(c *Chain) {
		c.host = host
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Chain) {
		c.logger = logger
	}
}

// WithBinary sets the chain daemon used by CLI. Defaults to the runtime config's cmd.
func WithBinary(bin string) Option {
	return func(c *Chain) {
		c.bin = bin
	}
}

// Chain is a handle to a running devnet.
type Chain struct {
	baseDir string
	runtime config.NodeRuntimeConfig
	host    string
	bin     string
	logger  *zap.Logger

	closed bool

	ethClient   *ethclient.Client
	nodeClients map[int]*rpchttp.HTTP
	grpcConns   map[int]*grpc.ClientConn
}

// New returns a handle to the chain whose data lives in baseDir.
func New(baseDir string, runtime config.NodeRuntimeConfig, opts ...Option) *Chain {
	c := &Chain{
		baseDir:     baseDir,
		runtime:     runtime,
		host:        config.DefaultHost,
		bin:         runtime.Cmd,
		nodeClients: make(map[int]*rpchttp.HTTP),
		grpcConns:   make(map[int]*grpc.ClientConn),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.With(zap.String("chain_id", runtime.ChainID))
	return c
}

// BaseDir returns the chain's data directory, <data>/<chain_id>. It stays
// valid after Close so logs and state can be inspected post mortem.
func (c *Chain) BaseDir() string { return c.baseDir }

// Config returns the runtime configuration the handle was built from.
func (c *Chain) Config() (config.NodeRuntimeConfig, error) {
	if c.closed {
		return config.NodeRuntimeConfig{}, ErrChainClosed
	}
	return c.runtime, nil
}

// ChainID returns the chain ID recorded in the runtime configuration.
func (c *Chain) ChainID() (string, error) {
	if c.closed {
		return "", ErrChainClosed
	}
	return c.runtime.ChainID, nil
}

// Host returns the host node services listen on.
func (c *Chain) Host() string { return c.host }

// NodeCount returns the number of validators.
func (c *Chain) NodeCount() (int, error) {
	if c.closed {
		return 0, ErrChainClosed
	}
	return len(c.runtime.Validators), nil
}

// Closed reports whether Close has been called.
func (c *Chain) Closed() bool { return c.closed }

// BasePort returns the base port of node i.
func (c *Chain) BasePort(i int) (int, error) {
	if c.closed {
		return 0, ErrChainClosed
	}
	return c.runtime.BasePort(i)
}

// Port returns the port service svc of node i listens on.
func (c *Chain) Port(i int, svc ports.Service) (int, error) {
	base, err := c.BasePort(i)
	if err != nil {
		return 0, err
	}
	return ports.Port(base, svc)
}

// Endpoint returns host:port of service svc on node i.
func (c *Chain) Endpoint(i int, svc ports.Service) (string, error) {
	port, err := c.Port(i, svc)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(c.host, strconv.Itoa(port)), nil
}

func (c *Chain) url(scheme string, i int, svc ports.Service) (string, error) {
	addr, err := c.Endpoint(i, svc)
	if err != nil {
		return "", err
	}
	return scheme + "://" + addr, nil
}

// RPCEndpoint returns the CometBFT RPC endpoint of node i, tcp://host:port.
func (c *Chain) RPCEndpoint(i int) (string, error) {
	return c.url("tcp", i, ports.RPC)
}

// EVMRPCEndpoint returns the EVM JSON-RPC endpoint of node i, http://host:port.
func (c *Chain) EVMRPCEndpoint(i int) (string, error) {
	return c.url("http", i, ports.EVMRPC)
}

// EVMWSEndpoint returns the EVM websocket endpoint of node i.
func (c *Chain) EVMWSEndpoint(i int) (string, error) {
	return c.url("ws", i, ports.EVMWS)
}

// APIEndpoint returns the REST API endpoint of node i.
func (c *Chain) APIEndpoint(i int) (string, error) {
	return c.url("http", i, ports.API)
}

// GRPCAddress returns the gRPC address of node i, host:port.
func (c *Chain) GRPCAddress(i int) (string, error) {
	return c.Endpoint(i, ports.GRPC)
}

// Client returns an EVM JSON-RPC client for node 0. The client is dialed on
// the first call and the same instance is returned afterwards.
func (c *Chain) Client(ctx context.Context) (*ethclient.Client, error) {
	if c.closed {
		return nil, ErrChainClosed
	}
	if c.ethClient != nil {
		return c.ethClient, nil
	}

	url, err := c.EVMRPCEndpoint(0)
	if err != nil {
		return nil, err
	}
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc %s: %w", url, err)
	}
	c.logger.Debug("dialed evm rpc", zap.String("url", url))
	c.ethClient = client
	return client, nil
}

// NodeClient returns a CometBFT RPC client for node i.
func (c *Chain) NodeClient(i int) (*rpchttp.HTTP, error) {
	if c.closed {
		return nil, ErrChainClosed
	}
	if client, ok := c.nodeClients[i]; ok {
		return client, nil
	}

	addr, err := c.RPCEndpoint(i)
	if err != nil {
		return nil, err
	}
	httpClient, err := libclient.DefaultHTTPClient(addr)
	if err != nil {
		return nil, err
	}
	httpClient.Timeout = nodeRPCTimeout

	client, err := rpchttp.NewWithClient(addr, "/websocket", httpClient)
	if err != nil {
		return nil, fmt.Errorf("rpc client %s: %w", addr, err)
	}
	c.nodeClients[i] = client
	return client, nil
}

// GRPCConn returns a plaintext gRPC connection to node i.
func (c *Chain) GRPCConn(i int) (*grpc.ClientConn, error) {
	if c.closed {
		return nil, ErrChainClosed
	}
	if conn, ok := c.grpcConns[i]; ok {
		return conn, nil
	}

	addr, err := c.GRPCAddress(i)
	if err != nil {
		return nil, err
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	c.grpcConns[i] = conn
	return conn, nil
}

// CLI returns a wrapper around the chain daemon's command line for node i.
func (c *Chain) CLI(i int) (*CosmosCLI, error) {
	if c.closed {
		return nil, ErrChainClosed
	}
	if c.bin == "" {
		return nil, errors.New("no chain binary configured")
	}
	rpc, err := c.RPCEndpoint(i)
	if err != nil {
		return nil, err
	}
	return newCosmosCLI(c.bin, nodeHome(c.baseDir, i), rpc, c.runtime.ChainID, c.logger), nil
}

// Close releases the cached clients and invalidates the handle. It is safe to
// call more than once.
func (c *Chain) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	if c.ethClient != nil {
		c.ethClient.Close()
		c.ethClient = nil
	}
	var errs []error
	for i, conn := range c.grpcConns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close grpc conn of node %d: %w", i, err))
		}
	}
	clear(c.grpcConns)
	clear(c.nodeClients)
	return errors.Join(errs...)
}
