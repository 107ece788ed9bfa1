package chain

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	sdkmath "cosmossdk.io/math"
	"github.com/cosmos/cosmos-sdk/types/bech32"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// KeyringBackend is the keyring the supervisor creates validator keys in.
const KeyringBackend = "test"

// nodeHome returns the home directory of node i inside a chain's data directory.
func nodeHome(baseDir string, i int) string {
	return filepath.Join(baseDir, "node"+strconv.Itoa(i))
}

// CosmosCLI runs the chain daemon against one node's home directory.
type CosmosCLI struct {
	bin     string
	home    string
	node    string
	chainID string
	logger  *zap.Logger
}

func newCosmosCLI(bin, home, node, chainID string, logger *zap.Logger) *CosmosCLI {
	return &CosmosCLI{
		bin:     bin,
		home:    home,
		node:    node,
		chainID: chainID,
		logger:  logger.With(zap.String("home", home)),
	}
}

// Home returns the node home directory passed as --home.
func (c *CosmosCLI) Home() string { return c.home }

// Node returns the RPC endpoint passed as --node to queries.
func (c *CosmosCLI) Node() string { return c.node }

// Exec runs the daemon with args and --home appended and returns its stdout.
func (c *CosmosCLI) Exec(ctx context.Context, args ...string) ([]byte, error) {
	args = append(args, "--home", c.home)
	cmd := exec.CommandContext(ctx, c.bin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.Debug("running chain cli", zap.String("bin", c.bin), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s %s: %w: %s", c.bin, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Query runs a query sub-command against the node's RPC endpoint with JSON output.
func (c *CosmosCLI) Query(ctx context.Context, args ...string) ([]byte, error) {
	args = append([]string{"query"}, args...)
	args = append(args, "--node", c.node, "--output", "json")
	if c.chainID != "" {
		args = append(args, "--chain-id", c.chainID)
	}
	return c.Exec(ctx, args...)
}

// Address returns the bech32 account address of the named key in the node's keyring.
func (c *CosmosCLI) Address(ctx context.Context, keyName string) (string, error) {
	out, err := c.Exec(ctx, "keys", "show", keyName, "-a", "--keyring-backend", KeyringBackend)
	if err != nil {
		return "", err
	}
	addr := strings.TrimSpace(string(out))
	if _, _, err := bech32.DecodeAndConvert(addr); err != nil {
		return "", fmt.Errorf("key %s: invalid address %q: %w", keyName, addr, err)
	}
	return addr, nil
}

// Balance returns the bank balance of addr in denom, zero when the account holds none.
func (c *CosmosCLI) Balance(ctx context.Context, addr, denom string) (sdkmath.Int, error) {
	out, err := c.Query(ctx, "bank", "balances", addr)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if !gjson.ValidBytes(out) {
		return sdkmath.Int{}, fmt.Errorf("balances of %s: malformed output %q", addr, out)
	}

	amount := gjson.GetBytes(out, `balances.#(denom=="`+denom+`").amount`)
	if !amount.Exists() {
		return sdkmath.ZeroInt(), nil
	}
	v, ok := sdkmath.NewIntFromString(amount.String())
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("balances of %s: invalid amount %q", addr, amount.String())
	}
	return v, nil
}
