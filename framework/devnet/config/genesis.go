package config

import (
	"fmt"
	"path/filepath"

	"github.com/tidwall/gjson"
)

// Genesis is a read-only view of a chain's genesis document.
type Genesis struct {
	raw []byte
}

// LoadGenesis reads <chainDir>/genesis.json.
func LoadGenesis(chainDir string) (Genesis, error) {
	path := filepath.Join(chainDir, GenesisFile)
	bz, err := readFile(path)
	if err != nil {
		return Genesis{}, &ConfigError{Path: path, Err: err}
	}
	return ParseGenesis(bz)
}

// ParseGenesis wraps raw genesis JSON.
func ParseGenesis(bz []byte) (Genesis, error) {
	if !gjson.ValidBytes(bz) {
		return Genesis{}, fmt.Errorf("%w: genesis is not valid JSON", ErrConfigMalformed)
	}
	return Genesis{raw: bz}, nil
}

// ChainID returns the genesis chain_id.
func (g Genesis) ChainID() string {
	return gjson.GetBytes(g.raw, "chain_id").String()
}

// Get looks up a dotted path, e.g. "app_state.cronos.params.enable_auto_deployment".
func (g Genesis) Get(path string) gjson.Result {
	return gjson.GetBytes(g.raw, path)
}

// Bool returns the boolean at path, failing if the path is absent or not a boolean.
func (g Genesis) Bool(path string) (bool, error) {
	r := g.Get(path)
	if !r.Exists() {
		return false, fmt.Errorf("%w: genesis has no %s", ErrConfigMalformed, path)
	}
	if r.Type != gjson.True && r.Type != gjson.False {
		return false, fmt.Errorf("%w: genesis %s is %s, not a boolean", ErrConfigMalformed, path, r.Type)
	}
	return r.Bool(), nil
}

// AppState returns the app_state section as raw JSON.
func (g Genesis) AppState() []byte {
	return []byte(g.Get("app_state").Raw)
}
