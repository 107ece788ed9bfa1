package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ChainIDs returns the chain IDs declared in a devnet config file. The
// supervisor's config maps each chain ID to its definition; only the keys are
// read here, the definitions are left to the supervisor.
//
// The "dotenv" key is a supervisor directive, not a chain.
func ChainIDs(devnetConfigPath string) ([]string, error) {
	chains, err := readDevnetChains(devnetConfigPath)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(chains))
	for k := range chains {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	return ids, nil
}

// DefaultChainID returns the only chain ID of a devnet config, failing when the
// file declares more than one chain.
func DefaultChainID(devnetConfigPath string) (string, error) {
	ids, err := ChainIDs(devnetConfigPath)
	if err != nil {
		return "", err
	}
	if len(ids) > 1 {
		return "", fmt.Errorf("%s declares %d chains %v, pick one explicitly", devnetConfigPath, len(ids), ids)
	}
	return ids[0], nil
}

// ValidatorCount returns the number of validators declared for chainID. A
// chain without a validators list runs a single node.
func ValidatorCount(devnetConfigPath, chainID string) (int, error) {
	chains, err := readDevnetChains(devnetConfigPath)
	if err != nil {
		return 0, err
	}
	node, ok := chains[chainID]
	if !ok {
		return 0, &ConfigError{Path: devnetConfigPath, Err: fmt.Errorf("%w: chain %s not declared", ErrConfigMalformed, chainID)}
	}

	var def struct {
		Validators []yaml.Node `yaml:"validators"`
	}
	if err := node.Decode(&def); err != nil {
		return 0, &ConfigError{Path: devnetConfigPath, Err: fmt.Errorf("%w: chain %s: %v", ErrConfigMalformed, chainID, err)}
	}
	return max(len(def.Validators), 1), nil
}

func readDevnetChains(devnetConfigPath string) (map[string]yaml.Node, error) {
	bz, err := os.ReadFile(devnetConfigPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &ConfigError{Path: devnetConfigPath, Err: fmt.Errorf("%w: %s", ErrConfigMissing, devnetConfigPath)}
	}
	if err != nil {
		return nil, &ConfigError{Path: devnetConfigPath, Err: err}
	}

	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(bz, &doc); err != nil {
		return nil, &ConfigError{Path: devnetConfigPath, Err: fmt.Errorf("%w: %v", ErrConfigMalformed, err)}
	}

	chains := make(map[string]yaml.Node, len(doc))
	for k, v := range doc {
		if k == "dotenv" || v.Kind != yaml.MappingNode {
			continue
		}
		chains[k] = v
	}
	if len(chains) == 0 {
		return nil, &ConfigError{Path: devnetConfigPath, Err: fmt.Errorf("%w: no chains declared", ErrConfigMalformed)}
	}
	return chains, nil
}
