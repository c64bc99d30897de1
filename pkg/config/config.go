// Package config loads the two on-disk descriptors the relayer needs at
// startup: the chains a worker can talk to (chains.json) and the paths a
// supervisor should spawn a worker for (paths.json). It keeps the
// teacher's plain JSON-file-plus-struct loading approach rather than
// folding path/chain config into the koanf tree internal/util.InitConfig
// loads, since these describe a fleet of workers rather than process-wide
// settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/0xkanth/ibc-relayer/pkg/relaytypes"
)

// ChainConfig holds configuration for a Cosmos SDK chain the relayer
// connects to over CometBFT RPC.
type ChainConfig struct {
	ChainID       string `json:"chainId"`
	Name          string `json:"name"`
	RPCAddr       string `json:"rpcAddr"`
	KeyName       string `json:"keyName"`       // keyring entry used to sign broadcast txs
	GasPrice      string `json:"gasPrice"`       // e.g. "0.025uatom"
	GasAdjustment float64 `json:"gasAdjustment"` // multiplier applied to the simulated gas estimate
	Confirmations int     `json:"confirmations"` // blocks to wait before trusting a height
}

// Config holds all configured chains, keyed by the same short name used in
// paths.json's src_chain/dst_chain fields.
type Config struct {
	Chains map[string]*ChainConfig `json:"chains"`
}

// LoadConfig loads chain configuration from a JSON file (chains.json).
func LoadConfig(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

// GetChain returns configuration for a specific chain.
func (c *Config) GetChain(name string) (*ChainConfig, error) {
	chain, ok := c.Chains[name]
	if !ok {
		return nil, fmt.Errorf("chain %s not found in config", name)
	}
	return chain, nil
}

// PathDescriptor is the on-disk shape of one worker's 6-tuple identity
// (§3 "Path descriptor") plus the per-path knobs §3/§9 expose: whether to
// clear once on start, and the periodic clearing interval in blocks.
type PathDescriptor struct {
	SrcChain      string `json:"srcChain"`
	SrcPort       string `json:"srcPort"`
	SrcChannel    string `json:"srcChannel"`
	SrcClientID   string `json:"srcClientId"`
	DstChain      string `json:"dstChain"`
	DstPort       string `json:"dstPort"`
	DstChannel    string `json:"dstChannel"`
	DstClientID   string `json:"dstClientId"`
	Ordered       bool   `json:"ordered"`
	ClearOnStart  bool   `json:"clearOnStart"`
	ClearInterval uint64 `json:"clearInterval"` // blocks; 0 disables periodic clearing
}

// ToPathEnd converts the on-disk descriptor to the relaytypes.PathEnd the
// core operates on.
func (d PathDescriptor) ToPathEnd() relaytypes.PathEnd {
	order := relaytypes.Unordered
	if d.Ordered {
		order = relaytypes.Ordered
	}
	return relaytypes.PathEnd{
		SrcChainID:   d.SrcChain,
		SrcPortID:    d.SrcPort,
		SrcChannelID: d.SrcChannel,
		SrcClientID:  d.SrcClientID,
		DstChainID:   d.DstChain,
		DstPortID:    d.DstPort,
		DstChannelID: d.DstChannel,
		DstClientID:  d.DstClientID,
		Order:        order,
	}
}

// PathsConfig is the top-level shape of paths.json: the set of directed
// paths a supervisor spawns a worker for.
type PathsConfig struct {
	Paths []PathDescriptor `json:"paths"`
}

// LoadPaths loads the configured relay paths from a JSON file.
func LoadPaths(filepath string) (*PathsConfig, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read paths file: %w", err)
	}

	var cfg PathsConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse paths config: %w", err)
	}

	return &cfg, nil
}
