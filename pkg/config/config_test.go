package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xkanth/ibc-relayer/pkg/relaytypes"
)

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigParsesChains(t *testing.T) {
	path := writeFixture(t, "chains.json", `{
		"chains": {
			"cosmoshub": {"chainId": "cosmoshub-4", "name": "Cosmos Hub", "rpcAddr": "http://localhost:26657", "keyName": "relayer", "gasPrice": "0.025uatom", "gasAdjustment": 1.5, "confirmations": 1}
		}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	chain, err := cfg.GetChain("cosmoshub")
	require.NoError(t, err)
	assert.Equal(t, "cosmoshub-4", chain.ChainID)
	assert.Equal(t, "0.025uatom", chain.GasPrice)
	assert.Equal(t, 1.5, chain.GasAdjustment)
}

func TestGetChainUnknownNameErrors(t *testing.T) {
	path := writeFixture(t, "chains.json", `{"chains": {}}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	_, err = cfg.GetChain("does-not-exist")
	assert.Error(t, err)
}

func TestLoadConfigMissingFileErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadPathsAndToPathEnd(t *testing.T) {
	path := writeFixture(t, "paths.json", `{
		"paths": [
			{
				"srcChain": "chain-a", "srcPort": "transfer", "srcChannel": "channel-0", "srcClientId": "07-tendermint-0",
				"dstChain": "chain-b", "dstPort": "transfer", "dstChannel": "channel-7", "dstClientId": "07-tendermint-1",
				"ordered": true, "clearOnStart": true, "clearInterval": 1000
			}
		]
	}`)

	cfg, err := LoadPaths(path)
	require.NoError(t, err)
	require.Len(t, cfg.Paths, 1)

	d := cfg.Paths[0]
	assert.True(t, d.ClearOnStart)
	assert.Equal(t, uint64(1000), d.ClearInterval)

	pe := d.ToPathEnd()
	assert.Equal(t, relaytypes.Ordered, pe.Order)
	assert.Equal(t, "chain-a", pe.SrcChainID)
	assert.Equal(t, "07-tendermint-1", pe.DstClientID)
}

func TestPathDescriptorDefaultsToUnordered(t *testing.T) {
	d := PathDescriptor{SrcChain: "a", DstChain: "b"}
	assert.Equal(t, relaytypes.Unordered, d.ToPathEnd().Order)
}
