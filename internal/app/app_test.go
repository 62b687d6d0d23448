package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbnexus/arbnexus/internal/config"
	"github.com/arbnexus/arbnexus/internal/domain"
	"github.com/arbnexus/arbnexus/internal/exec"
)

func TestChainPairs_SkipsUnresolvedAddresses(t *testing.T) {
	pairs := []config.PairConfig{
		{
			Base: config.TokenConfig{Symbol: "WETH", Decimals: 18, Addresses: map[string]string{
				"polygon":  "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619",
				"ethereum": "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
			}},
			Quote: config.TokenConfig{Symbol: "USDT", Decimals: 6, Addresses: map[string]string{
				"polygon": "0xc2132D05D31c914a87C6611C10748AEb04B58e8F",
			}},
		},
		{
			Base: config.TokenConfig{Symbol: "WBTC", Decimals: 8, Addresses: map[string]string{
				"ethereum": "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599",
			}},
			Quote: config.TokenConfig{Symbol: "USDT", Decimals: 6, Addresses: map[string]string{
				"ethereum": "0xdAC17F958D2ee523a2206206994597C13D831ec7",
			}},
		},
	}

	polygon := chainPairs(domain.ChainPolygon, pairs)
	require.Len(t, polygon, 1, "the quote token resolves on polygon only for the first pair")
	assert.Equal(t, "WETH/USDT", polygon[0].ID())
	assert.EqualValues(t, 18, polygon[0].Base.Decimals)

	ethereum := chainPairs(domain.ChainEthereum, pairs)
	require.Len(t, ethereum, 1, "USDT has no ethereum address in the first pair")
	assert.Equal(t, "WBTC/USDT", ethereum[0].ID())

	assert.Empty(t, chainPairs(domain.ChainBSC, pairs))
}

func TestHaltChain_LatchesAndCancelsScan(t *testing.T) {
	live := config.NewHandle(config.Default())
	rig := &chainRig{id: domain.ChainPolygon}
	var stops int
	rig.scanStop = func() { stops++ }

	a := &App{
		live:   live,
		rigs:   []*chainRig{rig},
		engine: exec.New(config.Default().Exec, live, true, nil, exec.Deps{}),
	}
	a.haltChain(domain.ChainPolygon)
	a.haltChain(domain.ChainPolygon)

	assert.Equal(t, 1, stops, "scan cancel fires once")
	assert.True(t, rig.halted.Load())
}

func TestResolveToken(t *testing.T) {
	tc := config.TokenConfig{Symbol: "USDC", Decimals: 6, Addresses: map[string]string{
		"base": "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	}}

	tok, ok := resolveToken(domain.ChainBase, tc)
	require.True(t, ok)
	assert.Equal(t, "USDC", tok.Symbol)
	assert.Equal(t, "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", tok.Address.Hex())

	_, ok = resolveToken(domain.ChainArbitrum, tc)
	assert.False(t, ok)
}
