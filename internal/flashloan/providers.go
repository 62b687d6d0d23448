// Package flashloan assembles and simulates atomic borrow-swap-repay
// plans for flash-eligible opportunities.
package flashloan

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/arbnexus/arbnexus/internal/domain"
)

// Provider is one flash-loan source on a chain.
type Provider struct {
	Name string
	// Fee is the loan premium as a fraction of the borrowed amount.
	Fee  decimal.Decimal
	Pool common.Address
}

var (
	zeroFee = decimal.Zero
	// Aave v3 flashLoanSimple premium: 5 bps.
	aaveFee = decimal.NewFromFloat(0.0005)
)

// balancerVault is deployed at the same address on every chain that has
// it; its flash loans are fee-free.
var balancerVault = common.HexToAddress("0xBA12222222228d8Ba445958a75a0704d566BF2C8")

// aavePool is the Aave v3 Pool per chain.
var aavePool = map[domain.ChainID]common.Address{
	domain.ChainEthereum:  common.HexToAddress("0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2"),
	domain.ChainPolygon:   common.HexToAddress("0x794a61358D6845594F94dc1DB02A252b5b4814aD"),
	domain.ChainArbitrum:  common.HexToAddress("0x794a61358D6845594F94dc1DB02A252b5b4814aD"),
	domain.ChainAvalanche: common.HexToAddress("0x794a61358D6845594F94dc1DB02A252b5b4814aD"),
	domain.ChainBase:      common.HexToAddress("0xA238Dd80C259a72e81d7e4664a9801593F98d1c5"),
	domain.ChainBSC:       common.HexToAddress("0x6807dc923806fE8Fd134338EABCA509979a7e0cB"),
}

// hasBalancer marks the chains carrying the canonical Vault deployment.
var hasBalancer = map[domain.ChainID]bool{
	domain.ChainEthereum:  true,
	domain.ChainPolygon:   true,
	domain.ChainArbitrum:  true,
	domain.ChainAvalanche: true,
	domain.ChainBase:      true,
}

// Providers returns the chain's flash-loan sources in preference order:
// zero-fee first, then cheapest premium.
func Providers(chain domain.ChainID) []Provider {
	var out []Provider
	if hasBalancer[chain] {
		out = append(out, Provider{Name: "balancer", Fee: zeroFee, Pool: balancerVault})
	}
	if pool, ok := aavePool[chain]; ok {
		out = append(out, Provider{Name: "aave-v3", Fee: aaveFee, Pool: pool})
	}
	return out
}

// FeeFraction returns the best (lowest) premium available on the chain,
// or aaveFee when the chain has no table entry so eligibility math stays
// conservative.
func FeeFraction(chain domain.ChainID) decimal.Decimal {
	ps := Providers(chain)
	if len(ps) == 0 {
		return aaveFee
	}
	best := ps[0].Fee
	for _, p := range ps[1:] {
		if p.Fee.Cmp(best) < 0 {
			best = p.Fee
		}
	}
	return best
}
