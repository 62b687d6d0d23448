package exec

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/arbnexus/arbnexus/internal/domain"
)

var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// settleConfirmed finalizes a winning execution: realized profit is the
// beneficiary's borrow-token balance delta from the receipt logs minus
// the gas actually paid.
func (e *Engine) settleConfirmed(rt *ChainRuntime, ex *domain.Execution, receipt *types.Receipt) {
	gasPaid := gasPaidUSD(receipt, rt.NativeUSD)
	delta := transferDelta(receipt.Logs, ex.Plan.Borrow, rt.Beneficiary)
	realized := delta.Sub(gasPaid)

	ex.GasPaid = gasPaid
	ex.RealizedProfit = &realized
	e.transition(ex, domain.ExecConfirmed)

	log.Info().
		Str("execution", ex.ID).
		Str("chain", string(ex.Chain)).
		Str("realized", realized.StringFixed(2)).
		Str("gas_paid", gasPaid.StringFixed(2)).
		Msg("execution confirmed")
}

// settleReverted finalizes a reverted execution: the trade moved no
// funds, so realized profit is the gas burned, negated.
func (e *Engine) settleReverted(ctx context.Context, rt *ChainRuntime, ex *domain.Execution, receipt *types.Receipt) {
	gasPaid := gasPaidUSD(receipt, rt.NativeUSD)
	realized := gasPaid.Neg()

	ex.GasPaid = gasPaid
	ex.RealizedProfit = &realized
	ex.RevertReason = e.revertReason(ctx, rt, ex, receipt.BlockNumber.Uint64())
	e.transition(ex, domain.ExecReverted)
	e.alert(domain.AlertError, rt.ID, "execution reverted: "+ex.RevertReason)

	log.Warn().
		Str("execution", ex.ID).
		Str("reason", ex.RevertReason).
		Str("gas_paid", gasPaid.StringFixed(2)).
		Msg("execution reverted")
}

// transferDelta sums the beneficiary's ERC20 Transfer flows for one
// token across the receipt logs.
func transferDelta(logs []*types.Log, token domain.Token, beneficiary common.Address) decimal.Decimal {
	delta := decimal.Zero
	for _, l := range logs {
		if l.Address != token.Address || len(l.Topics) != 3 || l.Topics[0] != transferTopic {
			continue
		}
		from := common.BytesToAddress(l.Topics[1].Bytes()[12:])
		to := common.BytesToAddress(l.Topics[2].Bytes()[12:])
		amount := decimal.NewFromBigInt(new(big.Int).SetBytes(l.Data), -int32(token.Decimals))
		if to == beneficiary {
			delta = delta.Add(amount)
		}
		if from == beneficiary {
			delta = delta.Sub(amount)
		}
	}
	return delta
}

// gasPaidUSD converts the receipt's actual gas spend to USD.
func gasPaidUSD(receipt *types.Receipt, nativeUSD float64) decimal.Decimal {
	price := receipt.EffectiveGasPrice
	if price == nil {
		price = big.NewInt(0)
	}
	wei := new(big.Int).Mul(price, new(big.Int).SetUint64(receipt.GasUsed))
	native := decimal.NewFromBigInt(wei, -18)
	return native.Mul(decimal.NewFromFloat(nativeUSD))
}
