package venue

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/arbnexus/arbnexus/internal/domain"
)

// swapDeadline is how far in the future router deadlines are set.
const swapDeadline = 20 * time.Minute

const routerABIJSON = `[
  {"name":"swapExactTokensForTokens","type":"function","stateMutability":"nonpayable",
   "inputs":[
     {"name":"amountIn","type":"uint256"},
     {"name":"amountOutMin","type":"uint256"},
     {"name":"path","type":"address[]"},
     {"name":"to","type":"address"},
     {"name":"deadline","type":"uint256"}],
   "outputs":[{"name":"amounts","type":"uint256[]"}]},
  {"name":"getAmountsOut","type":"function","stateMutability":"view",
   "inputs":[
     {"name":"amountIn","type":"uint256"},
     {"name":"path","type":"address[]"}],
   "outputs":[{"name":"amounts","type":"uint256[]"}]},
  {"name":"factory","type":"function","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

const v3RouterABIJSON = `[
  {"name":"exactInputSingle","type":"function","stateMutability":"payable",
   "inputs":[{"name":"params","type":"tuple","components":[
     {"name":"tokenIn","type":"address"},
     {"name":"tokenOut","type":"address"},
     {"name":"fee","type":"uint24"},
     {"name":"recipient","type":"address"},
     {"name":"deadline","type":"uint256"},
     {"name":"amountIn","type":"uint256"},
     {"name":"amountOutMinimum","type":"uint256"},
     {"name":"sqrtPriceLimitX96","type":"uint160"}]}],
   "outputs":[{"name":"amountOut","type":"uint256"}]}
]`

const stablePoolABIJSON = `[
  {"name":"exchange","type":"function","stateMutability":"nonpayable",
   "inputs":[
     {"name":"i","type":"int128"},
     {"name":"j","type":"int128"},
     {"name":"dx","type":"uint256"},
     {"name":"min_dy","type":"uint256"}],
   "outputs":[{"name":"","type":"uint256"}]}
]`

var (
	routerABI     = mustABI(routerABIJSON)
	v3RouterABI   = mustABI(v3RouterABIJSON)
	stablePoolABI = mustABI(stablePoolABIJSON)
)

func mustABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic("venue: bad abi: " + err.Error())
	}
	return parsed
}

// swapLegs resolves the in/out tokens and integer amounts for a side.
func swapLegs(pair domain.TokenPair, side Side, amountIn, minAmountOut decimal.Decimal) (in, out domain.Token, rawIn, rawOut *big.Int) {
	if side == SideBuy {
		in, out = pair.Quote, pair.Base
	} else {
		in, out = pair.Base, pair.Quote
	}
	rawIn = amountIn.Shift(int32(in.Decimals)).BigInt()
	rawOut = minAmountOut.Shift(int32(out.Decimals)).BigInt()
	return in, out, rawIn, rawOut
}

// buildRouterSwap packs a v2-style swapExactTokensForTokens call.
func buildRouterSwap(ref domain.VenueRef, pair domain.TokenPair, side Side, amountIn, minAmountOut decimal.Decimal, recipient common.Address) (domain.Call, error) {
	in, out, rawIn, rawOut := swapLegs(pair, side, amountIn, minAmountOut)
	deadline := big.NewInt(time.Now().Add(swapDeadline).Unix())
	data, err := routerABI.Pack("swapExactTokensForTokens",
		rawIn, rawOut, []common.Address{in.Address, out.Address}, recipient, deadline)
	if err != nil {
		return domain.Call{}, fmt.Errorf("%s: pack swap: %w", ref, err)
	}
	return domain.Call{To: ref.Router, Data: data}, nil
}

// buildExactInputSingle packs a v3 exactInputSingle call.
func buildExactInputSingle(ref domain.VenueRef, pair domain.TokenPair, side Side, amountIn, minAmountOut decimal.Decimal, recipient common.Address) (domain.Call, error) {
	in, out, rawIn, rawOut := swapLegs(pair, side, amountIn, minAmountOut)
	params := struct {
		TokenIn           common.Address
		TokenOut          common.Address
		Fee               *big.Int
		Recipient         common.Address
		Deadline          *big.Int
		AmountIn          *big.Int
		AmountOutMinimum  *big.Int
		SqrtPriceLimitX96 *big.Int
	}{
		TokenIn:           in.Address,
		TokenOut:          out.Address,
		Fee:               big.NewInt(3000),
		Recipient:         recipient,
		Deadline:          big.NewInt(time.Now().Add(swapDeadline).Unix()),
		AmountIn:          rawIn,
		AmountOutMinimum:  rawOut,
		SqrtPriceLimitX96: big.NewInt(0),
	}
	data, err := v3RouterABI.Pack("exactInputSingle", params)
	if err != nil {
		return domain.Call{}, fmt.Errorf("%s: pack exactInputSingle: %w", ref, err)
	}
	return domain.Call{To: ref.Router, Data: data}, nil
}

// buildStableExchange packs a Curve-style exchange call. The pair's
// coin indices follow the configured base/quote order.
func buildStableExchange(ref domain.VenueRef, pair domain.TokenPair, side Side, amountIn, minAmountOut decimal.Decimal) (domain.Call, error) {
	in, _, rawIn, rawOut := swapLegs(pair, side, amountIn, minAmountOut)
	i, j := big.NewInt(0), big.NewInt(1)
	if in.Symbol == pair.Quote.Symbol {
		i, j = big.NewInt(1), big.NewInt(0)
	}
	data, err := stablePoolABI.Pack("exchange", i, j, rawIn, rawOut)
	if err != nil {
		return domain.Call{}, fmt.Errorf("%s: pack exchange: %w", ref, err)
	}
	return domain.Call{To: ref.Router, Data: data}, nil
}
