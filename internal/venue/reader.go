package venue

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"

	"github.com/arbnexus/arbnexus/internal/chain"
	"github.com/arbnexus/arbnexus/internal/domain"
)

// Default fee tiers, in bps, for models whose pools do not expose a fee
// view we query.
const (
	defaultV2FeeBps       = 30
	defaultStableFeeBps   = 4
	defaultWeightedFeeBps = 30
	defaultV3FeeTier      = 3000 // hundredths of a bp
)

var (
	selGetReserves    = methodSelector("getReserves()")
	selFactory        = methodSelector("factory()")
	selGetPair        = methodSelector("getPair(address,address)")
	selGetPool        = methodSelector("getPool(address,address,uint24)")
	selSlot0          = methodSelector("slot0()")
	selLiquidity      = methodSelector("liquidity()")
	selFee            = methodSelector("fee()")
	selTickSpacing    = methodSelector("tickSpacing()")
	selA              = methodSelector("A()")
	selBalances       = methodSelector("balances(uint256)")
	selNormalizedWts  = methodSelector("getNormalizedWeights()")
	selBalanceOf      = methodSelector("balanceOf(address)")
)

func methodSelector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

var q96 = new(big.Int).Lsh(big.NewInt(1), 96)

// RPCReader reads pool state over JSON-RPC, batching the per-pool views
// through a single endpoint so all values come from one node's view of
// the block. Pool addresses are resolved once per (venue, pair) and
// cached for the process lifetime.
type RPCReader struct {
	client *chain.Client

	mu    sync.Mutex
	pools map[string]common.Address
}

// NewRPCReader builds a reader over the chain client.
func NewRPCReader(client *chain.Client) *RPCReader {
	return &RPCReader{client: client, pools: make(map[string]common.Address)}
}

func (r *RPCReader) ReadState(ctx context.Context, ref domain.VenueRef, pair domain.TokenPair, block uint64) (PoolState, error) {
	switch ref.Model {
	case domain.ModelConstantProductV2:
		return r.readV2(ctx, ref, pair, block)
	case domain.ModelConcentratedV3:
		return r.readV3(ctx, ref, pair, block)
	case domain.ModelStableCurve:
		return r.readStable(ctx, ref, pair, block)
	case domain.ModelWeightedPool:
		return r.readWeighted(ctx, ref, pair, block)
	default:
		return PoolState{}, fmt.Errorf("%s: unknown pricing model %q", ref, ref.Model)
	}
}

func (r *RPCReader) readV2(ctx context.Context, ref domain.VenueRef, pair domain.TokenPair, block uint64) (PoolState, error) {
	pool, err := r.resolveV2Pool(ctx, ref, pair)
	if err != nil {
		return PoolState{}, err
	}
	rets, err := r.batchViews(ctx, pool, block, [][]byte{selGetReserves})
	if err != nil {
		return PoolState{}, err
	}
	res := rets[0]
	if len(res) < 64 {
		return PoolState{}, domain.Errf(domain.KindInsufficientLiquidity,
			"%s: short getReserves return for %s", ref, pair.ID())
	}
	r0, r1 := word(res, 0), word(res, 1)
	rb, rq := orderByToken0(pair, r0, r1)
	return PoolState{
		Block:        block,
		FeeBps:       defaultV2FeeBps,
		ReserveBase:  fromRaw(rb, pair.Base.Decimals),
		ReserveQuote: fromRaw(rq, pair.Quote.Decimals),
	}, nil
}

func (r *RPCReader) readV3(ctx context.Context, ref domain.VenueRef, pair domain.TokenPair, block uint64) (PoolState, error) {
	pool, err := r.resolveV3Pool(ctx, ref, pair)
	if err != nil {
		return PoolState{}, err
	}
	rets, err := r.batchViews(ctx, pool, block, [][]byte{selSlot0, selLiquidity, selFee, selTickSpacing})
	if err != nil {
		return PoolState{}, err
	}
	if len(rets[0]) < 32 || len(rets[1]) < 32 {
		return PoolState{}, domain.Errf(domain.KindInsufficientLiquidity,
			"%s: short slot0/liquidity return for %s", ref, pair.ID())
	}
	sqrtPriceX96 := word(rets[0], 0)
	liquidity := word(rets[1], 0)
	if sqrtPriceX96.Sign() == 0 || liquidity.Sign() == 0 {
		return PoolState{}, domain.Errf(domain.KindInsufficientLiquidity,
			"%s: uninitialized pool for %s", ref, pair.ID())
	}
	feeTier := int64(defaultV3FeeTier)
	if len(rets[2]) >= 32 {
		feeTier = word(rets[2], 0).Int64()
	}
	spacing := int64(60)
	if len(rets[3]) >= 32 {
		if s := word(rets[3], 0).Int64(); s > 0 {
			spacing = s
		}
	}

	// Project the active range onto virtual constant-product reserves:
	// v0 = L·2^96/sqrtP, v1 = L·sqrtP/2^96, in raw token units.
	v0 := new(big.Int).Mul(liquidity, q96)
	v0.Div(v0, sqrtPriceX96)
	v1 := new(big.Int).Mul(liquidity, sqrtPriceX96)
	v1.Div(v1, q96)

	rb, rq := orderByToken0(pair, v0, v1)
	reserveBase := fromRaw(rb, pair.Base.Decimals)
	reserveQuote := fromRaw(rq, pair.Quote.Decimals)

	// Quote-side depth available before the price leaves the current tick
	// spacing, one tick being a 0.01% price step.
	tickDepth := reserveQuote.
		Mul(decimal.NewFromInt(spacing)).
		Div(decimal.NewFromInt(10_000))

	return PoolState{
		Block:         block,
		FeeBps:        int(feeTier / 100),
		ReserveBase:   reserveBase,
		ReserveQuote:  reserveQuote,
		NextTickDepth: tickDepth,
	}, nil
}

func (r *RPCReader) readStable(ctx context.Context, ref domain.VenueRef, pair domain.TokenPair, block uint64) (PoolState, error) {
	// Curve-style pools are addressed directly: the configured router is
	// the pool contract. Coin indices follow the configured pair order.
	pool := ref.Router
	rets, err := r.batchViews(ctx, pool, block, [][]byte{
		selA,
		withUint256(selBalances, big.NewInt(0)),
		withUint256(selBalances, big.NewInt(1)),
	})
	if err != nil {
		return PoolState{}, err
	}
	for i, ret := range rets {
		if len(ret) < 32 {
			return PoolState{}, domain.Errf(domain.KindInsufficientLiquidity,
				"%s: short stable view %d for %s", ref, i, pair.ID())
		}
	}
	return PoolState{
		Block:        block,
		FeeBps:       defaultStableFeeBps,
		Amp:          word(rets[0], 0).Int64(),
		ReserveBase:  fromRaw(word(rets[1], 0), pair.Base.Decimals),
		ReserveQuote: fromRaw(word(rets[2], 0), pair.Quote.Decimals),
	}, nil
}

func (r *RPCReader) readWeighted(ctx context.Context, ref domain.VenueRef, pair domain.TokenPair, block uint64) (PoolState, error) {
	// Weighted pools are addressed directly; balances come from the token
	// contracts since the pool itself holds them.
	pool := ref.Router
	poolArg := common.LeftPadBytes(pool.Bytes(), 32)
	weightsRet, err := r.batchViews(ctx, pool, block, [][]byte{selNormalizedWts})
	if err != nil {
		return PoolState{}, err
	}
	balBase, err := r.batchViews(ctx, pair.Base.Address, block, [][]byte{append(append([]byte{}, selBalanceOf...), poolArg...)})
	if err != nil {
		return PoolState{}, err
	}
	balQuote, err := r.batchViews(ctx, pair.Quote.Address, block, [][]byte{append(append([]byte{}, selBalanceOf...), poolArg...)})
	if err != nil {
		return PoolState{}, err
	}
	if len(balBase[0]) < 32 || len(balQuote[0]) < 32 {
		return PoolState{}, domain.Errf(domain.KindInsufficientLiquidity,
			"%s: short balanceOf return for %s", ref, pair.ID())
	}

	wb, wq := 0.5, 0.5
	if ws, ok := unpackUint256Array(weightsRet[0]); ok && len(ws) >= 2 {
		wb = weightFraction(ws[0])
		wq = weightFraction(ws[1])
	}
	return PoolState{
		Block:        block,
		FeeBps:       defaultWeightedFeeBps,
		ReserveBase:  fromRaw(word(balBase[0], 0), pair.Base.Decimals),
		ReserveQuote: fromRaw(word(balQuote[0], 0), pair.Quote.Decimals),
		WeightBase:   wb,
		WeightQuote:  wq,
	}, nil
}

// resolveV2Pool walks router → factory → getPair, caching the result.
func (r *RPCReader) resolveV2Pool(ctx context.Context, ref domain.VenueRef, pair domain.TokenPair) (common.Address, error) {
	return r.resolvePool(ref, pair, func() (common.Address, error) {
		factory, err := r.callAddress(ctx, ref.Router, selFactory)
		if err != nil {
			return common.Address{}, fmt.Errorf("%s: resolve factory: %w", ref, err)
		}
		data := append(append([]byte{}, selGetPair...),
			append(common.LeftPadBytes(pair.Base.Address.Bytes(), 32),
				common.LeftPadBytes(pair.Quote.Address.Bytes(), 32)...)...)
		pool, err := r.callAddress(ctx, factory, data)
		if err != nil {
			return common.Address{}, fmt.Errorf("%s: getPair %s: %w", ref, pair.ID(), err)
		}
		return pool, nil
	})
}

// resolveV3Pool walks router → factory → getPool at the default fee tier.
func (r *RPCReader) resolveV3Pool(ctx context.Context, ref domain.VenueRef, pair domain.TokenPair) (common.Address, error) {
	return r.resolvePool(ref, pair, func() (common.Address, error) {
		factory, err := r.callAddress(ctx, ref.Router, selFactory)
		if err != nil {
			return common.Address{}, fmt.Errorf("%s: resolve factory: %w", ref, err)
		}
		data := append(append([]byte{}, selGetPool...),
			append(common.LeftPadBytes(pair.Base.Address.Bytes(), 32),
				append(common.LeftPadBytes(pair.Quote.Address.Bytes(), 32),
					common.LeftPadBytes(big.NewInt(defaultV3FeeTier).Bytes(), 32)...)...)...)
		pool, err := r.callAddress(ctx, factory, data)
		if err != nil {
			return common.Address{}, fmt.Errorf("%s: getPool %s: %w", ref, pair.ID(), err)
		}
		return pool, nil
	})
}

func (r *RPCReader) resolvePool(ref domain.VenueRef, pair domain.TokenPair, lookup func() (common.Address, error)) (common.Address, error) {
	key := ref.String() + "|" + pair.Key()
	r.mu.Lock()
	if pool, ok := r.pools[key]; ok {
		r.mu.Unlock()
		return pool, nil
	}
	r.mu.Unlock()

	pool, err := lookup()
	if err != nil {
		return common.Address{}, err
	}
	if pool == (common.Address{}) {
		return common.Address{}, domain.Errf(domain.KindInsufficientLiquidity,
			"%s: no pool deployed for %s", ref, pair.ID())
	}
	r.mu.Lock()
	r.pools[key] = pool
	r.mu.Unlock()
	return pool, nil
}

func (r *RPCReader) callAddress(ctx context.Context, to common.Address, data []byte) (common.Address, error) {
	ret, err := r.client.Call(ctx, chain.CallMsg{To: &to, Data: data}, 0)
	if err != nil {
		return common.Address{}, err
	}
	if len(ret) < 32 {
		return common.Address{}, fmt.Errorf("short address return (%d bytes)", len(ret))
	}
	return common.BytesToAddress(ret[12:32]), nil
}

// batchViews runs the given calldatas against one contract in a single
// JSON-RPC batch pinned at the block.
func (r *RPCReader) batchViews(ctx context.Context, to common.Address, block uint64, calls [][]byte) ([]hexutil.Bytes, error) {
	blockRef := "latest"
	if block > 0 {
		blockRef = hexutil.EncodeUint64(block)
	}
	rets := make([]hexutil.Bytes, len(calls))
	batch := make([]rpc.BatchElem, len(calls))
	for i, data := range calls {
		target := to
		batch[i] = rpc.BatchElem{
			Method: "eth_call",
			Args:   []interface{}{chain.CallMsg{To: &target, Data: data}, blockRef},
			Result: &rets[i],
		}
	}
	if err := r.client.BatchCall(ctx, batch); err != nil {
		return nil, err
	}
	for i := range batch {
		if batch[i].Error != nil {
			return nil, domain.WrapKind(domain.KindNonRetryableTransport,
				fmt.Errorf("view call %d: %w", i, batch[i].Error))
		}
	}
	return rets, nil
}

// orderByToken0 maps reserve0/reserve1 onto base/quote: pools order their
// tokens by ascending address.
func orderByToken0(pair domain.TokenPair, r0, r1 *big.Int) (base, quote *big.Int) {
	if bytes.Compare(pair.Base.Address.Bytes(), pair.Quote.Address.Bytes()) < 0 {
		return r0, r1
	}
	return r1, r0
}

func fromRaw(v *big.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(v, -int32(decimals))
}

func word(ret []byte, i int) *big.Int {
	start := i * 32
	if start+32 > len(ret) {
		return big.NewInt(0)
	}
	return new(big.Int).SetBytes(ret[start : start+32])
}

func withUint256(sel []byte, arg *big.Int) []byte {
	return append(append([]byte{}, sel...), common.LeftPadBytes(arg.Bytes(), 32)...)
}

// unpackUint256Array decodes a dynamic uint256[] return.
func unpackUint256Array(ret []byte) ([]*big.Int, bool) {
	if len(ret) < 64 {
		return nil, false
	}
	off := word(ret, 0).Int64()
	if off < 0 || int(off)+32 > len(ret) {
		return nil, false
	}
	n := new(big.Int).SetBytes(ret[off : off+32]).Int64()
	vals := make([]*big.Int, 0, n)
	for i := int64(0); i < n; i++ {
		start := off + 32 + i*32
		if int(start)+32 > len(ret) {
			return nil, false
		}
		vals = append(vals, new(big.Int).SetBytes(ret[start:start+32]))
	}
	return vals, true
}

// weightFraction converts a 1e18-scaled weight to a float fraction.
func weightFraction(w *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(w), big.NewFloat(1e18)).Float64()
	return f
}
