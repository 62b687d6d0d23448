// Package chain provides typed JSON-RPC access to the configured
// blockchain networks through a health-tracked endpoint pool.
package chain

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/arbnexus/arbnexus/internal/config"
	"github.com/arbnexus/arbnexus/internal/domain"
)

// CallMsg is the argument of eth_call / eth_estimateGas.
type CallMsg struct {
	From  *common.Address `json:"from,omitempty"`
	To    *common.Address `json:"to,omitempty"`
	Gas   *hexutil.Uint64 `json:"gas,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
}

// GasEstimate is the smoothed per-chain gas picture. On legacy chains
// only PriceWei is set and it is the whole per-gas cost; on EIP-1559
// chains PriceWei = BaseFeeWei + TipWei.
type GasEstimate struct {
	PriceWei   *big.Int
	BaseFeeWei *big.Int
	TipWei     *big.Int
	Block      uint64
}

// Gwei returns the smoothed price in gwei as a float for budget checks.
func (g GasEstimate) Gwei() float64 {
	if g.PriceWei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(g.PriceWei), big.NewFloat(1e9)).Float64()
	return f
}

// Client is the typed RPC surface for one chain.
type Client struct {
	Chain domain.ChainID
	pool  *Pool
	meta  domain.ChainMeta

	mu  sync.Mutex
	ema *big.Int // EMA-smoothed gas price in wei
	alpha float64
}

// NewClient builds a client over a fresh pool.
func NewClient(chain domain.ChainID, cfg config.ChainConfig) *Client {
	return &Client{
		Chain: chain,
		pool:  NewPool(chain, cfg),
		meta:  chain.Meta(),
		alpha: cfg.GasEMAAlpha,
	}
}

// Pool exposes the underlying endpoint pool (health reporting).
func (c *Client) Pool() *Pool { return c.pool }

// BlockNumber returns the current head height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n hexutil.Uint64
	if err := c.pool.CallContext(ctx, &n, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// Syncing reports whether the node is still syncing.
func (c *Client) Syncing(ctx context.Context) (bool, error) {
	var raw interface{}
	if err := c.pool.CallContext(ctx, &raw, "eth_syncing"); err != nil {
		return false, err
	}
	// eth_syncing answers false when synced, a progress object otherwise.
	if b, ok := raw.(bool); ok && !b {
		return false, nil
	}
	return true, nil
}

// PeerCount returns the node's peer count.
func (c *Client) PeerCount(ctx context.Context) (uint64, error) {
	var n hexutil.Uint64
	if err := c.pool.CallContext(ctx, &n, "net_peerCount"); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// NetVersion returns the network id string.
func (c *Client) NetVersion(ctx context.Context) (string, error) {
	var v string
	err := c.pool.CallContext(ctx, &v, "net_version")
	return v, err
}

// GasPrice samples the current gas price, folds it into the EMA and
// returns the smoothed estimate. EIP-1559 chains combine the latest base
// fee with the suggested priority tip; legacy chains use eth_gasPrice
// alone as the whole per-gas cost.
func (c *Client) GasPrice(ctx context.Context) (GasEstimate, error) {
	var est GasEstimate

	block, err := c.BlockNumber(ctx)
	if err != nil {
		return est, err
	}
	est.Block = block

	if c.meta.EIP1559 {
		var hist struct {
			BaseFeePerGas []*hexutil.Big   `json:"baseFeePerGas"`
			Reward        [][]*hexutil.Big `json:"reward"`
		}
		err := c.pool.CallContext(ctx, &hist, "eth_feeHistory",
			hexutil.Uint64(1), "latest", []float64{50})
		if err != nil {
			return est, err
		}
		if len(hist.BaseFeePerGas) > 0 {
			est.BaseFeeWei = (*big.Int)(hist.BaseFeePerGas[len(hist.BaseFeePerGas)-1])
		}
		if len(hist.Reward) > 0 && len(hist.Reward[0]) > 0 {
			est.TipWei = (*big.Int)(hist.Reward[0][0])
		}
		if est.BaseFeeWei == nil {
			est.BaseFeeWei = big.NewInt(0)
		}
		if est.TipWei == nil {
			est.TipWei = big.NewInt(0)
		}
		est.PriceWei = new(big.Int).Add(est.BaseFeeWei, est.TipWei)
	} else {
		var price hexutil.Big
		if err := c.pool.CallContext(ctx, &price, "eth_gasPrice"); err != nil {
			return est, err
		}
		est.PriceWei = (*big.Int)(&price)
	}

	est.PriceWei = c.smooth(est.PriceWei)
	return est, nil
}

// smooth applies the per-chain EMA to damp gas spikes.
func (c *Client) smooth(sample *big.Int) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ema == nil {
		c.ema = new(big.Int).Set(sample)
		return new(big.Int).Set(c.ema)
	}
	// ema = alpha*sample + (1-alpha)*ema, in integer arithmetic.
	const scale = 1_000_000
	a := int64(c.alpha * scale)
	next := new(big.Int).Mul(sample, big.NewInt(a))
	next.Add(next, new(big.Int).Mul(c.ema, big.NewInt(scale-a)))
	next.Div(next, big.NewInt(scale))
	c.ema = next
	return new(big.Int).Set(c.ema)
}

// Call executes eth_call at the given block ("latest" when 0).
func (c *Client) Call(ctx context.Context, msg CallMsg, block uint64) ([]byte, error) {
	var out hexutil.Bytes
	arg := blockArg(block)
	if err := c.pool.CallContext(ctx, &out, "eth_call", msg, arg); err != nil {
		return nil, err
	}
	return out, nil
}

// EstimateGas runs eth_estimateGas for the message.
func (c *Client) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	var out hexutil.Uint64
	if err := c.pool.CallContext(ctx, &out, "eth_estimateGas", msg); err != nil {
		return 0, err
	}
	return uint64(out), nil
}

// PendingNonce returns the account's next nonce including pending txs.
func (c *Client) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	var n hexutil.Uint64
	if err := c.pool.CallContext(ctx, &n, "eth_getTransactionCount", addr, "pending"); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// SendRawTransaction broadcasts a signed transaction blob.
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	var h common.Hash
	err := c.pool.CallContext(ctx, &h, "eth_sendRawTransaction", hexutil.Encode(raw))
	return h, err
}

// TransactionReceipt fetches the receipt, returning (nil, nil) while the
// transaction is still unmined.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var r *types.Receipt
	if err := c.pool.CallContext(ctx, &r, "eth_getTransactionReceipt", hash); err != nil {
		return nil, err
	}
	return r, nil
}

// FilterQuery mirrors the eth_getLogs filter object.
type FilterQuery struct {
	FromBlock string           `json:"fromBlock,omitempty"`
	ToBlock   string           `json:"toBlock,omitempty"`
	Address   []common.Address `json:"address,omitempty"`
	Topics    [][]common.Hash  `json:"topics,omitempty"`
}

// Logs runs eth_getLogs.
func (c *Client) Logs(ctx context.Context, q FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.pool.CallContext(ctx, &logs, "eth_getLogs", q)
	return logs, err
}

// BatchCall issues a multi-call batch through a single endpoint.
func (c *Client) BatchCall(ctx context.Context, batch []rpc.BatchElem) error {
	return c.pool.BatchCallContext(ctx, batch)
}

// Close shuts the pool down.
func (c *Client) Close() { c.pool.Close() }

func blockArg(block uint64) string {
	if block == 0 {
		return "latest"
	}
	return hexutil.EncodeUint64(block)
}
