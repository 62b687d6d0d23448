package exec

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/arbnexus/arbnexus/internal/chain"
	"github.com/arbnexus/arbnexus/internal/domain"
)

// track polls for the receipt of the execution's last transaction until
// it is final. Successful receipts settle Confirmed at the first
// confirmation and keep polling until the chain's finality depth; a
// receipt that disappears before then was reorged out and the execution
// drops back to Pending with the original payloads rebroadcast. A
// missing receipt past the deadline is replaced with a same-nonce
// cancel, bounded by the replacement budget.
func (e *Engine) track(ctx context.Context, rt *ChainRuntime, ex *domain.Execution, gas chain.GasEstimate, raws [][]byte) {
	poll := e.trackPoll
	if poll <= 0 {
		poll = rt.Meta.BlockTime
		if poll < time.Second {
			poll = time.Second
		}
	}
	deadline := time.Now().Add(e.cfg.ExecutionDeadline)
	attempt := 0
	seenReceipt := false
	confirmed := false

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Shutdown: leave the execution as journaled; restart replay
			// re-attaches it.
			log.Info().Str("execution", ex.ID).Msg("tracking detached on shutdown")
			return
		case <-ticker.C:
		}

		receipt, err := rt.Backend.TransactionReceipt(ctx, ex.LastTxHash())
		if err != nil {
			log.Debug().Err(err).Str("execution", ex.ID).Msg("receipt poll failed")
			continue
		}
		if receipt == nil {
			if confirmed {
				// The confirmed block was reorged out before finality;
				// unwind the settlement and put the payloads back on the
				// wire.
				log.Warn().Str("execution", ex.ID).Msg("confirmed receipt reorged out")
				e.alert(domain.AlertCritical, rt.ID, "confirmed execution reorged out, back to pending")
				ex.RealizedProfit = nil
				ex.GasPaid = decimal.Zero
				ex.EndedAt = nil
				e.transition(ex, domain.ExecPending)
				e.rebroadcast(ctx, rt, ex, raws)
				confirmed = false
				seenReceipt = false
				deadline = time.Now().Add(e.cfg.ExecutionDeadline)
				continue
			}
			if seenReceipt {
				// The mined block was reorged out from under us.
				log.Warn().Str("execution", ex.ID).Msg("receipt disappeared, chain reorg")
				e.alert(domain.AlertWarning, rt.ID, "receipt reorged out, execution back to pending")
				seenReceipt = false
			}
			if time.Now().After(deadline) {
				if attempt >= e.cfg.MaxReplacements {
					e.fail(ex, "no receipt within execution deadline")
					return
				}
				attempt++
				if !e.replace(ctx, rt, ex, gas, attempt) {
					return
				}
				deadline = time.Now().Add(e.cfg.ExecutionDeadline)
			}
			continue
		}
		seenReceipt = true

		head, err := rt.Backend.BlockNumber(ctx)
		if err != nil {
			continue
		}
		mined := receipt.BlockNumber.Uint64()
		if head < mined {
			continue
		}

		if receipt.Status == types.ReceiptStatusSuccessful {
			if !confirmed {
				e.settleConfirmed(rt, ex, receipt)
				confirmed = true
			}
			if head-mined >= rt.Meta.FinalityDepth {
				return
			}
			continue
		}

		// Reverts settle only at finality; a shallow reverted receipt can
		// still be reorged out.
		if head-mined < rt.Meta.FinalityDepth {
			continue
		}
		e.settleReverted(ctx, rt, ex, receipt)
		return
	}
}

// rebroadcast resends the retained signed payloads after a reorg. Nodes
// that still hold them answer "already known"; that is not a failure.
func (e *Engine) rebroadcast(ctx context.Context, rt *ChainRuntime, ex *domain.Execution, raws [][]byte) {
	for _, raw := range raws {
		if _, err := rt.Backend.SendRawTransaction(ctx, raw); err != nil {
			log.Debug().Err(err).Str("execution", ex.ID).Msg("rebroadcast declined")
		}
	}
}

// replace broadcasts a zero-value self-transfer on the stuck nonce with
// bumped gas.
func (e *Engine) replace(ctx context.Context, rt *ChainRuntime, ex *domain.Execution, gas chain.GasEstimate, attempt int) bool {
	replacementsIssued.WithLabelValues(string(rt.ID)).Inc()
	log.Warn().
		Str("execution", ex.ID).
		Uint64("nonce", ex.Nonce).
		Int("attempt", attempt).
		Msg("issuing cancel-replacement")

	raw, hash, err := rt.Signer.SignCancel(rt.Meta, ex.Nonce, gas, e.cfg.ReplacementBump, attempt)
	if err != nil {
		e.fail(ex, "replacement sign failed: "+err.Error())
		return false
	}
	sent, err := rt.Backend.SendRawTransaction(ctx, raw)
	if err != nil {
		e.fail(ex, "replacement broadcast failed: "+err.Error())
		return false
	}
	if sent == (common.Hash{}) {
		sent = hash
	}
	ex.TxHashes = append(ex.TxHashes, sent)
	e.journalState(ex)
	return true
}

// revertReason replays the failing call at the mined block and returns
// the node's error text.
func (e *Engine) revertReason(ctx context.Context, rt *ChainRuntime, ex *domain.Execution, block uint64) string {
	if len(ex.Plan.Calls) == 0 {
		return "reverted"
	}
	call := ex.Plan.Calls[len(ex.Plan.Calls)-1]
	from := rt.Signer.Address()
	to := call.To
	msg := chain.CallMsg{From: &from, To: &to, Data: hexutil.Bytes(call.Data)}
	if _, err := rt.Backend.Call(ctx, msg, block); err != nil {
		return err.Error()
	}
	return "reverted"
}
