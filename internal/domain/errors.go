package domain

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes failures so callers can pick a recovery policy
// without string matching.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindRetryableTransport: RPC timeout, 5xx, connection reset. Retried
	// internally with jittered backoff before surfacing.
	KindRetryableTransport
	// KindNonRetryableTransport: 4xx or malformed response. Never retried;
	// the endpoint is marked degraded.
	KindNonRetryableTransport
	// KindChainReorg: confirmation height regressed.
	KindChainReorg
	// KindSimulationRevert: a plan step reverts under eth_call.
	KindSimulationRevert
	// KindInsufficientLiquidity: quote or provider depth below the notional.
	KindInsufficientLiquidity
	// KindBudget: gas ceiling, position size or cool-down violation.
	KindBudget
	// KindDeadline: an operation exceeded its explicit deadline.
	KindDeadline
	// KindFatal: store unwritable, signer unavailable, chain down too long.
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindRetryableTransport:
		return "retryable_transport"
	case KindNonRetryableTransport:
		return "non_retryable_transport"
	case KindChainReorg:
		return "chain_reorg"
	case KindSimulationRevert:
		return "simulation_revert"
	case KindInsufficientLiquidity:
		return "insufficient_liquidity"
	case KindBudget:
		return "budget"
	case KindDeadline:
		return "deadline"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

// CodedError wraps an error with an ErrorKind.
type CodedError struct {
	Kind ErrorKind
	Err  error
}

func (e *CodedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CodedError) Unwrap() error { return e.Err }

// Errf builds a new coded error.
func Errf(kind ErrorKind, format string, args ...any) error {
	return &CodedError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// WrapKind attaches a kind to err, preserving the chain. A nil err
// returns nil.
func WrapKind(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &CodedError{Kind: kind, Err: err}
}

// KindOf extracts the innermost kind from err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// Retryable reports whether the failure should be retried by transport
// policy.
func Retryable(err error) bool {
	k := KindOf(err)
	return k == KindRetryableTransport || k == KindDeadline
}
