package chain

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/arbnexus/arbnexus/internal/config"
	"github.com/arbnexus/arbnexus/internal/domain"
)

const maxAttempts = 3

// Pool is the bounded endpoint pool for one chain. Requests pick the
// least-loaded available endpoint; transport failures fail over and
// degrade the endpoint for a cool-down.
type Pool struct {
	chain     domain.ChainID
	endpoints []*endpoint
}

// NewPool builds the pool from configuration.
func NewPool(chain domain.ChainID, cfg config.ChainConfig) *Pool {
	p := &Pool{chain: chain}
	for _, ep := range cfg.Endpoints {
		p.endpoints = append(p.endpoints, newEndpoint(ep.URL, ep.RPS, ep.Burst))
	}
	return p
}

// pick returns the least-loaded endpoint that is currently available,
// skipping skip. Returns nil when every endpoint is out.
func (p *Pool) pick(skip map[*endpoint]bool) *endpoint {
	now := time.Now()
	var best *endpoint
	for _, e := range p.endpoints {
		if skip[e] || !e.available(now) {
			continue
		}
		if best == nil || e.inflight.Load() < best.inflight.Load() {
			best = e
		}
	}
	return best
}

// CallContext performs one JSON-RPC call with per-endpoint rate
// limiting, breaker protection, retry with jittered exponential backoff
// and failover across endpoints. All requests carry the caller's
// deadline.
func (p *Pool) CallContext(ctx context.Context, result any, method string, args ...any) error {
	var lastErr error
	tried := make(map[*endpoint]bool)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(50<<attempt)*time.Millisecond +
				time.Duration(rand.Int63n(int64(40*time.Millisecond)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return domain.WrapKind(domain.KindDeadline, ctx.Err())
			}
		}

		ep := p.pick(tried)
		if ep == nil {
			// All distinct endpoints tried; allow revisiting.
			tried = make(map[*endpoint]bool)
			ep = p.pick(tried)
		}
		if ep == nil {
			if lastErr != nil {
				return lastErr
			}
			return domain.Errf(domain.KindFatal, "%s: no healthy rpc endpoints", p.chain)
		}

		err := p.callOnce(ctx, ep, result, method, args...)
		if err == nil {
			return nil
		}
		lastErr = err
		tried[ep] = true

		if !domain.Retryable(err) {
			return err
		}
	}
	return domain.WrapKind(domain.KindRetryableTransport,
		errors.New("rpc call failed after retries: "+lastErr.Error()))
}

func (p *Pool) callOnce(ctx context.Context, ep *endpoint, result any, method string, args ...any) error {
	if err := ep.limiter.Wait(ctx); err != nil {
		return domain.WrapKind(domain.KindDeadline, err)
	}

	_, err := ep.breaker.Execute(func() (any, error) {
		client, err := ep.conn(ctx)
		if err != nil {
			return nil, err
		}
		ep.inflight.Add(1)
		defer ep.inflight.Add(-1)
		return nil, client.CallContext(ctx, result, method, args...)
	})
	if err == nil {
		ep.markSuccess()
		return nil
	}

	kind := classify(err)
	if kind == domain.KindRetryableTransport || kind == domain.KindNonRetryableTransport {
		ep.markFailure(time.Now())
		log.Warn().Str("chain", string(p.chain)).Str("endpoint", ep.url).
			Str("method", method).Err(err).Msg("rpc endpoint degraded")
	}
	return domain.WrapKind(kind, err)
}

// BatchCallContext sends a JSON-RPC batch through one endpoint, failing
// over the whole batch on transport errors.
func (p *Pool) BatchCallContext(ctx context.Context, batch []rpc.BatchElem) error {
	var lastErr error
	tried := make(map[*endpoint]bool)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		ep := p.pick(tried)
		if ep == nil {
			break
		}
		if err := ep.limiter.Wait(ctx); err != nil {
			return domain.WrapKind(domain.KindDeadline, err)
		}
		client, err := ep.conn(ctx)
		if err == nil {
			ep.inflight.Add(1)
			err = client.BatchCallContext(ctx, batch)
			ep.inflight.Add(-1)
		}
		if err == nil {
			ep.markSuccess()
			return nil
		}
		ep.markFailure(time.Now())
		tried[ep] = true
		lastErr = domain.WrapKind(classify(err), err)
		if !domain.Retryable(lastErr) {
			return lastErr
		}
	}
	if lastErr == nil {
		return domain.Errf(domain.KindFatal, "%s: no healthy rpc endpoints", p.chain)
	}
	return lastErr
}

// Health summarizes endpoint states: Healthy when any endpoint is
// healthy, Down when all are down, Degraded otherwise.
func (p *Pool) Health() HealthState {
	healthy, down := 0, 0
	for _, e := range p.endpoints {
		switch e.health() {
		case Healthy:
			healthy++
		case Down:
			down++
		}
	}
	switch {
	case healthy > 0:
		return Healthy
	case down == len(p.endpoints):
		return Down
	default:
		return Degraded
	}
}

// Close releases all endpoint connections.
func (p *Pool) Close() {
	for _, e := range p.endpoints {
		e.close()
	}
}

// classify maps raw transport errors onto the error taxonomy.
func classify(err error) domain.ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.KindDeadline
	case errors.Is(err, context.Canceled):
		return domain.KindDeadline
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return domain.KindRetryableTransport
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		// The server answered with a JSON-RPC error object: not a
		// transport fault, never retried at this layer.
		return domain.KindNonRetryableTransport
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= 500 {
			return domain.KindRetryableTransport
		}
		return domain.KindNonRetryableTransport
	}
	// Connection resets, DNS failures, EOF and friends.
	return domain.KindRetryableTransport
}
