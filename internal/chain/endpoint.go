package chain

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// HealthState is the connection health of one endpoint.
type HealthState string

const (
	Healthy  HealthState = "healthy"
	Degraded HealthState = "degraded"
	Down     HealthState = "down"
)

// degradedCooldown is how long a failed endpoint sits out before being
// re-probed.
const degradedCooldown = 30 * time.Second

// endpoint is one RPC endpoint with its own rate limit, breaker and
// health state.
type endpoint struct {
	url string

	mu            sync.Mutex
	client        *rpc.Client
	state         HealthState
	degradedUntil time.Time
	failures      int

	inflight atomic.Int64
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
}

func newEndpoint(url string, rps float64, burst int) *endpoint {
	if rps <= 0 {
		rps = 20
	}
	if burst <= 0 {
		burst = 40
	}
	st := gobreaker.Settings{Name: url}
	st.Interval = 60 * time.Second
	st.Timeout = degradedCooldown
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}
	return &endpoint{
		url:     url,
		state:   Healthy,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		breaker: gobreaker.NewCircuitBreaker(st),
	}
}

// conn returns the dialed client, dialing lazily on first use.
func (e *endpoint) conn(ctx context.Context) (*rpc.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}
	c, err := rpc.DialContext(ctx, e.url)
	if err != nil {
		return nil, err
	}
	e.client = c
	return c, nil
}

// available reports whether the endpoint may serve a request now.
func (e *endpoint) available(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Down {
		return false
	}
	if e.state == Degraded && now.Before(e.degradedUntil) {
		return false
	}
	return true
}

// markFailure records a transport failure and degrades the endpoint for
// the cool-down window.
func (e *endpoint) markFailure(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures++
	e.state = Degraded
	e.degradedUntil = now.Add(degradedCooldown)
	if e.failures >= 10 {
		e.state = Down
	}
}

// markSuccess restores the endpoint to healthy.
func (e *endpoint) markSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = 0
	e.state = Healthy
}

func (e *endpoint) health() HealthState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Degraded && time.Now().After(e.degradedUntil) {
		// Cool-down elapsed; eligible for re-probe.
		return Healthy
	}
	return e.state
}

func (e *endpoint) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		e.client.Close()
		e.client = nil
	}
}
