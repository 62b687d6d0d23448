// Package exec drives executions through their state machine: planning,
// simulation, broadcast, confirmation tracking and settlement.
package exec

import "sync"

// NonceAllocator hands out strictly increasing nonces for one
// (chain, signer). A nonce aborted before broadcast is returned to the
// pool and reused before any new one is issued, so the sequence stays
// gap-free.
type NonceAllocator struct {
	mu    sync.Mutex
	next  uint64
	freed map[uint64]bool
}

// NewNonceAllocator starts the sequence at the account's current
// pending nonce (or the persisted counter, whichever is higher).
func NewNonceAllocator(start uint64) *NonceAllocator {
	return &NonceAllocator{next: start, freed: make(map[uint64]bool)}
}

// Reserve returns the lowest available nonce.
func (a *NonceAllocator) Reserve() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.freed) > 0 {
		low := uint64(0)
		first := true
		for n := range a.freed {
			if first || n < low {
				low, first = n, false
			}
		}
		delete(a.freed, low)
		return low
	}
	n := a.next
	a.next++
	return n
}

// ReserveN reserves count consecutive nonces (multi-call direct plans).
func (a *NonceAllocator) ReserveN(count int) []uint64 {
	out := make([]uint64, count)
	for i := range out {
		out[i] = a.Reserve()
	}
	return out
}

// Release returns a never-broadcast nonce to the pool. Contiguous freed
// nonces at the top of the sequence roll the counter back.
func (a *NonceAllocator) Release(n uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freed[n] = true
	for a.next > 0 && a.freed[a.next-1] {
		delete(a.freed, a.next-1)
		a.next--
	}
}

// Next exposes the counter for persistence.
func (a *NonceAllocator) Next() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}
