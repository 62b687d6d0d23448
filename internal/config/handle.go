package config

import "sync/atomic"

// Handle is the shared view of the live configuration record. Workers
// read through it on their hot paths, so a config update applied over
// the API takes effect on the next tick without a restart.
type Handle struct {
	p atomic.Pointer[Config]
}

// NewHandle seeds the handle with the startup configuration.
func NewHandle(cfg Config) *Handle {
	h := &Handle{}
	h.Store(cfg)
	return h
}

// Load returns the current record. The chains map is shared with the
// stored record and must be treated as read-only; mutating callers go
// through a deep copy first.
func (h *Handle) Load() Config {
	return *h.p.Load()
}

// Store swaps the record in. The previous record stays valid for
// readers that already loaded it.
func (h *Handle) Store(cfg Config) {
	h.p.Store(&cfg)
}
