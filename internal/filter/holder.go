package filter

import "sync/atomic"

// Holder publishes the active Pipeline to concurrent readers.
type Holder struct {
	current atomic.Pointer[Pipeline]
}

// NewHolder returns a Holder seeded with p, or an accept-all pipeline when p is nil.
func NewHolder(p *Pipeline) *Holder {
	h := &Holder{}
	h.Set(p)
	return h
}

// Load returns the active pipeline.
func (h *Holder) Load() *Pipeline {
	return h.current.Load()
}

// Set replaces the active pipeline.
func (h *Holder) Set(p *Pipeline) {
	if p == nil {
		p = AcceptAll()
	}
	h.current.Store(p)
}
