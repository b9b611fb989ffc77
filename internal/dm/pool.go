package dm

import "sync"

// pools holds the sync.Pool instances backing ioHook and deferredEntry
// allocation. Both types are hot, short-lived, and fixed-size; §5
// recommends a slab/arena discipline as a QoI choice, and sync.Pool is
// the idiomatic Go answer for exactly that shape.
type pools struct {
	hooks     sync.Pool
	deferreds sync.Pool
}

func newPools() *pools {
	return &pools{
		hooks:     sync.Pool{New: func() any { return &ioHook{} }},
		deferreds: sync.Pool{New: func() any { return &deferredEntry{} }},
	}
}

func (p *pools) getHook() *ioHook {
	return p.hooks.Get().(*ioHook)
}

func (p *pools) putHook(h *ioHook) {
	h.md = nil
	h.done = nil
	p.hooks.Put(h)
}

func (p *pools) getDeferred() *deferredEntry {
	return p.deferreds.Get().(*deferredEntry)
}

func (p *pools) putDeferred(e *deferredEntry) {
	e.req = nil
	p.deferreds.Put(e)
}
