package whiteboard

import (
	"sync"

	"github.com/bayside-labs/whiteboard/internal/domain/registry"
)

// published serializes read-modify-write updates of the introspection
// capability's properties, so the revision counter and the endpoint set
// never discard each other's writes.
type published struct {
	mu  sync.Mutex
	reg registry.Registration
}

func (p *published) update(fn func(props registry.Properties)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	props := p.reg.Ref().Properties.Clone()
	fn(props)
	p.reg.SetProperties(props)
}

func (p *published) close() {
	p.reg.Close()
}

// changeCounter stamps a strictly increasing revision onto the
// introspection capability. Every structural change in the context's
// deployed set goes through inc exactly once.
type changeCounter struct {
	pub *published

	mu sync.Mutex
	n  uint64
}

func newChangeCounter(pub *published) *changeCounter {
	return &changeCounter{pub: pub}
}

func (c *changeCounter) inc() {
	// Holding the counter lock across the republish keeps published
	// revisions monotonic under concurrent callers.
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	n := c.n
	c.pub.update(func(props registry.Properties) {
		props[PropChangeCount] = n
	})
}

func (c *changeCounter) value() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
