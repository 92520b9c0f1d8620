package whiteboard

import "sync"

// Claims enforces exclusive adoption of source capabilities across the
// contexts sharing it: the first context to see a capability owns it
// until every claim it took is released. Delivery serialization in the
// registry makes first-come deterministic.
type Claims struct {
	mu     sync.Mutex
	owners map[string]*claim
}

type claim struct {
	owner string
	refs  int
}

// NewClaims creates an empty claim table; the bootstrap shares one
// across all controllers.
func NewClaims() *Claims {
	return &Claims{owners: make(map[string]*claim)}
}

// TryClaim takes (or re-enters) a claim on capID for owner.
func (c *Claims) TryClaim(owner, capID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl, ok := c.owners[capID]
	if !ok {
		c.owners[capID] = &claim{owner: owner, refs: 1}
		return true
	}
	if cl.owner != owner {
		return false
	}
	cl.refs++
	return true
}

// Release drops one claim reference; the capability becomes adoptable
// again once the owning context released every reference.
func (c *Claims) Release(owner, capID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl, ok := c.owners[capID]
	if !ok || cl.owner != owner {
		return
	}
	cl.refs--
	if cl.refs <= 0 {
		delete(c.owners, capID)
	}
}
