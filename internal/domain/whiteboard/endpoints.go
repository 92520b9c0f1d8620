package whiteboard

import (
	"sync"

	"github.com/bayside-labs/whiteboard/internal/domain/registry"
)

// endpointSet is the ordered sequence of base addresses the context's
// bound serving runtimes declare. It is recomputed on every endpoint
// appearance or disappearance and republished onto the introspection
// capability once one exists.
type endpointSet struct {
	mu      sync.Mutex
	entries []endpointEntry
	pub     *published
}

type endpointEntry struct {
	capID string
	urls  []string
}

func newEndpointSet() *endpointSet {
	return &endpointSet{}
}

func (e *endpointSet) add(c registry.Capability) {
	urls := c.Properties.Strings(PropEndpoint)
	e.mu.Lock()
	e.entries = append(e.entries, endpointEntry{capID: c.ID, urls: urls})
	pub, snap := e.pub, e.snapshotLocked()
	e.mu.Unlock()
	publishEndpoints(pub, snap)
}

func (e *endpointSet) remove(c registry.Capability) {
	e.mu.Lock()
	for i, entry := range e.entries {
		if entry.capID == c.ID {
			e.entries = append(e.entries[:i], e.entries[i+1:]...)
			break
		}
	}
	pub, snap := e.pub, e.snapshotLocked()
	e.mu.Unlock()
	publishEndpoints(pub, snap)
}

// bind attaches the introspection registration and pushes the current
// set onto it.
func (e *endpointSet) bind(pub *published) {
	e.mu.Lock()
	e.pub = pub
	snap := e.snapshotLocked()
	e.mu.Unlock()
	publishEndpoints(pub, snap)
}

func (e *endpointSet) snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *endpointSet) snapshotLocked() []string {
	out := make([]string, 0, len(e.entries))
	for _, entry := range e.entries {
		out = append(out, entry.urls...)
	}
	return out
}

func publishEndpoints(pub *published, endpoints []string) {
	if pub == nil {
		return
	}
	pub.update(func(props registry.Properties) {
		props[PropEndpoint] = endpoints
	})
}
