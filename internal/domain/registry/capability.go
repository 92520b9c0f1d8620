// Package registry defines the capability registry the whiteboard
// consumes: named entities with property maps, filtered subscription and
// registration with mutable properties. The in-memory implementation is
// the process-local registry used by the bootstrap and by tests.
package registry

import (
	"fmt"

	"github.com/bayside-labs/whiteboard/internal/domain/flow"
)

// Capability is an immutable snapshot of a registered entity. Replacing a
// registration's properties produces a new snapshot under the same ID.
type Capability struct {
	ID         string
	Type       string
	Owner      string
	Properties Properties
	Instance   any
}

// Properties is the capability's property map.
type Properties map[string]any

// Clone returns a shallow copy safe for overlaying.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// String fetches a property rendered as a string.
func (p Properties) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", false
	}
	return stringify(v), true
}

// Strings canonicalizes a property value into a string slice: absent
// values yield nil, scalars a single element, lists one element each.
func (p Properties) Strings(key string) []string {
	v, ok := p[key]
	if !ok || v == nil {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		out := make([]string, len(vv))
		copy(out, vv)
		return out
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			out = append(out, stringify(e))
		}
		return out
	default:
		return []string{stringify(v)}
	}
}

// Bool fetches a property interpreted as a boolean; "true" counts.
func (p Properties) Bool(key string) bool {
	v, ok := p[key]
	if !ok {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return stringify(v) == "true"
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Registration is the mutable handle a provider keeps for a registered
// capability.
type Registration interface {
	// Ref returns the current snapshot.
	Ref() Capability
	// SetProperties atomically replaces the property set, producing a
	// new snapshot under the same ID.
	SetProperties(props Properties)
	// Close withdraws the capability. Idempotent.
	Close()
}

// Registry is the whiteboard's view of the capability registry. It is
// always passed explicitly; components never reach for ambient state.
type Registry interface {
	// Register publishes a capability and returns its handle.
	Register(typ string, instance any, props Properties) Registration
	// Subscribe returns a program of the capabilities matching f: every
	// present match appears when the program runs, later matches appear
	// as they register, and each appearance disappears when its
	// capability is withdrawn or replaced.
	Subscribe(f *Filter) flow.Program[Capability]
}
