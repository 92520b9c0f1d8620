package whiteboard

import (
	"sync"

	"go.uber.org/zap"

	"github.com/bayside-labs/whiteboard/internal/domain/flow"
	"github.com/bayside-labs/whiteboard/internal/domain/registry"
)

// depState tags the per-provider dependency gate.
type depState int

const (
	depPending depState = iota
	depWaiting
	depActive
)

func (s depState) String() string {
	switch s {
	case depPending:
		return "PENDING"
	case depWaiting:
		return "WAITING"
	case depActive:
		return "ACTIVE"
	default:
		return "UNKNOWN"
	}
}

// waitForDependencies defers program until every selector in the
// provider's extension-select list has a matching extension capability
// present at the same time. Loss of a previously satisfied dependency
// fully tears the program down and re-arms the wait. A provider whose
// selectors never resolve simply stays pending.
func waitForDependencies[T any](
	reg registry.Registry,
	log *zap.Logger,
	c registry.Capability,
	program flow.Program[T],
) flow.Program[T] {
	selectors := c.Properties.Strings(PropExtensionSelect)
	if len(selectors) == 0 {
		return program
	}

	extMarker := registry.MustFilter("(" + PropExtension + "=true)")
	filters := make([]*registry.Filter, 0, len(selectors))
	for _, sel := range selectors {
		f, err := registry.ParseFilter(sel)
		if err != nil {
			log.Warn("provider declares malformed dependency selector, skipping",
				zap.String("capability", c.ID),
				zap.String("selector", sel),
				zap.Error(err),
			)
			return flow.Nothing[T]()
		}
		filters = append(filters, registry.And(extMarker, f))
	}

	return func(pipe flow.Pipe[T]) flow.Handle {
		w := &depWaiter[T]{
			log:     log,
			capID:   c.ID,
			program: program,
			pipe:    pipe,
			counts:  make([]int, len(filters)),
		}

		programs := make([]flow.Program[registry.Capability], 0, len(filters))
		for i, f := range filters {
			i := i
			programs = append(programs, reg.Subscribe(f).Effects(func(registry.Capability) error {
				w.satisfied(i)
				return nil
			}, func(registry.Capability) {
				w.lost(i)
			}, nil))
		}

		subs := flow.All(programs...).Run()
		w.mu.Lock()
		w.subs = subs
		if w.state == depPending {
			w.state = depWaiting
		}
		w.mu.Unlock()

		return flow.HandleFunc(w.stop)
	}
}

type depWaiter[T any] struct {
	log     *zap.Logger
	capID   string
	program flow.Program[T]
	pipe    flow.Pipe[T]

	mu      sync.Mutex
	state   depState
	counts  []int
	subs    flow.Handle
	active  flow.Handle
	stopped bool
}

// satisfied records one more match for selector i; reaching full
// satisfaction activates the program exactly once.
func (w *depWaiter[T]) satisfied(i int) {
	w.mu.Lock()
	w.counts[i]++
	launch := !w.stopped && w.state != depActive && w.allSatisfiedLocked()
	if launch {
		w.state = depActive
	}
	w.mu.Unlock()

	if !launch {
		return
	}
	w.log.Debug("dependencies satisfied, activating provider", zap.String("capability", w.capID))
	h := w.program(w.pipe)
	w.mu.Lock()
	if w.stopped || w.state != depActive {
		w.mu.Unlock()
		h.Close()
		return
	}
	w.active = h
	w.mu.Unlock()
}

// lost re-arms the wait when a previously satisfied selector empties.
func (w *depWaiter[T]) lost(i int) {
	w.mu.Lock()
	w.counts[i]--
	var h flow.Handle
	if w.counts[i] == 0 && w.state == depActive {
		w.state = depWaiting
		h = w.active
		w.active = nil
	}
	w.mu.Unlock()

	if h != nil {
		w.log.Debug("dependency lost, re-arming provider", zap.String("capability", w.capID))
		h.Close()
	}
}

func (w *depWaiter[T]) allSatisfiedLocked() bool {
	for _, n := range w.counts {
		if n <= 0 {
			return false
		}
	}
	return true
}

func (w *depWaiter[T]) stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	h := w.active
	w.active = nil
	subs := w.subs
	w.mu.Unlock()

	if h != nil {
		h.Close()
	}
	if subs != nil {
		subs.Close()
	}
}
