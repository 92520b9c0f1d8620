package registry

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bayside-labs/whiteboard/internal/domain/flow"
)

// Memory is the process-local registry. Delivery is serialized through a
// single event queue: operations performed from inside a subscriber
// callback enqueue their notifications and return, and the outermost
// call drains them. This keeps events for one capability ordered while
// letting callbacks freely re-enter the registry.
type Memory struct {
	log *zap.Logger

	mu          sync.Mutex
	caps        map[string]*record
	subs        map[int64]*subscription
	nextSub     int64
	queue       []event
	dispatching bool
}

type record struct {
	snapshot Capability
}

type event struct {
	appear  bool
	cap     Capability
	targets []*subscription
}

// New creates an empty in-memory registry.
func New(log *zap.Logger) *Memory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Memory{
		log:  log,
		caps: make(map[string]*record),
		subs: make(map[int64]*subscription),
	}
}

// Register publishes a capability. Matching subscribers see the
// appearance before Register returns unless the caller is itself running
// inside a delivery, in which case it is delivered by the outermost one.
func (m *Memory) Register(typ string, instance any, props Properties) Registration {
	if props == nil {
		props = Properties{}
	}
	snap := Capability{
		ID:         uuid.NewString(),
		Type:       typ,
		Properties: props.Clone(),
		Instance:   instance,
	}
	snap.Owner, _ = props.String(PropOwner)

	m.mu.Lock()
	m.caps[snap.ID] = &record{snapshot: snap}
	m.enqueueLocked(event{appear: true, cap: snap, targets: m.matchingLocked(snap)})
	reg := &registration{m: m, id: snap.ID, last: snap}
	m.flushLocked()
	return reg
}

// Subscribe returns a program over matching capabilities.
func (m *Memory) Subscribe(f *Filter) flow.Program[Capability] {
	return func(pipe flow.Pipe[Capability]) flow.Handle {
		m.mu.Lock()
		m.nextSub++
		sub := &subscription{
			id:     m.nextSub,
			filter: f,
			pipe:   pipe,
			log:    m.log,
			active: make(map[string]flow.Handle),
		}
		m.subs[sub.id] = sub
		for _, rec := range m.caps {
			if f.Matches(rec.snapshot) {
				m.enqueueLocked(event{appear: true, cap: rec.snapshot, targets: []*subscription{sub}})
			}
		}
		m.flushLocked()

		return flow.HandleFunc(func() {
			m.mu.Lock()
			delete(m.subs, sub.id)
			m.mu.Unlock()
			sub.shutdown()
		})
	}
}

// enqueueLocked appends a delivery; caller holds m.mu.
func (m *Memory) enqueueLocked(ev event) {
	if len(ev.targets) == 0 {
		return
	}
	m.queue = append(m.queue, ev)
}

// flushLocked drains the queue unless a drain is already in progress
// higher up the stack. Releases m.mu before every callback and returns
// with it released.
func (m *Memory) flushLocked() {
	if m.dispatching {
		m.mu.Unlock()
		return
	}
	m.dispatching = true
	for len(m.queue) > 0 {
		ev := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		m.deliver(ev)
		m.mu.Lock()
	}
	m.dispatching = false
	m.mu.Unlock()
}

func (m *Memory) deliver(ev event) {
	for _, sub := range ev.targets {
		if ev.appear {
			sub.appear(ev.cap)
		} else {
			sub.disappear(ev.cap)
		}
	}
}

// matchingLocked snapshots the subscriptions whose filter matches.
func (m *Memory) matchingLocked(c Capability) []*subscription {
	var out []*subscription
	for _, sub := range m.subs {
		if sub.filter.Matches(c) {
			out = append(out, sub)
		}
	}
	return out
}

type registration struct {
	m    *Memory
	id   string
	mu   sync.Mutex
	last Capability
}

func (r *registration) Ref() Capability {
	r.m.mu.Lock()
	if rec, ok := r.m.caps[r.id]; ok {
		snap := rec.snapshot
		r.m.mu.Unlock()
		return snap
	}
	r.m.mu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *registration) SetProperties(props Properties) {
	if props == nil {
		props = Properties{}
	}
	r.m.mu.Lock()
	rec, ok := r.m.caps[r.id]
	if !ok {
		r.m.mu.Unlock()
		return
	}
	old := rec.snapshot
	next := Capability{
		ID:         old.ID,
		Type:       old.Type,
		Owner:      old.Owner,
		Properties: props.Clone(),
		Instance:   old.Instance,
	}
	rec.snapshot = next
	r.mu.Lock()
	r.last = next
	r.mu.Unlock()
	// A replacement is a disappearance of the old snapshot followed by
	// an appearance of the new one, in that order.
	r.m.enqueueLocked(event{appear: false, cap: old, targets: r.m.matchingLocked(old)})
	r.m.enqueueLocked(event{appear: true, cap: next, targets: r.m.matchingLocked(next)})
	r.m.flushLocked()
}

func (r *registration) Close() {
	r.m.mu.Lock()
	rec, ok := r.m.caps[r.id]
	if !ok {
		r.m.mu.Unlock()
		return
	}
	delete(r.m.caps, r.id)
	r.m.enqueueLocked(event{appear: false, cap: rec.snapshot, targets: r.m.matchingLocked(rec.snapshot)})
	r.m.flushLocked()
}

type subscription struct {
	id     int64
	filter *Filter
	pipe   flow.Pipe[Capability]
	log    *zap.Logger

	mu     sync.Mutex
	closed bool
	order  []string
	active map[string]flow.Handle
}

func (s *subscription) appear(c Capability) {
	h := s.callPipe(c)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.safeClose(c.ID, h)
		return
	}
	s.order = append(s.order, c.ID)
	s.active[c.ID] = h
	s.mu.Unlock()
}

func (s *subscription) disappear(c Capability) {
	s.mu.Lock()
	h, ok := s.active[c.ID]
	if ok {
		delete(s.active, c.ID)
		for i, id := range s.order {
			if id == c.ID {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()
	if ok {
		s.safeClose(c.ID, h)
	}
}

// shutdown closes every live appearance in reverse order of acquisition.
func (s *subscription) shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	handles := make([]flow.Handle, 0, len(s.order))
	ids := make([]string, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		id := s.order[i]
		handles = append(handles, s.active[id])
		ids = append(ids, id)
	}
	s.order = nil
	s.active = make(map[string]flow.Handle)
	s.mu.Unlock()

	for i, h := range handles {
		s.safeClose(ids[i], h)
	}
}

func (s *subscription) callPipe(c Capability) (h flow.Handle) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("subscriber panicked on appearance",
				zap.String("capability", c.ID),
				zap.String("type", c.Type),
				zap.Any("panic", r),
			)
			h = flow.Noop
		}
	}()
	return s.pipe(c)
}

func (s *subscription) safeClose(id string, h flow.Handle) {
	if h == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("subscriber panicked on disappearance",
				zap.String("capability", id),
				zap.Any("panic", r),
			)
		}
	}()
	h.Close()
}
