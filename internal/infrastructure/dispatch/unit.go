package dispatch

import (
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bayside-labs/whiteboard/internal/domain/flow"
)

// Options configure every registrator engine a unit creates.
type Options struct {
	CORS      *CORSConfig
	RateLimit *RateLimitConfig
	Debug     bool
}

var ginModeOnce sync.Once

// Unit is one context's isolated dispatch bus: it creates registrators
// and mounts them into the serving runtime, tracking every mount so the
// context can be torn down as a whole.
type Unit struct {
	rt   RuntimeRef
	log  *zap.Logger
	opts Options

	mu     sync.Mutex
	mounts []flow.Handle
	closed bool
}

// NewUnit builds an isolated dispatch unit bound to rt.
func NewUnit(rt RuntimeRef, log *zap.Logger, opts Options) *Unit {
	if log == nil {
		log = zap.NewNop()
	}
	ginModeOnce.Do(func() {
		if !opts.Debug {
			gin.SetMode(gin.ReleaseMode)
		}
	})
	return &Unit{rt: rt, log: log, opts: opts}
}

// NewRegistrator creates an empty registrator for one application.
func (u *Unit) NewRegistrator(name string) *Registrator {
	return newRegistrator(name, u.log, u.opts)
}

// Mount attaches a registrator's handler at base on the serving runtime.
// The returned handle detaches it; closing the unit detaches everything
// still mounted, in reverse order.
func (u *Unit) Mount(base string, r *Registrator) (flow.Handle, error) {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil, fmt.Errorf("dispatch unit closed")
	}
	u.mu.Unlock()

	attached, err := u.rt.Attach(base, r)
	if err != nil {
		return nil, fmt.Errorf("mount %s at %q: %w", r.Name(), base, err)
	}

	h := &mountHandle{unit: u, attached: attached}

	u.mu.Lock()
	u.mounts = append(u.mounts, h)
	u.mu.Unlock()

	u.log.Debug("mounted dispatch segment",
		zap.String("registrator", r.Name()),
		zap.String("base", base),
	)
	return h, nil
}

type mountHandle struct {
	unit     *Unit
	attached flow.Handle
	once     sync.Once
}

func (m *mountHandle) Close() {
	m.once.Do(func() {
		m.attached.Close()
		m.unit.forget(m)
	})
}

func (u *Unit) forget(h *mountHandle) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i, m := range u.mounts {
		if m == h {
			u.mounts = append(u.mounts[:i], u.mounts[i+1:]...)
			return
		}
	}
}

// Close detaches every remaining mount in reverse order. Idempotent.
func (u *Unit) Close() {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return
	}
	u.closed = true
	mounts := u.mounts
	u.mounts = nil
	u.mu.Unlock()

	for i := len(mounts) - 1; i >= 0; i-- {
		mounts[i].Close()
	}
}
