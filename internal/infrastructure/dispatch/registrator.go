package dispatch

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type entry[T any] struct {
	id    string
	value T
}

// Registrator holds the resources and extensions currently deployed to
// one application (or to the context's default application). Every
// membership change rebuilds the gin engine and swaps it in atomically,
// so in-flight requests keep the engine they started on.
type Registrator struct {
	name string
	log  *zap.Logger
	opts Options

	mu         sync.Mutex
	resources  []entry[Resource]
	extensions []entry[Extension]

	engine atomic.Pointer[gin.Engine]
}

func newRegistrator(name string, log *zap.Logger, opts Options) *Registrator {
	r := &Registrator{name: name, log: log, opts: opts}
	eng, _ := r.build()
	r.engine.Store(eng)
	return r
}

// Name identifies the registrator's application.
func (r *Registrator) Name() string { return r.name }

// AddResource deploys a resource. A resource whose routes cannot be
// bound is rejected without disturbing its siblings.
func (r *Registrator) AddResource(id string, res Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources = append(r.resources, entry[Resource]{id: id, value: res})
	if err := r.rebuildLocked(); err != nil {
		r.resources = r.resources[:len(r.resources)-1]
		// Restore the previous engine; the old membership is known good.
		_ = r.rebuildLocked()
		return err
	}
	return nil
}

// RemoveResource withdraws a resource by the id it was added under.
func (r *Registrator) RemoveResource(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.resources {
		if e.id == id {
			r.resources = append(r.resources[:i], r.resources[i+1:]...)
			break
		}
	}
	_ = r.rebuildLocked()
}

// AddExtension deploys a cross-cutting extension wrapping every resource.
func (r *Registrator) AddExtension(id string, ext Extension) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extensions = append(r.extensions, entry[Extension]{id: id, value: ext})
	if err := r.rebuildLocked(); err != nil {
		r.extensions = r.extensions[:len(r.extensions)-1]
		_ = r.rebuildLocked()
		return err
	}
	return nil
}

// RemoveExtension withdraws an extension by id.
func (r *Registrator) RemoveExtension(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.extensions {
		if e.id == id {
			r.extensions = append(r.extensions[:i], r.extensions[i+1:]...)
			break
		}
	}
	_ = r.rebuildLocked()
}

// Counts reports current membership, for runtime introspection.
func (r *Registrator) Counts() (resources, extensions int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.resources), len(r.extensions)
}

func (r *Registrator) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.engine.Load().ServeHTTP(w, req)
}

func (r *Registrator) rebuildLocked() error {
	eng, err := r.build()
	if err != nil {
		return err
	}
	r.engine.Store(eng)
	return nil
}

// build assembles a fresh engine: recovery first, unit middleware, then
// extensions in deployment order, then every resource's routes. gin
// panics on conflicting routes; that surfaces here as an error.
func (r *Registrator) build() (eng *gin.Engine, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			eng = nil
			err = fmt.Errorf("registrator %s: %v", r.name, rec)
		}
	}()

	eng = gin.New()
	eng.Use(gin.Recovery())
	if r.opts.CORS != nil {
		eng.Use(corsMiddleware(*r.opts.CORS))
	}
	if r.opts.RateLimit != nil {
		eng.Use(rateLimitMiddleware(*r.opts.RateLimit))
	}
	for _, e := range r.extensions {
		eng.Use(e.value.Middleware())
	}
	for _, e := range r.resources {
		for _, route := range e.value.Routes() {
			eng.Handle(route.Method, route.Path, route.Handler)
		}
	}
	return eng, nil
}
