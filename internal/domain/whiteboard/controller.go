package whiteboard

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/bayside-labs/whiteboard/internal/domain/flow"
	"github.com/bayside-labs/whiteboard/internal/domain/registry"
	"github.com/bayside-labs/whiteboard/internal/infrastructure/dispatch"
	"github.com/bayside-labs/whiteboard/internal/infrastructure/monitoring"
)

// State tags the controller lifecycle.
type State int

const (
	StateUnstarted State = iota
	StateWaitingForRuntime
	StateActive
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "UNSTARTED"
	case StateWaitingForRuntime:
		return "WAITING_FOR_RUNTIME"
	case StateActive:
		return "ACTIVE"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// DefaultTarget matches any serving runtime advertising endpoints.
const DefaultTarget = "(" + PropEndpoint + "=*)"

const defaultName = "default"

// Options configure one whiteboard context.
type Options struct {
	// Name identifies the configuration; empty means the default one.
	Name string
	// Target selects the serving runtime(s) this context binds to.
	// Defaults to DefaultTarget.
	Target string
	// Base is the mount base of the default registrator.
	Base string

	Registry registry.Registry
	Log      *zap.Logger
	Metrics  *monitoring.Metrics
	// Claims enforces exclusive capability adoption across contexts;
	// controllers sharing providers must share one table.
	Claims   *Claims
	Dispatch dispatch.Options
}

// Controller composes the providers currently present in the registry
// into live deployments for one configuration.
type Controller struct {
	name          string
	reg           registry.Registry
	log           *zap.Logger
	metrics       *monitoring.Metrics
	claims        *Claims
	runtimeFilter *registry.Filter
	targetExpr    string
	base          string
	dopts         dispatch.Options

	mu        sync.Mutex
	state     State
	bound     bool
	gate      flow.Handle
	inner     flow.Handle
	info      *RuntimeInfo
	counter   *changeCounter
	closeOnce sync.Once
}

// New validates the configuration; a malformed target filter rejects it
// here, before anything runs.
func New(opts Options) (*Controller, error) {
	name := opts.Name
	if name == "" {
		name = defaultName
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("whiteboard %q: registry is required", name)
	}
	target := opts.Target
	if target == "" {
		target = DefaultTarget
	}
	tf, err := registry.ParseFilter(target)
	if err != nil {
		return nil, fmt.Errorf("whiteboard %q: malformed target filter: %w", name, err)
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	claims := opts.Claims
	if claims == nil {
		claims = NewClaims()
	}

	return &Controller{
		name:          name,
		reg:           opts.Registry,
		log:           log.With(zap.String("whiteboard", name)),
		metrics:       opts.Metrics,
		claims:        claims,
		runtimeFilter: registry.And(registry.MustFilter("(type="+TypeHTTPRuntime+")"), tf),
		targetExpr:    target,
		base:          opts.Base,
		dopts:         opts.Dispatch,
		state:         StateUnstarted,
	}, nil
}

// Name returns the configuration name.
func (c *Controller) Name() string { return c.name }

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Revision returns the context's current revision counter.
func (c *Controller) Revision() uint64 {
	c.mu.Lock()
	counter := c.counter
	c.mu.Unlock()
	if counter == nil {
		return 0
	}
	return counter.value()
}

// Info returns the live introspection view, nil until bound.
func (c *Controller) Info() *RuntimeInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Start begins waiting for a serving runtime matching the configured
// target. The first match binds the context; later matches and the loss
// of the bound runtime are ignored (accepted drift).
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.state != StateUnstarted {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("whiteboard %q: cannot start from state %s", c.name, state)
	}
	c.state = StateWaitingForRuntime
	c.mu.Unlock()

	c.log.Info("waiting for serving runtime", zap.String("target", c.targetExpr))

	gate := c.reg.Subscribe(c.runtimeFilter).Effects(func(rt registry.Capability) error {
		c.bind(rt)
		return nil
	}, nil, func(err error) {
		c.log.Error("runtime binding failed", zap.Error(err))
	})

	h := gate.Run()
	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		h.Close()
		return nil
	}
	c.gate = h
	c.mu.Unlock()
	return nil
}

// bind creates the deployment context on the first matching runtime.
func (c *Controller) bind(rt registry.Capability) {
	c.mu.Lock()
	if c.bound || c.state != StateWaitingForRuntime {
		c.mu.Unlock()
		return
	}
	rtRef, ok := rt.Instance.(dispatch.RuntimeRef)
	if !ok {
		c.mu.Unlock()
		c.log.Warn("serving runtime capability is not attachable, ignoring",
			zap.String("capability", rt.ID))
		return
	}
	c.bound = true
	c.state = StateActive
	c.mu.Unlock()

	c.log.Info("binding to serving runtime", zap.String("runtime", rt.ID))

	unit := dispatch.NewUnit(rtRef, c.log, c.dopts)
	defaultReg := unit.NewRegistrator(".default")
	mounted, err := unit.Mount(c.base, defaultReg)
	if err != nil {
		c.log.Error("failed to mount default registrator", zap.Error(err))
		unit.Close()
		c.mu.Lock()
		c.bound = false
		if c.state == StateActive {
			c.state = StateWaitingForRuntime
		}
		c.mu.Unlock()
		return
	}

	// Track endpoints of every matching runtime; the best-effort seed is
	// whatever has been delivered by registration time, the subscription
	// keeps the property current afterwards.
	endpoints := newEndpointSet()
	endpointsH := c.reg.Subscribe(c.runtimeFilter).Effects(func(cap registry.Capability) error {
		endpoints.add(cap)
		return nil
	}, func(cap registry.Capability) {
		endpoints.remove(cap)
	}, nil).Run()

	info := newRuntimeInfo(c.name)
	ireg := c.reg.Register(TypeRuntime, info, registry.Properties{
		PropName:             c.name,
		PropTarget:           c.targetExpr,
		PropEndpoint:         endpoints.snapshot(),
		PropChangeCount:      uint64(0),
		registry.PropRanking: -1,
	})
	pub := &published{reg: ireg}
	endpoints.bind(pub)
	counter := newChangeCounter(pub)

	appsH := c.countChanges(counter, c.applications(rt, unit, info)).Run()
	appSingletonsH := c.countChanges(counter, c.applicationSingletons(rt, info)).Run()
	extensionsH := c.countChanges(counter, c.extensions(rt, defaultReg, info)).Run()
	singletonsH := c.countChanges(counter, c.singletons(rt, defaultReg, info)).Run()

	c.metrics.ContextBound()

	// Composite closes back-to-front: the four subscriptions release
	// their deployments, endpoint tracking stops, the introspection
	// capability is withdrawn, then the default mount and the unit go.
	inner := flow.Handles(
		c.safeHandle("dispose dispatch unit", flow.HandleFunc(unit.Close)),
		c.safeHandle("unmount default registrator", mounted),
		c.safeHandle("unregister introspection", flow.HandleFunc(pub.close)),
		c.safeHandle("stop endpoint tracking", endpointsH),
		c.safeHandle("stop applications", appsH),
		c.safeHandle("stop application singletons", appSingletonsH),
		c.safeHandle("stop extensions", extensionsH),
		c.safeHandle("stop singletons", singletonsH),
	)

	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		inner.Close()
		c.metrics.ContextUnbound()
		return
	}
	c.inner = inner
	c.info = info
	c.counter = counter
	c.mu.Unlock()
}

// Close releases every deployed resource in reverse activation order,
// unregisters the introspection capability and disposes the dispatch
// unit. Idempotent; teardown failures are logged and never stop the
// unwinding.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateStopped
		gate, inner := c.gate, c.inner
		c.gate, c.inner = nil, nil
		c.mu.Unlock()

		if gate == nil && inner == nil {
			return
		}
		c.log.Info("stopping whiteboard")
		if gate != nil {
			c.safe("stop runtime gate", gate.Close)
		}
		if inner != nil {
			inner.Close()
			c.metrics.ContextUnbound()
		}
	})
}

// countChanges bumps the revision counter on every structural change in
// a subscription, appearances and disappearances alike.
func (c *Controller) countChanges(counter *changeCounter, p flow.Program[registry.Capability]) flow.Program[registry.Capability] {
	bump := func() {
		counter.inc()
		c.metrics.RevisionBumped(c.name)
	}
	return p.Effects(func(registry.Capability) error {
		bump()
		return nil
	}, func(registry.Capability) {
		bump()
	}, nil)
}

// applications deploys each matching application capability into its own
// registrator mounted at the declared base path, and publishes the
// registrator back into the registry for application-scoped singletons.
func (c *Controller) applications(rt registry.Capability, unit *dispatch.Unit, info *RuntimeInfo) flow.Program[registry.Capability] {
	src := c.reg.Subscribe(registry.MustFilter(
		"(" + PropApplicationBase + "=*)",
	)).Filter(targetFilter(rt, c.log))

	return flow.FlatMap(src, func(cap registry.Capability) flow.Program[registry.Capability] {
		if !c.claims.TryClaim(c.name, cap.ID) {
			c.logShadowed(cap)
			return flow.Nothing[registry.Capability]()
		}
		return flow.Ensure(c.deployApplication(unit, info, cap), func() {
			c.claims.Release(c.name, cap.ID)
		})
	})
}

func (c *Controller) deployApplication(unit *dispatch.Unit, info *RuntimeInfo, cap registry.Capability) flow.Program[registry.Capability] {
	return func(pipe flow.Pipe[registry.Capability]) flow.Handle {
		app, ok := cap.Instance.(dispatch.Application)
		if !ok {
			c.deployFailure(cap, fmt.Errorf("instance is not a dispatch.Application"))
			return flow.Noop
		}
		base, _ := cap.Properties.String(PropApplicationBase)
		name := displayName(cap)

		r := unit.NewRegistrator(name)
		for i, res := range app.Resources() {
			if err := r.AddResource(fmt.Sprintf("%s/%d", cap.ID, i), res); err != nil {
				c.deployFailure(cap, err)
				return flow.Noop
			}
		}
		mounted, err := unit.Mount(base, r)
		if err != nil {
			c.deployFailure(cap, err)
			return flow.Noop
		}
		rreg := c.reg.Register(TypeRegistrator, r, registry.Properties{
			PropName: name,
		})
		info.addApplication(cap.ID, name, base)
		c.metrics.Deployed(c.name, "application")
		c.log.Info("deployed application", zap.String("name", name), zap.String("base", base))

		downstream := pipe(cap)
		return flow.HandleFunc(func() {
			downstream.Close()
			c.safe("unregister registrator", rreg.Close)
			c.safe("unmount application", mounted.Close)
			info.removeApplication(cap.ID)
			c.metrics.Released(c.name, "application")
			c.log.Info("undeployed application", zap.String("name", name))
		})
	}
}

// applicationSingletons forwards resources declaring an application
// selector into every matching application's registrator instead of the
// default one.
func (c *Controller) applicationSingletons(rt registry.Capability, info *RuntimeInfo) flow.Program[registry.Capability] {
	src := c.reg.Subscribe(registry.MustFilter(
		"(" + PropApplicationSelect + "=*)",
	)).Filter(targetFilter(rt, c.log))

	return flow.FlatMap(src, func(cap registry.Capability) flow.Program[registry.Capability] {
		if !c.claims.TryClaim(c.name, cap.ID) {
			c.logShadowed(cap)
			return flow.Nothing[registry.Capability]()
		}
		selExpr, _ := cap.Properties.String(PropApplicationSelect)
		sel, err := registry.ParseFilter(selExpr)
		if err != nil {
			c.log.Warn("malformed application selector, skipping provider",
				zap.String("capability", cap.ID),
				zap.String("selector", selExpr),
				zap.Error(err),
			)
			c.claims.Release(c.name, cap.ID)
			return flow.Nothing[registry.Capability]()
		}

		registrators := c.reg.Subscribe(registry.And(
			registry.MustFilter("(type="+TypeRegistrator+")"), sel,
		))
		forwarded := flow.FlatMap(registrators, func(regCap registry.Capability) flow.Program[registry.Capability] {
			target, ok := regCap.Instance.(*dispatch.Registrator)
			if !ok {
				return flow.Nothing[registry.Capability]()
			}
			return c.registerResource(target, info, cap)
		})
		return flow.Ensure(forwarded, func() {
			c.claims.Release(c.name, cap.ID)
		})
	})
}

// extensions deploys cross-cutting providers into the default
// registrator once their declared dependencies are satisfied.
func (c *Controller) extensions(rt registry.Capability, defaultReg *dispatch.Registrator, info *RuntimeInfo) flow.Program[registry.Capability] {
	src := c.reg.Subscribe(registry.MustFilter(
		"(" + PropExtension + "=true)",
	)).Filter(targetFilter(rt, c.log))

	return flow.FlatMap(src, func(cap registry.Capability) flow.Program[registry.Capability] {
		if !c.claims.TryClaim(c.name, cap.ID) {
			c.logShadowed(cap)
			return flow.Nothing[registry.Capability]()
		}
		gated := waitForDependencies(c.reg, c.log, cap, c.registerExtension(defaultReg, info, cap))
		return flow.Ensure(gated, func() {
			c.claims.Release(c.name, cap.ID)
		})
	})
}

// singletons deploys plain resources into the default registrator, with
// the same dependency gating as extensions.
func (c *Controller) singletons(rt registry.Capability, defaultReg *dispatch.Registrator, info *RuntimeInfo) flow.Program[registry.Capability] {
	src := c.reg.Subscribe(registry.MustFilter(
		"(" + PropResource + "=true)",
	)).Filter(targetFilter(rt, c.log))

	return flow.FlatMap(src, func(cap registry.Capability) flow.Program[registry.Capability] {
		if !c.claims.TryClaim(c.name, cap.ID) {
			c.logShadowed(cap)
			return flow.Nothing[registry.Capability]()
		}
		gated := waitForDependencies(c.reg, c.log, cap, c.registerResource(defaultReg, info, cap))
		return flow.Ensure(gated, func() {
			c.claims.Release(c.name, cap.ID)
		})
	})
}

func (c *Controller) registerResource(target *dispatch.Registrator, info *RuntimeInfo, cap registry.Capability) flow.Program[registry.Capability] {
	return func(pipe flow.Pipe[registry.Capability]) flow.Handle {
		res, ok := cap.Instance.(dispatch.Resource)
		if !ok {
			c.deployFailure(cap, fmt.Errorf("instance is not a dispatch.Resource"))
			return flow.Noop
		}
		if err := target.AddResource(cap.ID, res); err != nil {
			c.deployFailure(cap, err)
			return flow.Noop
		}
		name := displayName(cap)
		info.addResource(cap.ID, name)
		c.metrics.Deployed(c.name, "resource")
		c.log.Debug("deployed resource",
			zap.String("name", name),
			zap.String("registrator", target.Name()),
		)

		downstream := pipe(cap)
		return flow.HandleFunc(func() {
			downstream.Close()
			c.safe("remove resource", func() { target.RemoveResource(cap.ID) })
			info.removeResource(cap.ID)
			c.metrics.Released(c.name, "resource")
		})
	}
}

func (c *Controller) registerExtension(target *dispatch.Registrator, info *RuntimeInfo, cap registry.Capability) flow.Program[registry.Capability] {
	return func(pipe flow.Pipe[registry.Capability]) flow.Handle {
		ext, ok := cap.Instance.(dispatch.Extension)
		if !ok {
			c.deployFailure(cap, fmt.Errorf("instance is not a dispatch.Extension"))
			return flow.Noop
		}
		if err := target.AddExtension(cap.ID, ext); err != nil {
			c.deployFailure(cap, err)
			return flow.Noop
		}
		name := displayName(cap)
		info.addExtension(cap.ID, name)
		c.metrics.Deployed(c.name, "extension")
		c.log.Debug("deployed extension", zap.String("name", name))

		downstream := pipe(cap)
		return flow.HandleFunc(func() {
			downstream.Close()
			c.safe("remove extension", func() { target.RemoveExtension(cap.ID) })
			info.removeExtension(cap.ID)
			c.metrics.Released(c.name, "extension")
		})
	}
}

func (c *Controller) deployFailure(cap registry.Capability, err error) {
	c.metrics.DeployFailed(c.name)
	c.log.Error("deployment failed, skipping provider",
		zap.String("capability", cap.ID),
		zap.String("type", cap.Type),
		zap.Error(err),
	)
}

func (c *Controller) logShadowed(cap registry.Capability) {
	c.log.Debug("capability already adopted by another context",
		zap.String("capability", cap.ID))
}

// safe runs fn and survives its panic; cleanup is best-effort and never
// abandoned early.
func (c *Controller) safe(op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.TeardownFailed(c.name)
			c.log.Error("teardown failed, continuing",
				zap.String("op", op),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}

func (c *Controller) safeHandle(op string, h flow.Handle) flow.Handle {
	return flow.HandleFunc(func() { c.safe(op, h.Close) })
}

func displayName(cap registry.Capability) string {
	if name, ok := cap.Properties.String(PropName); ok {
		return name
	}
	return cap.ID
}
