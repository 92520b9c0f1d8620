package whiteboard

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bayside-labs/whiteboard/internal/domain/flow"
	"github.com/bayside-labs/whiteboard/internal/domain/registry"
	"github.com/bayside-labs/whiteboard/internal/infrastructure/dispatch"
)

func TestControllerRejectsMalformedTarget(t *testing.T) {
	_, err := New(Options{
		Registry: registry.New(zap.NewNop()),
		Target:   "(((",
	})
	if err == nil {
		t.Fatal("expected malformed target to be rejected")
	}
}

func TestControllerRequiresRegistry(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected missing registry to be rejected")
	}
}

func TestControllerPublishesIntrospection(t *testing.T) {
	reg := registry.New(zap.NewNop())
	rt := newFakeRuntime()
	registerRuntime(reg, rt, "http://localhost:8080")

	c := newStartedController(t, reg, Options{Registry: reg})
	defer c.Close()

	if got := c.State(); got != StateActive {
		t.Fatalf("state = %s, want ACTIVE", got)
	}
	cap := introspection(t, reg)
	if got, _ := cap.Properties.String(PropName); got != "default" {
		t.Errorf("name = %q, want default", got)
	}
	if got := cap.Properties.Strings(PropEndpoint); len(got) != 1 || got[0] != "http://localhost:8080" {
		t.Errorf("endpoints = %v, want [http://localhost:8080]", got)
	}
	if got := cap.Properties[PropChangeCount].(uint64); got != 0 {
		t.Errorf("changecount = %d, want 0", got)
	}
	if got := c.Revision(); got != 0 {
		t.Errorf("revision = %d, want 0", got)
	}
}

func TestControllerWaitsForRuntime(t *testing.T) {
	reg := registry.New(zap.NewNop())
	c := newStartedController(t, reg, Options{Registry: reg})
	defer c.Close()

	if got := c.State(); got != StateWaitingForRuntime {
		t.Fatalf("state = %s, want WAITING_FOR_RUNTIME", got)
	}

	rt := newFakeRuntime()
	registerRuntime(reg, rt, "http://localhost:8080")
	if got := c.State(); got != StateActive {
		t.Fatalf("state after runtime = %s, want ACTIVE", got)
	}
}

func TestControllerDeploysSingleton(t *testing.T) {
	reg := registry.New(zap.NewNop())
	rt := newFakeRuntime()
	registerRuntime(reg, rt, "http://localhost:8080")

	c := newStartedController(t, reg, Options{Registry: reg})
	defer c.Close()

	res := reg.Register("echo", echoResource{path: "/ping", body: "pong"}, registry.Properties{
		PropResource: true,
		PropName:     "ping",
	})

	if code, body := get(t, rt, "", "/ping"); code != http.StatusOK || body != "pong" {
		t.Fatalf("GET /ping = %d %q, want 200 pong", code, body)
	}
	if got := c.Revision(); got != 1 {
		t.Errorf("revision after deploy = %d, want 1", got)
	}
	snap := c.Info().Snapshot()
	if len(snap.Resources) != 1 || snap.Resources[0] != "ping" {
		t.Errorf("snapshot resources = %v, want [ping]", snap.Resources)
	}

	res.Close()
	if code, _ := get(t, rt, "", "/ping"); code != http.StatusNotFound {
		t.Fatalf("GET /ping after withdrawal = %d, want 404", code)
	}
	if got := c.Revision(); got != 2 {
		t.Errorf("revision after withdrawal = %d, want 2", got)
	}
	if snap := c.Info().Snapshot(); len(snap.Resources) != 0 {
		t.Errorf("snapshot resources after withdrawal = %v, want none", snap.Resources)
	}
}

func TestControllerDeploysProvidersRegisteredFirst(t *testing.T) {
	reg := registry.New(zap.NewNop())
	reg.Register("echo", echoResource{path: "/ping", body: "pong"}, registry.Properties{
		PropResource: true,
	})

	rt := newFakeRuntime()
	registerRuntime(reg, rt, "http://localhost:8080")

	c := newStartedController(t, reg, Options{Registry: reg})
	defer c.Close()

	if code, body := get(t, rt, "", "/ping"); code != http.StatusOK || body != "pong" {
		t.Fatalf("GET /ping = %d %q, want 200 pong", code, body)
	}
	if got := c.Revision(); got != 1 {
		t.Errorf("revision = %d, want 1", got)
	}
}

func TestControllerCloseReleasesEverything(t *testing.T) {
	reg := registry.New(zap.NewNop())
	rt := newFakeRuntime()
	registerRuntime(reg, rt, "http://localhost:8080")

	c := newStartedController(t, reg, Options{Registry: reg})
	reg.Register("echo", echoResource{path: "/ping", body: "pong"}, registry.Properties{
		PropResource: true,
	})

	c.Close()
	c.Close()

	if got := c.State(); got != StateStopped {
		t.Fatalf("state = %s, want STOPPED", got)
	}
	if rt.mountCount() != 0 {
		t.Errorf("mounts after close = %d, want 0", rt.mountCount())
	}
	if hasIntrospection(reg) {
		t.Error("introspection capability still registered after close")
	}

	// Providers registered after close must not be adopted.
	reg.Register("echo", echoResource{path: "/late", body: "late"}, registry.Properties{
		PropResource: true,
	})
	if rt.mountCount() != 0 {
		t.Error("stopped controller deployed a late provider")
	}
}

func TestControllerDeploysApplication(t *testing.T) {
	reg := registry.New(zap.NewNop())
	rt := newFakeRuntime()
	registerRuntime(reg, rt, "http://localhost:8080")

	c := newStartedController(t, reg, Options{Registry: reg})
	defer c.Close()

	appReg := reg.Register(TypeApplication, staticApp{
		resources: []dispatch.Resource{echoResource{path: "/hello", body: "hi"}},
	}, registry.Properties{
		PropApplicationBase: "/app",
		PropName:            "demo",
	})

	if code, body := get(t, rt, "/app", "/hello"); code != http.StatusOK || body != "hi" {
		t.Fatalf("GET /app/hello = %d %q, want 200 hi", code, body)
	}
	snap := c.Info().Snapshot()
	if len(snap.Applications) != 1 || snap.Applications[0].Base != "/app" {
		t.Fatalf("snapshot applications = %v, want one at /app", snap.Applications)
	}

	// The application's registrator is itself a capability, so
	// application-scoped singletons can land inside it.
	singleton := reg.Register("echo", echoResource{path: "/extra", body: "extra"}, registry.Properties{
		PropApplicationSelect: "(" + PropName + "=demo)",
	})
	if code, body := get(t, rt, "/app", "/extra"); code != http.StatusOK || body != "extra" {
		t.Fatalf("GET /app/extra = %d %q, want 200 extra", code, body)
	}

	singleton.Close()
	if code, _ := get(t, rt, "/app", "/extra"); code != http.StatusNotFound {
		t.Fatal("application singleton still routed after withdrawal")
	}

	appReg.Close()
	if rt.handler("/app") != nil {
		t.Fatal("application still mounted after withdrawal")
	}
	if snap := c.Info().Snapshot(); len(snap.Applications) != 0 {
		t.Errorf("snapshot applications after withdrawal = %v, want none", snap.Applications)
	}
}

func TestControllerDeploysApplicationOfAnyType(t *testing.T) {
	reg := registry.New(zap.NewNop())
	rt := newFakeRuntime()
	registerRuntime(reg, rt, "http://localhost:8080")

	c := newStartedController(t, reg, Options{Registry: reg})
	defer c.Close()

	// The base property alone marks an application; the capability type
	// is not part of the selection.
	reg.Register("bundle", staticApp{
		resources: []dispatch.Resource{echoResource{path: "/hello", body: "hi"}},
	}, registry.Properties{
		PropApplicationBase: "/app",
	})

	if code, body := get(t, rt, "/app", "/hello"); code != http.StatusOK || body != "hi" {
		t.Fatalf("GET /app/hello = %d %q, want 200 hi", code, body)
	}
}

func TestControllerGatesOnDependencies(t *testing.T) {
	reg := registry.New(zap.NewNop())
	rt := newFakeRuntime()
	registerRuntime(reg, rt, "http://localhost:8080")

	c := newStartedController(t, reg, Options{Registry: reg})
	defer c.Close()

	reg.Register("echo", echoResource{path: "/secure", body: "ok"}, registry.Properties{
		PropResource:        true,
		PropExtensionSelect: "(" + PropName + "=auth)",
	})

	// Pending until the named extension shows up.
	if code, _ := get(t, rt, "", "/secure"); code != http.StatusNotFound {
		t.Fatal("gated singleton deployed before its dependency")
	}

	ext := reg.Register("ext", headerExtension{key: "X-Auth", value: "on"}, registry.Properties{
		PropExtension: true,
		PropName:      "auth",
	})

	code, body, header := getHeader(t, rt, "", "/secure", "X-Auth")
	if code != http.StatusOK || body != "ok" {
		t.Fatalf("GET /secure = %d %q, want 200 ok", code, body)
	}
	if header != "on" {
		t.Errorf("X-Auth = %q, want on (extension middleware not applied)", header)
	}

	// Losing the dependency tears the singleton down and re-arms it.
	ext.Close()
	if code, _ := get(t, rt, "", "/secure"); code != http.StatusNotFound {
		t.Fatal("gated singleton survived its dependency's withdrawal")
	}

	reg.Register("ext", headerExtension{key: "X-Auth", value: "on"}, registry.Properties{
		PropExtension: true,
		PropName:      "auth",
	})
	if code, _ := get(t, rt, "", "/secure"); code != http.StatusOK {
		t.Fatal("gated singleton not redeployed after dependency returned")
	}
}

func TestControllersAdoptExclusively(t *testing.T) {
	reg := registry.New(zap.NewNop())
	claims := NewClaims()

	rtA, rtB := newFakeRuntime(), newFakeRuntime()
	reg.Register(TypeHTTPRuntime, rtA, registry.Properties{
		PropEndpoint: []string{"http://localhost:8080"},
		"zone":       "a",
	})
	reg.Register(TypeHTTPRuntime, rtB, registry.Properties{
		PropEndpoint: []string{"http://localhost:8081"},
		"zone":       "b",
	})

	ca := newStartedController(t, reg, Options{Name: "a", Target: "(zone=a)", Registry: reg, Claims: claims})
	defer ca.Close()
	cb := newStartedController(t, reg, Options{Name: "b", Target: "(zone=b)", Registry: reg, Claims: claims})
	defer cb.Close()

	res := reg.Register("echo", echoResource{path: "/ping", body: "pong"}, registry.Properties{
		PropResource: true,
	})

	// First come wins; the other context must not double-deploy.
	if code, _ := get(t, rtA, "", "/ping"); code != http.StatusOK {
		t.Fatal("first context did not adopt the provider")
	}
	if code, _ := get(t, rtB, "", "/ping"); code != http.StatusNotFound {
		t.Fatal("second context deployed an already-adopted provider")
	}
	if got := cb.Revision(); got != 0 {
		t.Errorf("second context revision = %d, want 0", got)
	}

	res.Close()
	if got := ca.Revision(); got != 2 {
		t.Errorf("first context revision = %d, want 2", got)
	}
}

func TestControllerSkipsMismatchedTarget(t *testing.T) {
	reg := registry.New(zap.NewNop())
	rt := newFakeRuntime()
	reg.Register(TypeHTTPRuntime, rt, registry.Properties{
		PropEndpoint: []string{"http://localhost:8080"},
		"zone":       "a",
	})

	c := newStartedController(t, reg, Options{Registry: reg})
	defer c.Close()

	reg.Register("echo", echoResource{path: "/ping", body: "pong"}, registry.Properties{
		PropResource: true,
		PropTarget:   "(zone=b)",
	})
	reg.Register("echo", echoResource{path: "/bad", body: "bad"}, registry.Properties{
		PropResource: true,
		PropTarget:   "(((",
	})

	if code, _ := get(t, rt, "", "/ping"); code != http.StatusNotFound {
		t.Error("provider targeting another runtime was deployed")
	}
	if code, _ := get(t, rt, "", "/bad"); code != http.StatusNotFound {
		t.Error("provider with malformed target was deployed")
	}
	if got := c.Revision(); got != 0 {
		t.Errorf("revision = %d, want 0", got)
	}
}

func TestControllerIgnoresRuntimeLoss(t *testing.T) {
	reg := registry.New(zap.NewNop())
	rt := newFakeRuntime()
	rtReg := registerRuntime(reg, rt, "http://localhost:8080")

	c := newStartedController(t, reg, Options{Registry: reg})
	defer c.Close()

	reg.Register("echo", echoResource{path: "/ping", body: "pong"}, registry.Properties{
		PropResource: true,
	})

	rtReg.Close()

	// The binding is permanent; only the advertised endpoint set drifts.
	if got := c.State(); got != StateActive {
		t.Fatalf("state after runtime loss = %s, want ACTIVE", got)
	}
	if code, _ := get(t, rt, "", "/ping"); code != http.StatusOK {
		t.Fatal("deployment lost with the runtime capability")
	}
	cap := introspection(t, reg)
	if got := cap.Properties.Strings(PropEndpoint); len(got) != 0 {
		t.Errorf("endpoints after runtime loss = %v, want none", got)
	}
}

func TestControllerStartTwice(t *testing.T) {
	reg := registry.New(zap.NewNop())
	c, err := New(Options{Registry: reg})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(); err == nil {
		t.Fatal("expected second Start to fail")
	}
}

// helpers

func newStartedController(t *testing.T, reg registry.Registry, opts Options) *Controller {
	t.Helper()
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return c
}

func registerRuntime(reg registry.Registry, rt *fakeRuntime, endpoints ...string) registry.Registration {
	return reg.Register(TypeHTTPRuntime, rt, registry.Properties{
		PropEndpoint: endpoints,
	})
}

func introspection(t *testing.T, reg registry.Registry) registry.Capability {
	t.Helper()
	var (
		got   registry.Capability
		found bool
	)
	h := reg.Subscribe(registry.MustFilter("(type="+TypeRuntime+")")).Effects(func(c registry.Capability) error {
		got = c
		found = true
		return nil
	}, nil, nil).Run()
	h.Close()
	if !found {
		t.Fatal("no introspection capability registered")
	}
	return got
}

func hasIntrospection(reg registry.Registry) bool {
	found := false
	h := reg.Subscribe(registry.MustFilter("(type="+TypeRuntime+")")).Effects(func(registry.Capability) error {
		found = true
		return nil
	}, nil, nil).Run()
	h.Close()
	return found
}

func get(t *testing.T, rt *fakeRuntime, prefix, path string) (int, string) {
	t.Helper()
	code, body, _ := getHeader(t, rt, prefix, path, "")
	return code, body
}

func getHeader(t *testing.T, rt *fakeRuntime, prefix, path, header string) (int, string, string) {
	t.Helper()
	h := rt.handler(prefix)
	if h == nil {
		return http.StatusNotFound, "", ""
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	h.ServeHTTP(rec, req)
	return rec.Code, rec.Body.String(), rec.Header().Get(header)
}

// fakeRuntime is a hand mock of the serving runtime: one handler slot per
// mount prefix.
type fakeRuntime struct {
	mu     sync.Mutex
	mounts map[string]http.Handler
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{mounts: make(map[string]http.Handler)}
}

func (f *fakeRuntime) Attach(prefix string, h http.Handler) (flow.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.mounts[prefix]; dup {
		return nil, fmt.Errorf("prefix %q already mounted", prefix)
	}
	f.mounts[prefix] = h
	return flow.HandleFunc(func() {
		f.mu.Lock()
		delete(f.mounts, prefix)
		f.mu.Unlock()
	}), nil
}

func (f *fakeRuntime) handler(prefix string) http.Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mounts[prefix]
}

func (f *fakeRuntime) mountCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mounts)
}

type echoResource struct {
	path string
	body string
}

func (r echoResource) Routes() []dispatch.Route {
	body := r.body
	return []dispatch.Route{{
		Method: http.MethodGet,
		Path:   r.path,
		Handler: func(c *gin.Context) {
			c.String(http.StatusOK, body)
		},
	}}
}

type headerExtension struct {
	key   string
	value string
}

func (e headerExtension) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header(e.key, e.value)
		c.Next()
	}
}

type staticApp struct {
	resources []dispatch.Resource
}

func (a staticApp) Resources() []dispatch.Resource { return a.resources }
