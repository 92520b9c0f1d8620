package dispatch

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bayside-labs/whiteboard/internal/domain/flow"
)

type staticResource struct {
	routes []Route
}

func (r staticResource) Routes() []Route { return r.routes }

func getRoute(path, body string) Route {
	return Route{
		Method: http.MethodGet,
		Path:   path,
		Handler: func(c *gin.Context) {
			c.String(http.StatusOK, body)
		},
	}
}

type headerExtension struct {
	key, value string
}

func (e headerExtension) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header(e.key, e.value)
		c.Next()
	}
}

// recordingRuntime is a fake RuntimeRef tracking attach order.
type recordingRuntime struct {
	mu       sync.Mutex
	attached []string
	detached []string
	failFor  string
}

func (r *recordingRuntime) Attach(prefix string, h http.Handler) (flow.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prefix == r.failFor {
		return nil, fmt.Errorf("prefix %q refused", prefix)
	}
	r.attached = append(r.attached, prefix)
	return flow.HandleFunc(func() {
		r.mu.Lock()
		r.detached = append(r.detached, prefix)
		r.mu.Unlock()
	}), nil
}

func serve(r *Registrator, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func newTestRegistrator(t *testing.T) *Registrator {
	t.Helper()
	unit := NewUnit(&recordingRuntime{}, zap.NewNop(), Options{})
	return unit.NewRegistrator("test")
}

func TestRegistratorAddRemoveResource(t *testing.T) {
	r := newTestRegistrator(t)

	require.NoError(t, r.AddResource("r1", staticResource{routes: []Route{getRoute("/a", "A")}}))
	require.NoError(t, r.AddResource("r2", staticResource{routes: []Route{getRoute("/b", "B")}}))

	assert.Equal(t, "A", serve(r, "/a").Body.String())
	assert.Equal(t, "B", serve(r, "/b").Body.String())

	r.RemoveResource("r1")
	assert.Equal(t, http.StatusNotFound, serve(r, "/a").Code)
	assert.Equal(t, "B", serve(r, "/b").Body.String())

	resources, extensions := r.Counts()
	assert.Equal(t, 1, resources)
	assert.Equal(t, 0, extensions)
}

func TestRegistratorRejectsConflictingRoutes(t *testing.T) {
	r := newTestRegistrator(t)

	require.NoError(t, r.AddResource("r1", staticResource{routes: []Route{getRoute("/a", "A")}}))

	// gin panics on a duplicate route; the registrator turns that into an
	// error and keeps the previous membership serving.
	err := r.AddResource("r2", staticResource{routes: []Route{getRoute("/a", "dup")}})
	assert.Error(t, err)

	assert.Equal(t, "A", serve(r, "/a").Body.String())
	resources, _ := r.Counts()
	assert.Equal(t, 1, resources)
}

func TestRegistratorExtensionWrapsResources(t *testing.T) {
	r := newTestRegistrator(t)

	require.NoError(t, r.AddResource("r1", staticResource{routes: []Route{getRoute("/a", "A")}}))
	require.NoError(t, r.AddExtension("e1", headerExtension{key: "X-Tag", value: "on"}))

	rec := serve(r, "/a")
	assert.Equal(t, "A", rec.Body.String())
	assert.Equal(t, "on", rec.Header().Get("X-Tag"))

	r.RemoveExtension("e1")
	rec = serve(r, "/a")
	assert.Empty(t, rec.Header().Get("X-Tag"))
	assert.Equal(t, "A", rec.Body.String())
}

func TestUnitMountAndClose(t *testing.T) {
	rt := &recordingRuntime{}
	unit := NewUnit(rt, zap.NewNop(), Options{})

	_, err := unit.Mount("/a", unit.NewRegistrator("a"))
	require.NoError(t, err)
	_, err = unit.Mount("/b", unit.NewRegistrator("b"))
	require.NoError(t, err)

	unit.Close()
	assert.Equal(t, []string{"/b", "/a"}, rt.detached, "mounts must detach in reverse order")

	// A closed unit refuses new mounts.
	_, err = unit.Mount("/c", unit.NewRegistrator("c"))
	assert.Error(t, err)
}

func TestUnitMountFailure(t *testing.T) {
	rt := &recordingRuntime{failFor: "/bad"}
	unit := NewUnit(rt, zap.NewNop(), Options{})

	_, err := unit.Mount("/bad", unit.NewRegistrator("bad"))
	assert.Error(t, err)

	unit.Close()
	assert.Empty(t, rt.detached)
}

func TestMountHandleIdempotent(t *testing.T) {
	rt := &recordingRuntime{}
	unit := NewUnit(rt, zap.NewNop(), Options{})

	h, err := unit.Mount("/a", unit.NewRegistrator("a"))
	require.NoError(t, err)

	h.Close()
	h.Close()
	assert.Equal(t, []string{"/a"}, rt.detached)

	// Already-detached mounts are not detached again by Close.
	unit.Close()
	assert.Equal(t, []string{"/a"}, rt.detached)
}

func TestRegistratorCORS(t *testing.T) {
	cors := DefaultCORSConfig()
	unit := NewUnit(&recordingRuntime{}, zap.NewNop(), Options{CORS: &cors})
	r := unit.NewRegistrator("cors")
	require.NoError(t, r.AddResource("r1", staticResource{routes: []Route{getRoute("/a", "A")}}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/a", nil)
	req.Header.Set("Origin", "http://example.com")
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
