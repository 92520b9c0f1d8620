// Package dispatch implements the deploy side of the whiteboard: per
// context an isolated Unit owns registrators, and a registrator turns the
// currently-deployed resources and extensions into a live gin engine
// attached to the serving runtime.
package dispatch

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bayside-labs/whiteboard/internal/domain/flow"
)

// Route is one handler binding contributed by a resource. Paths are
// relative to the registrator's mount base.
type Route struct {
	Method  string
	Path    string
	Handler gin.HandlerFunc
}

// Resource is the instance contract for whiteboard resource providers.
type Resource interface {
	Routes() []Route
}

// Extension is the instance contract for cross-cutting providers; its
// middleware wraps every resource in the registrator it lands in.
type Extension interface {
	Middleware() gin.HandlerFunc
}

// Application is the instance contract for application providers.
type Application interface {
	Resources() []Resource
}

// RuntimeRef is the serving runtime a unit mounts listeners into. The
// returned handle detaches the listener.
type RuntimeRef interface {
	Attach(prefix string, h http.Handler) (flow.Handle, error)
}
