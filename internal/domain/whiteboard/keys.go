// Package whiteboard implements the controller that composes registered
// providers into live deployments: one controller per configuration,
// driven entirely by capability registry events.
package whiteboard

// Capability types.
const (
	// TypeHTTPRuntime is the serving runtime the whiteboard binds to.
	TypeHTTPRuntime = "http.runtime"
	// TypeRuntime is the introspection capability each context publishes.
	TypeRuntime = "whiteboard.runtime"
	// TypeApplication is registered by application providers.
	TypeApplication = "whiteboard.application"
	// TypeRegistrator is published for each deployed application so
	// application-scoped singletons can find it.
	TypeRegistrator = "whiteboard.registrator"
)

// Provider-declared property keys.
const (
	// PropTarget scopes a provider to runtimes matching the selector.
	PropTarget = "whiteboard.target"
	// PropApplicationBase is an application's mount base path.
	PropApplicationBase = "whiteboard.application.base"
	// PropApplicationSelect names the application a singleton is
	// forwarded into, as a filter over registrator properties.
	PropApplicationSelect = "whiteboard.application.select"
	// PropExtension marks extension providers ("true").
	PropExtension = "whiteboard.extension"
	// PropExtensionSelect lists named dependency selectors gating a
	// provider's activation.
	PropExtensionSelect = "whiteboard.extension.select"
	// PropResource marks plain resource providers ("true").
	PropResource = "whiteboard.resource"
	// PropName is a provider's display name.
	PropName = "whiteboard.name"
)

// Published introspection-capability property keys.
const (
	// PropEndpoint carries the ordered base URLs a runtime serves on.
	PropEndpoint = "http.endpoint"
	// PropChangeCount is the context's monotonic revision counter.
	PropChangeCount = "whiteboard.changecount"
)
