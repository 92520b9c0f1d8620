// Package clients provides the outbound-connectivity capabilities the
// bootstrap registers alongside the whiteboard: an HTTP client builder
// and an event source builder. Deployed resources obtain them from the
// registry instead of constructing their own clients.
package clients

import (
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/bayside-labs/whiteboard/internal/domain/flow"
	"github.com/bayside-labs/whiteboard/internal/domain/registry"
)

// Capability types the bootstrap publishes.
const (
	TypeHTTPClientBuilder  = "http.client.builder"
	TypeEventSourceBuilder = "events.source.builder"
)

// HTTPClientBuilder hands out preconfigured outbound HTTP clients.
type HTTPClientBuilder struct {
	log     *zap.Logger
	timeout time.Duration
	retries int
}

// NewHTTPClientBuilder creates a builder with sane outbound defaults.
func NewHTTPClientBuilder(log *zap.Logger) *HTTPClientBuilder {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPClientBuilder{
		log:     log,
		timeout: 30 * time.Second,
		retries: 2,
	}
}

// Build creates a fresh client; callers own its lifecycle.
func (b *HTTPClientBuilder) Build() *resty.Client {
	client := resty.New().
		SetTimeout(b.timeout).
		SetRetryCount(b.retries).
		SetRetryWaitTime(500 * time.Millisecond)
	client.OnError(func(req *resty.Request, err error) {
		b.log.Warn("outbound request failed",
			zap.String("url", req.URL),
			zap.Error(err),
		)
	})
	return client
}

// Register publishes both client capabilities; closing the handle
// withdraws them.
func Register(reg registry.Registry, log *zap.Logger) flow.Handle {
	httpReg := reg.Register(TypeHTTPClientBuilder, NewHTTPClientBuilder(log), registry.Properties{})
	eventsReg := reg.Register(TypeEventSourceBuilder, NewEventSourceBuilder(log), registry.Properties{})
	return flow.Handles(
		flow.HandleFunc(httpReg.Close),
		flow.HandleFunc(eventsReg.Close),
	)
}
