// Package server assembles the whiteboard process: the capability
// registry, the serving runtime, one controller per configured context,
// the client capabilities and the metrics endpoint.
package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bayside-labs/whiteboard/internal/clients"
	"github.com/bayside-labs/whiteboard/internal/domain/flow"
	"github.com/bayside-labs/whiteboard/internal/domain/registry"
	"github.com/bayside-labs/whiteboard/internal/domain/whiteboard"
	"github.com/bayside-labs/whiteboard/internal/infrastructure/config"
	"github.com/bayside-labs/whiteboard/internal/infrastructure/dispatch"
	"github.com/bayside-labs/whiteboard/internal/infrastructure/httprt"
	"github.com/bayside-labs/whiteboard/internal/infrastructure/logging"
	"github.com/bayside-labs/whiteboard/internal/infrastructure/monitoring"
)

// Server owns the assembled process and tears it down as a whole.
type Server struct {
	log         *zap.Logger
	cfg         *config.Config
	registry    *registry.Memory
	runtime     *httprt.Server
	metrics     *monitoring.Metrics
	controllers []*whiteboard.Controller
	handles     []flow.Handle
}

// NewServer wires the process together. Controllers start watching
// before the runtime capability registers, so every configured context
// binds the moment it appears.
func NewServer(cfg *config.Config) (*Server, error) {
	log := logging.MustNew(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})

	log.Info("initializing whiteboard",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
	)

	metrics := monitoring.New()
	reg := registry.New(log)
	runtime := httprt.NewServer(httprt.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, log)

	s := &Server{
		log:      log,
		cfg:      cfg,
		registry: reg,
		runtime:  runtime,
		metrics:  metrics,
	}

	metricsH, err := runtime.Attach("/metrics", metrics.Handler())
	if err != nil {
		return nil, fmt.Errorf("mount metrics endpoint: %w", err)
	}
	s.handles = append(s.handles, metricsH)

	contexts, err := config.LoadWhiteboards(cfg.Whiteboard.File)
	if err != nil {
		s.unwind()
		return nil, err
	}

	dopts := dispatch.Options{Debug: cfg.Logging.Development}
	if cfg.CORS.Enabled {
		cors := dispatch.DefaultCORSConfig()
		dopts.CORS = &cors
	}
	if cfg.RateLimit.Enabled {
		log.Info("rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		dopts.RateLimit = &dispatch.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}
	}

	// One claim table shared by every context keeps adoption exclusive.
	claims := whiteboard.NewClaims()
	for _, wc := range contexts {
		ctl, err := whiteboard.New(whiteboard.Options{
			Name:     wc.Name,
			Target:   wc.Target,
			Base:     wc.Base,
			Registry: reg,
			Log:      log,
			Metrics:  metrics,
			Claims:   claims,
			Dispatch: dopts,
		})
		if err != nil {
			log.Error("skipping whiteboard context", zap.String("context", wc.Name), zap.Error(err))
			continue
		}
		s.controllers = append(s.controllers, ctl)
	}

	for _, ctl := range s.controllers {
		if err := ctl.Start(); err != nil {
			s.unwind()
			return nil, err
		}
		log.Info("whiteboard context started", zap.String("context", ctl.Name()))
	}

	s.handles = append(s.handles, clients.Register(reg, log))

	// Registering the runtime capability last makes every waiting
	// controller bind during this call.
	runtimeReg := reg.Register(whiteboard.TypeHTTPRuntime, runtime, registry.Properties{
		whiteboard.PropEndpoint: runtime.Endpoints(),
	})
	s.handles = append(s.handles, flow.HandleFunc(runtimeReg.Close))

	log.Info("whiteboard initialized", zap.Int("contexts", len(s.controllers)))
	return s, nil
}

// Registry exposes the process registry so embedders can publish
// providers.
func (s *Server) Registry() registry.Registry { return s.registry }

// Controllers lists the running contexts.
func (s *Server) Controllers() []*whiteboard.Controller { return s.controllers }

// Run starts the serving runtime. Non-blocking.
func (s *Server) Run(ctx context.Context) error {
	if err := s.runtime.Start(ctx); err != nil {
		return err
	}
	s.log.Info("whiteboard serving", zap.Strings("endpoints", s.runtime.Endpoints()))
	return nil
}

// Close stops every context, withdraws the assembly's capabilities and
// shuts the listener down.
func (s *Server) Close(ctx context.Context) error {
	s.log.Info("shutting down whiteboard")
	s.unwind()
	if err := s.runtime.Stop(ctx); err != nil {
		return fmt.Errorf("stop serving runtime: %w", err)
	}
	_ = s.log.Sync()
	return nil
}

func (s *Server) unwind() {
	for i := len(s.handles) - 1; i >= 0; i-- {
		s.handles[i].Close()
	}
	s.handles = nil
	for i := len(s.controllers) - 1; i >= 0; i-- {
		s.controllers[i].Close()
	}
}
