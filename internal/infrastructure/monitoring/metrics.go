// Package monitoring collects Prometheus metrics for the whiteboard:
// deployment churn, revision counters and failure counts, labeled by
// configuration.
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the whiteboard's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	DeployedResources *prometheus.GaugeVec
	Revision          *prometheus.CounterVec
	DeployFailures    *prometheus.CounterVec
	TeardownFailures  *prometheus.CounterVec
	ContextsActive    prometheus.Gauge
}

// New creates an isolated metrics set with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		DeployedResources: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "whiteboard_deployed_resources",
			Help: "Currently deployed resources per configuration",
		}, []string{"config", "kind"}),
		Revision: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whiteboard_revision_total",
			Help: "Structural changes per configuration",
		}, []string{"config"}),
		DeployFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whiteboard_deploy_failures_total",
			Help: "Providers skipped because deployment failed",
		}, []string{"config"}),
		TeardownFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whiteboard_teardown_failures_total",
			Help: "Release errors survived during teardown",
		}, []string{"config"}),
		ContextsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "whiteboard_contexts_active",
			Help: "Whiteboard contexts currently bound to a runtime",
		}),
	}
}

// Handler exposes the metrics in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Deployed(config, kind string) {
	if m == nil {
		return
	}
	m.DeployedResources.WithLabelValues(config, kind).Inc()
}

func (m *Metrics) Released(config, kind string) {
	if m == nil {
		return
	}
	m.DeployedResources.WithLabelValues(config, kind).Dec()
}

func (m *Metrics) RevisionBumped(config string) {
	if m == nil {
		return
	}
	m.Revision.WithLabelValues(config).Inc()
}

func (m *Metrics) DeployFailed(config string) {
	if m == nil {
		return
	}
	m.DeployFailures.WithLabelValues(config).Inc()
}

func (m *Metrics) TeardownFailed(config string) {
	if m == nil {
		return
	}
	m.TeardownFailures.WithLabelValues(config).Inc()
}

func (m *Metrics) ContextBound() {
	if m != nil {
		m.ContextsActive.Inc()
	}
}

func (m *Metrics) ContextUnbound() {
	if m != nil {
		m.ContextsActive.Dec()
	}
}
