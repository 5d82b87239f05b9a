package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus instruments. Cache lookups are
// labeled by region (dedup, object, redirect) and outcome (hit, miss);
// analytics events by stage (enqueued, published, dropped, failed).
type Metrics struct {
	Registry *prometheus.Registry

	RedirectsTotal  prometheus.Counter
	LinksCreated    prometheus.Counter
	CacheLookups    *prometheus.CounterVec
	AnalyticsEvents *prometheus.CounterVec
}

// NewMetrics builds a dedicated registry with process/go collectors and
// the service counters registered.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		RedirectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "snaplink_redirects_total",
			Help: "Resolved redirects served.",
		}),
		LinksCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "snaplink_links_created_total",
			Help: "Short links created.",
		}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "snaplink_cache_lookups_total",
			Help: "Cache lookups by region and outcome.",
		}, []string{"region", "outcome"}),
		AnalyticsEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "snaplink_analytics_events_total",
			Help: "Analytics click events by pipeline stage.",
		}, []string{"stage"}),
	}
}
