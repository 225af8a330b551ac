package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stemtrack"

// Collectors bundles every Prometheus series the service emits. Each instance
// owns its registry so tests never trip over duplicate registration.
type Collectors struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	entriesInserted *prometheus.CounterVec
	patchOutcomes   *prometheus.CounterVec
	thawIDsMinted   prometheus.Counter
}

// NewCollectors registers the full metric set against the given registry. A
// nil registry gets a fresh private one.
func NewCollectors(registry *prometheus.Registry) *Collectors {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	return &Collectors{
		registry: registry,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		entriesInserted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "culture",
			Name:      "entries_inserted_total",
			Help:      "Log entries inserted by event type",
		}, []string{"event_type"}),
		patchOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "culture",
			Name:      "patch_outcomes_total",
			Help:      "Patch attempts by outcome",
		}, []string{"status"}),
		thawIDsMinted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "culture",
			Name:      "thaw_ids_minted_total",
			Help:      "Thaw identifiers minted by the generator",
		}),
	}
}

// RecordEntryInserted counts one inserted log entry.
func (c *Collectors) RecordEntryInserted(eventType string) {
	c.entriesInserted.WithLabelValues(eventType).Inc()
}

// RecordPatchOutcome counts one patch attempt by outcome.
func (c *Collectors) RecordPatchOutcome(status string) {
	c.patchOutcomes.WithLabelValues(status).Inc()
}

// RecordThawIDMinted counts one minted thaw identifier.
func (c *Collectors) RecordThawIDMinted() {
	c.thawIDsMinted.Inc()
}

// Handler exposes the registry in Prometheus text format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// GinMiddleware observes every request. Unmatched paths collapse into one
// route label so 404 scans cannot blow up series cardinality.
func (c *Collectors) GinMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := ctx.Request.Method
		c.httpRequests.WithLabelValues(method, route, strconv.Itoa(ctx.Writer.Status())).Inc()
		c.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
