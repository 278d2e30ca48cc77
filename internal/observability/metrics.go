package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDuration        *prometheus.HistogramVec
	attributionsStartedTotal   *prometheus.CounterVec
	attributionsExpiredTotal   *prometheus.CounterVec
	acceptResultsTotal         *prometheus.CounterVec
	cancellationsTotal         *prometheus.CounterVec
	broadcastCandidates        *prometheus.HistogramVec
	offerDeliveryFailuresTotal *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "attribution_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "attribution_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		attributionsStartedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "attribution_engine",
				Name:      "attributions_started_total",
				Help:      "Total number of attributions started grouped by category.",
			},
			[]string{"category"},
		),
		attributionsExpiredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "attribution_engine",
				Name:      "attributions_expired_total",
				Help:      "Total number of attributions expired without an eligible professional.",
			},
			[]string{"category"},
		),
		acceptResultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "attribution_engine",
				Name:      "accept_results_total",
				Help:      "Accept attempts grouped by outcome.",
			},
			[]string{"result"},
		),
		cancellationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "attribution_engine",
				Name:      "cancellations_total",
				Help:      "Total number of post-acceptance cancellations grouped by category.",
			},
			[]string{"category"},
		),
		broadcastCandidates: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "attribution_engine",
				Name:      "broadcast_candidates",
				Help:      "Eligible candidate pool size observed per broadcast round.",
				Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
			},
			[]string{"category"},
		),
		offerDeliveryFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "attribution_engine",
				Name:      "offer_delivery_failures_total",
				Help:      "Offer notifications that failed to reach their recipient.",
			},
			[]string{"category"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.attributionsStartedTotal,
		m.attributionsExpiredTotal,
		m.acceptResultsTotal,
		m.cancellationsTotal,
		m.broadcastCandidates,
		m.offerDeliveryFailuresTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncAttributionStarted(category string) {
	if m == nil {
		return
	}
	m.attributionsStartedTotal.WithLabelValues(normalizeLabel(category)).Inc()
}

func (m *Metrics) IncAttributionExpired(category string) {
	if m == nil {
		return
	}
	m.attributionsExpiredTotal.WithLabelValues(normalizeLabel(category)).Inc()
}

func (m *Metrics) IncAcceptResult(result string) {
	if m == nil {
		return
	}
	m.acceptResultsTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) IncCancellation(category string) {
	if m == nil {
		return
	}
	m.cancellationsTotal.WithLabelValues(normalizeLabel(category)).Inc()
}

func (m *Metrics) ObserveBroadcast(category string, candidateCount int) {
	if m == nil {
		return
	}
	if candidateCount < 0 {
		candidateCount = 0
	}
	m.broadcastCandidates.WithLabelValues(normalizeLabel(category)).Observe(float64(candidateCount))
}

func (m *Metrics) AddOfferDeliveryFailures(category string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.offerDeliveryFailuresTotal.WithLabelValues(normalizeLabel(category)).Add(float64(count))
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
