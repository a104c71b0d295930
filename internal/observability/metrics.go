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

// Metrics stores Prometheus collectors used by the API and pipeline flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDuration       *prometheus.HistogramVec
	dispatchTotal             *prometheus.CounterVec
	dispatchFailedTotal       *prometheus.CounterVec
	dispatchRetryTotal        *prometheus.CounterVec
	providerSendDuration      *prometheus.HistogramVec
	webhookDeliveriesTotal    *prometheus.CounterVec
	webhookAttemptDuration    *prometheus.HistogramVec
	duplicatesSuppressedTotal *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_relay",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notification_relay",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		dispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_relay",
				Name:      "dispatch_total",
				Help:      "Total dispatcher outcomes by channel and result (queued, delivered).",
			},
			[]string{"channel", "result"},
		),
		dispatchFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_relay",
				Name:      "dispatch_failed_total",
				Help:      "Total notifications that ended in failed state by channel and reason.",
			},
			[]string{"channel", "reason"},
		),
		dispatchRetryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_relay",
				Name:      "dispatch_retry_scheduled_total",
				Help:      "Total dispatcher retries scheduled by channel.",
			},
			[]string{"channel"},
		),
		providerSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notification_relay",
				Name:      "provider_send_duration_seconds",
				Help:      "Provider send duration in seconds grouped by channel and provider.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel", "provider"},
		),
		webhookDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_relay",
				Name:      "webhook_deliveries_total",
				Help:      "Total webhook delivery outcomes by event type and result.",
			},
			[]string{"event", "result"},
		),
		webhookAttemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notification_relay",
				Name:      "webhook_attempt_duration_seconds",
				Help:      "Subscriber endpoint POST duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"event"},
		),
		duplicatesSuppressedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_relay",
				Name:      "duplicates_suppressed_total",
				Help:      "Total duplicates rejected by the dedup guard, by direction.",
			},
			[]string{"direction"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.dispatchTotal,
		m.dispatchFailedTotal,
		m.dispatchRetryTotal,
		m.providerSendDuration,
		m.webhookDeliveriesTotal,
		m.webhookAttemptDuration,
		m.duplicatesSuppressedTotal,
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

func (m *Metrics) IncDispatched(channel string, result string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(normalizeLabel(channel), normalizeLabel(result)).Inc()
}

func (m *Metrics) IncDispatchFailed(channel string, reason string) {
	if m == nil {
		return
	}
	m.dispatchFailedTotal.WithLabelValues(normalizeLabel(channel), normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncRetryScheduled(channel string) {
	if m == nil {
		return
	}
	m.dispatchRetryTotal.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *Metrics) ObserveProviderSendDuration(channel string, provider string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.providerSendDuration.WithLabelValues(normalizeLabel(channel), normalizeLabel(provider)).Observe(seconds)
}

func (m *Metrics) IncWebhookDelivery(event string, result string) {
	if m == nil {
		return
	}
	m.webhookDeliveriesTotal.WithLabelValues(normalizeLabel(event), normalizeLabel(result)).Inc()
}

func (m *Metrics) ObserveWebhookAttemptDuration(event string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.webhookAttemptDuration.WithLabelValues(normalizeLabel(event)).Observe(seconds)
}

func (m *Metrics) IncDuplicateSuppressed(direction string) {
	if m == nil {
		return
	}
	m.duplicatesSuppressedTotal.WithLabelValues(normalizeLabel(direction)).Inc()
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
