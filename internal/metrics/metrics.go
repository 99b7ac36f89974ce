// Package metrics exposes Prometheus collectors for the listing crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesFetchedTotal          *prometheus.CounterVec
	fetchRetriesTotal          *prometheus.CounterVec
	rateLimitCooldownsTotal    *prometheus.CounterVec
	itemsTotal                 *prometheus.CounterVec
	sampledStopsTotal          *prometheus.CounterVec
	convertInFlight            prometheus.Gauge
	convertTasksTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to call
// this function multiple times; every observer calls it lazily.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listing_pages_fetched_total",
				Help: "Listing page fetches, labeled by source and result.",
			},
			[]string{"source", "result"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listing_fetch_retries_total",
				Help: "Listing page fetches re-issued after a transient failure.",
			},
			[]string{"source"},
		)

		rateLimitCooldownsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listing_rate_limit_cooldowns_total",
				Help: "Cooldowns entered after a page reported a zero total.",
			},
			[]string{"source"},
		)

		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listing_items_total",
				Help: "Listing items evaluated, labeled by source and decision.",
			},
			[]string{"source", "decision"},
		)

		sampledStopsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listing_sampled_stops_total",
				Help: "Sessions stopped early by popularity sampling.",
			},
			[]string{"source"},
		)

		convertInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "convert_tasks_in_flight",
				Help: "Conversion tasks currently admitted by the work queue.",
			},
		)

		convertTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convert_tasks_total",
				Help: "Conversion tasks finished, labeled by status.",
			},
			[]string{"status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "listing_rate_limit_delays_seconds",
				Help:    "Histogram of client-side rate limit waits per host.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObservePageFetch counts one listing fetch attempt.
func ObservePageFetch(source string, ok bool) {
	Init()
	result := "ok"
	if !ok {
		result = "error"
	}
	pagesFetchedTotal.WithLabelValues(source, result).Inc()
}

// ObserveRetry counts one re-issued fetch.
func ObserveRetry(source string) {
	Init()
	fetchRetriesTotal.WithLabelValues(source).Inc()
}

// ObserveCooldown counts one rate-limit cooldown.
func ObserveCooldown(source string) {
	Init()
	rateLimitCooldownsTotal.WithLabelValues(source).Inc()
}

// ObserveItems adds n items with the given decision (accepted, rejected, placeholder).
func ObserveItems(source, decision string, n int) {
	if n <= 0 {
		return
	}
	Init()
	itemsTotal.WithLabelValues(source, decision).Add(float64(n))
}

// ObserveSampledStop counts one early stop.
func ObserveSampledStop(source string) {
	Init()
	sampledStopsTotal.WithLabelValues(source).Inc()
}

// SetConvertInFlight publishes the work queue occupancy.
func SetConvertInFlight(n int) {
	Init()
	convertInFlight.Set(float64(n))
}

// ObserveConvert counts one finished conversion task.
func ObserveConvert(status string) {
	Init()
	convertTasksTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}
