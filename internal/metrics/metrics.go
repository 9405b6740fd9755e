// Package metrics exposes Prometheus collectors for the archiver.
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
	itemsTotal                 *prometheus.CounterVec
	navigationsTotal           *prometheus.CounterVec
	navigationDurationSeconds  prometheus.Histogram
	scrollIterationsTotal      *prometheus.CounterVec
	scrollNewLinksTotal        *prometheus.CounterVec
	archiveOutcomesTotal       *prometheus.CounterVec
	pooledSessions             prometheus.Gauge
	openSessions               prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_items_total",
				Help: "Items handled by the discovery pipeline, labeled by stage and status.",
			},
			[]string{"stage", "status"},
		)

		navigationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_navigations_total",
				Help: "Item page navigation attempts, labeled by result.",
			},
			[]string{"result"},
		)

		navigationDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "archiver_navigation_duration_seconds",
				Help:    "Histogram of item page navigation latencies.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
			},
		)

		scrollIterationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_scroll_iterations_total",
				Help: "Listing scroll iterations, labeled by sort dimension and whether new links appeared.",
			},
			[]string{"dimension", "stalled"},
		)

		scrollNewLinksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_scroll_new_links_total",
				Help: "Unseen item links surfaced by listing scrolls, labeled by sort dimension.",
			},
			[]string{"dimension"},
		)

		archiveOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_archive_outcomes_total",
				Help: "Archive attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		pooledSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_pooled_sessions",
				Help: "Browser tabs held by the archive session pool.",
			},
		)

		openSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_open_sessions",
				Help: "Browser tabs currently open.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_rate_limit_delays_seconds",
				Help:    "Histogram of per-host navigation limiter waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
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
	return promhttp.Handler()
}

// ObserveItem counts a discovery pipeline event.
func ObserveItem(stage, status string) {
	Init()
	itemsTotal.WithLabelValues(stage, status).Inc()
}

// ObserveNavigation records one navigation attempt.
func ObserveNavigation(result string, d time.Duration) {
	Init()
	navigationsTotal.WithLabelValues(result).Inc()
	navigationDurationSeconds.Observe(d.Seconds())
}

// ObserveScroll records one listing scroll iteration.
func ObserveScroll(dimension string, fresh int) {
	Init()
	scrollIterationsTotal.WithLabelValues(dimension, strconv.FormatBool(fresh == 0)).Inc()
	if fresh > 0 {
		scrollNewLinksTotal.WithLabelValues(dimension).Add(float64(fresh))
	}
}

// ObserveArchive counts an archive outcome.
func ObserveArchive(outcome string) {
	Init()
	archiveOutcomesTotal.WithLabelValues(outcome).Inc()
}

// SetPooledSessions sets the size of the live archive session pool.
func SetPooledSessions(n int) {
	Init()
	pooledSessions.Set(float64(n))
}

// IncOpenSessions increments the open tab gauge.
func IncOpenSessions() {
	Init()
	openSessions.Inc()
}

// DecOpenSessions decrements the open tab gauge.
func DecOpenSessions() {
	Init()
	openSessions.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(SanitizeSite(domain)).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
