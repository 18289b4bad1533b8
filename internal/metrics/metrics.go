// Package metrics exposes Prometheus counters and histograms for the server.
//
// Every collector is registered on a private registry rather than the
// global default, so tests can build as many Metrics values as they like
// without "duplicate metrics collector registration" panics.
//
// A nil *Metrics is valid and records nothing. Services take one as an
// optional dependency.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "microblog"

type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	registrations *prometheus.CounterVec
	logins        *prometheus.CounterVec
	passwordReset *prometheus.CounterVec
	followChanges *prometheus.CounterVec
	postsCreated  prometheus.Counter
	feedSize      prometheus.Histogram
}

// New builds the collectors and registers them, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Accounts created, by method (password or github).",
		}, []string{"method"}),

		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by method and outcome.",
		}, []string{"method", "outcome"}),

		passwordReset: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "password_resets_total",
			Help:      "Password reset steps by stage (requested, completed, rejected).",
		}, []string{"stage"}),

		followChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "follow_changes_total",
			Help:      "Follow edges written or removed. Idempotent no-ops are not counted.",
		}, []string{"action"}),

		postsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_created_total",
			Help:      "Posts written.",
		}),

		feedSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_page_posts",
			Help:      "Number of posts returned per feed page.",
			Buckets:   []float64{0, 1, 5, 10, 20, 50, 100},
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.registrations,
		m.logins,
		m.passwordReset,
		m.followChanges,
		m.postsCreated,
		m.feedSize,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records a request count and latency per route.
//
// The route label is chi's matched pattern ("/api/users/{username}"), read
// after the handler runs, so high-cardinality paths never become labels.
// Unmatched requests are labelled "unmatched".
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses (NDJSON export) streaming through the wrapper.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Domain events. All are no-ops on a nil receiver.

func (m *Metrics) Registered(method string) {
	if m != nil {
		m.registrations.WithLabelValues(method).Inc()
	}
}

func (m *Metrics) Login(method string, ok bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	m.logins.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) PasswordReset(stage string) {
	if m != nil {
		m.passwordReset.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) FollowChanged(action string) {
	if m != nil {
		m.followChanges.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) PostCreated() {
	if m != nil {
		m.postsCreated.Inc()
	}
}

func (m *Metrics) FeedServed(posts int) {
	if m != nil {
		m.feedSize.Observe(float64(posts))
	}
}
