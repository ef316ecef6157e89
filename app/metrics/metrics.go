// Package metrics defines the Prometheus instruments of the blog.
//
// All methods are safe on a nil *Metrics so callers that run without
// instrumentation, such as CLI commands and tests, need no special casing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "inkwell"

// Metrics holds every collector registered by New.
type Metrics struct {
	registry *prometheus.Registry

	// Labels: route, method, code
	HTTPRequests *prometheus.CounterVec
	// Labels: route, method
	HTTPDuration *prometheus.HistogramVec

	PostsCreated prometheus.Counter
	PostsDeleted prometheus.Counter
	// Labels: role
	CommentsCreated *prometheus.CounterVec
	// Labels: outcome (verified, already_verified, refresh_issued, refresh_expired, invalid)
	Verifications *prometheus.CounterVec
	// Labels: kind, status (sent, failed)
	Notifications *prometheus.CounterVec
	// Labels: result (success, failure)
	Logins *prometheus.CounterVec
}

// New registers the collectors on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		PostsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_created_total",
			Help:      "Posts published.",
		}),
		PostsDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_deleted_total",
			Help:      "Posts deleted.",
		}),
		CommentsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comments_created_total",
			Help:      "Comments created by author role.",
		}, []string{"role"}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Verification link outcomes.",
		}, []string{"outcome"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Best-effort notification emails by kind and status.",
		}, []string{"kind", "status"}),
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRequest(route, method string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

func (m *Metrics) PostCreated() {
	if m != nil {
		m.PostsCreated.Inc()
	}
}

func (m *Metrics) PostDeleted() {
	if m != nil {
		m.PostsDeleted.Inc()
	}
}

func (m *Metrics) CommentCreated(role string) {
	if m != nil {
		m.CommentsCreated.WithLabelValues(role).Inc()
	}
}

func (m *Metrics) Verification(outcome string) {
	if m != nil {
		m.Verifications.WithLabelValues(outcome).Inc()
	}
}

// Notification records a best-effort email result.
func (m *Metrics) Notification(kind string, err error) {
	if m == nil {
		return
	}
	status := "sent"
	if err != nil {
		status = "failed"
	}
	m.Notifications.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) Login(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.Logins.WithLabelValues(result).Inc()
}
