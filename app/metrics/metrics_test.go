package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.PostCreated()
	m.PostCreated()
	m.PostDeleted()
	m.CommentCreated("subscriber")
	m.Verification("verified")
	m.Notification("new_post", nil)
	m.Notification("new_post", errors.New("relay down"))
	m.Login(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PostsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PostsDeleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommentsCreated.WithLabelValues("subscriber")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Verifications.WithLabelValues("verified")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("new_post", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("new_post", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Logins.WithLabelValues("failure")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.PostCreated()
		m.PostDeleted()
		m.CommentCreated("admin")
		m.Verification("invalid")
		m.Notification("x", nil)
		m.Login(true)
		m.ObserveRequest("/", "GET", 200, time.Millisecond)
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveRequest("/api/posts", "GET", 200, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `inkwell_http_requests_total{code="200",method="GET",route="/api/posts"} 1`)
}
