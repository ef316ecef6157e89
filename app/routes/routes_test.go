package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"inkwell/app/controllers"
	"inkwell/app/logging"
	mailmock "inkwell/app/mailer/mock"
	"inkwell/app/metrics"
	"inkwell/app/middleware"
	"inkwell/app/repositories/mock"
	"inkwell/app/services"
	"inkwell/app/storage"
	"inkwell/app/tokens"
)

func setupRouter(t *testing.T, opts Options) *mux.Router {
	t.Helper()
	issuer, err := tokens.NewIssuer("routes-secret", nil)
	require.NoError(t, err)
	dir := t.TempDir()
	files, err := storage.NewDisk(filepath.Join(dir, "posts"), filepath.Join(dir, "media"))
	require.NoError(t, err)

	deps := &services.Dependencies{
		Store:           mock.NewStore(),
		Files:           files,
		Mail:            mailmock.NewRecorder(),
		Notify:          mailmock.NewRecorder(),
		Tokens:          issuer,
		TTLs:            services.TokenTTLs{Fresh: time.Minute, Refresh: time.Hour, Reset: time.Minute},
		Authors:         []string{"Jane Doe"},
		PublicURL:       "http://blog.test",
		SessionLifetime: time.Hour,
		HashCost:        bcrypt.MinCost,
		Logger:          logging.Discard(),
		Metrics:         opts.Metrics,
	}
	verify := services.NewVerificationService(deps)
	accounts := services.NewAccountService(deps, verify)
	posts := services.NewPostService(deps)
	log := logging.Discard()

	opts.Logger = log
	opts.Sessions = accounts
	opts.SessionCookie = "inkwell_session"
	return SetupRoutes(Controllers{
		Auth:        controllers.NewAuthController(accounts, verify, opts.SessionCookie, log),
		Posts:       controllers.NewPostController(posts, 1<<20, log),
		Comments:    controllers.NewCommentController(services.NewCommentService(deps), log),
		Bookmarks:   controllers.NewBookmarkController(services.NewBookmarkService(deps, posts), log),
		Subscribers: controllers.NewSubscriberController(accounts, log),
		Static:      controllers.NewStaticController(files),
	}, opts)
}

func serve(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.RemoteAddr = "192.0.2.10:4000"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRoutesMatch(t *testing.T) {
	r := setupRouter(t, Options{})

	cases := []struct {
		method, path string
		want         int
	}{
		{"GET", "/api/posts", http.StatusOK},
		{"GET", "/api/posts/recent", http.StatusOK},
		{"GET", "/api/posts/some-post", http.StatusNotFound},
		{"GET", "/api/me", http.StatusUnauthorized},
		{"POST", "/api/posts/1/comments", http.StatusBadRequest},
		{"DELETE", "/api/posts/1", http.StatusUnauthorized},
		{"DELETE", "/api/comments/1", http.StatusUnauthorized},
		{"POST", "/api/users/1/marks/1", http.StatusUnauthorized},
		{"DELETE", "/api/users/1/marks/1", http.StatusUnauthorized},
		{"GET", "/api/dashboard/alice", http.StatusUnauthorized},
		{"GET", "/api/subscribers", http.StatusUnauthorized},
		{"DELETE", "/api/subscribers/1", http.StatusUnauthorized},
		{"POST", "/api/subscribers/1/verification", http.StatusUnauthorized},
		{"GET", "/api/verify/garbage", http.StatusBadRequest},
		{"POST", "/api/logout", http.StatusNoContent},
		{"GET", "/media/missing.png", http.StatusNotFound},
		{"GET", "/documents/missing.html", http.StatusNotFound},
	}
	for _, c := range cases {
		w := serve(r, c.method, c.path, "")
		assert.Equal(t, c.want, w.Code, "%s %s: %s", c.method, c.path, w.Body.String())
	}
}

func TestRecentIsNotAPostURL(t *testing.T) {
	r := setupRouter(t, Options{})
	w := serve(r, "GET", "/api/posts/recent", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"posts": []}`, w.Body.String())
}

func TestUnknownAPIPathIsJSON(t *testing.T) {
	r := setupRouter(t, Options{})
	w := serve(r, "GET", "/api/nothing/here", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error": "Not found"}`, w.Body.String())
}

func TestAPIResponsesAreJSON(t *testing.T) {
	r := setupRouter(t, Options{})
	w := serve(r, "GET", "/api/posts", "")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestHealthz(t *testing.T) {
	healthy := setupRouter(t, Options{})
	w := serve(healthy, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status": "ok"}`, w.Body.String())

	down := setupRouter(t, Options{Ready: func() error { return errors.New("store closed") }})
	w = serve(down, "GET", "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "store closed", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	r := setupRouter(t, Options{Metrics: metrics.New()})
	serve(r, "GET", "/api/posts", "")

	w := serve(r, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `route="/api/posts"`)
}

func TestMetricsDisabled(t *testing.T) {
	r := setupRouter(t, Options{})
	w := serve(r, "GET", "/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCredentialEndpointsAreLimited(t *testing.T) {
	r := setupRouter(t, Options{Limiter: middleware.NewRateLimiter(60, 2)})
	login := `{"identifier": "ghost", "password": "whatever"}`

	assert.Equal(t, http.StatusUnauthorized, serve(r, "POST", "/api/login", login).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "POST", "/api/login", login).Code)
	w := serve(r, "POST", "/api/login", login)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	// reading posts is not throttled
	assert.Equal(t, http.StatusOK, serve(r, "GET", "/api/posts", "").Code)
}
