package routes

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"inkwell/app/controllers"
	"inkwell/app/metrics"
	"inkwell/app/middleware"
)

// Controllers bundles every handler the router dispatches to.
type Controllers struct {
	Auth        *controllers.AuthController
	Posts       *controllers.PostController
	Comments    *controllers.CommentController
	Bookmarks   *controllers.BookmarkController
	Subscribers *controllers.SubscriberController
	Static      *controllers.StaticController
}

// Options configures the middleware stack.
type Options struct {
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	Sessions      middleware.Authenticator
	SessionCookie string
	// Limiter throttles the credential and signup endpoints. Nil disables it.
	Limiter *middleware.RateLimiter
	// Ready reports whether the store answers; nil means always ready.
	Ready func() error
}

// SetupRoutes defines the application's routes and returns a router.
func SetupRoutes(c Controllers, opts Options) *mux.Router {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	router := mux.NewRouter()
	router.NotFoundHandler = notFound()

	// Apply global middleware
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recoverer(log))
	router.Use(middleware.Metrics(opts.Metrics))
	router.Use(middleware.ContentTypeJSON)
	router.Use(middleware.Session(opts.Sessions, opts.SessionCookie, log))

	router.HandleFunc("/healthz", health(opts.Ready)).Methods("GET")
	if opts.Metrics != nil {
		router.Handle("/metrics", opts.Metrics.Handler()).Methods("GET")
	}
	router.HandleFunc("/documents/{name}", c.Static.Documents).Methods("GET", "HEAD")
	router.HandleFunc("/media/{name}", c.Static.Media).Methods("GET", "HEAD")

	api := router.PathPrefix("/api").Subrouter()

	// credential endpoints share one limiter
	limited := api.NewRoute().Subrouter()
	if opts.Limiter != nil {
		limited.Use(opts.Limiter.Middleware)
	}
	limited.HandleFunc("/subscribe", c.Auth.Subscribe).Methods("POST")
	limited.HandleFunc("/login", c.Auth.Login).Methods("POST")
	limited.HandleFunc("/admin/signin", c.Auth.AdminSignIn).Methods("POST")
	limited.HandleFunc("/password/forgot", c.Auth.ForgotPassword).Methods("POST")
	limited.HandleFunc("/password/reset/{token}", c.Auth.ResetPassword).Methods("POST")

	api.HandleFunc("/verify/{token}", c.Auth.Verify).Methods("GET")
	api.HandleFunc("/logout", c.Auth.Logout).Methods("POST")
	api.HandleFunc("/me", c.Auth.Me).Methods("GET")

	// Posts API endpoints
	posts := api.PathPrefix("/posts").Subrouter()
	posts.HandleFunc("", c.Posts.Index).Methods("GET")
	posts.HandleFunc("", c.Posts.Create).Methods("POST")
	posts.HandleFunc("/recent", c.Posts.Recent).Methods("GET")
	posts.HandleFunc("/{id:[0-9]+}", c.Posts.Delete).Methods("DELETE")
	posts.HandleFunc("/{id:[0-9]+}/comments", c.Comments.Create).Methods("POST")
	posts.HandleFunc("/{url}", c.Posts.Show).Methods("GET")

	api.HandleFunc("/comments/{id:[0-9]+}", c.Comments.Delete).Methods("DELETE")

	api.HandleFunc("/users/{userId:[0-9]+}/marks/{postId:[0-9]+}", c.Bookmarks.Mark).Methods("POST")
	api.HandleFunc("/users/{userId:[0-9]+}/marks/{postId:[0-9]+}", c.Bookmarks.Unmark).Methods("DELETE")
	api.HandleFunc("/dashboard/{username}", c.Bookmarks.Dashboard).Methods("GET")

	api.HandleFunc("/subscribers", c.Subscribers.Index).Methods("GET")
	api.HandleFunc("/subscribers/{id:[0-9]+}", c.Subscribers.Delete).Methods("DELETE")
	api.HandleFunc("/subscribers/{id:[0-9]+}/verification", c.Subscribers.Resend).Methods("POST")

	return router
}

func notFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "Not found"})
			return
		}
		http.NotFound(w, r)
	})
}

func health(ready func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if ready != nil {
			if err := ready(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
