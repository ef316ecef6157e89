package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"inkwell/app/logging"
	mailmock "inkwell/app/mailer/mock"
	"inkwell/app/middleware"
	"inkwell/app/models"
	"inkwell/app/repositories/mock"
	"inkwell/app/services"
	"inkwell/app/storage"
	"inkwell/app/tokens"
)

const cookieName = "inkwell_test"

type env struct {
	t        *testing.T
	router   *mux.Router
	mail     *mailmock.Recorder
	notify   *mailmock.Recorder
	files    *storage.Disk
	accounts *services.AccountService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	issuer, err := tokens.NewIssuer("controller-secret", nil)
	require.NoError(t, err)
	dir := t.TempDir()
	files, err := storage.NewDisk(filepath.Join(dir, "posts"), filepath.Join(dir, "media"))
	require.NoError(t, err)

	e := &env{t: t, mail: mailmock.NewRecorder(), notify: mailmock.NewRecorder(), files: files}
	deps := &services.Dependencies{
		Store:           mock.NewStore(),
		Files:           files,
		Mail:            e.mail,
		Notify:          e.notify,
		Tokens:          issuer,
		TTLs:            services.TokenTTLs{Fresh: 10 * time.Minute, Refresh: time.Hour, Reset: 15 * time.Minute},
		Authors:         []string{"Jane Doe"},
		AdminAddress:    "owner@example.com",
		SenderAddress:   "blog@example.com",
		PublicURL:       "http://blog.test",
		SessionLifetime: time.Hour,
		HashCost:        bcrypt.MinCost,
		Logger:          logging.Discard(),
	}
	verify := services.NewVerificationService(deps)
	e.accounts = services.NewAccountService(deps, verify)
	posts := services.NewPostService(deps)
	log := logging.Discard()

	auth := NewAuthController(e.accounts, verify, cookieName, log)
	pc := NewPostController(posts, 1<<20, log)
	cc := NewCommentController(services.NewCommentService(deps), log)
	bc := NewBookmarkController(services.NewBookmarkService(deps, posts), log)
	sc := NewSubscriberController(e.accounts, log)
	st := NewStaticController(files)

	r := mux.NewRouter()
	r.Use(middleware.Session(e.accounts, cookieName, log))
	r.HandleFunc("/api/subscribe", auth.Subscribe).Methods("POST")
	r.HandleFunc("/api/verify/{token}", auth.Verify).Methods("GET")
	r.HandleFunc("/api/login", auth.Login).Methods("POST")
	r.HandleFunc("/api/admin/signin", auth.AdminSignIn).Methods("POST")
	r.HandleFunc("/api/logout", auth.Logout).Methods("POST")
	r.HandleFunc("/api/me", auth.Me).Methods("GET")
	r.HandleFunc("/api/password/forgot", auth.ForgotPassword).Methods("POST")
	r.HandleFunc("/api/password/reset/{token}", auth.ResetPassword).Methods("POST")
	r.HandleFunc("/api/posts", pc.Index).Methods("GET")
	r.HandleFunc("/api/posts", pc.Create).Methods("POST")
	r.HandleFunc("/api/posts/recent", pc.Recent).Methods("GET")
	r.HandleFunc("/api/posts/{id:[0-9]+}", pc.Delete).Methods("DELETE")
	r.HandleFunc("/api/posts/{id:[0-9]+}/comments", cc.Create).Methods("POST")
	r.HandleFunc("/api/posts/{url}", pc.Show).Methods("GET")
	r.HandleFunc("/api/comments/{id:[0-9]+}", cc.Delete).Methods("DELETE")
	r.HandleFunc("/api/users/{userId:[0-9]+}/marks/{postId:[0-9]+}", bc.Mark).Methods("POST")
	r.HandleFunc("/api/users/{userId:[0-9]+}/marks/{postId:[0-9]+}", bc.Unmark).Methods("DELETE")
	r.HandleFunc("/api/dashboard/{username}", bc.Dashboard).Methods("GET")
	r.HandleFunc("/api/subscribers", sc.Index).Methods("GET")
	r.HandleFunc("/api/subscribers/{id:[0-9]+}", sc.Delete).Methods("DELETE")
	r.HandleFunc("/api/subscribers/{id:[0-9]+}/verification", sc.Resend).Methods("POST")
	r.HandleFunc("/media/{name}", st.Media).Methods("GET")
	r.HandleFunc("/documents/{name}", st.Documents).Methods("GET")
	e.router = r
	return e
}

// do sends a request, optionally with a session cookie, and returns the recorder.
func (e *env) do(method, path string, body io.Reader, session string, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if session != "" {
		req.AddCookie(&http.Cookie{Name: cookieName, Value: session})
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) json(method, path string, payload interface{}, session string) *httptest.ResponseRecorder {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(e.t, err)
		body = bytes.NewReader(b)
	}
	return e.do(method, path, body, session, "application/json")
}

func sessionFrom(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == cookieName && c.Value != "" {
			return c.Value
		}
	}
	t.Fatalf("no session cookie in response")
	return ""
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

// adminSession provisions the owner and signs in.
func (e *env) adminSession() (string, *models.Identity) {
	admin, err := e.accounts.ProvisionAdmin(context.Background(), services.AdminForm{
		Username: "owner", Password1: "first-secret", Password2: "second-secret",
	})
	require.NoError(e.t, err)
	w := e.json("POST", "/api/admin/signin", map[string]string{
		"username": "owner", "password1": "first-secret", "password2": "second-secret",
	}, "")
	require.Equal(e.t, http.StatusOK, w.Code, w.Body.String())
	return sessionFrom(e.t, w), admin
}

// subscriberSession signs up, follows the emailed link and returns the
// session cookie set by the verification response.
func (e *env) subscriberSession(username string) (string, int) {
	w := e.json("POST", "/api/subscribe", map[string]string{
		"username": username, "email": username + "@example.com",
		"password": "hunter22", "confirm_password": "hunter22",
	}, "")
	require.Equal(e.t, http.StatusCreated, w.Code, w.Body.String())
	var body struct {
		Subscriber struct {
			ID int `json:"id"`
		} `json:"subscriber"`
	}
	decode(e.t, w, &body)

	msgs := e.mail.Messages()
	link := msgs[len(msgs)-1].Data["Link"].(string)
	w = e.do("GET", strings.TrimPrefix(link, "http://blog.test"), nil, "", "")
	require.Equal(e.t, http.StatusOK, w.Code, w.Body.String())
	return sessionFrom(e.t, w), body.Subscriber.ID
}

type part struct {
	field, name, content string
}

func multipartBody(t *testing.T, fields map[string]string, files []part) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(f.content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (e *env) createPost(session, url string) int {
	body, ct := multipartBody(e.t, map[string]string{
		"url": url, "category": "Article", "author": "Jane Doe",
	}, []part{
		{"html", url + ".html", `<h1 id="post_title">All about ` + url + `</h1><img id="post_banner" src="/media/` + url + `.png">`},
		{"images", url + ".png", "png-bytes"},
	})
	w := e.do("POST", "/api/posts", body, session, ct)
	require.Equal(e.t, http.StatusCreated, w.Code, w.Body.String())
	var post models.Post
	decode(e.t, w, &post)
	return post.ID
}
