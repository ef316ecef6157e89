package controllers

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/gorilla/mux"

	"inkwell/app/middleware"
	"inkwell/app/models"
	"inkwell/app/services"
	"inkwell/app/storage"
)

// multipartMemory is how much of an upload is buffered before spilling to temp files.
const multipartMemory = 8 << 20

// PostController handles HTTP requests for blog posts
type PostController struct {
	posts     *services.PostService
	maxUpload int64
	log       *slog.Logger
}

// NewPostController creates a new PostController. maxUpload caps the whole
// multipart body of a new post.
func NewPostController(posts *services.PostService, maxUpload int64, log *slog.Logger) *PostController {
	return &PostController{posts: posts, maxUpload: maxUpload, log: log}
}

// Index handles GET /api/posts
func (pc *PostController) Index(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	perPage := queryInt(r, "per_page", 10)

	result, err := pc.posts.List(r.Context(), r.URL.Query().Get("category"), page, perPage)
	if err != nil {
		fail(w, r, pc.log, err)
		return
	}
	sendJSON(w, http.StatusOK, result)
}

// Recent handles GET /api/posts/recent
func (pc *PostController) Recent(w http.ResponseWriter, r *http.Request) {
	posts, err := pc.posts.Recent(r.Context())
	if err != nil {
		fail(w, r, pc.log, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"posts": posts})
}

// Show handles GET /api/posts/{url}
func (pc *PostController) Show(w http.ResponseWriter, r *http.Request) {
	view, err := pc.posts.Show(r.Context(), middleware.IdentityFrom(r.Context()), mux.Vars(r)["url"])
	if err != nil {
		fail(w, r, pc.log, err)
		return
	}
	sendJSON(w, http.StatusOK, view)
}

// Create handles the multipart POST /api/posts. Fields: url, category,
// author, html (one file), images (one or more), audios (optional).
func (pc *PostController) Create(w http.ResponseWriter, r *http.Request) {
	// role is checked before the body is parsed
	if err := services.RequireRole(middleware.IdentityFrom(r.Context()), models.RoleAdmin); err != nil {
		fail(w, r, pc.log, err)
		return
	}
	if pc.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, pc.maxUpload)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			sendError(w, "upload is too large", http.StatusRequestEntityTooLarge)
			return
		}
		sendError(w, "invalid upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File
	in := services.NewPost{
		URL:      r.FormValue("url"),
		Category: r.FormValue("category"),
		Author:   r.FormValue("author"),
		Images:   uploads(files["images"]),
		Audios:   uploads(files["audios"]),
	}
	if html := uploads(files["html"]); len(html) > 0 {
		in.HTML = html[0]
	}

	post, err := pc.posts.CreatePost(r.Context(), middleware.IdentityFrom(r.Context()), in)
	if err != nil {
		fail(w, r, pc.log, err)
		return
	}
	sendJSON(w, http.StatusCreated, post)
}

func uploads(headers []*multipart.FileHeader) []storage.Upload {
	out := make([]storage.Upload, 0, len(headers))
	for _, fh := range headers {
		fh := fh
		out = append(out, storage.Upload{
			Name: fh.Filename,
			Open: func() (io.ReadCloser, error) { return fh.Open() },
		})
	}
	return out
}

// Delete handles DELETE /api/posts/{id}
func (pc *PostController) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(r, "id")
	if !ok {
		sendError(w, "Invalid post ID", http.StatusBadRequest)
		return
	}
	if err := pc.posts.DeletePost(r.Context(), middleware.IdentityFrom(r.Context()), id); err != nil {
		fail(w, r, pc.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
