package controllers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"inkwell/app/middleware"
	"inkwell/app/services"
)

type BookmarkController struct {
	bookmarks *services.BookmarkService
	log       *slog.Logger
}

func NewBookmarkController(bookmarks *services.BookmarkService, log *slog.Logger) *BookmarkController {
	return &BookmarkController{bookmarks: bookmarks, log: log}
}

func (bc *BookmarkController) ids(w http.ResponseWriter, r *http.Request) (userID, postID int, ok bool) {
	if userID, ok = pathInt(r, "userId"); !ok {
		sendError(w, "Invalid user ID", http.StatusBadRequest)
		return 0, 0, false
	}
	if postID, ok = pathInt(r, "postId"); !ok {
		sendError(w, "Invalid post ID", http.StatusBadRequest)
		return 0, 0, false
	}
	return userID, postID, true
}

// Mark handles POST /api/users/{userId}/marks/{postId}
func (bc *BookmarkController) Mark(w http.ResponseWriter, r *http.Request) {
	userID, postID, ok := bc.ids(w, r)
	if !ok {
		return
	}
	changed, err := bc.bookmarks.MarkPost(r.Context(), middleware.IdentityFrom(r.Context()), userID, postID)
	if err != nil {
		fail(w, r, bc.log, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]bool{"marked": true, "changed": changed})
}

// Unmark handles DELETE /api/users/{userId}/marks/{postId}
func (bc *BookmarkController) Unmark(w http.ResponseWriter, r *http.Request) {
	userID, postID, ok := bc.ids(w, r)
	if !ok {
		return
	}
	changed, err := bc.bookmarks.UnmarkPost(r.Context(), middleware.IdentityFrom(r.Context()), userID, postID)
	if err != nil {
		fail(w, r, bc.log, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]bool{"marked": false, "changed": changed})
}

// Dashboard handles GET /api/dashboard/{username}
func (bc *BookmarkController) Dashboard(w http.ResponseWriter, r *http.Request) {
	posts, err := bc.bookmarks.Dashboard(r.Context(), middleware.IdentityFrom(r.Context()), mux.Vars(r)["username"])
	if err != nil {
		fail(w, r, bc.log, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"posts": posts})
}
