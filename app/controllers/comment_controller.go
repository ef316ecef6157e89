package controllers

import (
	"log/slog"
	"net/http"

	"inkwell/app/middleware"
	"inkwell/app/services"
)

// CommentController handles HTTP requests for comments
type CommentController struct {
	comments *services.CommentService
	log      *slog.Logger
}

func NewCommentController(comments *services.CommentService, log *slog.Logger) *CommentController {
	return &CommentController{comments: comments, log: log}
}

// Create handles POST /api/posts/{id}/comments
func (cc *CommentController) Create(w http.ResponseWriter, r *http.Request) {
	postID, ok := pathInt(r, "id")
	if !ok {
		sendError(w, "Invalid post ID", http.StatusBadRequest)
		return
	}
	var in services.CommentInput
	if err := decodeJSON(r, &in); err != nil {
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	comment, err := cc.comments.CreateComment(r.Context(), middleware.IdentityFrom(r.Context()), postID, in)
	if err != nil {
		fail(w, r, cc.log, err)
		return
	}
	sendJSON(w, http.StatusCreated, comment)
}

// Delete handles DELETE /api/comments/{id}
func (cc *CommentController) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(r, "id")
	if !ok {
		sendError(w, "Invalid comment ID", http.StatusBadRequest)
		return
	}
	if err := cc.comments.DeleteComment(r.Context(), middleware.IdentityFrom(r.Context()), id); err != nil {
		fail(w, r, cc.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
