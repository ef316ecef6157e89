package controllers

import (
	"log/slog"
	"net/http"

	"inkwell/app/middleware"
	"inkwell/app/services"
)

// SubscriberController serves the owner's subscriber administration.
type SubscriberController struct {
	accounts *services.AccountService
	log      *slog.Logger
}

func NewSubscriberController(accounts *services.AccountService, log *slog.Logger) *SubscriberController {
	return &SubscriberController{accounts: accounts, log: log}
}

// Index handles GET /api/subscribers
func (sc *SubscriberController) Index(w http.ResponseWriter, r *http.Request) {
	subs, err := sc.accounts.ListSubscribers(r.Context(), middleware.IdentityFrom(r.Context()))
	if err != nil {
		fail(w, r, sc.log, err)
		return
	}
	views := make([]identityView, 0, len(subs))
	for _, s := range subs {
		views = append(views, viewIdentity(s))
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"subscribers": views})
}

// Delete handles DELETE /api/subscribers/{id}
func (sc *SubscriberController) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(r, "id")
	if !ok {
		sendError(w, "Invalid subscriber ID", http.StatusBadRequest)
		return
	}
	if err := sc.accounts.DeleteSubscriber(r.Context(), middleware.IdentityFrom(r.Context()), id); err != nil {
		fail(w, r, sc.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Resend handles POST /api/subscribers/{id}/verification
func (sc *SubscriberController) Resend(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(r, "id")
	if !ok {
		sendError(w, "Invalid subscriber ID", http.StatusBadRequest)
		return
	}
	if err := sc.accounts.ResendVerification(r.Context(), middleware.IdentityFrom(r.Context()), id); err != nil {
		fail(w, r, sc.log, err)
		return
	}
	sendJSON(w, http.StatusAccepted, map[string]string{"message": "Verification email sent."})
}
