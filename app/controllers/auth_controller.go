package controllers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"inkwell/app/middleware"
	"inkwell/app/models"
	"inkwell/app/services"
)

// AuthController handles signup, verification links, sessions and
// password resets.
type AuthController struct {
	accounts *services.AccountService
	verify   *services.VerificationService
	cookie   string
	log      *slog.Logger
}

func NewAuthController(accounts *services.AccountService, verify *services.VerificationService, cookie string, log *slog.Logger) *AuthController {
	return &AuthController{accounts: accounts, verify: verify, cookie: cookie, log: log}
}

// identityView is the public part of an identity.
type identityView struct {
	ID       int         `json:"id"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
	Verified bool        `json:"verified"`
	Email    string      `json:"email,omitempty"`
}

func viewIdentity(i *models.Identity) identityView {
	return identityView{
		ID:       i.ID,
		Username: i.Username,
		Role:     i.Role,
		Verified: i.Verified,
		Email:    i.Email(),
	}
}

// Subscribe handles POST /api/subscribe
func (ac *AuthController) Subscribe(w http.ResponseWriter, r *http.Request) {
	var form services.SignupForm
	if err := decodeJSON(r, &form); err != nil {
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	sub, err := ac.accounts.Signup(r.Context(), form)
	if errors.Is(err, services.ErrMailDelivery) && sub != nil {
		// the account exists; the owner can resend the link by hand
		sendJSON(w, http.StatusAccepted, map[string]interface{}{
			"subscriber": viewIdentity(sub),
			"message":    "Account created but the confirmation email could not be sent. Contact the blog owner.",
		})
		return
	}
	if err != nil {
		fail(w, r, ac.log, err)
		return
	}
	sendJSON(w, http.StatusCreated, map[string]interface{}{
		"subscriber": viewIdentity(sub),
		"message":    "Check your inbox to confirm your email address.",
	})
}

var outcomeMessages = map[services.Outcome]string{
	services.OutcomeVerified:        "Your email address is confirmed.",
	services.OutcomeAlreadyVerified: "Your email address was already confirmed.",
	services.OutcomeRefreshIssued:   "That link expired. A new one is on its way.",
	services.OutcomeRefreshExpired:  "That link expired. Ask the blog owner for a new one.",
}

// Verify handles GET /api/verify/{token}
func (ac *AuthController) Verify(w http.ResponseWriter, r *http.Request) {
	res, err := ac.verify.Verify(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		fail(w, r, ac.log, err)
		return
	}

	status := http.StatusOK
	switch res.Outcome {
	case services.OutcomeVerified:
		session, err := ac.accounts.OpenSession(r.Context(), res.Subscriber)
		if err != nil {
			ac.log.WarnContext(r.Context(), "login after verification failed", "error", err)
		} else {
			middleware.SetSessionCookie(w, r, ac.cookie, session)
		}
	case services.OutcomeRefreshExpired:
		status = http.StatusGone
	}
	sendJSON(w, status, map[string]interface{}{
		"outcome": res.Outcome,
		"message": outcomeMessages[res.Outcome],
	})
}

// Login handles POST /api/login
func (ac *AuthController) Login(w http.ResponseWriter, r *http.Request) {
	var form services.LoginForm
	if err := decodeJSON(r, &form); err != nil {
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	session, ident, err := ac.accounts.Login(r.Context(), form)
	if err != nil {
		fail(w, r, ac.log, err)
		return
	}
	middleware.SetSessionCookie(w, r, ac.cookie, session)
	sendJSON(w, http.StatusOK, viewIdentity(ident))
}

// AdminSignIn handles POST /api/admin/signin
func (ac *AuthController) AdminSignIn(w http.ResponseWriter, r *http.Request) {
	var form services.AdminSignInForm
	if err := decodeJSON(r, &form); err != nil {
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	session, ident, err := ac.accounts.AdminSignIn(r.Context(), form)
	if err != nil {
		fail(w, r, ac.log, err)
		return
	}
	middleware.SetSessionCookie(w, r, ac.cookie, session)
	sendJSON(w, http.StatusOK, viewIdentity(ident))
}

// Logout handles POST /api/logout
func (ac *AuthController) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(ac.cookie); err == nil && c.Value != "" {
		if err := ac.accounts.Logout(r.Context(), c.Value); err != nil {
			fail(w, r, ac.log, err)
			return
		}
	}
	middleware.ClearSessionCookie(w, ac.cookie)
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/me
func (ac *AuthController) Me(w http.ResponseWriter, r *http.Request) {
	ident := middleware.IdentityFrom(r.Context())
	if ident == nil {
		sendError(w, services.ErrUnauthorized.Error(), http.StatusUnauthorized)
		return
	}
	sendJSON(w, http.StatusOK, viewIdentity(ident))
}

// ForgotPassword handles POST /api/password/forgot
func (ac *AuthController) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Identifier string `json:"identifier"`
	}
	if err := decodeJSON(r, &body); err != nil {
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := ac.accounts.RequestPasswordReset(r.Context(), body.Identifier); err != nil {
		fail(w, r, ac.log, err)
		return
	}
	sendJSON(w, http.StatusAccepted, map[string]string{
		"message": "If that account exists, a reset link has been sent.",
	})
}

// ResetPassword handles POST /api/password/reset/{token}
func (ac *AuthController) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var form services.ResetForm
	if err := decodeJSON(r, &form); err != nil {
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := ac.accounts.ResetPassword(r.Context(), mux.Vars(r)["token"], form); err != nil {
		fail(w, r, ac.log, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"message": "Your password was changed. Log in again."})
}
