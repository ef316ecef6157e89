package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"inkwell/app/models"
	"inkwell/app/services"
)

type ctxKey int

const identityKey ctxKey = iota

// Authenticator resolves a session id to the identity that owns it.
type Authenticator interface {
	Authenticate(ctx context.Context, sessionID string) (*models.Identity, error)
}

// WithIdentity returns a copy of ctx carrying ident.
func WithIdentity(ctx context.Context, ident *models.Identity) context.Context {
	return context.WithValue(ctx, identityKey, ident)
}

// IdentityFrom returns the authenticated identity, or nil for anonymous requests.
func IdentityFrom(ctx context.Context) *models.Identity {
	ident, _ := ctx.Value(identityKey).(*models.Identity)
	return ident
}

// Session loads the identity behind the session cookie. Requests without a
// usable session continue anonymously; a stale cookie is cleared.
func Session(auth Authenticator, cookie string, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := r.Cookie(cookie)
			if err != nil || c.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			ident, err := auth.Authenticate(r.Context(), c.Value)
			switch {
			case err == nil:
				r = r.WithContext(WithIdentity(r.Context(), ident))
			case errors.Is(err, services.ErrUnauthorized):
				ClearSessionCookie(w, cookie)
			default:
				log.WarnContext(r.Context(), "session lookup failed", "error", err)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SetSessionCookie hands the session id to the browser.
func SetSessionCookie(w http.ResponseWriter, r *http.Request, cookie string, s *models.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookie,
		Value:    s.ID,
		Path:     "/",
		Expires:  s.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func ClearSessionCookie(w http.ResponseWriter, cookie string) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
