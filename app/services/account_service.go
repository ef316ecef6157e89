package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"inkwell/app/mailer"
	"inkwell/app/models"
	"inkwell/app/repositories"
	"inkwell/app/tokens"
)

// AccountService handles signup, sessions, password resets and subscriber
// administration.
type AccountService struct {
	deps   *Dependencies
	verify *VerificationService
}

func NewAccountService(deps *Dependencies, verify *VerificationService) *AccountService {
	return &AccountService{deps: deps, verify: verify}
}

// Signup creates an unverified subscriber and mails the first verification
// link. When the mail cannot be sent the account is kept and the returned
// error wraps ErrMailDelivery.
func (s *AccountService) Signup(ctx context.Context, form SignupForm) (*models.Identity, error) {
	form.Email = strings.ToLower(strings.TrimSpace(form.Email))
	if err := checkForm(form); err != nil {
		return nil, err
	}
	if s.reserved(form.Email) {
		return nil, validationf("this email address cannot be used")
	}

	hash, err := s.deps.hashPassword(form.Password)
	if err != nil {
		return nil, err
	}
	sub := models.NewSubscriber(form.Username, form.Email, hash)
	sub.CreatedAt = s.deps.now()
	if err := sub.Validate(); err != nil {
		return nil, validationf("%v", err)
	}

	err = s.deps.Store.Update(ctx, func(tx repositories.Tx) error {
		if _, err := tx.Identities().GetByUsername(sub.Username); err == nil {
			return conflictf("username is already taken")
		} else if !errors.Is(err, repositories.ErrNotFound) {
			return err
		}
		if _, err := tx.Identities().GetByEmail(sub.Email()); err == nil {
			return conflictf("email is already registered")
		} else if !errors.Is(err, repositories.ErrNotFound) {
			return err
		}
		return storeErr(tx.Identities().Create(sub), "account")
	})
	if err != nil {
		return nil, err
	}
	s.deps.logger().InfoContext(ctx, "subscriber signed up", "subscriber", sub.ID)

	if err := s.verify.SendFresh(ctx, sub); err != nil {
		return sub, err
	}
	return sub, nil
}

// reserved reports whether email is one of the owner's addresses once
// case, dots and +tags are ignored.
func (s *AccountService) reserved(email string) bool {
	norm := normalizeAddress(email)
	for _, r := range s.deps.ReservedAddresses {
		if norm == normalizeAddress(r) {
			return true
		}
	}
	return false
}

func normalizeAddress(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return email
	}
	if i := strings.Index(local, "+"); i >= 0 {
		local = local[:i]
	}
	return strings.ReplaceAll(local, ".", "") + "@" + domain
}

// Login opens a session for a verified subscriber identified by username or email.
func (s *AccountService) Login(ctx context.Context, form LoginForm) (*models.Session, *models.Identity, error) {
	session, sub, err := s.login(ctx, form)
	s.deps.Metrics.Login(err == nil)
	return session, sub, err
}

func (s *AccountService) login(ctx context.Context, form LoginForm) (*models.Session, *models.Identity, error) {
	if err := checkForm(form); err != nil {
		return nil, nil, err
	}

	var (
		sub     *models.Identity
		session *models.Session
	)
	err := s.deps.Store.Update(ctx, func(tx repositories.Tx) error {
		var err error
		sub, err = findSubscriber(tx, form.Identifier)
		if err != nil {
			return err
		}
		if bcrypt.CompareHashAndPassword([]byte(sub.Subscriber.PasswordHash), []byte(form.Password)) != nil {
			return ErrInvalidCredentials
		}
		if !sub.Verified {
			return fmt.Errorf("%w: verify your email address first", ErrUnauthorized)
		}
		session, err = s.openSession(tx, sub)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return session, sub, nil
}

// findSubscriber looks identifier up as an email when it holds an @ and as
// a username otherwise. Unknown accounts and admins both yield
// ErrInvalidCredentials.
func findSubscriber(tx repositories.Tx, identifier string) (*models.Identity, error) {
	var (
		ident *models.Identity
		err   error
	)
	if strings.Contains(identifier, "@") {
		ident, err = tx.Identities().GetByEmail(strings.ToLower(strings.TrimSpace(identifier)))
	} else {
		ident, err = tx.Identities().GetByUsername(identifier)
	}
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !ident.IsSubscriber() {
		return nil, ErrInvalidCredentials
	}
	return ident, nil
}

// AdminSignIn opens a session for the owner. Both passwords must match.
func (s *AccountService) AdminSignIn(ctx context.Context, form AdminSignInForm) (*models.Session, *models.Identity, error) {
	if err := checkForm(form); err != nil {
		return nil, nil, err
	}

	var (
		admin   *models.Identity
		session *models.Session
	)
	err := s.deps.Store.Update(ctx, func(tx repositories.Tx) error {
		var err error
		admin, err = tx.Identities().GetByUsername(form.Username)
		if errors.Is(err, repositories.ErrNotFound) || (err == nil && !admin.IsAdmin()) {
			return ErrInvalidCredentials
		}
		if err != nil {
			return err
		}
		creds := admin.Admin
		if bcrypt.CompareHashAndPassword([]byte(creds.Password1Hash), []byte(form.Password1)) != nil ||
			bcrypt.CompareHashAndPassword([]byte(creds.Password2Hash), []byte(form.Password2)) != nil {
			return ErrInvalidCredentials
		}
		session, err = s.openSession(tx, admin)
		return err
	})
	s.deps.Metrics.Login(err == nil)
	if err != nil {
		return nil, nil, err
	}
	return session, admin, nil
}

// OpenSession logs ident in without a password, e.g. right after a
// verification link proved they own the address.
func (s *AccountService) OpenSession(ctx context.Context, ident *models.Identity) (*models.Session, error) {
	var session *models.Session
	err := s.deps.Store.Update(ctx, func(tx repositories.Tx) error {
		var err error
		session, err = s.openSession(tx, ident)
		return err
	})
	return session, err
}

func (s *AccountService) openSession(tx repositories.Tx, ident *models.Identity) (*models.Session, error) {
	now := s.deps.now()
	lifetime := s.deps.SessionLifetime
	if lifetime <= 0 {
		lifetime = 24 * time.Hour
	}
	session := &models.Session{
		ID:         uuid.NewString(),
		IdentityID: ident.ID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(lifetime),
	}
	if err := tx.Sessions().Create(session); err != nil {
		return nil, err
	}
	return session, nil
}

// Authenticate resolves a session id to its identity. Expired sessions are
// removed.
func (s *AccountService) Authenticate(ctx context.Context, sessionID string) (*models.Identity, error) {
	if sessionID == "" {
		return nil, ErrUnauthorized
	}
	now := s.deps.now()

	var (
		ident   *models.Identity
		expired bool
	)
	err := s.deps.Store.View(ctx, func(tx repositories.Tx) error {
		session, err := tx.Sessions().Get(sessionID)
		if err != nil {
			return err
		}
		if session.Expired(now) {
			expired = true
			return nil
		}
		ident, err = tx.Identities().GetByID(session.IdentityID)
		return err
	})
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if expired {
		if err := s.Logout(ctx, sessionID); err != nil {
			s.deps.logger().WarnContext(ctx, "expired session not removed", "error", err)
		}
		return nil, fmt.Errorf("%w: session expired", ErrUnauthorized)
	}
	return ident, nil
}

// Logout deletes the session. An unknown session is not an error.
func (s *AccountService) Logout(ctx context.Context, sessionID string) error {
	err := s.deps.Store.Update(ctx, func(tx repositories.Tx) error {
		return tx.Sessions().Delete(sessionID)
	})
	if errors.Is(err, repositories.ErrNotFound) {
		return nil
	}
	return err
}

// ResendVerification mails a new fresh link to an unverified subscriber.
func (s *AccountService) ResendVerification(ctx context.Context, actor *models.Identity, subscriberID int) error {
	if err := RequireRole(actor, models.RoleAdmin); err != nil {
		return err
	}
	sub, err := s.subscriber(ctx, subscriberID)
	if err != nil {
		return err
	}
	if sub.Verified {
		return conflictf("subscriber is already verified")
	}
	return s.verify.send(ctx, sub, manualMail)
}

func (s *AccountService) subscriber(ctx context.Context, id int) (*models.Identity, error) {
	var sub *models.Identity
	err := s.deps.Store.View(ctx, func(tx repositories.Tx) error {
		var err error
		sub, err = tx.Identities().GetByID(id)
		return err
	})
	if err != nil {
		return nil, storeErr(err, "subscriber")
	}
	if !sub.IsSubscriber() {
		return nil, notFound("subscriber")
	}
	return sub, nil
}

// RequestPasswordReset mails a reset link when identifier names a
// subscriber. Unknown identifiers succeed silently.
func (s *AccountService) RequestPasswordReset(ctx context.Context, identifier string) error {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return validationf("username or email is required")
	}

	var sub *models.Identity
	err := s.deps.Store.View(ctx, func(tx repositories.Tx) error {
		var err error
		sub, err = findSubscriber(tx, identifier)
		return err
	})
	if errors.Is(err, ErrInvalidCredentials) {
		s.deps.logger().DebugContext(ctx, "password reset for unknown account")
		return nil
	}
	if err != nil {
		return err
	}

	ttl := s.deps.TTLs.Reset
	raw, err := s.deps.Tokens.Issue(sub.Email(), tokens.IntentReset, ttl)
	if err != nil {
		return err
	}
	err = s.deps.Mail.Send(ctx, mailer.Message{
		Subject:  "Reset your password",
		To:       []string{sub.Email()},
		Template: mailer.TemplateResetPassword,
		Data: map[string]any{
			"Username": sub.Username,
			"Link":     s.deps.link("/api/password/reset/" + raw),
			"ValidFor": humanDuration(ttl),
		},
	})
	if err != nil {
		// The caller gets the same answer as for an unknown account.
		s.deps.logger().ErrorContext(ctx, "reset mail failed", "subscriber", sub.ID, "error", err)
	}
	return nil
}

// ResetPassword sets a new password from an unexpired reset token and ends
// every session of the subscriber.
func (s *AccountService) ResetPassword(ctx context.Context, raw string, form ResetForm) error {
	claims, err := s.deps.Tokens.Parse(raw)
	if err != nil || claims.Intent != tokens.IntentReset || claims.Expired(s.deps.now()) {
		return ErrInvalidToken
	}
	if err := checkForm(form); err != nil {
		return err
	}
	hash, err := s.deps.hashPassword(form.Password)
	if err != nil {
		return err
	}

	return s.deps.Store.Update(ctx, func(tx repositories.Tx) error {
		sub, err := tx.Identities().GetByEmail(claims.Email)
		if errors.Is(err, repositories.ErrNotFound) || (err == nil && !sub.IsSubscriber()) {
			return ErrInvalidToken
		}
		if err != nil {
			return err
		}
		sub.Subscriber.PasswordHash = hash
		if err := tx.Identities().Update(sub); err != nil {
			return err
		}
		return tx.Sessions().DeleteByIdentity(sub.ID)
	})
}

// ListSubscribers returns every subscriber oldest first.
func (s *AccountService) ListSubscribers(ctx context.Context, actor *models.Identity) ([]*models.Identity, error) {
	if err := RequireRole(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	var subs []*models.Identity
	err := s.deps.Store.View(ctx, func(tx repositories.Tx) error {
		var err error
		subs, err = tx.Identities().ListSubscribers()
		return err
	})
	return subs, err
}

// DeleteSubscriber removes a subscriber with their comments, bookmarks and
// sessions, then tells them by email.
func (s *AccountService) DeleteSubscriber(ctx context.Context, actor *models.Identity, subscriberID int) error {
	if err := RequireRole(actor, models.RoleAdmin); err != nil {
		return err
	}

	var sub *models.Identity
	err := s.deps.Store.Update(ctx, func(tx repositories.Tx) error {
		var err error
		sub, err = tx.Identities().GetByID(subscriberID)
		if err != nil {
			return err
		}
		if !sub.IsSubscriber() {
			return repositories.ErrNotFound
		}
		return tx.Identities().Delete(sub.ID)
	})
	if err != nil {
		return storeErr(err, "subscriber")
	}
	s.deps.logger().InfoContext(ctx, "subscriber deleted", "subscriber", sub.ID)

	s.deps.notify(ctx, mailer.Message{
		Subject:  "Your subscription was removed",
		To:       []string{sub.Email()},
		Template: mailer.TemplateSubscriberDeleted,
		Data:     map[string]any{"Username": sub.Username},
	})
	return nil
}

// ProvisionAdmin creates the owner account. It is meant for the command
// line, not the HTTP surface.
func (s *AccountService) ProvisionAdmin(ctx context.Context, form AdminForm) (*models.Identity, error) {
	if err := checkForm(form); err != nil {
		return nil, err
	}
	hash1, err := s.deps.hashPassword(form.Password1)
	if err != nil {
		return nil, err
	}
	hash2, err := s.deps.hashPassword(form.Password2)
	if err != nil {
		return nil, err
	}

	admin := models.NewAdmin(form.Username, hash1, hash2)
	admin.CreatedAt = s.deps.now()
	if err := admin.Validate(); err != nil {
		return nil, validationf("%v", err)
	}
	err = s.deps.Store.Update(ctx, func(tx repositories.Tx) error {
		return tx.Identities().Create(admin)
	})
	if err != nil {
		return nil, storeErr(err, "username")
	}
	return admin, nil
}
