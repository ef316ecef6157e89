package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"inkwell/app/mailer"
	"inkwell/app/metrics"
	"inkwell/app/repositories"
	"inkwell/app/storage"
	"inkwell/app/tokens"
)

// Files is the part of storage.Disk the services use.
type Files interface {
	Exists(b storage.Bucket, name string) (bool, error)
	SaveAll(b storage.Bucket, uploads []storage.Upload) ([]string, error)
	Read(b storage.Bucket, name string) ([]byte, error)
	Delete(b storage.Bucket, name string) error
}

// Tokens is the part of tokens.Issuer the services use.
type Tokens interface {
	Issue(email string, intent tokens.Intent, ttl time.Duration) (string, error)
	Parse(raw string) (tokens.Claims, error)
}

// TokenTTLs sets the lifetime per token intent.
type TokenTTLs struct {
	Fresh   time.Duration
	Refresh time.Duration
	Reset   time.Duration
}

// Dependencies bundles the collaborators shared by every service.
type Dependencies struct {
	Store repositories.Store
	Files Files
	// Mail delivers messages whose failure the caller must see.
	Mail mailer.Sender
	// Notify delivers best-effort messages; its errors are only logged.
	Notify mailer.Sender
	Tokens Tokens
	TTLs   TokenTTLs

	// Authors is the closed list of names a post may be credited to.
	Authors []string
	// AdminAddress receives new comment notifications.
	AdminAddress string
	// ReservedAddresses may not be used to subscribe.
	ReservedAddresses []string
	// SenderAddress fills the To header of BCC notifications.
	SenderAddress string
	// PublicURL prefixes links in emails.
	PublicURL       string
	SessionLifetime time.Duration
	// HashCost is the bcrypt cost; zero means bcrypt.DefaultCost.
	HashCost int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func (d *Dependencies) now() time.Time {
	if d.Now == nil {
		return time.Now().UTC()
	}
	return d.Now().UTC()
}

func (d *Dependencies) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d *Dependencies) hashPassword(password string) (string, error) {
	cost := d.HashCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (d *Dependencies) isAuthor(name string) bool {
	for _, a := range d.Authors {
		if a == name {
			return true
		}
	}
	return false
}

func (d *Dependencies) link(path string) string {
	return d.PublicURL + path
}

// notify hands msg to the best-effort sender. Failures are logged and
// counted, never returned.
func (d *Dependencies) notify(ctx context.Context, msg mailer.Message) {
	if d.Notify == nil {
		return
	}
	err := d.Notify.Send(ctx, msg)
	if err != nil && !errors.Is(err, mailer.ErrClosed) {
		d.logger().WarnContext(ctx, "notification not queued", "kind", msg.Kind(), "error", err)
	}
	if err != nil {
		d.Metrics.Notification(msg.Kind(), err)
	}
}
