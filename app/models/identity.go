package models

import (
	"errors"
	"strings"
	"time"
)

// NewAdmin builds an admin identity from two already hashed passwords.
func NewAdmin(username, password1Hash, password2Hash string) *Identity {
	return &Identity{
		Username: username,
		Role:     RoleAdmin,
		Verified: true,
		Admin: &AdminCredentials{
			Password1Hash: password1Hash,
			Password2Hash: password2Hash,
		},
	}
}

// NewSubscriber builds an unverified subscriber identity.
func NewSubscriber(username, email, passwordHash string) *Identity {
	return &Identity{
		Username: username,
		Role:     RoleSubscriber,
		Subscriber: &SubscriberProfile{
			Email:        strings.ToLower(strings.TrimSpace(email)),
			PasswordHash: passwordHash,
		},
	}
}

// Validate checks the identity fields and the role-specific part
func (i *Identity) Validate() error {
	if err := validate.Struct(i); err != nil {
		return err
	}
	if i.CreatedAt.IsZero() {
		return errors.New("created_at cannot be zero")
	}
	return nil
}

// BeforeCreate sets up any necessary fields before creation
func (i *Identity) BeforeCreate() {
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
}

// IsAdmin reports whether the identity holds the admin role.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// IsSubscriber reports whether the identity holds the subscriber role.
func (i *Identity) IsSubscriber() bool {
	return i != nil && i.Role == RoleSubscriber
}

// CanInteract reports whether the identity may comment or bookmark.
// Admins have no verification step.
func (i *Identity) CanInteract() bool {
	if i == nil {
		return false
	}
	return i.IsAdmin() || i.Verified
}

// Email returns the subscriber address, or "" for admins.
func (i *Identity) Email() string {
	if i == nil || i.Subscriber == nil {
		return ""
	}
	return i.Subscriber.Email
}
