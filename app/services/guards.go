package services

import (
	"fmt"

	"inkwell/app/models"
)

// RequireRole fails with ErrForbidden unless actor is authenticated and holds role.
func RequireRole(actor *models.Identity, role models.Role) error {
	if actor == nil || actor.Role != role {
		return fmt.Errorf("%w: %s only", ErrForbidden, role)
	}
	return nil
}

// RequireVerified fails with ErrUnauthorized unless actor is authenticated and
// is either an admin or a verified subscriber.
func RequireVerified(actor *models.Identity) error {
	if actor == nil {
		return fmt.Errorf("%w: log in first", ErrUnauthorized)
	}
	if !actor.CanInteract() {
		return fmt.Errorf("%w: verify your email address first", ErrUnauthorized)
	}
	return nil
}

// RequireSelf fails with ErrForbidden unless actor is the identity userID.
// Admins get no exception.
func RequireSelf(actor *models.Identity, userID int) error {
	if actor == nil || actor.ID != userID {
		return fmt.Errorf("%w: you can only change your own bookmarks", ErrForbidden)
	}
	return nil
}
