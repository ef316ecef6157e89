package services

import (
	"errors"
	"fmt"

	"inkwell/app/repositories"
	"inkwell/app/tokens"
)

// Error categories surfaced to callers. Wrapped errors carry a user facing
// message after the category, e.g. "validation failed: rating is required".
var (
	ErrValidation         = errors.New("validation failed")
	ErrUnauthorized       = errors.New("authentication required")
	ErrForbidden          = errors.New("access denied")
	ErrConflict           = errors.New("conflict")
	ErrNotFound           = errors.New("not found")
	ErrInvalidToken       = errors.New("invalid token, try again")
	ErrInvalidCredentials = errors.New("incorrect username or password")
	ErrMailDelivery       = errors.New("email could not be delivered")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func notFound(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

// storeErr maps repository sentinels onto service categories and leaves
// anything else untouched.
func storeErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrNotFound):
		return notFound(what)
	case errors.Is(err, repositories.ErrDuplicate):
		return conflictf("%s already exists", what)
	case errors.Is(err, tokens.ErrInvalidToken):
		return ErrInvalidToken
	}
	return err
}
