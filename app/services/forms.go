package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"inkwell/app/models"
)

// SignupForm is what a visitor submits to subscribe.
type SignupForm struct {
	Username        string `json:"username" validate:"required,max=75,username"`
	Email           string `json:"email" validate:"required,email,max=75"`
	Password        string `json:"password" validate:"required,min=6,max=70"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

// LoginForm accepts either a username or an email address as Identifier.
type LoginForm struct {
	Identifier string `json:"identifier" validate:"required,max=75"`
	Password   string `json:"password" validate:"required,max=70"`
}

type AdminSignInForm struct {
	Username  string `json:"username" validate:"required,max=75"`
	Password1 string `json:"password1" validate:"required,max=70"`
	Password2 string `json:"password2" validate:"required,max=70"`
}

// AdminForm provisions the owner account.
type AdminForm struct {
	Username  string `json:"username" validate:"required,max=75,username"`
	Password1 string `json:"password1" validate:"required,min=6,max=70"`
	Password2 string `json:"password2" validate:"required,min=6,max=70"`
}

type ResetForm struct {
	Password        string `json:"password" validate:"required,min=6,max=70"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

// checkForm validates a tagged form and reports the first failing field as
// an ErrValidation with a readable message.
func checkForm(form any) error {
	err := models.ValidateStruct(form)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return validationf("%s", describeField(verrs[0]))
}

func describeField(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "email":
		return "invalid email address"
	case "username":
		return `username cannot contain any of % + = \ : ; " < > ? /`
	case "eqfield":
		return "passwords do not match"
	}
	return field + " is invalid"
}
