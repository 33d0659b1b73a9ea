package validation

import (
	"github.com/go-playground/validator/v10"
	"github.com/templui/pledge/internal/apperr"
)

const EmailMaxLength = 254

var emailValidator = validator.New()

// ValidateEmail checks an identity email claim before it is stored.
func ValidateEmail(email string) error {
	if email == "" {
		return apperr.Invalid("email", "Email address is required")
	}
	if len(email) > EmailMaxLength {
		return apperr.Invalid("email", "Email address is too long")
	}
	if err := emailValidator.Var(email, "email"); err != nil {
		return apperr.Invalid("email", "Invalid email address format")
	}
	return nil
}
