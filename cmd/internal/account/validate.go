package account

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

func validateEmail(email string) error {
	return validation.Validate(email,
		validation.Required.Error("email is required"),
		validation.Length(3, 254),
		is.Email.Error("please enter a valid email address"),
	)
}
