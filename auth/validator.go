package auth

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/IvanOplesnin/TCPLocalChat/errors"
)

var validate = validator.New()

// Credentials are the registration inputs subject to business rules.
// Rules are deliberately loose; the hard limits only keep records bounded.
type Credentials struct {
	Username string `validate:"required,min=1,max=32,excludesall= "`
	Password string `validate:"required,min=1,max=72"`
}

func ValidateCredentials(username, password string) error {
	if err := validate.Struct(Credentials{Username: username, Password: password}); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidCredentials, err)
	}
	return nil
}
