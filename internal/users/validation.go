package users

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

const reasonInvalidInput = "invalid_input"

// signUpInput is validated after the email is normalized.
type signUpInput struct {
	Email       string `json:"email" validate:"required,max=320,email"`
	Password    string `json:"password" validate:"required,min=6,maxbytes=72"`
	DisplayName string `json:"displayName" validate:"max=120"`
}

type signInInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

var fieldReasons = map[string]string{
	"email":       "invalid_email",
	"password":    "invalid_password",
	"displayName": "invalid_display_name",
}

// validate is shared by every sign-up and sign-in call. Field names follow the JSON tags.
var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	// bcrypt rejects passwords longer than 72 bytes, so the limit is in bytes, not runes.
	if err := v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		limit, err := strconv.Atoi(fl.Param())
		if err != nil {
			return false
		}
		return len(fl.Field().String()) <= limit
	}); err != nil {
		panic(err)
	}
	return v
}()

// validateInput returns the reason code of the first failing field and a descriptive error.
func validateInput(input any) (string, error) {
	err := validate.Struct(input)
	if err == nil {
		return "", nil
	}
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return reasonInvalidInput, err
	}
	first := validationErrs[0]
	reason, ok := fieldReasons[first.Field()]
	if !ok {
		reason = reasonInvalidInput
	}
	return reason, fmt.Errorf("%s %s", first.Field(), friendlyMessage(first))
}

func friendlyMessage(fieldErr validator.FieldError) string {
	switch fieldErr.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fieldErr.Param())
	case "max":
		return fmt.Sprintf("must not exceed %s characters", fieldErr.Param())
	case "maxbytes":
		return fmt.Sprintf("must not exceed %s bytes", fieldErr.Param())
	default:
		return "is invalid"
	}
}
