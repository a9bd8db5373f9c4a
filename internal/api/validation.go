package api

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// CustomValidator plugs go-playground/validator into echo's c.Validate.
type CustomValidator struct {
	v *validator.Validate
}

func NewValidator() *CustomValidator {
	return &CustomValidator{v: validator.New()}
}

func (cv *CustomValidator) Validate(i interface{}) error { return cv.v.Struct(i) }

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ToFieldErrors turns validator errors into readable per-field messages.
func ToFieldErrors(err error) []FieldError {
	var ve validator.ValidationErrors
	if !stderrors.As(err, &ve) {
		return nil
	}
	out := make([]FieldError, 0, len(ve))
	for _, fe := range ve {
		out = append(out, FieldError{Field: jsonName(fe.Field()), Message: messageFor(fe)})
	}
	return out
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

func jsonName(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}
