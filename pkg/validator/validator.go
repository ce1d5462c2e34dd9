package validator

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Validator struct {
	validate *validator.Validate
}

// NewValidator builds a struct validator that reports fields by their json
// names rather than Go field names.
func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}

		return name
	})

	return &Validator{validate: v}
}

func (v *Validator) Validate(i any) ([]ValidationError, bool) {
	err := v.validate.Struct(i)
	if err == nil {
		return nil, true
	}

	validationErrors := err.(validator.ValidationErrors)
	errors := make([]ValidationError, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		var message string
		switch fieldErr.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", fieldErr.Field())
		case "min":
			message = fmt.Sprintf("%s must be at least %s characters long", fieldErr.Field(), fieldErr.Param())
		case "max":
			message = fmt.Sprintf("%s must not exceed %s characters", fieldErr.Field(), fieldErr.Param())
		default:
			message = fmt.Sprintf("%s is invalid", fieldErr.Field())
		}

		errors = append(errors, ValidationError{
			Field:   fieldErr.Field(),
			Code:    strings.ToUpper(fieldErr.Tag()),
			Message: message,
		})
	}

	return errors, false
}
