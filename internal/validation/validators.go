package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// Validate is a shared validator instance
	Validate *validator.Validate

	// mainland mobile numbers: 11 digits starting with 1[3-9]
	phonePattern = regexp.MustCompile(`^1[3-9]\d{9}$`)
)

func init() {
	Validate = validator.New()

	if err := Validate.RegisterValidation("phone", validatePhone); err != nil {
		panic(fmt.Sprintf("failed to register phone validator: %v", err))
	}
}

func validatePhone(fl validator.FieldLevel) bool {
	return phonePattern.MatchString(fl.Field().String())
}

// Struct validates s and flattens the result into one readable error
func Struct(s any) error {
	err := Validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("invalid input: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "phone":
		return field + " must be an 11-digit mobile number"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "email":
		return field + " must be a valid email address"
	case "nefield":
		return field + " must differ from the current value"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
