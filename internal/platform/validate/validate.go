// Package validate wraps go-playground/validator with the custom tags used
// across the API and converts failures into apperr field errors.
package validate

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mentalspace/ehr/internal/platform/apperr"
)

var (
	clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
	phonePattern = regexp.MustCompile(`^\+[1-9]\d{9,14}$`)
)

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New()
	val.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	val.RegisterValidation("clock", validateClock)
	val.RegisterValidation("e164", validatePhone)
	val.RegisterValidation("timezone", validateTimeZone)
	return val
}

// clock accepts "HH:MM" 24-hour times.
func validateClock(fl validator.FieldLevel) bool {
	return clockPattern.MatchString(fl.Field().String())
}

func validatePhone(fl validator.FieldLevel) bool {
	return phonePattern.MatchString(fl.Field().String())
}

func validateTimeZone(fl validator.FieldLevel) bool {
	_, err := time.LoadLocation(fl.Field().String())
	return err == nil
}

// Struct validates s and returns an *apperr.Error with per-field messages.
func Struct(s interface{}) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation(err.Error())
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = message(fe)
	}
	return apperr.FieldErrors(fields)
}

// Var validates a single value against a tag.
func Var(field string, value interface{}, tag string) error {
	if err := v.Var(value, tag); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperr.FieldErrors(map[string]string{field: message(verrs[0])})
		}
		return apperr.FieldErrors(map[string]string{field: "is invalid"})
	}
	return nil
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "clock":
		return "must be a time in HH:MM format"
	case "e164":
		return "must be an E.164 phone number"
	case "timezone":
		return "must be an IANA time zone"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "datetime":
		return "must match format " + fe.Param()
	case "len":
		return "must have length " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
