package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// formatStructValidationError turns the first tag failure validator/v10
// reports into a message naming the struct field and the tag it failed,
// rather than validator's default "Key: 'Config.NodeID' Error:..." dump.
func formatStructValidationError(err error) error {
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrs) == 0 {
		return err
	}
	e := fieldErrs[0]
	switch e.Tag() {
	case "required":
		return fmt.Errorf("%s: required field is empty", e.Namespace())
	case "gt":
		return fmt.Errorf("%s: must be greater than %s", e.Namespace(), e.Param())
	case "gte":
		return fmt.Errorf("%s: must be at least %s", e.Namespace(), e.Param())
	case "lte":
		return fmt.Errorf("%s: must be at most %s", e.Namespace(), e.Param())
	case "oneof":
		return fmt.Errorf("%s: must be one of [%s]", e.Namespace(), e.Param())
	default:
		return fmt.Errorf("%s: failed validation %q", e.Namespace(), e.Tag())
	}
}

// Validator provides a fluent interface for validating configuration
// values. It collects every violation instead of failing on the first one,
// so a single Validate() call reports everything wrong with a config.
type Validator struct {
	errors []error
	name   string
}

func NewValidator(name string) *Validator {
	return &Validator{name: name, errors: make([]error, 0)}
}

func (v *Validator) Required(field, value string) *Validator {
	if value == "" {
		v.errors = append(v.errors, fmt.Errorf("%s.%s: required field is empty", v.name, field))
	}
	return v
}

func (v *Validator) RequiredDuration(field string, value time.Duration) *Validator {
	if value == 0 {
		v.errors = append(v.errors, fmt.Errorf("%s.%s: required duration is zero", v.name, field))
	}
	return v
}

func (v *Validator) MinInt(field string, value, min int) *Validator {
	if value < min {
		v.errors = append(v.errors, fmt.Errorf("%s.%s: value %d is below minimum %d", v.name, field, value, min))
	}
	return v
}

func (v *Validator) RangeInt(field string, value, min, max int) *Validator {
	if value < min || value > max {
		v.errors = append(v.errors, fmt.Errorf("%s.%s: value %d is outside range [%d, %d]", v.name, field, value, min, max))
	}
	return v
}

func (v *Validator) RangeFloat(field string, value, min, max float64) *Validator {
	if value < min || value > max {
		v.errors = append(v.errors, fmt.Errorf("%s.%s: value %f is outside range [%f, %f]", v.name, field, value, min, max))
	}
	return v
}

func (v *Validator) MinDuration(field string, value, min time.Duration) *Validator {
	if value < min {
		v.errors = append(v.errors, fmt.Errorf("%s.%s: duration %v is below minimum %v", v.name, field, value, min))
	}
	return v
}

func (v *Validator) Positive(field string, value int) *Validator {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Errorf("%s.%s: value %d must be positive", v.name, field, value))
	}
	return v
}

func (v *Validator) OneOf(field, value string, allowed []string) *Validator {
	for _, a := range allowed {
		if value == a {
			return v
		}
	}
	v.errors = append(v.errors, fmt.Errorf("%s.%s: value %q must be one of %v", v.name, field, value, allowed))
	return v
}

func (v *Validator) When(condition bool, validations func(*Validator)) *Validator {
	if condition {
		validations(v)
	}
	return v
}

func (v *Validator) HasErrors() bool { return len(v.errors) > 0 }

func (v *Validator) Validate() error {
	if len(v.errors) == 0 {
		return nil
	}
	if len(v.errors) == 1 {
		return v.errors[0]
	}
	return fmt.Errorf("%s: %d validation errors, first: %w", v.name, len(v.errors), v.errors[0])
}

// Validatable is implemented by every config struct in the engine.
type Validatable interface {
	Validate() error
}

func ValidateConfig(c Validatable) error {
	if c == nil {
		return errors.New("config cannot be nil")
	}
	return c.Validate()
}

func DefaultOrInt(value, defaultValue int) int {
	if value <= 0 {
		return defaultValue
	}
	return value
}

func DefaultOrDuration(value, defaultValue time.Duration) time.Duration {
	if value <= 0 {
		return defaultValue
	}
	return value
}
