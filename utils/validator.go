package utils

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	ErrValidationFailed    = errors.New("validation failed")
	ErrFieldRequired       = errors.New("field is required")
	ErrFieldPositiveAmount = errors.New("field must be a positive amount")
	ErrFieldAmountScale    = errors.New("field must have at most two decimal places")
	ErrFieldMin            = errors.New("field below minimum")
	ErrFieldMax            = errors.New("field above maximum")
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
	errValidate  error
)

func initValidators() (*validator.Validate, error) {
	vld := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON name.
	vld.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	// String amounts are checked here; empty strings are left to required.
	if err := vld.RegisterValidation("positive_amount", func(fl validator.FieldLevel) bool {
		str := fl.Field().String()
		if str == "" {
			return true
		}
		d, err := decimal.NewFromString(str)
		return err == nil && d.IsPositive()
	}); err != nil {
		return nil, fmt.Errorf("register positive_amount: %w", err)
	}
	if err := vld.RegisterValidation("cents", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		if err != nil {
			return true
		}
		return d.Equal(d.Truncate(2))
	}); err != nil {
		return nil, fmt.Errorf("register cents: %w", err)
	}
	return vld, nil
}

func getValidator() (*validator.Validate, error) {
	validateOnce.Do(func() {
		validate, errValidate = initValidators()
	})
	return validate, errValidate
}

// ValidateStruct runs the `validate` tags of payload and returns the first
// failure as a readable error.
func ValidateStruct(payload interface{}) error {
	vld, err := getValidator()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	if err := vld.Struct(payload); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return formatFieldError(fieldErrs[0])
		}
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	return nil
}

func formatFieldError(fe validator.FieldError) error {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: '%s'", ErrFieldRequired, field)
	case "positive_amount":
		return fmt.Errorf("%w: '%s'", ErrFieldPositiveAmount, field)
	case "cents":
		return fmt.Errorf("%w: '%s'", ErrFieldAmountScale, field)
	case "min", "gte":
		return fmt.Errorf("%w: '%s' must be at least %s", ErrFieldMin, field, fe.Param())
	case "max", "lte":
		return fmt.Errorf("%w: '%s' must be at most %s", ErrFieldMax, field, fe.Param())
	}
	return fmt.Errorf("%w: '%s' failed '%s' check", ErrValidationFailed, field, fe.Tag())
}
