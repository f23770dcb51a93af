package http

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/calyxpay/lib-offers/offers/transfer"
)

// ErrValidatorInit is returned when validator initialization fails.
var ErrValidatorInit = errors.New("validator initialization failed")

var (
	validate     *validator.Validate
	validateOnce sync.Once
	errValidate  error
)

// initValidators creates and configures the validator with custom rules.
func initValidators() (*validator.Validate, error) {
	vld := validator.New(validator.WithRequiredStructEnabled())

	// Account identifiers are opaque but must be printable and bounded.
	if err := vld.RegisterValidation("account", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		if value == "" {
			return true // required handles empty separately
		}

		if len(value) > 128 {
			return false
		}

		return !strings.ContainsAny(value, " \t\r\n/")
	}); err != nil {
		return nil, fmt.Errorf("%w: failed to register 'account': %w", ErrValidatorInit, err)
	}

	return vld, nil
}

// GetValidator returns the singleton validator instance.
func GetValidator() (*validator.Validate, error) {
	validateOnce.Do(func() {
		validate, errValidate = initValidators()
	})

	return validate, errValidate
}

// ParseAndValidate parses the JSON request body into dst and validates it.
// Failures come back as domain invalid-input errors naming the first
// offending field, ready for WithError.
func ParseAndValidate(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return transfer.NewDomainError(transfer.ErrorInvalidInput, "body", "malformed JSON request body")
	}

	vld, err := GetValidator()
	if err != nil {
		return err
	}

	if err := vld.Struct(dst); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return transfer.NewDomainError(transfer.ErrorInvalidInput, "", "request body is not validatable")
		}

		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			first := fieldErrs[0]

			return transfer.NewDomainError(
				transfer.ErrorInvalidInput,
				first.Field(),
				fmt.Sprintf("field %s failed on the '%s' rule", first.Field(), first.Tag()),
			)
		}

		return transfer.NewDomainError(transfer.ErrorInvalidInput, "", "request body failed validation")
	}

	return nil
}
