package core

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"reportly/internal/types"
)

// Validator wraps go-playground/validator so handlers get typed 400s with
// per-field details instead of raw validator errors.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator with struct-tag validation enabled.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	return &Validator{validate: v}
}

// ValidateStruct checks the struct's validate tags and translates failures
// into a single AppError listing every violated field.
func (v *Validator) ValidateStruct(dst interface{}) error {
	err := v.validate.Struct(dst)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "invalid validation target", err)
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	details := make(map[string]any, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[strings.ToLower(fe.Field())] = fe.Tag()
	}

	code := types.ErrCodeValidationInvalidField
	for _, fe := range fieldErrs {
		if fe.Tag() == "required" {
			code = types.ErrCodeValidationMissingField
			break
		}
	}

	return types.NewAppErrorWithDetails(code, "request validation failed", nil, details)
}
