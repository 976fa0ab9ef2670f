package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"avisos/internal/types"
)

// ValidationError describes one failed field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Validator wraps go-playground/validator with the domain tags:
//
//	notification_kind  value is one of types.AllKinds
//	calendar_date      value parses as YYYY-MM-DD
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator builds a Validator that reports fields by their JSON names.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	if err := v.RegisterValidation("notification_kind", func(fl validator.FieldLevel) bool {
		return types.NotificationKind(fl.Field().String()).Valid()
	}); err != nil {
		logger.Error("registering notification_kind validation", "error", err)
	}
	if err := v.RegisterValidation("calendar_date", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(time.DateOnly, fl.Field().String())
		return err == nil
	}); err != nil {
		logger.Error("registering calendar_date validation", "error", err)
	}

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct returns nil or an *types.AppError whose code reflects the
// first failing field and whose details list every failure under
// "validation_errors".
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		v.logger.Error("struct validation failed unexpectedly", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Code:    fe.Tag(),
			Message: fieldMessage(fe),
		})
	}

	first := fieldErrs[0]
	return types.NewAppErrorWithDetails(
		codeForTag(first.Tag()),
		fieldMessage(first),
		err,
		map[string]any{"validation_errors": out},
	)
}

func codeForTag(tag string) types.ErrorCode {
	switch tag {
	case "required":
		return types.ErrCodeValidationMissingField
	case "email":
		return types.ErrCodeValidationInvalidEmail
	case "notification_kind":
		return types.ErrCodeValidationInvalidKind
	case "calendar_date":
		return types.ErrCodeValidationInvalidDate
	case "gt", "gte", "min":
		return types.ErrCodeValidationInvalidAmount
	default:
		return types.ErrCodeValidationInvalidField
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "notification_kind":
		return fmt.Sprintf("%s is not a known notification kind", fe.Field())
	case "calendar_date":
		return fmt.Sprintf("%s must be a date in YYYY-MM-DD format", fe.Field())
	case "gt", "gte", "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
