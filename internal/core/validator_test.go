package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avisos/internal/types"
)

type testSendRequest struct {
	Kind  string `json:"kind" validate:"required,notification_kind"`
	Email string `json:"email" validate:"required,email"`
	Date  string `json:"date" validate:"omitempty,calendar_date"`
}

func TestValidateStruct_Valid(t *testing.T) {
	v := NewValidator(testLogger())
	err := v.ValidateStruct(testSendRequest{Kind: "rent-due", Email: "ana@example.com", Date: "2025-04-10"})
	assert.NoError(t, err)
}

func TestValidateStruct_CollectsAllFailures(t *testing.T) {
	v := NewValidator(testLogger())
	err := v.ValidateStruct(testSendRequest{Kind: "", Email: "not-an-email", Date: "10/04/2025"})

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationMissingField, appErr.Code)
	assert.Equal(t, "kind is required", appErr.Message)

	errs, ok := appErr.Details["validation_errors"].([]ValidationError)
	require.True(t, ok)
	require.Len(t, errs, 3)
	assert.Equal(t, ValidationError{Field: "email", Code: "email", Message: "email must be a valid email address"}, errs[1])
	assert.Equal(t, "date", errs[2].Field)
}

func TestValidateStruct_DomainTags(t *testing.T) {
	v := NewValidator(testLogger())

	var appErr *types.AppError
	require.ErrorAs(t, v.ValidateStruct(testSendRequest{Kind: "anniversary", Email: "ana@example.com"}), &appErr)
	assert.Equal(t, types.ErrCodeValidationInvalidKind, appErr.Code)

	require.ErrorAs(t, v.ValidateStruct(testSendRequest{Kind: "welcome", Email: "ana@example.com", Date: "2025-02-30"}), &appErr)
	assert.Equal(t, types.ErrCodeValidationInvalidDate, appErr.Code)
}
