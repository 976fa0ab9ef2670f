package core

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avisos/internal/types"
)

func TestError_StatusFromCode(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", types.NewAppError(types.ErrCodeValidationInvalidKind, "unknown kind", nil), http.StatusBadRequest, "validation_invalid_kind"},
		{"not found", types.NewAppError(types.ErrCodeNotFoundJob, "no such job", nil), http.StatusNotFound, "not_found_job"},
		{"conflict", types.NewAppError(types.ErrCodeConflictRunInProgress, "busy", nil), http.StatusConflict, "conflict_run_in_progress"},
		{"render", types.NewAppError(types.ErrCodeRenderMissingField, "missing name", nil), http.StatusUnprocessableEntity, "render_missing_field"},
		{"mail unavailable", types.NewAppError(types.ErrCodeConfigMailUnavailable, "no relay", nil), http.StatusServiceUnavailable, "config_mail_unavailable"},
		{"wrapped", fmt.Errorf("starting: %w", types.NewAppError(types.ErrCodeNotFoundJob, "no such job", nil)), http.StatusNotFound, "not_found_job"},
		{"generic", errors.New("pq: connection reset"), http.StatusInternalServerError, "internal_unexpected_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Error(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
			assert.NotContains(t, rec.Body.String(), "connection reset")
		})
	}
}

func TestError_KeepsDetails(t *testing.T) {
	err := types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField, "name is required", nil,
		map[string]any{"fields": []string{"name"}})

	rec := httptest.NewRecorder()
	Error(rec, httptest.NewRequest(http.MethodPost, "/", nil), err)

	detail := decodeError(t, rec)
	assert.Equal(t, []any{"name"}, detail.Details["fields"])
}

func TestJSON_MarshalFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK, map[string]any{"ch": make(chan int)})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_unexpected_error", decodeError(t, rec).Code)
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Enabled *bool  `json:"enabled"`
		Name    string `json:"name"`
	}

	tests := []struct {
		name    string
		payload string
		wantMsg string
	}{
		{"valid", `{"enabled":true,"name":"x"}`, ""},
		{"empty", ``, "must not be empty"},
		{"syntax", `{"enabled":`, "JSON"},
		{"unknown field", `{"enabeld":true}`, `unknown field in request body: "enabeld"`},
		{"wrong type", `{"enabled":"yes"}`, "invalid value for field"},
		{"two values", `{"name":"a"}{"name":"b"}`, "single JSON object"},
		{"too large", `{"name":"` + strings.Repeat("a", maxRequestBodySize) + `"}`, "too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(tt.payload))
			var dst body
			err := DecodeJSON(httptest.NewRecorder(), req, &dst)

			if tt.wantMsg == "" {
				require.NoError(t, err)
				require.NotNil(t, dst.Enabled)
				assert.True(t, *dst.Enabled)
				return
			}
			var appErr *types.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, types.ErrCodeValidationInvalidJSON, appErr.Code)
			assert.Contains(t, appErr.Message, tt.wantMsg)
		})
	}
}
