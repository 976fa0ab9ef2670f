package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"avisos/internal/types"
)

func TestAdminKeyAuthenticator_Plaintext(t *testing.T) {
	a := NewAdminKeyAuthenticator("s3cret")
	ctx := context.Background()

	assert.NoError(t, a.Authenticate(ctx, "s3cret"))

	var appErr *types.AppError
	require.ErrorAs(t, a.Authenticate(ctx, "s3cre"), &appErr)
	assert.Equal(t, types.ErrCodeAuthTokenInvalid, appErr.Code)

	require.ErrorAs(t, a.Authenticate(ctx, ""), &appErr)
	assert.Equal(t, types.ErrCodeAuthTokenMissing, appErr.Code)
}

func TestAdminKeyAuthenticator_Bcrypt(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	a := NewAdminKeyAuthenticator(types.SecretString(hash))
	assert.NoError(t, a.Authenticate(context.Background(), "s3cret"))
	assert.Error(t, a.Authenticate(context.Background(), "wrong"))
	assert.Error(t, a.Authenticate(context.Background(), string(hash)), "the hash itself is not a credential")
}

func TestExtractBearerToken(t *testing.T) {
	assert.Equal(t, "abc", extractBearerToken("Bearer abc"))
	assert.Equal(t, "abc", extractBearerToken("bearer  abc "))
	assert.Empty(t, extractBearerToken("Basic abc"))
	assert.Empty(t, extractBearerToken("Bear"))
}

func TestAuthMiddleware_NoAuthenticatorPassesThrough(t *testing.T) {
	srv := newTestServer(t)
	called := false
	h := srv.AuthMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/notificacoes/parar", nil))
	assert.True(t, called)
}

func TestAuthMiddleware_HeaderSources(t *testing.T) {
	srv := newTestServer(t)
	srv.Authenticator = NewAdminKeyAuthenticator("s3cret")
	h := srv.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"bearer", "Authorization", "Bearer s3cret", http.StatusNoContent},
		{"api key header", "X-Api-Key", "s3cret", http.StatusNoContent},
		{"wrong key", "X-Api-Key", "nope", http.StatusUnauthorized},
		{"basic scheme", "Authorization", "Basic s3cret", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/notificacoes/status", nil)
			req.Header.Set(tt.header, tt.value)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
