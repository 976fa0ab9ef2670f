package core

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"avisos/internal/types"
)

// Authenticator decides whether a presented credential grants access to the
// control surface.
type Authenticator interface {
	// Authenticate returns nil for a valid token and an *types.AppError with
	// an auth_ code otherwise.
	Authenticate(ctx context.Context, token string) error
}

// AdminKeyAuthenticator checks tokens against the configured admin key. The
// key may be stored as plaintext or as a bcrypt hash.
type AdminKeyAuthenticator struct {
	key    []byte
	hashed bool
}

// NewAdminKeyAuthenticator returns an authenticator for key. A key beginning
// with "$2" is treated as a bcrypt hash.
func NewAdminKeyAuthenticator(key types.SecretString) *AdminKeyAuthenticator {
	raw := key.Unmask()
	return &AdminKeyAuthenticator{
		key:    []byte(raw),
		hashed: strings.HasPrefix(raw, "$2"),
	}
}

// Authenticate implements Authenticator.
func (a *AdminKeyAuthenticator) Authenticate(_ context.Context, token string) error {
	if token == "" {
		return types.NewAppError(types.ErrCodeAuthTokenMissing, "admin key is required", nil)
	}

	if a.hashed {
		err := bcrypt.CompareHashAndPassword(a.key, []byte(token))
		if err == nil {
			return nil
		}
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid admin key", err)
		}
	} else if subtle.ConstantTimeCompare(a.key, []byte(token)) == 1 {
		return nil
	}
	return types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid admin key", nil)
}

// AuthMiddleware requires a valid admin credential, read from a Bearer
// Authorization header or the X-Api-Key header. With no Authenticator
// configured it passes requests through.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil {
			next.ServeHTTP(w, r)
			return
		}

		token := extractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = strings.TrimSpace(r.Header.Get("X-Api-Key"))
		}

		if err := s.Authenticator.Authenticate(r.Context(), token); err != nil {
			s.writeAuthError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractBearerToken returns the token of a "Bearer <token>" header value,
// matching the scheme case-insensitively.
func extractBearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// writeAuthError always answers 401, collapsing unexpected errors into
// auth_token_invalid.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	code := types.ErrCodeAuthTokenInvalid
	message := "invalid admin key"

	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Code == types.ErrCodeAuthTokenMissing {
		code = appErr.Code
		message = appErr.Message
	}

	s.Logger.WarnContext(r.Context(), "authentication failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error_code", string(code)),
	)

	JSON(w, r, http.StatusUnauthorized, APIErrorResponse{Error: ErrorDetail{
		Code:      string(code),
		Message:   message,
		RequestID: types.GetRequestID(r.Context()),
	}})
}
