package external

import (
	"context"

	"avisos/internal/types"
)

// EmailProvider transmits pre-rendered email. Failures are *types.AppError:
// email_* codes are permanent, upstream_* codes are transient.
type EmailProvider interface {
	// Send returns the provider message ID on success.
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)

	// Name identifies the provider in logs and health output.
	Name() string
}
