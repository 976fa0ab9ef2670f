// Package email renders notification templates and delivers the result
// through an external.EmailProvider, classifying failures as transient or
// permanent.
package email

import (
	"context"
	"errors"

	"avisos/internal/types"
)

// Classify maps a send or render error to a failure class and code. Unknown
// errors are transient: the next run may succeed.
func Classify(err error) (types.FailureClass, types.ErrorCode) {
	if err == nil {
		return types.FailureNone, ""
	}
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		if appErr.Code.IsPermanentDelivery() {
			return types.FailurePermanent, appErr.Code
		}
		return types.FailureTransient, appErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.FailureTransient, types.ErrCodeUpstreamTimeout
	}
	return types.FailureTransient, types.ErrCodeUpstreamUnavailable
}

// IsPermanent reports whether err will fail again on retry.
func IsPermanent(err error) bool {
	class, _ := Classify(err)
	return class == types.FailurePermanent
}
