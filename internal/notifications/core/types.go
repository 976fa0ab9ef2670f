// Package core runs one job pass: it evaluates candidates, filters them
// through the notification ledger, renders and sends the survivors through a
// bounded worker pool and aggregates a run report.
package core

import (
	"context"
	"time"

	"avisos/internal/types"
)

// Ledger is the durable dedup record of dispatch outcomes.
type Ledger interface {
	// Lookup returns the entry for key, with Status LedgerAbsent when none
	// exists.
	Lookup(ctx context.Context, key types.LedgerKey) (types.LedgerEntry, error)

	// Record upserts the entry. An existing sent entry is never overwritten.
	Record(ctx context.Context, entry types.LedgerEntry) error

	// ListAttention returns permanently failed entries, newest first.
	ListAttention(ctx context.Context, limit int) ([]types.LedgerEntry, error)
}

// Renderer turns a payload into a message.
type Renderer interface {
	Render(kind types.NotificationKind, payload types.Payload) (*types.RenderedMessage, error)
}

// Sender delivers a rendered message and classifies the outcome.
type Sender interface {
	Send(ctx context.Context, to types.Recipient, msg *types.RenderedMessage, referenceID string) types.DeliveryResult
}

// Evaluator computes the candidates of one notification kind for a calendar
// day. Entities lacking required data are reported as diagnostics.
type Evaluator interface {
	Kind() types.NotificationKind
	Evaluate(ctx context.Context, today time.Time) ([]types.Candidate, []types.Diagnostic, error)
}

// MetricResult categorizes a candidate outcome for metrics.
type MetricResult string

const (
	MetricSuccess MetricResult = "success"
	MetricFailed  MetricResult = "failed"
	MetricSkipped MetricResult = "skipped"
)

// NotificationMetrics receives dispatch telemetry. Implementations must not
// block the caller on export failures.
type NotificationMetrics interface {
	RecordDelivery(ctx context.Context, kind types.NotificationKind, result MetricResult)
	RecordLatency(ctx context.Context, kind types.NotificationKind, d time.Duration)
	RecordRun(ctx context.Context, jobID string, status types.RunStatus)
}

// RetryPolicy bounds same-period retries of failed candidates.
type RetryPolicy struct {
	// Cap is the number of attempts after which a failed key is permanent.
	Cap int
}

// DefaultRetryPolicy allows three attempts.
func DefaultRetryPolicy() RetryPolicy { return RetryPolicy{Cap: 3} }

// Exhausted reports whether attempts have used up the cap.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return p.Cap > 0 && attempts >= p.Cap
}

// NopMetrics discards all telemetry.
type NopMetrics struct{}

func (NopMetrics) RecordDelivery(context.Context, types.NotificationKind, MetricResult) {}
func (NopMetrics) RecordLatency(context.Context, types.NotificationKind, time.Duration) {}
func (NopMetrics) RecordRun(context.Context, string, types.RunStatus)                   {}

var _ NotificationMetrics = NopMetrics{}
