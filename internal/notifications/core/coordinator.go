package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"avisos/internal/types"
)

const defaultConcurrency = 5

// CoordinatorConfig holds the collaborators of a Coordinator.
type CoordinatorConfig struct {
	Ledger      Ledger
	Renderer    Renderer
	Sender      Sender
	Metrics     NotificationMetrics
	Clock       types.Clock
	Location    *time.Location
	Concurrency int
	Retry       RetryPolicy
	Logger      types.Logger
}

// Coordinator executes job runs. It is stateless between runs and safe for
// concurrent use by different jobs.
type Coordinator struct {
	ledger      Ledger
	renderer    Renderer
	sender      Sender
	metrics     NotificationMetrics
	clock       types.Clock
	loc         *time.Location
	concurrency int
	retry       RetryPolicy
	logger      types.Logger
}

// NewCoordinator applies defaults for optional fields.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	c := &Coordinator{
		ledger:      cfg.Ledger,
		renderer:    cfg.Renderer,
		sender:      cfg.Sender,
		metrics:     cfg.Metrics,
		clock:       cfg.Clock,
		loc:         cfg.Location,
		concurrency: cfg.Concurrency,
		retry:       cfg.Retry,
		logger:      cfg.Logger,
	}
	if c.metrics == nil {
		c.metrics = NopMetrics{}
	}
	if c.clock == nil {
		c.clock = types.RealClock{}
	}
	if c.loc == nil {
		c.loc = time.UTC
	}
	if c.concurrency <= 0 {
		c.concurrency = defaultConcurrency
	}
	if c.retry.Cap <= 0 {
		c.retry = DefaultRetryPolicy()
	}
	if c.logger == nil {
		c.logger = types.NopLogger{}
	}
	return c
}

// Today returns the current calendar day in the configured location.
func (c *Coordinator) Today() time.Time {
	return types.DayStart(c.clock.Now().In(c.loc))
}

// outcome is the per-candidate result folded into the report.
type outcome struct {
	result    MetricResult
	attention bool
	failure   *types.CandidateFailure
}

// Run performs one pass for the evaluator's kind. A candidate failure never
// aborts the batch; the report counts every candidate exactly once.
func (c *Coordinator) Run(ctx context.Context, jobID string, trigger types.RunTrigger, ev Evaluator) types.RunReport {
	report := types.RunReport{
		JobID:     jobID,
		Trigger:   trigger,
		StartedAt: c.clock.Now(),
	}
	logger := c.logger.With("job", jobID, "trigger", string(trigger))
	if runID := types.GetRunID(ctx); runID != "" {
		logger = logger.With("run_id", runID)
	}

	candidates, diagnostics, err := ev.Evaluate(ctx, c.Today())
	report.Diagnostics = diagnostics
	if err != nil {
		report.Status = types.RunFailed
		report.Error = err.Error()
		logger.Error("evaluation failed", "kind", string(ev.Kind()), "error", err.Error())
		return c.finish(ctx, logger, report)
	}

	candidates = dedupe(candidates)
	report.Candidates = len(candidates)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(c.concurrency)
	for _, cand := range candidates {
		g.Go(func() error {
			o := c.dispatch(ctx, logger, cand)
			c.metrics.RecordDelivery(ctx, cand.Kind, o.result)

			mu.Lock()
			defer mu.Unlock()
			switch o.result {
			case MetricSuccess:
				report.Sent++
			case MetricSkipped:
				report.Skipped++
			case MetricFailed:
				report.Failed++
			}
			if o.attention {
				report.Attention = append(report.Attention, cand.Key())
			}
			if o.failure != nil {
				report.Failures = append(report.Failures, *o.failure)
			}
			return nil
		})
	}
	_ = g.Wait()

	return c.finish(ctx, logger, report)
}

func (c *Coordinator) finish(ctx context.Context, logger types.Logger, report types.RunReport) types.RunReport {
	report.Finalize(c.clock.Now())
	c.metrics.RecordRun(ctx, report.JobID, report.Status)
	logger.Info("job run finished",
		"status", string(report.Status),
		"candidates", report.Candidates,
		"sent", report.Sent,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"diagnostics", len(report.Diagnostics),
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	)
	return report
}

// dispatch handles one candidate: ledger check, render, send, record.
func (c *Coordinator) dispatch(ctx context.Context, logger types.Logger, cand types.Candidate) outcome {
	key := cand.Key()

	entry, err := c.ledger.Lookup(ctx, key)
	if err != nil {
		logger.Error("ledger lookup failed", "key", key.String(), "error", err.Error())
		return failedOutcome(key, types.FailureTransient, types.ErrCodeInternalDB, err.Error())
	}

	switch entry.Status {
	case types.LedgerSent:
		return outcome{result: MetricSkipped}
	case types.LedgerFailed:
		if entry.Permanent || c.retry.Exhausted(entry.Attempts) {
			return outcome{result: MetricSkipped, attention: true}
		}
	}

	if err := ctx.Err(); err != nil {
		// Cancelled before sending: leave the ledger untouched so the next run
		// retries without spending an attempt.
		return failedOutcome(key, types.FailureTransient, types.ErrCodeUpstreamTimeout, "run cancelled before send")
	}

	attempts := entry.Attempts + 1
	next := types.LedgerEntry{
		LedgerKey:  key,
		EntityType: cand.EntityType,
		Attempts:   attempts,
	}

	msg, err := c.renderer.Render(cand.Kind, cand.Payload)
	if err != nil {
		code := types.ErrCodeRenderFailed
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			code = appErr.Code
		}
		next.Status = types.LedgerFailed
		next.Permanent = true
		next.ErrorReason = err.Error()
		_ = c.record(ctx, logger, next)
		return failedOutcome(key, types.FailurePermanent, code, err.Error())
	}

	started := time.Now()
	res := c.sender.Send(ctx, cand.Recipient, msg, key.String())
	c.metrics.RecordLatency(ctx, cand.Kind, time.Since(started))

	if res.Delivered {
		sentAt := c.clock.Now()
		next.Status = types.LedgerSent
		next.SentAt = &sentAt
		if err := c.record(ctx, logger, next); err != nil {
			// Delivered but unrecorded: the next run will send again.
			return outcome{
				result: MetricSuccess,
				failure: &types.CandidateFailure{
					Key:    key,
					Class:  types.FailureTransient,
					Code:   types.ErrCodeInternalDB,
					Reason: "delivered but not recorded in the ledger: " + err.Error(),
				},
			}
		}
		return outcome{result: MetricSuccess}
	}

	next.Status = types.LedgerFailed
	next.ErrorReason = res.Reason
	next.Permanent = res.Class == types.FailurePermanent || c.retry.Exhausted(attempts)
	_ = c.record(ctx, logger, next)

	class := res.Class
	if class == types.FailureNone {
		class = types.FailureTransient
	}
	return failedOutcome(key, class, res.Code, res.Reason)
}

// record writes to the ledger on a context detached from run cancellation:
// an outcome that happened must be persisted even if the run is stopping.
func (c *Coordinator) record(ctx context.Context, logger types.Logger, entry types.LedgerEntry) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := c.ledger.Record(writeCtx, entry)
	if err != nil {
		logger.Error("ledger record failed",
			"key", entry.LedgerKey.String(),
			"status", string(entry.Status),
			"error", err.Error(),
		)
	}
	return err
}

func failedOutcome(key types.LedgerKey, class types.FailureClass, code types.ErrorCode, reason string) outcome {
	return outcome{
		result:  MetricFailed,
		failure: &types.CandidateFailure{Key: key, Class: class, Code: code, Reason: reason},
	}
}

// dedupe drops repeated keys so one run never sends twice for the same key.
func dedupe(in []types.Candidate) []types.Candidate {
	seen := make(map[types.LedgerKey]struct{}, len(in))
	out := in[:0:0]
	for _, c := range in {
		k := c.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}
	return out
}
