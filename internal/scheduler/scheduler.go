package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"avisos/internal/notifications/core"
	"avisos/internal/types"
)

// Dispatcher executes one job run. *core.Coordinator satisfies it.
type Dispatcher interface {
	Run(ctx context.Context, jobID string, trigger types.RunTrigger, ev core.Evaluator) types.RunReport
}

// RunLock extends the per-job guard across instances. Implementations live
// in the locks package.
type RunLock interface {
	TryAcquire(ctx context.Context, jobID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, jobID string) error
}

// HistoryStore persists finished runs. *db.JobHistoryRepository satisfies it.
type HistoryStore interface {
	Save(ctx context.Context, report types.RunReport) error
	LatestRuns(ctx context.Context) ([]types.RunReport, error)
}

// AttentionSource lists permanently failed ledger entries.
type AttentionSource interface {
	ListAttention(ctx context.Context, limit int) ([]types.LedgerEntry, error)
}

// Timer is the part of *time.Timer the loops use.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// TimerFactory creates a timer firing after d.
type TimerFactory func(d time.Duration) Timer

type realTimer struct{ t *time.Timer }

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop() bool          { return r.t.Stop() }

// NewRealTimer is the production TimerFactory.
func NewRealTimer(d time.Duration) Timer { return realTimer{time.NewTimer(d)} }

const (
	defaultLockTTL        = 15 * time.Minute
	bookkeepingTimeout    = 5 * time.Second
	defaultAttentionLimit = 50
)

// Config holds the collaborators of a Scheduler.
type Config struct {
	Jobs       []Job
	Evaluators map[types.NotificationKind]core.Evaluator
	Dispatcher Dispatcher

	// Unavailable, when set, is returned by Start and TriggerManual: the
	// delivery channel could not be built.
	Unavailable error

	Lock      RunLock
	LockTTL   time.Duration
	History   HistoryStore
	Attention AttentionSource

	Clock    types.Clock
	Location *time.Location
	NewTimer TimerFactory
	Logger   *slog.Logger
}

// jobState is the mutable runtime state of one job.
type jobState struct {
	Job
	schedule cron.Schedule

	// guard admits one in-flight run per job. Scheduled ticks and manual
	// triggers share it.
	guard sync.Mutex

	// Protected by Scheduler.mu.
	cancel           context.CancelFunc
	inFlight         bool
	nextRunAt        *time.Time
	lastRunAt        *time.Time
	lastResult       *types.RunReport
	lastManualRunAt  *time.Time
	lastManualResult *types.RunReport
}

// Scheduler arms one timer loop per enabled job while running. It is
// constructed once in main and shared with the HTTP handlers.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	mu        sync.Mutex
	jobs      []*jobState
	byID      map[string]*jobState
	running   bool
	startedAt *time.Time

	// runCtx outlives Start's caller. It is cancelled only when Stop gives
	// up waiting for in-flight runs.
	runCtx    context.Context
	runCancel context.CancelFunc

	loops sync.WaitGroup
	runs  sync.WaitGroup
}

// New validates the job registry and compiles every cadence.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("scheduler: dispatcher is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.NewTimer == nil {
		cfg.NewTimer = NewRealTimer
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{cfg: cfg, logger: logger, byID: make(map[string]*jobState, len(cfg.Jobs))}
	for _, j := range cfg.Jobs {
		if _, dup := s.byID[j.ID]; dup {
			return nil, fmt.Errorf("scheduler: duplicate job %q", j.ID)
		}
		if _, ok := cfg.Evaluators[j.Kind]; !ok {
			return nil, fmt.Errorf("scheduler: no evaluator for job %q (kind %s)", j.ID, j.Kind)
		}
		sched, err := compile(j.Cadence)
		if err != nil {
			return nil, fmt.Errorf("scheduler: job %q: %w", j.ID, err)
		}
		js := &jobState{Job: j, schedule: sched}
		s.jobs = append(s.jobs, js)
		s.byID[j.ID] = js
	}
	return s, nil
}

// Restore loads the last scheduled and manual result of every job from the
// history store. Unknown job IDs are ignored.
func (s *Scheduler) Restore(ctx context.Context) error {
	if s.cfg.History == nil {
		return nil
	}
	reports, err := s.cfg.History.LatestRuns(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range reports {
		if js, ok := s.byID[reports[i].JobID]; ok {
			s.applyResult(js, reports[i])
		}
	}
	return nil
}

// Start arms one loop per enabled job. Calling Start while running is a
// no-op. Nothing runs immediately.
func (s *Scheduler) Start(ctx context.Context) (types.SchedulerState, error) {
	if s.cfg.Unavailable != nil {
		return s.Status(ctx), s.cfg.Unavailable
	}
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return s.Status(ctx), nil
	}
	now := s.cfg.Clock.Now()
	s.running = true
	s.startedAt = &now
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	for _, js := range s.jobs {
		if js.Enabled {
			s.armLocked(js)
		}
	}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "scheduler started", "jobs", s.enabledIDs())
	return s.Status(ctx), nil
}

// Stop cancels every loop and waits for in-flight scheduled runs to finish.
// When ctx ends first the runs are cancelled and ctx's error is returned.
// Calling Stop while stopped is a no-op.
func (s *Scheduler) Stop(ctx context.Context) (types.SchedulerState, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return s.Status(ctx), nil
	}
	s.running = false
	s.startedAt = nil
	for _, js := range s.jobs {
		s.disarmLocked(js)
	}
	runCancel := s.runCancel
	s.mu.Unlock()

	s.loops.Wait()

	drained := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "stop deadline reached, cancelling in-flight runs")
		runCancel()
		<-drained
		err = ctx.Err()
	}
	runCancel()

	s.logger.InfoContext(ctx, "scheduler stopped")
	return s.Status(ctx), err
}

// Running reports whether the loops are armed.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns a snapshot of the scheduler and of every job. The attention
// list is best effort: a failing source is logged and omitted.
func (s *Scheduler) Status(ctx context.Context) types.SchedulerState {
	s.mu.Lock()
	state := types.SchedulerState{Running: s.running, StartedAt: copyTime(s.startedAt)}
	state.Jobs = make([]types.JobStatus, 0, len(s.jobs))
	for _, js := range s.jobs {
		state.Jobs = append(state.Jobs, s.jobStatusLocked(js))
	}
	s.mu.Unlock()

	if s.cfg.Attention != nil {
		entries, err := s.cfg.Attention.ListAttention(ctx, defaultAttentionLimit)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to list attention entries", "error", err)
		} else {
			state.Attention = entries
		}
	}
	return state
}

// SetEnabled toggles one job. While running, disabling cancels only that
// job's loop and enabling arms only that job's loop.
func (s *Scheduler) SetEnabled(ctx context.Context, id string, enabled bool) (types.JobStatus, error) {
	s.mu.Lock()
	js, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return types.JobStatus{}, types.NewAppError(types.ErrCodeNotFoundJob, fmt.Sprintf("job %q not found", id), nil)
	}
	if js.Enabled != enabled {
		js.Enabled = enabled
		if s.running {
			if enabled {
				s.armLocked(js)
			} else {
				s.disarmLocked(js)
			}
		}
	}
	status := s.jobStatusLocked(js)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "job toggled", "job", id, "enabled", enabled)
	return status, nil
}

// TriggerManual runs every enabled job once, concurrently across jobs, and
// returns when all have finished. It ignores cadence and running state. A
// job already in flight is reported as busy.
func (s *Scheduler) TriggerManual(ctx context.Context) ([]types.RunReport, error) {
	if s.cfg.Unavailable != nil {
		return nil, s.cfg.Unavailable
	}

	s.mu.Lock()
	var targets []*jobState
	for _, js := range s.jobs {
		if js.Enabled {
			targets = append(targets, js)
		}
	}
	s.mu.Unlock()

	reports := make([]types.RunReport, len(targets))
	var g errgroup.Group
	for i, js := range targets {
		g.Go(func() error {
			reports[i] = s.execute(ctx, js, types.TriggerManual)
			return nil
		})
	}
	_ = g.Wait()
	return reports, nil
}

// armLocked starts the loop of js. Callers hold s.mu.
func (s *Scheduler) armLocked(js *jobState) {
	if js.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(s.runCtx)
	js.cancel = cancel
	s.loops.Add(1)
	go s.loop(loopCtx, s.runCtx, js)
}

// disarmLocked cancels the loop of js. Callers hold s.mu.
func (s *Scheduler) disarmLocked(js *jobState) {
	if js.cancel == nil {
		return
	}
	js.cancel()
	js.cancel = nil
	js.nextRunAt = nil
}

// loop sleeps until each fire time and hands the run to its own goroutine
// so the next tick is armed while the run is in progress.
func (s *Scheduler) loop(ctx, runCtx context.Context, js *jobState) {
	defer s.loops.Done()
	for {
		now := s.cfg.Clock.Now()
		next := js.schedule.Next(now.In(s.cfg.Location))

		s.mu.Lock()
		if ctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		js.nextRunAt = &next
		s.mu.Unlock()

		timer := s.cfg.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
		}

		s.runs.Add(1)
		go func() {
			defer s.runs.Done()
			s.execute(runCtx, js, types.TriggerScheduled)
		}()
	}
}

// execute runs js once under its guard and records the outcome.
func (s *Scheduler) execute(ctx context.Context, js *jobState, trigger types.RunTrigger) types.RunReport {
	if !js.guard.TryLock() {
		s.logger.WarnContext(ctx, "job already running, skipping", "job", js.ID, "trigger", string(trigger))
		return s.busyReport(js, trigger)
	}
	defer js.guard.Unlock()

	if s.cfg.Lock != nil {
		acquired, err := s.cfg.Lock.TryAcquire(ctx, js.ID, s.cfg.LockTTL)
		if err != nil {
			s.logger.ErrorContext(ctx, "run lock unavailable", "job", js.ID, "error", err)
			report := s.emptyReport(js, trigger)
			report.Status = types.RunFailed
			report.Error = err.Error()
			s.finish(ctx, js, report)
			return report
		}
		if !acquired {
			s.logger.WarnContext(ctx, "job running on another instance, skipping", "job", js.ID, "trigger", string(trigger))
			return s.busyReport(js, trigger)
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
			defer cancel()
			if err := s.cfg.Lock.Release(releaseCtx, js.ID); err != nil {
				s.logger.WarnContext(ctx, "failed to release run lock", "job", js.ID, "error", err)
			}
		}()
	}

	s.setInFlight(js, true)
	defer s.setInFlight(js, false)

	report := s.cfg.Dispatcher.Run(ctx, js.ID, trigger, s.cfg.Evaluators[js.Kind])
	s.finish(ctx, js, report)
	return report
}

func (s *Scheduler) finish(ctx context.Context, js *jobState, report types.RunReport) {
	s.mu.Lock()
	s.applyResult(js, report)
	s.mu.Unlock()

	if s.cfg.History != nil {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
		defer cancel()
		if err := s.cfg.History.Save(saveCtx, report); err != nil {
			s.logger.ErrorContext(ctx, "failed to persist run report", "job", js.ID, "error", err)
		}
	}
}

// applyResult updates the bookkeeping matching the report's trigger. Callers
// hold s.mu.
func (s *Scheduler) applyResult(js *jobState, report types.RunReport) {
	at := report.StartedAt
	r := report
	if report.Trigger == types.TriggerManual {
		js.lastManualRunAt = &at
		js.lastManualResult = &r
		return
	}
	js.lastRunAt = &at
	js.lastResult = &r
}

func (s *Scheduler) emptyReport(js *jobState, trigger types.RunTrigger) types.RunReport {
	now := s.cfg.Clock.Now()
	return types.RunReport{JobID: js.ID, Trigger: trigger, StartedAt: now, FinishedAt: now}
}

func (s *Scheduler) busyReport(js *jobState, trigger types.RunTrigger) types.RunReport {
	report := s.emptyReport(js, trigger)
	report.Status = types.RunBusy
	report.Error = string(types.ErrCodeConflictRunInProgress)
	return report
}

func (s *Scheduler) setInFlight(js *jobState, v bool) {
	s.mu.Lock()
	js.inFlight = v
	s.mu.Unlock()
}

func (s *Scheduler) jobStatusLocked(js *jobState) types.JobStatus {
	return types.JobStatus{
		ID:               js.ID,
		Kind:             js.Kind,
		Cadence:          js.Cadence,
		Enabled:          js.Enabled,
		InFlight:         js.inFlight,
		NextRunAt:        copyTime(js.nextRunAt),
		LastRunAt:        copyTime(js.lastRunAt),
		LastResult:       js.lastResult,
		LastManualRunAt:  copyTime(js.lastManualRunAt),
		LastManualResult: js.lastManualResult,
	}
}

func (s *Scheduler) enabledIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, js := range s.jobs {
		if js.Enabled {
			ids = append(ids, js.ID)
		}
	}
	return ids
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
