// Package scheduler owns the job registry and the per-job timer loops. It
// starts and stops the loops, runs jobs on demand, and keeps the last
// outcome of every job for the status surface.
package scheduler

import (
	"fmt"
	"slices"
	"time"

	"github.com/robfig/cron/v3"

	"avisos/internal/config"
	"avisos/internal/types"
)

// Job IDs. They double as the run lock and history keys.
const (
	JobBirthdays      = "birthdays"
	JobWelcome        = "welcome"
	JobRentDue        = "rent-due"
	JobReadjustment   = "readjustment"
	JobContractExpiry = "contract-expiry"
	JobWeeklyReport   = "weekly-report"
)

// Job is the static definition of a scheduled job.
type Job struct {
	ID      string
	Kind    types.NotificationKind
	Cadence types.Cadence
	Enabled bool
}

// cronParser accepts the five-field expressions produced by Cadence.CronSpec.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextRun returns the first fire time of c strictly after ref, evaluated on
// the wall clock of loc.
func NextRun(c types.Cadence, ref time.Time, loc *time.Location) (time.Time, error) {
	sched, err := compile(c)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(ref.In(loc)), nil
}

func compile(c types.Cadence) (cron.Schedule, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	sched, err := cronParser.Parse(c.CronSpec())
	if err != nil {
		return nil, fmt.Errorf("compiling cadence %q: %w", c.String(), err)
	}
	return sched, nil
}

// JobsFromConfig builds the job registry. Cadence strings were validated at
// config load; a parse failure here still aborts startup.
func JobsFromConfig(cfg config.JobsConfig) ([]Job, error) {
	defs := []struct {
		id      string
		kind    types.NotificationKind
		cadence string
	}{
		{JobBirthdays, types.KindBirthday, cfg.Birthdays},
		{JobWelcome, types.KindWelcome, cfg.Welcome},
		{JobRentDue, types.KindRentDue, cfg.RentDue},
		{JobReadjustment, types.KindReadjustment, cfg.Readjustment},
		{JobContractExpiry, types.KindContractExpiry, cfg.ContractExpiry},
		{JobWeeklyReport, types.KindWeeklyReport, cfg.WeeklyReport},
	}

	jobs := make([]Job, 0, len(defs))
	known := make(map[string]bool, len(defs))
	for _, d := range defs {
		c, err := types.ParseCadence(d.cadence)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", d.id, err)
		}
		known[d.id] = true
		jobs = append(jobs, Job{
			ID:      d.id,
			Kind:    d.kind,
			Cadence: c,
			Enabled: !slices.Contains(cfg.Disabled, d.id),
		})
	}
	for _, id := range cfg.Disabled {
		if !known[id] {
			return nil, fmt.Errorf("unknown job %q in JOBS_DISABLED", id)
		}
	}
	return jobs, nil
}
