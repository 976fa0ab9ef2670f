package types

import (
	"fmt"
	"time"
)

// Tenant is the read model of a tenant record used by the rule evaluators.
type Tenant struct {
	ID        string
	Name      string
	Email     string
	BirthDate *time.Time
	CreatedAt time.Time
}

// Contract is the read model of a rental contract joined with its tenant and
// property.
type Contract struct {
	ID                 string
	Code               string
	TenantID           string
	TenantName         string
	TenantEmail        string
	PropertyAddress    string
	RentCents          int64
	DueDay             int // day of month the rent is due, 1..31
	StartDate          time.Time
	EndDate            time.Time
	LastReadjustmentAt *time.Time
	ReadjustmentIndex  string // e.g. IGP-M, IPCA
	Active             bool
}

// WeeklySummary aggregates the figures sent to the operations mailbox.
type WeeklySummary struct {
	WeekStart           time.Time `json:"weekStart"`
	WeekEnd             time.Time `json:"weekEnd"`
	ActiveContracts     int       `json:"activeContracts"`
	RentDueThisWeek     int       `json:"rentDueThisWeek"`
	ExpiringSoon        int       `json:"expiringSoon"`
	NewTenants          int       `json:"newTenants"`
	NotificationsSent   int       `json:"notificationsSent"`
	NotificationsFailed int       `json:"notificationsFailed"`
	NeedingAttention    int       `json:"needingAttention"`
}

// Payload carries the data a template needs. Fields not relevant to a kind
// are left zero.
type Payload struct {
	Name              string         `json:"name,omitempty"`
	Email             string         `json:"email,omitempty"`
	AmountCents       int64          `json:"amountCents,omitempty"`
	Date              time.Time      `json:"date,omitempty"`
	PropertyAddress   string         `json:"address,omitempty"`
	ContractCode      string         `json:"contractCode,omitempty"`
	ReadjustmentIndex string         `json:"index,omitempty"`
	Summary           *WeeklySummary `json:"summary,omitempty"`
}

// Recipient is the destination mailbox of a notification.
type Recipient struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// LedgerKey is the composite dedup key. At most one ledger entry exists per key.
type LedgerKey struct {
	Kind      NotificationKind `json:"kind"`
	EntityID  string           `json:"entityId"`
	PeriodKey string           `json:"periodKey"`
}

func (k LedgerKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Kind, k.EntityID, k.PeriodKey)
}

// Candidate is an entity and event pairing eligible for notification in the
// current evaluation pass. Candidates are never persisted.
type Candidate struct {
	EntityType EntityType       `json:"entityType"`
	EntityID   string           `json:"entityId"`
	Kind       NotificationKind `json:"kind"`
	PeriodKey  string           `json:"periodKey"`
	Recipient  Recipient        `json:"recipient"`
	Payload    Payload          `json:"payload"`
}

// Key returns the ledger key of the candidate.
func (c Candidate) Key() LedgerKey {
	return LedgerKey{Kind: c.Kind, EntityID: c.EntityID, PeriodKey: c.PeriodKey}
}

// LedgerEntry is the durable record of a dispatch outcome for one key.
type LedgerEntry struct {
	LedgerKey
	EntityType  EntityType   `json:"entityType"`
	Status      LedgerStatus `json:"status"`
	Attempts    int          `json:"attempts"`
	Permanent   bool         `json:"permanent"`
	SentAt      *time.Time   `json:"sentAt,omitempty"`
	ErrorReason string       `json:"errorReason,omitempty"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Diagnostic explains why an entity was excluded from the candidate set.
type Diagnostic struct {
	EntityType EntityType       `json:"entityType"`
	EntityID   string           `json:"entityId"`
	Kind       NotificationKind `json:"kind"`
	Reason     string           `json:"reason"`
}

// RenderedMessage is the output of the template renderer.
type RenderedMessage struct {
	Subject  string
	BodyHTML string
	BodyText string
}

// SenderIdentity is the From header of outgoing mail.
type SenderIdentity struct {
	Address string
	Name    string
}

// SendInput is the provider-facing description of one email.
type SendInput struct {
	To          Recipient
	From        SenderIdentity
	Subject     string
	BodyHTML    string
	BodyText    string
	ReferenceID string // correlates provider logs with the ledger key
}

// DeliveryResult is the classified outcome of one send.
type DeliveryResult struct {
	Delivered bool         `json:"delivered"`
	MessageID string       `json:"messageId,omitempty"`
	Class     FailureClass `json:"class,omitempty"`
	Code      ErrorCode    `json:"code,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

// CandidateFailure describes one failed candidate in a run report.
type CandidateFailure struct {
	Key    LedgerKey    `json:"key"`
	Class  FailureClass `json:"class"`
	Code   ErrorCode    `json:"code,omitempty"`
	Reason string       `json:"reason"`
}

// RunReport summarizes one job run.
type RunReport struct {
	JobID       string             `json:"jobId"`
	Trigger     RunTrigger         `json:"trigger"`
	Status      RunStatus          `json:"status"`
	StartedAt   time.Time          `json:"startedAt"`
	FinishedAt  time.Time          `json:"finishedAt"`
	Candidates  int                `json:"candidates"`
	Sent        int                `json:"sent"`
	Failed      int                `json:"failed"`
	Skipped     int                `json:"skipped"`
	Diagnostics []Diagnostic       `json:"diagnostics,omitempty"`
	Attention   []LedgerKey        `json:"attention,omitempty"`
	Failures    []CandidateFailure `json:"failures,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// Finalize derives Status from the counters unless a terminal status was
// already set.
func (r *RunReport) Finalize(finishedAt time.Time) {
	r.FinishedAt = finishedAt
	if r.Status != "" {
		return
	}
	switch {
	case r.Failed == 0:
		r.Status = RunSucceeded
	case r.Sent == 0:
		r.Status = RunFailed
	default:
		r.Status = RunPartial
	}
}

// JobStatus is the externally visible state of one job.
type JobStatus struct {
	ID               string           `json:"id"`
	Kind             NotificationKind `json:"kind"`
	Cadence          Cadence          `json:"cadence"`
	Enabled          bool             `json:"enabled"`
	InFlight         bool             `json:"inFlight"`
	NextRunAt        *time.Time       `json:"nextRunAt,omitempty"`
	LastRunAt        *time.Time       `json:"lastRunAt,omitempty"`
	LastResult       *RunReport       `json:"lastResult,omitempty"`
	LastManualRunAt  *time.Time       `json:"lastManualRunAt,omitempty"`
	LastManualResult *RunReport       `json:"lastManualResult,omitempty"`
}

// SchedulerState is the process-wide scheduler snapshot.
type SchedulerState struct {
	Running   bool          `json:"running"`
	StartedAt *time.Time    `json:"startedAt,omitempty"`
	Jobs      []JobStatus   `json:"jobs"`
	Attention []LedgerEntry `json:"attention,omitempty"`
}
