package types

// NotificationKind identifies the category of a notification and selects its
// template.
type NotificationKind string

const (
	KindBirthday       NotificationKind = "birthday"
	KindWelcome        NotificationKind = "welcome"
	KindRentDue        NotificationKind = "rent-due"
	KindReadjustment   NotificationKind = "readjustment"
	KindContractExpiry NotificationKind = "contract-expiry"
	KindWeeklyReport   NotificationKind = "weekly-report"
)

// AllKinds lists every notification kind in a stable order.
var AllKinds = []NotificationKind{
	KindBirthday,
	KindWelcome,
	KindRentDue,
	KindReadjustment,
	KindContractExpiry,
	KindWeeklyReport,
}

// Valid reports whether k is a known kind.
func (k NotificationKind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// EntityType identifies the record a candidate was derived from.
type EntityType string

const (
	EntityTenant   EntityType = "tenant"
	EntityContract EntityType = "contract"
	EntitySystem   EntityType = "system"
)

// LedgerStatus is the outcome recorded for a ledger key.
type LedgerStatus string

const (
	LedgerSent   LedgerStatus = "sent"
	LedgerFailed LedgerStatus = "failed"
	// LedgerAbsent is never stored; lookups return it for unknown keys.
	LedgerAbsent LedgerStatus = "absent"
)

// FailureClass separates failures worth retrying on a later run from those
// that are final.
type FailureClass string

const (
	FailureNone      FailureClass = ""
	FailureTransient FailureClass = "transient"
	FailurePermanent FailureClass = "permanent"
)

// RunTrigger records what started a job run.
type RunTrigger string

const (
	TriggerScheduled RunTrigger = "scheduled"
	TriggerManual    RunTrigger = "manual"
)

// RunStatus is the terminal outcome of one job run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	// RunPartial means at least one candidate failed while others were processed.
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
	// RunBusy means the job guard was held by another run and nothing executed.
	RunBusy RunStatus = "busy"
	// RunUnavailable means delivery is not configured.
	RunUnavailable RunStatus = "unavailable"
)
