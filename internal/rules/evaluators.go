package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"avisos/internal/notifications/core"
	"avisos/internal/types"
)

// Settings holds the lead times and recipients shared by the evaluators.
type Settings struct {
	RentDueLeadDays        int
	ContractExpiryLeadDays int
	ReadjustmentLeadDays   int
	WelcomeLookback        time.Duration
	OperationsMailbox      types.Recipient
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		RentDueLeadDays:        7,
		ContractExpiryLeadDays: 60,
		ReadjustmentLeadDays:   30,
		WelcomeLookback:        7 * 24 * time.Hour,
	}
}

var validate = validator.New()

// checkEmail returns a diagnostic reason, or "" when the address is usable.
func checkEmail(addr string) string {
	if strings.TrimSpace(addr) == "" {
		return "missing email"
	}
	if err := validate.Var(addr, "email"); err != nil {
		return "invalid email"
	}
	return ""
}

// onDay reads the calendar date of a stored date column into loc.
func onDay(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func diag(et types.EntityType, id string, kind types.NotificationKind, reason string) types.Diagnostic {
	return types.Diagnostic{EntityType: et, EntityID: id, Kind: kind, Reason: reason}
}

func evalError(kind types.NotificationKind, err error) error {
	return types.NewAppError(types.ErrCodeEvaluationFailed, fmt.Sprintf("evaluating %s", kind), err)
}

// tenantCandidate validates the tenant and builds its candidate.
func tenantCandidate(t types.Tenant, kind types.NotificationKind, periodKey string) (types.Candidate, string) {
	if strings.TrimSpace(t.Name) == "" {
		return types.Candidate{}, "missing name"
	}
	if reason := checkEmail(t.Email); reason != "" {
		return types.Candidate{}, reason
	}
	return types.Candidate{
		EntityType: types.EntityTenant,
		EntityID:   t.ID,
		Kind:       kind,
		PeriodKey:  periodKey,
		Recipient:  types.Recipient{Name: t.Name, Address: t.Email},
		Payload:    types.Payload{Name: t.Name, Email: t.Email},
	}, ""
}

// contractCandidate validates the contract's tenant contact data.
func contractCandidate(c types.Contract, kind types.NotificationKind, periodKey string, date time.Time) (types.Candidate, string) {
	if strings.TrimSpace(c.TenantName) == "" {
		return types.Candidate{}, "missing tenant name"
	}
	if reason := checkEmail(c.TenantEmail); reason != "" {
		return types.Candidate{}, reason
	}
	return types.Candidate{
		EntityType: types.EntityContract,
		EntityID:   c.ID,
		Kind:       kind,
		PeriodKey:  periodKey,
		Recipient:  types.Recipient{Name: c.TenantName, Address: c.TenantEmail},
		Payload: types.Payload{
			Name:              c.TenantName,
			Email:             c.TenantEmail,
			AmountCents:       c.RentCents,
			Date:              date,
			PropertyAddress:   c.PropertyAddress,
			ContractCode:      c.Code,
			ReadjustmentIndex: c.ReadjustmentIndex,
		},
	}, ""
}

// ---------------------------------------------------------------------------
// Birthdays
// ---------------------------------------------------------------------------

// BirthdayEvaluator selects tenants born on today's month and day. Tenants
// born on Feb 29 are greeted on Feb 28 in common years.
type BirthdayEvaluator struct {
	store RecordStore
}

func NewBirthdayEvaluator(store RecordStore) *BirthdayEvaluator {
	return &BirthdayEvaluator{store: store}
}

func (e *BirthdayEvaluator) Kind() types.NotificationKind { return types.KindBirthday }

func (e *BirthdayEvaluator) Evaluate(ctx context.Context, today time.Time) ([]types.Candidate, []types.Diagnostic, error) {
	tenants, err := e.store.TenantsBornOn(ctx, today.Month(), today.Day())
	if err != nil {
		return nil, nil, evalError(e.Kind(), err)
	}
	if today.Month() == time.February && today.Day() == 28 && types.DaysIn(today.Year(), time.February) == 28 {
		leap, err := e.store.TenantsBornOn(ctx, time.February, 29)
		if err != nil {
			return nil, nil, evalError(e.Kind(), err)
		}
		tenants = append(tenants, leap...)
	}

	periodKey := fmt.Sprintf("birthday:%d", today.Year())
	var (
		out   []types.Candidate
		diags []types.Diagnostic
	)
	for _, t := range tenants {
		if t.BirthDate == nil {
			continue
		}
		c, reason := tenantCandidate(t, e.Kind(), periodKey)
		if reason != "" {
			diags = append(diags, diag(types.EntityTenant, t.ID, e.Kind(), reason))
			continue
		}
		c.Payload.Date = today
		out = append(out, c)
	}
	return out, diags, nil
}

// ---------------------------------------------------------------------------
// Welcome
// ---------------------------------------------------------------------------

// WelcomeEvaluator selects tenants created within the lookback window. The
// ledger key has no period suffix, so each tenant is welcomed once.
type WelcomeEvaluator struct {
	store    RecordStore
	lookback time.Duration
}

func NewWelcomeEvaluator(store RecordStore, lookback time.Duration) *WelcomeEvaluator {
	if lookback <= 0 {
		lookback = DefaultSettings().WelcomeLookback
	}
	return &WelcomeEvaluator{store: store, lookback: lookback}
}

func (e *WelcomeEvaluator) Kind() types.NotificationKind { return types.KindWelcome }

func (e *WelcomeEvaluator) Evaluate(ctx context.Context, today time.Time) ([]types.Candidate, []types.Diagnostic, error) {
	to := today.AddDate(0, 0, 1)
	from := to.Add(-e.lookback)
	tenants, err := e.store.TenantsCreatedBetween(ctx, from, to)
	if err != nil {
		return nil, nil, evalError(e.Kind(), err)
	}

	var (
		out   []types.Candidate
		diags []types.Diagnostic
	)
	for _, t := range tenants {
		c, reason := tenantCandidate(t, e.Kind(), "welcome")
		if reason != "" {
			diags = append(diags, diag(types.EntityTenant, t.ID, e.Kind(), reason))
			continue
		}
		out = append(out, c)
	}
	return out, diags, nil
}

// ---------------------------------------------------------------------------
// Rent due
// ---------------------------------------------------------------------------

// RentDueEvaluator selects active contracts whose rent falls due exactly
// leadDays from today. A due day past the end of the month falls on its last
// day.
type RentDueEvaluator struct {
	store    RecordStore
	leadDays int
}

func NewRentDueEvaluator(store RecordStore, leadDays int) *RentDueEvaluator {
	return &RentDueEvaluator{store: store, leadDays: leadDays}
}

func (e *RentDueEvaluator) Kind() types.NotificationKind { return types.KindRentDue }

// dueDaysFor returns the contract due days that land on target.
func dueDaysFor(target time.Time) []int {
	days := []int{target.Day()}
	if last := types.DaysIn(target.Year(), target.Month()); target.Day() == last {
		for d := last + 1; d <= 31; d++ {
			days = append(days, d)
		}
	}
	return days
}

func (e *RentDueEvaluator) Evaluate(ctx context.Context, today time.Time) ([]types.Candidate, []types.Diagnostic, error) {
	due := today.AddDate(0, 0, e.leadDays)
	contracts, err := e.store.ContractsByDueDays(ctx, dueDaysFor(due))
	if err != nil {
		return nil, nil, evalError(e.Kind(), err)
	}

	periodKey := "rent-due:" + due.Format("2006-01")
	var (
		out   []types.Candidate
		diags []types.Diagnostic
	)
	for _, ct := range contracts {
		if !ct.Active {
			continue
		}
		if ct.RentCents <= 0 {
			diags = append(diags, diag(types.EntityContract, ct.ID, e.Kind(), "non-positive rent"))
			continue
		}
		if due.Before(onDay(ct.StartDate, due.Location())) || due.After(onDay(ct.EndDate, due.Location())) {
			continue
		}
		c, reason := contractCandidate(ct, e.Kind(), periodKey, due)
		if reason != "" {
			diags = append(diags, diag(types.EntityContract, ct.ID, e.Kind(), reason))
			continue
		}
		out = append(out, c)
	}
	return out, diags, nil
}

// ---------------------------------------------------------------------------
// Contract expiry
// ---------------------------------------------------------------------------

// ContractExpiryEvaluator selects active contracts ending exactly leadDays
// from today. Each contract is notified once in its lifetime.
type ContractExpiryEvaluator struct {
	store    RecordStore
	leadDays int
}

func NewContractExpiryEvaluator(store RecordStore, leadDays int) *ContractExpiryEvaluator {
	return &ContractExpiryEvaluator{store: store, leadDays: leadDays}
}

func (e *ContractExpiryEvaluator) Kind() types.NotificationKind { return types.KindContractExpiry }

func (e *ContractExpiryEvaluator) Evaluate(ctx context.Context, today time.Time) ([]types.Candidate, []types.Diagnostic, error) {
	end := today.AddDate(0, 0, e.leadDays)
	contracts, err := e.store.ContractsEndingOn(ctx, end)
	if err != nil {
		return nil, nil, evalError(e.Kind(), err)
	}

	var (
		out   []types.Candidate
		diags []types.Diagnostic
	)
	for _, ct := range contracts {
		if !ct.Active || !types.SameDay(ct.EndDate, end) {
			continue
		}
		c, reason := contractCandidate(ct, e.Kind(), "contract-expiry:"+ct.ID, end)
		if reason != "" {
			diags = append(diags, diag(types.EntityContract, ct.ID, e.Kind(), reason))
			continue
		}
		out = append(out, c)
	}
	return out, diags, nil
}

// ---------------------------------------------------------------------------
// Readjustment
// ---------------------------------------------------------------------------

// ReadjustmentEvaluator selects active contracts whose yearly readjustment
// takes effect exactly leadDays from today. The anniversary is counted from
// the last readjustment, or from the start date when there was none.
type ReadjustmentEvaluator struct {
	store    RecordStore
	leadDays int
}

func NewReadjustmentEvaluator(store RecordStore, leadDays int) *ReadjustmentEvaluator {
	return &ReadjustmentEvaluator{store: store, leadDays: leadDays}
}

func (e *ReadjustmentEvaluator) Kind() types.NotificationKind { return types.KindReadjustment }

func (e *ReadjustmentEvaluator) Evaluate(ctx context.Context, today time.Time) ([]types.Candidate, []types.Diagnostic, error) {
	effective := today.AddDate(0, 0, e.leadDays)
	contracts, err := e.store.ContractsReadjustingOn(ctx, effective.Month(), effective.Day())
	if err != nil {
		return nil, nil, evalError(e.Kind(), err)
	}
	if effective.Month() == time.February && effective.Day() == 28 && types.DaysIn(effective.Year(), time.February) == 28 {
		leap, err := e.store.ContractsReadjustingOn(ctx, time.February, 29)
		if err != nil {
			return nil, nil, evalError(e.Kind(), err)
		}
		contracts = append(contracts, leap...)
	}

	periodKey := fmt.Sprintf("readjustment:%d", effective.Year())
	var (
		out   []types.Candidate
		diags []types.Diagnostic
	)
	for _, ct := range contracts {
		if !ct.Active {
			continue
		}
		base := ct.StartDate
		if ct.LastReadjustmentAt != nil {
			base = *ct.LastReadjustmentAt
		}
		// The first readjustment is due one full year after the base date.
		if base.Year() >= effective.Year() {
			continue
		}
		if effective.After(onDay(ct.EndDate, effective.Location())) {
			continue
		}
		c, reason := contractCandidate(ct, e.Kind(), periodKey, effective)
		if reason != "" {
			diags = append(diags, diag(types.EntityContract, ct.ID, e.Kind(), reason))
			continue
		}
		out = append(out, c)
	}
	return out, diags, nil
}

// ---------------------------------------------------------------------------
// Weekly report
// ---------------------------------------------------------------------------

// WeeklyReportEvaluator produces one synthetic candidate addressed to the
// operations mailbox per ISO week.
type WeeklyReportEvaluator struct {
	store     RecordStore
	recipient types.Recipient
}

// WeeklyReportEntityID is the entity ID of the synthetic report candidate.
const WeeklyReportEntityID = "operations"

func NewWeeklyReportEvaluator(store RecordStore, recipient types.Recipient) *WeeklyReportEvaluator {
	return &WeeklyReportEvaluator{store: store, recipient: recipient}
}

func (e *WeeklyReportEvaluator) Kind() types.NotificationKind { return types.KindWeeklyReport }

// WeekBounds returns Monday and Sunday of the ISO week containing day.
func WeekBounds(day time.Time) (time.Time, time.Time) {
	offset := (int(day.Weekday()) + 6) % 7
	start := types.DayStart(day).AddDate(0, 0, -offset)
	return start, start.AddDate(0, 0, 6)
}

func (e *WeeklyReportEvaluator) Evaluate(ctx context.Context, today time.Time) ([]types.Candidate, []types.Diagnostic, error) {
	if reason := checkEmail(e.recipient.Address); reason != "" {
		return nil, []types.Diagnostic{diag(types.EntitySystem, WeeklyReportEntityID, e.Kind(), "operations mailbox: "+reason)}, nil
	}

	start, end := WeekBounds(today)
	summary, err := e.store.WeeklySummary(ctx, start, end)
	if err != nil {
		return nil, nil, evalError(e.Kind(), err)
	}
	summary.WeekStart, summary.WeekEnd = start, end

	return []types.Candidate{{
		EntityType: types.EntitySystem,
		EntityID:   WeeklyReportEntityID,
		Kind:       e.Kind(),
		PeriodKey:  "weekly-report:" + types.ISOWeekKey(today),
		Recipient:  e.recipient,
		Payload:    types.Payload{Name: e.recipient.Name, Email: e.recipient.Address, Date: today, Summary: &summary},
	}}, nil, nil
}

// All returns one evaluator per kind, keyed by kind.
func All(store RecordStore, s Settings) map[types.NotificationKind]core.Evaluator {
	return map[types.NotificationKind]core.Evaluator{
		types.KindBirthday:       NewBirthdayEvaluator(store),
		types.KindWelcome:        NewWelcomeEvaluator(store, s.WelcomeLookback),
		types.KindRentDue:        NewRentDueEvaluator(store, s.RentDueLeadDays),
		types.KindReadjustment:   NewReadjustmentEvaluator(store, s.ReadjustmentLeadDays),
		types.KindContractExpiry: NewContractExpiryEvaluator(store, s.ContractExpiryLeadDays),
		types.KindWeeklyReport:   NewWeeklyReportEvaluator(store, s.OperationsMailbox),
	}
}

var (
	_ core.Evaluator = (*BirthdayEvaluator)(nil)
	_ core.Evaluator = (*WelcomeEvaluator)(nil)
	_ core.Evaluator = (*RentDueEvaluator)(nil)
	_ core.Evaluator = (*ReadjustmentEvaluator)(nil)
	_ core.Evaluator = (*ContractExpiryEvaluator)(nil)
	_ core.Evaluator = (*WeeklyReportEvaluator)(nil)
)
