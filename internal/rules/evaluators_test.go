package rules

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avisos/internal/types"
)

type fakeStore struct {
	tenants   []types.Tenant
	contracts []types.Contract
	summary   types.WeeklySummary
	err       error

	bornOnCalls [][2]int
	dueDays     []int
}

func (f *fakeStore) TenantsBornOn(_ context.Context, month time.Month, day int) ([]types.Tenant, error) {
	f.bornOnCalls = append(f.bornOnCalls, [2]int{int(month), day})
	if f.err != nil {
		return nil, f.err
	}
	var out []types.Tenant
	for _, t := range f.tenants {
		if t.BirthDate != nil && t.BirthDate.Month() == month && t.BirthDate.Day() == day {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) TenantsCreatedBetween(_ context.Context, from, to time.Time) ([]types.Tenant, error) {
	var out []types.Tenant
	for _, t := range f.tenants {
		if !t.CreatedAt.Before(from) && t.CreatedAt.Before(to) {
			out = append(out, t)
		}
	}
	return out, f.err
}

func (f *fakeStore) ContractsByDueDays(_ context.Context, days []int) ([]types.Contract, error) {
	f.dueDays = days
	var out []types.Contract
	for _, c := range f.contracts {
		if slices.Contains(days, c.DueDay) {
			out = append(out, c)
		}
	}
	return out, f.err
}

func (f *fakeStore) ContractsEndingOn(_ context.Context, date time.Time) ([]types.Contract, error) {
	var out []types.Contract
	for _, c := range f.contracts {
		if types.SameDay(c.EndDate, date) {
			out = append(out, c)
		}
	}
	return out, f.err
}

func (f *fakeStore) ContractsReadjustingOn(_ context.Context, month time.Month, day int) ([]types.Contract, error) {
	var out []types.Contract
	for _, c := range f.contracts {
		base := c.StartDate
		if c.LastReadjustmentAt != nil {
			base = *c.LastReadjustmentAt
		}
		if base.Month() == month && base.Day() == day {
			out = append(out, c)
		}
	}
	return out, f.err
}

func (f *fakeStore) WeeklySummary(context.Context, time.Time, time.Time) (types.WeeklySummary, error) {
	return f.summary, f.err
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

func activeContract(id string, end time.Time) types.Contract {
	return types.Contract{
		ID:              id,
		Code:            "CT-" + id,
		TenantID:        "t-" + id,
		TenantName:      "Inquilino " + id,
		TenantEmail:     id + "@example.com",
		PropertyAddress: "Rua A, 1",
		RentCents:       150000,
		DueDay:          10,
		StartDate:       date(2023, 5, 1),
		EndDate:         end,
		Active:          true,
	}
}

func TestBirthday_Scenario(t *testing.T) {
	store := &fakeStore{tenants: []types.Tenant{
		{ID: "t1", Name: "Ana", Email: "ana@example.com", BirthDate: ptr(date(1990, 3, 15))},
		{ID: "t2", Name: "Bruno", Email: "bruno@example.com", BirthDate: ptr(date(1985, 3, 16))},
	}}

	cands, diags, err := NewBirthdayEvaluator(store).Evaluate(context.Background(), date(2025, 3, 15))
	require.NoError(t, err)
	assert.Empty(t, diags)
	require.Len(t, cands, 1)
	assert.Equal(t, "t1", cands[0].EntityID)
	assert.Equal(t, "birthday:2025", cands[0].PeriodKey)
	assert.Equal(t, types.KindBirthday, cands[0].Kind)
	assert.Equal(t, "ana@example.com", cands[0].Recipient.Address)
}

func TestBirthday_LeapDayInCommonYear(t *testing.T) {
	store := &fakeStore{tenants: []types.Tenant{
		{ID: "leap", Name: "Lia", Email: "lia@example.com", BirthDate: ptr(date(2000, 2, 29))},
	}}
	ev := NewBirthdayEvaluator(store)

	cands, _, err := ev.Evaluate(context.Background(), date(2025, 2, 28))
	require.NoError(t, err)
	require.Len(t, cands, 1)

	// In leap years Feb 29 exists, so Feb 28 must not pick them up.
	cands, _, err = ev.Evaluate(context.Background(), date(2024, 2, 28))
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestBirthday_MissingEmailIsDiagnostic(t *testing.T) {
	store := &fakeStore{tenants: []types.Tenant{
		{ID: "t1", Name: "Ana", BirthDate: ptr(date(1990, 3, 15))},
		{ID: "t2", Name: "Caio", Email: "not-an-email", BirthDate: ptr(date(1990, 3, 15))},
	}}

	cands, diags, err := NewBirthdayEvaluator(store).Evaluate(context.Background(), date(2025, 3, 15))
	require.NoError(t, err)
	assert.Empty(t, cands)
	require.Len(t, diags, 2)
	assert.Equal(t, "missing email", diags[0].Reason)
	assert.Equal(t, "invalid email", diags[1].Reason)
}

func TestBirthday_StoreError(t *testing.T) {
	_, _, err := NewBirthdayEvaluator(&fakeStore{err: errors.New("db down")}).Evaluate(context.Background(), date(2025, 3, 15))
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeEvaluationFailed, appErr.Code)
}

func TestWelcome_LookbackWindow(t *testing.T) {
	today := date(2025, 3, 15)
	store := &fakeStore{tenants: []types.Tenant{
		{ID: "new", Name: "Nova", Email: "nova@example.com", CreatedAt: today.Add(10 * time.Hour)},
		{ID: "recent", Name: "Rita", Email: "rita@example.com", CreatedAt: today.AddDate(0, 0, -5)},
		{ID: "old", Name: "Olga", Email: "olga@example.com", CreatedAt: today.AddDate(0, 0, -30)},
	}}

	cands, _, err := NewWelcomeEvaluator(store, 7*24*time.Hour).Evaluate(context.Background(), today)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	for _, c := range cands {
		assert.Equal(t, "welcome", c.PeriodKey)
		assert.NotEqual(t, "old", c.EntityID)
	}
}

func TestRentDue_ExactLeadDay(t *testing.T) {
	store := &fakeStore{contracts: []types.Contract{activeContract("c1", date(2027, 1, 1))}}

	cands, _, err := NewRentDueEvaluator(store, 7).Evaluate(context.Background(), date(2025, 4, 3))
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "rent-due:2025-04", cands[0].PeriodKey)
	assert.Equal(t, date(2025, 4, 10), cands[0].Payload.Date)
	assert.Equal(t, int64(150000), cands[0].Payload.AmountCents)
	assert.Equal(t, []int{10}, store.dueDays)
}

func TestRentDue_DueDayClampsToMonthEnd(t *testing.T) {
	c := activeContract("c31", date(2027, 1, 1))
	c.DueDay = 31
	store := &fakeStore{contracts: []types.Contract{c}}

	// Apr 23 + 7 = Apr 30, the last day of April.
	cands, _, err := NewRentDueEvaluator(store, 7).Evaluate(context.Background(), date(2025, 4, 23))
	require.NoError(t, err)
	assert.Equal(t, []int{30, 31}, store.dueDays)
	require.Len(t, cands, 1)
	assert.Equal(t, date(2025, 4, 30), cands[0].Payload.Date)
}

func TestRentDue_NonPositiveRentIsDiagnostic(t *testing.T) {
	c := activeContract("c0", date(2027, 1, 1))
	c.RentCents = 0
	store := &fakeStore{contracts: []types.Contract{c}}

	cands, diags, err := NewRentDueEvaluator(store, 7).Evaluate(context.Background(), date(2025, 4, 3))
	require.NoError(t, err)
	assert.Empty(t, cands)
	require.Len(t, diags, 1)
	assert.Equal(t, "non-positive rent", diags[0].Reason)
}

func TestContractExpiry_ExactDayBoundary(t *testing.T) {
	today := date(2025, 3, 15)
	store := &fakeStore{contracts: []types.Contract{
		activeContract("d59", today.AddDate(0, 0, 59)),
		activeContract("d60", today.AddDate(0, 0, 60)),
		activeContract("d61", today.AddDate(0, 0, 61)),
	}}

	cands, _, err := NewContractExpiryEvaluator(store, 60).Evaluate(context.Background(), today)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "d60", cands[0].EntityID)
	assert.Equal(t, "contract-expiry:d60", cands[0].PeriodKey)
}

func TestContractExpiry_InactiveSkipped(t *testing.T) {
	today := date(2025, 3, 15)
	c := activeContract("x", today.AddDate(0, 0, 60))
	c.Active = false

	cands, _, err := NewContractExpiryEvaluator(&fakeStore{contracts: []types.Contract{c}}, 60).Evaluate(context.Background(), today)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestReadjustment_Anniversary(t *testing.T) {
	today := date(2025, 4, 1) // effective May 1st with 30 days lead
	fresh := activeContract("fresh", date(2027, 1, 1))
	fresh.StartDate = date(2025, 5, 1) // starts this year, no readjustment yet
	readjusted := activeContract("readj", date(2027, 1, 1))
	readjusted.StartDate = date(2022, 8, 1)
	readjusted.LastReadjustmentAt = ptr(date(2024, 5, 1))
	readjusted.ReadjustmentIndex = "IPCA"

	store := &fakeStore{contracts: []types.Contract{activeContract("c1", date(2027, 1, 1)), fresh, readjusted}}

	cands, _, err := NewReadjustmentEvaluator(store, 30).Evaluate(context.Background(), today)
	require.NoError(t, err)
	require.Len(t, cands, 2)

	ids := []string{cands[0].EntityID, cands[1].EntityID}
	assert.ElementsMatch(t, []string{"c1", "readj"}, ids)
	for _, c := range cands {
		assert.Equal(t, "readjustment:2025", c.PeriodKey)
		assert.Equal(t, date(2025, 5, 1), c.Payload.Date)
	}
}

func TestWeeklyReport(t *testing.T) {
	ops := types.Recipient{Name: "Operações", Address: "ops@imob.com.br"}
	store := &fakeStore{summary: types.WeeklySummary{ActiveContracts: 7}}

	cands, diags, err := NewWeeklyReportEvaluator(store, ops).Evaluate(context.Background(), date(2025, 3, 19))
	require.NoError(t, err)
	assert.Empty(t, diags)
	require.Len(t, cands, 1)

	c := cands[0]
	assert.Equal(t, "weekly-report:2025-W12", c.PeriodKey)
	assert.Equal(t, types.EntitySystem, c.EntityType)
	require.NotNil(t, c.Payload.Summary)
	assert.Equal(t, 7, c.Payload.Summary.ActiveContracts)
	assert.Equal(t, date(2025, 3, 17), c.Payload.Summary.WeekStart)
	assert.Equal(t, date(2025, 3, 23), c.Payload.Summary.WeekEnd)
}

func TestWeeklyReport_NoMailbox(t *testing.T) {
	cands, diags, err := NewWeeklyReportEvaluator(&fakeStore{}, types.Recipient{}).Evaluate(context.Background(), date(2025, 3, 17))
	require.NoError(t, err)
	assert.Empty(t, cands)
	require.Len(t, diags, 1)
}

func TestWeekBounds_Sunday(t *testing.T) {
	start, end := WeekBounds(date(2025, 3, 23))
	assert.Equal(t, date(2025, 3, 17), start)
	assert.Equal(t, date(2025, 3, 23), end)
}

func TestAll_CoversEveryKind(t *testing.T) {
	evs := All(&fakeStore{}, DefaultSettings())
	for _, k := range types.AllKinds {
		ev, ok := evs[k]
		require.True(t, ok, string(k))
		assert.Equal(t, k, ev.Kind())
	}
}
