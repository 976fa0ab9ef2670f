package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"avisos/internal/types"
)

func contractRow(id string, dueDay int, lastReadj *time.Time) []any {
	return []any{
		id, "CT-" + id, "t-" + id, "Ana", "ana@example.com", "Rua A, 1",
		int64(180000), dueDay,
		time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC),
		lastReadj, "IGP-M", true,
	}
}

func TestRecordRepository_TenantsBornOn(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRecordRepository(db)
	birth := time.Date(1990, 3, 15, 0, 0, 0, 0, time.UTC)
	created := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), []any{3, 15}).
		Return(newMockRows([][]any{{"t1", "Ana", "ana@example.com", &birth, created}}), nil)

	got, err := repo.TenantsBornOn(context.Background(), time.March, 15)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Ana", got[0].Name)
	require.NotNil(t, got[0].BirthDate)
	assert.Equal(t, birth, *got[0].BirthDate)
	db.AssertExpectations(t)
}

func TestRecordRepository_ContractsByDueDays(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRecordRepository(db)
	readj := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "c.due_day = ANY($1)")
	}), []any{[]int{30, 31}}).
		Return(newMockRows([][]any{contractRow("c1", 31, &readj), contractRow("c2", 30, nil)}), nil)

	got, err := repo.ContractsByDueDays(context.Background(), []int{30, 31})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(180000), got[0].RentCents)
	assert.Equal(t, 31, got[0].DueDay)
	require.NotNil(t, got[0].LastReadjustmentAt)
	assert.Nil(t, got[1].LastReadjustmentAt)
	assert.True(t, got[1].Active)
}

func TestRecordRepository_ContractsByDueDays_Empty(t *testing.T) {
	db := new(mockDBTX)
	got, err := NewRecordRepository(db).ContractsByDueDays(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, got)
	db.AssertNotCalled(t, "Query")
}

func TestRecordRepository_ContractsEndingOn_PassesCalendarDate(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRecordRepository(db)
	brt := time.FixedZone("BRT", -3*3600)
	day := time.Date(2025, 5, 14, 0, 0, 0, 0, brt)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		d := args[0].(time.Time)
		return d.Location() == time.UTC && d.Day() == 14 && d.Hour() == 0
	})).Return(newMockRows(nil), nil)

	_, err := repo.ContractsEndingOn(context.Background(), day)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestRecordRepository_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRecordRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("relation \"contracts\" does not exist"))

	_, err := repo.ContractsReadjustingOn(context.Background(), time.May, 1)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestRecordRepository_ScanError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRecordRepository(db)
	rows := newMockRows([][]any{{"t1"}})
	rows.scanErr = errors.New("type mismatch")

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	_, err := repo.TenantsCreatedBetween(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
	assert.True(t, rows.closed)
}

func TestRecordRepository_WeeklySummary(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRecordRepository(db)
	start := time.Date(2025, 3, 24, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 30, 0, 0, 0, 0, time.UTC)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return args[1].(time.Time).Equal(time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)) &&
			assert.ObjectsAreEqual([]int{24, 25, 26, 27, 28, 29, 30}, args[2]) && args[3] == 60
	})).Return(&mockRow{scanFn: func(dest ...any) error {
		for i, v := range []int{40, 6, 3, 2, 11, 1, 4} {
			*dest[i].(*int) = v
		}
		return nil
	}})

	s, err := repo.WeeklySummary(context.Background(), start, end)
	require.NoError(t, err)
	assert.Equal(t, 40, s.ActiveContracts)
	assert.Equal(t, 6, s.RentDueThisWeek)
	assert.Equal(t, 4, s.NeedingAttention)
	assert.Equal(t, start, s.WeekStart)
	db.AssertExpectations(t)
}

func TestDueDaysBetween(t *testing.T) {
	// Week crossing the end of April: due days 29..31 all fall on Apr 30.
	got := dueDaysBetween(time.Date(2025, 4, 28, 0, 0, 0, 0, time.UTC), time.Date(2025, 5, 4, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, []int{28, 29, 30, 31, 1, 2, 3, 4}, got)

	got = dueDaysBetween(time.Date(2025, 2, 24, 0, 0, 0, 0, time.UTC), time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, []int{24, 25, 26, 27, 28, 29, 30, 31, 1, 2}, got)
}
