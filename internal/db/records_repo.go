package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"avisos/internal/rules"
	"avisos/internal/types"
)

// RecordRepository reads tenants and contracts owned by the admin system.
// It never writes to those tables.
type RecordRepository struct {
	db DBTX
}

// NewRecordRepository creates a new RecordRepository backed by the given
// database connection (pool or transaction).
func NewRecordRepository(db DBTX) *RecordRepository {
	return &RecordRepository{db: db}
}

const tenantColumns = `t.id, t.name, COALESCE(t.email, ''), t.birth_date, t.created_at`

const contractColumns = `c.id, c.code, c.tenant_id, t.name, COALESCE(t.email, ''),
	COALESCE(p.address, ''), c.rent_cents, c.due_day, c.start_date, c.end_date,
	c.last_readjustment_at, COALESCE(c.readjustment_index, ''), c.active`

const contractFrom = `FROM contracts c
	JOIN tenants t ON t.id = c.tenant_id
	LEFT JOIN properties p ON p.id = c.property_id`

// TenantsBornOn implements rules.RecordStore.
func (r *RecordRepository) TenantsBornOn(ctx context.Context, month time.Month, day int) ([]types.Tenant, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+tenantColumns+`
		 FROM tenants t
		 WHERE t.birth_date IS NOT NULL
		   AND EXTRACT(MONTH FROM t.birth_date) = $1
		   AND EXTRACT(DAY FROM t.birth_date) = $2
		 ORDER BY t.id`,
		int(month),
		day,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query tenants by birthday", err)
	}
	return collectTenants(rows)
}

// TenantsCreatedBetween implements rules.RecordStore.
func (r *RecordRepository) TenantsCreatedBetween(ctx context.Context, from, to time.Time) ([]types.Tenant, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+tenantColumns+`
		 FROM tenants t
		 WHERE t.created_at >= $1 AND t.created_at < $2
		 ORDER BY t.created_at`,
		from,
		to,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query new tenants", err)
	}
	return collectTenants(rows)
}

// ContractsByDueDays implements rules.RecordStore.
func (r *RecordRepository) ContractsByDueDays(ctx context.Context, days []int) ([]types.Contract, error) {
	if len(days) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+contractColumns+` `+contractFrom+`
		 WHERE c.active AND c.due_day = ANY($1)
		 ORDER BY c.id`,
		days,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query contracts by due day", err)
	}
	return collectContracts(rows)
}

// ContractsEndingOn implements rules.RecordStore.
func (r *RecordRepository) ContractsEndingOn(ctx context.Context, date time.Time) ([]types.Contract, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+contractColumns+` `+contractFrom+`
		 WHERE c.active AND c.end_date = $1::date
		 ORDER BY c.id`,
		calendarDate(date),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query expiring contracts", err)
	}
	return collectContracts(rows)
}

// ContractsReadjustingOn implements rules.RecordStore.
func (r *RecordRepository) ContractsReadjustingOn(ctx context.Context, month time.Month, day int) ([]types.Contract, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+contractColumns+` `+contractFrom+`
		 WHERE c.active
		   AND EXTRACT(MONTH FROM COALESCE(c.last_readjustment_at, c.start_date)) = $1
		   AND EXTRACT(DAY FROM COALESCE(c.last_readjustment_at, c.start_date)) = $2
		 ORDER BY c.id`,
		int(month),
		day,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query readjusting contracts", err)
	}
	return collectContracts(rows)
}

// expiryHorizonDays bounds the "expiring soon" figure of the weekly summary.
const expiryHorizonDays = 60

// WeeklySummary implements rules.RecordStore. Ledger figures cover the week;
// contract figures are a snapshot as of the week end.
func (r *RecordRepository) WeeklySummary(ctx context.Context, start, end time.Time) (types.WeeklySummary, error) {
	s := types.WeeklySummary{WeekStart: start, WeekEnd: end}
	from := calendarDate(start)
	to := calendarDate(end).AddDate(0, 0, 1)

	err := r.db.QueryRow(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM contracts WHERE active),
		   (SELECT COUNT(*) FROM contracts WHERE active AND due_day = ANY($3)),
		   (SELECT COUNT(*) FROM contracts
		     WHERE active AND end_date >= $2::date AND end_date < $2::date + $4::int),
		   (SELECT COUNT(*) FROM tenants WHERE created_at >= $1 AND created_at < $2),
		   (SELECT COUNT(*) FROM notification_ledger
		     WHERE status = 'sent' AND sent_at >= $1 AND sent_at < $2),
		   (SELECT COUNT(*) FROM notification_ledger
		     WHERE status = 'failed' AND updated_at >= $1 AND updated_at < $2),
		   (SELECT COUNT(*) FROM notification_ledger WHERE status = 'failed' AND permanent)`,
		from,
		to,
		dueDaysBetween(start, end),
		expiryHorizonDays,
	).Scan(
		&s.ActiveContracts,
		&s.RentDueThisWeek,
		&s.ExpiringSoon,
		&s.NewTenants,
		&s.NotificationsSent,
		&s.NotificationsFailed,
		&s.NeedingAttention,
	)
	if err != nil {
		return types.WeeklySummary{}, types.NewAppError(types.ErrCodeInternalDB, "failed to compute weekly summary", err)
	}
	return s, nil
}

// calendarDate drops the clock and zone, keeping the calendar date so the
// driver encodes the intended day regardless of the session timezone.
func calendarDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// dueDaysBetween lists the due days falling in [start, end]. Due days past a
// month's end fall on its last day.
func dueDaysBetween(start, end time.Time) []int {
	seen := make(map[int]bool)
	var days []int
	for d := calendarDate(start); !d.After(calendarDate(end)); d = d.AddDate(0, 0, 1) {
		last := types.DaysIn(d.Year(), d.Month())
		hi := d.Day()
		if hi == last {
			hi = 31
		}
		for day := d.Day(); day <= hi; day++ {
			if !seen[day] {
				seen[day] = true
				days = append(days, day)
			}
		}
	}
	return days
}

func collectTenants(rows pgx.Rows) ([]types.Tenant, error) {
	defer rows.Close()
	var out []types.Tenant
	for rows.Next() {
		var t types.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Email, &t.BirthDate, &t.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan tenant", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating tenants", err)
	}
	return out, nil
}

func collectContracts(rows pgx.Rows) ([]types.Contract, error) {
	defer rows.Close()
	var out []types.Contract
	for rows.Next() {
		var c types.Contract
		if err := rows.Scan(
			&c.ID,
			&c.Code,
			&c.TenantID,
			&c.TenantName,
			&c.TenantEmail,
			&c.PropertyAddress,
			&c.RentCents,
			&c.DueDay,
			&c.StartDate,
			&c.EndDate,
			&c.LastReadjustmentAt,
			&c.ReadjustmentIndex,
			&c.Active,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan contract", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating contracts", err)
	}
	return out, nil
}

var _ rules.RecordStore = (*RecordRepository)(nil)
