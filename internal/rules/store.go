// Package rules holds one evaluator per notification kind. Each computes,
// for a calendar day, the candidates that should be notified and reports
// entities it had to skip.
package rules

import (
	"context"
	"time"

	"avisos/internal/types"
)

// RecordStore is read access to tenants and contracts. Dates passed in are
// calendar days; implementations compare dates, not instants.
type RecordStore interface {
	// TenantsBornOn returns tenants whose birth month and day match.
	TenantsBornOn(ctx context.Context, month time.Month, day int) ([]types.Tenant, error)

	// TenantsCreatedBetween returns tenants created in [from, to).
	TenantsCreatedBetween(ctx context.Context, from, to time.Time) ([]types.Tenant, error)

	// ContractsByDueDays returns active contracts whose due day is in days.
	ContractsByDueDays(ctx context.Context, days []int) ([]types.Contract, error)

	// ContractsEndingOn returns active contracts whose end date is date.
	ContractsEndingOn(ctx context.Context, date time.Time) ([]types.Contract, error)

	// ContractsReadjustingOn returns active contracts whose readjustment base
	// (last readjustment, else start date) has the given month and day.
	ContractsReadjustingOn(ctx context.Context, month time.Month, day int) ([]types.Contract, error)

	// WeeklySummary aggregates the figures of the week [start, end].
	WeeklySummary(ctx context.Context, start, end time.Time) (types.WeeklySummary, error)
}
