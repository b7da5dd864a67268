package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/drfirst/go-edi837/internal/claim"
	"github.com/drfirst/go-edi837/internal/pricing"
)

// FeeSchedule resolves procedure prices from the fee_schedules table. A row for the
// rendering provider wins over the organization default (empty provider_id).
type FeeSchedule struct {
	pool *pgxpool.Pool
}

// NewFeeSchedule creates a fee schedule resolver
func NewFeeSchedule(pool *pgxpool.Pool) *FeeSchedule {
	return &FeeSchedule{pool: pool}
}

// Resolve implements pricing.Resolver
func (f *FeeSchedule) Resolve(ctx context.Context, organizationID, providerID, procedureCode string) (pricing.Quote, error) {
	query := `
		SELECT unit_price::float8, pricing_rule
		FROM fee_schedules
		WHERE organization_id = $1
		  AND procedure_code = $3
		  AND (provider_id = $2 OR provider_id = '')
		  AND effective_from <= CURRENT_DATE
		  AND (effective_to IS NULL OR effective_to >= CURRENT_DATE)
		ORDER BY (provider_id = $2) DESC, effective_from DESC
		LIMIT 1
	`

	var (
		price float64
		rule  string
	)
	code := strings.ToUpper(strings.TrimSpace(procedureCode))
	err := f.pool.QueryRow(ctx, query, organizationID, providerID, code).Scan(&price, &rule)
	if errors.Is(err, pgx.ErrNoRows) {
		return pricing.Quote{Success: false}, nil
	}
	if err != nil {
		return pricing.Quote{}, fmt.Errorf("fee schedule lookup: %w", err)
	}

	return pricing.Quote{Success: true, UnitPrice: price, Rule: normalizeRule(rule)}, nil
}

// normalizeRule maps stored rule spellings onto claim.PricingRule; unknown values
// pass through so the pricer can reject them.
func normalizeRule(rule string) claim.PricingRule {
	switch strings.ToLower(strings.TrimSpace(rule)) {
	case "flat", "flat_rate", "flat-rate":
		return claim.RuleFlat
	case "per-unit", "per_unit", "perunit", "unit":
		return claim.RulePerUnit
	}
	return claim.PricingRule(rule)
}
