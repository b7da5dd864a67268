// Package pricing resolves the unit price and pricing rule of each procedure line
// before encoding. A failed lookup never aborts a batch: the line is billed at zero.
package pricing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/drfirst/go-edi837/internal/claim"
)

// Quote is the outcome of one fee-schedule lookup. Success false means no price is
// known for the code.
type Quote struct {
	Success   bool              `json:"success"`
	UnitPrice float64           `json:"unit_price"`
	Rule      claim.PricingRule `json:"pricing_rule"`
}

// Resolver looks up the price of a procedure for a provider within an organization
type Resolver interface {
	Resolve(ctx context.Context, organizationID, providerID, procedureCode string) (Quote, error)
}

// ResolverFunc adapts a function to Resolver
type ResolverFunc func(ctx context.Context, organizationID, providerID, procedureCode string) (Quote, error)

func (f ResolverFunc) Resolve(ctx context.Context, organizationID, providerID, procedureCode string) (Quote, error) {
	return f(ctx, organizationID, providerID, procedureCode)
}

// SoftFailure records a line that was billed at zero because its price could not be
// resolved.
type SoftFailure struct {
	EncounterID   string `json:"encounter_id"`
	Line          int    `json:"line"`
	ProcedureCode string `json:"procedure_code"`
	Reason        string `json:"reason"`
}

// Result holds priced copies of the input encounters
type Result struct {
	Encounters   []claim.Encounter `json:"encounters"`
	SoftFailures []SoftFailure     `json:"soft_failures,omitempty"`
}

// Pricer applies a Resolver to whole batches
type Pricer struct {
	resolver Resolver
	logger   *zap.Logger
}

// NewPricer creates a pricer. A nil resolver leaves every unpriced line at zero.
func NewPricer(resolver Resolver, logger *zap.Logger) *Pricer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pricer{resolver: resolver, logger: logger}
}

// PriceEncounters resolves every line that does not already carry a pricing rule. The
// input is not modified. Lines whose lookup fails or returns no price get a zero unit
// price and the per-unit rule, and are reported as soft failures.
func (p *Pricer) PriceEncounters(ctx context.Context, encounters []claim.Encounter) (*Result, error) {
	out := &Result{Encounters: make([]claim.Encounter, len(encounters))}

	for i, enc := range encounters {
		lines := make([]claim.ProcedureLine, len(enc.Lines))
		copy(lines, enc.Lines)

		providerID := ""
		if enc.RenderingProvider != nil {
			providerID = enc.RenderingProvider.ID
		}

		for n := range lines {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if lines[n].Rule != "" {
				continue
			}

			quote, reason := p.resolve(ctx, enc.OrganizationID, providerID, lines[n].Code())
			if reason != "" {
				// Bill at zero rather than drop the claim from the batch
				lines[n].UnitPrice = 0
				lines[n].Rule = claim.RulePerUnit
				out.SoftFailures = append(out.SoftFailures, SoftFailure{
					EncounterID:   enc.ID,
					Line:          n + 1,
					ProcedureCode: lines[n].Code(),
					Reason:        reason,
				})
				p.logger.Warn("procedure price unresolved, billing at zero",
					zap.String("encounter_id", enc.ID),
					zap.Int("line", n+1),
					zap.String("procedure_code", lines[n].Code()),
					zap.String("reason", reason),
				)
				continue
			}
			lines[n].UnitPrice = quote.UnitPrice
			lines[n].Rule = quote.Rule
		}

		enc.Lines = lines
		out.Encounters[i] = enc
	}
	return out, nil
}

func (p *Pricer) resolve(ctx context.Context, orgID, providerID, code string) (Quote, string) {
	if p.resolver == nil {
		return Quote{}, "no pricing resolver configured"
	}
	quote, err := p.resolver.Resolve(ctx, orgID, providerID, code)
	if err != nil {
		return Quote{}, err.Error()
	}
	if !quote.Success {
		return Quote{}, "no fee schedule entry"
	}
	switch quote.Rule {
	case claim.RuleFlat, claim.RulePerUnit:
	case "":
		quote.Rule = claim.RulePerUnit
	default:
		return Quote{}, fmt.Sprintf("unknown pricing rule %q", quote.Rule)
	}
	if quote.UnitPrice < 0 {
		return Quote{}, "negative unit price"
	}
	return quote, ""
}
