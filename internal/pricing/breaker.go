package pricing

import (
	"context"

	"github.com/drfirst/go-edi837/pkg/circuitbreaker"
)

// BreakerResolver guards a resolver with a circuit breaker. While the circuit is open
// lookups fail fast and the lines are billed at zero.
type BreakerResolver struct {
	next    Resolver
	breaker *circuitbreaker.CircuitBreaker
}

// NewBreakerResolver wraps next with cb
func NewBreakerResolver(next Resolver, cb *circuitbreaker.CircuitBreaker) *BreakerResolver {
	return &BreakerResolver{next: next, breaker: cb}
}

func (b *BreakerResolver) Resolve(ctx context.Context, organizationID, providerID, procedureCode string) (Quote, error) {
	return circuitbreaker.Do(ctx, b.breaker, func(ctx context.Context) (Quote, error) {
		return b.next.Resolve(ctx, organizationID, providerID, procedureCode)
	})
}
