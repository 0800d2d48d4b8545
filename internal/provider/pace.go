package provider

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces successive API calls to stay well inside provider rate
// limits. Adapters call Wait between page and per-day requests.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer creates a pacer allowing one call per interval
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next call is allowed or the context is done
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
