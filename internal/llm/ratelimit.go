package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedCompleter throttles outbound calls to a backend so bursts of
// queued documents do not trip provider rate limits.
type RateLimitedCompleter struct {
	next    Completer
	limiter *rate.Limiter
}

// NewRateLimitedCompleter wraps next with a token bucket of rps requests per
// second and the given burst. A non-positive rps disables limiting.
func NewRateLimitedCompleter(next Completer, rps float64, burst int) *RateLimitedCompleter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedCompleter{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Complete waits for a token and then delegates to the wrapped backend.
func (c *RateLimitedCompleter) Complete(ctx context.Context, req Request) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	return c.next.Complete(ctx, req)
}

// GetModel returns the wrapped backend's model name.
func (c *RateLimitedCompleter) GetModel() string {
	return c.next.GetModel()
}

var _ Completer = (*RateLimitedCompleter)(nil)
