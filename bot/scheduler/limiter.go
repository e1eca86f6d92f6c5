package scheduler

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/whiteout-project/warden/bot/observability"
)

// Budget is the process-wide API rate budget. Every handler acquires a
// token before each game-API call, so concurrent-looking work shares one
// spacing contract instead of each observing its own.
type Budget struct {
	limiter *rate.Limiter
}

// NewBudget spaces calls perCall apart (burst 1). A zero or negative
// perCall disables pacing, which tests rely on.
func NewBudget(perCall time.Duration) *Budget {
	if perCall <= 0 {
		return &Budget{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Budget{limiter: rate.NewLimiter(rate.Every(perCall), 1)}
}

// Acquire blocks until a token is available or ctx is cancelled.
func (b *Budget) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	observability.APIBudgetWaitSeconds.Observe(time.Since(start).Seconds())
	return nil
}
