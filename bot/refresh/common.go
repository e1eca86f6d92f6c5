package refresh

import (
	"context"
	"log"
	"time"

	"github.com/whiteout-project/warden/bot/clock"
	"github.com/whiteout-project/warden/bot/gameapi"
	"github.com/whiteout-project/warden/bot/scheduler"
	"github.com/whiteout-project/warden/bot/store"
)

// API is the game endpoint surface the handlers consume.
type API interface {
	Fetch(ctx context.Context, fid int64) gameapi.FetchResult
	Redeem(ctx context.Context, fid int64, code string) gameapi.RedeemResult
}

// Submitter hands freshly-created processes to the queue.
type Submitter interface {
	Submit(ctx context.Context, id int64) error
}

// Config tunes the refresh engine and its sibling handlers.
type Config struct {
	RateLimitDelay    time.Duration // back-off after a throttled API response
	PreemptionQuantum time.Duration // max sleep slice while backing off
	MessageDelay      time.Duration // spacing between notification sends
	MaxEmbeds         int
	MaxDescription    int
	ExistThreshold    int // role-not-exist strikes before deletion is considered
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		RateLimitDelay:    60 * time.Second,
		PreemptionQuantum: 2 * time.Second,
		MessageDelay:      2 * time.Second,
		MaxEmbeds:         10,
		MaxDescription:    4096,
		ExistThreshold:    3,
	}
}

// backoff sleeps out a rate-limit window in preemption-sized slices.
// If the process is evicted mid-window, resume_after is set to the window's
// end so admission does not hand it back early. Returns true when the
// caller must yield.
func backoff(ctx context.Context, clk clock.Clock, reg *scheduler.Registry, tok *scheduler.Token, cfg Config) bool {
	end := clk.Now().Add(cfg.RateLimitDelay)
	for {
		remaining := end.Sub(clk.Now())
		if remaining <= 0 {
			return false
		}
		slice := cfg.PreemptionQuantum
		if slice <= 0 || slice > remaining {
			slice = remaining
		}
		if err := clk.Sleep(ctx, slice); err != nil {
			return true // shutting down; progress is already persisted
		}
		if !tok.Active(ctx) {
			resume := end
			if err := reg.SetResumeAfter(ctx, tok.ProcessID(), &resume); err != nil {
				log.Printf("process %d: set resume_after failed: %v", tok.ProcessID(), err)
			}
			return true
		}
	}
}

// persistProgress writes the progress document, logging storage failures to
// the system log so the loop can retry on its next iteration.
func persistProgress(ctx context.Context, st store.Store, reg *scheduler.Registry, p *store.Process, prog *store.Progress) error {
	err := reg.UpdateProgress(ctx, p.ID, p.Action, *prog)
	if err != nil {
		msg := "progress write failed: " + err.Error()
		if logErr := st.AppendSystemLog(ctx, "error", "refresh", msg); logErr != nil {
			log.Printf("system log write failed: %v (original: %s)", logErr, msg)
		}
	}
	return err
}

// maxStorageRetries bounds consecutive storage failures before the process
// is failed so the scheduler can move on.
const maxStorageRetries = 5
