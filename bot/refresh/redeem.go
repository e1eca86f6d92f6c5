package refresh

import (
	"context"
	"fmt"

	"github.com/whiteout-project/warden/bot/clock"
	"github.com/whiteout-project/warden/bot/gameapi"
	"github.com/whiteout-project/warden/bot/observability"
	"github.com/whiteout-project/warden/bot/scheduler"
	"github.com/whiteout-project/warden/bot/store"
)

// RedeemHandler claims a gift code for every pending fid. Players the
// usage table already knows about are skipped up front via one bulk query;
// a dead code short-circuits the rest of the loop instead of burning the
// API budget on it.
type RedeemHandler struct {
	st     store.Store
	reg    *scheduler.Registry
	api    API
	budget *scheduler.Budget
	clk    clock.Clock
	cfg    Config
}

func NewRedeemHandler(st store.Store, reg *scheduler.Registry, api API, budget *scheduler.Budget, clk clock.Clock, cfg Config) *RedeemHandler {
	return &RedeemHandler{st: st, reg: reg, api: api, budget: budget, clk: clk, cfg: cfg}
}

func (h *RedeemHandler) Run(ctx context.Context, tok *scheduler.Token, p *store.Process) error {
	code := p.Details.GiftCode
	if code == "" {
		return fmt.Errorf("process %d: redeem_giftcode without gift_code", p.ID)
	}
	prog := p.Progress
	storageErrs := 0

	// Bulk pre-filter: anyone with a usage row already redeemed this code.
	if len(prog.Pending) > 0 {
		already, err := h.st.CheckBulkUsage(ctx, code, prog.Pending)
		if err != nil {
			return fmt.Errorf("bulk usage check for %q: %w", code, err)
		}
		for _, fid := range already {
			prog.Advance(fid, store.BucketDone)
			observability.PlayersProcessed.WithLabelValues(string(p.Action), string(store.BucketDone)).Inc()
		}
		if len(already) > 0 {
			if err := persistProgress(ctx, h.st, h.reg, p, &prog); err != nil {
				return err
			}
		}
	}

	for len(prog.Pending) > 0 {
		if !tok.Active(ctx) {
			_ = persistProgress(ctx, h.st, h.reg, p, &prog)
			return nil
		}
		fid := prog.Pending[0]

		if err := h.budget.Acquire(ctx); err != nil {
			return nil
		}
		res := h.api.Redeem(ctx, fid, code)
		observability.APICalls.WithLabelValues("gift_code", res.Outcome.String()).Inc()

		switch res.Outcome {
		case gameapi.RedeemSuccess, gameapi.RedeemAlreadyClaimed:
			if err := h.recordUsage(ctx, fid, code, res.Outcome.String()); err != nil {
				storageErrs++
				if storageErrs >= maxStorageRetries {
					return err
				}
				continue
			}
			prog.Advance(fid, store.BucketDone)
			observability.PlayersProcessed.WithLabelValues(string(p.Action), string(store.BucketDone)).Inc()

		case gameapi.RedeemCodeExpired, gameapi.RedeemCodeNotFound:
			// The code is dead for everyone; spending one API call per
			// remaining fid would tell us nothing new.
			for len(prog.Pending) > 0 {
				next := prog.Pending[0]
				prog.Advance(next, store.BucketFailed)
				observability.PlayersProcessed.WithLabelValues(string(p.Action), string(store.BucketFailed)).Inc()
			}
			if err := h.st.AppendSystemLog(ctx, "warn", "redeem",
				fmt.Sprintf("gift code %q rejected as %s; remaining players skipped", code, res.Outcome)); err != nil {
				storageErrs++
			}

		case gameapi.RedeemRoleNotExist, gameapi.RedeemError:
			if err := h.recordUsage(ctx, fid, code, res.Outcome.String()); err != nil {
				storageErrs++
				if storageErrs >= maxStorageRetries {
					return err
				}
				continue
			}
			prog.Advance(fid, store.BucketFailed)
			observability.PlayersProcessed.WithLabelValues(string(p.Action), string(store.BucketFailed)).Inc()

		case gameapi.RedeemRateLimited:
			if backoff(ctx, h.clk, h.reg, tok, h.cfg) {
				_ = persistProgress(ctx, h.st, h.reg, p, &prog)
				return nil
			}
			continue // retry the same fid
		}

		if persistProgress(ctx, h.st, h.reg, p, &prog) != nil {
			storageErrs++
			if storageErrs >= maxStorageRetries {
				return fmt.Errorf("progress write for process %d kept failing", p.ID)
			}
			continue
		}
		storageErrs = 0
	}
	return nil
}

func (h *RedeemHandler) recordUsage(ctx context.Context, fid int64, code, status string) error {
	if err := h.st.InsertUsage(ctx, store.Usage{Fid: fid, GiftCode: code, Status: status}); err != nil {
		return fmt.Errorf("record usage for %d/%q: %w", fid, code, err)
	}
	return nil
}
