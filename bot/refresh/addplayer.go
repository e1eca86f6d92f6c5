package refresh

import (
	"context"
	"errors"
	"fmt"

	"github.com/whiteout-project/warden/bot/clock"
	"github.com/whiteout-project/warden/bot/gameapi"
	"github.com/whiteout-project/warden/bot/observability"
	"github.com/whiteout-project/warden/bot/scheduler"
	"github.com/whiteout-project/warden/bot/store"
)

// AddPlayerHandler imports new accounts into an alliance roster: one fetch
// per fid, upsert on success. It shares the engine's checkpoint, spacing,
// and rate-limit conventions.
type AddPlayerHandler struct {
	st     store.Store
	reg    *scheduler.Registry
	api    API
	budget *scheduler.Budget
	clk    clock.Clock
	cfg    Config
	engine *Engine // optional; arms the alliance timer once the roster is non-empty
}

func NewAddPlayerHandler(st store.Store, reg *scheduler.Registry, api API, budget *scheduler.Budget, clk clock.Clock, cfg Config, engine *Engine) *AddPlayerHandler {
	return &AddPlayerHandler{st: st, reg: reg, api: api, budget: budget, clk: clk, cfg: cfg, engine: engine}
}

func (h *AddPlayerHandler) Run(ctx context.Context, tok *scheduler.Token, p *store.Process) error {
	prog := p.Progress
	storageErrs := 0
	added := 0

	for len(prog.Pending) > 0 {
		if !tok.Active(ctx) {
			_ = persistProgress(ctx, h.st, h.reg, p, &prog)
			return nil
		}
		fid := prog.Pending[0]

		if err := h.budget.Acquire(ctx); err != nil {
			return nil
		}
		res := h.api.Fetch(ctx, fid)
		observability.APICalls.WithLabelValues("player", res.Outcome.String()).Inc()

		switch res.Outcome {
		case gameapi.FetchOK:
			_, err := h.st.GetPlayer(ctx, fid)
			switch {
			case err == nil:
				prog.Advance(fid, store.BucketExisting)
				observability.PlayersProcessed.WithLabelValues(string(p.Action), string(store.BucketExisting)).Inc()
			case errors.Is(err, store.ErrNotFound):
				snap := Normalize(res.Player)
				player := &store.Player{
					Fid:          fid,
					AllianceID:   p.Target,
					Nickname:     snap.Nickname,
					FurnaceLevel: snap.FurnaceLevel,
					State:        snap.State,
				}
				if uerr := h.st.UpsertPlayer(ctx, player); uerr != nil {
					storageErrs++
					if storageErrs >= maxStorageRetries {
						return fmt.Errorf("insert player %d: %w", fid, uerr)
					}
					continue
				}
				added++
				prog.Advance(fid, store.BucketDone)
				observability.PlayersProcessed.WithLabelValues(string(p.Action), string(store.BucketDone)).Inc()
			default:
				storageErrs++
				if storageErrs >= maxStorageRetries {
					return fmt.Errorf("check player %d: %w", fid, err)
				}
				continue
			}

		case gameapi.FetchRoleNotExist, gameapi.FetchError:
			prog.Advance(fid, store.BucketFailed)
			observability.PlayersProcessed.WithLabelValues(string(p.Action), string(store.BucketFailed)).Inc()

		case gameapi.FetchRateLimited:
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

	if added > 0 && h.engine != nil && tok.Active(ctx) {
		h.engine.EnsureScheduled(ctx, p.Target)
	}
	return nil
}
