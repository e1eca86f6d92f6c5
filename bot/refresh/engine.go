package refresh

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/whiteout-project/warden/bot/clock"
	"github.com/whiteout-project/warden/bot/gameapi"
	"github.com/whiteout-project/warden/bot/observability"
	"github.com/whiteout-project/warden/bot/scheduler"
	"github.com/whiteout-project/warden/bot/store"
	"github.com/whiteout-project/warden/bot/streaming"
)

// Engine drives per-alliance refreshing. It is both the handler for the
// auto_refresh and refresh actions and the owner of the per-alliance
// timers that create recurring auto_refresh work.
type Engine struct {
	st     store.Store
	reg    *scheduler.Registry
	sub    Submitter
	api    API
	sink   Sink
	budget *scheduler.Budget
	dedup  *store.NotificationDedup
	clk    clock.Clock
	pub    streaming.Publisher
	cfg    Config

	mu      sync.Mutex
	inFlight map[int64]bool      // alliance id -> auto_refresh queued-or-active
	timers   map[int64]timerSlot // alliance id -> armed one-shot
	baseCtx  context.Context
}

type timerSlot struct {
	timer  clock.Timer
	fireAt time.Time
}

func NewEngine(st store.Store, reg *scheduler.Registry, sub Submitter, api API, sink Sink,
	budget *scheduler.Budget, dedup *store.NotificationDedup, clk clock.Clock,
	pub streaming.Publisher, cfg Config) *Engine {
	return &Engine{
		st: st, reg: reg, sub: sub, api: api, sink: sink,
		budget: budget, dedup: dedup, clk: clk, pub: pub, cfg: cfg,
		inFlight: make(map[int64]bool),
		timers:   make(map[int64]timerSlot),
		baseCtx:  context.Background(),
	}
}

// Bootstrap rebuilds the timer graph after a restart. Alliances with a
// recovered auto_refresh process in flight keep their single-flight marker
// and get no timer; their re-arm happens when that process completes.
func (e *Engine) Bootstrap(ctx context.Context) error {
	e.baseCtx = ctx
	alliances, err := e.st.ListAlliances(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: list alliances: %w", err)
	}
	ids := make([]int64, 0, len(alliances))
	for _, a := range alliances {
		ids = append(ids, a.ID)
	}
	counts, err := e.st.PlayerCountsByAlliances(ctx, ids)
	if err != nil {
		return fmt.Errorf("bootstrap: player counts: %w", err)
	}

	for _, a := range alliances {
		iv, err := ParseInterval(a.Interval)
		if err != nil {
			log.Printf("alliance %d: bad interval %q: %v", a.ID, a.Interval, err)
			continue
		}
		if iv.IsZero() {
			continue
		}
		open, err := e.st.HasOpenProcess(ctx, store.ActionAutoRefresh, a.ID)
		if err != nil {
			return fmt.Errorf("bootstrap: open-process check for alliance %d: %w", a.ID, err)
		}
		if open {
			e.mu.Lock()
			e.inFlight[a.ID] = true
			e.mu.Unlock()
			continue
		}
		if counts[a.ID] == 0 {
			continue
		}
		e.Schedule(a)
	}
	return nil
}

// Schedule arms (or re-arms) the alliance's timer from its current
// interval. Replacing an armed timer cancels the old handle first.
func (e *Engine) Schedule(a *store.Alliance) {
	iv, err := ParseInterval(a.Interval)
	if err != nil || iv.IsZero() {
		e.Unschedule(a.ID)
		return
	}
	now := e.clk.Now()
	fireAt := iv.Next(now)
	id := a.ID

	e.mu.Lock()
	if old, ok := e.timers[id]; ok {
		old.timer.Stop()
	}
	e.timers[id] = timerSlot{
		timer:  e.clk.AfterFunc(fireAt.Sub(now), func() { e.onFire(id) }),
		fireAt: fireAt,
	}
	observability.RefreshTimersArmed.Set(float64(len(e.timers)))
	e.mu.Unlock()
}

// Unschedule cancels the alliance's pending timer, if any.
func (e *Engine) Unschedule(allianceID int64) {
	e.mu.Lock()
	if old, ok := e.timers[allianceID]; ok {
		old.timer.Stop()
		delete(e.timers, allianceID)
	}
	observability.RefreshTimersArmed.Set(float64(len(e.timers)))
	e.mu.Unlock()
}

// EnsureScheduled arms the timer unless an auto_refresh is already in
// flight or a timer is already pending for the alliance.
func (e *Engine) EnsureScheduled(ctx context.Context, allianceID int64) {
	e.mu.Lock()
	busy := e.inFlight[allianceID]
	_, armed := e.timers[allianceID]
	e.mu.Unlock()
	if busy || armed {
		return
	}
	a, err := e.st.GetAlliance(ctx, allianceID)
	if err != nil {
		return
	}
	e.Schedule(a)
}

// Shutdown stops every pending timer.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, slot := range e.timers {
		slot.timer.Stop()
		delete(e.timers, id)
	}
	observability.RefreshTimersArmed.Set(0)
}

// onFire creates the next auto_refresh process. A fire that finds the
// single-flight marker set is an idempotent no-op.
func (e *Engine) onFire(allianceID int64) {
	ctx := e.baseCtx

	e.mu.Lock()
	delete(e.timers, allianceID)
	observability.RefreshTimersArmed.Set(float64(len(e.timers)))
	if e.inFlight[allianceID] {
		e.mu.Unlock()
		return
	}
	e.inFlight[allianceID] = true
	e.mu.Unlock()

	if err := e.createAutoRefresh(ctx, allianceID); err != nil {
		log.Printf("alliance %d: auto refresh creation failed: %v", allianceID, err)
		e.clearInFlight(allianceID)
		if a, aerr := e.st.GetAlliance(ctx, allianceID); aerr == nil {
			e.Schedule(a)
		}
	}
}

func (e *Engine) createAutoRefresh(ctx context.Context, allianceID int64) error {
	players, err := e.st.ListPlayersByAlliance(ctx, allianceID)
	if err != nil {
		return err
	}
	if len(players) == 0 {
		// Roster emptied since the timer was armed; try again next interval.
		return errors.New("no players")
	}
	fids := make([]int64, len(players))
	for i, p := range players {
		fids[i] = p.Fid
	}
	id, err := e.reg.Create(ctx, store.ActionAutoRefresh, allianceID, 0, store.Details{PlayerIDs: fids}, "scheduler")
	if err != nil {
		return err
	}
	return e.sub.Submit(ctx, id)
}

// SubmitManualRefresh creates a one-shot refresh for the alliance at the
// higher manual priority.
func (e *Engine) SubmitManualRefresh(ctx context.Context, allianceID int64, createdBy string) (int64, error) {
	players, err := e.st.ListPlayersByAlliance(ctx, allianceID)
	if err != nil {
		return 0, err
	}
	if len(players) == 0 {
		return 0, fmt.Errorf("alliance %d has no players", allianceID)
	}
	fids := make([]int64, len(players))
	for i, p := range players {
		fids[i] = p.Fid
	}
	id, err := e.reg.Create(ctx, store.ActionRefresh, allianceID, 0, store.Details{PlayerIDs: fids}, createdBy)
	if err != nil {
		return 0, err
	}
	return id, e.sub.Submit(ctx, id)
}

func (e *Engine) clearInFlight(allianceID int64) {
	e.mu.Lock()
	delete(e.inFlight, allianceID)
	e.mu.Unlock()
}

// Run executes one refresh pass. It serves both action kinds: auto_refresh
// (recurring, scheduler-created) and refresh (one-shot, manual).
func (e *Engine) Run(ctx context.Context, tok *scheduler.Token, p *store.Process) (err error) {
	auto := p.Action == store.ActionAutoRefresh
	if auto {
		defer func() {
			// A failed pass must not strand the alliance: drop the marker
			// and try again on the next interval.
			if err != nil {
				e.clearInFlight(p.Target)
				if a, aerr := e.st.GetAlliance(ctx, p.Target); aerr == nil {
					e.Schedule(a)
				}
			}
		}()
	}

	// The alliance row is reloaded fresh: channel and interval may have
	// changed since creation, or the alliance may be gone entirely.
	a, err := e.st.GetAlliance(ctx, p.Target)
	if errors.Is(err, store.ErrNotFound) {
		if auto {
			e.clearInFlight(p.Target)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("load alliance %d: %w", p.Target, err)
	}

	prog := p.Progress
	storageErrs := 0

	for len(prog.Pending) > 0 {
		if !tok.Active(ctx) {
			// Preempted. Buckets were flushed after every move, but flush
			// once more in case the last write was the one that failed.
			_ = persistProgress(ctx, e.st, e.reg, p, &prog)
			return nil
		}
		fid := prog.Pending[0]

		player, perr := e.st.GetPlayer(ctx, fid)
		if errors.Is(perr, store.ErrNotFound) {
			// Deleted mid-flight.
			prog.Advance(fid, store.BucketFailed)
			observability.PlayersProcessed.WithLabelValues(string(p.Action), string(store.BucketFailed)).Inc()
			if persistProgress(ctx, e.st, e.reg, p, &prog) != nil {
				storageErrs++
			} else {
				storageErrs = 0
			}
			continue
		}
		if perr != nil {
			storageErrs++
			if storageErrs >= maxStorageRetries {
				return fmt.Errorf("load player %d: %w", fid, perr)
			}
			continue
		}

		if err := e.budget.Acquire(ctx); err != nil {
			return nil // shutting down
		}
		res := e.api.Fetch(ctx, fid)
		observability.APICalls.WithLabelValues("player", res.Outcome.String()).Inc()

		switch res.Outcome {
		case gameapi.FetchRoleNotExist:
			if serr := e.handleNotExist(ctx, player); serr != nil {
				storageErrs++
				if storageErrs >= maxStorageRetries {
					return serr
				}
				continue
			}
			prog.Advance(fid, store.BucketDone)
			observability.PlayersProcessed.WithLabelValues(string(p.Action), string(store.BucketDone)).Inc()

		case gameapi.FetchRateLimited:
			if backoff(ctx, e.clk, e.reg, tok, e.cfg) {
				_ = persistProgress(ctx, e.st, e.reg, p, &prog)
				return nil
			}
			continue // retry the same fid

		case gameapi.FetchError:
			prog.Advance(fid, store.BucketFailed)
			observability.PlayersProcessed.WithLabelValues(string(p.Action), string(store.BucketFailed)).Inc()

		case gameapi.FetchOK:
			bucket, serr := e.applySnapshot(ctx, p, player, res, &prog)
			if serr != nil {
				storageErrs++
				if storageErrs >= maxStorageRetries {
					return serr
				}
				continue
			}
			prog.Advance(fid, bucket)
			observability.PlayersProcessed.WithLabelValues(string(p.Action), string(bucket)).Inc()
		}

		if persistProgress(ctx, e.st, e.reg, p, &prog) != nil {
			storageErrs++
			if storageErrs >= maxStorageRetries {
				return fmt.Errorf("progress write for process %d kept failing", p.ID)
			}
			continue
		}
		storageErrs = 0
	}

	if !tok.Active(ctx) {
		return nil
	}

	// Notification emission, then re-arm. A failed send leaves the
	// detected changes persisted and parks the process back in the queue
	// so the next admission retries delivery.
	if len(prog.DetectedChanges) > 0 && a.ChannelID != "" {
		if serr := e.emit(ctx, a, p, prog.DetectedChanges); serr != nil {
			log.Printf("process %d: notification send failed, requeueing: %v", p.ID, serr)
			resume := e.clk.Now().Add(e.cfg.RateLimitDelay)
			if rerr := e.reg.Requeue(ctx, p.ID, &resume); rerr != nil {
				return fmt.Errorf("requeue after send failure: %w", rerr)
			}
			return nil
		}
	}
	prog.DetectedChanges = nil
	if perr := persistProgress(ctx, e.st, e.reg, p, &prog); perr != nil {
		return perr
	}

	e.rearm(ctx, p, auto)
	return nil
}

// rearm re-reads the alliance and schedules the next fire. The current row
// wins: an interval edited mid-pass takes effect now. A manual refresh
// re-arms only when the alliance still has both a valid interval (of
// either form) and a channel.
func (e *Engine) rearm(ctx context.Context, p *store.Process, auto bool) {
	if auto {
		e.clearInFlight(p.Target)
	}
	cur, err := e.st.GetAlliance(ctx, p.Target)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		log.Printf("rearm: load alliance %d: %v", p.Target, err)
		return
	}
	if auto {
		e.Schedule(cur)
		return
	}
	if cur.ChannelID == "" {
		return
	}
	e.EnsureScheduled(ctx, cur.ID)
}

// handleNotExist bumps the player's strike counter and deletes the row
// once the threshold is hit with auto-delete enabled.
func (e *Engine) handleNotExist(ctx context.Context, player *store.Player) error {
	player.Exist++
	settings, err := e.st.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if player.Exist >= e.cfg.ExistThreshold && settings.AutoDelete {
		if err := e.st.DeletePlayer(ctx, player.Fid); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("delete player %d: %w", player.Fid, err)
		}
		return nil
	}
	if err := e.st.UpsertPlayer(ctx, player); err != nil {
		return fmt.Errorf("update player %d: %w", player.Fid, err)
	}
	return nil
}

// applySnapshot diffs the snapshot against the stored row, records any
// changes (history rows + detectedChanges) and returns the destination
// bucket. The detected entry lands in progress before the caller persists,
// so preemption cannot lose a pending notification.
func (e *Engine) applySnapshot(ctx context.Context, p *store.Process, player *store.Player, res gameapi.FetchResult, prog *store.Progress) (store.Bucket, error) {
	snap := Normalize(res.Player)
	changes := Diff(player, snap)

	before := *player
	player.Nickname = snap.Nickname
	player.FurnaceLevel = snap.FurnaceLevel
	player.State = snap.State
	if player.Exist > 0 {
		player.Exist = 0 // earlier not-exist strikes were a false positive
	}

	if err := e.st.ApplyPlayerDiff(ctx, player, changes, e.clk.Now()); err != nil {
		return "", fmt.Errorf("apply diff for player %d: %w", player.Fid, err)
	}
	if len(changes) == 0 {
		return store.BucketUnchanged, nil
	}
	entry := store.ChangeEntry{Player: before, Changes: changes, New: snap}
	prog.DetectedChanges = append(prog.DetectedChanges, entry)
	if e.pub != nil {
		_ = e.pub.Publish(ctx, streaming.TopicChangeDetected, entry)
	}
	return store.BucketChanged, nil
}

// emit sends the grouped change notifications with inter-message spacing.
// With redis configured, entries another pass already delivered are
// filtered out; a failed send releases this pass's claims so the retry
// sends them again.
func (e *Engine) emit(ctx context.Context, a *store.Alliance, p *store.Process, entries []store.ChangeEntry) error {
	toSend := entries
	var claimed []string
	if e.dedup != nil {
		toSend = nil
		for _, entry := range entries {
			key := store.DedupKey(p.ID, entry)
			first, err := e.dedup.MarkSent(ctx, key)
			if err != nil {
				// A dedup outage must not block notifications; accept the
				// duplicate risk the non-redis deployment already has.
				log.Printf("notification dedup check failed: %v", err)
				first = true
			}
			if first {
				toSend = append(toSend, entry)
				claimed = append(claimed, key)
			}
		}
	}
	msgs := BuildMessages(a.Name, toSend, e.cfg.MaxEmbeds, e.cfg.MaxDescription)
	for i, msg := range msgs {
		if i > 0 {
			if err := e.clk.Sleep(ctx, e.cfg.MessageDelay); err != nil {
				return err
			}
		}
		if err := e.sink.Send(ctx, a.ChannelID, []Message{msg}); err != nil {
			observability.NotificationSends.WithLabelValues("error").Inc()
			for _, key := range claimed {
				_ = e.dedup.Unmark(ctx, key)
			}
			return err
		}
		observability.NotificationSends.WithLabelValues("ok").Inc()
	}
	if e.pub != nil && len(msgs) > 0 {
		_ = e.pub.Publish(ctx, streaming.TopicNotificationSent, map[string]any{
			"alliance_id": a.ID, "messages": len(msgs), "entries": len(toSend),
		})
	}
	return nil
}
