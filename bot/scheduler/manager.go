package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/whiteout-project/warden/bot/clock"
	"github.com/whiteout-project/warden/bot/observability"
	"github.com/whiteout-project/warden/bot/store"
	"github.com/whiteout-project/warden/bot/streaming"
)

// Manager is the admission/preemption state machine. One process is
// active at a time; a strictly-higher-priority arrival evicts the active
// process at its next cooperative checkpoint and takes its place.
type Manager struct {
	st   store.Store
	reg  *Registry
	exec *Executor
	clk  clock.Clock
	pub  streaming.Publisher
	cfg  Config

	mu      sync.Mutex // serializes admission decisions
	wg      sync.WaitGroup
	runCtx  context.Context // lifecycle context handlers run under
	cancel  context.CancelFunc
	started bool
}

func NewManager(st store.Store, reg *Registry, exec *Executor, clk clock.Clock, pub streaming.Publisher, cfg Config) *Manager {
	return &Manager{st: st, reg: reg, exec: exec, clk: clk, pub: pub, cfg: cfg}
}

// Start launches the wake loop and runs a first admission pass so work
// recovered at boot starts without waiting for a submission.
func (m *Manager) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.runCtx = runCtx
	m.cancel = cancel
	m.started = true
	m.mu.Unlock()

	m.Admit(runCtx)

	m.wg.Add(1)
	go m.wakeLoop(runCtx)
}

// Shutdown stops admission and waits for the in-flight handler to yield.
// Cooperative only: the running handler observes its token and returns
// with progress persisted, to be resumed by the next boot's sweep.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Submit admits after creation. Call with the id returned by Registry.Create.
func (m *Manager) Submit(ctx context.Context, id int64) error {
	p, err := m.st.GetProcess(ctx, id)
	if err != nil {
		return fmt.Errorf("submit process %d: %w", id, err)
	}
	m.publish(ctx, streaming.TopicProcessQueued, p)
	m.Admit(ctx)
	return nil
}

// Admit picks the best runnable process. With no active process the top
// of the queue starts; with a strictly worse active process the top
// preempts it. Equal priority never preempts.
func (m *Manager) Admit(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	defer func() {
		observability.AdmitLoopDuration.Observe(time.Since(start).Seconds())
	}()

	now := m.clk.Now()
	active, err := m.st.ActiveProcess(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("admit: active read failed: %v", err)
		return
	}
	if active != nil {
		// Cheap guard before loading the full queue head: preemption only
		// matters when a strictly better candidate is waiting.
		higher, err := m.st.HasHigherPriorityQueued(ctx, active.Priority, now)
		if err != nil {
			log.Printf("admit: priority probe failed: %v", err)
			return
		}
		if !higher {
			return
		}
	}

	top, err := m.st.NextQueuedProcess(ctx, now)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		log.Printf("admit: queue read failed: %v", err)
		return
	}

	if active == nil {
		m.activate(ctx, top)
		return
	}
	if active.Priority > top.Priority {
		m.preempt(ctx, active, top)
		return
	}
	logDecision(Decision{Decision: "SKIP", ProcessID: top.ID, Priority: top.Priority,
		Reason: fmt.Sprintf("active %d holds priority %d", active.ID, active.Priority)})
}

// preempt atomically requeues the victim with its preemptor recorded, then
// activates the preemptor. The victim's handler observes the status change
// at its next checkpoint and returns with progress already persisted.
func (m *Manager) preempt(ctx context.Context, victim, top *store.Process) {
	if err := m.reg.SetPreemption(ctx, victim.ID, top.ID); err != nil {
		log.Printf("preempt: requeue of %d failed: %v", victim.ID, err)
		return
	}
	logDecision(Decision{Decision: "PREEMPT", ProcessID: top.ID, Priority: top.Priority, VictimID: victim.ID})
	observability.Preemptions.Inc()
	m.publish(ctx, streaming.TopicProcessPreempted, victim)
	m.activate(ctx, top)
}

// activate marks the process active and launches its handler. Caller holds m.mu.
func (m *Manager) activate(ctx context.Context, p *store.Process) {
	if !m.exec.Handles(p.Action) {
		// Programming error: fail the record so admission moves on instead
		// of re-picking the same malformed row forever.
		m.failLocked(ctx, p.ID, fmt.Errorf("no handler registered for action %q", p.Action))
		return
	}
	if err := m.reg.MarkActive(ctx, p.ID); err != nil {
		if errors.Is(err, store.ErrActiveExists) {
			log.Printf("admit: invariant violation activating %d: %v", p.ID, err)
		}
		return
	}
	logDecision(Decision{Decision: "ADMIT", ProcessID: p.ID, Action: string(p.Action), Priority: p.Priority})
	observability.ActiveProcess.WithLabelValues(string(p.Action)).Set(1)
	m.publish(ctx, streaming.TopicProcessActive, p)

	// Handlers outlive the caller's request: they run under the manager's
	// lifecycle context, not the context that triggered admission.
	runCtx := m.runCtx
	if runCtx == nil {
		runCtx = context.Background()
	}
	m.wg.Add(1)
	go m.execute(runCtx, p.ID)
}

// execute runs the handler and settles the terminal state. A handler that
// yielded to preemption leaves the row queued; nothing to settle.
func (m *Manager) execute(ctx context.Context, id int64) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("CRITICAL: handler for process %d panicked: %v", id, r)
			m.Fail(ctx, id, fmt.Errorf("handler panic: %v", r))
		}
	}()

	p, err := m.st.GetProcess(ctx, id)
	if err != nil {
		m.Fail(ctx, id, fmt.Errorf("reload after activation: %w", err))
		return
	}
	defer observability.ActiveProcess.WithLabelValues(string(p.Action)).Set(0)

	err = m.exec.Dispatch(ctx, NewToken(m.st, id), p)
	if ctx.Err() != nil {
		// Shutdown: the row stays active and the next boot's recovery
		// sweep requeues it. Completing here would drop pending work.
		return
	}
	if err != nil {
		m.Fail(ctx, id, err)
		return
	}

	cur, err := m.st.GetProcess(ctx, id)
	if err != nil {
		log.Printf("process %d: status reload after run failed: %v", id, err)
		return
	}
	switch cur.Status {
	case store.StatusActive:
		m.Complete(ctx, id)
	case store.StatusQueued:
		// Preempted or self-requeued; admission owns it now.
	default:
		// Handler settled the row itself; nothing to do.
	}
}

// Complete finishes a process and admits the next one.
func (m *Manager) Complete(ctx context.Context, id int64) {
	if err := m.reg.Complete(ctx, id); err != nil {
		log.Printf("complete %d: %v", id, err)
		return
	}
	logDecision(Decision{Decision: "COMPLETE", ProcessID: id})
	m.publishByID(ctx, streaming.TopicProcessCompleted, id)
	m.Admit(ctx)
}

// Fail terminates a process, logs the cause, and admits the next one.
func (m *Manager) Fail(ctx context.Context, id int64, cause error) {
	if err := m.reg.Fail(ctx, id, cause); err != nil {
		log.Printf("fail %d: %v", id, err)
		return
	}
	logDecision(Decision{Decision: "FAIL", ProcessID: id, Reason: cause.Error()})
	m.publishByID(ctx, streaming.TopicProcessFailed, id)
	m.Admit(ctx)
}

// failLocked is Fail for callers already holding m.mu; it skips the
// re-admission (the caller's admission pass continues on the next wake).
func (m *Manager) failLocked(ctx context.Context, id int64, cause error) {
	if err := m.reg.Fail(ctx, id, cause); err != nil {
		log.Printf("fail %d: %v", id, err)
		return
	}
	logDecision(Decision{Decision: "FAIL", ProcessID: id, Reason: cause.Error()})
	m.publishByID(ctx, streaming.TopicProcessFailed, id)
}

// wakeLoop periodically re-runs admission so processes whose resume_after
// elapsed become candidates again, and refreshes the queue-depth gauges.
func (m *Manager) wakeLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.WakeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Admit(ctx)
			m.updateQueueGauges(ctx)
		}
	}
}

func (m *Manager) updateQueueGauges(ctx context.Context) {
	queued, err := m.st.ProcessesByStatus(ctx, store.StatusQueued)
	if err != nil {
		return
	}
	depths := map[store.Action]int{
		store.ActionAddPlayer: 0, store.ActionRefresh: 0,
		store.ActionAutoRefresh: 0, store.ActionRedeemGiftcode: 0,
	}
	for _, p := range queued {
		depths[p.Action]++
	}
	for action, n := range depths {
		observability.QueueDepth.WithLabelValues(string(action)).Set(float64(n))
	}
}

func (m *Manager) publish(ctx context.Context, topic string, p *store.Process) {
	if m.pub == nil {
		return
	}
	payload := map[string]any{
		"process_id": p.ID,
		"action":     p.Action,
		"target":     p.Target,
		"priority":   p.Priority,
	}
	if err := m.pub.Publish(ctx, topic, payload); err != nil {
		log.Printf("publish %s: %v", topic, err)
	}
}

func (m *Manager) publishByID(ctx context.Context, topic string, id int64) {
	p, err := m.st.GetProcess(ctx, id)
	if err != nil {
		return
	}
	m.publish(ctx, topic, p)
}
