package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/whiteout-project/warden/bot/clock"
	"github.com/whiteout-project/warden/bot/observability"
	"github.com/whiteout-project/warden/bot/store"
)

// Registry owns process rows: creation with the priority formula, status
// transitions, progress writes, and the boot-time crash sweep.
type Registry struct {
	st  store.Store
	clk clock.Clock
}

func NewRegistry(st store.Store, clk clock.Clock) *Registry {
	return &Registry{st: st, clk: clk}
}

// Create validates the target, computes the priority, seeds progress with
// every id pending, and inserts the process queued.
func (r *Registry) Create(ctx context.Context, action store.Action, target int64, allianceRank int, details store.Details, createdBy string) (int64, error) {
	if target < 0 {
		return 0, fmt.Errorf("create process: target %d must be non-negative", target)
	}
	priority, err := PriorityFor(action, allianceRank)
	if err != nil {
		return 0, fmt.Errorf("create process: %w", err)
	}
	now := r.clk.Now()
	p := &store.Process{
		Action:    action,
		Target:    target,
		Status:    store.StatusQueued,
		Priority:  priority,
		Details:   details,
		Progress:  store.NewProgress(details.PlayerIDs),
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return r.st.InsertProcess(ctx, p)
}

func (r *Registry) Get(ctx context.Context, id int64) (*store.Process, error) {
	return r.st.GetProcess(ctx, id)
}

// UpdateProgress replaces the progress document after enforcing the
// partition invariant for the process's action kind.
func (r *Registry) UpdateProgress(ctx context.Context, id int64, action store.Action, progress store.Progress) error {
	if err := progress.Validate(action); err != nil {
		return fmt.Errorf("process %d: %w", id, err)
	}
	return r.st.UpdateProgress(ctx, id, progress, r.clk.Now())
}

// SetResumeAfter records when a rate-limit back-off ends; nil clears it.
func (r *Registry) SetResumeAfter(ctx context.Context, id int64, at *time.Time) error {
	return r.st.SetResumeAfter(ctx, id, at, r.clk.Now())
}

// MarkActive admits a queued process. The store rejects a second active
// row, which would indicate a scheduler bug.
func (r *Registry) MarkActive(ctx context.Context, id int64) error {
	return r.st.MarkActive(ctx, id, r.clk.Now())
}

// SetPreemption evicts an active process back to queued, recording the
// preemptor and clearing any stale resume window.
func (r *Registry) SetPreemption(ctx context.Context, id, preemptedBy int64) error {
	return r.st.SetPreemption(ctx, id, preemptedBy, r.clk.Now())
}

// Requeue puts an active process back in the queue on its own initiative
// (e.g. to retry notification emission later), optionally gated behind a
// resume window.
func (r *Registry) Requeue(ctx context.Context, id int64, resumeAfter *time.Time) error {
	now := r.clk.Now()
	if err := r.st.SetProcessStatus(ctx, id, store.StatusQueued, now); err != nil {
		return err
	}
	return r.st.SetResumeAfter(ctx, id, resumeAfter, now)
}

// Complete finishes a process. Only an active process may complete.
func (r *Registry) Complete(ctx context.Context, id int64) error {
	p, err := r.st.GetProcess(ctx, id)
	if err != nil {
		return err
	}
	if p.Status != store.StatusActive {
		return fmt.Errorf("process %d: cannot complete from status %s", id, p.Status)
	}
	observability.ProcessOutcomes.WithLabelValues(string(p.Action), string(store.StatusCompleted)).Inc()
	return r.st.SetProcessStatus(ctx, id, store.StatusCompleted, r.clk.Now())
}

// Fail terminates a process and records the cause in the system log.
func (r *Registry) Fail(ctx context.Context, id int64, cause error) error {
	p, err := r.st.GetProcess(ctx, id)
	if err != nil {
		return err
	}
	if p.Status == store.StatusCompleted || p.Status == store.StatusFailed {
		return fmt.Errorf("process %d: cannot fail from terminal status %s", id, p.Status)
	}
	msg := fmt.Sprintf("process %d (%s) failed: %v", id, p.Action, cause)
	if logErr := r.st.AppendSystemLog(ctx, "error", "scheduler", msg); logErr != nil {
		log.Printf("system log write failed: %v (original: %s)", logErr, msg)
	}
	observability.ProcessOutcomes.WithLabelValues(string(p.Action), string(store.StatusFailed)).Inc()
	return r.st.SetProcessStatus(ctx, id, store.StatusFailed, r.clk.Now())
}

// RecoverInterrupted is the boot sweep: rows left active by a crash (no
// preemptor recorded) go back to queued so admission picks them up again.
func (r *Registry) RecoverInterrupted(ctx context.Context) (int, error) {
	n, err := r.st.RecoverInterrupted(ctx, r.clk.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("crash recovery: requeued %d interrupted process(es)", n)
		observability.RecoveredProcesses.Add(float64(n))
	}
	return n, nil
}
