package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrActiveExists rejects an activation that would make a second process
	// active. Hitting it indicates a scheduler bug, not a user error.
	ErrActiveExists = errors.New("store: another process is already active")
	// ErrNotQueued rejects a transition whose precondition status did not hold.
	ErrNotQueued = errors.New("store: process is not queued")
)

// Store is the durable backend shared by the scheduler and the refresh
// engine. Implementations serialize writes (single-writer semantics);
// readers never block writers beyond one commit.
type Store interface {
	// Processes
	InsertProcess(ctx context.Context, p *Process) (int64, error)
	GetProcess(ctx context.Context, id int64) (*Process, error)
	ProcessesByStatus(ctx context.Context, status ProcessStatus) ([]*Process, error)
	// NextQueuedProcess returns the highest-priority queued process whose
	// resume_after is unset or past, breaking ties by created_at then id.
	// Returns ErrNotFound when the queue is empty.
	NextQueuedProcess(ctx context.Context, now time.Time) (*Process, error)
	HasHigherPriorityQueued(ctx context.Context, priority int, now time.Time) (bool, error)
	ActiveProcess(ctx context.Context) (*Process, error)
	// MarkActive transitions a queued process to active, clearing
	// preempted_by and resume_after. Fails with ErrActiveExists if another
	// process is active, ErrNotQueued if the row left the queued state.
	MarkActive(ctx context.Context, id int64, now time.Time) error
	// SetProcessStatus sets a process's status; completed and failed also
	// stamp completed_at.
	SetProcessStatus(ctx context.Context, id int64, status ProcessStatus, now time.Time) error
	UpdateProgress(ctx context.Context, id int64, progress Progress, now time.Time) error
	SetResumeAfter(ctx context.Context, id int64, at *time.Time, now time.Time) error
	// SetPreemption atomically requeues a process: status=queued,
	// preempted_by set, resume_after cleared.
	SetPreemption(ctx context.Context, id, preemptedBy int64, now time.Time) error
	// RecoverInterrupted is the boot-time crash sweep: every row left active
	// with no preemptor is rewritten to queued. Returns the number swept.
	RecoverInterrupted(ctx context.Context, now time.Time) (int, error)
	// HasOpenProcess reports whether a queued-or-active process of the given
	// action exists for the target (single-flight check).
	HasOpenProcess(ctx context.Context, action Action, target int64) (bool, error)

	// Alliances
	GetAlliance(ctx context.Context, id int64) (*Alliance, error)
	ListAlliances(ctx context.Context) ([]*Alliance, error)
	UpsertAlliance(ctx context.Context, a *Alliance) error
	DeleteAlliance(ctx context.Context, id int64) error
	PlayerCountsByAlliances(ctx context.Context, ids []int64) (map[int64]int, error)

	// Players
	GetPlayer(ctx context.Context, fid int64) (*Player, error)
	ListPlayersByAlliance(ctx context.Context, allianceID int64) ([]*Player, error)
	UpsertPlayer(ctx context.Context, p *Player) error
	DeletePlayer(ctx context.Context, fid int64) error
	// ApplyPlayerDiff updates the player row and appends the matching
	// furnace/nickname history rows in a single transaction.
	ApplyPlayerDiff(ctx context.Context, p *Player, changes []Change, at time.Time) error
	ListFurnaceChanges(ctx context.Context, fid int64, limit int) ([]FieldChange, error)
	ListNicknameChanges(ctx context.Context, fid int64, limit int) ([]FieldChange, error)

	// Gift codes
	FidsWhoRedeemed(ctx context.Context, code string) ([]int64, error)
	// CheckBulkUsage returns the subset of fids that already have a usage
	// row for the code.
	CheckBulkUsage(ctx context.Context, code string, fids []int64) ([]int64, error)
	InsertUsage(ctx context.Context, u Usage) error

	// Settings
	GetSettings(ctx context.Context) (Settings, error)
	SetAutoDelete(ctx context.Context, on bool) error

	// Logs
	AppendSystemLog(ctx context.Context, level, source, message string) error
	ListSystemLogs(ctx context.Context, limit int) ([]SystemLog, error)
	AppendAdminLog(ctx context.Context, actor, action, detail string) error
	ListAdminLogs(ctx context.Context, limit int) ([]AdminLog, error)

	Close() error
}
