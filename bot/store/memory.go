package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the in-memory Store used by tests and single-shot tooling.
// The mutex gives it the same single-writer semantics as the SQL backends.
type MemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	processes map[int64]*Process
	queued    processHeap
	alliances map[int64]*Alliance
	players   map[int64]*Player
	furnace   []FieldChange
	nicknames []FieldChange
	usage     map[string]map[int64]string // code -> fid -> status
	settings  Settings
	system    []SystemLog
	admin     []AdminLog
}

// NewMemoryStore initializes an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		processes: make(map[int64]*Process),
		alliances: make(map[int64]*Alliance),
		players:   make(map[int64]*Player),
		usage:     make(map[string]map[int64]string),
	}
}

func (s *MemoryStore) Close() error { return nil }

// --- Processes ---

// copyProcess detaches a row from storage: the progress document and the
// player-id list are deep-copied so callers never mutate stored state.
func copyProcess(p *Process) *Process {
	cp := *p
	cp.Progress = p.Progress.Clone()
	cp.Details.PlayerIDs = append([]int64(nil), p.Details.PlayerIDs...)
	return &cp
}

func (s *MemoryStore) InsertProcess(ctx context.Context, p *Process) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	cp := copyProcess(p)
	cp.ID = s.nextID
	s.processes[cp.ID] = cp
	if cp.Status == StatusQueued {
		s.queued.push(queueEntry{id: cp.ID, priority: cp.Priority, seq: cp.CreatedAt.UnixMilli()})
	}
	p.ID = cp.ID
	return cp.ID, nil
}

func (s *MemoryStore) GetProcess(ctx context.Context, id int64) (*Process, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.processes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyProcess(p), nil
}

func (s *MemoryStore) ProcessesByStatus(ctx context.Context, status ProcessStatus) ([]*Process, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Process
	for _, p := range s.processes {
		if p.Status == status {
			out = append(out, copyProcess(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) NextQueuedProcess(ctx context.Context, now time.Time) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Lazy pop: entries may be stale (row re-prioritized, resumed, or no
	// longer queued). Skipped-but-valid entries are pushed back.
	var deferred []queueEntry
	defer func() {
		for _, e := range deferred {
			s.queued.push(e)
		}
	}()

	for {
		e, ok := s.queued.pop()
		if !ok {
			return nil, ErrNotFound
		}
		p, live := s.processes[e.id]
		if !live || p.Status != StatusQueued || p.Priority != e.priority {
			continue // stale
		}
		if p.ResumeAfter != nil && p.ResumeAfter.After(now) {
			deferred = append(deferred, e)
			continue
		}
		deferred = append(deferred, e)
		return copyProcess(p), nil
	}
}

func (s *MemoryStore) HasHigherPriorityQueued(ctx context.Context, priority int, now time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.processes {
		if p.Status == StatusQueued && p.Priority < priority &&
			(p.ResumeAfter == nil || !p.ResumeAfter.After(now)) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ActiveProcess(ctx context.Context) (*Process, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.processes {
		if p.Status == StatusActive {
			return copyProcess(p), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) MarkActive(ctx context.Context, id int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.processes {
		if p.Status == StatusActive && p.ID != id {
			return ErrActiveExists
		}
	}
	p, ok := s.processes[id]
	if !ok || p.Status != StatusQueued {
		return ErrNotQueued
	}
	p.Status = StatusActive
	p.PreemptedBy = nil
	p.ResumeAfter = nil
	p.UpdatedAt = now
	return nil
}

func (s *MemoryStore) SetProcessStatus(ctx context.Context, id int64, status ProcessStatus, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	p.UpdatedAt = now
	if status == StatusCompleted || status == StatusFailed {
		t := now
		p.CompletedAt = &t
	}
	if status == StatusQueued {
		s.queued.push(queueEntry{id: p.ID, priority: p.Priority, seq: p.CreatedAt.UnixMilli()})
	}
	return nil
}

func (s *MemoryStore) UpdateProgress(ctx context.Context, id int64, progress Progress, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[id]
	if !ok {
		return ErrNotFound
	}
	p.Progress = progress.Clone()
	p.UpdatedAt = now
	return nil
}

func (s *MemoryStore) SetResumeAfter(ctx context.Context, id int64, at *time.Time, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[id]
	if !ok {
		return ErrNotFound
	}
	p.ResumeAfter = at
	p.UpdatedAt = now
	return nil
}

func (s *MemoryStore) SetPreemption(ctx context.Context, id, preemptedBy int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = StatusQueued
	p.PreemptedBy = &preemptedBy
	p.ResumeAfter = nil
	p.UpdatedAt = now
	s.queued.push(queueEntry{id: p.ID, priority: p.Priority, seq: p.CreatedAt.UnixMilli()})
	return nil
}

func (s *MemoryStore) RecoverInterrupted(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.processes {
		if p.Status == StatusActive && p.PreemptedBy == nil {
			p.Status = StatusQueued
			p.UpdatedAt = now
			s.queued.push(queueEntry{id: p.ID, priority: p.Priority, seq: p.CreatedAt.UnixMilli()})
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) HasOpenProcess(ctx context.Context, action Action, target int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.processes {
		if p.Action == action && p.Target == target &&
			(p.Status == StatusQueued || p.Status == StatusActive) {
			return true, nil
		}
	}
	return false, nil
}

// --- Alliances ---

func (s *MemoryStore) GetAlliance(ctx context.Context, id int64) (*Alliance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alliances[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListAlliances(ctx context.Context) ([]*Alliance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Alliance, 0, len(s.alliances))
	for _, a := range s.alliances {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

func (s *MemoryStore) UpsertAlliance(ctx context.Context, a *Alliance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		s.nextID++
		a.ID = s.nextID
	}
	cp := *a
	s.alliances[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteAlliance(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alliances[id]; !ok {
		return ErrNotFound
	}
	delete(s.alliances, id)
	return nil
}

func (s *MemoryStore) PlayerCountsByAlliances(ctx context.Context, ids []int64) (map[int64]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[int64]int, len(ids))
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for _, p := range s.players {
		if _, ok := want[p.AllianceID]; ok {
			counts[p.AllianceID]++
		}
	}
	return counts, nil
}

// --- Players ---

func (s *MemoryStore) GetPlayer(ctx context.Context, fid int64) (*Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[fid]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPlayersByAlliance(ctx context.Context, allianceID int64) ([]*Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Player
	for _, p := range s.players {
		if p.AllianceID == allianceID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fid < out[j].Fid })
	return out, nil
}

func (s *MemoryStore) UpsertPlayer(ctx context.Context, p *Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.players[cp.Fid] = &cp
	return nil
}

func (s *MemoryStore) DeletePlayer(ctx context.Context, fid int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[fid]; !ok {
		return ErrNotFound
	}
	delete(s.players, fid)
	return nil
}

func (s *MemoryStore) ApplyPlayerDiff(ctx context.Context, p *Player, changes []Change, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.players[cp.Fid] = &cp
	for _, c := range changes {
		fc := FieldChange{Fid: p.Fid, Old: c.Old, New: c.New, ChangedAt: at}
		switch c.Field {
		case "furnace_level":
			s.furnace = append(s.furnace, fc)
		case "nickname":
			s.nicknames = append(s.nicknames, fc)
		}
	}
	return nil
}

func (s *MemoryStore) ListFurnaceChanges(ctx context.Context, fid int64, limit int) ([]FieldChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterChanges(s.furnace, fid, limit), nil
}

func (s *MemoryStore) ListNicknameChanges(ctx context.Context, fid int64, limit int) ([]FieldChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterChanges(s.nicknames, fid, limit), nil
}

func filterChanges(all []FieldChange, fid int64, limit int) []FieldChange {
	if limit <= 0 {
		limit = 50
	}
	var out []FieldChange
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if all[i].Fid == fid {
			out = append(out, all[i])
		}
	}
	return out
}

// --- Gift codes ---

func (s *MemoryStore) FidsWhoRedeemed(ctx context.Context, code string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []int64
	for fid := range s.usage[code] {
		out = append(out, fid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemoryStore) CheckBulkUsage(ctx context.Context, code string, fids []int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byFid := s.usage[code]
	var out []int64
	for _, fid := range fids {
		if _, ok := byFid[fid]; ok {
			out = append(out, fid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemoryStore) InsertUsage(ctx context.Context, u Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usage[u.GiftCode] == nil {
		s.usage[u.GiftCode] = make(map[int64]string)
	}
	s.usage[u.GiftCode][u.Fid] = u.Status
	return nil
}

// --- Settings ---

func (s *MemoryStore) GetSettings(ctx context.Context) (Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

func (s *MemoryStore) SetAutoDelete(ctx context.Context, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.AutoDelete = on
	return nil
}

// --- Logs ---

func (s *MemoryStore) AppendSystemLog(ctx context.Context, level, source, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.system = append(s.system, SystemLog{
		ID: int64(len(s.system) + 1), Level: level, Source: source,
		Message: message, CreatedAt: time.Now(),
	})
	return nil
}

func (s *MemoryStore) ListSystemLogs(ctx context.Context, limit int) ([]SystemLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.system) {
		limit = len(s.system)
	}
	out := make([]SystemLog, 0, limit)
	for i := len(s.system) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.system[i])
	}
	return out, nil
}

func (s *MemoryStore) AppendAdminLog(ctx context.Context, actor, action, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admin = append(s.admin, AdminLog{
		ID: int64(len(s.admin) + 1), Actor: actor, Action: action,
		Detail: detail, CreatedAt: time.Now(),
	})
	return nil
}

func (s *MemoryStore) ListAdminLogs(ctx context.Context, limit int) ([]AdminLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.admin) {
		limit = len(s.admin)
	}
	out := make([]AdminLog, 0, limit)
	for i := len(s.admin) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.admin[i])
	}
	return out, nil
}
