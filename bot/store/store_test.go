package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The same behavioral suite runs against every backend.

func openMemory(t *testing.T) Store {
	t.Helper()
	return NewMemoryStore()
}

func openSQLite(t *testing.T) Store {
	t.Helper()
	st, err := OpenSQLite(filepath.Join(t.TempDir(), "warden.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func backends() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": openMemory,
		"sqlite": openSQLite,
	}
}

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func mkProcess(action Action, target int64, priority int, createdAt time.Time, fids ...int64) *Process {
	return &Process{
		Action:    action,
		Target:    target,
		Status:    StatusQueued,
		Priority:  priority,
		Details:   Details{PlayerIDs: fids},
		Progress:  NewProgress(fids),
		CreatedBy: "test",
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestProcessRoundTrip(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()

			id, err := st.InsertProcess(ctx, mkProcess(ActionRefresh, 7, 300000, base, 1, 2, 3))
			require.NoError(t, err)

			p, err := st.GetProcess(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, ActionRefresh, p.Action)
			assert.Equal(t, int64(7), p.Target)
			assert.Equal(t, StatusQueued, p.Status)
			assert.Equal(t, 300000, p.Priority)
			assert.Equal(t, []int64{1, 2, 3}, p.Details.PlayerIDs)
			assert.Equal(t, []int64{1, 2, 3}, p.Progress.Pending)
			assert.Nil(t, p.ResumeAfter)
			assert.Nil(t, p.PreemptedBy)
			assert.Nil(t, p.CompletedAt)

			_, err = st.GetProcess(ctx, id+100)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestNextQueuedOrdering(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()

			low, err := st.InsertProcess(ctx, mkProcess(ActionAutoRefresh, 1, 400000, base, 1))
			require.NoError(t, err)
			high, err := st.InsertProcess(ctx, mkProcess(ActionAddPlayer, 2, 100000, base.Add(time.Second), 2))
			require.NoError(t, err)
			_ = low

			top, err := st.NextQueuedProcess(ctx, base.Add(time.Minute))
			require.NoError(t, err)
			assert.Equal(t, high, top.ID, "lower priority value wins")
		})
	}
}

func TestNextQueuedFIFOTieBreak(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()

			first, err := st.InsertProcess(ctx, mkProcess(ActionRefresh, 1, 300000, base, 1))
			require.NoError(t, err)
			_, err = st.InsertProcess(ctx, mkProcess(ActionRefresh, 2, 300000, base.Add(time.Second), 2))
			require.NoError(t, err)

			top, err := st.NextQueuedProcess(ctx, base.Add(time.Minute))
			require.NoError(t, err)
			assert.Equal(t, first, top.ID, "earlier created_at wins on equal priority")
		})
	}
}

func TestNextQueuedRespectsResumeAfter(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()

			gated, err := st.InsertProcess(ctx, mkProcess(ActionAddPlayer, 1, 100000, base, 1))
			require.NoError(t, err)
			later, err := st.InsertProcess(ctx, mkProcess(ActionRefresh, 2, 300000, base, 2))
			require.NoError(t, err)

			resume := base.Add(time.Hour)
			require.NoError(t, st.SetResumeAfter(ctx, gated, &resume, base))

			top, err := st.NextQueuedProcess(ctx, base.Add(time.Minute))
			require.NoError(t, err)
			assert.Equal(t, later, top.ID, "gated process must not be admitted early")

			top, err = st.NextQueuedProcess(ctx, base.Add(2*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, gated, top.ID, "past resume_after it leads again")
		})
	}
}

func TestMarkActiveSingleActiveInvariant(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()

			a, err := st.InsertProcess(ctx, mkProcess(ActionRefresh, 1, 300000, base, 1))
			require.NoError(t, err)
			b, err := st.InsertProcess(ctx, mkProcess(ActionRefresh, 2, 300000, base, 2))
			require.NoError(t, err)

			require.NoError(t, st.MarkActive(ctx, a, base))
			err = st.MarkActive(ctx, b, base)
			assert.ErrorIs(t, err, ErrActiveExists)

			active, err := st.ActiveProcess(ctx)
			require.NoError(t, err)
			assert.Equal(t, a, active.ID)
		})
	}
}

func TestMarkActiveRequiresQueued(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()

			a, err := st.InsertProcess(ctx, mkProcess(ActionRefresh, 1, 300000, base, 1))
			require.NoError(t, err)
			require.NoError(t, st.MarkActive(ctx, a, base))
			require.NoError(t, st.SetProcessStatus(ctx, a, StatusCompleted, base))

			assert.ErrorIs(t, st.MarkActive(ctx, a, base), ErrNotQueued)
		})
	}
}

func TestPreemptionLinkAndClear(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()

			victim, err := st.InsertProcess(ctx, mkProcess(ActionAutoRefresh, 1, 400001, base, 1))
			require.NoError(t, err)
			winner, err := st.InsertProcess(ctx, mkProcess(ActionRefresh, 2, 300000, base, 2))
			require.NoError(t, err)

			require.NoError(t, st.MarkActive(ctx, victim, base))
			resume := base.Add(time.Minute)
			require.NoError(t, st.SetResumeAfter(ctx, victim, &resume, base))

			require.NoError(t, st.SetPreemption(ctx, victim, winner, base))
			p, err := st.GetProcess(ctx, victim)
			require.NoError(t, err)
			assert.Equal(t, StatusQueued, p.Status)
			require.NotNil(t, p.PreemptedBy)
			assert.Equal(t, winner, *p.PreemptedBy)
			assert.Nil(t, p.ResumeAfter, "preemption clears the resume window")

			// Re-admission clears the preemption link.
			require.NoError(t, st.MarkActive(ctx, winner, base))
			require.NoError(t, st.SetProcessStatus(ctx, winner, StatusCompleted, base))
			require.NoError(t, st.MarkActive(ctx, victim, base))
			p, err = st.GetProcess(ctx, victim)
			require.NoError(t, err)
			assert.Nil(t, p.PreemptedBy)
		})
	}
}

func TestRecoverInterrupted(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()

			crashed, err := st.InsertProcess(ctx, mkProcess(ActionAutoRefresh, 1, 400000, base, 101, 102, 103))
			require.NoError(t, err)
			require.NoError(t, st.MarkActive(ctx, crashed, base))

			// A queued process preempted earlier keeps its state.
			preempted, err := st.InsertProcess(ctx, mkProcess(ActionAutoRefresh, 2, 400002, base, 4))
			require.NoError(t, err)
			require.NoError(t, st.SetPreemption(ctx, preempted, crashed, base))

			n, err := st.RecoverInterrupted(ctx, base.Add(time.Minute))
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			p, err := st.GetProcess(ctx, crashed)
			require.NoError(t, err)
			assert.Equal(t, StatusQueued, p.Status)
			assert.Nil(t, p.PreemptedBy)
			assert.Equal(t, []int64{101, 102, 103}, p.Progress.Pending, "no rows lost or duplicated")

			q, err := st.GetProcess(ctx, preempted)
			require.NoError(t, err)
			assert.Equal(t, StatusQueued, q.Status)
			require.NotNil(t, q.PreemptedBy)
		})
	}
}

func TestCompletedAtStamping(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()

			id, err := st.InsertProcess(ctx, mkProcess(ActionRefresh, 1, 300000, base, 1))
			require.NoError(t, err)
			require.NoError(t, st.MarkActive(ctx, id, base))
			require.NoError(t, st.SetProcessStatus(ctx, id, StatusCompleted, base.Add(time.Minute)))

			p, err := st.GetProcess(ctx, id)
			require.NoError(t, err)
			require.NotNil(t, p.CompletedAt)
			assert.Equal(t, base.Add(time.Minute).UnixMilli(), p.CompletedAt.UnixMilli())
		})
	}
}

func TestHasOpenProcess(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()

			ok, err := st.HasOpenProcess(ctx, ActionAutoRefresh, 5)
			require.NoError(t, err)
			assert.False(t, ok)

			id, err := st.InsertProcess(ctx, mkProcess(ActionAutoRefresh, 5, 400000, base, 1))
			require.NoError(t, err)
			ok, err = st.HasOpenProcess(ctx, ActionAutoRefresh, 5)
			require.NoError(t, err)
			assert.True(t, ok)

			// Other action or target does not count.
			ok, err = st.HasOpenProcess(ctx, ActionRefresh, 5)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, st.MarkActive(ctx, id, base))
			ok, err = st.HasOpenProcess(ctx, ActionAutoRefresh, 5)
			require.NoError(t, err)
			assert.True(t, ok, "active still counts as open")

			require.NoError(t, st.SetProcessStatus(ctx, id, StatusCompleted, base))
			ok, err = st.HasOpenProcess(ctx, ActionAutoRefresh, 5)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestUpdateProgressPersists(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()

			id, err := st.InsertProcess(ctx, mkProcess(ActionAutoRefresh, 1, 400000, base, 1, 2))
			require.NoError(t, err)

			prog := NewProgress([]int64{1, 2})
			prog.Advance(1, BucketChanged)
			prog.DetectedChanges = []ChangeEntry{{
				Player:  Player{Fid: 1, Nickname: "Frost"},
				Changes: []Change{{Field: "nickname", Old: "Frost", New: "Blaze"}},
				New:     PlayerState{Nickname: "Blaze"},
			}}
			require.NoError(t, st.UpdateProgress(ctx, id, prog, base))

			p, err := st.GetProcess(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, []int64{2}, p.Progress.Pending)
			assert.Equal(t, []int64{1}, p.Progress.Changed)
			require.Len(t, p.Progress.DetectedChanges, 1)
			assert.Equal(t, "Blaze", p.Progress.DetectedChanges[0].New.Nickname)
		})
	}
}

func TestApplyPlayerDiffWritesHistory(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()

			p := &Player{Fid: 42, AllianceID: 1, Nickname: "Frost", FurnaceLevel: 30}
			require.NoError(t, st.UpsertPlayer(ctx, p))

			p.Nickname = "Blaze"
			p.FurnaceLevel = 31
			changes := []Change{
				{Field: "nickname", Old: "Frost", New: "Blaze"},
				{Field: "furnace_level", Old: "30", New: "31"},
			}
			require.NoError(t, st.ApplyPlayerDiff(ctx, p, changes, base))

			got, err := st.GetPlayer(ctx, 42)
			require.NoError(t, err)
			assert.Equal(t, "Blaze", got.Nickname)
			assert.Equal(t, 31, got.FurnaceLevel)

			nick, err := st.ListNicknameChanges(ctx, 42, 10)
			require.NoError(t, err)
			require.Len(t, nick, 1)
			assert.Equal(t, "Frost", nick[0].Old)
			assert.Equal(t, "Blaze", nick[0].New)

			furnace, err := st.ListFurnaceChanges(ctx, 42, 10)
			require.NoError(t, err)
			require.Len(t, furnace, 1)
			assert.Equal(t, "30", furnace[0].Old)
			assert.Equal(t, "31", furnace[0].New)
		})
	}
}

func TestGiftcodeUsage(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()

			require.NoError(t, st.InsertUsage(ctx, Usage{Fid: 1, GiftCode: "WINTER24", Status: "success"}))
			require.NoError(t, st.InsertUsage(ctx, Usage{Fid: 2, GiftCode: "WINTER24", Status: "success"}))
			require.NoError(t, st.InsertUsage(ctx, Usage{Fid: 3, GiftCode: "OTHER", Status: "success"}))

			fids, err := st.FidsWhoRedeemed(ctx, "WINTER24")
			require.NoError(t, err)
			assert.Equal(t, []int64{1, 2}, fids)

			redeemed, err := st.CheckBulkUsage(ctx, "WINTER24", []int64{1, 2, 3, 4})
			require.NoError(t, err)
			assert.Equal(t, []int64{1, 2}, redeemed)

			redeemed, err = st.CheckBulkUsage(ctx, "WINTER24", nil)
			require.NoError(t, err)
			assert.Empty(t, redeemed)
		})
	}
}

func TestSettingsDefaultAndToggle(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()

			s, err := st.GetSettings(ctx)
			require.NoError(t, err)
			assert.False(t, s.AutoDelete)

			require.NoError(t, st.SetAutoDelete(ctx, true))
			s, err = st.GetSettings(ctx)
			require.NoError(t, err)
			assert.True(t, s.AutoDelete)
		})
	}
}

func TestAllianceCRUDAndCounts(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()

			a := &Alliance{Priority: 1, Name: "Wolves", ChannelID: "chan-1", Interval: "60", AutoRedeem: true}
			require.NoError(t, st.UpsertAlliance(ctx, a))
			require.NotZero(t, a.ID)

			b := &Alliance{Priority: 2, Name: "Bears", Interval: "@03:30"}
			require.NoError(t, st.UpsertAlliance(ctx, b))

			require.NoError(t, st.UpsertPlayer(ctx, &Player{Fid: 1, AllianceID: a.ID}))
			require.NoError(t, st.UpsertPlayer(ctx, &Player{Fid: 2, AllianceID: a.ID}))
			require.NoError(t, st.UpsertPlayer(ctx, &Player{Fid: 3, AllianceID: b.ID}))

			counts, err := st.PlayerCountsByAlliances(ctx, []int64{a.ID, b.ID})
			require.NoError(t, err)
			assert.Equal(t, 2, counts[a.ID])
			assert.Equal(t, 1, counts[b.ID])

			all, err := st.ListAlliances(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "Wolves", all[0].Name, "ordered by priority")

			a.Interval = "@04:00"
			require.NoError(t, st.UpsertAlliance(ctx, a))
			got, err := st.GetAlliance(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, "@04:00", got.Interval)

			require.NoError(t, st.DeleteAlliance(ctx, b.ID))
			_, err = st.GetAlliance(ctx, b.ID)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}
