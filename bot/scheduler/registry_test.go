package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whiteout-project/warden/bot/clock"
	"github.com/whiteout-project/warden/bot/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.MemoryStore, *clock.Fake) {
	t.Helper()
	st := store.NewMemoryStore()
	clk := clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewRegistry(st, clk), st, clk
}

func TestRegistryCreate(t *testing.T) {
	reg, st, clk := newTestRegistry(t)
	ctx := context.Background()

	id, err := reg.Create(ctx, store.ActionAutoRefresh, 3, 0, store.Details{PlayerIDs: []int64{1, 2}}, "scheduler")
	require.NoError(t, err)

	p, err := st.GetProcess(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusQueued, p.Status)
	assert.Equal(t, 400000, p.Priority)
	assert.Equal(t, []int64{1, 2}, p.Progress.Pending)
	assert.Equal(t, "scheduler", p.CreatedBy)
	assert.Equal(t, clk.Now(), p.CreatedAt)
}

func TestRegistryCreateRejectsNegativeTarget(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	_, err := reg.Create(context.Background(), store.ActionRefresh, -1, 0, store.Details{}, "x")
	assert.Error(t, err)
}

func TestRegistryCreateAllowsSystemTarget(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	_, err := reg.Create(context.Background(), store.ActionAddPlayer, 0, 0, store.Details{PlayerIDs: []int64{9}}, "x")
	assert.NoError(t, err)
}

func TestRegistryUpdateProgressValidates(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()

	id, err := reg.Create(ctx, store.ActionAddPlayer, 1, 0, store.Details{PlayerIDs: []int64{1}}, "x")
	require.NoError(t, err)

	bad := store.Progress{Changed: []int64{1}} // refresh-only bucket
	assert.Error(t, reg.UpdateProgress(ctx, id, store.ActionAddPlayer, bad))

	good := store.Progress{Existing: []int64{1}}
	assert.NoError(t, reg.UpdateProgress(ctx, id, store.ActionAddPlayer, good))
}

func TestRegistryCompleteRequiresActive(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()

	id, err := reg.Create(ctx, store.ActionRefresh, 1, 0, store.Details{PlayerIDs: []int64{1}}, "x")
	require.NoError(t, err)

	assert.Error(t, reg.Complete(ctx, id), "queued process cannot complete")

	require.NoError(t, reg.MarkActive(ctx, id))
	assert.NoError(t, reg.Complete(ctx, id))
}

func TestRegistryFailLogsAndTerminates(t *testing.T) {
	reg, st, _ := newTestRegistry(t)
	ctx := context.Background()

	id, err := reg.Create(ctx, store.ActionRefresh, 1, 0, store.Details{PlayerIDs: []int64{1}}, "x")
	require.NoError(t, err)
	require.NoError(t, reg.MarkActive(ctx, id))
	require.NoError(t, reg.Fail(ctx, id, errors.New("boom")))

	p, err := st.GetProcess(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, p.Status)
	require.NotNil(t, p.CompletedAt)

	logs, err := st.ListSystemLogs(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Contains(t, logs[0].Message, "boom")
}

func TestRegistryRecoverInterrupted(t *testing.T) {
	reg, st, _ := newTestRegistry(t)
	ctx := context.Background()

	id, err := reg.Create(ctx, store.ActionAutoRefresh, 1, 0, store.Details{PlayerIDs: []int64{101, 102, 103}}, "x")
	require.NoError(t, err)
	require.NoError(t, reg.MarkActive(ctx, id))

	n, err := reg.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p, err := st.GetProcess(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusQueued, p.Status)
	assert.Equal(t, []int64{101, 102, 103}, p.Progress.Pending)
}
