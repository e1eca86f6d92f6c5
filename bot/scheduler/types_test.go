package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whiteout-project/warden/bot/store"
)

func TestPriorityFormula(t *testing.T) {
	p, err := PriorityFor(store.ActionAddPlayer, 0)
	require.NoError(t, err)
	assert.Equal(t, 100000, p)

	p, err = PriorityFor(store.ActionRefresh, 0)
	require.NoError(t, err)
	assert.Equal(t, 300000, p)

	p, err = PriorityFor(store.ActionAutoRefresh, 0)
	require.NoError(t, err)
	assert.Equal(t, 400000, p)
}

func TestPriorityRedeemOffsets(t *testing.T) {
	for rank, want := range map[int]int{1: 200001, 50: 200050, 99999: 299999} {
		p, err := PriorityFor(store.ActionRedeemGiftcode, rank)
		require.NoError(t, err)
		assert.Equal(t, want, p)
	}

	// Every redeem beats every manual refresh regardless of rank.
	worst, err := PriorityFor(store.ActionRedeemGiftcode, 99999)
	require.NoError(t, err)
	refreshPrio, err := PriorityFor(store.ActionRefresh, 0)
	require.NoError(t, err)
	assert.Less(t, worst, refreshPrio)
}

func TestPriorityRedeemRankValidation(t *testing.T) {
	_, err := PriorityFor(store.ActionRedeemGiftcode, 0)
	assert.Error(t, err)
	_, err = PriorityFor(store.ActionRedeemGiftcode, 100000)
	assert.Error(t, err)
}

func TestPriorityUnknownAction(t *testing.T) {
	_, err := PriorityFor(store.Action("bogus"), 0)
	assert.Error(t, err)
}
