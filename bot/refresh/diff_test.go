package refresh

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/whiteout-project/warden/bot/gameapi"
	"github.com/whiteout-project/warden/bot/store"
)

func TestNormalizeDefaults(t *testing.T) {
	st := Normalize(nil)
	assert.Equal(t, store.PlayerState{Nickname: "Unknown"}, st)

	st = Normalize(&gameapi.PlayerSnapshot{})
	assert.Equal(t, "Unknown", st.Nickname)
	assert.Equal(t, 0, st.FurnaceLevel)
	assert.Equal(t, 0, st.State)
}

func TestNormalizeMapsFields(t *testing.T) {
	st := Normalize(&gameapi.PlayerSnapshot{Nickname: "Frost", StoveLv: 30, Kid: 245})
	assert.Equal(t, store.PlayerState{Nickname: "Frost", FurnaceLevel: 30, State: 245}, st)
}

func TestDiffNoChanges(t *testing.T) {
	p := &store.Player{Nickname: "Frost", FurnaceLevel: 30, State: 245}
	changes := Diff(p, store.PlayerState{Nickname: "Frost", FurnaceLevel: 30, State: 245})
	assert.Empty(t, changes)
}

func TestDiffAllFields(t *testing.T) {
	p := &store.Player{Nickname: "Frost", FurnaceLevel: 30, State: 245}
	changes := Diff(p, store.PlayerState{Nickname: "Blaze", FurnaceLevel: 31, State: 246})
	assert.Len(t, changes, 3)

	byField := map[string]store.Change{}
	for _, c := range changes {
		byField[c.Field] = c
	}
	assert.Equal(t, store.Change{Field: FieldNickname, Old: "Frost", New: "Blaze"}, byField[FieldNickname])
	assert.Equal(t, store.Change{Field: FieldFurnace, Old: "30", New: "31"}, byField[FieldFurnace])
	assert.Equal(t, store.Change{Field: FieldState, Old: "245", New: "246"}, byField[FieldState])
}

func TestDiffSingleField(t *testing.T) {
	p := &store.Player{Nickname: "Frost", FurnaceLevel: 30, State: 245}
	changes := Diff(p, store.PlayerState{Nickname: "Frost", FurnaceLevel: 31, State: 245})
	assert.Len(t, changes, 1)
	assert.Equal(t, FieldFurnace, changes[0].Field)
}
