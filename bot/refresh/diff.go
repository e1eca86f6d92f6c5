package refresh

import (
	"strconv"

	"github.com/whiteout-project/warden/bot/gameapi"
	"github.com/whiteout-project/warden/bot/store"
)

// Field names used in change records and history tables.
const (
	FieldNickname = "nickname"
	FieldFurnace  = "furnace_level"
	FieldState    = "state"
)

// Normalize maps an API snapshot onto the diffable player fields. A missing
// nickname defaults to "Unknown"; numeric fields default to zero.
func Normalize(snap *gameapi.PlayerSnapshot) store.PlayerState {
	st := store.PlayerState{Nickname: "Unknown"}
	if snap == nil {
		return st
	}
	if snap.Nickname != "" {
		st.Nickname = snap.Nickname
	}
	st.FurnaceLevel = snap.StoveLv
	st.State = snap.Kid
	return st
}

// Diff compares the stored player against the normalized snapshot. Any
// value inequality is a change; there is no threshold or debounce.
func Diff(stored *store.Player, snap store.PlayerState) []store.Change {
	var changes []store.Change
	if stored.Nickname != snap.Nickname {
		changes = append(changes, store.Change{
			Field: FieldNickname, Old: stored.Nickname, New: snap.Nickname,
		})
	}
	if stored.FurnaceLevel != snap.FurnaceLevel {
		changes = append(changes, store.Change{
			Field: FieldFurnace,
			Old:   strconv.Itoa(stored.FurnaceLevel),
			New:   strconv.Itoa(snap.FurnaceLevel),
		})
	}
	if stored.State != snap.State {
		changes = append(changes, store.Change{
			Field: FieldState,
			Old:   strconv.Itoa(stored.State),
			New:   strconv.Itoa(snap.State),
		})
	}
	return changes
}
