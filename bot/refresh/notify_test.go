package refresh

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whiteout-project/warden/bot/store"
)

func entryWith(fid int64, nick string, changes ...store.Change) store.ChangeEntry {
	return store.ChangeEntry{
		Player:  store.Player{Fid: fid, Nickname: nick},
		Changes: changes,
	}
}

func TestBuildMessagesGroupsByKind(t *testing.T) {
	entries := []store.ChangeEntry{
		entryWith(1, "A", store.Change{Field: FieldNickname, Old: "A", New: "B"}),
		entryWith(2, "C", store.Change{Field: FieldFurnace, Old: "10", New: "11"}),
		entryWith(3, "D", store.Change{Field: FieldState, Old: "1", New: "2"}),
	}
	msgs := BuildMessages("Wolves", entries, 10, 4096)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Embeds, 3)
	assert.Contains(t, msgs[0].Embeds[0].Title, "Nickname")
	assert.Contains(t, msgs[0].Embeds[1].Title, "Furnace")
	assert.Contains(t, msgs[0].Embeds[2].Title, "State")
	assert.Contains(t, msgs[0].Embeds[0].Description, "A → B")
}

func TestBuildMessagesEmpty(t *testing.T) {
	assert.Empty(t, BuildMessages("Wolves", nil, 10, 4096))
}

func TestBuildMessagesEmbedCap(t *testing.T) {
	// 30 lines of one kind under a 40-byte cap: the 19-byte lines of fids
	// 0-9 pack two per embed, the 21-byte lines of fids 10-29 one each,
	// giving 25 embeds in 3 messages.
	var entries []store.ChangeEntry
	for i := 0; i < 30; i++ {
		entries = append(entries, entryWith(int64(i), fmt.Sprintf("p%d", i),
			store.Change{Field: FieldNickname, Old: "x", New: "y"}))
	}
	msgs := BuildMessages("Wolves", entries, 10, 40) // at most two lines per embed
	for _, m := range msgs {
		assert.LessOrEqual(t, len(m.Embeds), 10)
	}
	total := 0
	for _, m := range msgs {
		total += len(m.Embeds)
	}
	assert.GreaterOrEqual(t, len(msgs), 2, "overflow should spill into follow-up messages")
	assert.GreaterOrEqual(t, total, 15)
}

func TestChunkLinesDescriptionCap(t *testing.T) {
	long := strings.Repeat("x", 3000)
	lines := []string{long, long, long}
	embeds := chunkLines("Title", lines, 4096)
	require.Len(t, embeds, 3)
	assert.Equal(t, "Title", embeds[0].Title)
	assert.Equal(t, "Title (2)", embeds[1].Title)
	assert.Equal(t, "Title (3)", embeds[2].Title)
	for _, e := range embeds {
		assert.LessOrEqual(t, len(e.Description), 4096)
	}
}

func TestChunkLinesPacksUnderCap(t *testing.T) {
	lines := []string{"aa", "bb", "cc"}
	embeds := chunkLines("T", lines, 4096)
	require.Len(t, embeds, 1)
	assert.Equal(t, "aa\nbb\ncc", embeds[0].Description)
}
