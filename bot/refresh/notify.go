package refresh

import (
	"context"
	"fmt"
	"strings"

	"github.com/whiteout-project/warden/bot/store"
)

// Embed is one grouped block inside a channel message.
type Embed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Message is one outbound channel message carrying up to MaxEmbeds blocks.
type Message struct {
	Embeds []Embed `json:"embeds"`
}

// Sink delivers messages to a channel at least once. Its own transport
// rate limiting is orthogonal to the game-API budget.
type Sink interface {
	Send(ctx context.Context, channelID string, msgs []Message) error
}

// change kinds, in render order
var changeKinds = []struct {
	field string
	title string
}{
	{FieldNickname, "Nickname Changes"},
	{FieldFurnace, "Furnace Level Changes"},
	{FieldState, "State Changes"},
}

// BuildMessages groups change entries by field kind and renders them into
// messages honoring the embed and description caps. Overflow within a kind
// produces follow-up embeds titled with an "(n)" suffix.
func BuildMessages(allianceName string, entries []store.ChangeEntry, maxEmbeds, maxDescription int) []Message {
	if maxEmbeds <= 0 {
		maxEmbeds = 10
	}
	if maxDescription <= 0 {
		maxDescription = 4096
	}

	var embeds []Embed
	for _, kind := range changeKinds {
		lines := renderKind(kind.field, entries)
		if len(lines) == 0 {
			continue
		}
		title := fmt.Sprintf("%s — %s", allianceName, kind.title)
		embeds = append(embeds, chunkLines(title, lines, maxDescription)...)
	}

	var msgs []Message
	for len(embeds) > 0 {
		n := maxEmbeds
		if n > len(embeds) {
			n = len(embeds)
		}
		msgs = append(msgs, Message{Embeds: embeds[:n]})
		embeds = embeds[n:]
	}
	return msgs
}

func renderKind(field string, entries []store.ChangeEntry) []string {
	var lines []string
	for _, e := range entries {
		for _, c := range e.Changes {
			if c.Field != field {
				continue
			}
			lines = append(lines, fmt.Sprintf("**%s** (%d): %s → %s", e.Player.Nickname, e.Player.Fid, c.Old, c.New))
		}
	}
	return lines
}

// chunkLines packs lines into embeds whose descriptions stay within
// maxDescription bytes. Lines are never split: a single line longer than
// the cap becomes an embed of its own whose description exceeds the cap.
// The first chunk keeps the bare title; later chunks get "(n)".
func chunkLines(title string, lines []string, maxDescription int) []Embed {
	var embeds []Embed
	var b strings.Builder
	flush := func() {
		if b.Len() == 0 {
			return
		}
		t := title
		if len(embeds) > 0 {
			t = fmt.Sprintf("%s (%d)", title, len(embeds)+1)
		}
		embeds = append(embeds, Embed{Title: t, Description: b.String()})
		b.Reset()
	}
	for _, line := range lines {
		if b.Len() > 0 && b.Len()+1+len(line) > maxDescription {
			flush()
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	flush()
	return embeds
}
