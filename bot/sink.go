package main

import (
	"context"
	"log"

	"github.com/whiteout-project/warden/bot/refresh"
	"github.com/whiteout-project/warden/bot/streaming"
)

// LogSink is the default NotificationSink: change notifications land on
// the process log and the event stream. A chat integration replaces this
// with a transport that posts to the alliance channel.
type LogSink struct {
	pub streaming.Publisher
}

func NewLogSink(pub streaming.Publisher) *LogSink {
	return &LogSink{pub: pub}
}

func (s *LogSink) Send(ctx context.Context, channelID string, msgs []refresh.Message) error {
	for _, msg := range msgs {
		for _, embed := range msg.Embeds {
			log.Printf("[NOTIFY %s] %s\n%s", channelID, embed.Title, embed.Description)
		}
	}
	if s.pub != nil {
		return s.pub.Publish(ctx, "notify.sent", map[string]any{
			"channel_id": channelID,
			"messages":   len(msgs),
		})
	}
	return nil
}
