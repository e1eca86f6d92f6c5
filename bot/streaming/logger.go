package streaming

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// LogPublisher renders events as one-line JSON on the process log.
type LogPublisher struct {
	logger *log.Logger
}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{logger: log.Default()}
}

func (p *LogPublisher) Publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	event := Event{
		Topic:     topic,
		Payload:   data,
		Timestamp: time.Now(),
		Source:    "warden",
	}
	eventBytes, _ := json.Marshal(event)
	p.logger.Printf("[EVENT] %s: %s", topic, string(eventBytes))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
