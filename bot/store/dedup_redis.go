package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NotificationDedup suppresses duplicate change notifications across a
// send-then-crash window. Emission is at-least-once by design; when redis
// is configured the refresh engine consults this store before re-sending an entry it
// already delivered. A nil *NotificationDedup disables deduplication.
type NotificationDedup struct {
	client *redis.Client
	ttl    time.Duration
}

const dedupTTL = 24 * time.Hour

// NewNotificationDedup connects to redis and verifies the connection.
func NewNotificationDedup(addr, password string, db int) (*NotificationDedup, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &NotificationDedup{client: client, ttl: dedupTTL}, nil
}

// MarkSent records the entry key with SetNX and reports whether this caller
// won (true = first sender, proceed; false = already delivered, skip).
func (d *NotificationDedup) MarkSent(ctx context.Context, key string) (bool, error) {
	if d == nil {
		return true, nil
	}
	return d.client.SetNX(ctx, "notify:sent:"+key, time.Now().UnixMilli(), d.ttl).Result()
}

// Unmark releases a key claimed by MarkSent after a failed send so the next
// admission retries it.
func (d *NotificationDedup) Unmark(ctx context.Context, key string) error {
	if d == nil {
		return nil
	}
	return d.client.Del(ctx, "notify:sent:"+key).Err()
}

func (d *NotificationDedup) Close() error {
	if d == nil {
		return nil
	}
	return d.client.Close()
}

// DedupKey derives the per-entry key: process id + fid + field fingerprint.
func DedupKey(processID int64, e ChangeEntry) string {
	fields := ""
	for _, c := range e.Changes {
		fields += c.Field + "=" + c.New + ";"
	}
	return fmt.Sprintf("%d:%d:%s", processID, e.Player.Fid, fields)
}
