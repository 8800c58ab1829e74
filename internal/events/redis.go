package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes events on a Redis channel and keeps the latest state
// in a hash of the same name.
type RedisSink struct {
	client *redis.Client
	key    string
}

// NewRedisSink connects to Redis and checks the connection.
func NewRedisSink(ctx context.Context, addr, password string, db int, key string) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("events: connect to redis %s: %w", addr, err)
	}
	if key == "" {
		key = "tntscale"
	}
	return &RedisSink{client: client, key: key}, nil
}

// Write stores ev as the current state and publishes its JSON form.
func (s *RedisSink) Write(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", ev.Type, err)
	}
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.key, stateFields(ev))
	pipe.Publish(ctx, s.key, payload)
	_, err = pipe.Exec(ctx)
	return err
}

// Close closes the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

// stateFields returns the hash fields updated by ev.
func stateFields(ev Event) map[string]any {
	f := map[string]any{
		"event":   ev.Type,
		"updated": ev.Time.UTC().Format(time.RFC3339),
	}
	switch ev.Type {
	case TypeConnect, TypeDiscover:
		f["device"] = ev.Device
	case TypeStartScale:
		f["profile"] = ev.Profile
		f["slot"] = ev.Slot
	case TypeScaleDone:
		f["result"] = string(ev.Result)
	case TypeError:
		f["error"] = ev.Location + ": " + ev.Error
	}
	return f
}
