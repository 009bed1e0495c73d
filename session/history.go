package session

import (
	"context"
	"log"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/calliope-voice/calliope/config"
)

// History persists completed transcript entries to Redis, one list per
// session, with a TTL. Redis is optional: when unavailable the store is
// created anyway and every operation is a no-op, so a missing Redis never
// blocks a voice session.
type History struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewHistory connects to Redis. A failed ping downgrades to a no-op store.
func NewHistory(cfg *config.Config) *History {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		// Redis unavailable, continue without it
		log.Printf("⚠️ Redis unavailable, transcript history disabled: %v", err)
		client = nil
	}

	return &History{redis: client, ttl: cfg.HistoryTTL}
}

// RecordEntry appends one completed turn to the session's history list.
func (h *History) RecordEntry(ctx context.Context, sessionID string, entry TranscriptEntry) {
	if h == nil || h.redis == nil {
		return
	}

	payload, err := sonic.Marshal(entry)
	if err != nil {
		log.Printf("⚠️ Failed to marshal transcript entry: %v", err)
		return
	}

	key := "transcript:" + sessionID
	if err := h.redis.RPush(ctx, key, payload).Err(); err != nil {
		log.Printf("⚠️ Failed to store transcript entry: %v", err)
		return
	}
	h.redis.Expire(ctx, key, h.ttl)
	h.redis.SAdd(ctx, "transcript_sessions", sessionID)
}

// Load returns the stored entries for a session, oldest first.
func (h *History) Load(ctx context.Context, sessionID string) ([]TranscriptEntry, error) {
	if h == nil || h.redis == nil {
		return nil, nil
	}

	raw, err := h.redis.LRange(ctx, "transcript:"+sessionID, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]TranscriptEntry, 0, len(raw))
	for _, item := range raw {
		var entry TranscriptEntry
		if err := sonic.Unmarshal([]byte(item), &entry); err != nil {
			log.Printf("⚠️ Skipping malformed history entry: %v", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Close releases the Redis connection.
func (h *History) Close() {
	if h != nil && h.redis != nil {
		h.redis.Close()
	}
}
