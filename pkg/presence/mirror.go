package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisMirror keeps a cluster-wide copy of presence in a Redis hash keyed
// by session id. Every write refreshes the hash TTL; entries not refreshed
// within the TTL are ignored on read.
type RedisMirror struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	now    func() time.Time
}

type mirrored struct {
	Presence
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRedisMirror creates a mirror writing to the hash at key
func NewRedisMirror(client *redis.Client, key string, ttl time.Duration) *RedisMirror {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisMirror{client: client, key: key, ttl: ttl, now: time.Now}
}

// Put stores p under its session id
func (m *RedisMirror) Put(ctx context.Context, p Presence) error {
	data, err := json.Marshal(mirrored{Presence: p, UpdatedAt: m.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, m.key, p.SessionID, data)
		pipe.Expire(ctx, m.key, m.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mirror presence: %w", err)
	}
	return nil
}

// Remove deletes p's session entry
func (m *RedisMirror) Remove(ctx context.Context, p Presence) error {
	if err := m.client.HDel(ctx, m.key, p.SessionID).Err(); err != nil {
		return fmt.Errorf("failed to remove presence: %w", err)
	}
	return nil
}

// Load returns every fresh entry, oldest update first
func (m *RedisMirror) Load(ctx context.Context) ([]Presence, error) {
	fields, err := m.client.HGetAll(ctx, m.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load presence: %w", err)
	}

	cutoff := m.now().Add(-m.ttl)
	entries := make([]mirrored, 0, len(fields))
	for _, raw := range fields {
		var e mirrored
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		if e.UpdatedAt.Before(cutoff) {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].UpdatedAt.Before(entries[j].UpdatedAt) })

	out := make([]Presence, len(entries))
	for i, e := range entries {
		out[i] = e.Presence
	}
	return out, nil
}

// LoadActive returns the cluster-wide active set, excluding observerKey
func (m *RedisMirror) LoadActive(ctx context.Context, observerKey string) (ActiveSet, error) {
	flat, err := m.Load(ctx)
	if err != nil {
		return ActiveSet{}, err
	}
	return Rebuild(flat, observerKey), nil
}
