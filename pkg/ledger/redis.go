package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis is a Governance ledger backed by a capped Redis list, for hosts
// that persist decisions out-of-process. Entries are pushed newest-first
// and trimmed to the configured capacity.
type Redis struct {
	client   *redis.Client
	key      string
	capacity int64
}

// NewRedis creates a Redis ledger writing to key (default
// "warden:governance") on the given client.
func NewRedis(client *redis.Client, key string, capacity int64) *Redis {
	if key == "" {
		key = "warden:governance"
	}
	if capacity <= 0 {
		capacity = 10000
	}
	return &Redis{client: client, key: key, capacity: capacity}
}

// Record pushes the decision and trims the list in one pipeline.
func (r *Redis) Record(ctx context.Context, d Decision) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("ledger: marshal decision: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key, raw)
	pipe.LTrim(ctx, r.key, 0, r.capacity-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ledger: redis append: %w", err)
	}
	return nil
}

// Recent returns up to n most recent decisions, newest first.
func (r *Redis) Recent(ctx context.Context, n int64) ([]Decision, error) {
	raws, err := r.client.LRange(ctx, r.key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("ledger: redis range: %w", err)
	}
	out := make([]Decision, 0, len(raws))
	for _, raw := range raws {
		var d Decision
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
