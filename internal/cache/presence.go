// internal/cache/presence.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyhub/internal/presence"
	"github.com/redis/go-redis/v9"
)

const (
	presenceKeyPrefix = "presence:"
	// presenceDeadlines is a sorted set of user ids scored by expiry in unix ms.
	// It outlives the record keys so lapsed users can still be swept.
	presenceDeadlines = "presence:deadlines"
)

// PresenceStore keeps presence in Redis so every instance sees the same TTLs.
type PresenceStore struct {
	rdb *redis.Client
}

func NewPresenceStore(rdb *redis.Client) *PresenceStore {
	return &PresenceStore{rdb: rdb}
}

func presenceKey(userID uuid.UUID) string {
	return presenceKeyPrefix + userID.String()
}

func (p *PresenceStore) Put(ctx context.Context, rec presence.Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal presence: %w", err)
	}
	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, presenceKey(rec.UserID), data, ttl)
		pipe.ZAdd(ctx, presenceDeadlines, redis.Z{Score: float64(rec.ExpiresAt.UnixMilli()), Member: rec.UserID.String()})
		return nil
	})
	if err != nil {
		return fmt.Errorf("store presence: %w", err)
	}
	return nil
}

func (p *PresenceStore) Get(ctx context.Context, userID uuid.UUID, now time.Time) (*presence.Record, error) {
	data, err := p.rdb.Get(ctx, presenceKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get presence: %w", err)
	}
	var rec presence.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode presence: %w", err)
	}
	if !rec.Live(now) {
		return nil, nil
	}
	return &rec, nil
}

func (p *PresenceStore) Delete(ctx context.Context, userID uuid.UUID) error {
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, presenceKey(userID))
		pipe.ZRem(ctx, presenceDeadlines, userID.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete presence: %w", err)
	}
	return nil
}

func (p *PresenceStore) Expired(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	members, err := p.rdb.ZRangeByScore(ctx, presenceDeadlines, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list expired presence: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			// Not ours; drop it so it is not listed again.
			p.rdb.ZRem(ctx, presenceDeadlines, m)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
