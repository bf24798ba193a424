package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dagsund/weave/pkg/api"
)

// RedisCheckpointStore is a CheckpointStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>cp:<id>              => JSON-encoded checkpoint payload
//	<prefix>idx:all              => SET of all instance ids
//	<prefix>idx:status:<status>  => SET of instance ids per status
//	<prefix>lease:<id>           => lease owner, with TTL
//
// The indexes are best-effort; they are always updated on Save and
// List uses set membership for filtering.
type RedisCheckpointStore struct {
	client *redis.Client
	prefix string
}

var _ CheckpointStore = (*RedisCheckpointStore)(nil)

type redisCheckpointPayload struct {
	ResumeNode string `json:"resume_node"`
	UpdatedAt  int64  `json:"updated_at"`
	State      []byte `json:"state"`
}

// NewRedisCheckpointStore creates a RedisCheckpointStore.
// prefix is optional but recommended (e.g. "weave:").
func NewRedisCheckpointStore(client *redis.Client, prefix string) *RedisCheckpointStore {
	if prefix == "" {
		prefix = "weave:"
	}
	return &RedisCheckpointStore{client: client, prefix: prefix}
}

func (s *RedisCheckpointStore) keyCheckpoint(id string) string { return s.prefix + "cp:" + id }
func (s *RedisCheckpointStore) keyAll() string                 { return s.prefix + "idx:all" }
func (s *RedisCheckpointStore) keyStatus(st api.Status) string {
	return s.prefix + "idx:status:" + string(st)
}
func (s *RedisCheckpointStore) keyLease(id string) string { return s.prefix + "lease:" + id }

func (s *RedisCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	blob, err := EncodeState(cp.State)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(redisCheckpointPayload{
		ResumeNode: cp.ResumeNode,
		UpdatedAt:  time.Now().UnixNano(),
		State:      blob,
	})
	if err != nil {
		return err
	}

	// Remember the previous status so the old index entry can be
	// dropped in the same pipeline.
	var prevStatus api.Status
	if prev, err := s.Load(ctx, cp.State.ID); err == nil {
		prevStatus = prev.State.Status
	} else if !errors.Is(err, ErrCheckpointNotFound) {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keyCheckpoint(cp.State.ID), payload, 0)
	pipe.SAdd(ctx, s.keyAll(), cp.State.ID)
	if prevStatus != "" && prevStatus != cp.State.Status {
		pipe.SRem(ctx, s.keyStatus(prevStatus), cp.State.ID)
	}
	pipe.SAdd(ctx, s.keyStatus(cp.State.Status), cp.State.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisCheckpointStore) Load(ctx context.Context, id string) (*Checkpoint, error) {
	data, err := s.client.Get(ctx, s.keyCheckpoint(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCheckpointNotFound
		}
		return nil, err
	}

	var payload redisCheckpointPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}

	st, err := DecodeState(payload.State)
	if err != nil {
		return nil, err
	}

	return &Checkpoint{
		State:      st,
		ResumeNode: payload.ResumeNode,
		UpdatedAt:  time.Unix(0, payload.UpdatedAt),
	}, nil
}

func (s *RedisCheckpointStore) List(ctx context.Context, f Filter) ([]*Checkpoint, error) {
	key := s.keyAll()
	if f.Status != "" {
		key = s.keyStatus(f.Status)
	}

	ids, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	var out []*Checkpoint
	for _, id := range ids {
		cp, err := s.Load(ctx, id)
		if errors.Is(err, ErrCheckpointNotFound) {
			// Stale index entry; skip.
			continue
		}
		if err != nil {
			return nil, err
		}
		if f.Status != "" && cp.State.Status != f.Status {
			continue
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *RedisCheckpointStore) TryAcquireLease(ctx context.Context, id, owner string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.keyLease(id), owner, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	current, err := s.client.Get(ctx, s.keyLease(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Expired between SetNX and Get; try once more.
			return s.client.SetNX(ctx, s.keyLease(id), owner, ttl).Result()
		}
		return false, err
	}
	if current != owner {
		return false, nil
	}
	// Re-entrant: extend our own lease.
	return true, s.client.PExpire(ctx, s.keyLease(id), ttl).Err()
}

func (s *RedisCheckpointStore) RenewLease(ctx context.Context, id, owner string, ttl time.Duration) error {
	current, err := s.client.Get(ctx, s.keyLease(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCheckpointNotFound
		}
		return err
	}
	if current != owner {
		return ErrCheckpointNotFound
	}
	return s.client.PExpire(ctx, s.keyLease(id), ttl).Err()
}

func (s *RedisCheckpointStore) ReleaseLease(ctx context.Context, id, owner string) error {
	current, err := s.client.Get(ctx, s.keyLease(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	if current != owner {
		return nil
	}
	return s.client.Del(ctx, s.keyLease(id)).Err()
}
