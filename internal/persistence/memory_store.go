package persistence

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is a goroutine-safe CheckpointStore backed by maps.
// It is not durable; use it for tests and local development.
type InMemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint
	leases      map[string]lease
}

type lease struct {
	owner     string
	expiresAt time.Time
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		checkpoints: make(map[string]*Checkpoint),
		leases:      make(map[string]lease),
	}
}

var _ CheckpointStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) Save(ctx context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *cp
	c.State = cp.State.Clone()
	c.UpdatedAt = time.Now()
	s.checkpoints[cp.State.ID] = &c
	return nil
}

func (s *InMemoryStore) Load(ctx context.Context, id string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[id]
	if !ok {
		return nil, ErrCheckpointNotFound
	}

	c := *cp
	c.State = cp.State.Clone()
	return &c, nil
}

func (s *InMemoryStore) List(ctx context.Context, f Filter) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Checkpoint
	for _, cp := range s.checkpoints {
		if f.Status != "" && cp.State.Status != f.Status {
			continue
		}
		c := *cp
		c.State = cp.State.Clone()
		out = append(out, &c)
	}
	return out, nil
}

func (s *InMemoryStore) TryAcquireLease(ctx context.Context, id, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if l, ok := s.leases[id]; ok && l.owner != owner && l.expiresAt.After(now) {
		return false, nil
	}
	s.leases[id] = lease{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *InMemoryStore) RenewLease(ctx context.Context, id, owner string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[id]
	if !ok || l.owner != owner {
		return ErrCheckpointNotFound
	}
	l.expiresAt = time.Now().Add(ttl)
	s.leases[id] = l
	return nil
}

func (s *InMemoryStore) ReleaseLease(ctx context.Context, id, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.leases[id]; ok && l.owner == owner {
		delete(s.leases, id)
	}
	return nil
}
