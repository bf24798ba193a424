package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/dagsund/weave/pkg/api"
)

// ErrCheckpointNotFound is returned when no checkpoint exists for an
// instance id.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// Checkpoint is the durable snapshot of one run, keyed by the state's
// instance id. ResumeNode names the last node that fully completed;
// resumption continues along that node's outgoing edge.
type Checkpoint struct {
	State      api.State
	ResumeNode string
	UpdatedAt  time.Time
}

// Filter selects checkpoints from the store. Zero values mean "no
// filter" for that field.
type Filter struct {
	Status api.Status
}

// CheckpointStore persists one snapshot per instance id.
//
// Save is last-write-wins at instance granularity and must be
// crash-safe: a completed Save is durable, an interrupted one leaves
// the previous snapshot intact. Load returns ErrCheckpointNotFound
// for unknown ids.
//
// The lease operations provide the per-instance mutual exclusion the
// engine assumes: at most one executor drives a given id forward at a
// time. A lease held by the same owner is re-entrant.
type CheckpointStore interface {
	Save(ctx context.Context, cp *Checkpoint) error
	Load(ctx context.Context, id string) (*Checkpoint, error)
	List(ctx context.Context, f Filter) ([]*Checkpoint, error)

	// TryAcquireLease attempts to acquire (or re-acquire) the lease
	// for an instance. If another owner holds an unexpired lease it
	// returns acquired=false, err=nil.
	TryAcquireLease(ctx context.Context, id, owner string, ttl time.Duration) (acquired bool, err error)

	// RenewLease extends a lease held by owner.
	RenewLease(ctx context.Context, id, owner string, ttl time.Duration) error

	// ReleaseLease releases a lease if held by owner. Idempotent.
	ReleaseLease(ctx context.Context, id, owner string) error
}

// ApplyPatch merges an externally supplied partial update into the
// stored snapshot using the state's own field reducers, tagging the
// checkpoint as if the update had been produced by asOfNode so that
// resumption follows that node's outgoing edge.
//
// Atomicity across Load and Save is provided by the caller's lease on
// the instance, not by the store.
func ApplyPatch(ctx context.Context, s CheckpointStore, id string, patch api.Update, asOfNode string) (*Checkpoint, error) {
	cp, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	cp.State = cp.State.Apply(patch)
	cp.ResumeNode = asOfNode
	if err := s.Save(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}
