package api

import "context"

// Engine drives one compiled graph over durable, checkpointed runs.
type Engine interface {
	// Start begins a new run for the given instance id, seeded with
	// initial, and drives it until it reaches a terminal status or
	// halts at the suspension node. If a checkpoint already exists
	// for the id, Start instead returns the persisted state (for
	// terminal or suspended runs) or continues execution from the
	// last completed node (crash recovery).
	Start(ctx context.Context, id string, initial State) (*State, error)

	// GetState returns the latest persisted snapshot for a run.
	// It never mutates state and is safe at any time, including
	// between the checkpoints of a live run driven elsewhere.
	GetState(ctx context.Context, id string) (*State, error)

	// Resume applies an external patch, as if it were produced by
	// the suspension node, to a run halted at that node, then
	// continues execution along the suspension node's outgoing edge.
	// Returns ErrNotFound for unknown ids and ErrNotWaiting when the
	// run is not suspended.
	Resume(ctx context.Context, id string, patch Update) (*State, error)

	// ListRuns returns persisted run snapshots matching the options.
	ListRuns(ctx context.Context, opts RunListOptions) ([]*State, error)
}

// RunListOptions filters ListRuns. Zero values mean "no filter".
type RunListOptions struct {
	Status Status
}
