package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/dagsund/weave/internal/persistence"
	"github.com/dagsund/weave/pkg/api"
)

// engineImpl is a synchronous, in-process executor: one call to Start
// or Resume drives a run until it halts. Per-instance mutual exclusion
// is enforced through checkpoint-store leases.
type engineImpl struct {
	graph    *api.CompiledGraph
	store    persistence.CheckpointStore
	observer api.Observer

	owner    string
	leaseTTL time.Duration
}

// Config describes how to construct an engineImpl.
// Only used inside this package; external callers use the helper
// functions or the root package constructors.
type Config struct {
	Graph    *api.CompiledGraph
	Store    persistence.CheckpointStore
	Observer api.Observer

	// LeaseTTL bounds how long a crashed executor blocks another one
	// from taking over an instance. Defaults to five minutes.
	LeaseTTL time.Duration
}

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	ttl := cfg.LeaseTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &engineImpl{
		graph:    cfg.Graph,
		store:    cfg.Store,
		observer: obs,
		owner:    uuid.NewString(),
		leaseTTL: ttl,
	}
}

// NewEngine returns an Engine over the given compiled graph and store.
func NewEngine(graph *api.CompiledGraph, store persistence.CheckpointStore) api.Engine {
	return NewEngineWithConfig(Config{Graph: graph, Store: store})
}

func NewInMemoryEngine(graph *api.CompiledGraph) api.Engine {
	return NewEngine(graph, persistence.NewInMemoryStore())
}

func NewInMemoryEngineWithObserver(graph *api.CompiledGraph, obs api.Observer) api.Engine {
	return NewEngineWithConfig(Config{Graph: graph, Store: persistence.NewInMemoryStore(), Observer: obs})
}

func NewSQLiteEngine(graph *api.CompiledGraph, db *sql.DB) (api.Engine, error) {
	store, err := persistence.NewSQLiteCheckpointStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngine(graph, store), nil
}

func NewSQLiteEngineWithObserver(graph *api.CompiledGraph, db *sql.DB, obs api.Observer) (api.Engine, error) {
	store, err := persistence.NewSQLiteCheckpointStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{Graph: graph, Store: store, Observer: obs}), nil
}

func NewPostgresEngine(graph *api.CompiledGraph, db *sql.DB) (api.Engine, error) {
	store, err := persistence.NewPostgresCheckpointStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngine(graph, store), nil
}

func NewPostgresEngineWithObserver(graph *api.CompiledGraph, db *sql.DB, obs api.Observer) (api.Engine, error) {
	store, err := persistence.NewPostgresCheckpointStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{Graph: graph, Store: store, Observer: obs}), nil
}

func NewRedisEngine(graph *api.CompiledGraph, client *redis.Client) api.Engine {
	return NewEngine(graph, persistence.NewRedisCheckpointStore(client, "weave:"))
}

func NewRedisEngineWithObserver(graph *api.CompiledGraph, client *redis.Client, obs api.Observer) api.Engine {
	return NewEngineWithConfig(Config{
		Graph:    graph,
		Store:    persistence.NewRedisCheckpointStore(client, "weave:"),
		Observer: obs,
	})
}

func NewMongoEngine(graph *api.CompiledGraph, db *mongo.Database) api.Engine {
	return NewEngine(graph, persistence.NewMongoCheckpointStore(db))
}

func NewMongoEngineWithObserver(graph *api.CompiledGraph, db *mongo.Database, obs api.Observer) api.Engine {
	return NewEngineWithConfig(Config{
		Graph:    graph,
		Store:    persistence.NewMongoCheckpointStore(db),
		Observer: obs,
	})
}

func (e *engineImpl) Start(ctx context.Context, id string, initial api.State) (*api.State, error) {
	if id == "" {
		return nil, errors.New("instance id is required")
	}

	release, err := e.acquireLease(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	cp, err := e.store.Load(ctx, id)
	switch {
	case errors.Is(err, persistence.ErrCheckpointNotFound):
		st := initial
		st.ID = id
		if st.Status == "" {
			st.Status = api.StatusInit
		}
		cp = &persistence.Checkpoint{State: st}
		if err := e.save(ctx, cp); err != nil {
			return nil, err
		}
		e.observer.OnRunStart(ctx, cp.State.Clone())
		return e.runLoop(ctx, cp)

	case err != nil:
		return nil, api.NewStoreError("load", err)
	}

	// A checkpoint already exists. Terminal and suspended runs are
	// returned as-is; anything else is a crash leftover and execution
	// continues from the last completed node.
	st := cp.State.Clone()
	if st.Status.Terminal() || st.Status == api.StatusAwaitingInput {
		return &st, nil
	}
	return e.runLoop(ctx, cp)
}

func (e *engineImpl) GetState(ctx context.Context, id string) (*api.State, error) {
	cp, err := e.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrCheckpointNotFound) {
			return nil, fmt.Errorf("%w: %s", api.ErrNotFound, id)
		}
		return nil, api.NewStoreError("load", err)
	}
	st := cp.State.Clone()
	return &st, nil
}

func (e *engineImpl) ListRuns(ctx context.Context, opts api.RunListOptions) ([]*api.State, error) {
	cps, err := e.store.List(ctx, persistence.Filter{Status: opts.Status})
	if err != nil {
		return nil, api.NewStoreError("list", err)
	}
	out := make([]*api.State, 0, len(cps))
	for _, cp := range cps {
		st := cp.State.Clone()
		out = append(out, &st)
	}
	return out, nil
}

func (e *engineImpl) Resume(ctx context.Context, id string, patch api.Update) (*api.State, error) {
	release, err := e.acquireLease(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	cp, err := e.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrCheckpointNotFound) {
			return nil, fmt.Errorf("%w: %s", api.ErrNotFound, id)
		}
		return nil, api.NewStoreError("load", err)
	}

	if cp.State.Status != api.StatusAwaitingInput {
		return nil, fmt.Errorf("%w: instance %s is %s", api.ErrNotWaiting, id, cp.State.Status)
	}

	// Merge the external patch as if the suspension node had produced
	// it, so the run continues along the suspension node's edge
	// without re-executing anything that completed before the halt.
	cp, err = persistence.ApplyPatch(ctx, e.store, id, patch, cp.ResumeNode)
	if err != nil {
		return nil, api.NewStoreError("apply patch", err)
	}

	e.observer.OnRunResumed(ctx, cp.State.Clone())

	return e.runLoop(ctx, cp)
}

// runLoop advances the run from its last completed node until it
// reaches a terminal marker or the suspension node. cp always holds
// the latest persisted snapshot.
func (e *engineImpl) runLoop(ctx context.Context, cp *persistence.Checkpoint) (*api.State, error) {
	for {
		select {
		case <-ctx.Done():
			// The checkpoint is intact; the caller may retry.
			return nil, ctx.Err()
		default:
		}

		current, err := e.advance(ctx, cp)
		if err != nil {
			return nil, err
		}
		if current == "" {
			// A fan-out round ran and was merged; advance again.
			continue
		}

		if e.graph.IsTerminal(current) {
			st := cp.State.Clone()
			if st.Status == api.StatusApproved {
				e.observer.OnRunCompleted(ctx, st)
			} else if st.Status.Terminal() {
				e.observer.OnRunFailed(ctx, st)
			}
			return &st, nil
		}

		spec, ok := e.graph.Node(current)
		if !ok {
			return nil, fmt.Errorf("graph has no node %q", current)
		}

		if spec.Fn != nil {
			upd, err := e.invoke(ctx, spec, cp.State)
			if err != nil {
				return e.failRun(ctx, cp, current, err)
			}
			cp.State = cp.State.Apply(upd)
		}

		if current == e.graph.SuspendNode() {
			// Indefinite suspension: persist and hand control back.
			// This is a normal halting state, not an error.
			cp.State.Status = api.StatusAwaitingInput
			cp.ResumeNode = current
			if err := e.save(ctx, cp); err != nil {
				return nil, err
			}
			st := cp.State.Clone()
			e.observer.OnRunSuspended(ctx, st)
			return &st, nil
		}

		cp.ResumeNode = current
		if err := e.save(ctx, cp); err != nil {
			return nil, err
		}
	}
}

// advance resolves what follows the last completed node. It returns
// the next node to execute, or "" after dispatching and merging a
// fan-out round (whose join is resolved on the next call).
func (e *engineImpl) advance(ctx context.Context, cp *persistence.Checkpoint) (string, error) {
	last := cp.ResumeNode

	if last == "" {
		return e.graph.Entry(), nil
	}

	if f, ok := e.graph.FanOutFrom(last); ok {
		if err := e.runRound(ctx, cp, f); err != nil {
			_, ferr := e.failRun(ctx, cp, last, err)
			if ferr != nil {
				return "", ferr
			}
			return "", err
		}
		// The whole round is merged and persisted in one save: either
		// every sibling's update lands or none do, so a crash never
		// exposes a half-merged annotation set.
		cp.ResumeNode = f.Siblings[len(f.Siblings)-1]
		if err := e.save(ctx, cp); err != nil {
			return "", err
		}
		return "", nil
	}

	if join, ok := e.graph.JoinOf(last); ok {
		return join, nil
	}

	if next, ok := e.graph.Next(last); ok {
		return next, nil
	}

	if spec, ok := e.graph.Node(last); ok && spec.Route != nil {
		// Routing always reads the post-merge, persisted state.
		label := spec.Route(cp.State)
		target, ok := spec.Targets[label]
		if !ok {
			return "", fmt.Errorf("router %q returned undeclared label %q", last, label)
		}
		return target, nil
	}

	return "", fmt.Errorf("node %q has no successor", last)
}

// runRound dispatches all fan-out siblings concurrently against the
// same snapshot, waits for every one of them, and merges their updates
// into cp.State in declared sibling order. Applying in declared order
// (not completion order) makes the merged result independent of which
// sibling finished first.
func (e *engineImpl) runRound(ctx context.Context, cp *persistence.Checkpoint, f api.FanOut) error {
	snapshot := cp.State.Clone()

	updates := make([]api.Update, len(f.Siblings))
	errs := make([]error, len(f.Siblings))

	var wg sync.WaitGroup
	for i, name := range f.Siblings {
		spec, ok := e.graph.Node(name)
		if !ok {
			return fmt.Errorf("graph has no node %q", name)
		}
		wg.Add(1)
		go func(i int, spec api.NodeSpec) {
			defer wg.Done()
			updates[i], errs[i] = e.invoke(ctx, spec, snapshot.Clone())
		}(i, spec)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("sibling %q: %w", f.Siblings[i], err)
		}
	}

	for _, u := range updates {
		cp.State = cp.State.Apply(u)
	}
	return nil
}

// invoke runs one node function with observer bracketing.
func (e *engineImpl) invoke(ctx context.Context, spec api.NodeSpec, st api.State) (api.Update, error) {
	input := st.Clone()

	e.observer.OnNodeStart(ctx, st.ID, spec.Name)
	start := time.Now()

	upd, err := spec.Fn(ctx, input)

	e.observer.OnNodeCompleted(ctx, st.ID, spec.Name, input, upd, time.Since(start), err)
	return upd, err
}

// failRun records a node defect as a workflow-level failure. Nodes are
// expected to absorb their own errors; reaching this path means the
// node contract was broken.
func (e *engineImpl) failRun(ctx context.Context, cp *persistence.Checkpoint, node string, cause error) (*api.State, error) {
	cp.State.Status = api.StatusFailed
	cp.State.Err = fmt.Sprintf("node %s: %v", node, cause)
	cp.ResumeNode = node
	if err := e.save(ctx, cp); err != nil {
		return nil, err
	}
	st := cp.State.Clone()
	e.observer.OnRunFailed(ctx, st)
	return &st, cause
}

func (e *engineImpl) save(ctx context.Context, cp *persistence.Checkpoint) error {
	if err := e.store.Save(ctx, cp); err != nil {
		return api.NewStoreError("save", err)
	}
	return nil
}

func (e *engineImpl) acquireLease(ctx context.Context, id string) (func(), error) {
	acquired, err := e.store.TryAcquireLease(ctx, id, e.owner, e.leaseTTL)
	if err != nil {
		return nil, api.NewStoreError("acquire lease", err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w: %s", api.ErrRunLocked, id)
	}
	return func() {
		_ = e.store.ReleaseLease(context.WithoutCancel(ctx), id, e.owner)
	}, nil
}
