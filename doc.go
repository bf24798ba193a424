// Package weave is an embeddable engine for durable, resumable
// review workflows.
//
// A run drafts an artifact, fans out a set of reviewer nodes in
// parallel, merges their annotations through field-level reducers, and
// lets a supervisor router decide what happens next: another revision
// round, a terminal outcome, or an indefinite suspension awaiting a
// human decision. Every node boundary is checkpointed, so a run
// survives process restarts and can be resumed days later.
//
// # Core Concepts
//
//  1. State and Update
//  2. GraphSpec and CompiledGraph
//  3. Engine
//  4. Supervisor and the review cycle
//  5. Observer
//
// # State and Update
//
// State is the single shared document a run operates on: the current
// Artifact, the full History of superseded artifact versions, the
// append-only set of Reviews, per-reviewer Scores and Notes, and the
// run's lifecycle Status. Nodes never mutate State; they return an
// Update, a partial result merged by fixed per-field reducers. Reviews
// append, Scores and Notes merge per key, everything else replaces.
// Replacing the artifact automatically pushes the old version onto
// History and bumps the iteration counter.
//
// # GraphSpec and CompiledGraph
//
// A GraphSpec declares nodes, unconditional edges, fan-out groups,
// routers, terminal markers and the suspension node. Compile validates
// the topology up front, including that no two fan-out siblings write
// the same replace-on-write field, and returns an indexed
// CompiledGraph. The fluent GraphBuilder (weave.NewGraph) is the usual
// way to put one together; NewReviewCycle assembles the standard
// draft/review/supervise loop in one call.
//
// # Engine
//
// The Engine drives runs against a checkpoint store:
//
//   - Start begins (or crash-resumes) a run and executes it until it
//     reaches a terminal marker or suspends
//   - Resume applies an external decision patch to a suspended run and
//     continues it without re-running anything that already completed
//   - GetState reads the latest checkpoint at any time
//   - ListRuns enumerates checkpoints, optionally by status
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//   - MongoDB
//
// At most one engine drives a given run id at a time; per-run leases
// in the checkpoint store enforce this across processes.
//
// # Supervisor and the review cycle
//
// Supervisor builds the router that closes the loop: it fails the run
// on a critical-score floor breach or iteration exhaustion, approves
// it when every score clears its bar after an auto-finalize round, and
// otherwise suspends for a human decision or loops back for another
// revision. The decision helpers (ApproveFinal, ApproveContinue,
// RequestRevision, Reject) build the Resume patches a human gate
// produces, each recording a synthetic review of who decided and why.
//
// # Observer
//
// An Observer receives run- and node-level callbacks for logging,
// metrics and audit. LoggingObserver writes structured slog records,
// BasicMetrics keeps atomic counters, EventRecorder appends an audit
// trail to an event store, and CompositeObserver fans out to several.
// Observers are fire-and-forget: they can never block or fail a run.
//
// For runnable examples, see the /examples directory.
package weave
