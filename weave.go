package weave

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/dagsund/weave/internal/engine"
	"github.com/dagsund/weave/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine         = api.Engine
	State          = api.State
	Update         = api.Update
	Artifact       = api.Artifact
	Review         = api.Review
	Status         = api.Status
	NodeFunc       = api.NodeFunc
	RouteFunc      = api.RouteFunc
	NodeSpec       = api.NodeSpec
	Edge           = api.Edge
	FanOut         = api.FanOut
	GraphSpec      = api.GraphSpec
	CompiledGraph  = api.CompiledGraph
	RunListOptions = api.RunListOptions

	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
	EventRecorder        = api.EventRecorder
	RunEvent             = api.RunEvent
)

// Re-export constructors and helpers.

var (
	NewState    = api.NewState
	NewArtifact = api.NewArtifact
	NewReview   = api.NewReview

	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Ptr is a small helper for building Update values.
func Ptr[T any](v T) *T { return api.Ptr(v) }

// Re-export status values for convenience.

const (
	StatusInit          = api.StatusInit
	StatusDrafting      = api.StatusDrafting
	StatusReviewing     = api.StatusReviewing
	StatusRevising      = api.StatusRevising
	StatusAwaitingInput = api.StatusAwaitingInput
	StatusApproved      = api.StatusApproved
	StatusFailed        = api.StatusFailed
	StatusRejected      = api.StatusRejected
)

// Re-export field names used in NodeSpec write sets.

const (
	FieldArtifact = api.FieldArtifact
	FieldReviews  = api.FieldReviews
	FieldStatus   = api.FieldStatus
	FieldError    = api.FieldError
	FieldFinalize = api.FieldFinalize
)

var (
	FieldScore = api.FieldScore
	FieldNote  = api.FieldNote
)

// Re-export sentinel errors.

var (
	ErrNotFound   = api.ErrNotFound
	ErrNotWaiting = api.ErrNotWaiting
	ErrRunLocked  = api.ErrRunLocked
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine backed by an in-memory checkpoint
// store. State does not survive the process; best for tests.
func NewInMemoryEngine(g *CompiledGraph) Engine {
	return engine.NewInMemoryEngine(g)
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(g *CompiledGraph, obs Observer) Engine {
	return engine.NewInMemoryEngineWithObserver(g, obs)
}

// NewSQLiteEngine returns an Engine that checkpoints runs in a SQLite database.
func NewSQLiteEngine(g *CompiledGraph, db *sql.DB) (Engine, error) {
	return engine.NewSQLiteEngine(g, db)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given Observer.
func NewSQLiteEngineWithObserver(g *CompiledGraph, db *sql.DB, obs Observer) (Engine, error) {
	return engine.NewSQLiteEngineWithObserver(g, db, obs)
}

// NewPostgresEngine returns an Engine that checkpoints runs in PostgreSQL.
func NewPostgresEngine(g *CompiledGraph, db *sql.DB) (Engine, error) {
	return engine.NewPostgresEngine(g, db)
}

// NewPostgresEngineWithObserver returns a Postgres-backed Engine with the given Observer.
func NewPostgresEngineWithObserver(g *CompiledGraph, db *sql.DB, obs Observer) (Engine, error) {
	return engine.NewPostgresEngineWithObserver(g, db, obs)
}

// NewRedisEngine returns an Engine that checkpoints runs in Redis.
func NewRedisEngine(g *CompiledGraph, client *redis.Client) Engine {
	return engine.NewRedisEngine(g, client)
}

// NewRedisEngineWithObserver returns a Redis-backed Engine with the given Observer.
func NewRedisEngineWithObserver(g *CompiledGraph, client *redis.Client, obs Observer) Engine {
	return engine.NewRedisEngineWithObserver(g, client, obs)
}

// NewMongoEngine returns an Engine that checkpoints runs in MongoDB.
func NewMongoEngine(g *CompiledGraph, db *mongo.Database) Engine {
	return engine.NewMongoEngine(g, db)
}

// NewMongoEngineWithObserver returns a Mongo-backed Engine with the given Observer.
func NewMongoEngineWithObserver(g *CompiledGraph, db *mongo.Database, obs Observer) Engine {
	return engine.NewMongoEngineWithObserver(g, db, obs)
}

// Convenience helpers that just forward to the underlying Engine.

// Start starts (or crash-resumes) the run with the given id.
func Start(ctx context.Context, eng Engine, id string, initial State) (*State, error) {
	return eng.Start(ctx, id, initial)
}

// GetState fetches the latest checkpointed state of a run.
func GetState(ctx context.Context, eng Engine, id string) (*State, error) {
	return eng.GetState(ctx, id)
}

// Resume applies an external decision to a suspended run and continues it.
func Resume(ctx context.Context, eng Engine, id string, patch Update) (*State, error) {
	return eng.Resume(ctx, id, patch)
}

// ListRuns lists checkpointed runs according to the given options.
func ListRuns(ctx context.Context, eng Engine, opts RunListOptions) ([]*State, error) {
	return eng.ListRuns(ctx, opts)
}
