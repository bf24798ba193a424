package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Implementations must be fast and non-blocking, and must never fail
// the run: the engine ignores anything an observer does. Heavy sinks
// should buffer or go async.
type Observer interface {
	// OnRunStart is called once when a run is first started, before
	// the entry node executes.
	OnRunStart(ctx context.Context, st State)

	// OnRunResumed is called when a suspended run is resumed with an
	// external patch, after the patch has been merged.
	OnRunResumed(ctx context.Context, st State)

	// OnRunSuspended is called when a run halts at the suspension
	// node awaiting external input.
	OnRunSuspended(ctx context.Context, st State)

	// OnRunCompleted is called when a run reaches the approved
	// terminal.
	OnRunCompleted(ctx context.Context, st State)

	// OnRunFailed is called when a run reaches the failed or
	// rejected terminal.
	OnRunFailed(ctx context.Context, st State)

	// OnNodeStart is called before a node (or fan-out sibling) is
	// invoked.
	OnNodeStart(ctx context.Context, runID, node string)

	// OnNodeCompleted is called after a node returns, for successes
	// and failures alike, with the input snapshot and the produced
	// update.
	OnNodeCompleted(ctx context.Context, runID, node string, input State, update Update, d time.Duration, err error)
}

// NoopObserver is the default Observer; it does nothing.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(ctx context.Context, st State)     {}
func (NoopObserver) OnRunResumed(ctx context.Context, st State)   {}
func (NoopObserver) OnRunSuspended(ctx context.Context, st State) {}
func (NoopObserver) OnRunCompleted(ctx context.Context, st State) {}
func (NoopObserver) OnRunFailed(ctx context.Context, st State)    {}
func (NoopObserver) OnNodeStart(ctx context.Context, runID, node string) {
}
func (NoopObserver) OnNodeCompleted(ctx context.Context, runID, node string, input State, update Update, d time.Duration, err error) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer forwarding to each non-nil
// observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, st State) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, st)
	}
}

func (c *CompositeObserver) OnRunResumed(ctx context.Context, st State) {
	for _, o := range c.observers {
		o.OnRunResumed(ctx, st)
	}
}

func (c *CompositeObserver) OnRunSuspended(ctx context.Context, st State) {
	for _, o := range c.observers {
		o.OnRunSuspended(ctx, st)
	}
}

func (c *CompositeObserver) OnRunCompleted(ctx context.Context, st State) {
	for _, o := range c.observers {
		o.OnRunCompleted(ctx, st)
	}
}

func (c *CompositeObserver) OnRunFailed(ctx context.Context, st State) {
	for _, o := range c.observers {
		o.OnRunFailed(ctx, st)
	}
}

func (c *CompositeObserver) OnNodeStart(ctx context.Context, runID, node string) {
	for _, o := range c.observers {
		o.OnNodeStart(ctx, runID, node)
	}
}

func (c *CompositeObserver) OnNodeCompleted(ctx context.Context, runID, node string, input State, update Update, d time.Duration, err error) {
	for _, o := range c.observers {
		o.OnNodeCompleted(ctx, runID, node, input, update, d, err)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs run and node
// lifecycle events. If logger is nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, st State) {
	o.Logger.InfoContext(ctx, "run_start",
		slog.String("run_id", st.ID),
		slog.String("status", string(st.Status)),
	)
}

func (o *LoggingObserver) OnRunResumed(ctx context.Context, st State) {
	o.Logger.InfoContext(ctx, "run_resumed",
		slog.String("run_id", st.ID),
		slog.String("status", string(st.Status)),
	)
}

func (o *LoggingObserver) OnRunSuspended(ctx context.Context, st State) {
	o.Logger.InfoContext(ctx, "run_suspended",
		slog.String("run_id", st.ID),
		slog.Int("iteration", st.Iteration),
	)
}

func (o *LoggingObserver) OnRunCompleted(ctx context.Context, st State) {
	o.Logger.InfoContext(ctx, "run_completed",
		slog.String("run_id", st.ID),
		slog.Int("iteration", st.Iteration),
	)
}

func (o *LoggingObserver) OnRunFailed(ctx context.Context, st State) {
	o.Logger.ErrorContext(ctx, "run_failed",
		slog.String("run_id", st.ID),
		slog.String("status", string(st.Status)),
		slog.String("error", st.Err),
	)
}

func (o *LoggingObserver) OnNodeStart(ctx context.Context, runID, node string) {
	o.Logger.DebugContext(ctx, "node_start",
		slog.String("run_id", runID),
		slog.String("node", node),
	)
}

func (o *LoggingObserver) OnNodeCompleted(ctx context.Context, runID, node string, input State, update Update, d time.Duration, err error) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "node_completed",
		slog.String("run_id", runID),
		slog.String("node", node),
		slog.Duration("duration", d),
		slog.Int("reviews_added", len(update.Reviews)),
		slog.Bool("artifact_replaced", update.Artifact != nil),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate node durations.
// It implements Observer and combines with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	runsStarted   atomic.Int64
	runsResumed   atomic.Int64
	runsSuspended atomic.Int64
	runsCompleted atomic.Int64
	runsFailed    atomic.Int64

	nodesCompleted    atomic.Int64
	totalNodeDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	RunsStarted   int64
	RunsResumed   int64
	RunsSuspended int64
	RunsCompleted int64
	RunsFailed    int64

	NodesCompleted  int64
	AvgNodeDuration time.Duration
}

func (m *BasicMetrics) OnRunStart(ctx context.Context, st State) {
	m.runsStarted.Add(1)
}

func (m *BasicMetrics) OnRunResumed(ctx context.Context, st State) {
	m.runsResumed.Add(1)
}

func (m *BasicMetrics) OnRunSuspended(ctx context.Context, st State) {
	m.runsSuspended.Add(1)
}

func (m *BasicMetrics) OnRunCompleted(ctx context.Context, st State) {
	m.runsCompleted.Add(1)
}

func (m *BasicMetrics) OnRunFailed(ctx context.Context, st State) {
	m.runsFailed.Add(1)
}

func (m *BasicMetrics) OnNodeCompleted(ctx context.Context, runID, node string, input State, update Update, d time.Duration, err error) {
	if err == nil {
		m.nodesCompleted.Add(1)
		m.totalNodeDuration.Add(d.Nanoseconds())
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	nodes := m.nodesCompleted.Load()
	totalNs := m.totalNodeDuration.Load()

	var avg time.Duration
	if nodes > 0 {
		avg = time.Duration(totalNs / nodes)
	}

	return BasicMetricsSnapshot{
		RunsStarted:     m.runsStarted.Load(),
		RunsResumed:     m.runsResumed.Load(),
		RunsSuspended:   m.runsSuspended.Load(),
		RunsCompleted:   m.runsCompleted.Load(),
		RunsFailed:      m.runsFailed.Load(),
		NodesCompleted:  nodes,
		AvgNodeDuration: avg,
	}
}
