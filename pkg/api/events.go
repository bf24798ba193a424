package api

import (
	"context"
	"time"
)

// EventType identifies a run history event.
type EventType string

const (
	EventRunStarted   EventType = "run.started"
	EventRunResumed   EventType = "run.resumed"
	EventRunSuspended EventType = "run.suspended"
	EventRunCompleted EventType = "run.completed"
	EventRunFailed    EventType = "run.failed"

	EventNodeStarted   EventType = "node.started"
	EventNodeCompleted EventType = "node.completed"
	EventNodeFailed    EventType = "node.failed"
)

// RunEvent is a minimal append-only audit record.
// Keep Detail low-volume: a note or an error string, not payloads.
type RunEvent struct {
	RunID string
	At    time.Time
	Type  EventType

	Node       string
	DurationMS int64
	Detail     string
}

// EventSink is an append-only destination for audit events.
type EventSink interface {
	AppendEvent(ctx context.Context, ev RunEvent) error
}

// EventRecorder is an Observer that turns engine callbacks into
// RunEvents appended to a sink. Sink errors are dropped: the audit
// trail is fire-and-forget and must never fail the run.
type EventRecorder struct {
	NoopObserver

	Sink EventSink
}

// NewEventRecorder creates an EventRecorder over the given sink.
func NewEventRecorder(sink EventSink) *EventRecorder {
	return &EventRecorder{Sink: sink}
}

func (r *EventRecorder) append(ctx context.Context, ev RunEvent) {
	if r.Sink == nil {
		return
	}
	ev.At = time.Now()
	_ = r.Sink.AppendEvent(ctx, ev)
}

func (r *EventRecorder) OnRunStart(ctx context.Context, st State) {
	r.append(ctx, RunEvent{RunID: st.ID, Type: EventRunStarted})
}

func (r *EventRecorder) OnRunResumed(ctx context.Context, st State) {
	r.append(ctx, RunEvent{RunID: st.ID, Type: EventRunResumed, Detail: string(st.Status)})
}

func (r *EventRecorder) OnRunSuspended(ctx context.Context, st State) {
	r.append(ctx, RunEvent{RunID: st.ID, Type: EventRunSuspended})
}

func (r *EventRecorder) OnRunCompleted(ctx context.Context, st State) {
	r.append(ctx, RunEvent{RunID: st.ID, Type: EventRunCompleted})
}

func (r *EventRecorder) OnRunFailed(ctx context.Context, st State) {
	r.append(ctx, RunEvent{RunID: st.ID, Type: EventRunFailed, Detail: st.Err})
}

func (r *EventRecorder) OnNodeStart(ctx context.Context, runID, node string) {
	r.append(ctx, RunEvent{RunID: runID, Type: EventNodeStarted, Node: node})
}

func (r *EventRecorder) OnNodeCompleted(ctx context.Context, runID, node string, input State, update Update, d time.Duration, err error) {
	ev := RunEvent{
		RunID:      runID,
		Type:       EventNodeCompleted,
		Node:       node,
		DurationMS: d.Milliseconds(),
	}
	if err != nil {
		ev.Type = EventNodeFailed
		ev.Detail = err.Error()
	}
	r.append(ctx, ev)
}
