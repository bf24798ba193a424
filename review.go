package weave

import (
	"context"
	"fmt"

	"github.com/dagsund/weave/pkg/api"
)

// Routing labels emitted by the supervisor router.
const (
	RouteApproved = "approved"
	RouteFailed   = "failed"
	RouteRejected = "rejected"
	RouteRevise   = "revise"
	RouteAwait    = "await"
)

// Thresholds configures when a round of reviews passes.
//
// Pass maps each required score name to its minimum passing value; a
// round passes only when every named score is present and at or above
// its bar. Critical names the score that additionally carries a hard
// floor: falling below Floor fails the run outright, regardless of
// everything else.
type Thresholds struct {
	Pass     map[string]float64
	Critical string
	Floor    float64
}

// Passing reports whether every required score is present and meets
// its bar.
func (t Thresholds) Passing(scores map[string]float64) bool {
	if len(t.Pass) == 0 {
		return false
	}
	for name, bar := range t.Pass {
		v, ok := scores[name]
		if !ok || v < bar {
			return false
		}
	}
	return true
}

// criticalBreach returns the critical score and true when it is below
// the hard floor.
func (t Thresholds) criticalBreach(scores map[string]float64) (float64, bool) {
	if t.Critical == "" {
		return 0, false
	}
	v, ok := scores[t.Critical]
	if !ok {
		return 0, false
	}
	return v, v < t.Floor
}

// Supervisor builds the router node that closes the review loop. The
// returned NodeFunc runs first and may set terminal status or error;
// the returned RouteFunc then picks a label from the merged state.
//
// Tie-break order:
//  1. an already-set error fails the run, scores notwithstanding
//  2. the critical score under its floor fails the run
//  3. an externally set REJECTED or APPROVED status goes straight
//     to its terminal
//  4. with the finalize flag set after a revision round: pass means
//     approved, exhausted iterations mean failed, otherwise revise
//  5. normal mode: pass after at least one full round suspends for an
//     external decision; exhausted iterations fail; otherwise revise
func Supervisor(t Thresholds) (NodeFunc, RouteFunc) {
	fn := func(ctx context.Context, st State) (Update, error) {
		if st.Err != "" {
			if st.Status != StatusFailed {
				return Update{Status: Ptr(StatusFailed)}, nil
			}
			return Update{}, nil
		}

		if v, breached := t.criticalBreach(st.Scores); breached {
			return Update{
				Status: Ptr(StatusFailed),
				Err:    Ptr(fmt.Sprintf("critical score %s=%.2f below floor %.2f", t.Critical, v, t.Floor)),
			}, nil
		}

		if st.Status == StatusRejected || st.Status == StatusApproved {
			return Update{}, nil
		}

		passing := t.Passing(st.Scores)

		if st.FinalizeNext && st.Status == StatusReviewing {
			if passing {
				return Update{Status: Ptr(StatusApproved)}, nil
			}
			if st.Iteration >= st.MaxIterations {
				return Update{
					Status: Ptr(StatusFailed),
					Err:    Ptr(fmt.Sprintf("final revision still below thresholds after %d iterations", st.Iteration)),
				}, nil
			}
			return Update{}, nil
		}

		if !passing && st.Iteration >= st.MaxIterations {
			return Update{
				Status: Ptr(StatusFailed),
				Err:    Ptr(fmt.Sprintf("thresholds not met after %d iterations", st.Iteration)),
			}, nil
		}

		return Update{}, nil
	}

	route := func(st State) string {
		switch st.Status {
		case StatusFailed:
			return RouteFailed
		case StatusRejected:
			return RouteRejected
		case StatusApproved:
			return RouteApproved
		case StatusRevising:
			return RouteRevise
		}

		if st.Err != "" {
			return RouteFailed
		}

		passing := t.Passing(st.Scores)

		if st.FinalizeNext && st.Status == StatusReviewing {
			if passing {
				return RouteApproved
			}
			if st.Iteration < st.MaxIterations {
				return RouteRevise
			}
			return RouteFailed
		}

		if passing && st.Iteration >= 1 {
			return RouteAwait
		}
		if st.Iteration < st.MaxIterations {
			return RouteRevise
		}
		return RouteFailed
	}

	return fn, route
}

// ReviewerSpec names one concurrent reviewer. Its Fn should append a
// Review, write its own score under Name, and may leave a note under
// Name; those are exactly the fields it is declared to write.
type ReviewerSpec struct {
	Name string
	Fn   NodeFunc
}

// CycleConfig assembles the standard draft / parallel-review /
// supervise / revise loop with a human approval gate.
type CycleConfig struct {
	// Draft produces the first artifact. It should set StatusReviewing
	// once the artifact is in place.
	Draft NodeFunc

	// Revise produces the next artifact version from the accumulated
	// reviews. It should set StatusReviewing when done.
	Revise NodeFunc

	// Reviewers all run concurrently against the same snapshot after
	// every draft or revision.
	Reviewers []ReviewerSpec

	// Await optionally runs just before the run suspends for an
	// external decision, e.g. to notify someone. May be nil.
	Await NodeFunc

	Thresholds Thresholds
}

// Node names used by NewReviewCycle.
const (
	NodeDraft      = "draft"
	NodeRevise     = "revise"
	NodeSupervisor = "supervisor"
	NodeAwait      = "await"
)

// NewReviewCycle compiles the review-cycle graph:
//
//	draft ⇉ reviewers ⇒ supervisor ─┬─ approved / failed / rejected
//	                                ├─ revise ⇉ reviewers ⇒ supervisor
//	                                └─ await ⇢ (resume) ⇢ supervisor
func NewReviewCycle(cfg CycleConfig) (*CompiledGraph, error) {
	if cfg.Draft == nil || cfg.Revise == nil {
		return nil, fmt.Errorf("weave: cycle needs draft and revise functions")
	}
	if len(cfg.Reviewers) == 0 {
		return nil, fmt.Errorf("weave: cycle needs at least one reviewer")
	}

	await := cfg.Await
	if await == nil {
		await = func(ctx context.Context, st State) (Update, error) {
			return Update{}, nil
		}
	}

	superviseFn, superviseRoute := Supervisor(cfg.Thresholds)

	b := NewGraph(NodeDraft).
		Node(NodeDraft, cfg.Draft, FieldArtifact, FieldStatus).
		Node(NodeRevise, cfg.Revise, FieldArtifact, FieldStatus)

	names := make([]string, 0, len(cfg.Reviewers))
	for _, r := range cfg.Reviewers {
		names = append(names, r.Name)
		b.Node(r.Name, r.Fn, FieldReviews, FieldScore(r.Name), FieldNote(r.Name))
	}

	b.FanOut(NodeDraft, names, NodeSupervisor).
		FanOut(NodeRevise, names, NodeSupervisor).
		Router(NodeSupervisor, superviseFn, superviseRoute, map[string]string{
			RouteApproved: RouteApproved,
			RouteFailed:   RouteFailed,
			RouteRejected: RouteRejected,
			RouteRevise:   NodeRevise,
			RouteAwait:    NodeAwait,
		}, FieldStatus, FieldError).
		Suspend(NodeAwait, await, FieldStatus).
		Edge(NodeAwait, NodeSupervisor).
		Terminal(RouteApproved, RouteFailed, RouteRejected)

	return b.Compile()
}

// Decision patch helpers for Resume. Each appends a synthetic review
// recording who decided and why, tied to the artifact version that was
// judged.

// ApproveFinal accepts the current artifact as-is and ends the run.
func ApproveFinal(by, artifactID, note string) Update {
	return Update{
		Status:  Ptr(StatusApproved),
		Reviews: []Review{api.NewReview(by, artifactID, note)},
	}
}

// ApproveContinue requests one more revision and auto-finalizes the
// run after its review round, with no further human gate.
func ApproveContinue(by, artifactID, note string) Update {
	return Update{
		Status:       Ptr(StatusRevising),
		FinalizeNext: Ptr(true),
		Reviews:      []Review{api.NewReview(by, artifactID, note)},
	}
}

// RequestRevision sends the run back for another full revision and
// review round, keeping the human gate.
func RequestRevision(by, artifactID, note string) Update {
	return Update{
		Status:  Ptr(StatusRevising),
		Reviews: []Review{api.NewReview(by, artifactID, note)},
	}
}

// Reject ends the run at the rejection terminal, bypassing scores.
func Reject(by, artifactID, note string) Update {
	return Update{
		Status:  Ptr(StatusRejected),
		Reviews: []Review{api.NewReview(by, artifactID, note)},
	}
}
