package api

import (
	"testing"
)

func TestApply_ArtifactReplacePreservesHistory(t *testing.T) {
	st := NewState("run-1", "write a note", "", 3)

	first := NewArtifact("v1 content", "draft", nil)
	st = st.Apply(Update{Artifact: &first})

	if st.Artifact == nil || st.Artifact.Content != "v1 content" {
		t.Fatalf("expected current artifact v1, got %+v", st.Artifact)
	}
	if len(st.History) != 0 {
		t.Fatalf("first artifact should not create history, got %d entries", len(st.History))
	}
	if st.Iteration != 1 {
		t.Fatalf("expected iteration 1 after first artifact, got %d", st.Iteration)
	}

	second := NewArtifact("v2 content", "revise", st.Artifact)
	st = st.Apply(Update{Artifact: &second})

	if st.Artifact.Content != "v2 content" {
		t.Fatalf("expected current artifact v2, got %q", st.Artifact.Content)
	}
	if len(st.History) != 1 || st.History[0].Content != "v1 content" {
		t.Fatalf("expected v1 in history, got %+v", st.History)
	}
	if st.Iteration != 2 {
		t.Fatalf("expected iteration 2, got %d", st.Iteration)
	}
	if second.Version != first.Version+1 {
		t.Fatalf("expected version bump, got %d -> %d", first.Version, second.Version)
	}
}

func TestApply_ReviewsAppend(t *testing.T) {
	st := NewState("run-1", "goal", "", 3)

	r1 := NewReview("safety", "a-1", "fine")
	r2 := NewReview("clarity", "a-1", "confusing")

	st = st.Apply(Update{Reviews: []Review{r1}})
	st = st.Apply(Update{Reviews: []Review{r2}})

	if len(st.Reviews) != 2 {
		t.Fatalf("expected 2 reviews, got %d", len(st.Reviews))
	}
	if st.Reviews[0].Reviewer != "safety" || st.Reviews[1].Reviewer != "clarity" {
		t.Fatalf("reviews out of order: %+v", st.Reviews)
	}
}

func TestApply_ScoresAndNotesMergePerKey(t *testing.T) {
	st := NewState("run-1", "goal", "", 3)

	st = st.Apply(Update{
		Scores: map[string]float64{"safety": 0.9},
		Notes:  map[string]string{"safety": "ok"},
	})
	st = st.Apply(Update{
		Scores: map[string]float64{"clarity": 0.6, "safety": 0.95},
		Notes:  map[string]string{"clarity": "meh"},
	})

	if st.Scores["safety"] != 0.95 {
		t.Fatalf("expected safety score replaced per key, got %v", st.Scores["safety"])
	}
	if st.Scores["clarity"] != 0.6 {
		t.Fatalf("expected clarity score merged in, got %v", st.Scores["clarity"])
	}
	if st.Notes["safety"] != "ok" || st.Notes["clarity"] != "meh" {
		t.Fatalf("unexpected notes: %+v", st.Notes)
	}
}

// Sibling updates touch disjoint keys plus the append-only review set,
// so applying them in either order must produce the same state.
func TestApply_SiblingOrderIndependent(t *testing.T) {
	base := NewState("run-1", "goal", "", 3)
	art := NewArtifact("draft", "draft", nil)
	base = base.Apply(Update{Artifact: &art})

	u1 := Update{
		Reviews: []Review{NewReview("safety", art.ID, "safe")},
		Scores:  map[string]float64{"safety": 0.9},
		Notes:   map[string]string{"safety": "ok"},
	}
	u2 := Update{
		Reviews: []Review{NewReview("clarity", art.ID, "clear")},
		Scores:  map[string]float64{"clarity": 0.8},
	}

	a := base.Apply(u1).Apply(u2)
	b := base.Apply(u2).Apply(u1)

	if len(a.Reviews) != 2 || len(b.Reviews) != 2 {
		t.Fatalf("expected both orders to keep 2 reviews, got %d and %d", len(a.Reviews), len(b.Reviews))
	}
	if a.Scores["safety"] != b.Scores["safety"] || a.Scores["clarity"] != b.Scores["clarity"] {
		t.Fatalf("score maps differ between orders: %+v vs %+v", a.Scores, b.Scores)
	}
	if a.Iteration != b.Iteration || a.Status != b.Status {
		t.Fatalf("scalar fields differ between orders")
	}
}

func TestApply_StatusErrorAndFinalize(t *testing.T) {
	st := NewState("run-1", "goal", "", 3)

	st = st.Apply(Update{
		Status:       Ptr(StatusFailed),
		Err:          Ptr("boom"),
		FinalizeNext: Ptr(true),
	})

	if st.Status != StatusFailed {
		t.Fatalf("expected FAILED, got %s", st.Status)
	}
	if st.Err != "boom" {
		t.Fatalf("expected error set, got %q", st.Err)
	}
	if !st.FinalizeNext {
		t.Fatalf("expected finalize flag set")
	}
}

func TestApply_EmptyUpdateChangesNothing(t *testing.T) {
	st := NewState("run-1", "goal", "ctx", 3)
	art := NewArtifact("draft", "draft", nil)
	st = st.Apply(Update{Artifact: &art})

	got := st.Apply(Update{})

	if got.Iteration != st.Iteration || got.Status != st.Status {
		t.Fatalf("empty update changed scalars")
	}
	if len(got.History) != len(st.History) || len(got.Reviews) != len(st.Reviews) {
		t.Fatalf("empty update changed collections")
	}
	if !(Update{}).Empty() {
		t.Fatalf("zero Update should report Empty")
	}
}

func TestClone_IsolatesCollections(t *testing.T) {
	st := NewState("run-1", "goal", "", 3)
	art := NewArtifact("draft", "draft", nil)
	st = st.Apply(Update{
		Artifact: &art,
		Scores:   map[string]float64{"safety": 0.5},
		Reviews:  []Review{NewReview("safety", art.ID, "meh")},
	})

	c := st.Clone()
	c.Scores["safety"] = 0.99
	c.Reviews[0].Summary = "mutated"
	c.Artifact.Content = "mutated"

	if st.Scores["safety"] != 0.5 {
		t.Fatalf("clone shares score map with original")
	}
	if st.Reviews[0].Summary != "meh" {
		t.Fatalf("clone shares review slice with original")
	}
	if st.Artifact.Content != "draft" {
		t.Fatalf("clone shares artifact pointer with original")
	}
}

func TestStatus_Terminal(t *testing.T) {
	for _, s := range []Status{StatusApproved, StatusFailed, StatusRejected} {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	for _, s := range []Status{StatusInit, StatusDrafting, StatusReviewing, StatusRevising, StatusAwaitingInput} {
		if s.Terminal() {
			t.Fatalf("expected %s to be non-terminal", s)
		}
	}
}
