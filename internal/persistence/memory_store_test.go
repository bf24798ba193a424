package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/dagsund/weave/pkg/api"
)

func sampleCheckpoint(id string, status api.Status) *Checkpoint {
	st := api.NewState(id, "write release notes", "v2.3", 3)
	st.Status = status
	art := api.NewArtifact("draft text", "draft", nil)
	st = st.Apply(api.Update{Artifact: &art})
	st.Status = status
	return &Checkpoint{State: st, ResumeNode: "draft"}
}

func TestInMemoryStore_SaveAndLoad(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	cp := sampleCheckpoint("run-1", api.StatusReviewing)
	if err := store.Save(ctx, cp); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.State.ID != "run-1" || got.State.Status != api.StatusReviewing {
		t.Fatalf("unexpected state: %+v", got.State)
	}
	if got.ResumeNode != "draft" {
		t.Fatalf("expected resume node draft, got %q", got.ResumeNode)
	}
	if got.State.Artifact == nil || got.State.Artifact.Content != "draft text" {
		t.Fatalf("artifact not round-tripped: %+v", got.State.Artifact)
	}
}

func TestInMemoryStore_LoadNotFound(t *testing.T) {
	store := NewInMemoryStore()

	_, err := store.Load(context.Background(), "does-not-exist")
	if !errors.Is(err, ErrCheckpointNotFound) {
		t.Fatalf("expected ErrCheckpointNotFound, got %v", err)
	}
}

func TestInMemoryStore_SaveReplacesSnapshot(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	cp := sampleCheckpoint("run-1", api.StatusReviewing)
	if err := store.Save(ctx, cp); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	cp.State.Status = api.StatusApproved
	cp.ResumeNode = "supervisor"
	if err := store.Save(ctx, cp); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	got, err := store.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.State.Status != api.StatusApproved || got.ResumeNode != "supervisor" {
		t.Fatalf("snapshot not replaced: %+v", got)
	}
}

func TestInMemoryStore_LoadReturnsIsolatedCopy(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if err := store.Save(ctx, sampleCheckpoint("run-1", api.StatusReviewing)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	first, _ := store.Load(ctx, "run-1")
	first.State.Status = api.StatusFailed
	first.State.Artifact.Content = "mutated"

	second, _ := store.Load(ctx, "run-1")
	if second.State.Status != api.StatusReviewing {
		t.Fatalf("stored snapshot mutated through loaded copy")
	}
	if second.State.Artifact.Content != "draft text" {
		t.Fatalf("stored artifact mutated through loaded copy")
	}
}

func TestInMemoryStore_ListWithStatusFilter(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	for _, c := range []*Checkpoint{
		sampleCheckpoint("run-1", api.StatusAwaitingInput),
		sampleCheckpoint("run-2", api.StatusApproved),
		sampleCheckpoint("run-3", api.StatusAwaitingInput),
	} {
		if err := store.Save(ctx, c); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	all, err := store.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 checkpoints, got %d", len(all))
	}

	waiting, err := store.List(ctx, Filter{Status: api.StatusAwaitingInput})
	if err != nil {
		t.Fatalf("filtered List failed: %v", err)
	}
	if len(waiting) != 2 {
		t.Fatalf("expected 2 awaiting checkpoints, got %d", len(waiting))
	}
	for _, cp := range waiting {
		if cp.State.Status != api.StatusAwaitingInput {
			t.Fatalf("filter leaked status %s", cp.State.Status)
		}
	}
}

func TestApplyPatch_MergesAndRetags(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	cp := sampleCheckpoint("run-1", api.StatusAwaitingInput)
	cp.ResumeNode = "await"
	if err := store.Save(ctx, cp); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	patch := api.Update{
		Status:  api.Ptr(api.StatusRevising),
		Reviews: []api.Review{api.NewReview("human", cp.State.Artifact.ID, "tighten the intro")},
	}

	got, err := ApplyPatch(ctx, store, "run-1", patch, "await")
	if err != nil {
		t.Fatalf("ApplyPatch failed: %v", err)
	}
	if got.State.Status != api.StatusRevising {
		t.Fatalf("patch status not applied: %s", got.State.Status)
	}
	if len(got.State.Reviews) != 1 || got.State.Reviews[0].Reviewer != "human" {
		t.Fatalf("patch review not appended: %+v", got.State.Reviews)
	}
	if got.ResumeNode != "await" {
		t.Fatalf("expected resume node await, got %q", got.ResumeNode)
	}

	// The merged snapshot must be what a fresh Load sees.
	reloaded, err := store.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if reloaded.State.Status != api.StatusRevising || len(reloaded.State.Reviews) != 1 {
		t.Fatalf("patched snapshot not persisted: %+v", reloaded.State)
	}
}

func TestApplyPatch_UnknownInstance(t *testing.T) {
	store := NewInMemoryStore()

	_, err := ApplyPatch(context.Background(), store, "missing", api.Update{}, "await")
	if !errors.Is(err, ErrCheckpointNotFound) {
		t.Fatalf("expected ErrCheckpointNotFound, got %v", err)
	}
}
