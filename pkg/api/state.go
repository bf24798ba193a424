package api

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a run.
type Status string

const (
	StatusInit          Status = "INIT"
	StatusDrafting      Status = "DRAFTING"
	StatusReviewing     Status = "REVIEWING"
	StatusRevising      Status = "REVISING"
	StatusAwaitingInput Status = "AWAITING_INPUT"
	StatusApproved      Status = "APPROVED"
	StatusFailed        Status = "FAILED"
	StatusRejected      Status = "REJECTED"
)

// Terminal reports whether a run in this status will never advance again.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusFailed || s == StatusRejected
}

// Artifact is one version of the work product a run is producing.
type Artifact struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	ParentID  string    `json:"parent_id,omitempty"`
	Version   int       `json:"version"`
}

// NewArtifact creates an artifact authored by the given producer.
// If parent is non-nil the new artifact supersedes it.
func NewArtifact(content, createdBy string, parent *Artifact) Artifact {
	a := Artifact{
		ID:        uuid.NewString(),
		Content:   content,
		CreatedBy: createdBy,
		CreatedAt: time.Now(),
		Version:   1,
	}
	if parent != nil {
		a.ParentID = parent.ID
		a.Version = parent.Version + 1
	}
	return a
}

// Review is a single reviewer's annotation of one artifact version.
// Reviews are append-only: once in the state they are never replaced
// or removed, and parallel reviewers in the same round must all land.
type Review struct {
	ID         string             `json:"id"`
	Reviewer   string             `json:"reviewer"`
	ArtifactID string             `json:"artifact_id"`
	Summary    string             `json:"summary"`
	Rationale  string             `json:"rationale,omitempty"`
	Scores     map[string]float64 `json:"scores,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

// NewReview creates a review of the given artifact.
func NewReview(reviewer, artifactID, summary string) Review {
	return Review{
		ID:         uuid.NewString(),
		Reviewer:   reviewer,
		ArtifactID: artifactID,
		Summary:    summary,
		CreatedAt:  time.Now(),
	}
}

// State is the shared, versioned aggregate threaded through a run.
// Nodes never mutate it directly; they return an Update that the
// executor merges in via Apply.
type State struct {
	ID      string `json:"id"`
	Goal    string `json:"goal"`
	Context string `json:"context,omitempty"`

	Artifact *Artifact  `json:"artifact,omitempty"`
	History  []Artifact `json:"history,omitempty"`

	Reviews []Review `json:"reviews,omitempty"`

	// Scores holds named aggregate metrics, last write wins per name.
	Scores map[string]float64 `json:"scores,omitempty"`

	Iteration     int    `json:"iteration"`
	MaxIterations int    `json:"max_iterations"`
	Status        Status `json:"status"`
	Err           string `json:"error,omitempty"`

	// FinalizeNext requests auto-finalization after the next review
	// round that follows a revision.
	FinalizeNext bool `json:"finalize_next,omitempty"`

	// Notes carries short free-text context per producer name.
	Notes map[string]string `json:"notes,omitempty"`
}

// NewState seeds the state for a fresh run.
func NewState(id, goal, context string, maxIterations int) State {
	return State{
		ID:            id,
		Goal:          goal,
		Context:       context,
		MaxIterations: maxIterations,
		Status:        StatusInit,
	}
}

// Score returns the named aggregate score, if set.
func (s State) Score(name string) (float64, bool) {
	v, ok := s.Scores[name]
	return v, ok
}

// Clone returns a deep copy so concurrent readers never share slices
// or maps with the run loop.
func (s State) Clone() State {
	c := s
	if s.Artifact != nil {
		a := *s.Artifact
		c.Artifact = &a
	}
	c.History = slices.Clone(s.History)
	c.Reviews = slices.Clone(s.Reviews)
	c.Scores = maps.Clone(s.Scores)
	c.Notes = maps.Clone(s.Notes)
	return c
}

// Update is the partial result a node returns: nil/empty fields mean
// "no change". Reviews are appended; scores and notes merge per key;
// everything else replaces the current value.
type Update struct {
	Artifact     *Artifact          `json:"artifact,omitempty"`
	Reviews      []Review           `json:"reviews,omitempty"`
	Scores       map[string]float64 `json:"scores,omitempty"`
	Status       *Status            `json:"status,omitempty"`
	Err          *string            `json:"error,omitempty"`
	FinalizeNext *bool              `json:"finalize_next,omitempty"`
	Notes        map[string]string  `json:"notes,omitempty"`
}

// Empty reports whether applying u would change nothing.
func (u Update) Empty() bool {
	return u.Artifact == nil &&
		len(u.Reviews) == 0 &&
		len(u.Scores) == 0 &&
		u.Status == nil &&
		u.Err == nil &&
		u.FinalizeNext == nil &&
		len(u.Notes) == 0
}

// Apply merges u into a copy of s and returns the result.
//
// Replacing the artifact pushes the previous artifact onto History and
// bumps Iteration, so the history invariant (every superseded artifact
// is retained, in order) holds regardless of node discipline.
//
// For fan-out siblings the executor applies each sibling's update in
// declared sibling order; because only Reviews, per-key Scores and
// per-key Notes are ever written by more than one sibling, the result
// is the same whichever sibling finished first.
func (s State) Apply(u Update) State {
	out := s.Clone()

	if u.Artifact != nil {
		if out.Artifact != nil {
			out.History = append(out.History, *out.Artifact)
		}
		a := *u.Artifact
		out.Artifact = &a
		out.Iteration++
	}

	if len(u.Reviews) > 0 {
		out.Reviews = append(out.Reviews, u.Reviews...)
	}

	if len(u.Scores) > 0 {
		if out.Scores == nil {
			out.Scores = make(map[string]float64, len(u.Scores))
		}
		maps.Copy(out.Scores, u.Scores)
	}

	if u.Status != nil {
		out.Status = *u.Status
	}
	if u.Err != nil {
		out.Err = *u.Err
	}
	if u.FinalizeNext != nil {
		out.FinalizeNext = *u.FinalizeNext
	}

	if len(u.Notes) > 0 {
		if out.Notes == nil {
			out.Notes = make(map[string]string, len(u.Notes))
		}
		maps.Copy(out.Notes, u.Notes)
	}

	return out
}

// Ptr is a convenience for building Updates with literal values:
//
//	api.Update{Status: api.Ptr(api.StatusReviewing)}
func Ptr[T any](v T) *T {
	return &v
}
