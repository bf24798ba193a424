package api

import (
	"context"
	"strings"
	"testing"
)

func noopNode(ctx context.Context, st State) (Update, error) {
	return Update{}, nil
}

func pickFirst(targets map[string]string) RouteFunc {
	return func(st State) string {
		for label := range targets {
			return label
		}
		return ""
	}
}

func TestCompile_MinimalGraph(t *testing.T) {
	g := GraphSpec{
		Entry: "a",
		Nodes: []NodeSpec{
			{Name: "a", Fn: noopNode},
		},
		Edges:     []Edge{{From: "a", To: "done"}},
		Terminals: []string{"done"},
	}

	c, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if c.Entry() != "a" {
		t.Fatalf("expected entry a, got %q", c.Entry())
	}
	if next, ok := c.Next("a"); !ok || next != "done" {
		t.Fatalf("expected a -> done, got %q %v", next, ok)
	}
	if !c.IsTerminal("done") {
		t.Fatalf("expected done to be terminal")
	}
}

func TestCompile_RejectsDuplicateNode(t *testing.T) {
	g := GraphSpec{
		Entry: "a",
		Nodes: []NodeSpec{
			{Name: "a", Fn: noopNode},
			{Name: "a", Fn: noopNode},
		},
	}
	if _, err := g.Compile(); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate node error, got %v", err)
	}
}

func TestCompile_RejectsUnknownEntry(t *testing.T) {
	g := GraphSpec{
		Entry: "missing",
		Nodes: []NodeSpec{{Name: "a", Fn: noopNode}},
	}
	if _, err := g.Compile(); err == nil {
		t.Fatalf("expected error for unknown entry")
	}
}

func TestCompile_RejectsSecondUnconditionalEdge(t *testing.T) {
	g := GraphSpec{
		Entry: "a",
		Nodes: []NodeSpec{
			{Name: "a", Fn: noopNode},
			{Name: "b", Fn: noopNode},
			{Name: "c", Fn: noopNode},
		},
		Edges: []Edge{
			{From: "a", To: "b"},
			{From: "a", To: "c"},
		},
	}
	if _, err := g.Compile(); err == nil || !strings.Contains(err.Error(), "more than one unconditional edge") {
		t.Fatalf("expected multi-edge error, got %v", err)
	}
}

func TestCompile_RejectsRouterWithUnknownTarget(t *testing.T) {
	targets := map[string]string{"go": "nowhere"}
	g := GraphSpec{
		Entry: "r",
		Nodes: []NodeSpec{
			{Name: "r", Fn: noopNode, Route: pickFirst(targets), Targets: targets},
		},
	}
	if _, err := g.Compile(); err == nil || !strings.Contains(err.Error(), "unknown node") {
		t.Fatalf("expected unknown target error, got %v", err)
	}
}

func TestCompile_RejectsRouterWithoutTargets(t *testing.T) {
	g := GraphSpec{
		Entry: "r",
		Nodes: []NodeSpec{
			{Name: "r", Route: func(st State) string { return "" }},
		},
	}
	if _, err := g.Compile(); err == nil || !strings.Contains(err.Error(), "no targets") {
		t.Fatalf("expected no-targets error, got %v", err)
	}
}

func TestCompile_RejectsSiblingWriteConflict(t *testing.T) {
	g := GraphSpec{
		Entry: "start",
		Nodes: []NodeSpec{
			{Name: "start", Fn: noopNode},
			{Name: "r1", Fn: noopNode, Writes: []string{FieldReviews, FieldStatus}},
			{Name: "r2", Fn: noopNode, Writes: []string{FieldReviews, FieldStatus}},
			{Name: "join", Fn: noopNode},
		},
		FanOuts: []FanOut{
			{From: "start", Siblings: []string{"r1", "r2"}, Join: "join"},
		},
		Edges:     []Edge{{From: "join", To: "done"}},
		Terminals: []string{"done"},
	}
	if _, err := g.Compile(); err == nil || !strings.Contains(err.Error(), "both write") {
		t.Fatalf("expected sibling write conflict, got %v", err)
	}
}

func TestCompile_AllowsSiblingsSharingReviewsAndKeyedFields(t *testing.T) {
	g := GraphSpec{
		Entry: "start",
		Nodes: []NodeSpec{
			{Name: "start", Fn: noopNode},
			{Name: "r1", Fn: noopNode, Writes: []string{FieldReviews, FieldScore("r1"), FieldNote("r1")}},
			{Name: "r2", Fn: noopNode, Writes: []string{FieldReviews, FieldScore("r2"), FieldNote("r2")}},
			{Name: "join", Fn: noopNode},
		},
		FanOuts: []FanOut{
			{From: "start", Siblings: []string{"r1", "r2"}, Join: "join"},
		},
		Edges:     []Edge{{From: "join", To: "done"}},
		Terminals: []string{"done"},
	}
	c, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if join, ok := c.JoinOf("r1"); !ok || join != "join" {
		t.Fatalf("expected r1 to join at join, got %q %v", join, ok)
	}
	if f, ok := c.FanOutFrom("start"); !ok || len(f.Siblings) != 2 {
		t.Fatalf("expected fan-out from start with 2 siblings")
	}
}

func TestCompile_SiblingInTwoFanOutsMustShareJoin(t *testing.T) {
	g := GraphSpec{
		Entry: "a",
		Nodes: []NodeSpec{
			{Name: "a", Fn: noopNode},
			{Name: "b", Fn: noopNode},
			{Name: "shared", Fn: noopNode, Writes: []string{FieldReviews}},
			{Name: "j1", Fn: noopNode},
			{Name: "j2", Fn: noopNode},
		},
		FanOuts: []FanOut{
			{From: "a", Siblings: []string{"shared"}, Join: "j1"},
			{From: "b", Siblings: []string{"shared"}, Join: "j2"},
		},
	}
	if _, err := g.Compile(); err == nil || !strings.Contains(err.Error(), "different joins") {
		t.Fatalf("expected shared-sibling join error, got %v", err)
	}
}

func TestCompile_SuspensionNodeNeedsResumeEdge(t *testing.T) {
	g := GraphSpec{
		Entry: "a",
		Nodes: []NodeSpec{
			{Name: "a", Fn: noopNode},
			{Name: "wait", Fn: noopNode},
		},
		Edges:   []Edge{{From: "a", To: "wait"}},
		Suspend: "wait",
	}
	if _, err := g.Compile(); err == nil || !strings.Contains(err.Error(), "outgoing edge") {
		t.Fatalf("expected suspension edge error, got %v", err)
	}

	g.Edges = append(g.Edges, Edge{From: "wait", To: "a"})
	c, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile failed after adding resume edge: %v", err)
	}
	if c.SuspendNode() != "wait" {
		t.Fatalf("expected suspend node wait, got %q", c.SuspendNode())
	}
}

func TestCompile_RejectsNodeTerminalCollision(t *testing.T) {
	g := GraphSpec{
		Entry: "a",
		Nodes: []NodeSpec{
			{Name: "a", Fn: noopNode},
			{Name: "done", Fn: noopNode},
		},
		Terminals: []string{"done"},
	}
	if _, err := g.Compile(); err == nil || !strings.Contains(err.Error(), "collides") {
		t.Fatalf("expected collision error, got %v", err)
	}
}
