package api

import (
	"context"
	"fmt"
)

// NodeFunc is a single processing step: a pure function from the
// current state to a partial update.
//
// Nodes must be safe to invoke more than once with the same input
// (the executor checkpoints after every node, so re-dispatch only
// happens after a crash) and must absorb their own failures: a node
// that calls out to a fallible service should catch the failure and
// return a degraded Update rather than an error. A returned error is
// treated as a defect and fails the whole run.
type NodeFunc func(ctx context.Context, st State) (Update, error)

// RouteFunc picks the outgoing label of a router node from an
// immutable state snapshot. It must be deterministic: the same
// snapshot always yields the same label.
type RouteFunc func(st State) string

// Field names used to declare which parts of the state a node writes.
// Scores and notes are keyed, so each key is its own field.
const (
	FieldArtifact = "artifact"
	FieldReviews  = "reviews"
	FieldStatus   = "status"
	FieldError    = "error"
	FieldFinalize = "finalize"
)

// FieldScore names the write-set entry for one aggregate score.
func FieldScore(name string) string { return "score:" + name }

// FieldNote names the write-set entry for one producer's note.
func FieldNote(producer string) string { return "note:" + producer }

// NodeSpec declares one named node.
//
// Writes lists the state fields the node's updates may touch; it is
// what Compile uses to reject fan-out groups in which two siblings
// would race on a replace-on-write field.
//
// A non-nil Route marks the node as a router: after its Fn result is
// merged, Route is evaluated against the post-merge state and the
// label is resolved through Targets.
type NodeSpec struct {
	Name   string
	Fn     NodeFunc
	Writes []string

	Route   RouteFunc
	Targets map[string]string
}

// Edge is an unconditional transition between two nodes (or from a
// node to a terminal marker).
type Edge struct {
	From, To string
}

// FanOut declares that after From completes, all Siblings run
// concurrently against the same state snapshot, and the run continues
// at Join once every sibling's update has been merged.
type FanOut struct {
	From     string
	Siblings []string
	Join     string
}

// GraphSpec is the static definition of a run's topology. Build it
// once (usually via the root package's Builder) and Compile it before
// handing it to an engine.
type GraphSpec struct {
	Entry     string
	Nodes     []NodeSpec
	Edges     []Edge
	FanOuts   []FanOut
	Terminals []string

	// Suspend names the node at which the run halts indefinitely
	// awaiting an external decision. Its single outgoing edge is the
	// resume edge.
	Suspend string
}

// CompiledGraph is a validated, indexed GraphSpec.
type CompiledGraph struct {
	entry     string
	suspend   string
	nodes     map[string]NodeSpec
	next      map[string]string
	fanOuts   map[string]FanOut
	joinOf    map[string]string
	terminals map[string]struct{}
}

// Compile validates the spec and returns an indexed graph.
func (g GraphSpec) Compile() (*CompiledGraph, error) {
	c := &CompiledGraph{
		entry:     g.Entry,
		suspend:   g.Suspend,
		nodes:     make(map[string]NodeSpec, len(g.Nodes)),
		next:      make(map[string]string, len(g.Edges)),
		fanOuts:   make(map[string]FanOut, len(g.FanOuts)),
		joinOf:    make(map[string]string),
		terminals: make(map[string]struct{}, len(g.Terminals)),
	}

	for _, t := range g.Terminals {
		if t == "" {
			return nil, fmt.Errorf("graph: empty terminal name")
		}
		c.terminals[t] = struct{}{}
	}

	for _, n := range g.Nodes {
		if n.Name == "" {
			return nil, fmt.Errorf("graph: node with empty name")
		}
		if _, dup := c.nodes[n.Name]; dup {
			return nil, fmt.Errorf("graph: duplicate node %q", n.Name)
		}
		if _, clash := c.terminals[n.Name]; clash {
			return nil, fmt.Errorf("graph: node %q collides with a terminal", n.Name)
		}
		if n.Fn == nil && n.Route == nil {
			return nil, fmt.Errorf("graph: node %q has no function", n.Name)
		}
		if n.Route != nil && len(n.Targets) == 0 {
			return nil, fmt.Errorf("graph: router %q declares no targets", n.Name)
		}
		if n.Route == nil && len(n.Targets) > 0 {
			return nil, fmt.Errorf("graph: node %q has targets but no route function", n.Name)
		}
		c.nodes[n.Name] = n
	}

	if g.Entry == "" {
		return nil, fmt.Errorf("graph: entry node not set")
	}
	if _, ok := c.nodes[g.Entry]; !ok {
		return nil, fmt.Errorf("graph: entry node %q not defined", g.Entry)
	}

	for _, e := range g.Edges {
		if _, ok := c.nodes[e.From]; !ok {
			return nil, fmt.Errorf("graph: edge from unknown node %q", e.From)
		}
		if !c.isSuccessor(e.To) {
			return nil, fmt.Errorf("graph: edge %q -> %q targets unknown node", e.From, e.To)
		}
		if _, dup := c.next[e.From]; dup {
			return nil, fmt.Errorf("graph: node %q has more than one unconditional edge", e.From)
		}
		c.next[e.From] = e.To
	}

	for _, f := range g.FanOuts {
		if _, ok := c.nodes[f.From]; !ok {
			return nil, fmt.Errorf("graph: fan-out from unknown node %q", f.From)
		}
		if _, dup := c.fanOuts[f.From]; dup {
			return nil, fmt.Errorf("graph: node %q has more than one fan-out", f.From)
		}
		if _, clash := c.next[f.From]; clash {
			return nil, fmt.Errorf("graph: node %q has both an edge and a fan-out", f.From)
		}
		if len(f.Siblings) == 0 {
			return nil, fmt.Errorf("graph: fan-out from %q has no siblings", f.From)
		}
		if _, ok := c.nodes[f.Join]; !ok {
			return nil, fmt.Errorf("graph: fan-out from %q joins at unknown node %q", f.From, f.Join)
		}
		for _, s := range f.Siblings {
			n, ok := c.nodes[s]
			if !ok {
				return nil, fmt.Errorf("graph: fan-out sibling %q not defined", s)
			}
			if n.Route != nil {
				return nil, fmt.Errorf("graph: fan-out sibling %q must not be a router", s)
			}
			// A sibling may appear in more than one fan-out group
			// only if both groups converge at the same join, so
			// resumption after the sibling is unambiguous.
			if join, ok := c.joinOf[s]; ok && join != f.Join {
				return nil, fmt.Errorf("graph: sibling %q belongs to fan-outs with different joins (%q and %q)", s, join, f.Join)
			}
			c.joinOf[s] = f.Join
		}
		if err := checkSiblingWrites(c.nodes, f); err != nil {
			return nil, err
		}
		c.fanOuts[f.From] = f
	}

	for name, n := range c.nodes {
		if n.Route == nil {
			continue
		}
		if _, clash := c.next[name]; clash {
			return nil, fmt.Errorf("graph: router %q also has an unconditional edge", name)
		}
		if _, clash := c.fanOuts[name]; clash {
			return nil, fmt.Errorf("graph: router %q also has a fan-out", name)
		}
		for label, target := range n.Targets {
			if !c.isSuccessor(target) {
				return nil, fmt.Errorf("graph: router %q label %q targets unknown node %q", name, label, target)
			}
		}
	}

	if g.Suspend != "" {
		if _, ok := c.nodes[g.Suspend]; !ok {
			return nil, fmt.Errorf("graph: suspension node %q not defined", g.Suspend)
		}
		if _, ok := c.next[g.Suspend]; !ok {
			return nil, fmt.Errorf("graph: suspension node %q needs exactly one outgoing edge to resume along", g.Suspend)
		}
	}

	return c, nil
}

// checkSiblingWrites rejects fan-out groups in which two siblings both
// declare a replace-on-write field. Reviews are the one append-merged
// field, so they are the only legal overlap.
func checkSiblingWrites(nodes map[string]NodeSpec, f FanOut) error {
	writers := make(map[string]string)
	for _, s := range f.Siblings {
		for _, field := range nodes[s].Writes {
			if field == FieldReviews {
				continue
			}
			if prev, ok := writers[field]; ok {
				return fmt.Errorf("graph: fan-out from %q: siblings %q and %q both write %q", f.From, prev, s, field)
			}
			writers[field] = s
		}
	}
	return nil
}

func (c *CompiledGraph) isSuccessor(name string) bool {
	if _, ok := c.nodes[name]; ok {
		return true
	}
	_, ok := c.terminals[name]
	return ok
}

// Entry returns the entry node name.
func (c *CompiledGraph) Entry() string { return c.entry }

// SuspendNode returns the designated suspension node name ("" if none).
func (c *CompiledGraph) SuspendNode() string { return c.suspend }

// Node returns the spec for a named node.
func (c *CompiledGraph) Node(name string) (NodeSpec, bool) {
	n, ok := c.nodes[name]
	return n, ok
}

// Next returns the unconditional successor of a node.
func (c *CompiledGraph) Next(name string) (string, bool) {
	to, ok := c.next[name]
	return to, ok
}

// JoinOf returns the join node that follows a fan-out sibling.
func (c *CompiledGraph) JoinOf(sibling string) (string, bool) {
	j, ok := c.joinOf[sibling]
	return j, ok
}

// FanOutFrom returns the fan-out group leaving a node.
func (c *CompiledGraph) FanOutFrom(name string) (FanOut, bool) {
	f, ok := c.fanOuts[name]
	return f, ok
}

// IsTerminal reports whether name is a terminal marker.
func (c *CompiledGraph) IsTerminal(name string) bool {
	_, ok := c.terminals[name]
	return ok
}
