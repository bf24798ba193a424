package weave

import (
	"fmt"

	"github.com/dagsund/weave/pkg/api"
)

// GraphBuilder provides a fluent API for defining workflow graphs:
//
//	graph, err := weave.NewGraph("draft").
//	    Node("draft", draftFn, weave.FieldArtifact, weave.FieldStatus).
//	    Node("critic", criticFn, weave.FieldReviews, weave.FieldScore("critic")).
//	    FanOut("draft", []string{"critic"}, "supervisor").
//	    Router("supervisor", superviseFn, route, map[string]string{
//	        "approved": "done",
//	    }).
//	    Terminal("done").
//	    Compile()
type GraphBuilder struct {
	spec api.GraphSpec
}

// NewGraph creates a new graph builder with the given entry node.
func NewGraph(entry string) *GraphBuilder {
	if entry == "" {
		panic("weave: entry node name must not be empty")
	}
	return &GraphBuilder{
		spec: api.GraphSpec{Entry: entry},
	}
}

// Spec returns the underlying GraphSpec.
// Typically used when interacting with lower-level APIs.
func (b *GraphBuilder) Spec() GraphSpec {
	return b.spec
}

// Node declares a node with its function and declared write set.
func (b *GraphBuilder) Node(name string, fn NodeFunc, writes ...string) *GraphBuilder {
	if name == "" {
		panic("weave: node name must not be empty")
	}
	b.spec.Nodes = append(b.spec.Nodes, api.NodeSpec{
		Name:   name,
		Fn:     fn,
		Writes: writes,
	})
	return b
}

// Router declares a node whose successor is chosen at runtime. fn runs
// like any node function; route maps the merged state to one of the
// labels in targets.
func (b *GraphBuilder) Router(name string, fn NodeFunc, route RouteFunc, targets map[string]string, writes ...string) *GraphBuilder {
	if name == "" {
		panic("weave: router name must not be empty")
	}
	if route == nil {
		panic(fmt.Sprintf("weave: router %q has nil route function", name))
	}
	b.spec.Nodes = append(b.spec.Nodes, api.NodeSpec{
		Name:    name,
		Fn:      fn,
		Writes:  writes,
		Route:   route,
		Targets: targets,
	})
	return b
}

// Edge declares an unconditional edge between two declared nodes.
func (b *GraphBuilder) Edge(from, to string) *GraphBuilder {
	b.spec.Edges = append(b.spec.Edges, api.Edge{From: from, To: to})
	return b
}

// FanOut declares that completing from dispatches all siblings
// concurrently, after which control joins at join.
func (b *GraphBuilder) FanOut(from string, siblings []string, join string) *GraphBuilder {
	b.spec.FanOuts = append(b.spec.FanOuts, api.FanOut{
		From:     from,
		Siblings: siblings,
		Join:     join,
	})
	return b
}

// Terminal declares terminal markers. Reaching one halts the run.
func (b *GraphBuilder) Terminal(names ...string) *GraphBuilder {
	b.spec.Terminals = append(b.spec.Terminals, names...)
	return b
}

// Suspend marks the node at which the run halts indefinitely for
// external input. fn runs before the halt; the node's single outgoing
// edge is taken on resume.
func (b *GraphBuilder) Suspend(name string, fn NodeFunc, writes ...string) *GraphBuilder {
	if name == "" {
		panic("weave: suspension node name must not be empty")
	}
	b.spec.Nodes = append(b.spec.Nodes, api.NodeSpec{
		Name:   name,
		Fn:     fn,
		Writes: writes,
	})
	b.spec.Suspend = name
	return b
}

// Compile validates the accumulated spec and returns an executable graph.
func (b *GraphBuilder) Compile() (*CompiledGraph, error) {
	return b.spec.Compile()
}
