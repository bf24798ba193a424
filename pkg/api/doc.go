// Package api contains the public types of the weave engine: the
// shared run state and its merge rules, graph specifications, the
// Engine interface, and the Observer callbacks.
//
// Most applications import the root package github.com/dagsund/weave,
// which re-exports everything here and adds the graph builder, the
// review-cycle helpers and the engine constructors.
package api
