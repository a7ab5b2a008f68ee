// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package diagnostics renders a fitted model's state-transition
// structure as a DOT graph, adapted from the teacher's cmpint command
// (which built a weighted graph of annotation-disagreement edges and
// handed it to gonum's dot encoder); here the nodes are HMM states and
// the weighted edges are transition probabilities (§4.8 Open Questions:
// "expose fit diagnostics").
package diagnostics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/kortschak/span/span/model"
)

// stateGraph wraps a weighted directed graph whose nodes are state
// labels, matching the teacher's nameGraph wrapper around
// simple.WeightedUndirectedGraph.
type stateGraph struct {
	*simple.WeightedDirectedGraph
	idFor map[string]int64
}

func newStateGraph() stateGraph {
	return stateGraph{
		WeightedDirectedGraph: simple.NewWeightedDirectedGraph(0, 0),
		idFor:                 make(map[string]int64),
	}
}

func (g stateGraph) nodeFor(label string) graph.Node {
	if id, ok := g.idFor[label]; ok {
		return g.Node(id)
	}
	id := g.WeightedDirectedGraph.NewNode().ID()
	g.idFor[label] = id
	n := stateNode{id: id, label: label}
	g.AddNode(n)
	return n
}

type stateNode struct {
	id    int64
	label string
}

func (n stateNode) ID() int64     { return n.id }
func (n stateNode) DOTID() string { return n.label }

type transitionEdge struct {
	f, t graph.Node
	w    float64
}

func (e transitionEdge) From() graph.Node         { return e.f }
func (e transitionEdge) To() graph.Node           { return e.t }
func (e transitionEdge) ReversedEdge() graph.Edge { return transitionEdge{f: e.t, t: e.f, w: e.w} }
func (e transitionEdge) Weight() float64          { return e.w }
func (e transitionEdge) Attributes() []encoding.Attribute {
	return []encoding.Attribute{{Key: "label", Value: fmt.Sprintf("%q", fmt.Sprintf("%.3f", e.w))}}
}

// TransitionDOT renders h's state-transition matrix as a DOT-format
// weighted directed graph, one edge per transition probability above
// minWeight (edges at or below minWeight are omitted to keep the
// rendering readable for large state spaces).
func TransitionDOT(h *model.HMM, minWeight float64) ([]byte, error) {
	states := h.States()
	g := newStateGraph()
	for _, s := range states {
		g.nodeFor(s)
	}
	for i, from := range states {
		for j, to := range states {
			w := math.Exp(h.LogTrans[i][j])
			if w <= minWeight {
				continue
			}
			g.SetWeightedEdge(transitionEdge{f: g.nodeFor(from), t: g.nodeFor(to), w: w})
		}
	}
	return dot.Marshal(g, "transitions", "", "\t")
}
