// Package graph implements the in-memory relationship graph: nodes
// keyed by record_id, typed/strength-weighted directed edges, BFS
// traversal, DFS path-finding, and centrality/hub scoring.
//
// Nodes live in an owned arena (a record_id -> index map plus two
// adjacency slices per node) instead of a pointer-chased linked list.
// Deletion is swap-remove with index fix-up, never a pointer unlink.
package graph

import (
	"sync"

	"github.com/ckoons/katra-sub000/internal/katra"
	"github.com/ckoons/katra-sub000/internal/katraerr"
)

// Edge is one directed, typed, strength-weighted relationship.
type Edge struct {
	To       int // node index
	Type     katra.EdgeType
	Strength float64
}

// node is the arena entry for one record_id.
type node struct {
	recordID        string
	out             []Edge
	in              []Edge
	connectionCount int
	centrality      float64
}

// TraversalStep is one row of a traverse() result.
type TraversalStep struct {
	RecordID           string
	Depth              int
	CumulativeStrength float64
	EdgeType           katra.EdgeType
}

// Stats reports graph occupancy.
type Stats struct {
	NodeCount int
	EdgeCount int
	AvgDegree float64
}

// Graph is one CI's relationship graph: a node arena plus an
// adjacency-list per node, guarded by a single mutex.
type Graph struct {
	mu       sync.RWMutex
	byID     map[string]int // record_id -> arena index
	nodes    []*node
	edgeCount int
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{byID: make(map[string]int)}
}

// UpsertNode ensures a node exists for recordID, creating it if absent.
func (g *Graph) UpsertNode(recordID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.upsertLocked(recordID)
}

func (g *Graph) upsertLocked(recordID string) int {
	if idx, ok := g.byID[recordID]; ok {
		return idx
	}
	idx := len(g.nodes)
	g.nodes = append(g.nodes, &node{recordID: recordID})
	g.byID[recordID] = idx
	return idx
}

// AddEdge adds (or, if one already exists for (from,to,type), updates
// the strength of) a directed edge. Idempotent on (from, to, type).
func (g *Graph) AddEdge(from, to string, edgeType katra.EdgeType, strength float64) error {
	if !edgeType.Valid() {
		return katraerr.InvalidParams("unknown edge type: " + string(edgeType))
	}
	if from == "" || to == "" {
		return katraerr.InvalidParams("from and to record ids are required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	fromIdx := g.upsertLocked(from)
	toIdx := g.upsertLocked(to)

	fromNode := g.nodes[fromIdx]
	for i, e := range fromNode.out {
		if e.To == toIdx && e.Type == edgeType {
			fromNode.out[i].Strength = strength
			g.updateInStrengthLocked(toIdx, fromIdx, edgeType, strength)
			return nil
		}
	}
	fromNode.out = append(fromNode.out, Edge{To: toIdx, Type: edgeType, Strength: strength})
	g.nodes[toIdx].in = append(g.nodes[toIdx].in, Edge{To: fromIdx, Type: edgeType, Strength: strength})
	g.edgeCount++
	return nil
}

func (g *Graph) updateInStrengthLocked(nodeIdx, fromIdx int, edgeType katra.EdgeType, strength float64) {
	inEdges := g.nodes[nodeIdx].in
	for i, e := range inEdges {
		if e.To == fromIdx && e.Type == edgeType {
			inEdges[i].Strength = strength
			return
		}
	}
}

// DeleteEdge removes the (from, to, type) edge if present.
func (g *Graph) DeleteEdge(from, to string, edgeType katra.EdgeType) {
	g.mu.Lock()
	defer g.mu.Unlock()

	fromIdx, ok := g.byID[from]
	if !ok {
		return
	}
	toIdx, ok := g.byID[to]
	if !ok {
		return
	}

	fromNode := g.nodes[fromIdx]
	for i, e := range fromNode.out {
		if e.To == toIdx && e.Type == edgeType {
			fromNode.out = swapRemove(fromNode.out, i)
			g.edgeCount--
			break
		}
	}
	toNode := g.nodes[toIdx]
	for i, e := range toNode.in {
		if e.To == fromIdx && e.Type == edgeType {
			toNode.in = swapRemove(toNode.in, i)
			break
		}
	}
}

func swapRemove(edges []Edge, i int) []Edge {
	last := len(edges) - 1
	edges[i] = edges[last]
	return edges[:last]
}

// DeleteNode removes a node and every edge touching it. Remaining nodes
// keep their record_id identity; only the arena slot and all indexes
// that referenced it are fixed up via swap-remove.
func (g *Graph) DeleteNode(recordID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	idx, ok := g.byID[recordID]
	if !ok {
		return
	}

	target := g.nodes[idx]
	for _, e := range target.out {
		g.removeReciprocalLocked(e.To, idx, true)
	}
	for _, e := range target.in {
		g.removeReciprocalLocked(e.To, idx, false)
	}
	g.edgeCount -= len(target.out) + len(target.in)

	last := len(g.nodes) - 1
	delete(g.byID, recordID)
	if idx != last {
		g.nodes[idx] = g.nodes[last]
		g.byID[g.nodes[idx].recordID] = idx
		g.fixupEdgeTargetsLocked(last, idx)
	}
	g.nodes = g.nodes[:last]
}

// removeReciprocalLocked drops the edge pointing back to deletedIdx from
// otherIdx's in-list (if wasOut) or out-list (if !wasOut).
func (g *Graph) removeReciprocalLocked(otherIdx, deletedIdx int, wasOut bool) {
	if otherIdx < 0 || otherIdx >= len(g.nodes) {
		return
	}
	other := g.nodes[otherIdx]
	if wasOut {
		for i, e := range other.in {
			if e.To == deletedIdx {
				other.in = swapRemove(other.in, i)
				break
			}
		}
	} else {
		for i, e := range other.out {
			if e.To == deletedIdx {
				other.out = swapRemove(other.out, i)
				break
			}
		}
	}
}

// fixupEdgeTargetsLocked rewrites every edge pointing at oldIdx (the
// arena slot moved during a swap-remove) to point at newIdx instead.
func (g *Graph) fixupEdgeTargetsLocked(oldIdx, newIdx int) {
	for _, n := range g.nodes {
		for i, e := range n.out {
			if e.To == oldIdx {
				n.out[i].To = newIdx
			}
		}
		for i, e := range n.in {
			if e.To == oldIdx {
				n.in[i].To = newIdx
			}
		}
	}
}

// Stats reports node/edge counts and average out-degree.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	st := Stats{NodeCount: len(g.nodes), EdgeCount: g.edgeCount}
	if len(g.nodes) > 0 {
		st.AvgDegree = float64(g.edgeCount) / float64(len(g.nodes))
	}
	return st
}
