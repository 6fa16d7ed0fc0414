package graph

import (
	"github.com/ckoons/katra-sub000/internal/katra"
	"github.com/ckoons/katra-sub000/internal/katraerr"
)

// MaxPaths bounds find_paths output.
const MaxPaths = 20

// Traverse performs a breadth-first walk from start following only
// outgoing edges, visiting each node at most once (first-seen depth
// wins), up to maxDepth hops. The start node is included at depth 0
// with strength 1.
func (g *Graph) Traverse(start string, maxDepth int) ([]TraversalStep, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	startIdx, ok := g.byID[start]
	if !ok {
		return nil, katraerr.NotFound("graph node not found: " + start)
	}

	visited := make(map[int]bool, len(g.nodes))
	visited[startIdx] = true
	steps := []TraversalStep{{RecordID: start, Depth: 0, CumulativeStrength: 1, EdgeType: ""}}

	type frontierEntry struct {
		idx      int
		depth    int
		strength float64
	}
	queue := []frontierEntry{{idx: startIdx, depth: 0, strength: 1}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		for _, e := range g.nodes[cur.idx].out {
			if visited[e.To] {
				continue
			}
			visited[e.To] = true
			cumulative := cur.strength * e.Strength
			steps = append(steps, TraversalStep{
				RecordID:           g.nodes[e.To].recordID,
				Depth:              cur.depth + 1,
				CumulativeStrength: cumulative,
				EdgeType:           e.Type,
			})
			queue = append(queue, frontierEntry{idx: e.To, depth: cur.depth + 1, strength: cumulative})
		}
	}
	return steps, nil
}

// Path is one simple path found by FindPaths.
type Path struct {
	RecordIDs []string
	EdgeTypes []katra.EdgeType
}

// FindPaths performs a depth-first search for simple paths from "from"
// to "to" within maxDepth hops, avoiding cycles via the current-path
// set, returning at most MaxPaths distinct paths.
func (g *Graph) FindPaths(from, to string, maxDepth int) ([]Path, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	fromIdx, ok := g.byID[from]
	if !ok {
		return nil, katraerr.NotFound("graph node not found: " + from)
	}
	toIdx, ok := g.byID[to]
	if !ok {
		return nil, katraerr.NotFound("graph node not found: " + to)
	}

	var out []Path
	onPath := make(map[int]bool)
	var ids []string
	var types []katra.EdgeType

	var dfs func(cur int, depth int)
	dfs = func(cur int, depth int) {
		if len(out) >= MaxPaths {
			return
		}
		if cur == toIdx && depth > 0 {
			pathIDs := make([]string, len(ids)+1)
			copy(pathIDs, ids)
			pathIDs[len(ids)] = g.nodes[cur].recordID
			pathTypes := make([]katra.EdgeType, len(types))
			copy(pathTypes, types)
			out = append(out, Path{RecordIDs: pathIDs, EdgeTypes: pathTypes})
			return
		}
		if depth >= maxDepth {
			return
		}
		for _, e := range g.nodes[cur].out {
			if onPath[e.To] {
				continue
			}
			if len(out) >= MaxPaths {
				return
			}
			onPath[e.To] = true
			ids = append(ids, g.nodes[cur].recordID)
			types = append(types, e.Type)
			dfs(e.To, depth+1)
			ids = ids[:len(ids)-1]
			types = types[:len(types)-1]
			onPath[e.To] = false
		}
	}

	onPath[fromIdx] = true
	dfs(fromIdx, 0)
	return out, nil
}

// StronglyConnected returns the record_ids that have both an outgoing
// and an incoming edge to/from recordID.
func (g *Graph) StronglyConnected(recordID string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	idx, ok := g.byID[recordID]
	if !ok {
		return nil, katraerr.NotFound("graph node not found: " + recordID)
	}

	outSet := make(map[int]bool, len(g.nodes[idx].out))
	for _, e := range g.nodes[idx].out {
		outSet[e.To] = true
	}

	var result []string
	for _, e := range g.nodes[idx].in {
		if outSet[e.To] {
			result = append(result, g.nodes[e.To].recordID)
		}
	}
	return result, nil
}

// Centrality recomputes a [0,1] hub score for recordID: its connection
// count (in+out edges) normalized against the highest-degree node in
// the graph, optionally decayed by average edge strength.
func (g *Graph) Centrality(recordID string) (score float64, connectionCount int, err error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	idx, ok := g.byID[recordID]
	if !ok {
		return 0, 0, katraerr.NotFound("graph node not found: " + recordID)
	}

	n := g.nodes[idx]
	degree := len(n.out) + len(n.in)

	maxDegree := 0
	for _, other := range g.nodes {
		d := len(other.out) + len(other.in)
		if d > maxDegree {
			maxDegree = d
		}
	}
	if maxDegree == 0 {
		return 0, degree, nil
	}

	normalized := float64(degree) / float64(maxDegree)
	decay := averageStrength(n)
	score = normalized * decay
	if score > 1 {
		score = 1
	}
	return score, degree, nil
}

func averageStrength(n *node) float64 {
	total := 0.0
	count := 0
	for _, e := range n.out {
		total += e.Strength
		count++
	}
	for _, e := range n.in {
		total += e.Strength
		count++
	}
	if count == 0 {
		return 1
	}
	avg := total / float64(count)
	if avg <= 0 {
		return 0
	}
	if avg > 1 {
		return 1
	}
	return avg
}
