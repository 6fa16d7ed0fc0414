// Package encoder implements the Universal Encoder: the single
// write/read front door that fans writes out to every backend and
// chooses the best-suited backend to answer a read, falling back toward
// raw Tier 1 truth on failure or an empty result.
//
// Writes fan out concurrently via golang.org/x/sync/errgroup rather
// than a sequential per-backend loop.
package encoder

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ckoons/katra-sub000/internal/access"
	"github.com/ckoons/katra-sub000/internal/graph"
	"github.com/ckoons/katra-sub000/internal/katra"
	"github.com/ckoons/katra-sub000/internal/katraerr"
	"github.com/ckoons/katra-sub000/internal/logging"
	"github.com/ckoons/katra-sub000/internal/tier1"
	"github.com/ckoons/katra-sub000/internal/vector"
)

var log = logging.GetLogger("encoder")

// TemporalWindow bounds auto-SEQUENTIAL edge creation.
const TemporalWindow = 3600 // seconds

// DefaultMaxSimilarEdges caps auto-SIMILAR edge creation per write.
const DefaultMaxSimilarEdges = 5

// DefaultGraphSimilarityThreshold is the cosine floor for an auto-SIMILAR edge.
const DefaultGraphSimilarityThreshold = 0.6

// Criteria parameterizes Query. Exactly one of QueryText or
// RelationshipOf should normally be set to route to the Vector or Graph
// backend; when both are empty the encoder falls back to a structured
// Tier 1 scan.
type Criteria struct {
	CIID           string
	RequestingCIID string

	QueryText           string
	SimilarityThreshold float64

	RelationshipOf string
	MaxDepth       int

	Tier1 tier1.Criteria

	Limit int
}

// Encoder is the Universal Encoder: an ordered, capability-tagged list
// of backends behind one write/read contract.
type Encoder struct {
	tier1    *tier1.Store
	vector   *vector.Store
	checker  *access.Checker
	useVec   bool
	useGraph bool

	mu    sync.Mutex
	graph map[string]*graph.Graph          // ci_id -> graph, lazily created
	last  map[string]*katra.MemoryRecord   // ci_id -> most recently stored record, for auto-SEQUENTIAL
}

// New constructs an Encoder. useVector/useGraph toggle the optional
// backends, e.g. for a recall preset that skips both.
func New(t1 *tier1.Store, vec *vector.Store, checker *access.Checker, useVector, useGraph bool) *Encoder {
	return &Encoder{
		tier1:    t1,
		vector:   vec,
		graph:    make(map[string]*graph.Graph),
		checker:  checker,
		useVec:   useVector,
		useGraph: useGraph,
		last:     make(map[string]*katra.MemoryRecord),
	}
}

func (e *Encoder) graphFor(ciID string) *graph.Graph {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.graph[ciID]
	if !ok {
		g = graph.New()
		e.graph[ciID] = g
	}
	return g
}

// Store fans rec out to every supported backend concurrently. It
// succeeds if at least one backend accepts the write; failures per
// backend are logged but never roll back an accepted write elsewhere.
func (e *Encoder) Store(ctx context.Context, rec *katra.MemoryRecord) error {
	var accepted int32
	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := e.tier1.Store(rec); err != nil {
			log.Warn("tier1 store failed", "record_id", rec.RecordID, "error", err)
			return nil
		}
		atomic.AddInt32(&accepted, 1)
		return nil
	})

	if e.useVec && e.vector != nil {
		g.Go(func() error {
			if err := e.vector.UpdateStats(rec.CIID, rec.RecordID, rec.Content); err != nil {
				log.Warn("vector update_stats failed", "record_id", rec.RecordID, "error", err)
				return nil
			}
			atomic.AddInt32(&accepted, 1)
			return nil
		})
	}

	_ = g.Wait()

	if e.useGraph {
		e.autoLinkLocked(rec)
	}

	if accepted == 0 {
		return katraerr.AllBackendsFailedStore()
	}
	return nil
}

// autoLinkLocked creates two kinds of auto-edges: a
// SEQUENTIAL edge from the CI's previous record when within
// TemporalWindow, and up to DefaultMaxSimilarEdges SIMILAR edges from
// the vector index's nearest neighbors above DefaultGraphSimilarityThreshold.
func (e *Encoder) autoLinkLocked(rec *katra.MemoryRecord) {
	g := e.graphFor(rec.CIID)
	g.UpsertNode(rec.RecordID)

	e.mu.Lock()
	prev, hadPrev := e.last[rec.CIID]
	e.last[rec.CIID] = rec
	e.mu.Unlock()

	if hadPrev {
		if rec.Timestamp-prev.Timestamp <= TemporalWindow && rec.Timestamp >= prev.Timestamp {
			if err := g.AddEdge(prev.RecordID, rec.RecordID, katra.EdgeSequential, 1); err != nil {
				log.Warn("auto sequential edge failed", "error", err)
			}
		}
	}

	if e.useVec && e.vector != nil {
		results, err := e.vector.Search(context.Background(), rec.CIID, rec.Content, DefaultMaxSimilarEdges+1, DefaultGraphSimilarityThreshold)
		if err != nil {
			log.Warn("auto similar edge search failed", "error", err)
			return
		}
		added := 0
		for _, r := range results {
			if r.RecordID == rec.RecordID {
				continue
			}
			if added >= DefaultMaxSimilarEdges {
				break
			}
			if err := g.AddEdge(rec.RecordID, r.RecordID, katra.EdgeSimilar, r.Similarity); err != nil {
				log.Warn("auto similar edge failed", "error", err)
				continue
			}
			added++
		}
	}
}

// Query chooses the best-suited backend for crit, falling back toward
// Tier 1 on failure or an empty result.
func (e *Encoder) Query(ctx context.Context, crit Criteria) ([]*katra.MemoryRecord, error) {
	if crit.CIID == "" {
		return nil, katraerr.InvalidParams("ci_id is required")
	}

	if crit.QueryText != "" && e.useVec && e.vector != nil {
		if recs, err := e.querySemantic(ctx, crit); err == nil && len(recs) > 0 {
			return e.filtered(recs, crit.RequestingCIID), nil
		}
	}

	if crit.RelationshipOf != "" && e.useGraph {
		if recs, err := e.queryRelationship(crit); err == nil && len(recs) > 0 {
			return e.filtered(recs, crit.RequestingCIID), nil
		}
	}

	t1crit := crit.Tier1
	t1crit.CIID = crit.CIID
	t1crit.RequestingCIID = crit.RequestingCIID
	if t1crit.Limit == 0 {
		t1crit.Limit = crit.Limit
	}
	recs, err := e.tier1.Query(t1crit)
	if err != nil {
		return nil, katraerr.AllBackendsFailedQuery()
	}
	if len(recs) == 0 {
		return nil, katraerr.AllBackendsFailedQuery()
	}
	return recs, nil
}

func (e *Encoder) querySemantic(ctx context.Context, crit Criteria) ([]*katra.MemoryRecord, error) {
	threshold := crit.SimilarityThreshold
	limit := crit.Limit
	if limit <= 0 {
		limit = 10
	}
	results, err := e.vector.Search(ctx, crit.CIID, crit.QueryText, limit, threshold)
	if err != nil {
		return nil, err
	}
	var out []*katra.MemoryRecord
	for _, r := range results {
		rec, err := e.tier1.RetrieveByID(crit.CIID, r.RecordID)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (e *Encoder) queryRelationship(crit Criteria) ([]*katra.MemoryRecord, error) {
	g := e.graphFor(crit.CIID)
	maxDepth := crit.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 2
	}
	steps, err := g.Traverse(crit.RelationshipOf, maxDepth)
	if err != nil {
		return nil, err
	}
	var out []*katra.MemoryRecord
	for _, step := range steps {
		if step.RecordID == crit.RelationshipOf {
			continue
		}
		rec, err := e.tier1.RetrieveByID(crit.CIID, step.RecordID)
		if err != nil {
			continue
		}
		out = append(out, rec)
		if crit.Limit > 0 && len(out) >= crit.Limit {
			break
		}
	}
	return out, nil
}

func (e *Encoder) filtered(recs []*katra.MemoryRecord, requestingCIID string) []*katra.MemoryRecord {
	if e.checker == nil {
		return recs
	}
	return e.checker.Filter(recs, requestingCIID)
}

// GraphFor exposes the per-CI relationship graph to the consolidation
// engine for centrality recompute.
func (e *Encoder) GraphFor(ciID string) *graph.Graph {
	return e.graphFor(ciID)
}

// Archive flips a record's archived flag in Tier 1, hiding it from
// future queries without mutating its existing append-only bytes.
func (e *Encoder) Archive(ciID, recordID string) error {
	return e.tier1.Archive(ciID, recordID)
}
