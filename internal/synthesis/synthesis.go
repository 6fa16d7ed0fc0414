// Package synthesis implements unified recall: it queries every enabled
// backend for a CI, merges per-backend scores into one ranked list by
// record_id, and truncates to max_results.
//
// Each backend (Tier 1, vector, Tier 2) is queried directly here; the
// Universal Encoder (internal/encoder) supplies only the per-CI graph.
package synthesis

import (
	"context"
	"sort"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/ckoons/katra-sub000/internal/access"
	"github.com/ckoons/katra-sub000/internal/encoder"
	"github.com/ckoons/katra-sub000/internal/katra"
	"github.com/ckoons/katra-sub000/internal/katraerr"
	"github.com/ckoons/katra-sub000/internal/tier1"
	"github.com/ckoons/katra-sub000/internal/tier2"
	"github.com/ckoons/katra-sub000/internal/vector"
)

// Backend names one of the engine's query-capable backends.
type Backend string

const (
	BackendWorking Backend = "WORKING" // Tier 1 structured scan
	BackendVector  Backend = "VECTOR"
	BackendGraph   Backend = "GRAPH"
	BackendSQL     Backend = "SQL" // Tier 2 digest index
)

// Algorithm selects how per-backend scores combine into a final score.
type Algorithm string

const (
	AlgorithmWeighted Algorithm = "WEIGHTED"
	AlgorithmUnion    Algorithm = "UNION"
)

// Options parameterizes Recall.
type Options struct {
	Enabled             map[Backend]bool
	Weights             map[Backend]float64
	SimilarityThreshold float64
	MaxResults          int
	Algorithm           Algorithm

	RelationshipOf string // seed record_id for the GRAPH backend
	MaxDepth       int
}

// Comprehensive enables every backend with equal weight.
func Comprehensive() Options {
	return Options{
		Enabled:    map[Backend]bool{BackendWorking: true, BackendVector: true, BackendGraph: true, BackendSQL: true},
		Weights:    map[Backend]float64{BackendWorking: 1, BackendVector: 1, BackendGraph: 1, BackendSQL: 1},
		MaxResults: 20,
		Algorithm:  AlgorithmWeighted,
	}
}

// Semantic enables vector and working, heavily weighting vector.
func Semantic() Options {
	return Options{
		Enabled:    map[Backend]bool{BackendWorking: true, BackendVector: true},
		Weights:    map[Backend]float64{BackendWorking: 0.3, BackendVector: 1.5},
		MaxResults: 20,
		Algorithm:  AlgorithmWeighted,
	}
}

// Fast enables SQL and working only, skipping vector and graph.
func Fast() Options {
	return Options{
		Enabled:    map[Backend]bool{BackendWorking: true, BackendSQL: true},
		Weights:    map[Backend]float64{BackendWorking: 1, BackendSQL: 1},
		MaxResults: 20,
		Algorithm:  AlgorithmWeighted,
	}
}

// Match is one merged, ranked recall result.
type Match struct {
	RecordID string
	Score    float64
	Backends []Backend
}

// Synthesizer runs the unified recall pipeline across Tier 1, Tier 2,
// Vector and Graph.
type Synthesizer struct {
	tier1   *tier1.Store
	tier2   *tier2.Store
	vector  *vector.Store
	enc     *encoder.Encoder
	checker *access.Checker
}

func New(t1 *tier1.Store, t2 *tier2.Store, vec *vector.Store, enc *encoder.Encoder, checker *access.Checker) *Synthesizer {
	return &Synthesizer{tier1: t1, tier2: t2, vector: vec, enc: enc, checker: checker}
}

// Recall runs the pipeline: per-backend query, merge by record_id, sort
// descending, truncate to MaxResults.
func (s *Synthesizer) Recall(ctx context.Context, ciID, queryText string, opts Options, requestingCIID string) ([]Match, error) {
	if ciID == "" {
		return nil, katraerr.InvalidParams("ci_id is required")
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 20
	}

	scores := make(map[string]float64)
	hits := make(map[string]map[Backend]bool)
	record := func(id string, backend Backend, backendScore float64) {
		w := opts.Weights[backend]
		if w == 0 {
			w = 1
		}
		contribution := w * backendScore
		if opts.Algorithm == AlgorithmUnion {
			if contribution > scores[id] {
				scores[id] = contribution
			}
		} else {
			scores[id] += contribution
		}
		if hits[id] == nil {
			hits[id] = make(map[Backend]bool)
		}
		hits[id][backend] = true
	}

	if opts.Enabled[BackendWorking] {
		recs, err := s.tier1.Query(tier1.Criteria{CIID: ciID, ContentSubstring: queryText})
		if err == nil {
			for _, r := range recs {
				record(r.RecordID, BackendWorking, 1.0)
			}
		}
	}

	if opts.Enabled[BackendVector] && queryText != "" && s.vector != nil {
		results, err := s.vector.Search(ctx, ciID, queryText, opts.MaxResults*3, opts.SimilarityThreshold)
		if err == nil {
			for _, r := range results {
				record(r.RecordID, BackendVector, r.Similarity)
			}
		}
	}

	if opts.Enabled[BackendGraph] && opts.RelationshipOf != "" && s.enc != nil {
		g := s.enc.GraphFor(ciID)
		maxDepth := opts.MaxDepth
		if maxDepth <= 0 {
			maxDepth = 2
		}
		steps, err := g.Traverse(opts.RelationshipOf, maxDepth)
		if err == nil {
			for _, step := range steps {
				if step.RecordID == opts.RelationshipOf {
					continue
				}
				record(step.RecordID, BackendGraph, clamp01(step.CumulativeStrength))
			}
		}
	}

	if opts.Enabled[BackendSQL] && queryText != "" && s.tier2 != nil {
		digests, err := s.tier2.QueryDigests(tier2.Criteria{CIID: ciID, Keyword: queryText})
		if err == nil {
			for _, d := range digests {
				for _, id := range d.SourceIDs {
					record(id, BackendSQL, 0.5)
				}
			}
		}
	}

	ids := maps.Keys(scores)
	matches := make([]Match, 0, len(ids))
	for _, id := range ids {
		backends := maps.Keys(hits[id])
		slices.Sort(backends)
		matches = append(matches, Match{RecordID: id, Score: scores[id], Backends: backends})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].RecordID < matches[j].RecordID
	})
	if len(matches) > opts.MaxResults {
		matches = matches[:opts.MaxResults]
	}

	if s.checker != nil && requestingCIID != "" {
		matches = s.filterByAccess(ciID, matches, requestingCIID)
	}
	return matches, nil
}

func (s *Synthesizer) filterByAccess(ciID string, matches []Match, requestingCIID string) []Match {
	out := make([]Match, 0, len(matches))
	for _, m := range matches {
		rec, err := s.tier1.RetrieveByID(ciID, m.RecordID)
		if err != nil {
			continue
		}
		if s.checker.Allow(rec, requestingCIID) {
			out = append(out, m)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Hydrate resolves matches back into full records, in rank order,
// skipping any the underlying backend can no longer retrieve (e.g.
// compacted away between query and hydration).
func (s *Synthesizer) Hydrate(ciID string, matches []Match) []*katra.MemoryRecord {
	out := make([]*katra.MemoryRecord, 0, len(matches))
	for _, m := range matches {
		rec, err := s.tier1.RetrieveByID(ciID, m.RecordID)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out
}
