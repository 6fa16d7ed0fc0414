package consolidation

import (
	"sort"

	"github.com/google/uuid"

	"github.com/ckoons/katra-sub000/internal/katra"
	"github.com/ckoons/katra-sub000/internal/vector"
)

// Cluster is a detected group of records linked by single-linkage:
// each member is similar above a threshold to at least one other member.
type Cluster struct {
	ID              string
	MemberIDs       []string
	CentroidContent string
	outlierIDs      map[string]bool
}

// IsOutlier reports whether recordID is the cluster's first, last, or
// max-importance member.
func (c *Cluster) IsOutlier(recordID string) bool {
	return c.outlierIDs[recordID]
}

// DetectPatterns clusters records by pairwise cosine similarity of their
// stored vector embeddings using single-linkage grouping: two records
// join the same cluster if their similarity is >= minSimilarity.
// Clusters smaller than minSize are discarded (they do not constitute a
// pattern).
func DetectPatterns(ciID string, records []*katra.MemoryRecord, vec *vector.Store, minSimilarity float64, minSize int) []*Cluster {
	if vec == nil || len(records) < minSize {
		return nil
	}

	n := len(records)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sim, ok := vec.PairwiseSimilarity(ciID, records[i].RecordID, records[j].RecordID)
			if ok && sim >= minSimilarity {
				union(i, j)
			}
		}
	}

	groups := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := find(i)
		groups[root] = append(groups[root], i)
	}

	var clusters []*Cluster
	for _, members := range groups {
		if len(members) < minSize {
			continue
		}
		clusters = append(clusters, buildCluster(records, members))
	}
	return clusters
}

func buildCluster(records []*katra.MemoryRecord, memberIdx []int) *Cluster {
	members := make([]*katra.MemoryRecord, len(memberIdx))
	for i, idx := range memberIdx {
		members[i] = records[idx]
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Timestamp < members[j].Timestamp })

	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.RecordID
	}

	outliers := map[string]bool{
		members[0].RecordID:             true, // first
		members[len(members)-1].RecordID: true, // last
	}
	maxImportance := members[0]
	for _, m := range members {
		if m.Importance > maxImportance.Importance {
			maxImportance = m
		}
	}
	outliers[maxImportance.RecordID] = true

	centroid := centralMember(members)

	return &Cluster{
		ID:              uuid.New().String(),
		MemberIDs:       ids,
		CentroidContent: centroid.Content,
		outlierIDs:      outliers,
	}
}

// centralMember picks the record closest to the temporal middle of the
// cluster as its representative centroid, a simple deterministic stand-in
// for "most similar to every other member" that needs no further vector
// comparisons.
func centralMember(members []*katra.MemoryRecord) *katra.MemoryRecord {
	return members[len(members)/2]
}
