// Package access implements the access-control predicate consulted by
// every query path. It is deliberately small: the hard part is that
// every caller -- Tier 1 scan, Tier 2 retrieve, Vector/Graph returns via
// the encoder -- must run results through it, not that the predicate
// itself is complex.
package access

import (
	"github.com/ckoons/katra-sub000/internal/katra"
	"github.com/ckoons/katra-sub000/internal/logging"
)

var log = logging.GetLogger("access")

// Checker evaluates the access predicate, consulting a TeamStore
// collaborator for TEAM-isolation membership.
type Checker struct {
	teams katra.TeamStore
}

// NewChecker builds a Checker. teams may be nil, in which case TEAM
// isolation never grants access to non-owners (fail closed).
func NewChecker(teams katra.TeamStore) *Checker {
	return &Checker{teams: teams}
}

// Allow reports whether requestingCIID may see rec. A nil/empty
// requestingCIID means "owner context" -- no filtering.
func (c *Checker) Allow(rec *katra.MemoryRecord, requestingCIID string) bool {
	if requestingCIID == "" {
		return true
	}
	if requestingCIID == rec.CIID {
		return true
	}
	if rec.Isolation == katra.IsolationPublic {
		return true
	}
	if rec.Isolation == katra.IsolationTeam && rec.TeamName != "" && c.teams != nil {
		member, err := c.teams.IsMember(rec.TeamName, requestingCIID)
		if err != nil {
			log.Warn("team membership check failed", "error", err, "team", rec.TeamName)
			return false
		}
		if member {
			return true
		}
	}
	if rec.IsSharedWith(requestingCIID) {
		return true
	}
	return false
}

// Filter returns the subset of recs visible to requestingCIID, preserving
// order. This is the shape every query path should call before returning
// results to a caller -- dropping is silent, a filter, not an error.
func (c *Checker) Filter(recs []*katra.MemoryRecord, requestingCIID string) []*katra.MemoryRecord {
	if requestingCIID == "" {
		return recs
	}
	out := make([]*katra.MemoryRecord, 0, len(recs))
	for _, r := range recs {
		if c.Allow(r, requestingCIID) {
			out = append(out, r)
		}
	}
	return out
}
