// Package consolidation implements the archival/maintenance pass: it
// walks a CI's Tier 1 working set, applies nine ordered preservation
// rules, detects recurring patterns by embedding similarity, and
// promotes or compresses records into Tier 2/3 while keeping the pass
// crash-recoverable via a checkpoint.
package consolidation

import (
	"fmt"
	"time"

	"github.com/ckoons/katra-sub000/internal/katra"
	"github.com/ckoons/katra-sub000/internal/katraerr"
	"github.com/ckoons/katra-sub000/internal/logging"
	"github.com/ckoons/katra-sub000/internal/tier1"
	"github.com/ckoons/katra-sub000/internal/tier2"
	"github.com/ckoons/katra-sub000/internal/tier3"
	"github.com/ckoons/katra-sub000/internal/vector"
)

var log = logging.GetLogger("consolidation")

// CentralityLookup gives consolidation read access to per-record graph
// centrality without importing the graph package's traversal machinery.
type CentralityLookup interface {
	Centrality(recordID string) (score float64, connectionCount int, err error)
}

// Config tunes the preservation and pattern-detection thresholds. Zero
// values are replaced by the documented defaults.
type Config struct {
	CutoffDays            int
	DecayWindow           time.Duration
	SalienceThreshold     float64
	HubThreshold          float64
	MinClusterSimilarity  float64
	MinClusterSize        int
}

func (c Config) withDefaults() Config {
	if c.CutoffDays == 0 {
		c.CutoffDays = 30
	}
	if c.DecayWindow == 0 {
		c.DecayWindow = 7 * 24 * time.Hour
	}
	if c.SalienceThreshold == 0 {
		c.SalienceThreshold = 0.7
	}
	if c.HubThreshold == 0 {
		c.HubThreshold = 0.5
	}
	if c.MinClusterSimilarity == 0 {
		c.MinClusterSimilarity = 0.4
	}
	if c.MinClusterSize == 0 {
		c.MinClusterSize = 3
	}
	return c
}

// Disposition names the outcome of the preservation waterfall for one record.
type Disposition string

const (
	Preserve Disposition = "PRESERVE"
	Archive  Disposition = "ARCHIVE"
)

// Decision is the per-record outcome of Evaluate, carrying the rule
// number that fired for observability/testing.
type Decision struct {
	Record      *katra.MemoryRecord
	Disposition Disposition
	Rule        int
	PatternID   string // set when the record belongs to a detected pattern
}

// Engine runs the consolidation pass for a CI.
type Engine struct {
	tier1      *tier1.Store
	tier2      *tier2.Store
	tier3      *tier3.Store
	vector     *vector.Store
	checkpoint *katra.CheckpointStore
	cfg        Config
}

// New constructs a consolidation Engine. tier2Store may be nil: a
// nil Tier 2 store disables digest writes and archived records fall
// straight through with only the Tier 1 flip applied.
func New(t1 *tier1.Store, t2 *tier2.Store, t3 *tier3.Store, vec *vector.Store, cp *katra.CheckpointStore, cfg Config) *Engine {
	return &Engine{tier1: t1, tier2: t2, tier3: t3, vector: vec, checkpoint: cp, cfg: cfg.withDefaults()}
}

// Evaluate runs the nine-rule waterfall (first rule to fire wins) over
// records, given the already-detected pattern membership for each
// record_id and a per-record centrality lookup.
func (e *Engine) Evaluate(records []*katra.MemoryRecord, now time.Time, centrality CentralityLookup, patterns []*Cluster) []Decision {
	memberOf := make(map[string]*Cluster, len(records))
	for _, c := range patterns {
		for _, id := range c.MemberIDs {
			memberOf[id] = c
		}
	}

	cutoff := now.AddDate(0, 0, -e.cfg.CutoffDays)
	decisions := make([]Decision, 0, len(records))

	for _, rec := range records {
		d := e.evaluateOne(rec, now, cutoff, centrality, memberOf)
		decisions = append(decisions, d)
	}
	return decisions
}

func (e *Engine) evaluateOne(rec *katra.MemoryRecord, now, cutoff time.Time, centrality CentralityLookup, memberOf map[string]*Cluster) Decision {
	if rec.MarkedImportant {
		return Decision{Record: rec, Disposition: Preserve, Rule: 1}
	}
	if rec.MarkedForgettable {
		return Decision{Record: rec, Disposition: Archive, Rule: 2}
	}
	if time.Unix(rec.Timestamp, 0).After(cutoff) {
		return Decision{Record: rec, Disposition: Preserve, Rule: 3}
	}
	if rec.LastAccessed > 0 && now.Sub(time.Unix(rec.LastAccessed, 0)) <= e.cfg.DecayWindow {
		return Decision{Record: rec, Disposition: Preserve, Rule: 4}
	}
	if rec.EmotionIntensity >= e.cfg.SalienceThreshold {
		return Decision{Record: rec, Disposition: Preserve, Rule: 5}
	}

	graphCentrality := rec.GraphCentrality
	if centrality != nil {
		if score, _, err := centrality.Centrality(rec.RecordID); err == nil {
			graphCentrality = score
		}
	}
	if graphCentrality >= e.cfg.HubThreshold {
		return Decision{Record: rec, Disposition: Preserve, Rule: 6}
	}

	if cluster, ok := memberOf[rec.RecordID]; ok {
		if cluster.IsOutlier(rec.RecordID) {
			return Decision{Record: rec, Disposition: Preserve, Rule: 7, PatternID: cluster.ID}
		}
		return Decision{Record: rec, Disposition: Archive, Rule: 8, PatternID: cluster.ID}
	}

	return Decision{Record: rec, Disposition: Archive, Rule: 9}
}

// Run executes a full consolidation pass for ciID: query the working
// set, detect patterns, evaluate the waterfall, and apply archival
// (Tier 1 flip + Tier 2/3 successor write) to every ARCHIVE decision.
// The pass is checkpointed so a crash mid-pass leaves no record
// permanently invisible.
func (e *Engine) Run(ciID string, now time.Time, centrality CentralityLookup) ([]Decision, error) {
	records, err := e.tier1.Query(tier1.Criteria{CIID: ciID})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	clusters := DetectPatterns(ciID, records, e.vector, e.cfg.MinClusterSimilarity, e.cfg.MinClusterSize)
	decisions := e.Evaluate(records, now, centrality, clusters)

	cp := &katra.Checkpoint{Name: "consolidation-" + ciID, CIID: ciID, StartedAt: now}
	if e.checkpoint != nil {
		if err := e.checkpoint.Save(cp); err != nil {
			return nil, err
		}
	}

	patternsStored := make(map[string]bool)
	var archivedIDs []string

	for _, d := range decisions {
		if d.Disposition != Archive {
			continue
		}
		if d.PatternID != "" {
			if err := e.storeClusterPattern(ciID, clusters, d.PatternID, patternsStored); err != nil {
				log.Warn("failed to store pattern summary", "pattern_id", d.PatternID, "error", err)
			}
		} else if e.tier2 != nil {
			if err := e.storeAdHocDigest(ciID, d.Record, now); err != nil {
				log.Warn("failed to store ad-hoc digest", "record_id", d.Record.RecordID, "error", err)
			}
		}
		if err := e.tier1.Archive(ciID, d.Record.RecordID); err != nil {
			log.Warn("failed to archive record", "record_id", d.Record.RecordID, "error", err)
			continue
		}
		archivedIDs = append(archivedIDs, d.Record.RecordID)
		if e.checkpoint != nil {
			cp.ArchivedIDs = archivedIDs
			if err := e.checkpoint.Save(cp); err != nil {
				log.Warn("failed to update consolidation checkpoint", "ci_id", ciID, "error", err)
			}
		}
	}

	if e.checkpoint != nil {
		cp.Completed = true
		cp.ArchivedIDs = archivedIDs
		if err := e.checkpoint.Save(cp); err != nil {
			return decisions, err
		}
		if err := e.checkpoint.Clear(cp.Name); err != nil {
			return decisions, err
		}
	}

	log.Info("consolidation pass complete", "ci_id", ciID, "evaluated", len(decisions), "archived", len(archivedIDs))
	return decisions, nil
}

func (e *Engine) storeClusterPattern(ciID string, clusters []*Cluster, patternID string, stored map[string]bool) error {
	if stored[patternID] || e.tier3 == nil {
		return nil
	}
	for _, c := range clusters {
		if c.ID != patternID {
			continue
		}
		p := &tier3.Pattern{
			ID:                  c.ID,
			CIID:                ciID,
			Centroid:            c.CentroidContent,
			MemberIDs:           append([]string(nil), c.MemberIDs...),
			SimilarityThreshold: e.cfg.MinClusterSimilarity,
			Adoption:            float64(len(c.MemberIDs)),
		}
		if err := e.tier3.StorePattern(p); err != nil {
			return err
		}
		stored[patternID] = true
		return nil
	}
	return katraerr.Internal("pattern referenced in decision but absent from detected clusters: " + patternID)
}

func (e *Engine) storeAdHocDigest(ciID string, rec *katra.MemoryRecord, now time.Time) error {
	year, week := now.ISOWeek()
	periodID := isoWeekID(year, week)
	d := &tier2.Digest{
		CIID:       ciID,
		PeriodID:   periodID,
		PeriodType: tier2.PeriodWeekly,
		Theme:      string(rec.Type),
		Keywords:   rec.Tags,
		Content:    rec.Content,
		SourceIDs:  []string{rec.RecordID},
	}
	return e.tier2.StoreDigest(d)
}

func isoWeekID(year, week int) string {
	return fmt.Sprintf("%04d-W%02d", year, week)
}
