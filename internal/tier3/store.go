// Package tier3 implements long-horizon pattern summaries: extracted
// recurring patterns, each owning a centroid, a member list, a
// similarity threshold, and adoption/effectiveness scores. Patterns are
// additive -- a record can contribute to multiple patterns.
//
// Patterns live in a per-CI JSONL file (tier3/patterns/<ID>/patterns.jsonl),
// one JSON object per line like tier1 but without the day-keying since
// patterns are long-horizon, not daily. Unlike tier1 it is not append-only:
// every write rewrites the whole file.
package tier3

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ckoons/katra-sub000/internal/katraerr"
	"github.com/ckoons/katra-sub000/internal/logging"
)

var log = logging.GetLogger("tier3")

// Pattern is a Tier 3 pattern-summary record.
type Pattern struct {
	ID                  string    `json:"id"`
	CIID                string    `json:"ci_id"`
	Centroid            string    `json:"centroid"` // representative member's content
	MemberIDs           []string  `json:"member_ids"`
	SimilarityThreshold float64   `json:"similarity_threshold"`
	Adoption            float64   `json:"adoption"`
	Effectiveness       float64   `json:"effectiveness"`
	CreatedAt           time.Time `json:"created_at"`
}

// Criteria parameterizes QueryPatterns.
type Criteria struct {
	CIID        string
	MemberID    string // patterns that include this Tier 1 record_id
	MinAdoption float64
	Limit       int
}

// Stats reports Tier 3 occupancy for a CI.
type Stats struct {
	PatternCount int
	MemberRows   int
}

type ciState struct {
	mu   sync.Mutex
	path string
}

// Store is the Tier 3 backend, one pattern file per CI.
type Store struct {
	root string

	mu  sync.Mutex
	cis map[string]*ciState
}

func New(root string) *Store {
	return &Store{root: filepath.Join(root, "tier3", "patterns"), cis: make(map[string]*ciState)}
}

func (s *Store) ciStateFor(ciID string) *ciState {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.cis[ciID]
	if !ok {
		cs = &ciState{path: filepath.Join(s.root, ciID, "patterns.jsonl")}
		s.cis[ciID] = cs
	}
	return cs
}

// StorePattern adds a new pattern record, or replaces the one with the
// same p.ID (used when adoption/effectiveness is recomputed); either way
// the CI's whole pattern file is rewritten.
func (s *Store) StorePattern(p *Pattern) error {
	if p.CIID == "" {
		return katraerr.InvalidParams("ci_id is required")
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	cs := s.ciStateFor(p.CIID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	all, err := s.readAllLocked(cs)
	if err != nil {
		return err
	}

	replaced := false
	for i, existing := range all {
		if existing.ID == p.ID {
			all[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		all = append(all, p)
	}

	return s.writeAllLocked(cs, all)
}

func (s *Store) readAllLocked(cs *ciState) ([]*Pattern, error) {
	f, err := os.Open(cs.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, katraerr.IO("failed to open tier3 pattern file", err)
	}
	defer f.Close()

	var out []*Pattern
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var p Pattern
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			log.Warn("skipping unreadable tier3 row", "error", err)
			continue
		}
		out = append(out, &p)
	}
	return out, nil
}

func (s *Store) writeAllLocked(cs *ciState, patterns []*Pattern) error {
	if err := os.MkdirAll(filepath.Dir(cs.path), 0o755); err != nil {
		return katraerr.IO("failed to create tier3 ci directory", err)
	}
	tmp := cs.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return katraerr.IO("failed to create tier3 temp file", err)
	}
	w := bufio.NewWriter(f)
	for _, p := range patterns {
		data, err := json.Marshal(p)
		if err != nil {
			f.Close()
			return katraerr.Wrap(katraerr.KindFormat, "E_FORMAT", "failed to marshal pattern", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			f.Close()
			return katraerr.IO("failed to write pattern row", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return katraerr.IO("failed to flush tier3 temp file", err)
	}
	if err := f.Close(); err != nil {
		return katraerr.IO("failed to close tier3 temp file", err)
	}
	return os.Rename(tmp, cs.path)
}

// QueryPatterns returns patterns matching criteria.
func (s *Store) QueryPatterns(crit Criteria) ([]*Pattern, error) {
	if crit.CIID == "" {
		return nil, katraerr.InvalidParams("ci_id is required")
	}
	cs := s.ciStateFor(crit.CIID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	all, err := s.readAllLocked(cs)
	if err != nil {
		return nil, err
	}

	var out []*Pattern
	for _, p := range all {
		if crit.MemberID != "" && !containsString(p.MemberIDs, crit.MemberID) {
			continue
		}
		if crit.MinAdoption > 0 && p.Adoption < crit.MinAdoption {
			continue
		}
		out = append(out, p)
		if crit.Limit > 0 && len(out) >= crit.Limit {
			break
		}
	}
	return out, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// RetrieveByID fetches a single pattern by id within a CI's store.
func (s *Store) RetrieveByID(ciID, id string) (*Pattern, error) {
	cs := s.ciStateFor(ciID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	all, err := s.readAllLocked(cs)
	if err != nil {
		return nil, err
	}
	for _, p := range all {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, katraerr.NotFound("pattern not found: " + id)
}

// StatsFor reports pattern and member-row counts for a CI.
func (s *Store) StatsFor(ciID string) (Stats, error) {
	cs := s.ciStateFor(ciID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	all, err := s.readAllLocked(cs)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{PatternCount: len(all)}
	for _, p := range all {
		st.MemberRows += len(p.MemberIDs)
	}
	return st, nil
}
