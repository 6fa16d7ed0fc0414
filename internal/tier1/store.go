// Package tier1 implements the append-only raw log: per-CI, per-day log
// files keyed by date, plus a supplementary full-text index and a
// filtered linear scan.
//
// Each CI's day-file directory is watched with fsnotify so that an
// externally rewritten day file (another process running Compact, or a
// restore from backup) invalidates the in-memory index lazily instead
// of SearchIndex polling mtimes on every call.
package tier1

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ckoons/katra-sub000/internal/access"
	"github.com/ckoons/katra-sub000/internal/katra"
	"github.com/ckoons/katra-sub000/internal/katraerr"
	"github.com/ckoons/katra-sub000/internal/logging"
)

var log = logging.GetLogger("tier1")

const dayLayout = "2006-01-02"

// Criteria parameterizes Query. CIID is required; everything else
// narrows the scan.
type Criteria struct {
	CIID             string
	Start, End       time.Time
	Types            []katra.Type
	MinImportance    float64
	ContentSubstring string
	Limit            int
	RequestingCIID   string
}

// Stats reports Tier 1 occupancy for a CI.
type Stats struct {
	ActiveRecords int
	TotalBytes    int64
}

// ciState is the mutable, mutex-protected state for a single CI's Tier 1
// store. One instance per CI; the top-level Store's mutex only protects
// the map of ciStates, never the day-file writes themselves -- locks
// stay leaf-level.
type ciState struct {
	mu    sync.Mutex
	dir   string
	index *fullTextIndex
	stale bool // set by the fsnotify watcher when a day file changed externally

	watcher   *fsnotify.Watcher
	watchOnce sync.Once
}

// Store is the Tier 1 backend. One Store instance is shared by every CI
// under root; root/tier1/<ci_id>/YYYY-MM-DD.jsonl holds the append log.
type Store struct {
	root string

	mu  sync.Mutex
	cis map[string]*ciState

	checker *access.Checker
}

// New creates a Tier 1 store rooted at <root>/tier1.
func New(root string, checker *access.Checker) *Store {
	return &Store{
		root:    filepath.Join(root, "tier1"),
		cis:     make(map[string]*ciState),
		checker: checker,
	}
}

func (s *Store) ciStateFor(ciID string) *ciState {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.cis[ciID]
	if !ok {
		cs = &ciState{dir: filepath.Join(s.root, ciID), index: newFullTextIndex()}
		s.cis[ciID] = cs
	}
	return cs
}

func dayFile(dir string, day time.Time) string {
	return filepath.Join(dir, day.UTC().Format(dayLayout)+".jsonl")
}

// Store appends rec to the day file for its timestamp. Append-only: once
// written, a row's bytes never move. Returns an IO error on failure;
// callers must not assume a partial write landed.
func (s *Store) Store(rec *katra.MemoryRecord) error {
	cs := s.ciStateFor(rec.CIID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if err := os.MkdirAll(cs.dir, 0o755); err != nil {
		return katraerr.IO("failed to create tier1 ci directory", err)
	}

	day := time.Unix(rec.Timestamp, 0).UTC()
	path := dayFile(cs.dir, day)

	data, err := json.Marshal(rec)
	if err != nil {
		return katraerr.Wrap(katraerr.KindFormat, "E_FORMAT", "failed to marshal record", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return katraerr.IO("failed to open tier1 day file", err)
	}
	defer f.Close()

	// A write cut short earlier leaves a final row with no newline; drop
	// those bytes so the new row does not merge into them.
	if existing, err := os.ReadFile(path); err == nil {
		if keep := strings.LastIndexByte(string(existing), '\n') + 1; keep < len(existing) {
			if err := f.Truncate(int64(keep)); err != nil {
				return katraerr.IO("failed to truncate partial tier1 row", err)
			}
		}
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		return katraerr.IO("failed to append tier1 row", err)
	}
	if err := f.Sync(); err != nil {
		return katraerr.IO("failed to fsync tier1 day file", err)
	}

	cs.index.add(rec)
	return nil
}

// Query performs a linear filtered scan over the day files in the
// requested time range. Since a record_id may have been re-appended
// (the archival flip writes a new row rather than mutating the
// original), rows are deduplicated to the latest occurrence per
// record_id before filtering. Rows whose latest occurrence has
// archived=true are always skipped. Results are filtered through the
// access checker before being returned.
func (s *Store) Query(crit Criteria) ([]*katra.MemoryRecord, error) {
	if crit.CIID == "" {
		return nil, katraerr.InvalidParams("ci_id is required")
	}
	cs := s.ciStateFor(crit.CIID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	days, err := s.listDays(cs.dir)
	if err != nil {
		return nil, err
	}

	var rows []*katra.MemoryRecord
	for _, day := range days {
		if !crit.Start.IsZero() && day.Before(truncateDay(crit.Start)) {
			continue
		}
		if !crit.End.IsZero() && day.After(truncateDay(crit.End)) {
			continue
		}
		dayRows, err := readDayFile(dayFile(cs.dir, day))
		if err != nil {
			return nil, err
		}
		rows = append(rows, dayRows...)
	}

	var out []*katra.MemoryRecord
	for _, rec := range dedupeLatest(rows) {
		if rec.Archived {
			continue
		}
		if !matchCriteria(rec, crit) {
			continue
		}
		out = append(out, rec)
		if crit.Limit > 0 && len(out) >= crit.Limit {
			break
		}
	}
	if s.checker != nil {
		out = s.checker.Filter(out, crit.RequestingCIID)
	}
	return out, nil
}

// dedupeLatest collapses rows to the latest occurrence per record_id,
// preserving the relative order of each record_id's first appearance.
// This is the append-only log's "last write wins" read-side semantics:
// a record_id re-appended with archived=true supersedes its earlier row
// without requiring any existing byte to move.
func dedupeLatest(rows []*katra.MemoryRecord) []*katra.MemoryRecord {
	latest := make(map[string]*katra.MemoryRecord, len(rows))
	var order []string
	for _, rec := range rows {
		if _, seen := latest[rec.RecordID]; !seen {
			order = append(order, rec.RecordID)
		}
		latest[rec.RecordID] = rec
	}
	out := make([]*katra.MemoryRecord, 0, len(order))
	for _, id := range order {
		out = append(out, latest[id])
	}
	return out
}

func matchCriteria(rec *katra.MemoryRecord, crit Criteria) bool {
	if !crit.Start.IsZero() && rec.Timestamp < crit.Start.Unix() {
		return false
	}
	if !crit.End.IsZero() && rec.Timestamp > crit.End.Unix() {
		return false
	}
	if len(crit.Types) > 0 {
		found := false
		for _, ty := range crit.Types {
			if rec.Type == ty {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if crit.MinImportance > 0 && rec.Importance < crit.MinImportance {
		return false
	}
	if crit.ContentSubstring != "" && !strings.Contains(strings.ToLower(rec.Content), strings.ToLower(crit.ContentSubstring)) {
		return false
	}
	return true
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *Store) listDays(dir string) ([]time.Time, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, katraerr.IO("failed to list tier1 day files", err)
	}
	var days []time.Time
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".jsonl")
		day, err := time.Parse(dayLayout, name)
		if err != nil {
			continue
		}
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days, nil
}

// readDayFile tolerates a truncated final row: a partial day write is
// skipped here, and Store truncates it away on its next open of the file.
func readDayFile(path string) ([]*katra.MemoryRecord, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, katraerr.IO("failed to open tier1 day file", err)
	}
	defer f.Close()

	var out []*katra.MemoryRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var rec katra.MemoryRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			log.Warn("skipping unreadable tier1 row", "path", path, "error", err)
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

// RetrieveByID scans a CI's day files for a single record_id. This is
// the linear-scan fallback the Universal Encoder's read contract ends
// at: Tier 1 never depends on an index for correctness.
func (s *Store) RetrieveByID(ciID, recordID string) (*katra.MemoryRecord, error) {
	cs := s.ciStateFor(ciID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	days, err := s.listDays(cs.dir)
	if err != nil {
		return nil, err
	}
	var rows []*katra.MemoryRecord
	for _, day := range days {
		dayRows, err := readDayFile(dayFile(cs.dir, day))
		if err != nil {
			return nil, err
		}
		rows = append(rows, dayRows...)
	}
	for _, rec := range dedupeLatest(rows) {
		if rec.RecordID == recordID {
			return rec, nil
		}
	}
	return nil, katraerr.NotFound("record not found: " + recordID)
}

// Archive appends the archived-successor row for recordID: a clone of
// its latest occurrence with archived=true. This is how a tier-1 row is
// "flipped" to archived without ever mutating or moving its original
// bytes.
func (s *Store) Archive(ciID, recordID string) error {
	rec, err := s.RetrieveByID(ciID, recordID)
	if err != nil {
		return err
	}
	if rec.Archived {
		return nil
	}
	successor := rec.Clone()
	successor.Archived = true
	return s.Store(successor)
}

// StatsFor reports total active (non-archived) records and total bytes
// on disk for a CI.
func (s *Store) StatsFor(ciID string) (Stats, error) {
	cs := s.ciStateFor(ciID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	days, err := s.listDays(cs.dir)
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	var allRows []*katra.MemoryRecord
	for _, day := range days {
		path := dayFile(cs.dir, day)
		if info, err := os.Stat(path); err == nil {
			st.TotalBytes += info.Size()
		}
		rows, err := readDayFile(path)
		if err != nil {
			return Stats{}, err
		}
		allRows = append(allRows, rows...)
	}
	for _, r := range dedupeLatest(allRows) {
		if !r.Archived {
			st.ActiveRecords++
		}
	}
	return st, nil
}

// Compact rewrites a day file, dropping tombstoned (archived=true) rows,
// via an atomic write-temp-then-rename swap.
func (s *Store) Compact(ciID string, day time.Time) error {
	cs := s.ciStateFor(ciID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	path := dayFile(cs.dir, day)
	rows, err := readDayFile(path)
	if err != nil {
		return err
	}

	var kept []*katra.MemoryRecord
	for _, r := range dedupeLatest(rows) {
		if !r.Archived {
			kept = append(kept, r)
		}
	}

	tmp := path + ".compact.tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return katraerr.IO("failed to create compaction temp file", err)
	}
	w := bufio.NewWriter(f)
	for _, r := range kept {
		data, err := json.Marshal(r)
		if err != nil {
			f.Close()
			return katraerr.Wrap(katraerr.KindFormat, "E_FORMAT", "failed to marshal record during compaction", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			f.Close()
			return katraerr.IO("failed to write compacted row", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return katraerr.IO("failed to flush compaction temp file", err)
	}
	if err := f.Close(); err != nil {
		return katraerr.IO("failed to close compaction temp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return katraerr.IO("failed to swap compacted day file", err)
	}

	log.Info("compacted tier1 day file", "ci_id", ciID, "day", day.Format(dayLayout), "kept", len(kept), "dropped", len(rows)-len(kept))
	return nil
}

// RebuildIndex reads every day file for a CI and repopulates the
// supplementary full-text index from scratch.
func (s *Store) RebuildIndex(ciID string) error {
	cs := s.ciStateFor(ciID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	days, err := s.listDays(cs.dir)
	if err != nil {
		return err
	}
	cs.index = newFullTextIndex()
	var allRows []*katra.MemoryRecord
	for _, day := range days {
		rows, err := readDayFile(dayFile(cs.dir, day))
		if err != nil {
			return err
		}
		allRows = append(allRows, rows...)
	}
	for _, r := range dedupeLatest(allRows) {
		if !r.Archived {
			cs.index.add(r)
		}
	}
	log.Info("rebuilt tier1 full-text index", "ci_id", ciID, "days", len(days))
	return nil
}

// ensureWatch starts an fsnotify watcher on the CI's day-file directory,
// once per ciState. When another process rewrites a day file underneath
// us (e.g. a concurrent Compact), the watcher flags the index stale
// instead of SearchIndex polling mtimes on every call.
func (s *Store) ensureWatch(ciID string, cs *ciState) {
	cs.watchOnce.Do(func() {
		if err := os.MkdirAll(cs.dir, 0o755); err != nil {
			log.Warn("tier1 watcher: failed to create ci directory", "ci_id", ciID, "error", err)
			return
		}
		w, err := fsnotify.NewWatcher()
		if err != nil {
			log.Warn("tier1 watcher: fsnotify unavailable, falling back to always-fresh reads", "ci_id", ciID, "error", err)
			return
		}
		if err := w.Add(cs.dir); err != nil {
			log.Warn("tier1 watcher: failed to watch ci directory", "ci_id", ciID, "error", err)
			w.Close()
			return
		}
		cs.mu.Lock()
		cs.watcher = w
		cs.mu.Unlock()
		go func() {
			for {
				select {
				case event, ok := <-w.Events:
					if !ok {
						return
					}
					if !strings.HasSuffix(event.Name, ".jsonl") {
						continue
					}
					if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
						cs.mu.Lock()
						cs.stale = true
						cs.mu.Unlock()
					}
				case _, ok := <-w.Errors:
					if !ok {
						return
					}
				}
			}
		}()
	})
}

// Close stops every CI's day-file watcher. Safe to call once at
// shutdown; a nil or never-started watcher is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cs := range s.cis {
		cs.mu.Lock()
		w := cs.watcher
		cs.mu.Unlock()
		if w != nil {
			w.Close()
		}
	}
	return nil
}

// SearchIndex performs a keyword/prefix lookup against the supplementary
// full-text index. It is a performance path only: Tier 1 never relies on
// it for correctness. If the index is flagged stale by the day-file
// watcher, it rebuilds before looking up; if the index is cold (empty),
// it falls back to a linear substring Query instead.
func (s *Store) SearchIndex(ciID, term string, limit int) ([]*katra.MemoryRecord, error) {
	cs := s.ciStateFor(ciID)
	s.ensureWatch(ciID, cs)

	cs.mu.Lock()
	stale := cs.stale
	cs.mu.Unlock()
	if stale {
		if err := s.RebuildIndex(ciID); err != nil {
			return nil, err
		}
		cs.mu.Lock()
		cs.stale = false
		cs.mu.Unlock()
	}

	cs.mu.Lock()
	ids := cs.index.lookup(term)
	cold := cs.index.empty()
	cs.mu.Unlock()

	if cold {
		return s.Query(Criteria{CIID: ciID, ContentSubstring: term, Limit: limit})
	}

	recs, err := s.Query(Criteria{CIID: ciID, Limit: 0})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*katra.MemoryRecord, len(recs))
	for _, r := range recs {
		byID[r.RecordID] = r
	}
	var out []*katra.MemoryRecord
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}
