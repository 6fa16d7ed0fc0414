package tier1

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/ckoons/katra-sub000/internal/access"
	"github.com/ckoons/katra-sub000/internal/katra"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir(), access.NewChecker(nil))
}

func newRecord(t *testing.T, ciID, content string, ts time.Time) *katra.MemoryRecord {
	t.Helper()
	r, err := katra.Create(katra.CreateOptions{
		CIID:       ciID,
		Type:       katra.TypeExperience,
		Content:    content,
		Importance: 0.5,
		Timestamp:  ts.Unix(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return r
}

func TestStoreThenQueryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	rec := newRecord(t, "ci-1", "hello durable world", time.Now())

	if err := s.Store(rec); err != nil {
		t.Fatalf("store: %v", err)
	}

	out, err := s.Query(Criteria{CIID: "ci-1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 1 || out[0].RecordID != rec.RecordID {
		t.Fatalf("expected round-trip of stored record, got %+v", out)
	}
	if out[0].Content != rec.Content {
		t.Errorf("content mismatch: got %q want %q", out[0].Content, rec.Content)
	}
}

func TestQuerySkipsArchived(t *testing.T) {
	s := newTestStore(t)
	rec := newRecord(t, "ci-1", "archived row", time.Now())
	rec.Archived = true
	if err := s.Store(rec); err != nil {
		t.Fatalf("store: %v", err)
	}

	out, err := s.Query(Criteria{CIID: "ci-1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected archived row to be skipped, got %d results", len(out))
	}
}

func TestStoreDeleteThenQueryNotFound(t *testing.T) {
	// "Delete" at tier 1 is represented by archival (append-only log):
	// store, archive, query -> gone.
	s := newTestStore(t)
	rec := newRecord(t, "ci-1", "to be archived", time.Now())
	if err := s.Store(rec); err != nil {
		t.Fatalf("store: %v", err)
	}
	rec2 := rec.Clone()
	rec2.Archived = true
	if err := s.Store(rec2); err != nil {
		t.Fatalf("store archived successor: %v", err)
	}

	out, err := s.Query(Criteria{CIID: "ci-1", ContentSubstring: "archived"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for _, r := range out {
		if r.RecordID == rec.RecordID && r.Archived {
			t.Fatalf("archived record must not be returned")
		}
	}
}

func TestCompactDropsArchivedRows(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	live := newRecord(t, "ci-1", "keep me", now)
	dead := newRecord(t, "ci-1", "drop me", now)
	dead.Archived = true

	if err := s.Store(live); err != nil {
		t.Fatalf("store live: %v", err)
	}
	if err := s.Store(dead); err != nil {
		t.Fatalf("store dead: %v", err)
	}

	if err := s.Compact("ci-1", now); err != nil {
		t.Fatalf("compact: %v", err)
	}

	st, err := s.StatsFor("ci-1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.ActiveRecords != 1 {
		t.Fatalf("expected 1 active record after compaction, got %d", st.ActiveRecords)
	}
}

func TestAccessFilteringOnQuery(t *testing.T) {
	s := newTestStore(t)
	rec := newRecord(t, "owner-1", "a private secret", time.Now())
	if err := s.Store(rec); err != nil {
		t.Fatalf("store: %v", err)
	}

	out, err := s.Query(Criteria{CIID: "owner-1", RequestingCIID: "stranger"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected private record hidden from stranger, got %d", len(out))
	}
}

func TestArchiveHidesRecordFromQuery(t *testing.T) {
	s := newTestStore(t)
	rec := newRecord(t, "ci-1", "a memory about to be archived", time.Now())
	if err := s.Store(rec); err != nil {
		t.Fatalf("store: %v", err)
	}

	out, err := s.Query(Criteria{CIID: "ci-1"})
	if err != nil {
		t.Fatalf("query before archive: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected record visible before archiving, got %d", len(out))
	}

	if err := s.Archive("ci-1", rec.RecordID); err != nil {
		t.Fatalf("archive: %v", err)
	}

	out, err = s.Query(Criteria{CIID: "ci-1"})
	if err != nil {
		t.Fatalf("query after archive: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected archived record hidden from query, got %d", len(out))
	}

	st, err := s.StatsFor("ci-1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.ActiveRecords != 0 {
		t.Fatalf("expected 0 active records after archive, got %d", st.ActiveRecords)
	}
}

func TestRebuildIndexThenSearch(t *testing.T) {
	s := newTestStore(t)
	rec := newRecord(t, "ci-1", "dragon atlanta georgia", time.Now())
	if err := s.Store(rec); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := s.RebuildIndex("ci-1"); err != nil {
		t.Fatalf("rebuild index: %v", err)
	}
	out, err := s.SearchIndex("ci-1", "dragon", 10)
	if err != nil {
		t.Fatalf("search index: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 match from index search, got %d", len(out))
	}
}

func TestSearchIndexRebuildsAfterExternalDayFileChange(t *testing.T) {
	s := newTestStore(t)
	day := time.Now()
	rec := newRecord(t, "ci-1", "dragon atlanta georgia", day)
	if err := s.Store(rec); err != nil {
		t.Fatalf("store: %v", err)
	}
	// Starts the watcher and primes the index.
	if _, err := s.SearchIndex("ci-1", "dragon", 10); err != nil {
		t.Fatalf("search index: %v", err)
	}

	// Simulate another process appending a row directly to the day file,
	// bypassing Store (and therefore the in-process index.add call).
	extra := newRecord(t, "ci-1", "phoenix tucson arizona", day)
	cs := s.ciStateFor("ci-1")
	path := dayFile(cs.dir, day)
	data, err := json.Marshal(extra)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open day file: %v", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		out, err := s.SearchIndex("ci-1", "phoenix", 10)
		if err != nil {
			t.Fatalf("search index: %v", err)
		}
		if len(out) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected external append to be detected and indexed, got %d matches", len(out))
		}
		time.Sleep(20 * time.Millisecond)
	}
}
