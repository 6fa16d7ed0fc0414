package tier2

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreDigestThenRetrieve(t *testing.T) {
	s := newTestStore(t)
	d := &Digest{
		CIID:       "ci-1",
		PeriodID:   "2026-W14",
		PeriodType: PeriodWeekly,
		Theme:      "debugging",
		Keywords:   []string{"Go", "Concurrency"},
		Content:    "Spent the week chasing a goroutine leak.",
		SourceIDs:  []string{"rec-1", "rec-2"},
	}
	if err := s.StoreDigest(d); err != nil {
		t.Fatalf("store digest: %v", err)
	}

	got, err := s.RetrieveByID(d.ID)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got.Theme != "debugging" || len(got.SourceIDs) != 2 {
		t.Fatalf("unexpected digest round-trip: %+v", got)
	}
}

func TestQueryDigestsByKeyword(t *testing.T) {
	s := newTestStore(t)
	d := &Digest{
		CIID: "ci-1", PeriodID: "2026-03", PeriodType: PeriodMonthly,
		Theme: "go", Keywords: []string{"goroutine"}, Content: "...",
	}
	if err := s.StoreDigest(d); err != nil {
		t.Fatalf("store: %v", err)
	}

	out, err := s.QueryDigests(Criteria{CIID: "ci-1", Keyword: "goroutine"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 digest, got %d", len(out))
	}
}

func TestRetrieveByIDNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.RetrieveByID("nonexistent")
	if err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestStatsForCountsDigests(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		if err := s.StoreDigest(&Digest{CIID: "ci-1", PeriodID: "p", Content: "x"}); err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	st, err := s.StatsFor("ci-1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.DigestCount != 3 {
		t.Fatalf("expected 3 digests, got %d", st.DigestCount)
	}
}
