package tier3

import "testing"

func TestStorePatternThenQueryByMember(t *testing.T) {
	s := New(t.TempDir())
	p := &Pattern{
		CIID:                "ci-1",
		Centroid:            "debugging null pointer in module K",
		MemberIDs:           []string{"rec-1", "rec-2", "rec-3"},
		SimilarityThreshold: 0.4,
	}
	if err := s.StorePattern(p); err != nil {
		t.Fatalf("store pattern: %v", err)
	}

	out, err := s.QueryPatterns(Criteria{CIID: "ci-1", MemberID: "rec-2"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 1 || out[0].ID != p.ID {
		t.Fatalf("expected pattern lookup by member to find it, got %+v", out)
	}
}

func TestStorePatternUpdatesInPlace(t *testing.T) {
	s := New(t.TempDir())
	p := &Pattern{CIID: "ci-1", Centroid: "x", MemberIDs: []string{"r1"}}
	if err := s.StorePattern(p); err != nil {
		t.Fatalf("store: %v", err)
	}

	p.Effectiveness = 0.9
	if err := s.StorePattern(p); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.RetrieveByID("ci-1", p.ID)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got.Effectiveness != 0.9 {
		t.Fatalf("expected updated effectiveness, got %v", got.Effectiveness)
	}

	st, err := s.StatsFor("ci-1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.PatternCount != 1 {
		t.Fatalf("expected update in place, not append, got %d patterns", st.PatternCount)
	}
}

func TestRetrieveByIDMissing(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.RetrieveByID("ci-1", "nonexistent")
	if err == nil {
		t.Fatal("expected not-found error")
	}
}
