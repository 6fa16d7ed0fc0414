package vector

import (
	"context"
	"testing"
)

func TestIDFPurityQueryDoesNotMutateStats(t *testing.T) {
	s := New(t.TempDir(), DefaultDimension)
	if err := s.UpdateStats("ci-1", "rec-1", "the quick brown fox jumps over the lazy dog"); err != nil {
		t.Fatalf("update stats: %v", err)
	}
	if err := s.UpdateStats("ci-1", "rec-2", "a slow green turtle crawls under a loud cat"); err != nil {
		t.Fatalf("update stats: %v", err)
	}

	beforeVocab, beforeDocs := s.Snapshot("ci-1")

	if _, err := s.Search(context.Background(), "ci-1", "unicorn rainbow sparkles", 5, 0.0); err != nil {
		t.Fatalf("search: %v", err)
	}

	afterVocab, afterDocs := s.Snapshot("ci-1")
	if beforeVocab != afterVocab || beforeDocs != afterDocs {
		t.Fatalf("query mutated IDF stats: before=(%d,%d) after=(%d,%d)", beforeVocab, beforeDocs, afterVocab, afterDocs)
	}
}

func TestSearchDragonAtlantaSemanticRecall(t *testing.T) {
	s := New(t.TempDir(), DefaultDimension)

	docs := map[string]string{
		"dragon-con":  "Dragon Con is a massive fan convention held every Labor Day weekend in Atlanta Georgia",
		"tax-filing":  "quarterly tax filing deadlines require careful bookkeeping and receipts",
		"sql-backup":  "nightly database backup jobs run a full snapshot and a transaction log archive",
	}
	for id, content := range docs {
		if err := s.UpdateStats("ci-1", id, content); err != nil {
			t.Fatalf("update stats %s: %v", id, err)
		}
	}

	results, err := s.Search(context.Background(), "ci-1", "Dragon Atlanta convention", 3, 0.0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	if results[0].RecordID != "dragon-con" {
		t.Fatalf("expected dragon-con to rank first, got %q (results=%+v)", results[0].RecordID, results)
	}
	if results[0].Similarity <= 0 {
		t.Fatalf("expected positive similarity for top match, got %v", results[0].Similarity)
	}
}

func TestUpdateStatsZeroMagnitudeForNoValidTokens(t *testing.T) {
	s := New(t.TempDir(), DefaultDimension)
	if err := s.UpdateStats("ci-1", "rec-1", "! ? . , ; : a"); err != nil {
		t.Fatalf("update stats: %v", err)
	}
	s.mu.RLock()
	emb := s.embeddings["ci-1"]["rec-1"]
	s.mu.RUnlock()
	if emb == nil {
		t.Fatal("expected embedding to be stored even for empty token set")
	}
	if emb.Magnitude != 0 {
		t.Fatalf("expected zero magnitude for no valid tokens, got %v", emb.Magnitude)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, DefaultDimension)
	if err := s.UpdateStats("ci-1", "rec-1", "persistent state survives a reload"); err != nil {
		t.Fatalf("update stats: %v", err)
	}
	if err := s.UpdateStats("ci-1", "rec-2", "a second record about reload persistence"); err != nil {
		t.Fatalf("update stats: %v", err)
	}
	if err := s.Save("ci-1"); err != nil {
		t.Fatalf("save: %v", err)
	}

	beforeVocab, beforeDocs := s.Snapshot("ci-1")

	reloaded := New(dir, DefaultDimension)
	if err := reloaded.Load("ci-1"); err != nil {
		t.Fatalf("load: %v", err)
	}

	afterVocab, afterDocs := reloaded.Snapshot("ci-1")
	if beforeVocab != afterVocab || beforeDocs != afterDocs {
		t.Fatalf("round trip changed IDF stats: before=(%d,%d) after=(%d,%d)", beforeVocab, beforeDocs, afterVocab, afterDocs)
	}

	results, err := reloaded.Search(context.Background(), "ci-1", "reload persistence record", 5, 0.0)
	if err != nil {
		t.Fatalf("search after reload: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected both records to survive reload, got %d", len(results))
	}
}

func TestPairwiseSimilarityRanksRelatedDocsHigher(t *testing.T) {
	s := New(t.TempDir(), DefaultDimension)
	must2(t, s.UpdateStats("ci-1", "a", "deploying the release pipeline to production"))
	must2(t, s.UpdateStats("ci-1", "b", "rolling the release pipeline back in production"))
	must2(t, s.UpdateStats("ci-1", "c", "watering the garden tomatoes this morning"))

	simAB, ok := s.PairwiseSimilarity("ci-1", "a", "b")
	if !ok {
		t.Fatal("expected similarity between a and b")
	}
	simAC, ok := s.PairwiseSimilarity("ci-1", "a", "c")
	if !ok {
		t.Fatal("expected similarity between a and c")
	}
	if simAB <= simAC {
		t.Fatalf("expected related docs (a,b)=%v to score higher than unrelated (a,c)=%v", simAB, simAC)
	}
}

func must2(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSearchSingleTokenQueryRespectsThreshold(t *testing.T) {
	s := New(t.TempDir(), DefaultDimension)
	must2(t, s.UpdateStats("ci-1", "rec-1", "ok"))
	must2(t, s.UpdateStats("ci-1", "rec-2", "deploying the release pipeline to production"))
	must2(t, s.UpdateStats("ci-1", "rec-3", "watering the garden tomatoes this morning"))

	results, err := s.Search(context.Background(), "ci-1", "ok", 10, 0.5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, r := range results {
		if r.RecordID != "rec-1" {
			t.Fatalf("single-token query matched unrelated record %q above threshold: %+v", r.RecordID, results)
		}
	}
}

func TestSearchEmptyQueryReturnsNoResults(t *testing.T) {
	s := New(t.TempDir(), DefaultDimension)
	must2(t, s.UpdateStats("ci-1", "rec-1", "deploying the release pipeline to production"))

	results, err := s.Search(context.Background(), "ci-1", "!!! ...", 10, 0.0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results for a query with no valid tokens, got %+v", results)
	}
}

func TestSetTokenBoundsChangesTokenization(t *testing.T) {
	s := New(t.TempDir(), DefaultDimension)
	s.SetTokenBounds(5, DefaultMaxTokenLength, DefaultMaxTokens)

	// "ok" is 2 chars, below the configured 5-char minimum, so it
	// contributes no token and the embedding should have zero magnitude.
	must2(t, s.UpdateStats("ci-1", "rec-1", "ok"))
	s.mu.RLock()
	emb := s.embeddings["ci-1"]["rec-1"]
	s.mu.RUnlock()
	if emb == nil {
		t.Fatal("expected embedding to be stored even for no qualifying tokens")
	}
	if emb.Magnitude != 0 {
		t.Fatalf("expected zero magnitude once min_token_length excludes \"ok\", got %v", emb.Magnitude)
	}

	// A 5+ char token still qualifies under the raised minimum.
	must2(t, s.UpdateStats("ci-1", "rec-2", "dragon"))
	s.mu.RLock()
	emb2 := s.embeddings["ci-1"]["rec-2"]
	s.mu.RUnlock()
	if emb2 == nil || emb2.Magnitude == 0 {
		t.Fatalf("expected a nonzero embedding for a token meeting the raised minimum, got %+v", emb2)
	}
}

func TestDeleteRemovesEmbedding(t *testing.T) {
	s := New(t.TempDir(), DefaultDimension)
	if err := s.UpdateStats("ci-1", "rec-1", "something to remove later"); err != nil {
		t.Fatalf("update stats: %v", err)
	}
	s.Delete("ci-1", "rec-1")

	results, err := s.Search(context.Background(), "ci-1", "something to remove", 5, 0.0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected deleted record to be absent from search, got %+v", results)
	}
}
