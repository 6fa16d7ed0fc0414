// Package vector implements the TF-IDF + cosine similarity embedding
// pipeline and vector index: store an embedding keyed by record_id,
// search returns top-K above a similarity threshold, persistence reloads
// on reinitialize. The embedding itself is hand-rolled hashing-trick
// TF-IDF rather than a call to an external vector service, so Katra
// keeps working fully offline.
package vector

import (
	"context"
	"sort"
	"sync"

	"github.com/ckoons/katra-sub000/internal/katraerr"
	"github.com/ckoons/katra-sub000/internal/logging"
)

var log = logging.GetLogger("vector")

// ExternalEmbedder is the optional alternate embedding method invoked
// via an API key. Katra falls back to TF-IDF when no embedder is
// configured, the provider is unsupported, or the call fails.
type ExternalEmbedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Name() string
}

// Method selects the embedding pipeline.
type Method string

const (
	MethodHash     Method = "HASH"
	MethodTFIDF    Method = "TFIDF"
	MethodExternal Method = "EXTERNAL"
)

// SearchResult is one ranked match.
type SearchResult struct {
	RecordID   string
	Similarity float64
}

// Store is the vector backend: one IDF table and one embedding set per
// CI, each guarded by the Store's single process-wide mutex.
type Store struct {
	root string
	dim  int

	minTokenLen int
	maxTokenLen int
	maxTokens   int

	mu         sync.RWMutex
	idfByCI    map[string]*IDF
	embeddings map[string]map[string]*Embedding // ci_id -> record_id -> embedding

	external ExternalEmbedder
}

// New creates a vector store rooted at <root>/tier2/vectors, tokenizing
// with the package defaults until SetTokenBounds overrides them.
func New(root string, dim int) *Store {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Store{
		root:        root,
		dim:         dim,
		minTokenLen: DefaultMinTokenLength,
		maxTokenLen: DefaultMaxTokenLength,
		maxTokens:   DefaultMaxTokens,
		idfByCI:     make(map[string]*IDF),
		embeddings:  make(map[string]map[string]*Embedding),
	}
}

// SetTokenBounds overrides the tokenizer's min/max token length and
// max-tokens-per-document bounds, normally sourced from
// pkg/config.VectorConfig. A non-positive argument leaves that bound
// unchanged.
func (s *Store) SetTokenBounds(minTokenLen, maxTokenLen, maxTokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if minTokenLen > 0 {
		s.minTokenLen = minTokenLen
	}
	if maxTokenLen > 0 {
		s.maxTokenLen = maxTokenLen
	}
	if maxTokens > 0 {
		s.maxTokens = maxTokens
	}
}

// tokenizeLocked tokenizes using the store's configured bounds. Callers
// must already hold s.mu (read or write).
func (s *Store) tokenizeLocked(text string) []string {
	return Tokenize(text, s.minTokenLen, s.maxTokenLen, s.maxTokens)
}

// tokenize is tokenizeLocked for callers that aren't already holding s.mu.
func (s *Store) tokenize(text string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokenizeLocked(text)
}

// SetExternalEmbedder configures an alternate embedding provider for
// MethodExternal. Pass nil to disable.
func (s *Store) SetExternalEmbedder(e ExternalEmbedder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.external = e
}

func (s *Store) idfFor(ciID string) *IDF {
	idf, ok := s.idfByCI[ciID]
	if !ok {
		idf = newIDF()
		s.idfByCI[ciID] = idf
	}
	return idf
}

// UpdateStats writes recordID/content into the corpus: it mutates the
// IDF table and total_docs, builds the resulting embedding, and stores
// it. This is the ONLY path that grows the vocabulary.
func (s *Store) UpdateStats(ciID, recordID, content string) error {
	if ciID == "" || recordID == "" {
		return katraerr.InvalidParams("ci_id and record_id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tokens := s.tokenizeLocked(content)
	idf := s.idfFor(ciID)
	idf.UpdateStats(tokens)

	raw := buildVector(tokens, idf, s.dim)
	unit, magnitude := l2Normalize(raw)

	if _, ok := s.embeddings[ciID]; !ok {
		s.embeddings[ciID] = make(map[string]*Embedding)
	}
	s.embeddings[ciID][recordID] = &Embedding{RecordID: recordID, Vector: unit, Magnitude: magnitude}
	return nil
}

// CreateEmbeddingForQuery produces a query vector using the *current*
// IDF table without mutating any statistics -- a query must never grow
// the vocabulary, only a stored write does.
func (s *Store) CreateEmbeddingForQuery(ctx context.Context, ciID, text string, method Method) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if method == MethodExternal && s.external != nil {
		v, err := s.external.Embed(ctx, text)
		if err == nil {
			return v, nil
		}
		log.Warn("external embedding failed, falling back to TF-IDF", "provider", s.external.Name(), "error", err)
	}

	tokens := s.tokenizeLocked(text)
	idf := s.idfByCIReadOnly(ciID)
	raw := buildVector(tokens, idf, s.dim)
	unit, _ := l2Normalize(raw)
	return unit, nil
}

// idfByCIReadOnly returns the CI's IDF table if it exists, or a fresh
// empty one otherwise -- it must never create/register a new table
// under the read lock (that would require the write lock), so an
// unregistered CI simply queries against an empty corpus.
func (s *Store) idfByCIReadOnly(ciID string) *IDF {
	if idf, ok := s.idfByCI[ciID]; ok {
		return idf
	}
	return newIDF()
}

// Search returns the top-K matches for queryText above similarityThreshold.
// A query with no valid tokens (e.g. empty or all punctuation) can never
// score above zero against anything, so it short-circuits to no results
// without touching the embedding table.
func (s *Store) Search(ctx context.Context, ciID, queryText string, topK int, similarityThreshold float64) ([]SearchResult, error) {
	if ciID == "" {
		return nil, katraerr.InvalidParams("ci_id is required")
	}

	if len(s.tokenize(queryText)) == 0 {
		return nil, nil
	}

	queryVec, err := s.CreateEmbeddingForQuery(ctx, ciID, queryText, MethodTFIDF)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := s.embeddings[ciID]
	results := make([]SearchResult, 0, len(docs))
	for id, emb := range docs {
		sim := cosineSimilarity(queryVec, emb.Vector)
		if sim >= similarityThreshold {
			results = append(results, SearchResult{RecordID: id, Similarity: sim})
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Delete removes both the in-memory and (on next Save) persisted copy of
// an embedding.
func (s *Store) Delete(ciID, recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if docs, ok := s.embeddings[ciID]; ok {
		delete(docs, recordID)
	}
}

// PairwiseSimilarity returns the cosine similarity between two stored
// embeddings within a CI, used by pattern detection clustering.
func (s *Store) PairwiseSimilarity(ciID, idA, idB string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := s.embeddings[ciID]
	if docs == nil {
		return 0, false
	}
	a, okA := docs[idA]
	b, okB := docs[idB]
	if !okA || !okB {
		return 0, false
	}
	return cosineSimilarity(a.Vector, b.Vector), true
}

// Snapshot exposes the (vocab_size, total_docs) pair for a CI's corpus,
// used by the IDF-purity test.
func (s *Store) Snapshot(ciID string) (vocabSize, totalDocs int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idf, ok := s.idfByCI[ciID]
	if !ok {
		return 0, 0
	}
	return idf.Snapshot()
}
