package tier1

import (
	"sort"
	"strings"

	"github.com/ckoons/katra-sub000/internal/katra"
)

// fullTextIndex is a structured keyword index supporting prefix lookup,
// keyed on record_id. It is supplementary: Tier 1 correctness never
// depends on it, only query performance.
type fullTextIndex struct {
	postings map[string]map[string]bool // token -> set of record_ids
}

func newFullTextIndex() *fullTextIndex {
	return &fullTextIndex{postings: make(map[string]map[string]bool)}
}

func (idx *fullTextIndex) empty() bool {
	return len(idx.postings) == 0
}

func tokenize(text string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// add indexes a record's content tokens against its record_id.
func (idx *fullTextIndex) add(rec *katra.MemoryRecord) {
	for _, tok := range tokenize(rec.Content) {
		set, ok := idx.postings[tok]
		if !ok {
			set = make(map[string]bool)
			idx.postings[tok] = set
		}
		set[rec.RecordID] = true
	}
}

// lookup returns record_ids whose content contains a token with term as
// a prefix, deterministically ordered.
func (idx *fullTextIndex) lookup(term string) []string {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil
	}
	seen := make(map[string]bool)
	for tok, ids := range idx.postings {
		if strings.HasPrefix(tok, term) {
			for id := range ids {
				seen[id] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
