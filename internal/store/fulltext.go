package store

import (
	"context"
	"strings"
	"unicode"

	"github.com/hindsight-ai/hindsight-go/pkg/kv"
	"github.com/orsinium-labs/stopwords"
)

// en is the language-agnostic-enough tokenizer's stopword set. spec.md
// §4.1 asks for "language-agnostic tokenization"; in practice the teacher
// pack's only tokenizer dependency (orsinium-labs/stopwords, wired via
// KittClouds-Go-Machine-n's discovery registry) is English-specific, so
// non-English tokens simply never match a stopword and pass through
// unfiltered rather than being mishandled.
var en = stopwords.MustGet("en")

// tokenize lowercases, splits on non-letter/non-digit runes, and drops
// English stopwords and single-character tokens, the same shape as
// pkg/scanner/discovery's stopwordChecker.Contains check in the example
// pack, generalized from a single key check to whole-text tokenization.
func tokenize(text string) []string {
	var toks []string
	var b strings.Builder
	flush := func() {
		if b.Len() == 0 {
			return
		}
		w := b.String()
		b.Reset()
		if len(w) <= 1 {
			return
		}
		if en.Contains(w) {
			return
		}
		toks = append(toks, w)
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()
	return toks
}

func fulltextTermKey(bankID, term, unitID string) kv.Key {
	return kv.Key{"fulltext", bankID, term, unitID}
}

func fulltextTermPrefix(bankID, term string) kv.Key {
	return kv.Key{"fulltext", bankID, term}
}

// indexFulltext tokenizes text+context and records postings, called by
// PutUnits-adjacent code in the retain pipeline after a unit is written.
func (s *Store) indexFulltext(ctx context.Context, u *MemoryUnit) error {
	seen := map[string]bool{}
	t := newTx()
	for _, tok := range tokenize(u.Text + " " + u.Context) {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		t.set(fulltextTermKey(u.BankID, tok, u.ID), []byte{1})
	}
	return t.commit(ctx, s.kv)
}

// IndexUnitsFulltext indexes a batch of units for lexical search. Exposed
// separately from PutUnits so the retain pipeline can index after dedup
// rather than forcing every unit write through full-text indexing.
func (s *Store) IndexUnitsFulltext(ctx context.Context, units []*MemoryUnit) error {
	for _, u := range units {
		if err := s.indexFulltext(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

// LexicalMatch implements the Store's "full-text search surface over
// text+context" (spec.md §4.1), used by the Retrieval Planner's lexical
// seed source (spec.md §4.8). Returns unit IDs ranked by term-overlap
// count, descending.
func (s *Store) LexicalMatch(ctx context.Context, bankID, query string, topN int) ([]string, error) {
	terms := tokenize(query)
	counts := map[string]int{}
	for _, term := range terms {
		for entry, err := range s.kv.List(ctx, fulltextTermPrefix(bankID, term)) {
			if err != nil {
				return nil, err
			}
			unitID := entry.Key[len(entry.Key)-1]
			counts[unitID]++
		}
	}
	type scored struct {
		id    string
		count int
	}
	ranked := make([]scored, 0, len(counts))
	for id, c := range counts {
		ranked = append(ranked, scored{id, c})
	}
	// Stable-ish selection without importing sort for a one-off: small N
	// in practice (bounded by topN and bank size), insertion sort is fine.
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && ranked[j].count > ranked[j-1].count; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}
	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.id
	}
	return out, nil
}
