package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/hindsight-ai/hindsight-go/pkg/kv"
	"github.com/hindsight-ai/hindsight-go/pkg/vecstore"
)

// NewUnitID allocates an opaque memory unit ID.
func NewUnitID() string { return uuid.NewString() }

// ListUnitsOptions filters/paginates ListUnits (spec.md §4.1's "filtered
// scan with pagination" query class).
type ListUnitsOptions struct {
	FactType   *FactType
	DocumentID string
	Limit      int
	Offset     int
}

// PutUnits writes one or more memory units in extraction order (spec.md
// §4.6 step 5: "capturing their IDs in extraction order as causal indices
// depend on this order"). Each write updates: the row, the by-time index,
// the document index (if any), and the vector index (if the unit already
// carries an embedding).
func (s *Store) PutUnits(ctx context.Context, units []*MemoryUnit) error {
	if len(units) == 0 {
		return nil
	}
	t := newTx()
	for _, u := range units {
		if !u.FactType.Valid() {
			return fmt.Errorf("unit %s: %w", u.ID, ErrInvalidFactType)
		}
		if u.OccurredStart.After(u.OccurredEnd) {
			return fmt.Errorf("unit %s: %w", u.ID, ErrInvalidTemporal)
		}
		raw, err := encode(u)
		if err != nil {
			return err
		}
		t.set(unitKey(u.BankID, u.ID), raw)
		t.set(unitByTimeKey(u.BankID, u.MentionedAt, u.ID), []byte{1})
		if u.DocumentID != "" {
			t.set(docUnitKey(u.BankID, u.DocumentID, u.ID), []byte{1})
		}
	}
	if err := t.commit(ctx, s.kv); err != nil {
		return err
	}
	// Vector index inserts happen outside the KV transaction: the index
	// is a separate in-process structure, not part of the KV atomic
	// write, matching vecstore.Index's own "BatchInsert" contract.
	var ids []string
	var vecs [][]float32
	byBank := map[string][]int{}
	for i, u := range units {
		if len(u.Embedding) == 0 {
			continue
		}
		byBank[u.BankID] = append(byBank[u.BankID], i)
	}
	for bankID, idxs := range byBank {
		ids = ids[:0]
		vecs = vecs[:0]
		for _, i := range idxs {
			ids = append(ids, units[i].ID)
			vecs = append(vecs, units[i].Embedding)
		}
		if err := s.indexFor(bankID).BatchInsert(ids, vecs); err != nil {
			return fmt.Errorf("store: vector index insert: %w", err)
		}
	}
	return nil
}

// GetUnit fetches a single memory unit.
func (s *Store) GetUnit(ctx context.Context, bankID, unitID string) (*MemoryUnit, error) {
	raw, err := s.kv.Get(ctx, unitKey(bankID, unitID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%q: %w", unitID, ErrUnitNotFound)
	}
	if err != nil {
		return nil, err
	}
	var u MemoryUnit
	if err := decode(raw, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUnits fetches multiple units by ID, skipping any that are missing.
func (s *Store) GetUnits(ctx context.Context, bankID string, unitIDs []string) ([]*MemoryUnit, error) {
	out := make([]*MemoryUnit, 0, len(unitIDs))
	for _, id := range unitIDs {
		u, err := s.GetUnit(ctx, bankID, id)
		if errors.Is(err, ErrUnitNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// ListUnits scans units in a bank, most-recently-mentioned first, applying
// the optional fact-type/document filters and limit/offset pagination
// (spec.md §4.1's (bank_id, fact_type, mentioned_at desc) index and
// (bank_id, document_id) index).
func (s *Store) ListUnits(ctx context.Context, bankID string, opts ListUnitsOptions) ([]*MemoryUnit, error) {
	if opts.DocumentID != "" {
		return s.listUnitsByDocument(ctx, bankID, opts)
	}
	var out []*MemoryUnit
	skipped := 0
	for entry, err := range s.kv.List(ctx, unitByTimePrefix(bankID)) {
		if err != nil {
			return nil, err
		}
		unitID := entry.Key[len(entry.Key)-1]
		u, err := s.GetUnit(ctx, bankID, unitID)
		if errors.Is(err, ErrUnitNotFound) {
			continue // by-time index entry outlived a deleted unit
		}
		if err != nil {
			return nil, err
		}
		if opts.FactType != nil && u.FactType != *opts.FactType {
			continue
		}
		if opts.Offset > 0 && skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, u)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) listUnitsByDocument(ctx context.Context, bankID string, opts ListUnitsOptions) ([]*MemoryUnit, error) {
	var ids []string
	for entry, err := range s.kv.List(ctx, docUnitPrefix(bankID, opts.DocumentID)) {
		if err != nil {
			return nil, err
		}
		ids = append(ids, entry.Key[len(entry.Key)-1])
	}
	units, err := s.GetUnits(ctx, bankID, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(units, func(i, j int) bool { return units[i].MentionedAt.After(units[j].MentionedAt) })
	if opts.FactType != nil {
		filtered := units[:0]
		for _, u := range units {
			if u.FactType == *opts.FactType {
				filtered = append(filtered, u)
			}
		}
		units = filtered
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(units) {
			return nil, nil
		}
		units = units[opts.Offset:]
	}
	if opts.Limit > 0 && len(units) > opts.Limit {
		units = units[:opts.Limit]
	}
	return units, nil
}

// VectorSearch performs cosine-similarity top-K search over a bank's
// embeddings (spec.md §4.1's vector K-NN query class). vecstore.Index
// returns ascending distance; since embeddings are L2-normalized, cosine
// distance is 1-cos(sim), so callers get nearest-first ordering directly.
func (s *Store) VectorSearch(bankID string, query []float32, topK int) ([]vecstore.Match, error) {
	return s.indexFor(bankID).Search(query, topK)
}

// DeleteUnits removes units and everything that references them: the
// row itself, the by-time and document indices, every memory_link with
// either endpoint in the set, every unit_entities row (decrementing
// nothing — mention_count is not retroactively corrected per spec.md's
// silence on the matter), and the vector index entry.
func (s *Store) DeleteUnits(ctx context.Context, bankID string, unitIDs []string) error {
	if len(unitIDs) == 0 {
		return nil
	}
	idSet := make(map[string]bool, len(unitIDs))
	for _, id := range unitIDs {
		idSet[id] = true
	}

	t := newTx()
	for _, id := range unitIDs {
		u, err := s.GetUnit(ctx, bankID, id)
		if errors.Is(err, ErrUnitNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		t.del(unitKey(bankID, id))
		t.del(unitByTimeKey(bankID, u.MentionedAt, id))
		if u.DocumentID != "" {
			t.del(docUnitKey(bankID, u.DocumentID, id))
		}
		seen := map[string]bool{}
		for _, term := range tokenize(u.Text + " " + u.Context) {
			if seen[term] {
				continue
			}
			seen[term] = true
			t.del(fulltextTermKey(bankID, term, id))
		}
		for entry, err := range s.kv.List(ctx, unitEntityPrefix(bankID, id)) {
			if err != nil {
				return err
			}
			entityID := entry.Key[len(entry.Key)-1]
			t.del(unitEntityKey(bankID, id, entityID))
			t.del(entityUnitKey(bankID, entityID, id))
		}
	}
	// Links: scan every link with a from-endpoint in the set; the
	// link_from index makes this a prefix scan per unit rather than a
	// full-bank scan.
	for _, id := range unitIDs {
		for entry, err := range s.kv.List(ctx, linkFromPrefix(bankID, id)) {
			if err != nil {
				return err
			}
			toUnitID := entry.Key[len(entry.Key)-1]
			linkType := LinkType(entry.Key[len(entry.Key)-2])
			t.del(entry.Key)
			// Find and remove the corresponding link row(s); entity_id may
			// vary so scan the (from,to,type) prefix.
			for linkEntry, err := range s.kv.List(ctx, kvKeyJoin(linkPrefix(bankID), id, toUnitID, string(linkType))) {
				if err != nil {
					return err
				}
				t.del(linkEntry.Key)
			}
		}
	}
	// Also remove links where a deleted unit is only the "to" endpoint:
	// those are not reachable via link_from on the deleted unit, so scan
	// the full link space once. This is the one full-bank scan in the
	// cascade, accepted because bank deletion/document-upsert deletion
	// is not a hot path.
	for entry, err := range s.kv.List(ctx, linkPrefix(bankID)) {
		if err != nil {
			return err
		}
		var l MemoryLink
		if err := decode(entry.Value, &l); err != nil {
			return err
		}
		if idSet[l.ToUnitID] && !idSet[l.FromUnitID] {
			t.del(entry.Key)
			t.del(linkFromKey(bankID, l.FromUnitID, l.LinkType, l.ToUnitID))
		}
	}
	if err := t.commit(ctx, s.kv); err != nil {
		return err
	}
	for _, id := range unitIDs {
		_ = s.indexFor(bankID).Delete(id)
	}
	return nil
}

func kvKeyJoin(prefix kv.Key, segs ...string) kv.Key {
	out := make(kv.Key, 0, len(prefix)+len(segs))
	out = append(out, prefix...)
	out = append(out, segs...)
	return out
}
