package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/hindsight-ai/hindsight-go/pkg/kv"
)

// PutLinks bulk-inserts memory links with ON-CONFLICT-DO-NOTHING semantics
// on the (from, to, type, entity-or-zero) uniqueness key (spec.md §3, §4.4:
// "on conflict the pre-existing row is preserved"). All endpoints must
// share bankID (spec.md §3 Invariants).
func (s *Store) PutLinks(ctx context.Context, bankID string, links []*MemoryLink) error {
	if len(links) == 0 {
		return nil
	}
	t := newTx()
	for _, l := range links {
		existing, err := s.getLink(ctx, bankID, l)
		if err != nil {
			return err
		}
		if existing != nil {
			continue // preserve the pre-existing row
		}
		raw, err := encode(l)
		if err != nil {
			return err
		}
		t.set(linkKey(bankID, l), raw)
		t.set(linkFromKey(bankID, l.FromUnitID, l.LinkType, l.ToUnitID), []byte{1})
	}
	return t.commit(ctx, s.kv)
}

func (s *Store) getLink(ctx context.Context, bankID string, l *MemoryLink) (*MemoryLink, error) {
	raw, err := s.kv.Get(ctx, linkKey(bankID, l))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out MemoryLink
	if err := decode(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LinksFrom returns every outgoing link from a unit, optionally restricted
// to a set of link types (empty = all types). Used by the Retrieval
// Planner's graph expansion pass (spec.md §4.8).
func (s *Store) LinksFrom(ctx context.Context, bankID, unitID string, types []LinkType) ([]*MemoryLink, error) {
	allow := make(map[LinkType]bool, len(types))
	for _, t := range types {
		allow[t] = true
	}
	var out []*MemoryLink
	for entry, err := range s.kv.List(ctx, linkFromPrefix(bankID, unitID)) {
		if err != nil {
			return nil, err
		}
		linkType := LinkType(entry.Key[len(entry.Key)-2])
		if len(allow) > 0 && !allow[linkType] {
			continue
		}
		toUnitID := entry.Key[len(entry.Key)-1]
		for linkEntry, err := range s.kv.List(ctx, kvKeyJoin(linkPrefix(bankID), unitID, toUnitID, string(linkType))) {
			if err != nil {
				return nil, err
			}
			var l MemoryLink
			if err := decode(linkEntry.Value, &l); err != nil {
				return nil, err
			}
			out = append(out, &l)
		}
	}
	return out, nil
}

// GraphData returns every memory link in a bank, optionally restricted to
// one link type (spec.md §6 get_graph_data(type?)).
func (s *Store) GraphData(ctx context.Context, bankID string, linkType *LinkType) ([]*MemoryLink, error) {
	var out []*MemoryLink
	for entry, err := range s.kv.List(ctx, linkPrefix(bankID)) {
		if err != nil {
			return nil, err
		}
		var l MemoryLink
		if err := decode(entry.Value, &l); err != nil {
			return nil, err
		}
		if linkType != nil && l.LinkType != *linkType {
			continue
		}
		out = append(out, &l)
	}
	return out, nil
}

// UnitsForEntity returns every unit ID that references an entity, used by
// the entity-links pass to generate all-pairs entity edges (spec.md §4.4)
// and by entity-seeded recall (spec.md §4.8).
func (s *Store) UnitsForEntity(ctx context.Context, bankID, entityID string) ([]string, error) {
	var out []string
	for entry, err := range s.kv.List(ctx, entityUnitPrefix(bankID, entityID)) {
		if err != nil {
			return nil, err
		}
		out = append(out, entry.Key[len(entry.Key)-1])
	}
	return out, nil
}

// PutUnitEntities records the unit_entities rows linking units to an
// entity (spec.md §4.3), in both directions for efficient lookup either
// way.
func (s *Store) PutUnitEntities(ctx context.Context, bankID, entityID string, unitIDs []string) error {
	t := newTx()
	for _, unitID := range unitIDs {
		t.set(unitEntityKey(bankID, unitID, entityID), []byte{1})
		t.set(entityUnitKey(bankID, entityID, unitID), []byte{1})
	}
	return t.commit(ctx, s.kv)
}

// EntitiesForUnit returns the entity IDs a unit references.
func (s *Store) EntitiesForUnit(ctx context.Context, bankID, unitID string) ([]string, error) {
	var out []string
	for entry, err := range s.kv.List(ctx, unitEntityPrefix(bankID, unitID)) {
		if err != nil {
			return nil, err
		}
		out = append(out, entry.Key[len(entry.Key)-1])
	}
	return out, nil
}

// validateLinkBank is a defensive check exercised by the Link Builder
// before calling PutLinks (spec.md §3 Invariants: "A memory_link's
// endpoints live in the same bank").
func validateLinkBank(bankID string, from, to *MemoryUnit) error {
	if from.BankID != bankID || to.BankID != bankID {
		return fmt.Errorf("link %s->%s: %w", from.ID, to.ID, ErrCrossBankLink)
	}
	return nil
}
