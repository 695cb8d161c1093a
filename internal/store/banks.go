package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hindsight-ai/hindsight-go/pkg/kv"
)

// GetOrCreateBank fetches a bank, auto-creating it with neutral defaults
// on first reference (spec.md §3: "Auto-created on first reference with
// neutral defaults").
func (s *Store) GetOrCreateBank(ctx context.Context, bankID string) (*Bank, error) {
	b, err := s.GetBank(ctx, bankID)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, ErrBankNotFound) {
		return nil, err
	}
	now := time.Now().UTC()
	b = &Bank{
		ID:          bankID,
		Name:        bankID,
		Personality: NeutralPersonality(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.putBank(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// GetBank fetches a bank by ID.
func (s *Store) GetBank(ctx context.Context, bankID string) (*Bank, error) {
	raw, err := s.kv.Get(ctx, bankKey(bankID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%q: %w", bankID, ErrBankNotFound)
	}
	if err != nil {
		return nil, err
	}
	var b Bank
	if err := decode(raw, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) putBank(ctx context.Context, b *Bank) error {
	raw, err := encode(b)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, bankKey(b.ID), raw)
}

// UpdatePersonality replaces the bank's personality record with p as a
// whole (spec.md §6 update_bank_personality); traits are not merged.
func (s *Store) UpdatePersonality(ctx context.Context, bankID string, p Personality) (*Bank, error) {
	b, err := s.GetOrCreateBank(ctx, bankID)
	if err != nil {
		return nil, err
	}
	b.Personality = p
	b.UpdatedAt = time.Now().UTC()
	if err := s.putBank(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// MergeBackground appends to the bank's free-form background string
// (spec.md §6 merge_bank_background).
func (s *Store) MergeBackground(ctx context.Context, bankID, addition string) (*Bank, error) {
	b, err := s.GetOrCreateBank(ctx, bankID)
	if err != nil {
		return nil, err
	}
	if b.Background == "" {
		b.Background = addition
	} else {
		b.Background = b.Background + "\n" + addition
	}
	b.UpdatedAt = time.Now().UTC()
	if err := s.putBank(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// ListBanks returns every known bank.
func (s *Store) ListBanks(ctx context.Context) ([]*Bank, error) {
	var out []*Bank
	for entry, err := range s.kv.List(ctx, bankPrefix()) {
		if err != nil {
			return nil, err
		}
		var b Bank
		if err := decode(entry.Value, &b); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, nil
}

// DeleteBank cascades to every unit, link, entity, unit-entity row, and
// document owned by the bank, optionally restricted to one fact type
// (spec.md §3 Invariants, §6 delete_bank(fact_type?)).
func (s *Store) DeleteBank(ctx context.Context, bankID string, factType *FactType) error {
	units, err := s.ListUnits(ctx, bankID, ListUnitsOptions{FactType: factType})
	if err != nil {
		return err
	}
	unitIDs := make([]string, 0, len(units))
	for _, u := range units {
		unitIDs = append(unitIDs, u.ID)
	}
	if len(unitIDs) > 0 {
		if err := s.DeleteUnits(ctx, bankID, unitIDs); err != nil {
			return err
		}
	}
	// Only a full-bank delete (no factType filter) removes entities,
	// documents, and the bank row itself — a fact_type-scoped delete
	// removes only the matching units (and their links/entity rows),
	// leaving the bank, its documents, and its entities intact.
	if factType != nil {
		return nil
	}

	entities, err := s.ListEntities(ctx, bankID)
	if err != nil {
		return err
	}
	t := newTx()
	for _, e := range entities {
		t.del(entityKey(bankID, e.ID))
		t.del(entityByNameKey(bankID, normalizeName(e.CanonicalName)))
	}
	docs, err := s.ListDocuments(ctx, bankID)
	if err != nil {
		return err
	}
	for _, d := range docs {
		t.del(docKey(bankID, d.ID))
	}
	ops, err := s.ListOperations(ctx, bankID)
	if err != nil {
		return err
	}
	for _, op := range ops {
		t.del(opKey(bankID, op.ID))
	}
	t.del(bankKey(bankID))
	if err := t.commit(ctx, s.kv); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.indices, bankID)
	s.mu.Unlock()
	return nil
}
