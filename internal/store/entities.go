package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hindsight-ai/hindsight-go/pkg/kv"
)

// NewEntityID allocates an opaque entity ID.
func NewEntityID() string { return uuid.NewString() }

// normalizeName lowercases and trims a canonical name for the exact-match
// index (spec.md §4.3 step 1).
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// FindEntityByName performs the exact canonical-name match step of entity
// resolution (spec.md §4.3 step 1).
func (s *Store) FindEntityByName(ctx context.Context, bankID, name string) (*Entity, error) {
	raw, err := s.kv.Get(ctx, entityByNameKey(bankID, normalizeName(name)))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%q: %w", name, ErrEntityNotFound)
	}
	if err != nil {
		return nil, err
	}
	return s.GetEntity(ctx, bankID, string(raw))
}

// GetEntity fetches an entity by ID.
func (s *Store) GetEntity(ctx context.Context, bankID, entityID string) (*Entity, error) {
	raw, err := s.kv.Get(ctx, entityKey(bankID, entityID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%q: %w", entityID, ErrEntityNotFound)
	}
	if err != nil {
		return nil, err
	}
	var e Entity
	if err := decode(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateEntity inserts a new entity row (spec.md §4.3 step 3). embedding may
// be nil when no surface-form embedding is available yet.
func (s *Store) CreateEntity(ctx context.Context, bankID, canonicalName string, embedding []float32) (*Entity, error) {
	now := time.Now().UTC()
	e := &Entity{
		ID:            NewEntityID(),
		BankID:        bankID,
		CanonicalName: canonicalName,
		MentionCount:  1,
		FirstSeen:     now,
		LastSeen:      now,
		Embedding:     embedding,
	}
	if err := s.putEntity(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Store) putEntity(ctx context.Context, e *Entity) error {
	raw, err := encode(e)
	if err != nil {
		return err
	}
	t := newTx()
	t.set(entityKey(e.BankID, e.ID), raw)
	t.set(entityByNameKey(e.BankID, normalizeName(e.CanonicalName)), []byte(e.ID))
	return t.commit(ctx, s.kv)
}

// BumpMention increments mention_count, refreshes first_seen/last_seen, and
// folds embedding into the entity's running centroid (spec.md §3 Lifecycles:
// "Entities are ... mutated only to bump mention_count, last_seen, and
// canonical name"). embedding may be nil to skip the centroid update.
func (s *Store) BumpMention(ctx context.Context, bankID, entityID string, seenAt time.Time, embedding []float32) error {
	e, err := s.GetEntity(ctx, bankID, entityID)
	if err != nil {
		return err
	}
	e.MentionCount++
	if seenAt.After(e.LastSeen) {
		e.LastSeen = seenAt
	}
	if seenAt.Before(e.FirstSeen) {
		e.FirstSeen = seenAt
	}
	if len(embedding) > 0 {
		e.Embedding = foldCentroid(e.Embedding, embedding, e.MentionCount)
	}
	return s.putEntity(ctx, e)
}

// foldCentroid incorporates a new sample into a running mean embedding and
// re-normalizes it, the same incremental-centroid shape as vecid's
// Recluster centroid averaging, generalized to a single-sample fold rather
// than a full-batch recompute.
func foldCentroid(centroid, sample []float32, count int) []float32 {
	if len(centroid) == 0 {
		out := make([]float32, len(sample))
		copy(out, sample)
		return out
	}
	out := make([]float32, len(centroid))
	n := float32(count)
	for i := range out {
		var s float32
		if i < len(sample) {
			s = sample[i]
		}
		out[i] = centroid[i] + (s-centroid[i])/n
	}
	var norm float64
	for _, v := range out {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range out {
			out[i] *= inv
		}
	}
	return out
}

// ListEntities returns every entity in a bank.
func (s *Store) ListEntities(ctx context.Context, bankID string) ([]*Entity, error) {
	var out []*Entity
	for entry, err := range s.kv.List(ctx, entityPrefix(bankID)) {
		if err != nil {
			return nil, err
		}
		var e Entity
		if err := decode(entry.Value, &e); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, nil
}

// DeleteEntity removes an entity row and its unit associations, and
// cascades to its observation units (spec.md §3 Invariants: "deleting
// the entity deletes its observations").
func (s *Store) DeleteEntity(ctx context.Context, bankID, entityID string) error {
	e, err := s.GetEntity(ctx, bankID, entityID)
	if err != nil {
		return err
	}
	unitIDs, err := s.UnitsForEntity(ctx, bankID, entityID)
	if err != nil {
		return err
	}
	var obsIDs []string
	t := newTx()
	for _, unitID := range unitIDs {
		u, err := s.GetUnit(ctx, bankID, unitID)
		if errors.Is(err, ErrUnitNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		t.del(unitEntityKey(bankID, unitID, entityID))
		t.del(entityUnitKey(bankID, entityID, unitID))
		if u.FactType == FactObservation && u.ObservationEntityID == entityID {
			obsIDs = append(obsIDs, unitID)
		}
	}
	t.del(entityKey(bankID, entityID))
	t.del(entityByNameKey(bankID, normalizeName(e.CanonicalName)))
	if err := t.commit(ctx, s.kv); err != nil {
		return err
	}
	if len(obsIDs) > 0 {
		return s.DeleteUnits(ctx, bankID, obsIDs)
	}
	return nil
}

// ObservationsForEntity returns the entity's current observation-typed
// units, most recent first (spec.md §4.7, §4.8 entity sidebar).
func (s *Store) ObservationsForEntity(ctx context.Context, bankID, entityID string) ([]*MemoryUnit, error) {
	unitIDs, err := s.UnitsForEntity(ctx, bankID, entityID)
	if err != nil {
		return nil, err
	}
	units, err := s.GetUnits(ctx, bankID, unitIDs)
	if err != nil {
		return nil, err
	}
	out := units[:0]
	for _, u := range units {
		if u.FactType == FactObservation && u.ObservationEntityID == entityID {
			out = append(out, u)
		}
	}
	return out, nil
}
