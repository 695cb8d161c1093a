// Package linkbuilder constructs the four edge types of the memory graph
// in bulk passes over a batch of newly written units (spec.md §4.4).
package linkbuilder

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hindsight-ai/hindsight-go/internal/store"
	"github.com/hindsight-ai/hindsight-go/pkg/entity"
	"github.com/hindsight-ai/hindsight-go/pkg/vecstore"
)

// EntityMention is one entity surface form the extractor attached to a unit.
type EntityMention struct {
	UnitIndex  int // index into the batch's unit slice
	Text       string
	Type       string
	CoMentions []string
}

// CausalRelation references two units within the same extraction batch by
// index (spec.md §4.4: "references another unit in the same batch by
// index").
type CausalRelation struct {
	FromIndex int
	ToIndex   int
	LinkType  store.LinkType // one of causes/caused_by/enables/prevents
	Strength  float32
}

// Config bounds the temporal and semantic passes (spec.md §4.4).
type Config struct {
	TemporalWindow    time.Duration
	TemporalTopN      int
	SemanticTopK      int
	SemanticThreshold float32
}

func (c *Config) defaults() {
	if c.TemporalWindow == 0 {
		c.TemporalWindow = 24 * time.Hour
	}
	if c.TemporalTopN <= 0 {
		c.TemporalTopN = 10
	}
	if c.SemanticTopK <= 0 {
		c.SemanticTopK = 10
	}
	if c.SemanticThreshold == 0 {
		c.SemanticThreshold = 0.75
	}
}

// Builder runs the four bulk link-construction passes over a new batch.
type Builder struct {
	store    *store.Store
	resolver *entity.Resolver
	cfg      Config
}

// New creates a Builder for one bank's resolver and store.
func New(st *store.Store, resolver *entity.Resolver, cfg Config) *Builder {
	cfg.defaults()
	return &Builder{store: st, resolver: resolver, cfg: cfg}
}

// Build runs all four passes for a batch of newly written units, given
// the entity mentions and causal relations the extractor attached to them.
func (b *Builder) Build(ctx context.Context, bankID string, units []*store.MemoryUnit, mentions []EntityMention, causal []CausalRelation) error {
	if err := b.buildEntityLinks(ctx, bankID, units, mentions); err != nil {
		return fmt.Errorf("linkbuilder: entity pass: %w", err)
	}
	if err := b.buildTemporalLinks(ctx, bankID, units); err != nil {
		return fmt.Errorf("linkbuilder: temporal pass: %w", err)
	}
	if err := b.buildSemanticLinks(ctx, bankID, units); err != nil {
		return fmt.Errorf("linkbuilder: semantic pass: %w", err)
	}
	if err := b.buildCausalLinks(ctx, bankID, units, causal); err != nil {
		return fmt.Errorf("linkbuilder: causal pass: %w", err)
	}
	return nil
}

// buildEntityLinks resolves entities, records unit_entities, and generates
// bidirectional entity edges over all unordered pairs of units sharing an
// entity (spec.md §4.4 first bullet).
func (b *Builder) buildEntityLinks(ctx context.Context, bankID string, units []*store.MemoryUnit, mentions []EntityMention) error {
	if len(mentions) == 0 {
		return nil
	}
	candidates := make([]entity.Candidate, len(mentions))
	for i, m := range mentions {
		var occurredAt time.Time
		if m.UnitIndex >= 0 && m.UnitIndex < len(units) {
			occurredAt = units[m.UnitIndex].OccurredStart
		}
		candidates[i] = entity.Candidate{Text: m.Text, Type: m.Type, CoMentions: m.CoMentions, OccurredAt: occurredAt}
	}
	resolved, err := b.resolver.ResolveBatch(ctx, bankID, candidates)
	if err != nil {
		return err
	}

	unitsByEntity := map[string]map[string]bool{}
	for i, res := range resolved {
		m := mentions[i]
		if m.UnitIndex < 0 || m.UnitIndex >= len(units) {
			continue
		}
		unitID := units[m.UnitIndex].ID
		if unitsByEntity[res.EntityID] == nil {
			unitsByEntity[res.EntityID] = map[string]bool{}
		}
		unitsByEntity[res.EntityID][unitID] = true
	}

	for entityID, newUnitSet := range unitsByEntity {
		newUnitIDs := setToSlice(newUnitSet)
		if err := b.store.PutUnitEntities(ctx, bankID, entityID, newUnitIDs); err != nil {
			return err
		}
		allUnitIDs, err := b.store.UnitsForEntity(ctx, bankID, entityID)
		if err != nil {
			return err
		}
		links := allPairsLinks(allUnitIDs, entityID)
		if err := b.store.PutLinks(ctx, bankID, links); err != nil {
			return err
		}
	}
	return nil
}

func allPairsLinks(unitIDs []string, entityID string) []*store.MemoryLink {
	var out []*store.MemoryLink
	for i := 0; i < len(unitIDs); i++ {
		for j := i + 1; j < len(unitIDs); j++ {
			if unitIDs[i] == unitIDs[j] {
				continue // self-links skipped
			}
			out = append(out,
				&store.MemoryLink{FromUnitID: unitIDs[i], ToUnitID: unitIDs[j], LinkType: store.LinkEntity, Weight: 1, EntityID: entityID},
				&store.MemoryLink{FromUnitID: unitIDs[j], ToUnitID: unitIDs[i], LinkType: store.LinkEntity, Weight: 1, EntityID: entityID},
			)
		}
	}
	return out
}

// buildTemporalLinks fetches candidate neighbors once, then per new unit
// filters to its own ±W window and keeps up to TemporalTopN nearest,
// weighted max(0.3, 1-|Δt|/W) (spec.md §4.4 second bullet).
func (b *Builder) buildTemporalLinks(ctx context.Context, bankID string, units []*store.MemoryUnit) error {
	if len(units) == 0 {
		return nil
	}
	// The store has no occurred_start range index, so the "one query"
	// fetches every unit in the bank and filters in memory; acceptable
	// because link construction runs off the synchronous request path.
	all, err := b.store.ListUnits(ctx, bankID, store.ListUnitsOptions{})
	if err != nil {
		return err
	}
	W := b.cfg.TemporalWindow

	var links []*store.MemoryLink
	for _, u := range units {
		type scored struct {
			id    string
			delta time.Duration
		}
		var near []scored
		for _, o := range all {
			if o.ID == u.ID {
				continue
			}
			delta := o.OccurredStart.Sub(u.OccurredStart)
			if delta < 0 {
				delta = -delta
			}
			if delta > W {
				continue
			}
			near = append(near, scored{o.ID, delta})
		}
		sort.Slice(near, func(i, j int) bool { return near[i].delta < near[j].delta })
		if len(near) > b.cfg.TemporalTopN {
			near = near[:b.cfg.TemporalTopN]
		}
		for _, n := range near {
			weight := 1 - float32(n.delta)/float32(W)
			if weight < 0.3 {
				weight = 0.3
			}
			links = append(links, &store.MemoryLink{FromUnitID: u.ID, ToUnitID: n.id, LinkType: store.LinkTemporal, Weight: weight})
		}
	}
	return b.store.PutLinks(ctx, bankID, links)
}

// buildSemanticLinks fetches every embedded unit in the bank once, computes
// cosine similarity for each new unit, and keeps the top-K above threshold
// (spec.md §4.4 third bullet).
func (b *Builder) buildSemanticLinks(ctx context.Context, bankID string, units []*store.MemoryUnit) error {
	all, err := b.store.ListUnits(ctx, bankID, store.ListUnitsOptions{})
	if err != nil {
		return err
	}
	var links []*store.MemoryLink
	for _, u := range units {
		if len(u.Embedding) == 0 {
			continue
		}
		type scored struct {
			id  string
			sim float32
		}
		var ranked []scored
		for _, o := range all {
			if o.ID == u.ID || len(o.Embedding) == 0 {
				continue
			}
			sim := 1 - vecstore.CosineDistance(u.Embedding, o.Embedding)
			if sim < b.cfg.SemanticThreshold {
				continue
			}
			ranked = append(ranked, scored{o.ID, sim})
		}
		sort.Slice(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })
		if len(ranked) > b.cfg.SemanticTopK {
			ranked = ranked[:b.cfg.SemanticTopK]
		}
		for _, r := range ranked {
			links = append(links, &store.MemoryLink{FromUnitID: u.ID, ToUnitID: r.id, LinkType: store.LinkSemantic, Weight: r.sim})
		}
	}
	return b.store.PutLinks(ctx, bankID, links)
}

// buildCausalLinks materializes the extractor's causal_relations, which
// reference units by batch-relative index; out-of-range indices are
// skipped rather than failing the whole pass (spec.md §4.4 fourth bullet).
func (b *Builder) buildCausalLinks(ctx context.Context, bankID string, units []*store.MemoryUnit, relations []CausalRelation) error {
	if len(relations) == 0 {
		return nil
	}
	var links []*store.MemoryLink
	for _, rel := range relations {
		if rel.FromIndex < 0 || rel.FromIndex >= len(units) || rel.ToIndex < 0 || rel.ToIndex >= len(units) {
			continue // invalid index: skipped
		}
		links = append(links, &store.MemoryLink{
			FromUnitID: units[rel.FromIndex].ID,
			ToUnitID:   units[rel.ToIndex].ID,
			LinkType:   rel.LinkType,
			Weight:     rel.Strength,
		})
	}
	return b.store.PutLinks(ctx, bankID, links)
}

func setToSlice(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
