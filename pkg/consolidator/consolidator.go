// Package consolidator implements the Observation Consolidator (spec.md
// §4.7): it synthesizes an entity's most relevant units into a compact
// "mental model" of observation-typed units, replacing any prior ones.
//
// It follows the same FuncTool-constrained-call shape as the teacher's
// pkg/genx/profilers.GenX.
package consolidator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hindsight-ai/hindsight-go/internal/store"
	"github.com/hindsight-ai/hindsight-go/pkg/genx"
	"github.com/hindsight-ai/hindsight-go/pkg/llm"
)

// Embedder produces a single embedding vector for an observation unit.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config bounds the consolidator's unit fetch and token budget.
type Config struct {
	Scope       string
	MaxUnits    int // K most recent/most-linked units considered
	TokenBudget int // ~4 chars/token heuristic, matching the pack's convention
}

func (c *Config) defaults() {
	if c.Scope == "" {
		c.Scope = "observation_consolidation"
	}
	if c.MaxUnits <= 0 {
		c.MaxUnits = 40
	}
	if c.TokenBudget <= 0 {
		c.TokenBudget = 2000
	}
}

type observationArg struct {
	Text string `json:"text"`
}

type consolidateArg struct {
	Observations []observationArg `json:"observations"`
}

var consolidateTool = genx.MustNewFuncTool[consolidateArg](
	"consolidate_observations",
	"Synthesize a compact sequence of observations summarizing an entity's mental model.",
)

// Consolidator runs the observation refresh for one entity at a time,
// serialized per-entity to avoid two concurrent refreshes racing on the
// same observation unit set (spec.md §4.7's implicit per-entity lock).
type Consolidator struct {
	store    *store.Store
	gw       *llm.Gateway
	embedder Embedder
	cfg      Config

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a Consolidator.
func New(st *store.Store, gw *llm.Gateway, embedder Embedder, cfg Config) *Consolidator {
	cfg.defaults()
	return &Consolidator{store: st, gw: gw, embedder: embedder, cfg: cfg, locks: make(map[string]*sync.Mutex)}
}

func (c *Consolidator) lockFor(bankID, entityID string) *sync.Mutex {
	key := bankID + "\x1f" + entityID
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	if m, ok := c.locks[key]; ok {
		return m
	}
	m := &sync.Mutex{}
	c.locks[key] = m
	return m
}

// Regenerate refreshes an entity's observation units (spec.md §4.7: "runs
// on explicit regenerate calls and optionally on a post-consolidation
// trigger").
func (c *Consolidator) Regenerate(ctx context.Context, bankID, entityID string) error {
	mu := c.lockFor(bankID, entityID)
	mu.Lock()
	defer mu.Unlock()

	entity, err := c.store.GetEntity(ctx, bankID, entityID)
	if err != nil {
		return fmt.Errorf("consolidator: %w", err)
	}

	unitIDs, err := c.store.UnitsForEntity(ctx, bankID, entityID)
	if err != nil {
		return err
	}
	units, err := c.store.GetUnits(ctx, bankID, unitIDs)
	if err != nil {
		return err
	}
	sourceUnits, err := c.selectTopUnits(ctx, bankID, units)
	if err != nil {
		return err
	}
	if len(sourceUnits) == 0 {
		return nil
	}

	observations, err := c.synthesize(ctx, entity, sourceUnits)
	if err != nil {
		return fmt.Errorf("consolidator: synthesize: %w", err)
	}

	priorObs, err := c.store.ObservationsForEntity(ctx, bankID, entityID)
	if err != nil {
		return err
	}
	if len(priorObs) > 0 {
		priorIDs := make([]string, len(priorObs))
		for i, u := range priorObs {
			priorIDs[i] = u.ID
		}
		if err := c.store.DeleteUnits(ctx, bankID, priorIDs); err != nil {
			return err
		}
	}

	sourceLinks := collectLinkTypes(ctx, c.store, bankID, sourceUnits)

	now := time.Now().UTC()
	newUnits := make([]*store.MemoryUnit, 0, len(observations))
	for _, obsText := range observations {
		emb, err := c.embedder.Embed(ctx, obsText)
		if err != nil {
			return fmt.Errorf("consolidator: embed: %w", err)
		}
		newUnits = append(newUnits, &store.MemoryUnit{
			ID:                  store.NewUnitID(),
			BankID:              bankID,
			Text:                obsText,
			FactType:            store.FactObservation,
			Embedding:           emb,
			OccurredStart:       now,
			OccurredEnd:         now,
			MentionedAt:         now,
			ObservationEntityID: entityID,
			Metadata:            map[string]string{"entity_id": entityID},
			CreatedAt:           now,
		})
	}
	if err := c.store.PutUnits(ctx, newUnits); err != nil {
		return err
	}
	if err := c.store.IndexUnitsFulltext(ctx, newUnits); err != nil {
		return err
	}
	if err := c.store.PutUnitEntities(ctx, bankID, entityID, unitIDsOf(newUnits)); err != nil {
		return err
	}

	// Copy the entity link set from source facts onto each new observation
	// (spec.md §4.7: "copies the entity link set from source facts onto
	// each new observation").
	var links []*store.MemoryLink
	for _, lt := range sourceLinks {
		for _, newUnit := range newUnits {
			for _, src := range sourceUnits {
				links = append(links,
					&store.MemoryLink{FromUnitID: newUnit.ID, ToUnitID: src.ID, LinkType: lt, Weight: 0.5, EntityID: entityID},
				)
			}
		}
	}
	return c.store.PutLinks(ctx, bankID, links)
}

// selectTopUnits keeps the K most recent and most-linked units, bounded by
// an approximate token budget (spec.md §4.7).
func (c *Consolidator) selectTopUnits(ctx context.Context, bankID string, units []*store.MemoryUnit) ([]*store.MemoryUnit, error) {
	type scored struct {
		unit     *store.MemoryUnit
		linkCount int
	}
	scoredUnits := make([]scored, 0, len(units))
	for _, u := range units {
		links, err := c.store.LinksFrom(ctx, bankID, u.ID, nil)
		if err != nil {
			return nil, err
		}
		scoredUnits = append(scoredUnits, scored{u, len(links)})
	}
	sort.Slice(scoredUnits, func(i, j int) bool {
		a, b := scoredUnits[i], scoredUnits[j]
		if a.linkCount != b.linkCount {
			return a.linkCount > b.linkCount
		}
		return a.unit.MentionedAt.After(b.unit.MentionedAt)
	})
	if len(scoredUnits) > c.cfg.MaxUnits {
		scoredUnits = scoredUnits[:c.cfg.MaxUnits]
	}

	budgetChars := c.cfg.TokenBudget * 4
	used := 0
	out := make([]*store.MemoryUnit, 0, len(scoredUnits))
	for _, s := range scoredUnits {
		if used+len(s.unit.Text) > budgetChars {
			break
		}
		used += len(s.unit.Text)
		out = append(out, s.unit)
	}
	return out, nil
}

func (c *Consolidator) synthesize(ctx context.Context, e *store.Entity, units []*store.MemoryUnit) ([]string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Entity: %s (mentioned %d times)\n", e.CanonicalName, e.MentionCount)
	b.WriteString("Source facts:\n")
	for _, u := range units {
		fmt.Fprintf(&b, "- [%s] %s\n", u.FactType, u.Text)
	}
	b.WriteString("\nSynthesize a compact sequence of observations (a mental model) about this entity, " +
		"written in first person if the entity is the agent itself, third person otherwise.")

	res, err := c.gw.Complete(ctx, llm.Request{
		Scope: c.cfg.Scope,
		Messages: []llm.Message{
			{Role: genx.RoleUser, Content: b.String()},
		},
		Tool: consolidateTool,
	})
	if err != nil {
		return nil, err
	}
	var arg consolidateArg
	if err := json.Unmarshal([]byte(res.Args), &arg); err != nil {
		return nil, err
	}
	out := make([]string, len(arg.Observations))
	for i, o := range arg.Observations {
		out[i] = o.Text
	}
	return out, nil
}

func unitIDsOf(units []*store.MemoryUnit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.ID
	}
	return out
}

func collectLinkTypes(ctx context.Context, st *store.Store, bankID string, units []*store.MemoryUnit) []store.LinkType {
	seen := map[store.LinkType]bool{}
	var out []store.LinkType
	for _, u := range units {
		links, err := st.LinksFrom(ctx, bankID, u.ID, nil)
		if err != nil {
			continue
		}
		for _, l := range links {
			if l.LinkType == store.LinkEntity {
				continue // entity edges are regenerated by PutUnitEntities/linkbuilder, not copied
			}
			if !seen[l.LinkType] {
				seen[l.LinkType] = true
				out = append(out, l.LinkType)
			}
		}
	}
	return out
}
