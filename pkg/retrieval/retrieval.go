// Package retrieval implements the Retrieval Planner (spec.md §4.8):
// multi-source candidate generation, budget-tiered graph expansion, score
// fusion, temporal deprioritization, and token-budgeted greedy assembly.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hindsight-ai/hindsight-go/internal/config"
	"github.com/hindsight-ai/hindsight-go/internal/store"
)

// Embedder produces a single embedding vector for the query text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Budget names a qualitative retrieval tier (spec.md §4.8's table).
type Budget string

const (
	BudgetLow  Budget = "low"
	BudgetMid  Budget = "mid"
	BudgetHigh Budget = "high"
)

// Request is one recall call's input (spec.md §4.8).
type Request struct {
	Query           string
	Types           []store.FactType
	Budget          Budget
	MaxTokens       int
	Filter          *Filter
	QueryTimestamp  time.Time
	IncludeEntities bool
	MaxEntityTokens int
	Trace           bool
}

// EntitySidebar is the observation set for one entity referenced by the
// assembled results (spec.md §4.8: "Entity sidebar").
type EntitySidebar struct {
	EntityID     string
	Observations []*store.MemoryUnit
}

// TraceEntry records one seed's provenance (spec.md §4.8: "Trace").
type TraceEntry struct {
	UnitID string
	Source string // "vector", "lexical", "entity", "graph", or "fused" for assembled results
	Score  float64
}

// Result is the assembled recall response.
type Result struct {
	Units     []*store.MemoryUnit
	Entities  []EntitySidebar
	Trace     []TraceEntry
}

// Planner runs recall over a single bank.
type Planner struct {
	store    *store.Store
	embedder Embedder
	budgets  config.BudgetTable
	fusion   config.Fusion
	horizon  time.Duration
	decay    float64
}

// Config configures a Planner.
type Config struct {
	Budgets        config.BudgetTable
	Fusion         config.Fusion
	RecencyHorizon time.Duration
	Decay          float64 // graph-expansion weight decay per hop, default 0.7
}

func (c *Config) defaults() {
	if c.Budgets == nil {
		c.Budgets = config.DefaultBudgetTable()
	}
	if c.Fusion == (config.Fusion{}) {
		c.Fusion = config.Fusion{Alpha: 0.5, Beta: 0.2, Gamma: 0.2, Delta: 0.1}
	}
	if c.RecencyHorizon == 0 {
		c.RecencyHorizon = 30 * 24 * time.Hour
	}
	if c.Decay == 0 {
		c.Decay = 0.7
	}
}

// New creates a Planner.
func New(st *store.Store, embedder Embedder, cfg Config) *Planner {
	cfg.defaults()
	return &Planner{store: st, embedder: embedder, budgets: cfg.Budgets, fusion: cfg.Fusion, horizon: cfg.RecencyHorizon, decay: cfg.Decay}
}

type candidate struct {
	unit        *store.MemoryUnit
	sim         float64
	lexical     float64
	graphWeight float64
	sources     []string
}

// Recall implements the full planner contract (spec.md §4.8).
func (p *Planner) Recall(ctx context.Context, bankID string, req Request) (*Result, error) {
	tier, ok := p.budgets[string(req.Budget)]
	if !ok {
		tier = p.budgets["mid"]
	}

	candidates := map[string]*candidate{}
	var trace []TraceEntry
	var mu sync.Mutex

	record := func(u *store.MemoryUnit, source string, update func(*candidate)) {
		mu.Lock()
		defer mu.Unlock()
		c, ok := candidates[u.ID]
		if !ok {
			c = &candidate{unit: u}
			candidates[u.ID] = c
		}
		c.sources = append(c.sources, source)
		update(c)
		if req.Trace {
			trace = append(trace, TraceEntry{UnitID: u.ID, Source: source})
		}
	}

	var wg sync.WaitGroup
	var vecErr, lexErr, entErr error

	wg.Add(3)
	go func() {
		defer wg.Done()
		vecErr = p.vectorSeeds(ctx, bankID, req, tier.SeedsPerSource, record)
	}()
	go func() {
		defer wg.Done()
		lexErr = p.lexicalSeeds(ctx, bankID, req, tier.SeedsPerSource, record)
	}()
	go func() {
		defer wg.Done()
		entErr = p.entitySeeds(ctx, bankID, req, tier.SeedsPerSource, record)
	}()
	wg.Wait()
	if vecErr != nil {
		return nil, fmt.Errorf("retrieval: vector seeds: %w", vecErr)
	}
	if lexErr != nil {
		return nil, fmt.Errorf("retrieval: lexical seeds: %w", lexErr)
	}
	if entErr != nil {
		return nil, fmt.Errorf("retrieval: entity seeds: %w", entErr)
	}

	if tier.GraphDepth > 0 {
		if err := p.expandGraph(ctx, bankID, candidates, tier.GraphDepth, tier.Fanout, record); err != nil {
			return nil, fmt.Errorf("retrieval: graph expansion: %w", err)
		}
	}

	ranked := p.fuseAndRank(candidates, req.QueryTimestamp)

	units, assembleTrace := p.assemble(ranked, req.MaxTokens)
	trace = append(trace, assembleTrace...)

	result := &Result{Units: units}
	if req.Trace {
		result.Trace = trace
	}
	if req.IncludeEntities {
		sidebars, err := p.entitySidebar(ctx, bankID, units, req.MaxEntityTokens)
		if err != nil {
			return nil, fmt.Errorf("retrieval: entity sidebar: %w", err)
		}
		result.Entities = sidebars
	}
	return result, nil
}

func (p *Planner) vectorSeeds(ctx context.Context, bankID string, req Request, n int, record func(*store.MemoryUnit, string, func(*candidate))) error {
	if req.Query == "" {
		return nil
	}
	emb, err := p.embedder.Embed(ctx, req.Query)
	if err != nil {
		return err
	}
	matches, err := p.store.VectorSearch(bankID, emb, n)
	if err != nil {
		return err
	}
	for _, m := range matches {
		u, err := p.store.GetUnit(ctx, bankID, m.ID)
		if err != nil {
			continue
		}
		if !typeAllowed(u, req.Types) || !req.filterMatch(u) {
			continue
		}
		sim := float64(1 - m.Distance)
		record(u, "vector", func(c *candidate) {
			if sim > c.sim {
				c.sim = sim
			}
		})
	}
	return nil
}

func (p *Planner) lexicalSeeds(ctx context.Context, bankID string, req Request, n int, record func(*store.MemoryUnit, string, func(*candidate))) error {
	if req.Query == "" {
		return nil
	}
	ids, err := p.store.LexicalMatch(ctx, bankID, req.Query, n)
	if err != nil {
		return err
	}
	for rank, id := range ids {
		u, err := p.store.GetUnit(ctx, bankID, id)
		if err != nil {
			continue
		}
		if !typeAllowed(u, req.Types) || !req.filterMatch(u) {
			continue
		}
		score := 1.0 - float64(rank)/float64(len(ids)+1)
		record(u, "lexical", func(c *candidate) {
			if score > c.lexical {
				c.lexical = score
			}
		})
	}
	return nil
}

func (p *Planner) entitySeeds(ctx context.Context, bankID string, req Request, n int, record func(*store.MemoryUnit, string, func(*candidate))) error {
	if req.Query == "" {
		return nil
	}
	e, err := p.store.FindEntityByName(ctx, bankID, req.Query)
	if err != nil {
		return nil // no entity match: not an error
	}
	unitIDs, err := p.store.UnitsForEntity(ctx, bankID, e.ID)
	if err != nil {
		return err
	}
	if len(unitIDs) > n {
		unitIDs = unitIDs[:n]
	}
	for _, id := range unitIDs {
		u, err := p.store.GetUnit(ctx, bankID, id)
		if err != nil {
			continue
		}
		if !typeAllowed(u, req.Types) || !req.filterMatch(u) {
			continue
		}
		record(u, "entity", func(c *candidate) {
			if c.graphWeight < 1 {
				c.graphWeight = 1
			}
		})
	}
	return nil
}

// expandGraph traverses entity and semantic edges from the seed set up to
// depth hops, bounded by fanout per step, accumulating
// w ← w_seed · Π edge_weight · decay^hop (spec.md §4.8).
func (p *Planner) expandGraph(ctx context.Context, bankID string, candidates map[string]*candidate, depth, fanout int, record func(*store.MemoryUnit, string, func(*candidate))) error {
	type frontierItem struct {
		unitID string
		weight float64
	}
	var frontier []frontierItem
	for id, c := range candidates {
		seedWeight := c.sim
		if c.lexical > seedWeight {
			seedWeight = c.lexical
		}
		if c.graphWeight > seedWeight {
			seedWeight = c.graphWeight
		}
		if seedWeight == 0 {
			seedWeight = 0.5
		}
		frontier = append(frontier, frontierItem{id, seedWeight})
	}

	visited := map[string]bool{}
	for id := range candidates {
		visited[id] = true
	}

	for hop := 1; hop <= depth; hop++ {
		var next []frontierItem
		for _, item := range frontier {
			links, err := p.store.LinksFrom(ctx, bankID, item.unitID, []store.LinkType{store.LinkEntity, store.LinkSemantic})
			if err != nil {
				return err
			}
			sort.Slice(links, func(i, j int) bool { return links[i].Weight > links[j].Weight })
			if len(links) > fanout {
				links = links[:fanout]
			}
			for _, l := range links {
				if visited[l.ToUnitID] {
					continue
				}
				u, err := p.store.GetUnit(ctx, bankID, l.ToUnitID)
				if err != nil {
					continue
				}
				w := item.weight * float64(l.Weight) * pow(p.decay, hop)
				record(u, "graph", func(c *candidate) {
					if w > c.graphWeight {
						c.graphWeight = w
					}
				})
				visited[l.ToUnitID] = true
				next = append(next, frontierItem{l.ToUnitID, w})
			}
		}
		frontier = next
	}
	return nil
}

func pow(base float64, exp int) float64 {
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}

type ranked struct {
	unit  *store.MemoryUnit
	score float64
}

// fuseAndRank scores each unit as max over its sources of
// α·sim + β·lexical + γ·graph_weight + δ·recency, deprioritizing units
// whose occurred_end predates query_timestamp−horizon (spec.md §4.8).
func (p *Planner) fuseAndRank(candidates map[string]*candidate, queryTimestamp time.Time) []ranked {
	out := make([]ranked, 0, len(candidates))
	for _, c := range candidates {
		recency := p.recencyScore(c.unit.MentionedAt, queryTimestamp)
		score := p.fusion.Alpha*c.sim + p.fusion.Beta*c.lexical + p.fusion.Gamma*c.graphWeight + p.fusion.Delta*recency
		if !queryTimestamp.IsZero() && c.unit.OccurredEnd.Before(queryTimestamp.Add(-p.horizon)) {
			score *= 0.5
		}
		out = append(out, ranked{c.unit, score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if !out[i].unit.MentionedAt.Equal(out[j].unit.MentionedAt) {
			return out[i].unit.MentionedAt.After(out[j].unit.MentionedAt)
		}
		return out[i].unit.ID < out[j].unit.ID
	})
	return out
}

func (p *Planner) recencyScore(mentionedAt, queryTimestamp time.Time) float64 {
	if queryTimestamp.IsZero() {
		queryTimestamp = time.Now().UTC()
	}
	age := queryTimestamp.Sub(mentionedAt)
	if age < 0 {
		age = 0
	}
	// Hyperbolic falloff over the recency horizon: 1 at query time, 0.5 at
	// one horizon of age, tending to 0 as age grows.
	halfLives := age.Seconds() / p.horizon.Seconds()
	return 1.0 / (1.0 + halfLives)
}

// assemble walks the ranked list and greedily includes units whose token
// estimate fits the remaining budget (spec.md §4.8).
func (p *Planner) assemble(rankedUnits []ranked, maxTokens int) ([]*store.MemoryUnit, []TraceEntry) {
	var out []*store.MemoryUnit
	var trace []TraceEntry
	used := 0
	for _, r := range rankedUnits {
		cost := estimateTokens(r.unit.Text)
		if maxTokens > 0 && used+cost > maxTokens {
			continue
		}
		used += cost
		out = append(out, r.unit)
		trace = append(trace, TraceEntry{UnitID: r.unit.ID, Source: "fused", Score: r.score})
		if maxTokens > 0 && used >= maxTokens {
			break
		}
	}
	return out, trace
}

// entitySidebar fetches each included unit's referenced entities'
// observations, bounded by maxEntityTokens (spec.md §4.8).
func (p *Planner) entitySidebar(ctx context.Context, bankID string, units []*store.MemoryUnit, maxEntityTokens int) ([]EntitySidebar, error) {
	seen := map[string]bool{}
	var out []EntitySidebar
	for _, u := range units {
		entityIDs, err := p.store.EntitiesForUnit(ctx, bankID, u.ID)
		if err != nil {
			return nil, err
		}
		for _, id := range entityIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			obs, err := p.store.ObservationsForEntity(ctx, bankID, id)
			if err != nil {
				return nil, err
			}
			obs = boundByTokens(obs, maxEntityTokens)
			out = append(out, EntitySidebar{EntityID: id, Observations: obs})
		}
	}
	return out, nil
}

func boundByTokens(units []*store.MemoryUnit, maxTokens int) []*store.MemoryUnit {
	if maxTokens <= 0 {
		return units
	}
	used := 0
	out := units[:0]
	for _, u := range units {
		cost := estimateTokens(u.Text)
		if used+cost > maxTokens {
			break
		}
		used += cost
		out = append(out, u)
	}
	return out
}

// estimateTokens uses the ~4-characters-per-token heuristic common across
// the example pack's own context-budgeting code.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 {
		return 1
	}
	return n
}

func typeAllowed(u *store.MemoryUnit, types []store.FactType) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if u.FactType == t {
			return true
		}
	}
	return false
}

func (r Request) filterMatch(u *store.MemoryUnit) bool {
	if r.Filter == nil {
		return true
	}
	return r.Filter.Match(u.Metadata)
}
