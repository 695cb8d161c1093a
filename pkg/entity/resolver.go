// Package entity implements the Entity Resolver (spec.md §4.3): given a
// candidate surface form, it returns a stable entity_id by exact
// canonical-name match, then lexical+embedding neighbor search, then LLM
// arbitration, creating a new entity row only on a genuine miss.
//
// The lexical pass reuses the teacher pack's dual-purpose Aho-Corasick
// dictionary shape (KittClouds-Go-Machine-n's implicit-matcher package):
// one automaton built from canonical names serves both exact dictionary
// lookup and substring scanning.
package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/coregx/ahocorasick"
	"github.com/hindsight-ai/hindsight-go/internal/store"
	"github.com/hindsight-ai/hindsight-go/pkg/genx"
	"github.com/hindsight-ai/hindsight-go/pkg/llm"
	"github.com/hindsight-ai/hindsight-go/pkg/vecstore"
)

// Embedder produces a single embedding vector for a surface form, the same
// one-text-in-one-vector-out shape as pkg/embed.Embedder.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Candidate is a surface form awaiting resolution (spec.md §4.3: "text,
// coarse type, nearby co-mentions").
type Candidate struct {
	Text        string
	Type        string
	CoMentions  []string
	OccurredAt  time.Time
}

// Resolved pairs a candidate with the entity it resolved to.
type Resolved struct {
	Candidate Candidate
	EntityID  string
}

// Resolver is the entity resolution surface over a single bank.
type Resolver struct {
	store    *store.Store
	gw       *llm.Gateway
	embedder Embedder
	scope    string

	// topN bounds the lexical+embedding neighbor candidates shown to the
	// LLM arbiter (spec.md §4.3 step 2: "top-N lexical+embedding
	// neighbors").
	topN int
}

// Config configures a Resolver.
type Config struct {
	Gateway  *llm.Gateway
	Embedder Embedder
	Scope    string // llm.Request.Scope used for arbitration calls
	TopN     int
}

// New creates a Resolver bound to a bank-scoped store.
func New(st *store.Store, cfg Config) *Resolver {
	if cfg.TopN <= 0 {
		cfg.TopN = 5
	}
	if cfg.Scope == "" {
		cfg.Scope = "entity_resolution"
	}
	return &Resolver{store: st, gw: cfg.Gateway, embedder: cfg.Embedder, scope: cfg.Scope, topN: cfg.TopN}
}

type arbitrationArg struct {
	Decision      string `json:"decision"` // "existing" or "new"
	EntityID      string `json:"entity_id,omitempty"`
	CanonicalName string `json:"canonical_name"`
}

var arbitrationTool = genx.MustNewFuncTool[arbitrationArg](
	"resolve_entity",
	"Decide whether a mentioned entity refers to an existing entity or a new one.",
)

// ResolveBatch resolves a batch of candidates grouped by occurrence date,
// guaranteeing that candidates in the batch sharing a normalized name
// collapse to the same entity_id (spec.md §4.3: "the batch contract
// guarantees that entities emitted in the same batch with the same
// normalized name collapse to the same entity_id").
func (r *Resolver) ResolveBatch(ctx context.Context, bankID string, candidates []Candidate) ([]Resolved, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	entities, err := r.store.ListEntities(ctx, bankID)
	if err != nil {
		return nil, err
	}
	dict := buildDictionary(entities)

	out := make([]Resolved, len(candidates))
	withinBatch := map[string]string{} // normalized name -> entity_id, this batch only
	touched := map[string]time.Time{}  // entity_id -> latest OccurredAt seen this batch

	for i, c := range candidates {
		norm := normalize(c.Text)
		if id, ok := withinBatch[norm]; ok {
			out[i] = Resolved{Candidate: c, EntityID: id}
			if c.OccurredAt.After(touched[id]) {
				touched[id] = c.OccurredAt
			}
			continue
		}

		id, err := r.resolveOne(ctx, bankID, c, entities, dict)
		if err != nil {
			return nil, err
		}
		withinBatch[norm] = id
		out[i] = Resolved{Candidate: c, EntityID: id}
		touched[id] = c.OccurredAt
	}

	// Writing unit_entities rows in bulk happens in the caller
	// (pkg/linkbuilder's entity pass), which has the unit IDs; this loop
	// only bumps mention bookkeeping.
	for id, seenAt := range touched {
		var emb []float32
		for _, c := range candidates {
			if withinBatch[normalize(c.Text)] == id {
				emb, _ = r.embed(ctx, c.Text)
				break
			}
		}
		if err := r.store.BumpMention(ctx, bankID, id, seenAt, emb); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Resolver) resolveOne(ctx context.Context, bankID string, c Candidate, entities []*store.Entity, dict *ahocorasick.Automaton) (string, error) {
	norm := normalize(c.Text)

	if e, err := r.store.FindEntityByName(ctx, bankID, norm); err == nil {
		return e.ID, nil
	}

	lexIDs := lexicalCandidates(dict, entities, c.Text)
	embIDs, embErr := r.embeddingCandidates(ctx, entities, c.Text)
	candidateIDs := mergeUnique(lexIDs, embIDs, r.topN)

	if len(candidateIDs) == 0 && embErr != nil {
		// No LLM-worthy candidates and no embedding signal either: a bare
		// miss, create directly without spending an arbitration call.
		return r.createFromSurface(ctx, bankID, c)
	}

	decision, err := r.arbitrate(ctx, bankID, c, candidateIDs, entities)
	if err != nil {
		// spec.md §4.3 Failure: "on LLM error, fall back to create-new
		// using the raw surface form as canonical name; log and continue."
		return r.createFromSurface(ctx, bankID, c)
	}
	if decision.Decision == "existing" && decision.EntityID != "" {
		if _, err := r.store.GetEntity(ctx, bankID, decision.EntityID); err == nil {
			return decision.EntityID, nil
		}
	}
	name := decision.CanonicalName
	if name == "" {
		name = c.Text
	}
	return r.createNamed(ctx, bankID, name, c)
}

func (r *Resolver) createFromSurface(ctx context.Context, bankID string, c Candidate) (string, error) {
	return r.createNamed(ctx, bankID, c.Text, c)
}

func (r *Resolver) createNamed(ctx context.Context, bankID, name string, c Candidate) (string, error) {
	emb, _ := r.embed(ctx, c.Text)
	e, err := r.store.CreateEntity(ctx, bankID, name, emb)
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

func (r *Resolver) embed(ctx context.Context, text string) ([]float32, error) {
	if r.embedder == nil {
		return nil, fmt.Errorf("entity: no embedder configured")
	}
	return r.embedder.Embed(ctx, text)
}

func (r *Resolver) embeddingCandidates(ctx context.Context, entities []*store.Entity, text string) ([]string, error) {
	emb, err := r.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	type scored struct {
		id   string
		dist float32
	}
	var scoredList []scored
	for _, e := range entities {
		if len(e.Embedding) == 0 {
			continue
		}
		scoredList = append(scoredList, scored{e.ID, vecstore.CosineDistance(emb, e.Embedding)})
	}
	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].dist < scoredList[j].dist })
	if len(scoredList) > r.topN {
		scoredList = scoredList[:r.topN]
	}
	out := make([]string, len(scoredList))
	for i, s := range scoredList {
		out[i] = s.id
	}
	return out, nil
}

func (r *Resolver) arbitrate(ctx context.Context, bankID string, c Candidate, candidateIDs []string, entities []*store.Entity) (*arbitrationArg, error) {
	byID := make(map[string]*store.Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Mentioned entity: %q (type hint: %s)\n", c.Text, c.Type)
	if len(c.CoMentions) > 0 {
		fmt.Fprintf(&b, "Co-mentioned nearby: %s\n", strings.Join(c.CoMentions, ", "))
	}
	b.WriteString("Candidate existing entities:\n")
	for _, id := range candidateIDs {
		if e := byID[id]; e != nil {
			fmt.Fprintf(&b, "- id=%s name=%q mentions=%d\n", e.ID, e.CanonicalName, e.MentionCount)
		}
	}
	b.WriteString("Return decision=\"existing\" with entity_id set, or decision=\"new\" with a clean canonical_name.")

	res, err := r.gw.Complete(ctx, llm.Request{
		Scope: r.scope,
		Messages: []llm.Message{
			{Role: genx.RoleUser, Content: b.String()},
		},
		Tool: arbitrationTool,
	})
	if err != nil {
		return nil, err
	}
	var arg arbitrationArg
	if err := json.Unmarshal([]byte(res.Args), &arg); err != nil {
		return nil, err
	}
	return &arg, nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func buildDictionary(entities []*store.Entity) *ahocorasick.Automaton {
	patterns := make([]string, 0, len(entities))
	for _, e := range entities {
		patterns = append(patterns, normalize(e.CanonicalName))
	}
	if len(patterns) == 0 {
		return nil
	}
	ac, err := ahocorasick.NewBuilder().
		AddStrings(patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil
	}
	return ac
}

func lexicalCandidates(dict *ahocorasick.Automaton, entities []*store.Entity, text string) []string {
	if dict == nil {
		return nil
	}
	matches := dict.FindAllOverlapping([]byte(normalize(text)))
	if len(matches) == 0 {
		return nil
	}
	patterns := make([]string, 0, len(entities))
	for _, e := range entities {
		patterns = append(patterns, normalize(e.CanonicalName))
	}
	seen := map[string]bool{}
	var out []string
	for _, m := range matches {
		if m.PatternID < 0 || m.PatternID >= len(patterns) {
			continue
		}
		matched := patterns[m.PatternID]
		for _, e := range entities {
			if normalize(e.CanonicalName) == matched && !seen[e.ID] {
				seen[e.ID] = true
				out = append(out, e.ID)
			}
		}
	}
	return out
}

func mergeUnique(a, b []string, limit int) []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range a {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range b {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
