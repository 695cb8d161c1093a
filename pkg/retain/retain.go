// Package retain implements the Retain Pipeline (spec.md §4.6): extraction,
// deduplication, embedding, persistence, and link construction for a batch
// of ingested items.
package retain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hindsight-ai/hindsight-go/internal/store"
	"github.com/hindsight-ai/hindsight-go/pkg/entity"
	"github.com/hindsight-ai/hindsight-go/pkg/extractor"
	"github.com/hindsight-ai/hindsight-go/pkg/linkbuilder"
)

// Embedder produces a single embedding vector, the same shape as
// pkg/embed.Embedder.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Item is one unit of raw content to retain (spec.md §4.6).
type Item struct {
	Content   string
	Timestamp time.Time
	Context   string
	Metadata  map[string]string
}

// Request is one retain call's input.
type Request struct {
	BankID     string
	Items      []Item
	DocumentID string // optional
}

// ObservationQueue is notified when a survivor mentions an entity the
// Consolidator should refresh (spec.md §4.6 step 7). Implementations are
// expected to be non-blocking; a nil queue simply skips the hook.
type ObservationQueue interface {
	Enqueue(ctx context.Context, bankID, entityID string) error
}

// Result summarizes one retain call.
type Result struct {
	UnitsWritten   int
	UnitsDeduped   int
	DocumentID     string
}

// Config carries the dedup threshold and link-builder tuning (spec.md §4.6
// step 3, §4.4).
type Config struct {
	DedupThreshold float32
	Links          linkbuilder.Config
}

func (c *Config) defaults() {
	if c.DedupThreshold == 0 {
		c.DedupThreshold = 0.95
	}
}

// Pipeline runs the Retain Pipeline against one store.
type Pipeline struct {
	store      *store.Store
	extractor  *extractor.Extractor
	resolver   *entity.Resolver
	embedder   Embedder
	cfg        Config
	obs        ObservationQueue
}

// New creates a Pipeline. obs may be nil.
func New(st *store.Store, ext *extractor.Extractor, resolver *entity.Resolver, embedder Embedder, cfg Config, obs ObservationQueue) *Pipeline {
	cfg.defaults()
	return &Pipeline{store: st, extractor: ext, resolver: resolver, embedder: embedder, cfg: cfg, obs: obs}
}

// Run executes the full pipeline synchronously (spec.md §4.6: "the sync
// entry point awaits the full pipeline").
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if len(req.Items) == 0 {
		return &Result{DocumentID: req.DocumentID}, nil
	}

	bank, err := p.store.GetOrCreateBank(ctx, req.BankID)
	if err != nil {
		return nil, fmt.Errorf("retain: %w", err)
	}

	if req.DocumentID != "" {
		if err := p.store.UpsertDocumentReset(ctx, req.BankID, req.DocumentID); err != nil {
			return nil, fmt.Errorf("retain: reset document: %w", err)
		}
	}

	type pending struct {
		fact     extractor.Fact
		context  string
		metadata map[string]string
	}
	var all []pending
	var causal []linkbuilder.CausalRelation
	var mentions []linkbuilder.EntityMention
	var contentForHash string

	for _, item := range req.Items {
		eventDate := item.Timestamp
		if eventDate.IsZero() {
			eventDate = time.Now().UTC()
		}
		res, err := p.extractor.Extract(ctx, extractor.Request{
			Content:   item.Content,
			Context:   item.Context,
			EventDate: eventDate,
			BankName:  bank.Name,
		})
		if err != nil {
			return nil, fmt.Errorf("retain: extract: %w", err)
		}
		if len(res.Facts) == 0 && strings.TrimSpace(item.Content) != "" {
			// spec.md §7: never silently drop user-submitted content — if
			// extraction yields nothing, store the trimmed source text
			// verbatim as a single world fact.
			res.Facts = []extractor.Fact{{
				Text:          strings.TrimSpace(item.Content),
				FactType:      store.FactWorld,
				OccurredStart: eventDate,
				OccurredEnd:   eventDate,
			}}
		}

		offset := len(all)
		for _, c := range res.Causal {
			causal = append(causal, linkbuilder.CausalRelation{
				FromIndex: c.FromIndex + offset,
				ToIndex:   c.ToIndex + offset,
				LinkType:  c.LinkType,
				Strength:  c.Strength,
			})
		}
		for _, f := range res.Facts {
			for _, m := range f.Entities {
				mentions = append(mentions, linkbuilder.EntityMention{
					UnitIndex:  offset + m.UnitIndex,
					Text:       m.Text,
					Type:       m.Type,
					CoMentions: m.CoMentions,
				})
			}
			all = append(all, pending{fact: f, context: item.Context, metadata: item.Metadata})
		}
		contentForHash += item.Content
	}

	survivors := make([]*store.MemoryUnit, 0, len(all))
	survivorIndex := make(map[int]int, len(all))
	deduped := 0
	now := time.Now().UTC()
	for i, pend := range all {
		f := pend.fact
		emb, err := p.embedder.Embed(ctx, f.Text)
		if err != nil {
			return nil, fmt.Errorf("retain: embed: %w", err)
		}

		if dup, err := p.findDuplicate(ctx, req.BankID, f, emb); err != nil {
			return nil, err
		} else if dup != nil {
			deduped++
			mentions = dropMentionsFor(mentions, i)
			if len(pend.metadata) > 0 {
				if err := p.mergeMetadata(ctx, req.BankID, dup, pend.metadata); err != nil {
					return nil, fmt.Errorf("retain: merge duplicate metadata: %w", err)
				}
			}
			continue
		}

		u := &store.MemoryUnit{
			ID:            store.NewUnitID(),
			BankID:        req.BankID,
			DocumentID:    req.DocumentID,
			Text:          f.Text,
			FactType:      f.FactType,
			Context:       pend.context,
			Embedding:     emb,
			OccurredStart: f.OccurredStart,
			OccurredEnd:   f.OccurredEnd,
			MentionedAt:   now,
			Metadata:      pend.metadata,
			CreatedAt:     now,
		}
		survivors = append(survivors, u)
		survivorIndex[i] = len(survivors) - 1
		// Mentions referencing this fact's global index now reference the
		// unit at len(survivors)-1; linkbuilder's EntityMention.UnitIndex
		// must track the survivor slice, not the pre-dedup batch.
		mentions = remapMentionIndex(mentions, i, len(survivors)-1)
	}

	if err := p.store.PutUnits(ctx, survivors); err != nil {
		return nil, fmt.Errorf("retain: put units: %w", err)
	}
	if err := p.store.IndexUnitsFulltext(ctx, survivors); err != nil {
		return nil, fmt.Errorf("retain: fulltext index: %w", err)
	}

	remappedCausal := remapCausalIndices(causal, survivorIndex)
	builder := linkbuilder.New(p.store, p.resolver, p.cfg.Links)
	if err := builder.Build(ctx, req.BankID, survivors, mentions, remappedCausal); err != nil {
		return nil, fmt.Errorf("retain: link builder: %w", err)
	}

	if err := p.enqueueObservationRefresh(ctx, req.BankID, survivors); err != nil {
		return nil, fmt.Errorf("retain: observation refresh: %w", err)
	}

	if req.DocumentID != "" {
		// PutUnits above already recorded the doc_unit index for each
		// survivor via its DocumentID field; this call just (re)writes the
		// document row itself with the fresh content hash and unit count.
		if _, err := p.store.PutDocument(ctx, req.BankID, req.DocumentID, contentForHash, len(survivors)); err != nil {
			return nil, fmt.Errorf("retain: put document: %w", err)
		}
	}

	return &Result{UnitsWritten: len(survivors), UnitsDeduped: deduped, DocumentID: req.DocumentID}, nil
}

// findDuplicate implements spec.md §4.6 step 3: cos(embedding) >= threshold,
// same fact_type, overlapping temporal range.
func (p *Pipeline) findDuplicate(ctx context.Context, bankID string, f extractor.Fact, emb []float32) (*store.MemoryUnit, error) {
	matches, err := p.store.VectorSearch(bankID, emb, 5)
	if err != nil {
		return nil, err
	}
	candidate := &store.MemoryUnit{FactType: f.FactType, OccurredStart: f.OccurredStart, OccurredEnd: f.OccurredEnd}
	for _, m := range matches {
		sim := 1 - m.Distance
		if sim < float32(p.cfg.DedupThreshold) {
			continue
		}
		existing, err := p.store.GetUnit(ctx, bankID, m.ID)
		if err != nil {
			continue
		}
		if existing.FactType != f.FactType {
			continue
		}
		if !existing.OverlapsTemporal(candidate) {
			continue
		}
		return existing, nil
	}
	return nil, nil
}

// mergeMetadata appends a deduped fact's metadata onto the existing unit it
// collapsed into (spec.md §4.6 step 3: "drop the new fact and (optionally)
// append its metadata to the existing one").
func (p *Pipeline) mergeMetadata(ctx context.Context, bankID string, existing *store.MemoryUnit, metadata map[string]string) error {
	if existing.Metadata == nil {
		existing.Metadata = make(map[string]string, len(metadata))
	}
	for k, v := range metadata {
		existing.Metadata[k] = v
	}
	return p.store.PutUnits(ctx, []*store.MemoryUnit{existing})
}

func (p *Pipeline) enqueueObservationRefresh(ctx context.Context, bankID string, survivors []*store.MemoryUnit) error {
	if p.obs == nil {
		return nil
	}
	seen := map[string]bool{}
	for _, u := range survivors {
		ids, err := p.store.EntitiesForUnit(ctx, bankID, u.ID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			if err := p.obs.Enqueue(ctx, bankID, id); err != nil {
				return err
			}
		}
	}
	return nil
}

func dropMentionsFor(mentions []linkbuilder.EntityMention, factIndex int) []linkbuilder.EntityMention {
	out := mentions[:0]
	for _, m := range mentions {
		if m.UnitIndex == factIndex {
			continue
		}
		out = append(out, m)
	}
	return out
}

func remapMentionIndex(mentions []linkbuilder.EntityMention, from, to int) []linkbuilder.EntityMention {
	for i := range mentions {
		if mentions[i].UnitIndex == from {
			mentions[i].UnitIndex = to
		}
	}
	return mentions
}

// remapCausalIndices rewrites causal relations from batch-wide fact indices
// to survivor-slice indices via survivorIndex. A relation touching a
// deduped-away fact, or an index outside the batch, is dropped here rather
// than misattributed.
func remapCausalIndices(causal []linkbuilder.CausalRelation, survivorIndex map[int]int) []linkbuilder.CausalRelation {
	var out []linkbuilder.CausalRelation
	for _, c := range causal {
		from, okFrom := survivorIndex[c.FromIndex]
		to, okTo := survivorIndex[c.ToIndex]
		if okFrom && okTo {
			c.FromIndex, c.ToIndex = from, to
			out = append(out, c)
		}
	}
	return out
}
