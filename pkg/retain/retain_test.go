package retain_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hindsight-ai/hindsight-go/internal/store"
	"github.com/hindsight-ai/hindsight-go/pkg/entity"
	"github.com/hindsight-ai/hindsight-go/pkg/extractor"
	"github.com/hindsight-ai/hindsight-go/pkg/genx"
	"github.com/hindsight-ai/hindsight-go/pkg/jsontime"
	"github.com/hindsight-ai/hindsight-go/pkg/kv"
	"github.com/hindsight-ai/hindsight-go/pkg/llm"
	"github.com/hindsight-ai/hindsight-go/pkg/retain"
)

type testEntityArg struct {
	Text       string   `json:"text"`
	Type       string   `json:"type"`
	CoMentions []string `json:"co_mentions"`
}

type testFactArg struct {
	Text          string          `json:"text"`
	FactType      string          `json:"fact_type"`
	OccurredStart jsontime.Unix   `json:"occurred_start"`
	OccurredEnd   jsontime.Unix   `json:"occurred_end"`
	Entities      []testEntityArg `json:"entities"`
}

type testExtractionArg struct {
	Facts []testFactArg `json:"facts"`
}

// queuedGenerator answers successive Invoke calls from a fixed queue of raw
// JSON responses, repeating the last entry once exhausted.
type queuedGenerator struct {
	responses []string
	calls     int
}

func (g *queuedGenerator) GenerateStream(ctx context.Context, scope string, mctx genx.ModelContext) (genx.Stream, error) {
	return nil, nil
}

func (g *queuedGenerator) Invoke(ctx context.Context, scope string, mctx genx.ModelContext, fn *genx.FuncTool) (genx.Usage, *genx.FuncCall, error) {
	idx := g.calls
	if idx >= len(g.responses) {
		idx = len(g.responses) - 1
	}
	g.calls++
	return genx.Usage{}, &genx.FuncCall{Name: fn.Name, Arguments: g.responses[idx]}, nil
}

// arbitrationGenerator always decides "new", naming the entity after the
// mentioned surface form, so every resolved candidate becomes its own entity.
type arbitrationGenerator struct{}

func (arbitrationGenerator) GenerateStream(ctx context.Context, scope string, mctx genx.ModelContext) (genx.Stream, error) {
	return nil, nil
}

func (arbitrationGenerator) Invoke(ctx context.Context, scope string, mctx genx.ModelContext, fn *genx.FuncTool) (genx.Usage, *genx.FuncCall, error) {
	args, _ := json.Marshal(map[string]string{"decision": "new", "canonical_name": "Alice"})
	return genx.Usage{}, &genx.FuncCall{Name: fn.Name, Arguments: string(args)}, nil
}

type fakeEmbedder struct {
	vecs map[string][]float32
	def  []float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := f.vecs[text]; ok {
		return v, nil
	}
	return f.def, nil
}

type fakeObsQueue struct {
	calls []string // entity IDs enqueued
}

func (q *fakeObsQueue) Enqueue(ctx context.Context, bankID, entityID string) error {
	q.calls = append(q.calls, entityID)
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(store.Config{KV: kv.NewMemory(nil), Dim: 4})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return st
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return string(b)
}

func newPipeline(t *testing.T, st *store.Store, extractGen genx.Generator, embedder retain.Embedder, obs retain.ObservationQueue, cfg retain.Config) *retain.Pipeline {
	t.Helper()
	gw := llm.NewGateway(1)
	if err := gw.Handle("fact_extraction", extractGen); err != nil {
		t.Fatalf("Handle(fact_extraction): %v", err)
	}
	if err := gw.Handle("entity_resolution", arbitrationGenerator{}); err != nil {
		t.Fatalf("Handle(entity_resolution): %v", err)
	}
	ext := extractor.New(gw, extractor.Config{})
	resolver := entity.New(st, entity.Config{Gateway: gw, Embedder: embedder.(entity.Embedder)})
	return retain.New(st, ext, resolver, embedder, cfg, obs)
}

func TestRun_EmptyItemsIsNoop(t *testing.T) {
	st := newTestStore(t)
	p := newPipeline(t, st, &queuedGenerator{responses: []string{mustJSON(t, testExtractionArg{})}}, &fakeEmbedder{def: []float32{1, 0, 0, 0}}, nil, retain.Config{})

	res, err := p.Run(context.Background(), retain.Request{BankID: "b"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.UnitsWritten != 0 || res.UnitsDeduped != 0 {
		t.Fatalf("Run(no items) = %+v, want a no-op result", res)
	}
}

func TestRun_FallsBackToVerbatimFactWhenExtractionYieldsNothing(t *testing.T) {
	st := newTestStore(t)
	empty := mustJSON(t, testExtractionArg{})
	p := newPipeline(t, st, &queuedGenerator{responses: []string{empty}}, &fakeEmbedder{def: []float32{1, 0, 0, 0}}, nil, retain.Config{})

	res, err := p.Run(context.Background(), retain.Request{
		BankID: "b",
		Items:  []retain.Item{{Content: "unparseable mumbling", Timestamp: time.Now().UTC()}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.UnitsWritten != 1 {
		t.Fatalf("UnitsWritten = %d, want 1 (verbatim fallback fact)", res.UnitsWritten)
	}

	units, err := st.ListUnits(context.Background(), "b", store.ListUnitsOptions{})
	if err != nil {
		t.Fatalf("ListUnits: %v", err)
	}
	if len(units) != 1 || units[0].Text != "unparseable mumbling" {
		t.Fatalf("stored units = %+v, want the verbatim source text", units)
	}
}

func TestRun_DedupAcrossCallsMergesMetadataAndSkipsWritingASecondUnit(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	fact := func(text string) string {
		return mustJSON(t, testExtractionArg{Facts: []testFactArg{{
			Text: text, FactType: "world",
			OccurredStart: jsontime.Unix(now), OccurredEnd: jsontime.Unix(now),
		}}})
	}
	gen := &queuedGenerator{responses: []string{fact("Alice likes coffee"), fact("Alice likes coffee a lot")}}
	embedder := &fakeEmbedder{def: []float32{1, 0, 0, 0}} // identical vector: guarantees cos sim 1.0 >= dedup threshold
	p := newPipeline(t, st, gen, embedder, nil, retain.Config{DedupThreshold: 0.9})

	first, err := p.Run(context.Background(), retain.Request{
		BankID: "b",
		Items:  []retain.Item{{Content: "Alice likes coffee.", Timestamp: now, Metadata: map[string]string{"source": "chat1"}}},
	})
	if err != nil {
		t.Fatalf("Run (first): %v", err)
	}
	if first.UnitsWritten != 1 {
		t.Fatalf("first Run = %+v, want 1 unit written", first)
	}

	second, err := p.Run(context.Background(), retain.Request{
		BankID: "b",
		Items:  []retain.Item{{Content: "Alice likes coffee a lot.", Timestamp: now, Metadata: map[string]string{"source": "chat2"}}},
	})
	if err != nil {
		t.Fatalf("Run (second): %v", err)
	}
	if second.UnitsWritten != 0 || second.UnitsDeduped != 1 {
		t.Fatalf("second Run = %+v, want 0 written and 1 deduped", second)
	}

	units, err := st.ListUnits(context.Background(), "b", store.ListUnitsOptions{})
	if err != nil {
		t.Fatalf("ListUnits: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("stored units = %d, want 1 surviving unit", len(units))
	}
	if units[0].Metadata["source"] != "chat2" {
		t.Fatalf("surviving unit metadata = %+v, want the deduped fact's metadata merged in", units[0].Metadata)
	}
}

func TestRun_DocumentUpsertResetsPriorUnitsOnRerun(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	factJSON := mustJSON(t, testExtractionArg{Facts: []testFactArg{{
		Text: "met Bob for lunch", FactType: "world",
		OccurredStart: jsontime.Unix(now), OccurredEnd: jsontime.Unix(now),
	}}})

	embedder := &fakeEmbedder{def: []float32{0, 1, 0, 0}}
	gen := &queuedGenerator{responses: []string{factJSON, factJSON}}
	p := newPipeline(t, st, gen, embedder, nil, retain.Config{})

	req := retain.Request{
		BankID:     "b",
		DocumentID: "doc1",
		Items:      []retain.Item{{Content: "met Bob for lunch.", Timestamp: now}},
	}
	if _, err := p.Run(context.Background(), req); err != nil {
		t.Fatalf("Run (first): %v", err)
	}
	res, err := p.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run (second): %v", err)
	}
	if res.DocumentID != "doc1" {
		t.Fatalf("DocumentID = %q, want doc1", res.DocumentID)
	}
	if res.UnitsWritten != 1 {
		t.Fatalf("second Run UnitsWritten = %d, want 1 (the reset should have removed the prior unit, not deduped against it)", res.UnitsWritten)
	}

	doc, err := st.GetDocument(context.Background(), "b", "doc1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.ID != "doc1" {
		t.Fatalf("GetDocument = %+v, want doc1 to exist after the re-run", doc)
	}
}

func TestRun_EnqueuesObservationRefreshForMentionedEntities(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	factJSON := mustJSON(t, testExtractionArg{Facts: []testFactArg{{
		Text: "Alice went jogging", FactType: "world",
		OccurredStart: jsontime.Unix(now), OccurredEnd: jsontime.Unix(now),
		Entities: []testEntityArg{{Text: "Alice", Type: "person"}},
	}}})

	embedder := &fakeEmbedder{def: []float32{1, 0, 0, 0}}
	obs := &fakeObsQueue{}
	p := newPipeline(t, st, &queuedGenerator{responses: []string{factJSON}}, embedder, obs, retain.Config{})

	if _, err := p.Run(context.Background(), retain.Request{
		BankID: "b",
		Items:  []retain.Item{{Content: "Alice went jogging.", Timestamp: now}},
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(obs.calls) != 1 {
		t.Fatalf("observation queue calls = %v, want exactly 1 enqueue for the mentioned entity", obs.calls)
	}
}
