package extractor_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hindsight-ai/hindsight-go/internal/store"
	"github.com/hindsight-ai/hindsight-go/pkg/extractor"
	"github.com/hindsight-ai/hindsight-go/pkg/genx"
	"github.com/hindsight-ai/hindsight-go/pkg/jsontime"
	"github.com/hindsight-ai/hindsight-go/pkg/llm"
)

// testFactArg/testEntityArg/testCausalArg/testExtractionArg mirror the
// unexported wire shape extractor.invoke expects, letting tests build the
// fake LLM's JSON response without reaching into the package's internals.
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

type testCausalArg struct {
	FromIndex int     `json:"from_index"`
	ToIndex   int     `json:"to_index"`
	Relation  string  `json:"relation"`
	Strength  float32 `json:"strength"`
}

type testExtractionArg struct {
	Facts           []testFactArg   `json:"facts"`
	CausalRelations []testCausalArg `json:"causal_relations"`
}

// fakeGenerator answers every Invoke call from a queue of canned JSON
// responses, one per call, repeating the last once the queue is drained.
type fakeGenerator struct {
	responses []string
	calls     int
}

func (f *fakeGenerator) GenerateStream(ctx context.Context, scope string, mctx genx.ModelContext) (genx.Stream, error) {
	return nil, nil
}

func (f *fakeGenerator) Invoke(ctx context.Context, scope string, mctx genx.ModelContext, fn *genx.FuncTool) (genx.Usage, *genx.FuncCall, error) {
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return genx.Usage{}, &genx.FuncCall{Name: fn.Name, Arguments: f.responses[idx]}, nil
}

func newExtractor(t *testing.T, gen genx.Generator, cfg extractor.Config) *extractor.Extractor {
	t.Helper()
	gw := llm.NewGateway(1)
	if err := gw.Handle("fact_extraction", gen); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	return extractor.New(gw, cfg)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return string(b)
}

func TestExtract_ConvertsValidFactsAndStripsVagueDiction(t *testing.T) {
	now := jsontime.Unix(time.Now().UTC())
	resp := mustJSON(t, testExtractionArg{
		Facts: []testFactArg{
			{
				Text:          "Alice went jogging recently in the park",
				FactType:      "world",
				OccurredStart: now,
				OccurredEnd:   now,
				Entities:      []testEntityArg{{Text: "Alice", Type: "person"}},
			},
		},
	})
	gen := &fakeGenerator{responses: []string{resp}}
	ex := newExtractor(t, gen, extractor.Config{})

	res, err := ex.Extract(context.Background(), extractor.Request{Content: "Alice went jogging recently in the park.", EventDate: time.Now().UTC()})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Facts) != 1 {
		t.Fatalf("Facts = %+v, want exactly 1", res.Facts)
	}
	if strings.Contains(res.Facts[0].Text, "recently") {
		t.Fatalf("Text = %q, vague diction %q should have been stripped", res.Facts[0].Text, "recently")
	}
	if res.Facts[0].FactType != store.FactWorld {
		t.Fatalf("FactType = %q, want world", res.Facts[0].FactType)
	}
	if len(res.Facts[0].Entities) != 1 || res.Facts[0].Entities[0].Text != "Alice" {
		t.Fatalf("Entities = %+v, want a single Alice mention", res.Facts[0].Entities)
	}
}

func TestExtract_InvalidFactTypeDefaultsToWorld(t *testing.T) {
	now := jsontime.Unix(time.Now().UTC())
	resp := mustJSON(t, testExtractionArg{
		Facts: []testFactArg{{Text: "something happened", FactType: "bogus", OccurredStart: now, OccurredEnd: now}},
	})
	gen := &fakeGenerator{responses: []string{resp}}
	ex := newExtractor(t, gen, extractor.Config{})

	res, err := ex.Extract(context.Background(), extractor.Request{Content: "something happened.", EventDate: time.Now().UTC()})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Facts[0].FactType != store.FactWorld {
		t.Fatalf("FactType = %q, want fallback to world for an invalid tag", res.Facts[0].FactType)
	}
}

func TestExtract_OccurredEndBeforeStartClampsToStart(t *testing.T) {
	now := time.Now().UTC()
	start := jsontime.Unix(now)
	end := jsontime.Unix(now.Add(-time.Hour))
	resp := mustJSON(t, testExtractionArg{
		Facts: []testFactArg{{Text: "a fact", FactType: "world", OccurredStart: start, OccurredEnd: end}},
	})
	gen := &fakeGenerator{responses: []string{resp}}
	ex := newExtractor(t, gen, extractor.Config{})

	res, err := ex.Extract(context.Background(), extractor.Request{Content: "a fact.", EventDate: now})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !res.Facts[0].OccurredEnd.Equal(res.Facts[0].OccurredStart) {
		t.Fatalf("OccurredEnd = %v, want clamped to OccurredStart %v", res.Facts[0].OccurredEnd, res.Facts[0].OccurredStart)
	}
}

func TestExtract_UnknownCausalRelationIsDropped(t *testing.T) {
	now := jsontime.Unix(time.Now().UTC())
	resp := mustJSON(t, testExtractionArg{
		Facts: []testFactArg{
			{Text: "rain fell", FactType: "world", OccurredStart: now, OccurredEnd: now},
			{Text: "picnic cancelled", FactType: "world", OccurredStart: now, OccurredEnd: now},
		},
		CausalRelations: []testCausalArg{
			{FromIndex: 0, ToIndex: 1, Relation: "causes", Strength: 0.9},
			{FromIndex: 0, ToIndex: 1, Relation: "bogus_relation", Strength: 0.9},
		},
	})
	gen := &fakeGenerator{responses: []string{resp}}
	ex := newExtractor(t, gen, extractor.Config{})

	res, err := ex.Extract(context.Background(), extractor.Request{Content: "Rain fell. The picnic was cancelled.", EventDate: time.Now().UTC()})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Causal) != 1 || res.Causal[0].LinkType != store.LinkCauses {
		t.Fatalf("Causal = %+v, want a single causes relation surviving the unknown one", res.Causal)
	}
}

func TestExtract_OversizedOutputIsTruncatedAfterRetry(t *testing.T) {
	now := jsontime.Unix(time.Now().UTC())
	var facts []testFactArg
	for i := 0; i < 50; i++ {
		facts = append(facts, testFactArg{Text: strings.Repeat("x", 200), FactType: "world", OccurredStart: now, OccurredEnd: now})
	}
	oversized := mustJSON(t, testExtractionArg{Facts: facts})
	gen := &fakeGenerator{responses: []string{oversized, oversized}}
	ex := newExtractor(t, gen, extractor.Config{MaxRetries: 1})

	res, err := ex.Extract(context.Background(), extractor.Request{Content: "a short sentence.", EventDate: time.Now().UTC()})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if gen.calls != 2 {
		t.Fatalf("gen.calls = %d, want exactly 2 (initial + 1 retry)", gen.calls)
	}
	if len(res.Facts) >= 50 {
		t.Fatalf("Facts = %d, want truncation to well under the oversized input of 50", len(res.Facts))
	}
}
