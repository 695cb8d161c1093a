package engine_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hindsight-ai/hindsight-go/internal/config"
	"github.com/hindsight-ai/hindsight-go/internal/store"
	"github.com/hindsight-ai/hindsight-go/pkg/engine"
	"github.com/hindsight-ai/hindsight-go/pkg/genx"
	"github.com/hindsight-ai/hindsight-go/pkg/kv"
	"github.com/hindsight-ai/hindsight-go/pkg/llm"
	"github.com/hindsight-ai/hindsight-go/pkg/retain"
	"github.com/hindsight-ai/hindsight-go/pkg/retrieval"
)

type fakeEmbedder struct{ vec []float32 }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, nil
}

// fakeGenerator answers every Invoke call by echoing a single fact that
// carries its own input text, so extraction is effectively a pass-through
// and every other schema-constrained call (entity arbitration, reflect,
// observation synthesis) gets a minimal, schema-shaped canned reply.
type fakeGenerator struct{}

func (fakeGenerator) GenerateStream(ctx context.Context, scope string, mctx genx.ModelContext) (genx.Stream, error) {
	return nil, nil
}

func (fakeGenerator) Invoke(ctx context.Context, scope string, mctx genx.ModelContext, fn *genx.FuncTool) (genx.Usage, *genx.FuncCall, error) {
	now := time.Now().UTC().Unix()
	var args string
	switch fn.Name {
	case "extract_facts":
		args = `{"facts":[{"text":"met Alice for coffee","fact_type":"world","occurred_start":` +
			itoa(now) + `,"occurred_end":` + itoa(now) + `,"entities":[{"text":"Alice","type":"person"}]}]}`
	case "resolve_entity":
		args = `{"decision":"new","canonical_name":"Alice"}`
	case "reflect":
		args = `{"text":"You met Alice for coffee."}`
	case "consolidate_observations":
		args = `{"observations":[{"text":"Alice is someone the agent meets for coffee."}]}`
	default:
		args = `{}`
	}
	return genx.Usage{}, &genx.FuncCall{Name: fn.Name, Arguments: args}, nil
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	st, err := store.New(store.Config{KV: kv.NewMemory(nil), Dim: 4})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	gw := llm.NewGateway(1)
	if err := gw.Handle("#", fakeGenerator{}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	cfg := config.Default("", "", 4)

	e, err := engine.New(engine.Deps{
		Store:    st,
		Gateway:  gw,
		Embedder: &fakeEmbedder{vec: []float32{1, 0, 0, 0}},
		Config:   cfg,
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return e
}

func TestEngine_RetainThenRecallRoundTrips(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	res, err := e.Retain(ctx, "alice-bank", []retain.Item{{Content: "I met Alice for coffee.", Timestamp: time.Now().UTC()}}, "", false)
	if err != nil {
		t.Fatalf("Retain: %v", err)
	}
	if res.ItemsCount != 1 {
		t.Fatalf("Retain ItemsCount = %d, want 1", res.ItemsCount)
	}

	recalled, err := e.Recall(ctx, "alice-bank", engine.RecallRequest{Query: "coffee", Budget: retrieval.BudgetMid})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(recalled.Units) == 0 {
		t.Fatal("Recall returned no units after Retain wrote one")
	}
}

func TestEngine_RetainEmptyItemsIsNoop(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Retain(context.Background(), "b", nil, "", false)
	if err != nil {
		t.Fatalf("Retain: %v", err)
	}
	if res.ItemsCount != 0 {
		t.Fatalf("Retain(nil) ItemsCount = %d, want 0", res.ItemsCount)
	}
}

func TestEngine_RecallRejectsUnknownFactType(t *testing.T) {
	e := newTestEngine(t)
	bogus := store.FactType("bogus")
	_, err := e.Recall(context.Background(), "b", engine.RecallRequest{Query: "x", Types: []store.FactType{bogus}})
	if err == nil {
		t.Fatal("Recall accepted an unknown fact type")
	}
}

func TestEngine_RetainAsyncReturnsOperationIDAndCompletesViaTaskBackend(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	res, err := e.Retain(ctx, "b", []retain.Item{{Content: "I met Alice for coffee.", Timestamp: time.Now().UTC()}}, "", true)
	if err != nil {
		t.Fatalf("Retain (async): %v", err)
	}
	if res.OperationID == "" {
		t.Fatal("Retain (async) returned no OperationID")
	}

	// The default inline task backend (no Tasks given in Deps) runs the
	// submitted task synchronously inside Submit, so the operation should
	// already be completed by the time Retain returns.
	op, err := e.ListOperations(ctx, "b")
	if err != nil {
		t.Fatalf("ListOperations: %v", err)
	}
	if len(op) != 1 || op[0].Status != store.OperationCompleted {
		t.Fatalf("ListOperations = %+v, want a single completed operation", op)
	}
}

func TestEngine_ReflectSynthesizesAnswerGroundedInRecalledFacts(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Retain(ctx, "b", []retain.Item{{Content: "I met Alice for coffee.", Timestamp: time.Now().UTC()}}, "", false); err != nil {
		t.Fatalf("Retain: %v", err)
	}

	res, err := e.Reflect(ctx, "b", "who did I meet?", retrieval.BudgetMid, "", false)
	if err != nil {
		t.Fatalf("Reflect: %v", err)
	}
	if res.Text == "" {
		t.Fatal("Reflect returned empty text")
	}
}

func TestEngine_BankProfileDefaultsAreNeutral(t *testing.T) {
	e := newTestEngine(t)
	bank, err := e.GetBankProfile(context.Background(), "fresh-bank")
	if err != nil {
		t.Fatalf("GetBankProfile: %v", err)
	}
	if bank.Personality != store.NeutralPersonality() {
		t.Fatalf("bank.Personality = %+v, want neutral defaults", bank.Personality)
	}
}
