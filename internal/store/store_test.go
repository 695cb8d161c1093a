package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/hindsight-ai/hindsight-go/internal/store"
	"github.com/hindsight-ai/hindsight-go/pkg/kv"
	"github.com/hindsight-ai/hindsight-go/pkg/storage"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(store.Config{
		KV:  kv.NewMemory(nil),
		Dim: 4,
	})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return st
}

func vec(xs ...float32) []float32 { return xs }

func TestGetOrCreateBank_AutoCreatesWithNeutralDefaults(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	bank, err := st.GetOrCreateBank(ctx, "alice")
	if err != nil {
		t.Fatalf("GetOrCreateBank: %v", err)
	}
	if bank.ID != "alice" {
		t.Fatalf("bank.ID = %q, want %q", bank.ID, "alice")
	}
	if bank.Personality != store.NeutralPersonality() {
		t.Fatalf("bank.Personality = %+v, want neutral defaults", bank.Personality)
	}

	again, err := st.GetOrCreateBank(ctx, "alice")
	if err != nil {
		t.Fatalf("GetOrCreateBank (second call): %v", err)
	}
	if again.CreatedAt != bank.CreatedAt {
		t.Fatalf("second GetOrCreateBank call re-created the bank instead of fetching it")
	}
}

func TestPutUnits_RejectsInvalidFactTypeAndTemporalRange(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	bad := &store.MemoryUnit{ID: "u1", BankID: "b", Text: "x", FactType: "bogus"}
	if err := st.PutUnits(ctx, []*store.MemoryUnit{bad}); err == nil {
		t.Fatal("PutUnits accepted an invalid fact_type")
	}

	now := time.Now().UTC()
	badRange := &store.MemoryUnit{
		ID: "u2", BankID: "b", Text: "x", FactType: store.FactWorld,
		OccurredStart: now, OccurredEnd: now.Add(-time.Hour),
	}
	if err := st.PutUnits(ctx, []*store.MemoryUnit{badRange}); err == nil {
		t.Fatal("PutUnits accepted occurred_end before occurred_start")
	}
}

func TestPutUnits_IndexesForVectorSearch(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	units := []*store.MemoryUnit{
		{ID: "u1", BankID: "b", Text: "likes coffee", FactType: store.FactWorld, Embedding: vec(1, 0, 0, 0), MentionedAt: now, OccurredStart: now, OccurredEnd: now},
		{ID: "u2", BankID: "b", Text: "likes tea", FactType: store.FactWorld, Embedding: vec(0, 1, 0, 0), MentionedAt: now, OccurredStart: now, OccurredEnd: now},
	}
	if err := st.PutUnits(ctx, units); err != nil {
		t.Fatalf("PutUnits: %v", err)
	}

	matches, err := st.VectorSearch("b", vec(1, 0, 0, 0), 1)
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "u1" {
		t.Fatalf("VectorSearch = %+v, want nearest match u1", matches)
	}
}

func TestLexicalMatch_FindsFulltextIndexedUnits(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	units := []*store.MemoryUnit{
		{ID: "u1", BankID: "b", Text: "Alice went jogging in the park", FactType: store.FactWorld, MentionedAt: now, OccurredStart: now, OccurredEnd: now},
		{ID: "u2", BankID: "b", Text: "Bob bought groceries", FactType: store.FactWorld, MentionedAt: now, OccurredStart: now, OccurredEnd: now},
	}
	if err := st.PutUnits(ctx, units); err != nil {
		t.Fatalf("PutUnits: %v", err)
	}
	if err := st.IndexUnitsFulltext(ctx, units); err != nil {
		t.Fatalf("IndexUnitsFulltext: %v", err)
	}

	ids, err := st.LexicalMatch(ctx, "b", "jogging", 5)
	if err != nil {
		t.Fatalf("LexicalMatch: %v", err)
	}
	if len(ids) != 1 || ids[0] != "u1" {
		t.Fatalf("LexicalMatch(jogging) = %v, want [u1]", ids)
	}
}

func TestEntityMentionAndObservationLinkage(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entity, err := st.CreateEntity(ctx, "b", "Alice", vec(1, 0, 0, 0))
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	found, err := st.FindEntityByName(ctx, "b", "alice")
	if err != nil {
		t.Fatalf("FindEntityByName: %v", err)
	}
	if found.ID != entity.ID {
		t.Fatalf("FindEntityByName is not case-insensitive: got %q, want %q", found.ID, entity.ID)
	}

	unit := &store.MemoryUnit{ID: "u1", BankID: "b", Text: "Alice likes coffee", FactType: store.FactWorld, MentionedAt: now, OccurredStart: now, OccurredEnd: now}
	if err := st.PutUnits(ctx, []*store.MemoryUnit{unit}); err != nil {
		t.Fatalf("PutUnits: %v", err)
	}
	if err := st.PutUnitEntities(ctx, "b", entity.ID, []string{"u1"}); err != nil {
		t.Fatalf("PutUnitEntities: %v", err)
	}

	unitIDs, err := st.UnitsForEntity(ctx, "b", entity.ID)
	if err != nil {
		t.Fatalf("UnitsForEntity: %v", err)
	}
	if len(unitIDs) != 1 || unitIDs[0] != "u1" {
		t.Fatalf("UnitsForEntity = %v, want [u1]", unitIDs)
	}

	entityIDs, err := st.EntitiesForUnit(ctx, "b", "u1")
	if err != nil {
		t.Fatalf("EntitiesForUnit: %v", err)
	}
	if len(entityIDs) != 1 || entityIDs[0] != entity.ID {
		t.Fatalf("EntitiesForUnit = %v, want [%s]", entityIDs, entity.ID)
	}
}

func TestLinksFrom_FiltersByType(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	units := []*store.MemoryUnit{
		{ID: "u1", BankID: "b", Text: "a", FactType: store.FactWorld, MentionedAt: now, OccurredStart: now, OccurredEnd: now},
		{ID: "u2", BankID: "b", Text: "b", FactType: store.FactWorld, MentionedAt: now, OccurredStart: now, OccurredEnd: now},
		{ID: "u3", BankID: "b", Text: "c", FactType: store.FactWorld, MentionedAt: now, OccurredStart: now, OccurredEnd: now},
	}
	if err := st.PutUnits(ctx, units); err != nil {
		t.Fatalf("PutUnits: %v", err)
	}

	links := []*store.MemoryLink{
		{FromUnitID: "u1", ToUnitID: "u2", LinkType: store.LinkTemporal, Weight: 1},
		{FromUnitID: "u1", ToUnitID: "u3", LinkType: store.LinkSemantic, Weight: 0.8},
	}
	if err := st.PutLinks(ctx, "b", links); err != nil {
		t.Fatalf("PutLinks: %v", err)
	}

	temporal, err := st.LinksFrom(ctx, "b", "u1", []store.LinkType{store.LinkTemporal})
	if err != nil {
		t.Fatalf("LinksFrom: %v", err)
	}
	if len(temporal) != 1 || temporal[0].ToUnitID != "u2" {
		t.Fatalf("LinksFrom(temporal) = %+v, want just u1->u2", temporal)
	}
}

func TestDocumentUpsertResetIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.GetOrCreateBank(ctx, "b"); err != nil {
		t.Fatalf("GetOrCreateBank: %v", err)
	}
	if err := st.UpsertDocumentReset(ctx, "b", "doc1"); err != nil {
		t.Fatalf("UpsertDocumentReset (first): %v", err)
	}
	if _, err := st.PutDocument(ctx, "b", "doc1", "hello world", 3); err != nil {
		t.Fatalf("PutDocument: %v", err)
	}
	if err := st.UpsertDocumentReset(ctx, "b", "doc1"); err != nil {
		t.Fatalf("UpsertDocumentReset (second): %v", err)
	}

	doc, err := st.GetDocument(ctx, "b", "doc1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.ID != "doc1" {
		t.Fatalf("GetDocument returned wrong document: %+v", doc)
	}
}

func TestPutDocument_ArchivesOriginalTextToBlobsWhenConfigured(t *testing.T) {
	blobs, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("storage.NewLocal: %v", err)
	}
	st, err := store.New(store.Config{KV: kv.NewMemory(nil), Blobs: blobs, Dim: 4})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	ctx := context.Background()

	if _, err := st.PutDocument(ctx, "b", "doc1", "hello world", 1); err != nil {
		t.Fatalf("PutDocument: %v", err)
	}

	doc, err := st.GetDocument(ctx, "b", "doc1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.OriginalText != "hello world" {
		t.Fatalf("GetDocument.OriginalText = %q, want %q (read back from blob store)", doc.OriginalText, "hello world")
	}

	if err := st.DeleteDocument(ctx, "b", "doc1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, err := blobs.Read(ctx, "documents/b/doc1.txt"); err == nil {
		t.Fatal("expected the archived blob to be deleted alongside the document")
	}
}

func TestRebuildIndex_PromotesToHNSWAboveThresholdAndBackBelowIt(t *testing.T) {
	st, err := store.New(store.Config{KV: kv.NewMemory(nil), Dim: 2, HNSWThreshold: 2})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	ctx := context.Background()
	now := time.Now().UTC()

	units := []*store.MemoryUnit{
		{ID: "u1", BankID: "b", Text: "a", FactType: store.FactWorld, Embedding: vec(1, 0), MentionedAt: now, OccurredStart: now, OccurredEnd: now},
		{ID: "u2", BankID: "b", Text: "b", FactType: store.FactWorld, Embedding: vec(0, 1), MentionedAt: now, OccurredStart: now, OccurredEnd: now},
		{ID: "u3", BankID: "b", Text: "c", FactType: store.FactWorld, Embedding: vec(1, 1), MentionedAt: now, OccurredStart: now, OccurredEnd: now},
	}
	if err := st.PutUnits(ctx, units); err != nil {
		t.Fatalf("PutUnits: %v", err)
	}

	if err := st.RebuildIndex(ctx, "b"); err != nil {
		t.Fatalf("RebuildIndex (promote): %v", err)
	}
	matches, err := st.VectorSearch("b", vec(1, 0), 1)
	if err != nil {
		t.Fatalf("VectorSearch after promote: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "u1" {
		t.Fatalf("VectorSearch after promote = %+v, want nearest match u1", matches)
	}

	if err := st.DeleteUnits(ctx, "b", []string{"u2", "u3"}); err != nil {
		t.Fatalf("DeleteUnits: %v", err)
	}
	if err := st.RebuildIndex(ctx, "b"); err != nil {
		t.Fatalf("RebuildIndex (demote): %v", err)
	}
	matches, err = st.VectorSearch("b", vec(1, 0), 1)
	if err != nil {
		t.Fatalf("VectorSearch after demote: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "u1" {
		t.Fatalf("VectorSearch after demote = %+v, want nearest match u1", matches)
	}
}

func TestOperationLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	op, err := st.CreateOperation(ctx, "b", "retain", 3, "")
	if err != nil {
		t.Fatalf("CreateOperation: %v", err)
	}
	if op.Status != store.OperationPending {
		t.Fatalf("new operation status = %q, want pending", op.Status)
	}

	if err := st.SetOperationStatus(ctx, "b", op.ID, store.OperationRunning, ""); err != nil {
		t.Fatalf("SetOperationStatus(running): %v", err)
	}
	if err := st.SetOperationStatus(ctx, "b", op.ID, store.OperationCompleted, ""); err != nil {
		t.Fatalf("SetOperationStatus(completed): %v", err)
	}

	got, err := st.GetOperation(ctx, "b", op.ID)
	if err != nil {
		t.Fatalf("GetOperation: %v", err)
	}
	if got.Status != store.OperationCompleted {
		t.Fatalf("GetOperation status = %q, want completed", got.Status)
	}
}
