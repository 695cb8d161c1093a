// Package engine is the composition root wiring the Store, LLM Gateway,
// Entity Resolver, Link Builder, Fact Extractor, Retain Pipeline,
// Observation Consolidator, Retrieval Planner, and Task Backend into the
// public operations exposed to callers (spec.md §6).
//
// Every collaborator is handed to the Engine once, at construction, as an
// immutable Deps value — no component holds a back-reference to the Engine
// itself (spec.md §9's "pass them as an immutable Deps context to pure
// functions rather than recreating the source's mutually aware class
// graph"), the same composition-root shape as the teacher's memory.Host.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hindsight-ai/hindsight-go/internal/config"
	"github.com/hindsight-ai/hindsight-go/internal/store"
	"github.com/hindsight-ai/hindsight-go/pkg/consolidator"
	"github.com/hindsight-ai/hindsight-go/pkg/entity"
	"github.com/hindsight-ai/hindsight-go/pkg/extractor"
	"github.com/hindsight-ai/hindsight-go/pkg/genx"
	"github.com/hindsight-ai/hindsight-go/pkg/linkbuilder"
	"github.com/hindsight-ai/hindsight-go/pkg/llm"
	"github.com/hindsight-ai/hindsight-go/pkg/retain"
	"github.com/hindsight-ai/hindsight-go/pkg/retrieval"
	"github.com/hindsight-ai/hindsight-go/pkg/task"
)

// Embedder produces embedding vectors for a query or a fact's surface text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Deps is every collaborator the Engine wires together, constructed once
// and never mutated.
type Deps struct {
	Store    *store.Store
	Gateway  *llm.Gateway
	Embedder Embedder
	Config   *config.Config
	Tasks    task.Backend // optional; defaults to task.NewInline()
}

// Engine implements spec.md §6's public operations.
type Engine struct {
	deps         Deps
	resolver     *entity.Resolver
	extractor    *extractor.Extractor
	consolidator *consolidator.Consolidator
	retain       *retain.Pipeline
	planner      *retrieval.Planner
	tasks        task.Backend
}

// New builds an Engine over deps, registering the retain/observation-refresh
// task handlers on deps.Tasks (or a fresh inline backend if none was given).
func New(deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("engine: Store is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("engine: Gateway is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("engine: Embedder is required")
	}
	if deps.Config == nil {
		deps.Config = config.Default("", "", 0)
	}
	if deps.Tasks == nil {
		deps.Tasks = task.NewInline()
	}

	resolver := entity.New(deps.Store, entity.Config{Gateway: deps.Gateway, Embedder: deps.Embedder})
	ext := extractor.New(deps.Gateway, extractor.Config{MaxRetries: deps.Config.LLM.SchemaRetries})
	cons := consolidator.New(deps.Store, deps.Gateway, deps.Embedder, consolidator.Config{})

	e := &Engine{
		deps:         deps,
		resolver:     resolver,
		extractor:    ext,
		consolidator: cons,
		tasks:        deps.Tasks,
	}

	linkCfg := linkbuilder.Config{
		TemporalWindow:    deps.Config.TemporalWindow,
		SemanticTopK:      deps.Config.SemanticTopK,
		SemanticThreshold: deps.Config.SemanticThreshold,
	}
	var obs retain.ObservationQueue
	if deps.Config.ObservationsEnabled {
		obs = &observationQueue{tasks: deps.Tasks}
	}
	e.retain = retain.New(deps.Store, ext, resolver, deps.Embedder, retain.Config{
		DedupThreshold: deps.Config.DedupThreshold,
		Links:          linkCfg,
	}, obs)

	e.planner = retrieval.New(deps.Store, deps.Embedder, retrieval.Config{
		Budgets:        deps.Config.Budgets,
		Fusion:         deps.Config.Fusion,
		RecencyHorizon: deps.Config.RecencyHorizon,
	})

	deps.Tasks.SetExecutor(e.executeTask)
	return e, nil
}

// observationQueue adapts task.Backend to retain.ObservationQueue, so the
// Retain Pipeline's post-write entity-touch hook (spec.md §4.6 step 7)
// schedules Consolidator refreshes through the same backend as every other
// background task rather than calling it inline.
type observationQueue struct {
	tasks task.Backend
}

func (q *observationQueue) Enqueue(ctx context.Context, bankID, entityID string) error {
	return q.tasks.Submit(ctx, task.Task{
		Type:   "refresh_observation",
		BankID: bankID,
		Args:   map[string]any{"entity_id": entityID},
	})
}

// executeTask routes a drained task.Task to its handler (spec.md §4.9: "the
// executor receives the dict and routes it to the appropriate handler").
func (e *Engine) executeTask(ctx context.Context, t task.Task) error {
	switch t.Type {
	case "retain":
		req, ok := t.Args["request"].(retain.Request)
		if !ok {
			return fmt.Errorf("engine: malformed retain task payload")
		}
		opID, _ := t.Args["operation_id"].(string)
		if opID != "" {
			if _, err := e.deps.Store.GetOperation(ctx, t.BankID, opID); errors.Is(err, store.ErrOperationNotFound) {
				return nil // cancelled: the operation row was deleted
			}
		}
		_, err := e.retain.Run(ctx, req)
		if opID != "" {
			if err != nil {
				_ = e.deps.Store.SetOperationStatus(ctx, t.BankID, opID, store.OperationFailed, err.Error())
			} else {
				_ = e.deps.Store.SetOperationStatus(ctx, t.BankID, opID, store.OperationCompleted, "")
			}
		}
		return err
	case "refresh_observation":
		entityID, _ := t.Args["entity_id"].(string)
		return e.consolidator.Regenerate(ctx, t.BankID, entityID)
	default:
		return fmt.Errorf("engine: unknown task type %q", t.Type)
	}
}

// RetainResult is retain's public response (spec.md §6).
type RetainResult struct {
	OperationID string
	ItemsCount  int
}

// Retain ingests items into a bank, synchronously or via the task backend
// (spec.md §6: "retain(bank, items, document_id?, async?)").
func (e *Engine) Retain(ctx context.Context, bankID string, items []retain.Item, documentID string, async bool) (*RetainResult, error) {
	if len(items) == 0 {
		return &RetainResult{ItemsCount: 0}, nil
	}
	req := retain.Request{BankID: bankID, Items: items, DocumentID: documentID}

	if !async {
		res, err := e.retain.Run(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("engine: retain: %w", err)
		}
		return &RetainResult{ItemsCount: res.UnitsWritten}, nil
	}

	op, err := e.deps.Store.CreateOperation(ctx, bankID, "retain", len(items), documentID)
	if err != nil {
		return nil, fmt.Errorf("engine: create operation: %w", err)
	}
	if err := e.deps.Store.SetOperationStatus(ctx, bankID, op.ID, store.OperationRunning, ""); err != nil {
		return nil, fmt.Errorf("engine: set operation running: %w", err)
	}
	if err := e.tasks.Submit(ctx, task.Task{
		Type:   "retain",
		BankID: bankID,
		Args:   map[string]any{"request": req, "operation_id": op.ID},
	}); err != nil {
		return nil, fmt.Errorf("engine: submit retain task: %w", err)
	}
	return &RetainResult{OperationID: op.ID, ItemsCount: len(items)}, nil
}

// RecallRequest is recall's public input (spec.md §6).
type RecallRequest struct {
	Query           string
	Types           []store.FactType
	Budget          retrieval.Budget
	MaxTokens       int
	Trace           bool
	Filters         string
	QueryTimestamp  time.Time
	IncludeEntities bool
}

// Recall answers a query against a bank's graph (spec.md §6: "recall(bank,
// query, types?, budget, max_tokens, trace?, filters?, query_timestamp?,
// include_entities?)"). An unrecognized fact type is rejected rather than
// silently coerced (spec.md §9 Open Question, resolved: reject explicitly).
func (e *Engine) Recall(ctx context.Context, bankID string, req RecallRequest) (*retrieval.Result, error) {
	for _, t := range req.Types {
		if !t.Valid() {
			return nil, fmt.Errorf("engine: recall: invalid fact type %q", t)
		}
	}
	filter, err := retrieval.ParseFilter(req.Filters)
	if err != nil {
		return nil, fmt.Errorf("engine: recall: %w", err)
	}
	return e.planner.Recall(ctx, bankID, retrieval.Request{
		Query:           req.Query,
		Types:           req.Types,
		Budget:          req.Budget,
		MaxTokens:       req.MaxTokens,
		Filter:          filter,
		QueryTimestamp:  req.QueryTimestamp,
		IncludeEntities: req.IncludeEntities,
		Trace:           req.Trace,
	})
}

// ReflectResult is reflect's public response (spec.md §6).
type ReflectResult struct {
	Text    string
	BasedOn []string
}

type reflectArg struct {
	Text string `json:"text"`
}

var reflectTool = genx.MustNewFuncTool[reflectArg](
	"reflect",
	"Answer the query in natural language, grounded only in the given facts.",
)

// Reflect delegates to Recall then asks the LLM to synthesize a natural-
// language answer grounded in the retrieved facts (spec.md §6: "reflect
// ...delegated; consumes recall + LLM"). With includeEntities, the entity
// sidebar's observations are added to the prompt's known facts after the
// recalled units, and their IDs to BasedOn (each ID listed once).
func (e *Engine) Reflect(ctx context.Context, bankID, query string, budget retrieval.Budget, context_ string, includeEntities bool) (*ReflectResult, error) {
	recalled, err := e.Recall(ctx, bankID, RecallRequest{
		Query:           query,
		Budget:          budget,
		MaxTokens:       4000,
		IncludeEntities: includeEntities,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: reflect: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n", query)
	if context_ != "" {
		fmt.Fprintf(&b, "Context: %s\n", context_)
	}
	b.WriteString("Known facts:\n")
	basedOn := make([]string, 0, len(recalled.Units))
	seen := make(map[string]bool, len(recalled.Units))
	for _, u := range recalled.Units {
		fmt.Fprintf(&b, "- [%s] %s\n", u.FactType, u.Text)
		basedOn = append(basedOn, u.ID)
		seen[u.ID] = true
	}
	for _, sb := range recalled.Entities {
		for _, o := range sb.Observations {
			if seen[o.ID] {
				continue
			}
			seen[o.ID] = true
			fmt.Fprintf(&b, "- [%s] %s\n", o.FactType, o.Text)
			basedOn = append(basedOn, o.ID)
		}
	}
	b.WriteString("\nAnswer the query using only the facts above. If they are insufficient, say so.")

	res, err := e.deps.Gateway.Complete(ctx, llm.Request{
		Scope: "reflect",
		Messages: []llm.Message{
			{Role: genx.RoleUser, Content: b.String()},
		},
		Tool: reflectTool,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: reflect: %w", err)
	}
	var arg reflectArg
	if err := json.Unmarshal([]byte(res.Args), &arg); err != nil {
		return nil, fmt.Errorf("engine: reflect: %w", err)
	}
	return &ReflectResult{Text: arg.Text, BasedOn: basedOn}, nil
}

// --- Management operations (spec.md §6) ---

func (e *Engine) ListBanks(ctx context.Context) ([]*store.Bank, error) {
	return e.deps.Store.ListBanks(ctx)
}

func (e *Engine) GetBankProfile(ctx context.Context, bankID string) (*store.Bank, error) {
	return e.deps.Store.GetOrCreateBank(ctx, bankID)
}

func (e *Engine) UpdateBankPersonality(ctx context.Context, bankID string, p store.Personality) (*store.Bank, error) {
	return e.deps.Store.UpdatePersonality(ctx, bankID, p)
}

func (e *Engine) MergeBankBackground(ctx context.Context, bankID, addition string) (*store.Bank, error) {
	return e.deps.Store.MergeBackground(ctx, bankID, addition)
}

func (e *Engine) ListMemories(ctx context.Context, bankID string, opts store.ListUnitsOptions) ([]*store.MemoryUnit, error) {
	return e.deps.Store.ListUnits(ctx, bankID, opts)
}

func (e *Engine) ListEntities(ctx context.Context, bankID string) ([]*store.Entity, error) {
	return e.deps.Store.ListEntities(ctx, bankID)
}

func (e *Engine) GetEntity(ctx context.Context, bankID, entityID string) (*store.Entity, error) {
	return e.deps.Store.GetEntity(ctx, bankID, entityID)
}

// RegenerateEntityObservations runs the Consolidator synchronously, bypassing
// the task backend so callers get an immediate result (spec.md §6).
func (e *Engine) RegenerateEntityObservations(ctx context.Context, bankID, entityID string) error {
	return e.consolidator.Regenerate(ctx, bankID, entityID)
}

func (e *Engine) ListDocuments(ctx context.Context, bankID string) ([]*store.Document, error) {
	return e.deps.Store.ListDocuments(ctx, bankID)
}

func (e *Engine) GetDocument(ctx context.Context, bankID, docID string) (*store.Document, error) {
	return e.deps.Store.GetDocument(ctx, bankID, docID)
}

func (e *Engine) DeleteDocument(ctx context.Context, bankID, docID string) error {
	return e.deps.Store.DeleteDocument(ctx, bankID, docID)
}

func (e *Engine) ListOperations(ctx context.Context, bankID string) ([]*store.AsyncOperation, error) {
	return e.deps.Store.ListOperations(ctx, bankID)
}

func (e *Engine) CancelOperation(ctx context.Context, bankID, opID string) error {
	return e.deps.Store.CancelOperation(ctx, bankID, opID)
}

func (e *Engine) DeleteBank(ctx context.Context, bankID string, factType *store.FactType) error {
	return e.deps.Store.DeleteBank(ctx, bankID, factType)
}

func (e *Engine) GetGraphData(ctx context.Context, bankID string, linkType *store.LinkType) ([]*store.MemoryLink, error) {
	return e.deps.Store.GraphData(ctx, bankID, linkType)
}

// RebuildIndex rebuilds a bank's vector index, promoting it to HNSW once
// its embedded unit count passes the configured threshold (or demoting it
// back to exact scan if it has since shrunk below that). An operator
// maintenance action, not something Retain triggers automatically.
func (e *Engine) RebuildIndex(ctx context.Context, bankID string) error {
	return e.deps.Store.RebuildIndex(ctx, bankID)
}

// Shutdown drains the task backend (spec.md §9: "an explicit Shutdown(ctx)
// that drains in-flight work before returning").
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.tasks.Shutdown(ctx)
}
