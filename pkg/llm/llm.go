// Package llm provides the scope-routed Completion gateway described in
// spec.md §4.2 and §6: "complete(messages, scope, temperature, max_tokens,
// schema?) → parsed ... the scope tag is an opaque routing hint used to
// choose model/budget."
//
// It sits directly on top of the teacher's pkg/genx plumbing the same way
// pkg/embed sits on top of remote embedding APIs: a small interface, a
// trie-routed multiplexer (pkg/embed/mux.go's shape, reused here via
// pkg/trie directly rather than pkg/genx/generators.Mux, so that the
// routing key is an engine scope like "memory" or "bank_background"
// rather than a model pattern), and one or more concrete generator
// implementations (genx.OpenAIGenerator, genx.GeminiGenerator).
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/hindsight-ai/hindsight-go/pkg/genx"
	"github.com/hindsight-ai/hindsight-go/pkg/trie"
)

// Message is one turn of a completion request.
type Message struct {
	Role    genx.Role
	Name    string
	Content string
}

// Request is the engine-facing Completion request (spec.md §4.2).
type Request struct {
	Messages    []Message
	Scope       string
	Temperature float32
	MaxTokens   int

	// Tool, when set, forces the completion to be validated against its
	// JSON schema (spec.md §4.2's schema? parameter).
	Tool *genx.FuncTool
}

// Result is the parsed output of a schema-constrained completion, or the
// raw text when no schema was requested.
type Result struct {
	Text  string
	Args  string // raw JSON arguments, when Tool was set
	Usage genx.Usage
}

// Gateway routes Completion requests to a registered genx.Generator by
// scope, exactly as pkg/embed.Mux routes Embed calls by pattern.
type Gateway struct {
	mux     *trie.Trie[genx.Generator]
	retries int
}

// NewGateway creates a Gateway. retries bounds SchemaError retries per
// spec.md §7 ("retried up to N times with tightened prompt").
func NewGateway(retries int) *Gateway {
	if retries <= 0 {
		retries = 2
	}
	return &Gateway{mux: trie.New[genx.Generator](), retries: retries}
}

// Handle registers a generator for a scope pattern (e.g. "memory",
// "bank_background", or the multi-level wildcard "#" as a default route).
func (g *Gateway) Handle(scopePattern string, gen genx.Generator) error {
	return g.mux.Set(scopePattern, func(ptr *genx.Generator, existed bool) error {
		if existed {
			return fmt.Errorf("llm: generator already registered for scope %q", scopePattern)
		}
		*ptr = gen
		return nil
	})
}

func (g *Gateway) resolve(scope string) (genx.Generator, error) {
	ptr, ok := g.mux.Get(scope)
	if !ok || ptr == nil || *ptr == nil {
		return nil, fmt.Errorf("llm: no generator registered for scope %q", scope)
	}
	return *ptr, nil
}

// Complete implements the Completion contract. When req.Tool is set, the
// response is validated against its schema by genx's Invoke path; on
// repeated validation failure a *SchemaError is returned after retries
// are exhausted (spec.md §7).
func (g *Gateway) Complete(ctx context.Context, req Request) (*Result, error) {
	gen, err := g.resolve(req.Scope)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	mctx := buildModelContext(req)

	if req.Tool == nil {
		stream, err := gen.GenerateStream(ctx, req.Scope, mctx)
		if err != nil {
			return nil, &TransientError{Op: "generate", Err: err}
		}
		defer stream.Close()
		var text string
		for {
			chunk, err := stream.Next()
			if errors.Is(err, genx.ErrDone) {
				break
			}
			if err != nil {
				return nil, &TransientError{Op: "generate", Err: err}
			}
			if t, ok := chunk.Part.(genx.Text); ok {
				text += string(t)
			}
		}
		return &Result{Text: text}, nil
	}

	var lastErr error
	for attempt := 0; attempt <= g.retries; attempt++ {
		usage, call, err := gen.Invoke(ctx, req.Scope, mctx, req.Tool)
		if err == nil {
			return &Result{Args: call.Arguments, Usage: usage}, nil
		}
		lastErr = err
	}
	return nil, &SchemaError{Scope: req.Scope, Attempts: g.retries + 1, Err: lastErr}
}

func buildModelContext(req Request) genx.ModelContext {
	b := &genx.ModelContextBuilder{
		Params: &genx.ModelParams{
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		},
	}
	for _, m := range req.Messages {
		b.AddMessage(&genx.Message{
			Role:    m.Role,
			Name:    m.Name,
			Payload: genx.Contents{genx.Text(m.Content)},
		})
	}
	return b.Build()
}
