// Package bootstrap wires an engine.Engine from a config.Config, the same
// client-construction idiom the teacher's example CLIs use to build
// genx.OpenAIGenerator/GeminiGenerator instances from API keys in the
// environment (examples/go/genx/chat/main.go), generalized to the engine's
// scope-routed gateway instead of a fixed two-model demo.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	gai "google.golang.org/genai"

	"github.com/hindsight-ai/hindsight-go/internal/config"
	"github.com/hindsight-ai/hindsight-go/internal/store"
	"github.com/hindsight-ai/hindsight-go/pkg/embed"
	"github.com/hindsight-ai/hindsight-go/pkg/engine"
	"github.com/hindsight-ai/hindsight-go/pkg/genx"
	"github.com/hindsight-ai/hindsight-go/pkg/kv"
	"github.com/hindsight-ai/hindsight-go/pkg/llm"
	"github.com/hindsight-ai/hindsight-go/pkg/storage"
	"github.com/hindsight-ai/hindsight-go/pkg/task"
)

// noopLogger silences Badger's default stderr logging, the same
// quiet-by-default posture cmd/cortextest's embedded broker takes for its
// own dependencies.
type noopLogger struct{}

func (noopLogger) Errorf(string, ...any)   {}
func (noopLogger) Warningf(string, ...any) {}
func (noopLogger) Infof(string, ...any)    {}
func (noopLogger) Debugf(string, ...any)   {}

// Built bundles an Engine with the underlying KV store so callers can Close
// it on shutdown.
type Built struct {
	Engine *engine.Engine
	store  *store.Store
}

// Close releases the underlying store.
func (b *Built) Close() error {
	return b.store.Close()
}

// Build constructs a full Engine from a loaded configuration: a Badger-backed
// Store, an embedder resolved from cfg.LLM.EmbedModel, an LLM Gateway with a
// generator registered per cfg.LLM.Routes entry, and the given task backend.
func Build(ctx context.Context, cfg *config.Config, tasks task.Backend) (*Built, error) {
	kvStore, err := kv.NewBadger(kv.BadgerOptions{
		Options: &kv.Options{},
		Dir:     cfg.Store.Dir,
		Logger:  noopLogger{},
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open badger store: %w", err)
	}

	var blobs storage.FileStore
	if cfg.Store.S3Bucket != "" {
		return nil, fmt.Errorf("bootstrap: S3 blob storage requires a pre-configured S3Client; wire storage.NewS3 in an embedding caller instead of hindsightd")
	}
	if cfg.Store.BlobDir != "" {
		blobs, err = storage.NewLocal(cfg.Store.BlobDir)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: open blob dir: %w", err)
		}
	}

	embedder, err := buildEmbedder(cfg.LLM.EmbedModel, cfg.LLM.EmbedDim)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: build embedder: %w", err)
	}

	st, err := store.New(store.Config{
		KV:            kvStore,
		Blobs:         blobs,
		Dim:           cfg.LLM.EmbedDim,
		HNSWThreshold: cfg.Store.HNSWThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: new store: %w", err)
	}

	gw := llm.NewGateway(cfg.LLM.SchemaRetries)
	providers := map[string]genx.Generator{}
	for scope, route := range cfg.LLM.Routes {
		gen, err := buildGenerator(ctx, providers, route)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: route %q: %w", scope, err)
		}
		if err := gw.Handle(scope, gen); err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
	}

	eng, err := engine.New(engine.Deps{
		Store:    st,
		Gateway:  gw,
		Embedder: embedder,
		Config:   cfg,
		Tasks:    tasks,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: new engine: %w", err)
	}
	return &Built{Engine: eng, store: st}, nil
}

// buildEmbedder resolves "<provider>/<model>" into a concrete embed.Embedder,
// reading the provider's API key from its conventional environment variable.
func buildEmbedder(route string, dim int) (engine.Embedder, error) {
	provider, model, ok := strings.Cut(route, "/")
	if !ok {
		return nil, fmt.Errorf("embed_model %q must be \"<provider>/<model>\"", route)
	}
	switch provider {
	case "dashscope":
		apiKey := os.Getenv("DASHSCOPE_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("DASHSCOPE_API_KEY environment variable not set")
		}
		opts := []embed.Option{embed.WithModel(model)}
		if dim > 0 {
			opts = append(opts, embed.WithDimension(dim))
		}
		return embed.NewDashScope(apiKey, opts...), nil
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
		opts := []embed.Option{embed.WithModel(model)}
		if dim > 0 {
			opts = append(opts, embed.WithDimension(dim))
		}
		return embed.NewOpenAI(apiKey, opts...), nil
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", provider)
	}
}

// buildGenerator resolves "<provider>/<model>" into a genx.Generator,
// caching one generator per route so every scope that names the same
// "<provider>/<model>" route reuses the same client.
func buildGenerator(ctx context.Context, cache map[string]genx.Generator, route string) (genx.Generator, error) {
	if gen, ok := cache[route]; ok {
		return gen, nil
	}
	provider, model, ok := strings.Cut(route, "/")
	if !ok {
		return nil, fmt.Errorf("route %q must be \"<provider>/<model>\"", route)
	}
	var gen genx.Generator
	switch provider {
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
		client := openai.NewClient(option.WithAPIKey(apiKey), option.WithHTTPClient(http.DefaultClient))
		gen = &genx.OpenAIGenerator{
			Client:           &client,
			Model:            model,
			SupportToolCalls: true,
			UseSystemRole:    true,
			GenerateParams:   &genx.ModelParams{MaxTokens: 1024, Temperature: 0.3},
		}
	case "gemini":
		apiKey := os.Getenv("GEMINI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
		}
		client, err := gai.NewClient(ctx, &gai.ClientConfig{APIKey: apiKey, Backend: gai.BackendGeminiAPI})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		gen = &genx.GeminiGenerator{
			Client:         client,
			Model:          model,
			GenerateParams: &genx.ModelParams{MaxTokens: 1024, Temperature: 0.3},
		}
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
	cache[route] = gen
	return gen, nil
}
