// Package config decodes the engine's YAML configuration document into a
// typed struct with defaults, the same way pkg/cortex decodes agent
// persona documents in the teacher.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Budget is one row of the recall budget table (spec.md §4.8).
type Budget struct {
	SeedsPerSource int `yaml:"seeds_per_source"`
	GraphDepth     int `yaml:"graph_depth"`
	Fanout         int `yaml:"fanout"`
}

// BudgetTable maps a qualitative tier name to its concrete parameters.
type BudgetTable map[string]Budget

// DefaultBudgetTable is the table from spec.md §4.8.
func DefaultBudgetTable() BudgetTable {
	return BudgetTable{
		"low":  {SeedsPerSource: 8, GraphDepth: 0, Fanout: 0},
		"mid":  {SeedsPerSource: 20, GraphDepth: 1, Fanout: 5},
		"high": {SeedsPerSource: 50, GraphDepth: 2, Fanout: 10},
	}
}

// Fusion holds the score-fusion weights from spec.md §4.8:
// score = α·sim + β·lexical + γ·graph_weight + δ·recency.
type Fusion struct {
	Alpha float64 `yaml:"alpha"`
	Beta  float64 `yaml:"beta"`
	Gamma float64 `yaml:"gamma"`
	Delta float64 `yaml:"delta"`
}

// Store configures the persistence layer.
type Store struct {
	// Dir is the Badger data directory.
	Dir string `yaml:"dir"`
	// BlobDir is the root for document/index blob storage (Local FileStore).
	BlobDir string `yaml:"blob_dir"`
	// S3Bucket selects the S3 FileStore backend, which bootstrap.Build does
	// not wire: Build returns an error when S3Bucket is set.
	S3Bucket string `yaml:"s3_bucket,omitempty"`
	S3Prefix string `yaml:"s3_prefix,omitempty"`
	// HNSWThreshold is the unit count above which a bank's vector index
	// switches from exact scan to HNSW (spec.md §9).
	HNSWThreshold int `yaml:"hnsw_threshold"`
}

// LLM configures the scope-routed Completion/Embedding gateway.
type LLM struct {
	// Routes maps a scope pattern registered in pkg/llm's gateway (e.g.
	// "memory", "bank_background") to a "<provider>/<model>" route (e.g.
	// "openai/gpt-4o-mini").
	Routes map[string]string `yaml:"routes"`
	// EmbedModel is the embedder's "<provider>/<model>" route.
	EmbedModel string `yaml:"embed_model"`
	// EmbedDim is the embedding dimension requested from the embedder and
	// used as the Store's vector dimension. Build does not compare it
	// against the dimension the embedder reports.
	EmbedDim int `yaml:"embed_dim"`
	// SchemaRetries bounds retries on SchemaError before falling back
	// to the heuristic repair path (spec.md §7).
	SchemaRetries int `yaml:"schema_retries"`
}

// Config is the engine's top-level configuration document.
type Config struct {
	Store Store  `yaml:"store"`
	LLM   LLM    `yaml:"llm"`
	Fusion Fusion `yaml:"fusion"`
	Budgets BudgetTable `yaml:"budgets,omitempty"`

	// TemporalWindow is W from spec.md §3/§4.4 — the default temporal
	// link window.
	TemporalWindow time.Duration `yaml:"temporal_window"`
	// SemanticTopK and SemanticThreshold bound the semantic link pass.
	SemanticTopK        int     `yaml:"semantic_top_k"`
	SemanticThreshold   float32 `yaml:"semantic_threshold"`
	// DedupThreshold is Tdedup from spec.md §4.6.
	DedupThreshold float32 `yaml:"dedup_threshold"`
	// RecencyHorizon is the horizon used by the temporal deprioritization
	// filter in spec.md §4.8.
	RecencyHorizon time.Duration `yaml:"recency_horizon"`
	// ObservationsEnabled toggles the observation refresh that the Retain
	// Pipeline queues for each entity its new units mention (spec.md §4.7).
	// When false, observations are regenerated only on explicit request.
	ObservationsEnabled bool `yaml:"observations_enabled"`
}

func (c *Config) applyDefaults() {
	if c.Store.HNSWThreshold == 0 {
		c.Store.HNSWThreshold = 10_000
	}
	if c.Budgets == nil {
		c.Budgets = DefaultBudgetTable()
	}
	if c.Fusion == (Fusion{}) {
		c.Fusion = Fusion{Alpha: 0.5, Beta: 0.2, Gamma: 0.2, Delta: 0.1}
	}
	if c.TemporalWindow == 0 {
		c.TemporalWindow = 24 * time.Hour
	}
	if c.SemanticTopK == 0 {
		c.SemanticTopK = 5
	}
	if c.SemanticThreshold == 0 {
		c.SemanticThreshold = 0.7
	}
	if c.DedupThreshold == 0 {
		c.DedupThreshold = 0.95
	}
	if c.RecencyHorizon == 0 {
		c.RecencyHorizon = 30 * 24 * time.Hour
	}
	if c.LLM.SchemaRetries == 0 {
		c.LLM.SchemaRetries = 2
	}
}

// Load reads and decodes a configuration document from path, applying
// defaults for any zero-valued field.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.applyDefaults()
	if c.Store.Dir == "" {
		return nil, fmt.Errorf("config: store.dir is required")
	}
	if c.LLM.EmbedModel == "" {
		return nil, fmt.Errorf("config: llm.embed_model is required")
	}
	return &c, nil
}

// Default returns a Config with every field at its documented default,
// suitable for tests and embedded use.
func Default(storeDir, embedModel string, embedDim int) *Config {
	c := &Config{
		Store: Store{Dir: storeDir},
		LLM:   LLM{EmbedModel: embedModel, EmbedDim: embedDim, Routes: map[string]string{}},
	}
	c.applyDefaults()
	return c
}
