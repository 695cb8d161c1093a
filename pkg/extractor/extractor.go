// Package extractor implements the Fact Extractor (spec.md §4.5): it turns
// raw text into a sequence of self-contained, temporally-anchored facts and
// enforces the output-size bounds itself. Of the contracts the LLM schema is
// prompted to satisfy, it re-checks only three on the returned facts: an
// unknown fact_type becomes world, an occurred_end before occurred_start is
// clamped to the start, and vague diction is stripped from the text. The
// other contracts are not re-checked.
//
// It follows the same shape as the teacher's pkg/genx/segmentors.GenX: a
// FuncTool-constrained LLM call, a typed argument struct mirroring the JSON
// schema, and a parse step that converts the raw call into the package's
// own result type.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hindsight-ai/hindsight-go/internal/store"
	"github.com/hindsight-ai/hindsight-go/pkg/genx"
	"github.com/hindsight-ai/hindsight-go/pkg/jsontime"
	"github.com/hindsight-ai/hindsight-go/pkg/linkbuilder"
	"github.com/hindsight-ai/hindsight-go/pkg/llm"
)

// Request is one extraction call's input (spec.md §4.5).
type Request struct {
	Content   string
	Context   string
	EventDate time.Time
	BankName  string // the agent identity, for speaker attribution
	Hints     string
}

// Fact is one extracted fact before embedding or entity resolution.
type Fact struct {
	Text          string
	FactType      store.FactType
	OccurredStart time.Time
	OccurredEnd   time.Time
	Entities      []linkbuilder.EntityMention // UnitIndex is local to this Result's Facts
}

// Result is the validated output of one Extract call. Causal's indices are
// local to Facts; the retain pipeline offsets them when concatenating
// batches from multiple items (spec.md §4.6 step 5's extraction order).
type Result struct {
	Facts  []Fact
	Causal []linkbuilder.CausalRelation
}

var vagueDiction = regexp.MustCompile(`(?i)\b(recently|soon|lately)\b`)

type factArg struct {
	Text            string          `json:"text"`
	FactType        string          `json:"fact_type"`
	OccurredStart   jsontime.Unix   `json:"occurred_start"`
	OccurredEnd     jsontime.Unix   `json:"occurred_end"`
	Entities        []entityArg     `json:"entities"`
}

type entityArg struct {
	Text       string   `json:"text"`
	Type       string   `json:"type"`
	CoMentions []string `json:"co_mentions"`
}

type causalArg struct {
	FromIndex int     `json:"from_index"`
	ToIndex   int     `json:"to_index"`
	Relation  string  `json:"relation"` // causes, caused_by, enables, prevents
	Strength  float32 `json:"strength"`
}

type extractionArg struct {
	Facts           []factArg   `json:"facts"`
	CausalRelations []causalArg `json:"causal_relations"`
}

var extractTool = genx.MustNewFuncTool[extractionArg](
	"extract_facts",
	"Extract self-contained, temporally-anchored facts from a piece of text.",
)

// Extractor is the Fact Extractor bound to a completion gateway.
type Extractor struct {
	gw         *llm.Gateway
	scope      string
	maxRetries int

	// size bounds (spec.md §4.5 Output-size discipline)
	maxTotalRatio  int
	maxFactChars   int
	maxFactsPerSentenceMult int
}

// Config configures an Extractor's retry and size-bound behavior.
type Config struct {
	Scope      string
	MaxRetries int
}

// New creates an Extractor.
func New(gw *llm.Gateway, cfg Config) *Extractor {
	if cfg.Scope == "" {
		cfg.Scope = "fact_extraction"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	return &Extractor{
		gw:                      gw,
		scope:                   cfg.Scope,
		maxRetries:              cfg.MaxRetries,
		maxTotalRatio:           4,
		maxFactChars:            1000,
		maxFactsPerSentenceMult: 2,
	}
}

// Extract calls the LLM and re-validates its output against spec.md §4.5's
// contracts, retrying with a tightened prompt on a size violation and
// truncating as a last resort.
func (e *Extractor) Extract(ctx context.Context, req Request) (*Result, error) {
	tightened := false
	var lastResult *Result
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		arg, err := e.invoke(ctx, req, tightened)
		if err != nil {
			return nil, fmt.Errorf("extractor: %w", err)
		}
		result := convert(arg, req)
		if withinBounds(result, req.Content, e.maxTotalRatio, e.maxFactChars, e.maxFactsPerSentenceMult) {
			return result, nil
		}
		lastResult = result
		tightened = true
	}
	return truncate(lastResult, req.Content, e.maxTotalRatio, e.maxFactChars, e.maxFactsPerSentenceMult), nil
}

func (e *Extractor) invoke(ctx context.Context, req Request, tightened bool) (*extractionArg, error) {
	prompt := buildPrompt(req, tightened)
	res, err := e.gw.Complete(ctx, llm.Request{
		Scope: e.scope,
		Messages: []llm.Message{
			{Role: genx.RoleUser, Content: prompt},
		},
		Tool: extractTool,
	})
	if err != nil {
		return nil, err
	}
	var arg extractionArg
	if err := json.Unmarshal([]byte(res.Args), &arg); err != nil {
		return nil, err
	}
	return &arg, nil
}

func buildPrompt(req Request, tightened bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Agent identity (the \"bank\"): %s\n", req.BankName)
	fmt.Fprintf(&b, "Reference event date (event_date, resolve relative dates against this): %s\n", req.EventDate.Format(time.RFC3339))
	if req.Context != "" {
		fmt.Fprintf(&b, "Document context: %s\n", req.Context)
	}
	if req.Hints != "" {
		fmt.Fprintf(&b, "Hints: %s\n", req.Hints)
	}
	b.WriteString("Text:\n")
	b.WriteString(req.Content)
	b.WriteString("\n\n")
	b.WriteString("Extract self-contained facts. Resolve pronouns and relative dates. " +
		"Do not use vague temporal words like recently, soon, or lately. " +
		"When the agent is a named speaker, write their utterances as first-person agent facts; " +
		"write other speakers' utterances as third-person world facts naming them. " +
		"Drop meta-commentary such as intros, sign-offs, or subscribe/rate requests. " +
		"Preserve emotional, sensory, cognitive-certainty, capability, comparative, attitudinal, " +
		"intentional, and evaluative content. Join adjacent statements that share a referent into " +
		"a single fact when that reveals an inference the source implies. " +
		"causal_relations reference facts by their index in this output's facts list.")
	if tightened {
		b.WriteString("\nThe previous attempt exceeded the output size bounds: keep facts terse, " +
			"merge near-duplicates, and do not exceed twice the number of input sentences.")
	}
	return b.String()
}

func convert(arg *extractionArg, req Request) *Result {
	facts := make([]Fact, len(arg.Facts))
	for i, f := range arg.Facts {
		ft := store.FactType(f.FactType)
		if !ft.Valid() {
			ft = store.FactWorld
		}
		start := f.OccurredStart.Time()
		end := f.OccurredEnd.Time()
		if end.Before(start) {
			end = start
		}
		mentions := make([]linkbuilder.EntityMention, len(f.Entities))
		for j, e := range f.Entities {
			mentions[j] = linkbuilder.EntityMention{UnitIndex: i, Text: e.Text, Type: e.Type, CoMentions: e.CoMentions}
		}
		facts[i] = Fact{
			Text:          stripVagueDiction(f.Text),
			FactType:      ft,
			OccurredStart: start,
			OccurredEnd:   end,
			Entities:      mentions,
		}
	}
	var causal []linkbuilder.CausalRelation
	for _, c := range arg.CausalRelations {
		lt := parseRelation(c.Relation)
		if lt == "" {
			continue
		}
		causal = append(causal, linkbuilder.CausalRelation{FromIndex: c.FromIndex, ToIndex: c.ToIndex, LinkType: lt, Strength: c.Strength})
	}
	return &Result{Facts: facts, Causal: causal}
}

func parseRelation(s string) store.LinkType {
	switch store.LinkType(s) {
	case store.LinkCauses, store.LinkCausedBy, store.LinkEnables, store.LinkPrevents:
		return store.LinkType(s)
	default:
		return ""
	}
}

// stripVagueDiction removes contract-3 violations that slip past the
// prompt rather than rejecting the whole fact over a stray adjective.
func stripVagueDiction(text string) string {
	return strings.TrimSpace(vagueDiction.ReplaceAllString(text, ""))
}

func withinBounds(r *Result, input string, maxTotalRatio, maxFactChars, maxFactsMult int) bool {
	total := 0
	for _, f := range r.Facts {
		if len(f.Text) > maxFactChars {
			return false
		}
		total += len(f.Text)
	}
	if total > maxTotalRatio*len(input) {
		return false
	}
	if len(r.Facts) > maxFactsMult*countSentences(input) {
		return false
	}
	return true
}

func truncate(r *Result, input string, maxTotalRatio, maxFactChars, maxFactsMult int) *Result {
	if r == nil {
		return &Result{}
	}
	maxFacts := maxFactsMult * countSentences(input)
	if maxFacts <= 0 {
		maxFacts = 1
	}
	facts := r.Facts
	if len(facts) > maxFacts {
		facts = facts[:maxFacts]
	}
	budget := maxTotalRatio * len(input)
	used := 0
	out := facts[:0]
	for _, f := range facts {
		if len(f.Text) > maxFactChars {
			f.Text = f.Text[:maxFactChars]
		}
		if used+len(f.Text) > budget {
			break
		}
		used += len(f.Text)
		out = append(out, f)
	}
	return &Result{Facts: out}
}

func countSentences(s string) int {
	n := strings.Count(s, ".") + strings.Count(s, "!") + strings.Count(s, "?")
	if n == 0 {
		return 1
	}
	return n
}
