package retrieval

import (
	"fmt"

	"github.com/itchyny/gojq"
)

// Filter wraps a pre-parsed jq expression evaluated against a unit's
// metadata map, the same pre-parse-at-deserialize shape as the teacher's
// genx/agentcfg.JQExpr.
type Filter struct {
	Expr  string
	query *gojq.Query
}

// ParseFilter compiles a jq expression. An empty expression matches
// everything.
func ParseFilter(expr string) (*Filter, error) {
	if expr == "" {
		return &Filter{}, nil
	}
	q, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("retrieval: invalid filter expression %q: %w", expr, err)
	}
	return &Filter{Expr: expr, query: q}, nil
}

// Match reports whether metadata satisfies the filter, using jq truthiness
// (null and false are falsy, everything else truthy) on the first result.
func (f *Filter) Match(metadata map[string]string) bool {
	if f == nil || f.query == nil {
		return true
	}
	input := make(map[string]any, len(metadata))
	for k, v := range metadata {
		input[k] = v
	}
	iter := f.query.Run(input)
	v, ok := iter.Next()
	if !ok {
		return false
	}
	if err, ok := v.(error); ok {
		_ = err
		return false
	}
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	default:
		return true
	}
}
