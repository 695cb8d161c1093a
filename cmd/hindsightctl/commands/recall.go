package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hindsight-ai/hindsight-go/pkg/engine"
	"github.com/hindsight-ai/hindsight-go/pkg/retrieval"
)

var (
	recallBank      string
	recallQuery     string
	recallBudget    string
	recallMaxTokens int
	recallFilters   string
	recallEntities  bool
	recallTrace     bool
)

var recallCmd = &cobra.Command{
	Use:   "recall",
	Short: "Retrieve facts relevant to a query from a bank",
	RunE:  runRecall,
}

func init() {
	recallCmd.Flags().StringVar(&recallBank, "bank", "default", "memory bank ID")
	recallCmd.Flags().StringVar(&recallQuery, "query", "", "recall query (required)")
	recallCmd.Flags().StringVar(&recallBudget, "budget", "mid", "budget tier: low, mid, or high")
	recallCmd.Flags().IntVar(&recallMaxTokens, "max-tokens", 2000, "token budget for the assembled result")
	recallCmd.Flags().StringVar(&recallFilters, "filter", "", "gojq metadata filter expression")
	recallCmd.Flags().BoolVar(&recallEntities, "entities", false, "include the entity sidebar")
	recallCmd.Flags().BoolVar(&recallTrace, "trace", false, "print the retrieval trace")
	_ = recallCmd.MarkFlagRequired("query")
}

func runRecall(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	built, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer built.Close()

	res, err := built.Engine.Recall(ctx, recallBank, engine.RecallRequest{
		Query:           recallQuery,
		Budget:          retrieval.Budget(recallBudget),
		MaxTokens:       recallMaxTokens,
		Filters:         recallFilters,
		IncludeEntities: recallEntities,
		Trace:           recallTrace,
	})
	if err != nil {
		return fmt.Errorf("recall: %w", err)
	}

	for _, u := range res.Units {
		fmt.Printf("[%s] %s\n", u.FactType, u.Text)
	}
	if recallEntities {
		for _, sidebar := range res.Entities {
			fmt.Printf("entity %s: %d observations\n", sidebar.EntityID, len(sidebar.Observations))
		}
	}
	if recallTrace {
		for _, t := range res.Trace {
			fmt.Printf("trace: %s %s score=%.4f\n", t.Source, t.UnitID, t.Score)
		}
	}
	return nil
}
