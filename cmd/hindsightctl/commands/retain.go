package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hindsight-ai/hindsight-go/pkg/retain"
)

var (
	retainBank    string
	retainText    string
	retainContext string
	retainDoc     string
)

var retainCmd = &cobra.Command{
	Use:   "retain",
	Short: "Extract and store a fact from a piece of text",
	RunE:  runRetain,
}

func init() {
	retainCmd.Flags().StringVar(&retainBank, "bank", "default", "memory bank ID")
	retainCmd.Flags().StringVar(&retainText, "text", "", "content to retain (required)")
	retainCmd.Flags().StringVar(&retainContext, "context", "", "speaker/source context")
	retainCmd.Flags().StringVar(&retainDoc, "document", "", "document ID to group this item under")
	_ = retainCmd.MarkFlagRequired("text")
}

func runRetain(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	built, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer built.Close()

	res, err := built.Engine.Retain(ctx, retainBank, []retain.Item{{
		Content:   retainText,
		Timestamp: time.Now().UTC(),
		Context:   retainContext,
	}}, retainDoc, false)
	if err != nil {
		return fmt.Errorf("retain: %w", err)
	}
	fmt.Printf("items_count=%d\n", res.ItemsCount)
	return nil
}
