package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hindsight-ai/hindsight-go/internal/bootstrap"
	"github.com/hindsight-ai/hindsight-go/internal/config"
	"github.com/hindsight-ai/hindsight-go/pkg/task"
)

var flagConfig string

var rootCmd = &cobra.Command{
	Use:   "hindsightctl",
	Short: "Embedded command-line client for the memory engine",
	Long: `hindsightctl drives the memory engine directly, in-process, against a
configuration file — the same engine wiring hindsightd runs as a daemon,
but with an inline task backend for one-shot CLI use.

Example:
  hindsightctl retain --config hindsightd.yaml --bank default --text "met Alice for coffee"
  hindsightctl recall --config hindsightd.yaml --bank default --query "who did I meet?"`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to configuration YAML (required)")
	rootCmd.AddCommand(retainCmd, recallCmd, bankCmd)
}

// openEngine loads the configuration named by --config and wires an Engine
// backed by an inline task backend, so every hindsightctl invocation runs
// its background work (observation refresh, async retain) synchronously
// before the process exits.
func openEngine(ctx context.Context) (*bootstrap.Built, error) {
	if flagConfig == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return bootstrap.Build(ctx, cfg, task.NewInline())
}
