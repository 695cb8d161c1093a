package commands

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hindsightd",
	Short: "Long-term memory engine daemon",
	Long: `hindsightd runs the memory engine's task backend worker against a
configuration file describing storage, embedding, and LLM routing.

Example:
  hindsightd serve --config hindsightd.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
