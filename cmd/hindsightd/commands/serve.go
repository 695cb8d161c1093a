package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hindsight-ai/hindsight-go/internal/bootstrap"
	"github.com/hindsight-ai/hindsight-go/internal/config"
	"github.com/hindsight-ai/hindsight-go/pkg/task"
)

var (
	flagConfig        string
	flagBatchSize     int
	flagBatchInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the memory engine's task backend worker",
	Long: `serve loads a configuration file, wires the storage, embedding, and
LLM backends it describes, and runs the concurrent task backend worker
until interrupted.

Example:
  hindsightd serve --config hindsightd.yaml`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagConfig, "config", "", "path to configuration YAML (required)")
	serveCmd.Flags().IntVar(&flagBatchSize, "batch-size", 10, "task batch size")
	serveCmd.Flags().DurationVar(&flagBatchInterval, "batch-interval", time.Second, "task batch collection interval")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))
	logger := slog.Default()

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("hindsightd: shutting down")
		cancel()
	}()

	tasks := task.NewConcurrent(task.ConcurrentConfig{
		BatchSize:     flagBatchSize,
		BatchInterval: flagBatchInterval,
	})

	built, err := bootstrap.Build(ctx, cfg, tasks)
	if err != nil {
		return fmt.Errorf("bootstrap engine: %w", err)
	}
	defer built.Close()

	logger.Info("hindsightd: ready", "store_dir", cfg.Store.Dir)
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := built.Engine.Shutdown(shutdownCtx); err != nil {
		logger.Error("hindsightd: shutdown error", "error", err)
	}
	logger.Info("hindsightd: stopped")
	return nil
}
