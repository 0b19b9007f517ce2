// Command reconcile runs one pass of the crawl reconciliation pipeline:
// read the configured dataset, chunk and stamp its documents, embed them,
// and reconcile the result against the configured vector store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"lerian-mcp-memory/internal/config"
	"lerian-mcp-memory/internal/dataset"
	"lerian-mcp-memory/internal/errors"
	"lerian-mcp-memory/internal/logging"
	"lerian-mcp-memory/internal/orchestrator"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "", "path to an optional YAML config overlay")
	)
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	logger := logging.NewLogger(logging.ParseLogLevel(cfg.Logging.Level)).WithComponent("cmd/reconcile")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	embedder, err := orchestrator.BuildEmbedder(cfg)
	if err != nil {
		logger.Error("failed to build embedding provider", "error", err)
		return exitCode(err)
	}

	store, err := orchestrator.BuildStore(ctx, cfg, embedder.GetDimensions())
	if err != nil {
		logger.Error("failed to connect vector store", "error", err)
		return exitCode(err)
	}
	defer store.Close()

	client, err := buildDatasetClient(cfg)
	if err != nil {
		logger.Error("failed to build dataset client", "error", err)
		return exitCode(err)
	}

	pipeline := orchestrator.New(cfg, client, store, embedder)

	result, chunks, err := pipeline.Run(ctx)
	logger.Info("reconciliation run finished",
		"added", result.Added, "touched", result.Touched,
		"deleted", result.Deleted, "expired", result.Expired,
		"chunks_emitted", len(chunks))
	if err != nil {
		logger.Error("reconciliation run failed", "error", err)
		return exitCode(err)
	}
	return 0
}

// buildDatasetClient is the seam production deployments fill in with the
// crawler's own dataset storage client; this core only defines the Client
// contract in internal/dataset, not a concrete implementation, so the
// default here is the in-memory fake used for local dry runs.
func buildDatasetClient(cfg *config.Config) (dataset.Client, error) {
	if cfg.Dataset.DatasetID == "" {
		return nil, errors.ConfigInvalid("dataset.dataset_id", "must not be empty")
	}
	return &dataset.MemoryClient{}, nil
}

// exitCode maps a classified pipeline error to a process exit code so
// shell-level orchestration can branch without parsing log output.
func exitCode(err error) int {
	switch errors.Classify(err) {
	case errors.CodeConfigInvalid:
		return 2
	case errors.CodeDatasetUnavailable, errors.CodeBackendUnreachable:
		return 3
	case errors.CodePartialFailure:
		return 4
	default:
		return 1
	}
}
