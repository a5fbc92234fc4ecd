// The shard worker processes one disjoint partition of the staged
// source batch and exits. The surrounding scheduler runs SHARD_COUNT
// instances in parallel and retries failed tasks with an incremented
// TASK_ATTEMPT.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/framefeed/display-pipeline/internal/backend"
	"github.com/framefeed/display-pipeline/internal/config"
	"github.com/framefeed/display-pipeline/internal/metrics"
	"github.com/framefeed/display-pipeline/internal/palette"
	"github.com/framefeed/display-pipeline/internal/render"
	"github.com/framefeed/display-pipeline/internal/storage"
	"github.com/framefeed/display-pipeline/internal/worker"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("configuration invalid")
	}
	logger = logger.With().Int("shard_index", cfg.ShardIndex).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewS3Store(ctx, storage.S3Options{
		Bucket:   cfg.StorageBucket,
		Endpoint: cfg.StorageEndpoint,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("storage init failed")
	}

	collector := metrics.New(prometheus.DefaultRegisterer)
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	backendClient := backend.New(cfg.BackendURL)

	processor := worker.NewProcessor(worker.ProcessorOptions{
		Backend:  backendClient,
		Staging:  storage.NewResolver(store),
		Store:    store,
		Renderer: render.New(),
		Palette:  palette.NewFrequencyExtractor(),
		Metrics:  collector,
		Logger:   logger,
	})

	coordinator := worker.NewCoordinator(worker.CoordinatorOptions{
		Fetcher:    backendClient,
		Processor:  processor,
		Logger:     logger,
		ShardIndex: cfg.ShardIndex,
		ShardCount: cfg.ShardCount,
		FetchLimit: cfg.FetchLimit,
		Attempt:    cfg.Attempt,
	})

	terminal, err := coordinator.Run(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("shard run failed")
	}

	if terminal > 0 {
		// Signal the orchestrator without having stopped mid-run.
		logger.Error().Int("terminal_failures", terminal).Msg("shard finished with terminal failures")
		os.Exit(1)
	}
	logger.Info().Msg("shard finished")
}
