// The pipeline worker is the durable deployment mode: sources are
// enqueued over HTTP and processed as checkpointed DBOS workflows
// instead of scheduler-retried batch tasks.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/framefeed/display-pipeline/internal/backend"
	"github.com/framefeed/display-pipeline/internal/dbosruntime"
	"github.com/framefeed/display-pipeline/internal/dedupe"
	"github.com/framefeed/display-pipeline/internal/handlers"
	"github.com/framefeed/display-pipeline/internal/metrics"
	"github.com/framefeed/display-pipeline/internal/palette"
	"github.com/framefeed/display-pipeline/internal/render"
	"github.com/framefeed/display-pipeline/internal/storage"
	"github.com/framefeed/display-pipeline/internal/worker"
	"github.com/framefeed/display-pipeline/internal/workflows"
	"github.com/framefeed/display-pipeline/pkg/pipeline"
)

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	httpAddr := os.Getenv("WORKER_HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":8081"
	}

	backendURL := os.Getenv("BACKEND_URL")
	if backendURL == "" {
		logger.Fatal().Msg("BACKEND_URL is required")
	}
	bucket := os.Getenv("STORAGE_BUCKET")
	if bucket == "" {
		logger.Fatal().Msg("STORAGE_BUCKET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewS3Store(ctx, storage.S3Options{
		Bucket:   bucket,
		Endpoint: os.Getenv("STORAGE_ENDPOINT"),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("storage init failed")
	}

	// Initialize DBOS runtime (required in this mode)
	dbURL := os.Getenv("DBOS_SYSTEM_DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DBOS_SYSTEM_DATABASE_URL is required")
	}
	queueName := os.Getenv("DBOS_QUEUE_NAME")
	if queueName == "" {
		queueName = "default"
	}
	concurrency := 0
	if v := os.Getenv("DBOS_QUEUE_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Fatal().Str("value", v).Msg("DBOS_QUEUE_CONCURRENCY must be a positive integer")
		}
		concurrency = n
	}

	dbosRuntime, err := dbosruntime.NewRuntime(context.Background(), dbosruntime.Config{
		DatabaseURL: dbURL,
		AppName:     "display-pipeline-worker",
		QueueName:   queueName,
		Concurrency: concurrency,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize DBOS")
	}

	ledger, err := dedupe.NewLedger(dbosRuntime.DB(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize dedupe ledger")
	}

	processor := worker.NewProcessor(worker.ProcessorOptions{
		Backend:  backend.New(backendURL),
		Staging:  storage.NewResolver(store),
		Store:    store,
		Renderer: render.New(),
		Palette:  palette.NewFrequencyExtractor(),
		Metrics:  metrics.New(prometheus.DefaultRegisterer),
		Logger:   logger,
	})

	// Workflow registration must happen before Launch
	workflowRunner := workflows.NewWorkflowRunner(dbosRuntime)
	sourceWorkflow := workflows.NewSourceWorkflow(processor, ledger, logger)
	workflowRunner.Register(pipeline.JobProcessSource, sourceWorkflow)
	logger.Info().
		Str("workflow", sourceWorkflow.Name()).
		Str("job", pipeline.JobProcessSource).
		Msg("registered workflow")

	if err := dbosRuntime.Launch(); err != nil {
		logger.Fatal().Err(err).Msg("failed to launch DBOS")
	}
	defer dbosRuntime.Shutdown(10 * time.Second)

	logger.Info().
		Str("queue", dbosRuntime.QueueName()).
		Int("concurrency", dbosRuntime.Concurrency()).
		Msg("DBOS runtime initialized")

	asyncHandler := handlers.NewAsyncHandler(workflowRunner, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/v1/process", asyncHandler.HandleProcessAsync)
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:    httpAddr,
		Handler: mux,
	}

	go func() {
		logger.Info().Str("addr", httpAddr).Msg("pipeline worker starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}
	logger.Info().Msg("server stopped")
}
