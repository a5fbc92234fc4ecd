package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/framefeed/display-pipeline/pkg/pipeline"
)

// WorkFetcher returns the current pending batch.
type WorkFetcher interface {
	FetchStaged(ctx context.Context, limit int) ([]pipeline.Source, error)
}

// Coordinator fetches the pending batch, filters it to this instance's
// shard and drives each source through the processor with independent
// failure containment.
type Coordinator struct {
	fetcher    WorkFetcher
	processor  *Processor
	logger     zerolog.Logger
	shardIndex int
	shardCount int
	fetchLimit int
	attempt    int
}

// CoordinatorOptions wire the coordinator.
type CoordinatorOptions struct {
	Fetcher    WorkFetcher
	Processor  *Processor
	Logger     zerolog.Logger
	ShardIndex int
	ShardCount int
	FetchLimit int

	// Attempt is the scheduler's 0-based counter for this task run.
	Attempt int
}

// NewCoordinator creates a coordinator.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	return &Coordinator{
		fetcher:    opts.Fetcher,
		processor:  opts.Processor,
		logger:     opts.Logger,
		shardIndex: opts.ShardIndex,
		shardCount: opts.ShardCount,
		fetchLimit: opts.FetchLimit,
		attempt:    opts.Attempt,
	}
}

// Run processes this instance's shard and returns how many sources
// ended in terminal failure. A fetch error is the only way the run
// itself fails; per-source failures never stop the loop.
func (c *Coordinator) Run(ctx context.Context) (int, error) {
	batch, err := c.fetcher.FetchStaged(ctx, c.fetchLimit)
	if err != nil {
		return 0, fmt.Errorf("fetch staged sources: %w", err)
	}

	owned := Shard(batch, c.shardIndex, c.shardCount)
	c.logger.Info().
		Int("batch", len(batch)).
		Int("owned", len(owned)).
		Int("shard_index", c.shardIndex).
		Int("shard_count", c.shardCount).
		Msg("shard selected")

	terminal := 0
	for _, src := range owned {
		runID := uuid.New().String()
		logger := c.logger.With().Str("run_id", runID).Str("source_id", src.ID).Logger()

		result, err := c.processor.Run(ctx, src, c.attempt)
		if err != nil {
			if errors.Is(err, ErrAttemptsExhausted) {
				terminal++
			}
			// Failure is already reported; move on to the next source.
			continue
		}
		logger.Info().Str("status", result.Status).Msg("source finished")
	}

	return terminal, nil
}
