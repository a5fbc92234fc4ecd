package workflows

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/framefeed/display-pipeline/internal/dedupe"
	"github.com/framefeed/display-pipeline/internal/worker"
	"github.com/framefeed/display-pipeline/pkg/pipeline"
)

// SourceWorkflow processes one staged source through the pipeline
// processor: register, fingerprint, dedup gate, render, finalize.
type SourceWorkflow struct {
	processor *worker.Processor
	ledger    *dedupe.Ledger
	logger    zerolog.Logger
}

// NewSourceWorkflow creates a source-processing workflow. ledger may be
// nil when no dedupe ledger is configured.
func NewSourceWorkflow(processor *worker.Processor, ledger *dedupe.Ledger, logger zerolog.Logger) *SourceWorkflow {
	return &SourceWorkflow{
		processor: processor,
		ledger:    ledger,
		logger:    logger,
	}
}

// Name returns the workflow name
func (w *SourceWorkflow) Name() string {
	return "SourceWorkflow"
}

// Execute runs the source-processing workflow
func (w *SourceWorkflow) Execute(wctx *WorkflowContext) (*WorkflowResult, error) {
	logger := w.logger.With().
		Str("run_id", wctx.RunID).
		Str("source_id", wctx.Request.Source.ID).
		Logger()

	if err := w.validateRequest(&wctx.Request); err != nil {
		logger.Error().Err(err).Msg("validation failed")
		return &WorkflowResult{
			Success: false,
			Error:   err.Error(),
		}, err
	}

	result, err := w.processor.Run(wctx.Ctx, wctx.Request.Source, wctx.Request.Attempt)
	if err != nil {
		// The processor has already reported the failure to the
		// backend; the workflow outcome mirrors it.
		return &WorkflowResult{
			Success: false,
			Error:   err.Error(),
		}, err
	}

	if w.ledger != nil {
		seen, err := w.ledger.Record(wctx.Ctx, result.Fingerprint, wctx.Request.Source.ID, wctx.Request.Source.Origin)
		if err != nil {
			logger.Warn().Err(err).Msg("dedupe ledger record failed")
		} else {
			logger.Info().Int("seen_count", seen).Msg("fingerprint recorded")
		}
	}

	logger.Info().
		Str("status", result.Status).
		Int("variants", len(result.Variants)).
		Msg("source workflow completed")

	return &WorkflowResult{
		Success:     true,
		Status:      result.Status,
		Fingerprint: result.Fingerprint,
		Variants:    len(result.Variants),
	}, nil
}

// validateRequest validates the workflow request
func (w *SourceWorkflow) validateRequest(req *pipeline.ProcessRequest) error {
	if req.Source.ID == "" {
		return fmt.Errorf("%w: source id is required", ErrInvalidRequest)
	}
	if req.Source.StagingPath == "" {
		return fmt.Errorf("%w: staging path is required", ErrInvalidRequest)
	}
	if req.Attempt < 0 {
		return fmt.Errorf("%w: attempt must be >= 0", ErrInvalidRequest)
	}
	return nil
}
