package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/framefeed/display-pipeline/internal/backend"
	"github.com/framefeed/display-pipeline/internal/fingerprint"
	"github.com/framefeed/display-pipeline/internal/geometry"
	"github.com/framefeed/display-pipeline/internal/layout"
	"github.com/framefeed/display-pipeline/internal/metrics"
	"github.com/framefeed/display-pipeline/internal/palette"
	"github.com/framefeed/display-pipeline/internal/storage"
	"github.com/framefeed/display-pipeline/pkg/pipeline"
)

// MaxAttempts is the attempt budget per source. A failure on the final
// attempt is reported as terminal; earlier failures as transient.
const MaxAttempts = 3

// thumbnail box for the contain-fit render
const (
	thumbWidth  = 300
	thumbHeight = 300
)

// paletteColors is how many palette entries the sidecar carries.
const paletteColors = 6

// ErrAttemptsExhausted wraps a source failure whose attempt budget is
// spent. The external queue must not re-schedule such a source.
var ErrAttemptsExhausted = errors.New("attempts exhausted")

// Backend is the slice of the backend client the processor needs.
type Backend interface {
	CheckHash(ctx context.Context, fp string) (bool, error)
	RegisterAttempt(ctx context.Context, sourceID string, attempt int) (*backend.StartResponse, error)
	Finalize(ctx context.Context, req backend.FinalizeRequest) error
	ReportTerminalFailure(ctx context.Context, sourceID string, req backend.TerminalFailureRequest) error
	ReportTransientFailure(ctx context.Context, sourceID string, req backend.TransientFailureRequest) error
}

// StagingOpener resolves a staging URI to the source bytes.
type StagingOpener interface {
	Open(ctx context.Context, stagingPath string) (io.ReadCloser, error)
}

// Renderer is the external image-resize/encode capability.
type Renderer interface {
	Decode(data []byte) (image.Image, string, error)
	Cover(img image.Image, width, height int) ([]byte, error)
	Contain(img image.Image, width, height int) ([]byte, error)
}

// Processor drives one source through register, fingerprint, dedup
// gate, render and finalize.
type Processor struct {
	backend  Backend
	staging  StagingOpener
	store    storage.ObjectStore
	renderer Renderer
	palette  palette.Extractor
	metrics  *metrics.Collector
	logger   zerolog.Logger
}

// ProcessorOptions wires the processor's collaborators.
type ProcessorOptions struct {
	Backend  Backend
	Staging  StagingOpener
	Store    storage.ObjectStore
	Renderer Renderer
	Palette  palette.Extractor
	Metrics  *metrics.Collector
	Logger   zerolog.Logger
}

// NewProcessor creates a processor.
func NewProcessor(opts ProcessorOptions) *Processor {
	return &Processor{
		backend:  opts.Backend,
		staging:  opts.Staging,
		store:    opts.Store,
		renderer: opts.Renderer,
		palette:  opts.Palette,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
}

// Run processes one source. schedulerAttempt is the surrounding
// scheduler's 0-based counter; the backend sees it 1-based, in both
// registration and failure callbacks. On failure the appropriate
// failure endpoint has already been called when Run returns; a
// terminal failure satisfies errors.Is(err, ErrAttemptsExhausted).
func (p *Processor) Run(ctx context.Context, src pipeline.Source, schedulerAttempt int) (*pipeline.ProcessingResult, error) {
	attempt := schedulerAttempt + 1
	logger := p.logger.With().Str("source_id", src.ID).Int("attempt", attempt).Logger()

	result, err := p.process(ctx, logger, src, attempt)
	if err != nil {
		p.metrics.SourcesFailed.Inc()
		return nil, p.fail(ctx, logger, src, attempt, err)
	}

	switch result.Status {
	case pipeline.StatusDuplicate:
		p.metrics.SourcesDuplicate.Inc()
	default:
		p.metrics.SourcesProcessed.Inc()
	}
	return result, nil
}

func (p *Processor) process(ctx context.Context, logger zerolog.Logger, src pipeline.Source, attempt int) (*pipeline.ProcessingResult, error) {
	// Register before any work; the backend owns attempt bookkeeping.
	start, err := p.backend.RegisterAttempt(ctx, src.ID, attempt)
	if err != nil {
		return nil, fmt.Errorf("register failed: %w", err)
	}
	logger.Info().Int("devices", len(start.Devices)).Msg("attempt registered")

	data, err := p.download(ctx, src.StagingPath)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}

	fp, err := fingerprint.Compute(data)
	if err != nil {
		return nil, fmt.Errorf("fingerprint failed: %w", err)
	}
	logger = logger.With().Str("fingerprint", fp).Logger()

	exists, err := p.backend.CheckHash(ctx, fp)
	if err != nil {
		return nil, fmt.Errorf("dedup check failed: %w", err)
	}
	if exists {
		// Known blob: no rendering, but the backend still needs to
		// link this source to it.
		logger.Info().Msg("duplicate blob, skipping render")
		result := &pipeline.ProcessingResult{
			Status:      pipeline.StatusDuplicate,
			Fingerprint: fp,
			Variants:    []pipeline.Variant{},
		}
		if err := p.finalize(ctx, src.ID, result); err != nil {
			return nil, err
		}
		return result, nil
	}

	img, format, err := p.renderer.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("image decode failed: %w", err)
	}
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	originalKey := storage.OriginalKey(fp, extension(format))
	if err := p.store.Put(ctx, originalKey, bytes.NewReader(data), "image/"+format); err != nil {
		return nil, fmt.Errorf("original upload failed: %w", err)
	}

	result := &pipeline.ProcessingResult{
		Status:      pipeline.StatusProcessed,
		Fingerprint: fp,
		Metadata: &pipeline.SourceMetadata{
			Width:       srcW,
			Height:      srcH,
			Orientation: geometry.ClassifyOrientation(srcW, srcH),
			Format:      format,
			SizeBytes:   int64(len(data)),
			StoragePath: originalKey,
		},
		Variants: []pipeline.Variant{},
	}

	for _, device := range start.Devices {
		for _, candidate := range layout.Evaluate(srcW, srcH, device) {
			variant, err := p.renderVariant(ctx, img, fp, candidate)
			if err != nil {
				// One bad layout never fails its siblings.
				p.metrics.VariantsFailed.Inc()
				logger.Warn().Err(err).
					Str("layout", string(candidate.Layout)).
					Int("width", candidate.TargetWidth).
					Int("height", candidate.TargetHeight).
					Msg("variant failed")
				result.FailedLayouts = append(result.FailedLayouts, pipeline.LayoutFailure{
					Layout: candidate.Layout,
					Width:  candidate.TargetWidth,
					Height: candidate.TargetHeight,
					Reason: err.Error(),
				})
				continue
			}
			p.metrics.VariantsRendered.Inc()
			result.Variants = append(result.Variants, *variant)
		}
	}

	p.uploadThumbnail(ctx, logger, img, fp)
	result.Palette = p.extractPalette(ctx, logger, img, fp)

	if err := p.finalize(ctx, src.ID, result); err != nil {
		return nil, err
	}
	logger.Info().
		Int("variants", len(result.Variants)).
		Int("failed_layouts", len(result.FailedLayouts)).
		Msg("source processed")
	return result, nil
}

func (p *Processor) download(ctx context.Context, stagingPath string) ([]byte, error) {
	rc, err := p.staging.Open(ctx, stagingPath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (p *Processor) renderVariant(ctx context.Context, img image.Image, fp string, candidate pipeline.LayoutCandidate) (*pipeline.Variant, error) {
	started := time.Now()

	rendered, err := p.renderer.Cover(img, candidate.TargetWidth, candidate.TargetHeight)
	if err != nil {
		return nil, fmt.Errorf("cover render: %w", err)
	}

	key := storage.VariantKey(candidate.Layout, candidate.TargetWidth, candidate.TargetHeight, fp)
	if err := p.store.Put(ctx, key, bytes.NewReader(rendered), "image/jpeg"); err != nil {
		return nil, fmt.Errorf("variant upload: %w", err)
	}
	p.metrics.RenderDuration.Observe(time.Since(started).Seconds())

	return &pipeline.Variant{
		Width:         candidate.TargetWidth,
		Height:        candidate.TargetHeight,
		Orientation:   geometry.ClassifyOrientation(candidate.TargetWidth, candidate.TargetHeight),
		Layout:        candidate.Layout,
		StoragePath:   key,
		FileSizeBytes: int64(len(rendered)),
	}, nil
}

// uploadThumbnail stores the contain-fit render. The thumbnail is a
// convenience artifact; losing it does not fail the source.
func (p *Processor) uploadThumbnail(ctx context.Context, logger zerolog.Logger, img image.Image, fp string) {
	rendered, err := p.renderer.Contain(img, thumbWidth, thumbHeight)
	if err != nil {
		logger.Warn().Err(err).Msg("thumbnail render failed")
		return
	}
	if err := p.store.Put(ctx, storage.ThumbnailKey(fp), bytes.NewReader(rendered), "image/jpeg"); err != nil {
		logger.Warn().Err(err).Msg("thumbnail upload failed")
	}
}

// extractPalette quantizes the palette and writes the sidecar. Palette
// data is optional in the finalize payload, so failures only warn.
func (p *Processor) extractPalette(ctx context.Context, logger zerolog.Logger, img image.Image, fp string) []string {
	colors, err := p.palette.Extract(img, paletteColors)
	if err != nil {
		logger.Warn().Err(err).Msg("palette extraction failed")
		return nil
	}

	sidecar, err := json.Marshal(map[string][]string{"colors": colors})
	if err != nil {
		logger.Warn().Err(err).Msg("palette encode failed")
		return colors
	}
	if err := p.store.Put(ctx, storage.PaletteKey(fp), bytes.NewReader(sidecar), "application/json"); err != nil {
		logger.Warn().Err(err).Msg("palette upload failed")
	}
	return colors
}

func (p *Processor) finalize(ctx context.Context, sourceID string, result *pipeline.ProcessingResult) error {
	req := backend.FinalizeRequest{
		SourceID:    sourceID,
		Fingerprint: result.Fingerprint,
		BlobData:    result.Metadata,
		ColorData:   result.Palette,
		Variants:    result.Variants,
	}
	if err := p.backend.Finalize(ctx, req); err != nil {
		return fmt.Errorf("finalize failed: %w", err)
	}
	return nil
}

// fail reports the failure to the backend and classifies it. attempt is
// already 1-based here.
func (p *Processor) fail(ctx context.Context, logger zerolog.Logger, src pipeline.Source, attempt int, cause error) error {
	if attempt >= MaxAttempts {
		logger.Error().Err(cause).Int("attempt_count", attempt).Msg("source failed terminally")
		if reportErr := p.backend.ReportTerminalFailure(ctx, src.ID, backend.TerminalFailureRequest{
			ErrorMessage: cause.Error(),
			AttemptCount: attempt,
		}); reportErr != nil {
			logger.Error().Err(reportErr).Msg("terminal failure report failed")
		}
		return fmt.Errorf("%w: %s", ErrAttemptsExhausted, cause)
	}

	logger.Warn().Err(cause).Msg("source failed, leaving for retry")
	if reportErr := p.backend.ReportTransientFailure(ctx, src.ID, backend.TransientFailureRequest{
		Error:   cause.Error(),
		Attempt: attempt,
	}); reportErr != nil {
		logger.Error().Err(reportErr).Msg("transient failure report failed")
	}
	return cause
}

func extension(format string) string {
	switch format {
	case "jpeg":
		return "jpg"
	case "png", "gif":
		return format
	default:
		return "jpg"
	}
}
