package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framefeed/display-pipeline/internal/backend"
	"github.com/framefeed/display-pipeline/internal/metrics"
	"github.com/framefeed/display-pipeline/internal/palette"
	"github.com/framefeed/display-pipeline/internal/render"
	"github.com/framefeed/display-pipeline/pkg/pipeline"
)

type fakeBackend struct {
	staged      []pipeline.Source
	devices     []pipeline.DeviceGeometry
	exists      bool
	registerErr error

	registered []int
	finalized  []backend.FinalizeRequest
	terminal   []backend.TerminalFailureRequest
	transient  []backend.TransientFailureRequest
}

func (f *fakeBackend) FetchStaged(ctx context.Context, limit int) ([]pipeline.Source, error) {
	return f.staged, nil
}

func (f *fakeBackend) CheckHash(ctx context.Context, fp string) (bool, error) {
	return f.exists, nil
}

func (f *fakeBackend) RegisterAttempt(ctx context.Context, sourceID string, attempt int) (*backend.StartResponse, error) {
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	f.registered = append(f.registered, attempt)
	return &backend.StartResponse{Attempt: attempt, Devices: f.devices}, nil
}

func (f *fakeBackend) Finalize(ctx context.Context, req backend.FinalizeRequest) error {
	f.finalized = append(f.finalized, req)
	return nil
}

func (f *fakeBackend) ReportTerminalFailure(ctx context.Context, sourceID string, req backend.TerminalFailureRequest) error {
	f.terminal = append(f.terminal, req)
	return nil
}

func (f *fakeBackend) ReportTransientFailure(ctx context.Context, sourceID string, req backend.TransientFailureRequest) error {
	f.transient = append(f.transient, req)
	return nil
}

type memStore struct {
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = data
	return nil
}

func (m *memStore) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object not found: %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := m.objects[key]
	return ok, nil
}

type mapStaging struct {
	files map[string][]byte
}

func (s mapStaging) Open(ctx context.Context, stagingPath string) (io.ReadCloser, error) {
	data, ok := s.files[stagingPath]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", stagingPath)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// faultyRenderer delegates to the real renderer but fails Cover for one
// target size.
type faultyRenderer struct {
	inner *render.Renderer
	failW int
	failH int
}

func (r faultyRenderer) Decode(data []byte) (image.Image, string, error) {
	return r.inner.Decode(data)
}

func (r faultyRenderer) Cover(img image.Image, width, height int) ([]byte, error) {
	if width == r.failW && height == r.failH {
		return nil, errors.New("jpeg encode failed")
	}
	return r.inner.Cover(img, width, height)
}

func (r faultyRenderer) Contain(img image.Image, width, height int) ([]byte, error) {
	return r.inner.Contain(img, width, height)
}

func newTestProcessor(t *testing.T, fb *fakeBackend, staging mapStaging, store *memStore) *Processor {
	t.Helper()
	return NewProcessor(ProcessorOptions{
		Backend:  fb,
		Staging:  staging,
		Store:    store,
		Renderer: render.New(),
		Palette:  palette.NewFrequencyExtractor(),
		Metrics:  metrics.New(prometheus.NewRegistry()),
		Logger:   zerolog.Nop(),
	})
}

func TestShardCompletenessAndDisjointness(t *testing.T) {
	const n, k = 17, 4
	batch := make([]pipeline.Source, n)
	for i := range batch {
		batch[i] = pipeline.Source{ID: fmt.Sprintf("src-%d", i)}
	}

	seen := make(map[string]int)
	for idx := 0; idx < k; idx++ {
		for _, src := range Shard(batch, idx, k) {
			seen[src.ID]++
		}
	}

	require.Len(t, seen, n)
	for id, count := range seen {
		assert.Equalf(t, 1, count, "source %s assigned %d times", id, count)
	}
}

func TestShardSingleInstanceOwnsEverything(t *testing.T) {
	batch := []pipeline.Source{{ID: "a"}, {ID: "b"}}
	assert.Equal(t, batch, Shard(batch, 0, 1))
}

func TestProcessExactFitProducesOneVariant(t *testing.T) {
	fb := &fakeBackend{
		devices: []pipeline.DeviceGeometry{
			{Width: 192, Height: 108, Layouts: pipeline.LayoutFlags{Single: true}},
		},
	}
	store := newMemStore()
	staging := mapStaging{files: map[string][]byte{"s3://staging/a.png": pngBytes(t, 192, 108)}}
	p := newTestProcessor(t, fb, staging, store)

	result, err := p.Run(context.Background(), pipeline.Source{ID: "src-1", StagingPath: "s3://staging/a.png"}, 0)
	require.NoError(t, err)

	assert.Equal(t, pipeline.StatusProcessed, result.Status)
	require.Len(t, result.Variants, 1)
	assert.Equal(t, 192, result.Variants[0].Width)
	assert.Equal(t, 108, result.Variants[0].Height)
	assert.Equal(t, pipeline.LayoutSingle, result.Variants[0].Layout)
	assert.Greater(t, result.Variants[0].FileSizeBytes, int64(0))
	assert.NotEmpty(t, result.Palette)

	// Original, variant, thumbnail and palette sidecar all land in the
	// content-addressed layout.
	fp := result.Fingerprint
	require.Len(t, fp, 64)
	assert.Contains(t, store.objects, "images/originals/"+fp+".png")
	assert.Contains(t, store.objects, "processed/single/192x108/"+fp+".jpg")
	assert.Contains(t, store.objects, "processed/thumbnails/"+fp)
	assert.Contains(t, store.objects, "images/quantized/"+fp+".json")

	require.Len(t, fb.finalized, 1)
	assert.Equal(t, "src-1", fb.finalized[0].SourceID)
	assert.Equal(t, fp, fb.finalized[0].Fingerprint)
}

func TestProcessIneligibleSourceYieldsNoVariants(t *testing.T) {
	// Portrait 50x100 against a 192x108 single-layout device costs
	// 71.875%, over the eligibility bound: processed, zero variants,
	// no variant object uploaded.
	fb := &fakeBackend{
		devices: []pipeline.DeviceGeometry{
			{Width: 192, Height: 108, Layouts: pipeline.LayoutFlags{Single: true}},
		},
	}
	store := newMemStore()
	staging := mapStaging{files: map[string][]byte{"file:///a.png": pngBytes(t, 50, 100)}}
	p := newTestProcessor(t, fb, staging, store)

	result, err := p.Run(context.Background(), pipeline.Source{ID: "src-1", StagingPath: "file:///a.png"}, 0)
	require.NoError(t, err)

	assert.Equal(t, pipeline.StatusProcessed, result.Status)
	assert.Empty(t, result.Variants)
	for key := range store.objects {
		assert.False(t, strings.HasPrefix(key, "processed/single/"), "unexpected variant %s", key)
	}
}

func TestProcessLayoutFailureDoesNotAbortSiblings(t *testing.T) {
	// A 900x900 source against a 1000x1000 single+paired device yields a
	// free single candidate and a paired slot of 500x1000 at exactly the
	// eligibility bound. Breaking the paired render must leave the single
	// variant, record the failure and still finalize the source.
	fb := &fakeBackend{
		devices: []pipeline.DeviceGeometry{
			{Width: 1000, Height: 1000, Layouts: pipeline.LayoutFlags{Single: true, Paired: true}},
		},
	}
	store := newMemStore()
	staging := mapStaging{files: map[string][]byte{"file:///a.png": pngBytes(t, 900, 900)}}
	p := NewProcessor(ProcessorOptions{
		Backend:  fb,
		Staging:  staging,
		Store:    store,
		Renderer: faultyRenderer{inner: render.New(), failW: 500, failH: 1000},
		Palette:  palette.NewFrequencyExtractor(),
		Metrics:  metrics.New(prometheus.NewRegistry()),
		Logger:   zerolog.Nop(),
	})

	result, err := p.Run(context.Background(), pipeline.Source{ID: "src-1", StagingPath: "file:///a.png"}, 0)
	require.NoError(t, err)

	assert.Equal(t, pipeline.StatusProcessed, result.Status)
	require.Len(t, result.Variants, 1)
	assert.Equal(t, pipeline.LayoutSingle, result.Variants[0].Layout)

	require.Len(t, result.FailedLayouts, 1)
	assert.Equal(t, pipeline.LayoutPaired, result.FailedLayouts[0].Layout)
	assert.Equal(t, 500, result.FailedLayouts[0].Width)
	assert.Equal(t, 1000, result.FailedLayouts[0].Height)
	assert.Contains(t, result.FailedLayouts[0].Reason, "jpeg encode failed")

	// Partial variant sets are a valid outcome, not a failed attempt.
	require.Len(t, fb.finalized, 1)
	assert.Len(t, fb.finalized[0].Variants, 1)
	assert.Empty(t, fb.transient)
	assert.Empty(t, fb.terminal)
}

func TestProcessEmptyDeviceListFinalizesWithoutVariants(t *testing.T) {
	// Zero registered devices means nothing to render, not a failure.
	fb := &fakeBackend{}
	store := newMemStore()
	staging := mapStaging{files: map[string][]byte{"file:///a.png": pngBytes(t, 64, 64)}}
	p := newTestProcessor(t, fb, staging, store)

	result, err := p.Run(context.Background(), pipeline.Source{ID: "src-1", StagingPath: "file:///a.png"}, 0)
	require.NoError(t, err)

	assert.Equal(t, pipeline.StatusProcessed, result.Status)
	assert.Empty(t, result.Variants)
	assert.Empty(t, result.FailedLayouts)

	// The original is still archived and the source finalized.
	assert.Contains(t, store.objects, "images/originals/"+result.Fingerprint+".png")
	require.Len(t, fb.finalized, 1)
	assert.Equal(t, "src-1", fb.finalized[0].SourceID)
	assert.Empty(t, fb.transient)
	assert.Empty(t, fb.terminal)
}

func TestProcessDuplicateShortCircuits(t *testing.T) {
	fb := &fakeBackend{
		exists: true,
		devices: []pipeline.DeviceGeometry{
			{Width: 192, Height: 108, Layouts: pipeline.LayoutFlags{Single: true}},
			{Width: 108, Height: 192, Layouts: pipeline.LayoutFlags{Single: true, Paired: true}},
		},
	}
	store := newMemStore()
	staging := mapStaging{files: map[string][]byte{"file:///a.png": pngBytes(t, 192, 108)}}
	p := newTestProcessor(t, fb, staging, store)

	result, err := p.Run(context.Background(), pipeline.Source{ID: "src-1", StagingPath: "file:///a.png"}, 0)
	require.NoError(t, err)

	assert.Equal(t, pipeline.StatusDuplicate, result.Status)
	assert.Empty(t, result.Variants)
	assert.Empty(t, store.objects, "duplicate must not render or upload")

	// Still finalized so the backend can link the source to the blob.
	require.Len(t, fb.finalized, 1)
	assert.Equal(t, result.Fingerprint, fb.finalized[0].Fingerprint)
	assert.Empty(t, fb.finalized[0].Variants)
}

func TestRunReportsTransientFailure(t *testing.T) {
	fb := &fakeBackend{}
	p := newTestProcessor(t, fb, mapStaging{files: map[string][]byte{}}, newMemStore())

	// Scheduler attempt 0 is reported to the backend as attempt 1.
	_, err := p.Run(context.Background(), pipeline.Source{ID: "src-1", StagingPath: "file:///gone.png"}, 0)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrAttemptsExhausted))

	require.Len(t, fb.transient, 1)
	assert.Equal(t, 1, fb.transient[0].Attempt)
	assert.Empty(t, fb.terminal)
}

func TestRunReportsTerminalFailureOnLastAttempt(t *testing.T) {
	fb := &fakeBackend{}
	p := newTestProcessor(t, fb, mapStaging{files: map[string][]byte{}}, newMemStore())

	// Scheduler attempt 2 (0-based) is the third and final try.
	_, err := p.Run(context.Background(), pipeline.Source{ID: "src-1", StagingPath: "file:///gone.png"}, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAttemptsExhausted))

	require.Len(t, fb.terminal, 1)
	assert.Equal(t, 3, fb.terminal[0].AttemptCount)
	assert.Empty(t, fb.transient, "terminal failure must not also report transient")
}

func TestRunAttemptNumberingConsistency(t *testing.T) {
	fb := &fakeBackend{}
	staging := mapStaging{files: map[string][]byte{"file:///a.png": pngBytes(t, 64, 64)}}
	p := newTestProcessor(t, fb, staging, newMemStore())

	_, err := p.Run(context.Background(), pipeline.Source{ID: "src-1", StagingPath: "file:///a.png"}, 1)
	require.NoError(t, err)

	// Registration saw the same 1-based number a failure would report.
	require.Equal(t, []int{2}, fb.registered)
}

func TestCoordinatorContainsPerSourceFailures(t *testing.T) {
	good := pngBytes(t, 64, 64)
	fb := &fakeBackend{
		staged: []pipeline.Source{
			{ID: "src-0", StagingPath: "file:///ok-0.png"},
			{ID: "src-1", StagingPath: "file:///missing.png"},
			{ID: "src-2", StagingPath: "file:///ok-2.png"},
		},
	}
	staging := mapStaging{files: map[string][]byte{
		"file:///ok-0.png": good,
		"file:///ok-2.png": good,
	}}
	p := newTestProcessor(t, fb, staging, newMemStore())

	// Final attempt: the failing source exhausts its budget.
	c := NewCoordinator(CoordinatorOptions{
		Fetcher:    fb,
		Processor:  p,
		Logger:     zerolog.Nop(),
		ShardIndex: 0,
		ShardCount: 1,
		FetchLimit: 10,
		Attempt:    2,
	})

	terminal, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, terminal)
	assert.Len(t, fb.finalized, 2, "healthy sources keep processing around the failure")
	assert.Len(t, fb.terminal, 1)
}

func TestCoordinatorProcessesOnlyOwnShard(t *testing.T) {
	good := pngBytes(t, 64, 64)
	fb := &fakeBackend{
		staged: []pipeline.Source{
			{ID: "src-0", StagingPath: "file:///a.png"},
			{ID: "src-1", StagingPath: "file:///a.png"},
			{ID: "src-2", StagingPath: "file:///a.png"},
			{ID: "src-3", StagingPath: "file:///a.png"},
		},
	}
	staging := mapStaging{files: map[string][]byte{"file:///a.png": good}}
	p := newTestProcessor(t, fb, staging, newMemStore())

	c := NewCoordinator(CoordinatorOptions{
		Fetcher:    fb,
		Processor:  p,
		Logger:     zerolog.Nop(),
		ShardIndex: 1,
		ShardCount: 2,
		FetchLimit: 10,
	})

	terminal, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, terminal)

	require.Len(t, fb.finalized, 2)
	assert.Equal(t, "src-1", fb.finalized[0].SourceID)
	assert.Equal(t, "src-3", fb.finalized[1].SourceID)
}

func TestProcessRegisterFailureIsRetryable(t *testing.T) {
	fb := &fakeBackend{registerErr: errors.New("backend unavailable")}
	p := newTestProcessor(t, fb, mapStaging{files: map[string][]byte{}}, newMemStore())

	_, err := p.Run(context.Background(), pipeline.Source{ID: "src-1", StagingPath: "file:///a.png"}, 0)
	require.Error(t, err)
	require.Len(t, fb.transient, 1)
	assert.Contains(t, fb.transient[0].Error, "register failed")
}
