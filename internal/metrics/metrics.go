// Package metrics exposes Prometheus collectors for the pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the pipeline's Prometheus instruments.
type Collector struct {
	SourcesProcessed prometheus.Counter
	SourcesDuplicate prometheus.Counter
	SourcesFailed    prometheus.Counter
	VariantsRendered prometheus.Counter
	VariantsFailed   prometheus.Counter
	RenderDuration   prometheus.Histogram
}

// New registers the pipeline collectors with reg. Pass
// prometheus.DefaultRegisterer outside of tests.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		SourcesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_sources_processed_total",
			Help: "Sources fully processed with rendered variants.",
		}),
		SourcesDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_sources_duplicate_total",
			Help: "Sources short-circuited by the dedup gate.",
		}),
		SourcesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_sources_failed_total",
			Help: "Sources that ended an attempt in failure.",
		}),
		VariantsRendered: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_variants_rendered_total",
			Help: "Layout variants rendered and uploaded.",
		}),
		VariantsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_variants_failed_total",
			Help: "Layout variants that failed to render or upload.",
		}),
		RenderDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_render_duration_seconds",
			Help:    "Wall time to render and upload one variant.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
