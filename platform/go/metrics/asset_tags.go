package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AssetTags records tag generation telemetry.
type AssetTags struct {
	issued   prometheus.Counter
	retries  prometheus.Counter
	failures *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewAssetTags registers the asset tag collectors on reg.
func NewAssetTags(reg prometheus.Registerer) *AssetTags {
	factory := promauto.With(reg)

	return &AssetTags{
		issued: factory.NewCounter(prometheus.CounterOpts{
			Name: "atlas_asset_tags_issued_total",
			Help: "Asset tags handed out by the counter",
		}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Name: "atlas_asset_tag_generation_retries_total",
			Help: "Counter updates retried after a serialization or deadlock failure",
		}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "atlas_asset_tag_generation_failures_total",
			Help: "Failed generation calls by reason",
		}, []string{"reason"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "atlas_asset_tag_generation_duration_seconds",
			Help:    "Time spent allocating asset tags, including retries",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
	}
}

func (m *AssetTags) TagsIssued(count int) {
	m.issued.Add(float64(count))
}

func (m *AssetTags) GenerationRetried() {
	m.retries.Inc()
}

func (m *AssetTags) GenerationFailed(reason string) {
	m.failures.WithLabelValues(reason).Inc()
}

func (m *AssetTags) ObserveGeneration(elapsed time.Duration) {
	m.duration.Observe(elapsed.Seconds())
}
