// Package metrics exposes check-cycle counters to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"blog-monitor/pkg/domain"
)

const namespace = "blog_monitor"

// Recorder holds the Prometheus collectors
type Recorder struct {
	registry *prometheus.Registry

	SourceChecks    *prometheus.CounterVec
	SourceDuration  *prometheus.HistogramVec
	SourcesDisabled prometheus.Counter
	Posts           *prometheus.CounterVec
	MissingFields   *prometheus.CounterVec
	Cycles          *prometheus.CounterVec
	LastCycle       prometheus.Gauge
	Backfilled      *prometheus.CounterVec
}

// NewRecorder registers all collectors on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		SourceChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_checks_total",
			Help:      "Source checks by outcome (ok, failed, disabled).",
		}, []string{"outcome"}),
		SourceDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_check_duration_seconds",
			Help:      "Duration of a single source check.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"source_id"}),
		SourcesDisabled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sources_disabled_total",
			Help:      "Sources automatically marked unusable.",
		}),
		Posts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_total",
			Help:      "New posts by processing status.",
		}, []string{"status"}),
		MissingFields: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missing_fields_total",
			Help:      "Posts missing a derived field after enrichment.",
		}, []string{"field"}),
		Cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "check_cycles_total",
			Help:      "Completed check cycles by outcome.",
		}, []string{"outcome"}),
		LastCycle: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time the last check cycle finished.",
		}),
		Backfilled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_posts_total",
			Help:      "Backfilled posts by status.",
		}, []string{"status"}),
	}
}

// Registry returns the registry to serve on /metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// SourceChecked records one source check.
func (r *Recorder) SourceChecked(src domain.Source, m domain.AggregateMetrics, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	r.SourceChecks.WithLabelValues(outcome).Inc()
	r.SourceDuration.WithLabelValues(strconv.FormatInt(src.ID, 10)).Observe(elapsed.Seconds())

	r.Posts.WithLabelValues("new").Add(float64(m.NewPostsFound))
	r.Posts.WithLabelValues("full").Add(float64(m.FullSuccess))
	r.Posts.WithLabelValues("partial").Add(float64(m.PartialSuccess))
	r.Posts.WithLabelValues("network_error").Add(float64(m.NetworkErrors))
	r.Posts.WithLabelValues("timeout").Add(float64(m.Timeouts))
	r.Posts.WithLabelValues("extraction_failed").Add(float64(m.ExtractionFailures))
	r.Posts.WithLabelValues("saved").Add(float64(m.PostsSaved))

	r.MissingFields.WithLabelValues("summary").Add(float64(m.MissingSummary))
	r.MissingFields.WithLabelValues("reading_time").Add(float64(m.MissingReadingTime))
	r.MissingFields.WithLabelValues("topics").Add(float64(m.MissingTopics))
}

// SourceDisabled records a source flipped to unusable by a check.
func (r *Recorder) SourceDisabled(domain.Source) {
	r.SourcesDisabled.Inc()
	r.SourceChecks.WithLabelValues("disabled").Inc()
}

// CycleFinished records the end of a full check cycle.
func (r *Recorder) CycleFinished(at time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	r.Cycles.WithLabelValues(outcome).Inc()
	r.LastCycle.Set(float64(at.Unix()))
}

// PostBackfilled records one backfill outcome.
func (r *Recorder) PostBackfilled(status string) {
	r.Backfilled.WithLabelValues(status).Inc()
}
