package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"blog-monitor/pkg/domain"
)

func TestRecorder_SourceChecked(t *testing.T) {
	r := NewRecorder()
	src := domain.Source{ID: 4}

	r.SourceChecked(src, domain.AggregateMetrics{
		NewPostsFound:  3,
		FullSuccess:    1,
		PartialSuccess: 1,
		NetworkErrors:  1,
		MissingSummary: 1,
		PostsSaved:     2,
	}, 2*time.Second, nil)
	r.SourceChecked(src, domain.AggregateMetrics{}, time.Second, errors.New("down"))
	r.SourceDisabled(src)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.SourceChecks.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.SourceChecks.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.SourceChecks.WithLabelValues("disabled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.SourcesDisabled))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.Posts.WithLabelValues("new")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.Posts.WithLabelValues("saved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.MissingFields.WithLabelValues("summary")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.MissingFields.WithLabelValues("topics")))
}

func TestRecorder_Cycle(t *testing.T) {
	r := NewRecorder()
	at := time.Unix(1700000000, 0)
	r.CycleFinished(at, nil)
	r.PostBackfilled("success")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.Cycles.WithLabelValues("ok")))
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(r.LastCycle))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Backfilled.WithLabelValues("success")))

	n, err := testutil.GatherAndCount(r.Registry(), "blog_monitor_check_cycles_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}
