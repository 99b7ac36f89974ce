package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-crawler/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	id := progress.SessionKey("prom-session")
	now := time.Now()
	batch := []progress.Event{
		{SessionID: id, TS: now, Stage: progress.StageSessionStart, Source: "search"},
		{SessionID: id, TS: now, Stage: progress.StagePageDone, Source: "search", Page: 1, Accepted: 4, Dur: 200 * time.Millisecond},
		{SessionID: id, TS: now, Stage: progress.StagePageDone, Source: "search", Page: 2, Accepted: 1},
		{SessionID: id, TS: now, Stage: progress.StageRateLimited, Source: "search", Page: 3},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.sessionsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.sessionsRunning))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{SessionID: id, TS: now, Stage: progress.StageSessionStopped, Source: "search", Dur: 15 * time.Second},
	}))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.sessionsFinished.WithLabelValues("stopped")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.sessionsFinished.WithLabelValues("done")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.sessionsRunning))
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.pagesDone.WithLabelValues("search")), 1e-9)
	require.InDelta(t, 5.0, testutil.ToFloat64(sink.itemsAccepted.WithLabelValues("search")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.waits.WithLabelValues("search", "rate_limited")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.fetchDuration, "crawl_page_fetch_seconds"))
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
