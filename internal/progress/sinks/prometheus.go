package sinks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/listing-crawler/internal/progress"
)

// PrometheusSink exports session progress via Prometheus. It owns the
// collectors for sessions started/finished/running and per-source page
// counters.
type PrometheusSink struct {
	sessionsStarted  prometheus.Counter
	sessionsFinished *prometheus.CounterVec
	sessionsRunning  prometheus.Gauge
	sessionRuntime   *prometheus.HistogramVec

	pagesDone     *prometheus.CounterVec
	itemsAccepted *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	waits         *prometheus.CounterVec

	tracker *sessionTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawl_sessions_started_total",
			Help: "Total sessions that have started.",
		}),
		sessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_sessions_finished_total",
			Help: "Total sessions finished partitioned by terminal stage.",
		}, []string{"result"}),
		sessionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawl_sessions_running",
			Help: "Current number of running sessions.",
		}),
		sessionRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawl_session_runtime_seconds",
			Help:    "Wall time per finished session.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"result"}),
		pagesDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_pages_done_total",
			Help: "Listing pages evaluated per source.",
		}, []string{"source"}),
		itemsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_items_accepted_total",
			Help: "Items accepted per source.",
		}, []string{"source"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawl_page_fetch_seconds",
			Help:    "Listing page fetch latency per source.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"source"}),
		waits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_waits_total",
			Help: "Retry and rate-limit waits per source.",
		}, []string{"source", "kind"}),
		tracker: newSessionTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.sessionsStarted,
		s.sessionsFinished,
		s.sessionsRunning,
		s.sessionRuntime,
		s.pagesDone,
		s.itemsAccepted,
		s.fetchDuration,
		s.waits,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	source := evt.Source
	if source == "" {
		source = "unknown"
	}
	switch {
	case evt.Stage == progress.StageSessionStart:
		s.sessionsStarted.Inc()
		if s.tracker.start(evt.SessionID) {
			s.sessionsRunning.Inc()
		}
	case evt.Stage.Terminal():
		result := resultLabel(evt.Stage)
		s.sessionsFinished.WithLabelValues(result).Inc()
		if evt.Dur > 0 {
			s.sessionRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.SessionID) {
			s.sessionsRunning.Dec()
		}
	case evt.Stage == progress.StagePageDone:
		s.pagesDone.WithLabelValues(source).Inc()
		if evt.Accepted > 0 {
			s.itemsAccepted.WithLabelValues(source).Add(float64(evt.Accepted))
		}
		if evt.Dur > 0 {
			s.fetchDuration.WithLabelValues(source).Observe(evt.Dur.Seconds())
		}
	case evt.Stage == progress.StageRetry:
		s.waits.WithLabelValues(source, "retry").Inc()
	case evt.Stage == progress.StageRateLimited:
		s.waits.WithLabelValues(source, "rate_limited").Inc()
	}
}

func resultLabel(stage progress.Stage) string {
	return strings.ToLower(strings.TrimPrefix(string(stage), "SESSION_"))
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type sessionTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{running: make(map[[16]byte]struct{})}
}

func (t *sessionTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *sessionTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
