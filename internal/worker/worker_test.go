package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/convert"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/engine"
	"github.com/JakeFAU/listing-crawler/internal/hash/sha256"
	"github.com/JakeFAU/listing-crawler/internal/policy/ratestate"
	pubmemory "github.com/JakeFAU/listing-crawler/internal/publisher/memory"
	queuememory "github.com/JakeFAU/listing-crawler/internal/queue/memory"
	"github.com/JakeFAU/listing-crawler/internal/source"
	"github.com/JakeFAU/listing-crawler/internal/source/sourcetest"
	"github.com/JakeFAU/listing-crawler/internal/storage/memory"
	"github.com/JakeFAU/listing-crawler/internal/workqueue"
)

type harness struct {
	state     *ratestate.State
	converts  *workqueue.Queue
	queue     *queuememory.Queue
	sessions  *memory.SessionStore
	blobs     *memory.BlobStore
	publisher *pubmemory.Publisher
	exporter  *fakeExporter
	source    *sourcetest.Source
	worker    *Worker
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	return buildHarness(t, cfg, true)
}

func buildHarness(t *testing.T, cfg Config, active bool) *harness {
	t.Helper()

	state := ratestate.New()
	state.SetActivelyWorking(active)
	convertQueue, err := workqueue.New(2, state, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = convertQueue.Close(ctx)
	})

	blobs := memory.NewBlobStore()
	conv, err := convert.NewBlobConverter(blobs, "conversions", nil, nil)
	require.NoError(t, err)

	src := sourcetest.New("search", 2, 5)
	src.Items[1].Kind = crawler.KindAnimation
	src.Items[3].Kind = crawler.KindAnimation
	reg := source.NewRegistry()
	require.NoError(t, reg.Register(src))

	h := &harness{
		state:     state,
		converts:  convertQueue,
		queue:     queuememory.NewQueue(4),
		sessions:  memory.NewSessionStore(),
		blobs:     blobs,
		publisher: pubmemory.New(),
		exporter:  &fakeExporter{},
		source:    src,
	}
	if cfg.Topic == "" {
		cfg.Topic = "crawl-complete"
	}
	h.worker = New(Deps{
		Queue:        h.queue,
		Sessions:     h.sessions,
		Sources:      reg,
		Engine:       engine.New(engine.Options{State: state}),
		BlobStore:    blobs,
		Publisher:    h.publisher,
		Exporter:     h.exporter,
		Converter:    conv,
		Digester:     sha256.New(),
		ConvertQueue: convertQueue,
	}, cfg, zap.NewNop())
	return h
}

func (h *harness) submit(t *testing.T, id string, req crawler.SessionRequest) crawler.QueueItem {
	t.Helper()
	require.NoError(t, h.sessions.Create(context.Background(), crawler.SessionRecord{ID: id, Request: req}))
	return crawler.QueueItem{SessionID: id, Request: req}
}

func TestWorkerProcessCompletedSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	item := h.submit(t, "s1", crawler.SessionRequest{Source: "search", StartPage: 1, Requested: crawler.Unbounded})
	h.worker.Process(context.Background(), item)

	record, err := h.sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, crawler.StatusDone, record.Status)
	require.Equal(t, crawler.OutcomeCompleted, record.Outcome)
	require.Equal(t, 5, record.Counters.ItemsAccepted)

	data, contentType, ok := h.blobs.Object("results/s1/manifest.json")
	require.True(t, ok)
	require.Equal(t, "application/json", contentType)
	var m struct {
		SessionID   string               `json:"session_id"`
		Source      string               `json:"source"`
		Identifiers []crawler.Identifier `json:"identifiers"`
	}
	require.NoError(t, json.Unmarshal(data, &m))
	require.Equal(t, "s1", m.SessionID)
	require.Equal(t, "search", m.Source)
	require.Len(t, m.Identifiers, 5)

	require.NoError(t, h.converts.Wait(context.Background()))
	require.Equal(t, []string{"conversions/s1/2.json", "conversions/s1/4.json"}, h.blobs.Paths("conversions/"))

	exported := h.exporter.calls()
	require.Len(t, exported, 1)
	require.Len(t, exported[0], 5)

	completions := h.publisher.Completions()
	require.Len(t, completions, 1)
	require.Equal(t, "s1", completions[0].SessionID)
	require.Equal(t, crawler.OutcomeCompleted, completions[0].Outcome)
	require.Equal(t, "memory://results/s1/manifest.json", completions[0].ManifestURI)
	require.True(t, sha256.New().Verify(data, completions[0].ManifestDigest))
	require.Equal(t, "crawl-complete", h.publisher.Messages()[0].Topic)
}

func TestWorkerPublishesBeforeConversionsAreAdmitted(t *testing.T) {
	t.Parallel()

	h := buildHarness(t, Config{}, false)
	item := h.submit(t, "s7", crawler.SessionRequest{Source: "search", StartPage: 1, Requested: crawler.Unbounded})

	done := make(chan struct{})
	go func() {
		h.worker.Process(context.Background(), item)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("process blocked on paused conversions")
	}

	completions := h.publisher.Completions()
	require.Len(t, completions, 1)
	require.Equal(t, "s7", completions[0].SessionID)
	require.Empty(t, h.blobs.Paths("conversions/"), "nothing converts while downloads are paused")

	h.state.SetActivelyWorking(true)
	require.Eventually(t, func() bool {
		return len(h.blobs.Paths("conversions/")) == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWorkerResolvesDefaultBudget(t *testing.T) {
	t.Parallel()

	var asked string
	h := newHarness(t, Config{Budget: func(source string) int {
		asked = source
		return 1
	}})
	item := h.submit(t, "s2", crawler.SessionRequest{Source: "search", StartPage: 1, Requested: crawler.DefaultBudget})
	h.worker.Process(context.Background(), item)

	require.Equal(t, "search", asked)
	record, err := h.sessions.Get(context.Background(), "s2")
	require.NoError(t, err)
	require.Equal(t, 1, record.Counters.PagesCompleted)
	require.Equal(t, 2, record.Counters.ItemsAccepted)
}

func TestWorkerUnknownSourceFailsSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	item := h.submit(t, "s3", crawler.SessionRequest{Source: "bookmarks", StartPage: 1, Requested: 1})
	h.worker.Process(context.Background(), item)

	record, err := h.sessions.Get(context.Background(), "s3")
	require.NoError(t, err)
	require.Equal(t, crawler.StatusFailed, record.Status)
	require.Contains(t, record.ErrorText, "unknown source")
	require.Empty(t, h.publisher.Messages())
}

func TestWorkerEmptySessionSkipsDelivery(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.source.Items = nil
	item := h.submit(t, "s4", crawler.SessionRequest{Source: "search", StartPage: 1, Requested: crawler.Unbounded})
	h.worker.Process(context.Background(), item)

	record, err := h.sessions.Get(context.Background(), "s4")
	require.NoError(t, err)
	require.Equal(t, crawler.OutcomeEmpty, record.Outcome)
	require.Equal(t, crawler.StatusDone, record.Status)
	require.Empty(t, h.blobs.Paths(""))
	require.Empty(t, h.exporter.calls())

	completions := h.publisher.Completions()
	require.Len(t, completions, 1)
	require.Equal(t, crawler.OutcomeEmpty, completions[0].Outcome)
	require.Empty(t, completions[0].ManifestURI)
	require.Empty(t, completions[0].ManifestDigest)
}

func TestWorkerExportFailureStillPublishes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.exporter.err = errors.New("connection reset")
	item := h.submit(t, "s5", crawler.SessionRequest{Source: "search", StartPage: 1, Requested: crawler.Unbounded})
	h.worker.Process(context.Background(), item)

	require.Len(t, h.publisher.Completions(), 1)
	_, _, ok := h.blobs.Object("results/s5/manifest.json")
	require.True(t, ok)
}

func TestWorkerRunStopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	item := h.submit(t, "s6", crawler.SessionRequest{Source: "search", StartPage: 1, Requested: 2})
	require.NoError(t, h.queue.Enqueue(context.Background(), item))
	h.queue.Close()

	done := make(chan struct{})
	go func() {
		h.worker.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after queue close")
	}
	record, err := h.sessions.Get(context.Background(), "s6")
	require.NoError(t, err)
	require.Equal(t, crawler.StatusDone, record.Status)
	require.Equal(t, 2, record.Counters.PagesCompleted)
}

func TestManifestPath(t *testing.T) {
	t.Parallel()

	w := New(Deps{}, Config{BlobPrefix: "/crawls/"}, nil)
	require.Equal(t, "crawls/abc/manifest.json", w.ManifestPath("abc"))
}

type fakeExporter struct {
	mu       sync.Mutex
	exported [][]crawler.ItemDescriptor
	err      error
}

func (f *fakeExporter) ExportResults(_ context.Context, _ string, items []crawler.ItemDescriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exported = append(f.exported, append([]crawler.ItemDescriptor(nil), items...))
	return f.err
}

func (f *fakeExporter) calls() [][]crawler.ItemDescriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]crawler.ItemDescriptor(nil), f.exported...)
}
