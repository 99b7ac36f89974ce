// Package worker runs queued crawl sessions and hands finished results to the
// download side.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/clock/system"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/engine"
	"github.com/JakeFAU/listing-crawler/internal/workqueue"
)

// Config controls Worker behavior.
type Config struct {
	// BlobPrefix is prepended to result manifest paths.
	BlobPrefix string
	// Topic receives one completion event per finished session.
	Topic string
	// Budget resolves crawler.DefaultBudget for a source.
	Budget func(source string) int
}

// Runner executes one session; *engine.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, id string, src crawler.PageSource, req crawler.SessionRequest) (*engine.Session, error)
}

// SourceResolver resolves a session's source by name.
type SourceResolver interface {
	Lookup(name string) (crawler.PageSource, error)
}

// SessionStore is where the worker reports terminal session state.
type SessionStore interface {
	Fail(ctx context.Context, id string, cause error, at time.Time) error
	Finish(ctx context.Context, sess *engine.Session, at time.Time) error
}

// Deps are the collaborators of a Worker. Queue, Sessions, Sources and Engine
// are required; the hand-off targets are optional.
type Deps struct {
	Queue     crawler.Queue
	Sessions  SessionStore
	Sources   SourceResolver
	Engine    Runner
	BlobStore crawler.BlobStore
	Publisher crawler.Publisher
	Exporter  crawler.ResultExporter
	Converter crawler.Converter
	// Digester fingerprints manifests; nil skips the digest.
	Digester crawler.Digester
	// ConvertQueue bounds concurrent conversions across all workers.
	ConvertQueue *workqueue.Queue
	Clock        crawler.Clock
}

// Worker consumes queue items and runs them through the engine.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if cfg.BlobPrefix == "" {
		cfg.BlobPrefix = "results"
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}
}

// Run blocks, consuming queue items until the context finishes or the queue
// closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued session", zap.String("session_id", item.SessionID))
		w.Process(ctx, item)
	}
}

// Process runs one queued session to completion, including hand-off.
func (w *Worker) Process(ctx context.Context, item crawler.QueueItem) {
	logger := w.logger.With(zap.String("session_id", item.SessionID), zap.String("source", item.Request.Source))

	src, err := w.deps.Sources.Lookup(item.Request.Source)
	if err != nil {
		w.fail(ctx, logger, item.SessionID, err)
		return
	}
	req := item.Request
	if req.Requested == crawler.DefaultBudget {
		req.Requested = crawler.Unbounded
		if w.cfg.Budget != nil {
			req.Requested = w.cfg.Budget(req.Source)
		}
	}

	sess, err := w.deps.Engine.Run(ctx, item.SessionID, src, req)
	if sess == nil {
		w.fail(ctx, logger, item.SessionID, err)
		return
	}
	if err := w.deps.Sessions.Finish(ctx, sess, w.deps.Clock.Now()); err != nil {
		logger.Error("record session finish failed", zap.Error(err))
	}
	logger.Info("session finished",
		zap.String("outcome", string(sess.Outcome())),
		zap.Int("items_accepted", sess.Results().Len()),
	)
	if ctx.Err() != nil {
		return
	}
	w.handOff(ctx, logger, sess)
}

func (w *Worker) fail(ctx context.Context, logger *zap.Logger, id string, cause error) {
	if cause == nil {
		cause = errors.New("session did not start")
	}
	logger.Error("session failed", zap.Error(cause))
	if err := w.deps.Sessions.Fail(ctx, id, cause, w.deps.Clock.Now()); err != nil {
		logger.Error("record session failure failed", zap.Error(err))
	}
}

// handOff delivers a finished session: manifest and Postgres export for
// sessions that produced items, then the completion event. Conversions are
// submitted last and run in the background, so a paused download side never
// holds up the worker.
func (w *Worker) handOff(ctx context.Context, logger *zap.Logger, sess *engine.Session) {
	view := sess.View()
	var ref manifestRef
	ship := deliverable(sess.Outcome()) && len(view.Identifiers) > 0
	if ship {
		var err error
		ref, err = w.writeManifest(ctx, sess, view)
		if err != nil {
			logger.Error("write result manifest failed", zap.Error(err))
		}
		if w.deps.Exporter != nil {
			if err := w.deps.Exporter.ExportResults(ctx, sess.ID(), view.Metadata); err != nil {
				logger.Error("export results failed", zap.Error(err))
			}
		}
	}
	if err := w.publish(ctx, sess, view, ref); err != nil {
		logger.Error("publish completion failed", zap.Error(err))
	}
	if ship {
		w.convert(logger, sess.ID(), view.Metadata)
	}
}

func deliverable(outcome crawler.Outcome) bool {
	return outcome == crawler.OutcomeCompleted || outcome == crawler.OutcomeStopped
}

// ManifestPath is where a session's result manifest is written.
func (w *Worker) ManifestPath(sessionID string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	return fmt.Sprintf("%s/%s/manifest.json", prefix, sessionID)
}

type manifest struct {
	crawler.ResultView
	Source   string                  `json:"source"`
	Outcome  crawler.Outcome         `json:"outcome"`
	Counters crawler.SessionCounters `json:"counters"`
}

type manifestRef struct {
	uri    string
	digest string
}

func (w *Worker) writeManifest(ctx context.Context, sess *engine.Session, view crawler.ResultView) (manifestRef, error) {
	if w.deps.BlobStore == nil {
		return manifestRef{}, nil
	}
	data, err := json.Marshal(manifest{
		ResultView: view,
		Source:     sess.Source().Name,
		Outcome:    sess.Outcome(),
		Counters:   sess.Counters(),
	})
	if err != nil {
		return manifestRef{}, fmt.Errorf("marshal manifest: %w", err)
	}
	uri, err := w.deps.BlobStore.PutObject(ctx, w.ManifestPath(sess.ID()), "application/json", data)
	if err != nil {
		return manifestRef{}, fmt.Errorf("put manifest: %w", err)
	}
	ref := manifestRef{uri: uri}
	if w.deps.Digester != nil {
		ref.digest = w.deps.Digester.Digest(data)
	}
	return ref, nil
}

// convert submits every animation item to the bounded work queue. Tasks run
// under the queue's lifetime; failures are logged once the batch settles.
func (w *Worker) convert(logger *zap.Logger, sessionID string, items []crawler.ItemDescriptor) {
	if w.deps.Converter == nil || w.deps.ConvertQueue == nil {
		return
	}
	var tasks []workqueue.Task
	for _, item := range items {
		if item.Kind != crawler.KindAnimation {
			continue
		}
		tasks = append(tasks, func(ctx context.Context) error {
			return w.deps.Converter.Convert(ctx, sessionID, item)
		})
	}
	if len(tasks) == 0 {
		return
	}
	logger.Debug("conversions submitted", zap.Int("items", len(tasks)))
	w.deps.ConvertQueue.Submit(tasks, func(err error) {
		if err != nil {
			logger.Warn("conversion hand-off incomplete", zap.Error(err))
		}
	})
}

func (w *Worker) publish(ctx context.Context, sess *engine.Session, view crawler.ResultView, ref manifestRef) error {
	if w.cfg.Topic == "" || w.deps.Publisher == nil {
		return nil
	}
	evt := crawler.CompletionEvent{
		SessionID:      sess.ID(),
		Source:         sess.Source().Name,
		Outcome:        sess.Outcome(),
		Counters:       sess.Counters(),
		Identifiers:    view.Identifiers,
		ManifestURI:    ref.uri,
		ManifestDigest: ref.digest,
		FinishedAt:     w.deps.Clock.Now().UTC(),
	}
	if _, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, evt); err != nil {
		return fmt.Errorf("publish completion: %w", err)
	}
	return nil
}
