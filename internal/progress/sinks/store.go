package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/progress"
)

// ProgressRecorder receives collapsed per-session progress so session records
// reflect live counters while a crawl runs.
type ProgressRecorder interface {
	RecordStart(ctx context.Context, sessionID string, at time.Time) error
	RecordPages(ctx context.Context, sessionID string, delta PageDelta) error
}

// PageDelta is the page progress observed for one session within a batch.
type PageDelta struct {
	Pages    int
	Accepted int
	Scanned  int
	At       time.Time
}

// StoreSink forwards progress to a ProgressRecorder. It folds page events per
// session to reduce write amplification.
type StoreSink struct {
	repo   ProgressRecorder
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided recorder.
func NewStoreSink(repo ProgressRecorder, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume collapses page deltas and forwards them to the recorder. It respects
// ctx deadlines and returns recorder errors wrapped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[string]*PageDelta)
	var order []string

	for _, evt := range batch {
		sessionID := evt.SessionUUID().String()
		switch evt.Stage {
		case progress.StageSessionStart:
			if err := s.repo.RecordStart(ctx, sessionID, evt.TS); err != nil {
				return fmt.Errorf("record session start: %w", err)
			}
		case progress.StagePageDone:
			delta := deltas[sessionID]
			if delta == nil {
				delta = &PageDelta{}
				deltas[sessionID] = delta
				order = append(order, sessionID)
			}
			delta.Pages++
			delta.Accepted += evt.Accepted
			delta.Scanned += evt.Scanned
			if evt.TS.After(delta.At) {
				delta.At = evt.TS
			}
		}
	}

	for _, sessionID := range order {
		if err := s.repo.RecordPages(ctx, sessionID, *deltas[sessionID]); err != nil {
			return fmt.Errorf("record session pages: %w", err)
		}
	}
	s.logger.Debug("session progress recorded", zap.Int("sessions", len(order)))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
