package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/engine"
	"github.com/JakeFAU/listing-crawler/internal/filter"
	"github.com/JakeFAU/listing-crawler/internal/progress/sinks"
)

var (
	// ErrNotFound is returned for unknown session IDs.
	ErrNotFound = errors.New("session not found")
	// ErrExists is returned when creating a session twice.
	ErrExists = errors.New("session already exists")
	// ErrNotFinished is returned when reading the result of a running session.
	ErrNotFinished = errors.New("session not finished")
)

// Refilterer re-applies a pipeline to a finished session.
type Refilterer interface {
	Refilter(ctx context.Context, sess *engine.Session, p *filter.Pipeline) (int, error)
}

// SessionStore keeps session records and the finished engine sessions behind
// them.
type SessionStore struct {
	mu       sync.RWMutex
	records  map[string]crawler.SessionRecord
	sessions map[string]*engine.Session
}

var _ sinks.ProgressRecorder = (*SessionStore)(nil)

// NewSessionStore constructs an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		records:  make(map[string]crawler.SessionRecord),
		sessions: make(map[string]*engine.Session),
	}
}

// Create stores a new record in queued status.
func (s *SessionStore) Create(_ context.Context, record crawler.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ID]; exists {
		return fmt.Errorf("%w: %s", ErrExists, record.ID)
	}
	if record.Status == "" {
		record.Status = crawler.StatusQueued
	}
	s.records[record.ID] = record
	return nil
}

// Get fetches a record by ID.
func (s *SessionStore) Get(_ context.Context, id string) (crawler.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return crawler.SessionRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return record, nil
}

// List returns every record ordered by submission time.
func (s *SessionStore) List(_ context.Context) []crawler.SessionRecord {
	s.mu.RLock()
	out := make([]crawler.SessionRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record)
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Submitted.Equal(out[j].Submitted) {
			return out[i].ID < out[j].ID
		}
		return out[i].Submitted.Before(out[j].Submitted)
	})
	return out
}

// RecordStart marks a session running.
func (s *SessionStore) RecordStart(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if record.Status != crawler.StatusQueued {
		return nil
	}
	record.Status = crawler.StatusRunning
	record.Started = pointerTime(at)
	s.records[id] = record
	return nil
}

// RecordPages folds live page progress into a running record. Progress that
// arrives after Finish is ignored; the finished counters are authoritative.
func (s *SessionStore) RecordPages(_ context.Context, id string, delta sinks.PageDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if isTerminal(record.Status) {
		return nil
	}
	record.Counters.PagesCompleted += delta.Pages
	record.Counters.ItemsAccepted += delta.Accepted
	record.Counters.ItemsScanned += delta.Scanned
	s.records[id] = record
	return nil
}

// Fail marks a session failed before the engine produced a result, for
// example when its source cannot be resolved.
func (s *SessionStore) Fail(_ context.Context, id string, cause error, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	record.Status = crawler.StatusFailed
	record.Outcome = crawler.OutcomeError
	if cause != nil {
		record.ErrorText = cause.Error()
	}
	record.Finished = pointerTime(at)
	s.records[id] = record
	return nil
}

// Finish copies the terminal state of sess into its record and keeps sess for
// result access and re-filtering.
func (s *SessionStore) Finish(_ context.Context, sess *engine.Session, at time.Time) error {
	if sess == nil {
		return errors.New("session is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[sess.ID()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sess.ID())
	}
	record.Outcome = sess.Outcome()
	record.Counters = sess.Counters()
	record.Status = crawler.StatusDone
	if err := sess.Err(); err != nil || record.Outcome == crawler.OutcomeError {
		record.Status = crawler.StatusFailed
		if err != nil {
			record.ErrorText = err.Error()
		}
	}
	if record.Started == nil {
		record.Started = pointerTime(at)
	}
	record.Finished = pointerTime(at)
	s.records[record.ID] = record
	s.sessions[record.ID] = sess
	return nil
}

// Session returns the finished engine session for id.
func (s *SessionStore) Session(id string) (*engine.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Result returns the accepted set of a finished session.
func (s *SessionStore) Result(ctx context.Context, id string) (crawler.ResultView, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return crawler.ResultView{}, err
	}
	sess, ok := s.Session(id)
	if !ok {
		return crawler.ResultView{}, fmt.Errorf("%w: %s", ErrNotFinished, id)
	}
	return sess.View(), nil
}

// Refilter re-applies p to every finished session and refreshes the accepted
// counters of their records. It returns the number of sessions re-filtered.
func (s *SessionStore) Refilter(ctx context.Context, r Refilterer, p *filter.Pipeline) (int, error) {
	s.mu.RLock()
	finished := make([]*engine.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		finished = append(finished, sess)
	}
	s.mu.RUnlock()

	count := 0
	for _, sess := range finished {
		if err := ctx.Err(); err != nil {
			return count, fmt.Errorf("refilter sessions: %w", err)
		}
		accepted, err := r.Refilter(ctx, sess, p)
		if err != nil {
			return count, fmt.Errorf("refilter session %s: %w", sess.ID(), err)
		}
		s.mu.Lock()
		if record, ok := s.records[sess.ID()]; ok {
			record.Counters.ItemsAccepted = accepted
			s.records[sess.ID()] = record
		}
		s.mu.Unlock()
		count++
	}
	return count, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t.UTC()
	return &ts
}

func isTerminal(status crawler.SessionStatus) bool {
	switch status {
	case crawler.StatusDone, crawler.StatusFailed:
		return true
	default:
		return false
	}
}
