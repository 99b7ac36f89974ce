package engine

import (
	"context"
	"sync"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/filter"
	"github.com/JakeFAU/listing-crawler/internal/store"
)

// Session is one run of the engine. The engine is its only writer while it
// runs; readers get copies.
type Session struct {
	id      string
	request crawler.SessionRequest
	info    crawler.SourceInfo

	mu       sync.Mutex
	counters crawler.SessionCounters
	outcome  crawler.Outcome
	err      error
	buffered []crawler.ItemDescriptor

	results *store.ResultStore
	once    sync.Once
}

func newSession(id string, info crawler.SourceInfo, req crawler.SessionRequest) *Session {
	return &Session{
		id:      id,
		request: req,
		info:    info,
		results: store.New(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Request returns the request the session was started with.
func (s *Session) Request() crawler.SessionRequest { return s.request }

// Source returns the source description the session ran against.
func (s *Session) Source() crawler.SourceInfo { return s.info }

// Counters returns a copy of the session counters.
func (s *Session) Counters() crawler.SessionCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// Outcome returns the terminal outcome, or OutcomeNone while running.
func (s *Session) Outcome() crawler.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Err returns the failure behind OutcomeError.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Results exposes the accepted set.
func (s *Session) Results() *store.ResultStore { return s.results }

// View returns the read view of the accepted set.
func (s *Session) View() crawler.ResultView { return s.results.View(s.id) }

// Buffered returns a copy of every descriptor the session evaluated.
func (s *Session) Buffered() []crawler.ItemDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]crawler.ItemDescriptor(nil), s.buffered...)
}

func (s *Session) update(fn func(c *crawler.SessionCounters)) {
	s.mu.Lock()
	fn(&s.counters)
	s.mu.Unlock()
}

func (s *Session) buffer(d crawler.ItemDescriptor) {
	s.mu.Lock()
	s.buffered = append(s.buffered, d)
	s.mu.Unlock()
}

func (s *Session) setOutcome(outcome crawler.Outcome, err error) {
	s.mu.Lock()
	s.outcome = outcome
	s.err = err
	s.mu.Unlock()
}

// refilter rebuilds the accepted set from the buffered descriptors.
func (s *Session) refilter(ctx context.Context, p *filter.Pipeline) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results.Reset()
	accepted := 0
	for _, d := range s.buffered {
		if p.Accept(ctx, filter.CriteriaFromItem(d)) && s.results.Add(d) {
			accepted++
		}
	}
	s.results.Sort(s.info.SortOrder)
	s.counters.ItemsAccepted = accepted
	return accepted
}
