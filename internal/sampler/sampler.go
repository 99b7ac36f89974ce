// Package sampler decides whether the remaining pages of a popularity-ordered
// listing are worth fetching by checking one trailing item against the
// configured bookmark floor.
package sampler

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// ThresholdFunc returns the active minimum-bookmark floor; 0 disables sampling.
type ThresholdFunc func() int

// Sampler checks sampled items through a PopularityLookup.
type Sampler struct {
	lookup    crawler.PopularityLookup
	threshold ThresholdFunc
	logger    *zap.Logger
}

// New builds a Sampler. A nil lookup disables it.
func New(lookup crawler.PopularityLookup, threshold ThresholdFunc, logger *zap.Logger) *Sampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold == nil {
		threshold = func() int { return 0 }
	}
	return &Sampler{lookup: lookup, threshold: threshold, logger: logger}
}

// ShouldStop reports true only when a floor is configured and the sampled
// item's authoritative count is strictly below it. Lookup failures never stop
// a session.
func (s *Sampler) ShouldStop(ctx context.Context, id string, kind crawler.WorkKind) bool {
	if s == nil || s.lookup == nil || id == "" {
		return false
	}
	floor := s.threshold()
	if floor <= 0 {
		return false
	}
	count, err := s.lookup.BookmarkCount(ctx, id, kind)
	if err != nil {
		s.logger.Warn("popularity sample failed; continuing", zap.String("id", id), zap.Error(err))
		return false
	}
	below := count < floor
	s.logger.Debug("popularity sample",
		zap.String("id", id),
		zap.Int("bookmarks", count),
		zap.Int("floor", floor),
		zap.Bool("below", below),
	)
	return below
}
