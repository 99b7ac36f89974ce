package filter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// ErrNoBlockList is returned when the block-list stage is enabled without a backend.
var ErrNoBlockList = errors.New("block list stage enabled without a block list")

type checkFunc func(ctx context.Context, c Criteria) (bool, error)

type stage struct {
	name  string
	check checkFunc
}

// Pipeline evaluates the enabled stages in a fixed order and stops at the
// first rejection, so the block-list lookup only runs for items every cheaper
// stage accepted.
type Pipeline struct {
	opts   Options
	stages []stage
	logger *zap.Logger
}

// New compiles opts into a Pipeline. blockList may be nil unless opts.BlockList is set.
func New(opts Options, blockList crawler.BlockList, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.BlockList && blockList == nil {
		return nil, ErrNoBlockList
	}
	p := &Pipeline{opts: opts, logger: logger}
	p.addRating(opts.Rating)
	p.addAI(opts.AIMode)
	p.addDimensions(opts.Dimensions)
	p.addTags(opts.Tags)
	p.addMinBookmarks(opts.MinBookmarks)
	if opts.ExcludeBookmarked {
		p.add("bookmarked", func(_ context.Context, c Criteria) (bool, error) {
			return !c.Bookmarked, nil
		})
	}
	p.addDate(opts.Date)
	p.addUsers(opts.Users)
	p.addKinds(opts.Kinds)
	if opts.BlockList {
		p.add("block_list", func(ctx context.Context, c Criteria) (bool, error) {
			if c.UserID == "" {
				return true, nil
			}
			blocked, err := blockList.IsBlocked(ctx, c.UserID)
			if err != nil {
				return false, fmt.Errorf("block list lookup: %w", err)
			}
			return !blocked, nil
		})
	}
	return p, nil
}

// AcceptAll returns a pipeline with every stage disabled.
func AcceptAll() *Pipeline {
	return &Pipeline{logger: zap.NewNop()}
}

// Options returns the settings the pipeline was compiled from.
func (p *Pipeline) Options() Options {
	return p.opts
}

// MinBookmarks returns the configured popularity floor, 0 when disabled.
func (p *Pipeline) MinBookmarks() int {
	return p.opts.MinBookmarks
}

// Stages lists the enabled stage names in evaluation order.
func (p *Pipeline) Stages() []string {
	names := make([]string, 0, len(p.stages))
	for _, s := range p.stages {
		names = append(names, s.name)
	}
	return names
}

// Check runs the enabled stages. The returned error names the stage that failed.
func (p *Pipeline) Check(ctx context.Context, c Criteria) (bool, error) {
	for _, s := range p.stages {
		if err := ctx.Err(); err != nil {
			return false, fmt.Errorf("filter %s: %w", s.name, err)
		}
		ok, err := s.check(ctx, c)
		if err != nil {
			return false, fmt.Errorf("filter %s: %w", s.name, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Accept is Check with stage failures folded into rejection.
func (p *Pipeline) Accept(ctx context.Context, c Criteria) bool {
	ok, err := p.Check(ctx, c)
	if err != nil {
		p.logger.Warn("filter stage failed; rejecting item", zap.String("id", c.ID), zap.Error(err))
		return false
	}
	return ok
}

func (p *Pipeline) add(name string, fn checkFunc) {
	p.stages = append(p.stages, stage{name: name, check: fn})
}

func (p *Pipeline) addRating(r RatingOptions) {
	if r.Min == nil && r.Max == nil {
		return
	}
	p.add("rating", func(_ context.Context, c Criteria) (bool, error) {
		v := int(c.Rating)
		if r.Min != nil && v < *r.Min {
			return false, nil
		}
		if r.Max != nil && v > *r.Max {
			return false, nil
		}
		return true, nil
	})
}

func (p *Pipeline) addAI(mode AIMode) {
	switch mode {
	case AIExclude:
		p.add("ai", func(_ context.Context, c Criteria) (bool, error) {
			return c.AIType != crawler.AIGenerated, nil
		})
	case AIOnly:
		p.add("ai", func(_ context.Context, c Criteria) (bool, error) {
			return c.AIType == crawler.AIGenerated, nil
		})
	}
}

func (p *Pipeline) addDimensions(d DimensionOptions) {
	if d == (DimensionOptions{}) {
		return
	}
	p.add("dimensions", func(_ context.Context, c Criteria) (bool, error) {
		if c.Width <= 0 || c.Height <= 0 {
			return true, nil
		}
		if c.Width < d.MinWidth || c.Height < d.MinHeight {
			return false, nil
		}
		if d.MaxWidth > 0 && c.Width > d.MaxWidth {
			return false, nil
		}
		if d.MaxHeight > 0 && c.Height > d.MaxHeight {
			return false, nil
		}
		return true, nil
	})
}

func (p *Pipeline) addTags(t TagOptions) {
	allow := lowerAll(t.Allow)
	deny := lowerAll(t.Deny)
	if len(allow) == 0 && len(deny) == 0 {
		return
	}
	match := matchExact
	if t.Mode == TagSubstring {
		match = matchSubstring
	}
	p.add("tags", func(_ context.Context, c Criteria) (bool, error) {
		tags := lowerAll(c.Tags)
		for _, pattern := range deny {
			if anyTag(tags, pattern, match) {
				return false, nil
			}
		}
		if len(allow) == 0 {
			return true, nil
		}
		hits := 0
		for _, pattern := range allow {
			if anyTag(tags, pattern, match) {
				hits++
			}
		}
		if t.RequireAll {
			return hits == len(allow), nil
		}
		return hits > 0, nil
	})
}

func (p *Pipeline) addMinBookmarks(limit int) {
	if limit <= 0 {
		return
	}
	p.add("min_bookmarks", func(_ context.Context, c Criteria) (bool, error) {
		if !c.BookmarkCountKnown {
			return true, nil
		}
		return c.BookmarkCount >= limit, nil
	})
}

func (p *Pipeline) addDate(d DateOptions) {
	if d.From.IsZero() && d.To.IsZero() {
		return
	}
	p.add("date", func(_ context.Context, c Criteria) (bool, error) {
		if c.CreatedAt.IsZero() {
			return true, nil
		}
		if !d.From.IsZero() && c.CreatedAt.Before(d.From) {
			return false, nil
		}
		if !d.To.IsZero() && c.CreatedAt.After(d.To) {
			return false, nil
		}
		return true, nil
	})
}

func (p *Pipeline) addUsers(u UserOptions) {
	allow := toSet(u.Allow)
	deny := toSet(u.Deny)
	if len(allow) == 0 && len(deny) == 0 {
		return
	}
	p.add("users", func(_ context.Context, c Criteria) (bool, error) {
		if _, blocked := deny[c.UserID]; blocked {
			return false, nil
		}
		if len(allow) == 0 {
			return true, nil
		}
		_, ok := allow[c.UserID]
		return ok, nil
	})
}

func (p *Pipeline) addKinds(kinds []string) {
	allowed := toSet(kinds)
	if len(allowed) == 0 {
		return
	}
	p.add("kinds", func(_ context.Context, c Criteria) (bool, error) {
		_, ok := allowed[string(c.Kind)]
		return ok, nil
	})
}

func matchExact(tag, pattern string) bool { return tag == pattern }

func matchSubstring(tag, pattern string) bool { return strings.Contains(tag, pattern) }

func anyTag(tags []string, pattern string, match func(string, string) bool) bool {
	for _, tag := range tags {
		if match(tag, pattern) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func toSet(in []string) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}
