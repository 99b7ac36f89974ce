package engine

import (
	"time"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// Config tunes the crawl loop.
type Config struct {
	// StandardPageCap and ElevatedPageCap bound the fetchable page count by
	// account tier.
	StandardPageCap int
	ElevatedPageCap int
	// SampleEvery is the completed-page interval between termination samples.
	SampleEvery int
	// RateLimitCooldown is the wait after a zero-total page mid-session.
	RateLimitCooldown time.Duration
	// SlowModeDelay separates consecutive fetches while slow mode is on.
	SlowModeDelay time.Duration
	// SlowModeAutoPages turns slow mode on when a session wants more pages
	// than this. Zero disables it.
	SlowModeAutoPages int
}

// Defaults for Config fields left at zero.
const (
	DefaultSampleEvery       = 10
	DefaultRateLimitCooldown = 180 * time.Second
	DefaultSlowModeDelay     = 1500 * time.Millisecond
)

func (c Config) withDefaults() Config {
	if c.StandardPageCap <= 0 {
		c.StandardPageCap = crawler.DefaultStandardPageCap
	}
	if c.ElevatedPageCap <= 0 {
		c.ElevatedPageCap = crawler.DefaultElevatedPageCap
	}
	if c.SampleEvery <= 0 {
		c.SampleEvery = DefaultSampleEvery
	}
	if c.RateLimitCooldown <= 0 {
		c.RateLimitCooldown = DefaultRateLimitCooldown
	}
	if c.SlowModeDelay <= 0 {
		c.SlowModeDelay = DefaultSlowModeDelay
	}
	if c.SlowModeAutoPages < 0 {
		c.SlowModeAutoPages = 0
	}
	return c
}

func (c Config) pageCap(elevated bool) int {
	if elevated {
		return c.ElevatedPageCap
	}
	return c.StandardPageCap
}
