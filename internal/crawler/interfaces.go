package crawler

import (
	"context"
	"errors"
	"time"
)

// ErrQueueClosed is returned by Queue.Dequeue once the queue is shut down and
// drained.
var ErrQueueClosed = errors.New("queue closed")

// ErrQueueFull is returned by non-blocking enqueues when no capacity is left.
var ErrQueueFull = errors.New("queue full")

// PageSource adapts one listing type to the engine.
type PageSource interface {
	Info() SourceInfo
	FetchPage(ctx context.Context, req PageRequest) (PageResult, error)
	Describe(item RawItem) (ItemDescriptor, error)
}

// PopularityLookup fetches the authoritative bookmark count of one item.
type PopularityLookup interface {
	BookmarkCount(ctx context.Context, id string, kind WorkKind) (int, error)
}

// BlockList answers whether a user is blocked.
type BlockList interface {
	IsBlocked(ctx context.Context, userID string) (bool, error)
}

// RetryPolicy decides whether and when a failed fetch is re-issued.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// ResultExporter persists a finished result set.
type ResultExporter interface {
	ExportResults(ctx context.Context, sessionID string, items []ItemDescriptor) error
}

// Converter consumes one animation item after a session completes.
type Converter interface {
	Convert(ctx context.Context, sessionID string, item ItemDescriptor) error
}

// Queue provides enqueue/dequeue semantics for session requests.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time and timer channels (replaceable in tests).
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Digester fingerprints stored artifacts.
type Digester interface {
	Digest(data []byte) string
}

// IDGenerator produces session IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
