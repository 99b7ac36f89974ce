// Package convert hands animation items from finished sessions to the
// conversion stage. The codec runs elsewhere; this package records one
// conversion job per item.
package convert

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
	"github.com/JakeFAU/listing-crawler/internal/metrics"
)

// ErrNotAnimation is returned for items that have nothing to convert.
var ErrNotAnimation = errors.New("convert: item is not an animation")

// Job is the conversion request written for one item.
type Job struct {
	SessionID   string           `json:"session_id"`
	ItemID      string           `json:"item_id"`
	Type        string           `json:"type"`
	UserID      string           `json:"user_id,omitempty"`
	Title       string           `json:"title,omitempty"`
	RequestedAt time.Time        `json:"requested_at"`
	Kind        crawler.WorkKind `json:"kind"`
}

// BlobConverter writes conversion jobs to a BlobStore.
type BlobConverter struct {
	store  crawler.BlobStore
	prefix string
	clock  crawler.Clock
	logger *zap.Logger
}

// NewBlobConverter constructs a BlobConverter writing under prefix.
func NewBlobConverter(store crawler.BlobStore, prefix string, clock crawler.Clock, logger *zap.Logger) (*BlobConverter, error) {
	if store == nil {
		return nil, errors.New("convert: blob store is required")
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobConverter{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		clock:  clock,
		logger: logger,
	}, nil
}

// JobPath is where the job for itemID is written.
func (c *BlobConverter) JobPath(sessionID, itemID string) string {
	if c.prefix == "" {
		return fmt.Sprintf("%s/%s.json", sessionID, itemID)
	}
	return fmt.Sprintf("%s/%s/%s.json", c.prefix, sessionID, itemID)
}

// Convert implements crawler.Converter.
func (c *BlobConverter) Convert(ctx context.Context, sessionID string, item crawler.ItemDescriptor) error {
	if item.Kind != crawler.KindAnimation {
		metrics.ObserveConvert("skipped")
		return fmt.Errorf("%w: %s (%s)", ErrNotAnimation, item.ID, item.Kind)
	}
	job := Job{
		SessionID:   sessionID,
		ItemID:      item.ID,
		Type:        item.Kind.PublicType(),
		UserID:      item.UserID,
		Title:       item.Title,
		RequestedAt: c.clock.Now().UTC(),
		Kind:        item.Kind,
	}
	data, err := json.Marshal(job)
	if err != nil {
		metrics.ObserveConvert("error")
		return fmt.Errorf("convert: marshal job: %w", err)
	}
	uri, err := c.store.PutObject(ctx, c.JobPath(sessionID, item.ID), "application/json", data)
	if err != nil {
		metrics.ObserveConvert("error")
		return fmt.Errorf("convert: write job %s: %w", item.ID, err)
	}
	metrics.ObserveConvert("ok")
	c.logger.Debug("conversion job recorded",
		zap.String("session_id", sessionID),
		zap.String("item_id", item.ID),
		zap.String("uri", uri),
	)
	return nil
}
