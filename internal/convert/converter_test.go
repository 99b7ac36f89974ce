package convert

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func (c fixedClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func TestConvertWritesJob(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	conv, err := NewBlobConverter(blobs, "/conversions/", fixedClock{now: now}, nil)
	require.NoError(t, err)

	item := crawler.ItemDescriptor{ID: "77", Kind: crawler.KindAnimation, UserID: "u1", Title: "loop"}
	require.NoError(t, conv.Convert(context.Background(), "s1", item))

	data, contentType, ok := blobs.Object("conversions/s1/77.json")
	require.True(t, ok)
	require.Equal(t, "application/json", contentType)

	var job Job
	require.NoError(t, json.Unmarshal(data, &job))
	require.Equal(t, Job{
		SessionID:   "s1",
		ItemID:      "77",
		Type:        "ugoira",
		UserID:      "u1",
		Title:       "loop",
		RequestedAt: now,
		Kind:        crawler.KindAnimation,
	}, job)
}

func TestConvertRejectsStills(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	conv, err := NewBlobConverter(blobs, "", nil, nil)
	require.NoError(t, err)

	err = conv.Convert(context.Background(), "s1", crawler.ItemDescriptor{ID: "1", Kind: crawler.KindImageSingle})
	require.ErrorIs(t, err, ErrNotAnimation)
	require.Empty(t, blobs.Paths(""))
	require.Equal(t, "s1/1.json", conv.JobPath("s1", "1"))
}

type failingStore struct{}

func (failingStore) PutObject(context.Context, string, string, []byte) (string, error) {
	return "", errors.New("bucket unavailable")
}

func TestConvertWrapsStoreErrors(t *testing.T) {
	t.Parallel()

	conv, err := NewBlobConverter(failingStore{}, "c", nil, nil)
	require.NoError(t, err)
	err = conv.Convert(context.Background(), "s1", crawler.ItemDescriptor{ID: "9", Kind: crawler.KindAnimation})
	require.ErrorContains(t, err, "write job 9")

	_, err = NewBlobConverter(nil, "", nil, nil)
	require.Error(t, err)
}
