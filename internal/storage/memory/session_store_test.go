package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/engine"
	"github.com/JakeFAU/listing-crawler/internal/filter"
	"github.com/JakeFAU/listing-crawler/internal/progress/sinks"
	"github.com/JakeFAU/listing-crawler/internal/source/sourcetest"
)

func runSession(t *testing.T, eng *engine.Engine, id string) *engine.Session {
	t.Helper()
	src := sourcetest.New("search", 2, 5)
	sess, err := eng.Run(context.Background(), id, src, crawler.SessionRequest{
		Source:    "search",
		StartPage: 1,
		Requested: crawler.Unbounded,
	})
	require.NoError(t, err)
	require.Equal(t, crawler.OutcomeCompleted, sess.Outcome())
	return sess
}

func TestSessionStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	record := crawler.SessionRecord{ID: "s1", Request: crawler.SessionRequest{Source: "search"}, Submitted: now}

	require.NoError(t, store.Create(ctx, record))
	require.ErrorIs(t, store.Create(ctx, record), ErrExists)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, crawler.StatusQueued, got.Status)

	_, err = store.Result(ctx, "s1")
	require.ErrorIs(t, err, ErrNotFinished)

	require.NoError(t, store.RecordStart(ctx, "s1", now.Add(time.Second)))
	require.NoError(t, store.RecordPages(ctx, "s1", sinks.PageDelta{Pages: 2, Accepted: 3, Scanned: 4}))
	got, err = store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, crawler.StatusRunning, got.Status)
	require.Equal(t, 2, got.Counters.PagesCompleted)
	require.Equal(t, 3, got.Counters.ItemsAccepted)
	require.NotNil(t, got.Started)

	sess := runSession(t, engine.New(engine.Options{}), "s1")
	require.NoError(t, store.Finish(ctx, sess, now.Add(time.Minute)))

	got, err = store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, crawler.StatusDone, got.Status)
	require.Equal(t, crawler.OutcomeCompleted, got.Outcome)
	require.Equal(t, 5, got.Counters.ItemsAccepted)
	require.Equal(t, 3, got.Counters.PagesCompleted)
	require.NotNil(t, got.Finished)

	// late progress does not overwrite the finished counters
	require.NoError(t, store.RecordPages(ctx, "s1", sinks.PageDelta{Pages: 1, Accepted: 1}))
	got, err = store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 5, got.Counters.ItemsAccepted)

	view, err := store.Result(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, view.Identifiers, 5)
	require.Equal(t, "s1", view.SessionID)
}

func TestSessionStoreUnknownSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()
	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, store.RecordStart(ctx, "missing", time.Now()), ErrNotFound)
	require.ErrorIs(t, store.RecordPages(ctx, "missing", sinks.PageDelta{}), ErrNotFound)
	require.ErrorIs(t, store.Fail(ctx, "missing", nil, time.Now()), ErrNotFound)
	_, err = store.Result(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSessionStoreFail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()
	require.NoError(t, store.Create(ctx, crawler.SessionRecord{ID: "s2"}))
	require.NoError(t, store.Fail(ctx, "s2", errors.New("unknown source"), time.Now()))

	got, err := store.Get(ctx, "s2")
	require.NoError(t, err)
	require.Equal(t, crawler.StatusFailed, got.Status)
	require.Equal(t, crawler.OutcomeError, got.Outcome)
	require.Equal(t, "unknown source", got.ErrorText)
}

func TestSessionStoreListOrdersBySubmission(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Create(ctx, crawler.SessionRecord{ID: "b", Submitted: base.Add(time.Minute)}))
	require.NoError(t, store.Create(ctx, crawler.SessionRecord{ID: "a", Submitted: base.Add(2 * time.Minute)}))
	require.NoError(t, store.Create(ctx, crawler.SessionRecord{ID: "c", Submitted: base}))

	var ids []string
	for _, r := range store.List(ctx) {
		ids = append(ids, r.ID)
	}
	require.Equal(t, []string{"c", "b", "a"}, ids)
}

func TestSessionStoreRefilter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()
	eng := engine.New(engine.Options{})
	require.NoError(t, store.Create(ctx, crawler.SessionRecord{ID: "s3"}))
	require.NoError(t, store.Finish(ctx, runSession(t, eng, "s3"), time.Now()))

	deny, err := filter.New(filter.Options{Users: filter.UserOptions{Deny: []string{"u1"}}}, nil, nil)
	require.NoError(t, err)

	n, err := store.Refilter(ctx, eng, deny)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := store.Get(ctx, "s3")
	require.NoError(t, err)
	require.Equal(t, 3, got.Counters.ItemsAccepted)

	view, err := store.Result(ctx, "s3")
	require.NoError(t, err)
	for _, d := range view.Metadata {
		require.NotEqual(t, "u1", d.UserID)
	}

	// re-applying the permissive pipeline restores the full set
	n, err = store.Refilter(ctx, eng, filter.AcceptAll())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	got, err = store.Get(ctx, "s3")
	require.NoError(t, err)
	require.Equal(t, 5, got.Counters.ItemsAccepted)
}
