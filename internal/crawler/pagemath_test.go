package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageCountRoundsUp(t *testing.T) {
	t.Parallel()

	cases := []struct {
		total, perPage, want int
	}{
		{0, 60, 0},
		{1, 60, 1},
		{60, 60, 1},
		{61, 60, 2},
		{950, 60, 16},
		{10, 0, 0},
		{-5, 60, 0},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, PageCount(tc.total, tc.perPage), "total=%d per_page=%d", tc.total, tc.perPage)
	}
}

func TestResolveBoundsUnboundedTakesRemainder(t *testing.T) {
	t.Parallel()

	b := ResolveBounds(950, 60, DefaultStandardPageCap, 1, Unbounded)
	require.Equal(t, 16, b.PageCount)
	require.Equal(t, 16, b.Wanted)
	require.False(t, b.Capped)
	require.False(t, b.OutOfRange)

	b = ResolveBounds(950, 60, DefaultStandardPageCap, 5, Unbounded)
	require.Equal(t, 12, b.Wanted)
}

func TestResolveBoundsRequestedClamps(t *testing.T) {
	t.Parallel()

	require.Equal(t, 3, ResolveBounds(950, 60, DefaultStandardPageCap, 1, 3).Wanted)
	require.Equal(t, 2, ResolveBounds(950, 60, DefaultStandardPageCap, 15, 10).Wanted)
	require.Equal(t, 0, ResolveBounds(950, 60, DefaultStandardPageCap, 1, 0).Wanted)
}

func TestResolveBoundsCapsByTier(t *testing.T) {
	t.Parallel()

	total := 60 * 7000
	standard := ResolveBounds(total, 60, DefaultStandardPageCap, 1, Unbounded)
	require.True(t, standard.Capped)
	require.Equal(t, 1000, standard.PageCount)
	require.Equal(t, 1000, standard.Wanted)

	elevated := ResolveBounds(total, 60, DefaultElevatedPageCap, 1, Unbounded)
	require.True(t, elevated.Capped)
	require.Equal(t, 5000, elevated.PageCount)

	under := ResolveBounds(60*2000, 60, DefaultElevatedPageCap, 1, Unbounded)
	require.False(t, under.Capped)
	require.Equal(t, 2000, under.PageCount)
}

func TestResolveBoundsOutOfRange(t *testing.T) {
	t.Parallel()

	b := ResolveBounds(120, 60, DefaultStandardPageCap, 3, Unbounded)
	require.True(t, b.OutOfRange)
	require.Zero(t, b.Wanted)

	empty := ResolveBounds(0, 60, DefaultStandardPageCap, 1, Unbounded)
	require.True(t, empty.OutOfRange)
	require.Zero(t, empty.PageCount)
}
