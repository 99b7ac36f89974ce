package blocklist

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestStaticBlockList(t *testing.T) {
	t.Parallel()

	s := NewStatic([]string{" u1 ", "", "u2"})
	require.Equal(t, 2, s.Len())

	blocked, err := s.IsBlocked(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, blocked)

	blocked, err = s.IsBlocked(context.Background(), "u3")
	require.NoError(t, err)
	require.False(t, blocked)

	var empty *Static
	blocked, err = empty.IsBlocked(context.Background(), "u1")
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestRedisBlockList(t *testing.T) {
	t.Parallel()

	client := &fakeSetClient{members: map[string]bool{"u9": true}}
	b, err := NewRedisWithClient(client, "crawler:blocked_users")
	require.NoError(t, err)

	blocked, err := b.IsBlocked(context.Background(), "u9")
	require.NoError(t, err)
	require.True(t, blocked)

	blocked, err = b.IsBlocked(context.Background(), "u1")
	require.NoError(t, err)
	require.False(t, blocked)

	blocked, err = b.IsBlocked(context.Background(), "")
	require.NoError(t, err)
	require.False(t, blocked)
	require.Equal(t, []string{"crawler:blocked_users", "crawler:blocked_users"}, client.keys)

	require.NoError(t, b.Ping(context.Background()))
	require.NoError(t, b.Close())
	require.True(t, client.closed)
}

func TestRedisBlockListErrors(t *testing.T) {
	t.Parallel()

	client := &fakeSetClient{err: errors.New("connection refused")}
	b, err := NewRedisWithClient(client, "k")
	require.NoError(t, err)

	_, err = b.IsBlocked(context.Background(), "u1")
	require.ErrorContains(t, err, "sismember")
	require.ErrorContains(t, b.Ping(context.Background()), "redis ping")

	_, err = NewRedisWithClient(nil, "k")
	require.Error(t, err)
	_, err = NewRedisWithClient(client, "")
	require.Error(t, err)
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	t.Parallel()

	_, err := NewRedis(context.Background(), "not-a-url", "k", nil)
	require.ErrorContains(t, err, "invalid redis url")
}

type fakeSetClient struct {
	members map[string]bool
	err     error
	keys    []string
	closed  bool
}

func (f *fakeSetClient) SIsMember(_ context.Context, key string, member any) *redis.BoolCmd {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	id, _ := member.(string)
	return redis.NewBoolResult(f.members[id], nil)
}

func (f *fakeSetClient) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.err)
}

func (f *fakeSetClient) Close() error {
	f.closed = true
	return nil
}
