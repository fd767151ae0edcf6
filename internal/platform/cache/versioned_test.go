package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type counts struct {
	Expired int `json:"expired"`
}

func newTestCache(t *testing.T) (*Versioned, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewVersioned(client, "medicines", time.Minute), mr
}

func TestFetchJSONCachesUntilBump(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return counts{Expired: calls}, nil
	}

	var first counts
	require.NoError(t, c.FetchJSON(ctx, &first, loader, "alerts"))
	var second counts
	require.NoError(t, c.FetchJSON(ctx, &second, loader, "alerts"))
	require.Equal(t, 1, calls)
	require.Equal(t, first, second)

	require.NoError(t, c.Bump(ctx))
	var third counts
	require.NoError(t, c.FetchJSON(ctx, &third, loader, "alerts"))
	require.Equal(t, 2, calls)
	require.Equal(t, 2, third.Expired)
}

func TestFetchJSONLoaderError(t *testing.T) {
	c, mr := newTestCache(t)
	boom := errors.New("boom")
	var dest counts
	err := c.FetchJSON(context.Background(), &dest, func(context.Context) (any, error) { return nil, boom }, "alerts")
	require.ErrorIs(t, err, boom)
	key, kerr := c.Key(context.Background(), "alerts")
	require.NoError(t, kerr)
	require.False(t, mr.Exists(key))
}

func TestNilClientAlwaysLoads(t *testing.T) {
	c := NewVersioned(nil, "sales", time.Minute)
	calls := 0
	for i := 0; i < 3; i++ {
		var dest counts
		require.NoError(t, c.FetchJSON(context.Background(), &dest, func(context.Context) (any, error) {
			calls++
			return counts{Expired: 7}, nil
		}, "totals"))
		require.Equal(t, 7, dest.Expired)
	}
	require.Equal(t, 3, calls)
	require.NoError(t, c.Bump(context.Background()))
}

func TestVersionStartsAtOne(t *testing.T) {
	c, _ := newTestCache(t)
	ver, err := c.Version(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, ver)
	require.NoError(t, c.Bump(context.Background()))
	ver, err = c.Version(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, ver)
}

func TestNewReturnsClientWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	client, err := New(context.Background(), addr)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	mr.Close()
	client, err = New(context.Background(), addr)
	require.Error(t, err)
	require.NotNil(t, client)
	t.Cleanup(func() { _ = client.Close() })

	c := NewVersioned(client, "sales", time.Minute)
	var got counts
	require.NoError(t, c.FetchJSON(context.Background(), &got, func(context.Context) (any, error) {
		return counts{Expired: 2}, nil
	}, "totals"))
	require.Equal(t, 2, got.Expired)
}
