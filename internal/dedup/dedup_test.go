package dedup

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisDeduper(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	d := NewRedisDeduper(client, time.Minute)

	seen, err := d.Seen(ctx, "evt-1")
	require.NoError(t, err)
	require.False(t, seen)

	seen, err = d.Seen(ctx, "evt-1")
	require.NoError(t, err)
	require.True(t, seen)
	require.True(t, mr.Exists(keyPrefix+"evt-1"))

	mr.FastForward(2 * time.Minute)
	seen, err = d.Seen(ctx, "evt-1")
	require.NoError(t, err)
	require.False(t, seen)

	seen, err = d.Seen(ctx, "")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestRedisDeduperForget(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	d := NewRedisDeduper(client, time.Minute)

	seen, err := d.Seen(ctx, "evt-1")
	require.NoError(t, err)
	require.False(t, seen)
	require.NoError(t, d.Forget(ctx, "evt-1"))
	require.False(t, mr.Exists(keyPrefix+"evt-1"))

	seen, err = d.Seen(ctx, "evt-1")
	require.NoError(t, err)
	require.False(t, seen)
	require.NoError(t, d.Forget(ctx, ""))
}

func TestRedisDeduperError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	_, err := NewRedisDeduper(client, time.Minute).Seen(context.Background(), "evt-1")
	require.Error(t, err)
}

func TestLRUDeduperExpires(t *testing.T) {
	d, err := NewLRUDeduper(2, time.Minute)
	require.NoError(t, err)
	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	ctx := context.Background()
	seen, _ := d.Seen(ctx, "a")
	require.False(t, seen)
	seen, _ = d.Seen(ctx, "a")
	require.True(t, seen)

	now = now.Add(2 * time.Minute)
	seen, _ = d.Seen(ctx, "a")
	require.False(t, seen)
}

func TestLRUDeduperEvictsOldest(t *testing.T) {
	d, err := NewLRUDeduper(2, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		seen, _ := d.Seen(ctx, id)
		require.False(t, seen)
	}
	seen, _ := d.Seen(ctx, "a")
	require.False(t, seen, "a should have been evicted")
	seen, _ = d.Seen(ctx, "c")
	require.True(t, seen)
}

func TestLRUDeduperForget(t *testing.T) {
	d, err := NewLRUDeduper(4, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	seen, _ := d.Seen(ctx, "a")
	require.False(t, seen)
	require.NoError(t, d.Forget(ctx, "a"))
	seen, _ = d.Seen(ctx, "a")
	require.False(t, seen)
	seen, _ = d.Seen(ctx, "a")
	require.True(t, seen)
}
