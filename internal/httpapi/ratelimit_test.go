package httpapi

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterRefills(t *testing.T) {
	clock := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	l := NewRateLimiter(RateLimitConfig{IPPerMinute: 60, IPBurst: 1})
	l.now = func() time.Time { return clock }

	require.True(t, l.allow("10.0.0.1"))
	require.False(t, l.allow("10.0.0.1"))
	require.True(t, l.allow("10.0.0.2"))

	clock = clock.Add(time.Second)
	require.True(t, l.allow("10.0.0.1"))
}

func TestRateLimiterSweepsIdleBuckets(t *testing.T) {
	clock := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	l := NewRateLimiter(RateLimitConfig{})
	l.now = func() time.Time { return clock }

	for i := 0; i < sweepThreshold; i++ {
		l.allow(fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}
	require.Len(t, l.buckets, sweepThreshold)

	clock = clock.Add(bucketIdleTTL + time.Minute)
	require.True(t, l.allow("192.0.2.10"))
	require.Len(t, l.buckets, 1)
}
