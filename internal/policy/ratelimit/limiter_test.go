package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/marketplace-archiver/internal/metrics"
)

func TestLimiterWaitsPerHost(t *testing.T) {
	t.Parallel()
	metrics.Init()

	// 10 RPS with burst 1: the second call on a host waits ~100ms.
	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://marketplace.visualstudio.com/items?itemName=a.b"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://MARKETPLACE.visualstudio.com/search"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	// Another host has its own bucket.
	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://example.com/"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 2, l.Hosts())
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for range 5 {
		require.NoError(t, l.Wait(context.Background(), "https://example.com/"))
	}
	assert.Zero(t, l.Hosts())
}

func TestLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://example.com/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://example.com/"))
}

func TestLimiterBadURL(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1})
	require.Error(t, l.Wait(context.Background(), "://bad"))
}
