package system

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	require.NotNil(t, clk)

	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.After(before) && got.Before(after), "expected %v between %v and %v", got, before, after)
}

func TestClockPauseWaits(t *testing.T) {
	t.Parallel()

	clk := New()
	start := time.Now()
	clk.Pause(context.Background(), 30*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestClockPauseReturnsOnCancel(t *testing.T) {
	t.Parallel()

	clk := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	clk.Pause(ctx, time.Minute)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClockPauseNonPositive(t *testing.T) {
	t.Parallel()

	start := time.Now()
	New().Pause(context.Background(), -time.Second)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
