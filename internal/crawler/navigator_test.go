package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pythonURL = "https://marketplace.visualstudio.com/items?itemName=ms-python.python"

func TestNavigatorFailsTwiceThenSucceeds(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	nav := NewNavigator(DefaultNavigationConfig(), clk, nil)
	s := &fakeSession{navErrs: []error{errBoom, errBoom, nil}}

	start := clk.Now()
	require.NoError(t, nav.Navigate(context.Background(), s, pythonURL))

	assert.Equal(t, 3, s.navigationCount())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, clk.Pauses())
	assert.GreaterOrEqual(t, clk.Now().Sub(start), 6*time.Second)

	// Timeouts widen on every attempt.
	assert.Equal(t, []time.Duration{40 * time.Second, 50 * time.Second, 60 * time.Second},
		[]time.Duration{s.navigations[0].timeout, s.navigations[1].timeout, s.navigations[2].timeout})
	require.Len(t, s.waits, 1)
	assert.Equal(t, DefaultMarkerSelector, s.waits[0].target)
	assert.Equal(t, 35*time.Second, s.waits[0].timeout)
}

func TestNavigatorExhaustsAttempts(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	nav := NewNavigator(DefaultNavigationConfig(), clk, nil)
	s := &fakeSession{navErrs: []error{errBoom, errBoom, errBoom, nil}}

	err := nav.Navigate(context.Background(), s, pythonURL)
	require.ErrorIs(t, err, ErrNavigation)
	require.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "3 attempt(s)")
	assert.Equal(t, 3, s.navigationCount(), "no attempt after the third failure")
	assert.Len(t, clk.Pauses(), 2)
}

func TestNavigatorMarkerFailureIsRetried(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	nav := NewNavigator(DefaultNavigationConfig(), clk, nil)
	s := &fakeSession{waitErr: context.DeadlineExceeded}

	err := nav.Navigate(context.Background(), s, pythonURL)
	require.ErrorIs(t, err, ErrNavigation)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, s.waits, 3)
}

func TestNavigatorSingleAttempt(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	nav := NewNavigator(DefaultNavigationConfig(), clk, nil).WithAttempts(1)
	s := &fakeSession{navErrs: []error{errBoom}}

	require.ErrorIs(t, nav.Navigate(context.Background(), s, pythonURL), ErrNavigation)
	assert.Equal(t, 1, s.navigationCount())
	assert.Empty(t, clk.Pauses())
}
