package bitable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-monitor/internal/clock/system"
	"github.com/JakeFAU/article-monitor/internal/crawler"
)

func TestGateRejectsWithinCooldown(t *testing.T) {
	t.Parallel()

	clock := system.NewManual(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	gate := NewGate(time.Minute, clock)

	_, err := gate.Acquire()
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	_, err = gate.Acquire()
	require.ErrorIs(t, err, crawler.ErrRateLimited)
	require.Equal(t, 30*time.Second, gate.Remaining())

	clock.Advance(30 * time.Second)
	_, err = gate.Acquire()
	require.NoError(t, err)
	require.Equal(t, time.Minute, gate.Remaining())
}

func TestGateRelease(t *testing.T) {
	t.Parallel()

	clock := system.NewManual(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	gate := NewGate(time.Minute, clock)

	accepted, err := gate.Acquire()
	require.NoError(t, err)
	gate.Release(accepted)
	require.Zero(t, gate.Remaining())

	second, err := gate.Acquire()
	require.NoError(t, err)
	gate.Release(second.Add(-time.Hour))
	_, err = gate.Acquire()
	require.ErrorIs(t, err, crawler.ErrRateLimited)
}
