package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-monitor/internal/crawler"
)

func TestPermanentGivesUpAfterOneAttempt(t *testing.T) {
	t.Parallel()

	p := New(DefaultConfig())
	require.Equal(t, GiveUp, p.Decide(crawler.Attempt{Category: crawler.CategoryPermanent, Number: 1}))
}

func TestNetworkCeiling(t *testing.T) {
	t.Parallel()

	p := New(DefaultConfig())
	attempts := 0
	for n := 1; ; n++ {
		attempts++
		d := p.Decide(crawler.Attempt{Category: crawler.CategoryNetwork, Number: n})
		if !d.Retry {
			break
		}
		require.Less(t, attempts, 100)
	}
	require.Equal(t, 10, attempts)
}

func TestBackoffMonotonicAndCapped(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxAttempts = map[crawler.Category]int{crawler.CategoryNetwork: 50, crawler.CategoryParse: 50}
	p := New(cfg)
	prev := time.Duration(0)
	for n := 1; n <= 40; n++ {
		delay := p.Backoff(n)
		require.GreaterOrEqual(t, delay, prev)
		require.LessOrEqual(t, delay, cfg.MaxDelay)
		prev = delay
	}
	require.Equal(t, 2*time.Second, p.Backoff(1))
	require.Equal(t, 3*time.Second, p.Backoff(2))
	require.Equal(t, cfg.MaxDelay, p.Backoff(40))
}

func TestJitterStaysInBounds(t *testing.T) {
	t.Parallel()

	p := New(DefaultConfig())
	for i := 0; i < 200; i++ {
		d := p.Decide(crawler.Attempt{Category: crawler.CategoryParse, Number: 2})
		require.True(t, d.Retry)
		require.GreaterOrEqual(t, d.Delay, time.Duration(float64(3*time.Second)*0.8))
		require.LessOrEqual(t, d.Delay, time.Duration(float64(3*time.Second)*1.2))
	}
}

func TestJitterNeverExceedsMaxDelay(t *testing.T) {
	t.Parallel()

	p := New(DefaultConfig())
	p.jitter = func(limit time.Duration) time.Duration { return limit }
	d := p.Decide(crawler.Attempt{Category: crawler.CategoryNetwork, Number: 9})
	require.Equal(t, 30*time.Second, d.Delay)
}

func TestSSLUsesFixedDelay(t *testing.T) {
	t.Parallel()

	p := New(DefaultConfig())
	for n := 1; n < 5; n++ {
		d := p.Decide(crawler.Attempt{Category: crawler.CategorySSL, Number: n})
		require.True(t, d.Retry)
		require.Equal(t, 5*time.Second, d.Delay)
	}
	require.Equal(t, GiveUp, p.Decide(crawler.Attempt{Category: crawler.CategorySSL, Number: 5}))
}

func TestDisabledJitterIsDeterministic(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Jitter = false
	p := New(cfg)
	d := p.Decide(crawler.Attempt{Category: crawler.CategoryNetwork, Number: 3})
	require.Equal(t, 4500*time.Millisecond, d.Delay)
}
