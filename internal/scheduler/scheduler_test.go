package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-monitor/internal/crawler"
)

func targets(counts map[string]int, order []string) []crawler.Target {
	var out []crawler.Target
	for _, domain := range order {
		for i := 0; i < counts[domain]; i++ {
			out = append(out, crawler.Target{URL: fmt.Sprintf("https://%s/p/%d", domain, i), Domain: domain})
		}
	}
	return out
}

func TestInterleave(t *testing.T) {
	t.Parallel()

	in := targets(map[string]int{"a.com": 3, "b.com": 1, "c.com": 2}, []string{"a.com", "b.com", "c.com"})
	var got []string
	for _, tgt := range Interleave(in) {
		got = append(got, tgt.Domain)
	}
	require.Equal(t, []string{"a.com", "b.com", "c.com", "a.com", "c.com", "a.com"}, got)
	require.Equal(t, "https://a.com/p/1", Interleave(in)[3].URL)
}

func TestOrderWithoutInterleaveKeepsInput(t *testing.T) {
	t.Parallel()

	s, err := New(Config{GlobalMax: 1})
	require.NoError(t, err)
	in := targets(map[string]int{"a.com": 2, "b.com": 2}, []string{"a.com", "b.com"})
	require.Equal(t, in, s.Order(in))
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{GlobalMax: 0})
	require.Error(t, err)
	_, err = New(Config{GlobalMax: 1, PerDomainMax: -1})
	require.Error(t, err)
}

func runLoad(t *testing.T, s *Scheduler, in []crawler.Target) (peakGlobal int32, peakDomain map[string]int32) {
	t.Helper()
	var global atomic.Int32
	var mu sync.Mutex
	perDomain := map[string]int32{}
	peakDomain = map[string]int32{}
	var wg sync.WaitGroup
	for _, tgt := range s.Order(in) {
		slot, err := s.Acquire(context.Background(), tgt.Domain)
		require.NoError(t, err)
		wg.Add(1)
		go func(domain string) {
			defer wg.Done()
			defer slot.Release()
			n := global.Add(1)
			mu.Lock()
			perDomain[domain]++
			if perDomain[domain] > peakDomain[domain] {
				peakDomain[domain] = perDomain[domain]
			}
			if n > peakGlobal {
				peakGlobal = n
			}
			mu.Unlock()
			time.Sleep(3 * time.Millisecond)
			mu.Lock()
			perDomain[domain]--
			mu.Unlock()
			global.Add(-1)
		}(tgt.Domain)
	}
	wg.Wait()
	return peakGlobal, peakDomain
}

func TestLimitsHoldUnderLoad(t *testing.T) {
	t.Parallel()

	s, err := New(Config{GlobalMax: 3, PerDomainMax: 1, Interleave: true})
	require.NoError(t, err)
	in := targets(map[string]int{"a.com": 10, "b.com": 5, "c.com": 5, "d.com": 2}, []string{"a.com", "b.com", "c.com", "d.com"})
	peakGlobal, peakDomain := runLoad(t, s, in)
	require.LessOrEqual(t, peakGlobal, int32(3))
	for domain, peak := range peakDomain {
		require.LessOrEqualf(t, peak, int32(1), "domain %s", domain)
	}
	total, _ := s.InFlight("a.com")
	require.Zero(t, total)
}

func TestUnlimitedPerDomainStillBoundsGlobal(t *testing.T) {
	t.Parallel()

	s, err := New(Config{GlobalMax: 4, PerDomainMax: 0})
	require.NoError(t, err)
	in := targets(map[string]int{"a.com": 20}, []string{"a.com"})
	peakGlobal, peakDomain := runLoad(t, s, in)
	require.LessOrEqual(t, peakGlobal, int32(4))
	require.LessOrEqual(t, peakDomain["a.com"], int32(4))
}

func TestAcquireCancelled(t *testing.T) {
	t.Parallel()

	s, err := New(Config{GlobalMax: 1, PerDomainMax: 1})
	require.NoError(t, err)
	slot, err := s.Acquire(context.Background(), "a.com")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(ctx, "b.com")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	slot.Release()
	slot.Release()
	total, perDomain := s.InFlight("a.com")
	require.Zero(t, total)
	require.Zero(t, perDomain)

	slot, err = s.Acquire(context.Background(), "b.com")
	require.NoError(t, err)
	slot.Release()
}

func TestDomainSpacingUnderGlobalContention(t *testing.T) {
	t.Parallel()

	s, err := New(Config{GlobalMax: 1, PerDomainMax: 1, MinDomainDelay: 200 * time.Millisecond})
	require.NoError(t, err)
	ctx := context.Background()

	busy, err := s.Acquire(ctx, "x.com")
	require.NoError(t, err)
	go func() {
		time.Sleep(300 * time.Millisecond)
		busy.Release()
	}()

	first, err := s.Acquire(ctx, "a.com")
	require.NoError(t, err)
	firstAt := time.Now()
	first.Release()

	second, err := s.Acquire(ctx, "a.com")
	require.NoError(t, err)
	gap := time.Since(firstAt)
	second.Release()

	require.GreaterOrEqual(t, gap, 180*time.Millisecond)
}

func TestDomainSpacingFromDispatchStart(t *testing.T) {
	t.Parallel()

	s, err := New(Config{GlobalMax: 2, PerDomainMax: 2, MinDomainDelay: 80 * time.Millisecond})
	require.NoError(t, err)

	first, err := s.Acquire(context.Background(), "a.com")
	require.NoError(t, err)
	started := time.Now()
	second, err := s.Acquire(context.Background(), "a.com")
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(started), 60*time.Millisecond)
	first.Release()
	second.Release()

	other, err := s.Acquire(context.Background(), "b.com")
	require.NoError(t, err)
	other.Release()
	require.Equal(t, "b.com", other.Domain())
}
