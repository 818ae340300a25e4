package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://Juejin.cn/post/1", "juejin.cn"},
		{"no scheme", "blog.csdn.net/path", "blog.csdn.net"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()
	Init()

	ObserveTarget("https://www.cnblogs.com/a/p/1.html", "ok")
	require.Equal(t, float64(1), testutil.ToFloat64(targetsTotal.WithLabelValues("www.cnblogs.com", "ok")))

	ObserveAttempt("parse")
	ObserveAttempt("parse")
	require.Equal(t, float64(2), testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues("parse")))

	SetPoolState(2, 3)
	require.Equal(t, float64(2), testutil.ToFloat64(poolLeases))
	require.Equal(t, float64(3), testutil.ToFloat64(poolEngines))

	IncInflight()
	IncInflight()
	DecInflight()
	require.Equal(t, float64(1), testutil.ToFloat64(inflightFetches))

	ObserveJob("sync", "completed")
	require.Equal(t, float64(1), testutil.ToFloat64(jobsTotal.WithLabelValues("sync", "completed")))

	ObserveDomainDelay("csdn.net", 2*time.Second)
	require.Equal(t, 1, testutil.CollectAndCount(domainDelaySeconds))
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://juejin.cn", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
