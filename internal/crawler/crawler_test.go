package crawler

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
		err  bool
	}{
		{name: "lowercases host", in: "https://Juejin.CN/post/123", want: "https://juejin.cn/post/123"},
		{name: "drops fragment and default port", in: "https://blog.csdn.net:443/a/article/details/1#comments", want: "https://blog.csdn.net/a/article/details/1"},
		{name: "rewrites juejin share link", in: "https://juejin.cn/spost/7300000000", want: "https://juejin.cn/post/7300000000"},
		{name: "rejects ftp", in: "ftp://example.com/file", err: true},
		{name: "rejects empty", in: "   ", err: true},
		{name: "rejects missing host", in: "https:///path", err: true},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tc.in)
			if tc.err {
				require.ErrorIs(t, err, ErrInvalidURL)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestDomain(t *testing.T) {
	t.Parallel()

	require.Equal(t, "csdn.net", Domain("https://blog.csdn.net/x"))
	require.Equal(t, "juejin.cn", Domain("https://juejin.cn/post/1"))
	require.Equal(t, "localhost", Domain("http://localhost:8080/a"))
	require.Equal(t, "", Domain("::bad"))
}

func TestCategoryOf(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("fetch: %w", NewFetchError(CategorySSL, errors.New("x509")))
	require.Equal(t, CategorySSL, CategoryOf(wrapped))
	require.Equal(t, CategoryNetwork, CategoryOf(ErrPoolExhausted))
	require.Equal(t, CategoryNetwork, CategoryOf(errors.New("boom")))
	require.Contains(t, wrapped.Error(), "ssl: x509")
}

func TestProfileHeaders(t *testing.T) {
	t.Parallel()

	headers := Profile{UserAgent: "ua", AcceptLanguage: "zh-CN"}.Headers()
	require.Equal(t, map[string]string{"User-Agent": "ua", "Accept-Language": "zh-CN"}, headers)
}
