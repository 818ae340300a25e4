package extract

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-monitor/internal/crawler"
)

func TestParseCount(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in     string
		format NumberFormat
		want   int64
		ok     bool
	}{
		{"1000", Plain, 1000, true},
		{" 1,234 ", Plain, 1234, true},
		{"阅读 56", Plain, 56, true},
		{"2.5k", Plain, 2, true},
		{"1k", WithSuffix, 1000, true},
		{"1.5K", WithSuffix, 1500, true},
		{"3w", WithSuffix, 30000, true},
		{"2.5m", WithSuffix, 2500000, true},
		{"1,234.5k", WithSuffix, 1234500, true},
		{"", WithSuffix, 0, false},
		{"none", Plain, 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseCount(tc.in, tc.format)
		require.Equal(t, tc.ok, ok, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

func TestTitlePriority(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `<html><head><title>Go 并发实践 - 掘金</title>
<meta property="og:title" content="og"></head><body><h1>heading</h1></body></html>`)
	require.Equal(t, "Go 并发实践", Title(doc))

	doc = mustDoc(t, `<html><head><meta property="og:title" content="From OG"></head><body><h1>
  Multi   line </h1></body></html>`)
	require.Equal(t, "Multi line", Title(doc))

	doc = mustDoc(t, `<html><head><meta property="og:title" content=" From OG "></head></html>`)
	require.Equal(t, "From OG", Title(doc))
	require.Empty(t, Title(nil))
}

func TestRegistryDetectAndTarget(t *testing.T) {
	t.Parallel()

	reg := Default()
	require.Equal(t, Juejin, reg.Detect("https://juejin.cn/post/1"))
	require.Equal(t, CSDN, reg.Detect("https://blog.csdn.net/u/article/details/2"))
	require.Equal(t, Jianshu, reg.Detect("https://www.jianshu.com/p/abc"))
	require.Equal(t, MBB, reg.Detect("https://mbb.eet-china.com/blog/1.html"))
	require.Empty(t, reg.Detect("https://example.org/a"))
	require.Empty(t, reg.Detect("https://notcsdn.netx/a"))
	require.Len(t, reg.Platforms(), 10)

	target, err := reg.NewTarget("HTTPS://Juejin.cn/spost/123#comments")
	require.NoError(t, err)
	require.Equal(t, "https://juejin.cn/post/123", target.URL)
	require.Equal(t, "juejin.cn", target.Domain)
	require.Equal(t, Juejin, target.Platform)
	require.Equal(t, crawler.StatusPending, target.Status)

	target, err = reg.NewTarget("https://example.org/a")
	require.NoError(t, err)
	require.Equal(t, Generic, target.Platform)

	_, err = reg.NewTarget("ftp://juejin.cn/post/1")
	require.ErrorIs(t, err, crawler.ErrInvalidURL)
}

func TestRegistryAllowList(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(DefaultRules(), []string{"juejin", " ", "csdn"})
	require.True(t, reg.Allowed(Juejin))
	require.False(t, reg.Allowed(Sohu))

	_, err := reg.NewTarget("https://www.sohu.com/a/1")
	require.ErrorIs(t, err, crawler.ErrUnsupportedPlatform)
	_, err = reg.NewTarget("https://example.org/a")
	require.ErrorIs(t, err, crawler.ErrUnsupportedPlatform)
}

func TestLookupFallsBackToGeneric(t *testing.T) {
	t.Parallel()

	reg := Default()
	e, ok := reg.Lookup("unknown")
	require.True(t, ok)
	require.Equal(t, Generic, e.(*RuleExtractor).Platform())

	e, ok = reg.Lookup(Sohu)
	require.True(t, ok)
	require.Equal(t, `em[data-role="pv"]`, e.Hints().WaitSelector)

	e, _ = reg.Lookup(Juejin)
	require.Equal(t, 5*time.Second, e.Hints().Settle)
}

func TestPlatformExtraction(t *testing.T) {
	t.Parallel()

	reg := Default()
	cases := []struct {
		platform string
		html     string
		want     int64
	}{
		{Juejin, `<html><span class="views-count">1.2k</span></html>`, 1200},
		{Juejin, `<html><script type="text/plain">JUEJIN_VIEWS_COUNT:3,456</script></html>`, 3456},
		{CSDN, `<span class="read-count">阅读量2w</span>`, 20000},
		{Cnblog, `<span id="post_view_count">1,024</span>`, 1024},
		{CTO51, `<p><em class="a">阅读数</em> <b class="b">777</b></p>`, 777},
		{Segmentfault, `<span class="x">阅读 <!-- -->88</span>`, 88},
		{Jianshu, `<div><span>阅读 321</span></div>`, 321},
		{Elecfans, `<div>共 4,200 次阅读</div>`, 4200},
		{Eefocus, `<div class="hot-num"><img src="x.png">99</div>`, 99},
		{Sohu, `<head><script type="text/plain">SOHU_PV_COUNT:5150</script></head><em data-role="pv">1</em>`, 5150},
		{Sohu, `<span>阅读 ( 42 )</span>`, 42},
		{MBB, `<span class="category category-en"><span class="iconfont browse-icon"></span> 1,500 </span>`, 1500},
		{Generic, `<p>views: 12k</p>`, 12000},
	}
	for _, tc := range cases {
		extractor, ok := reg.Lookup(tc.platform)
		require.True(t, ok)
		got, err := extractor.Extract("https://example.com", []byte(tc.html))
		require.NoError(t, err, tc.platform)
		require.Equal(t, tc.want, got.Value, tc.platform)
	}
}

func TestExtractionFailures(t *testing.T) {
	t.Parallel()

	extractor, _ := Default().Lookup(CSDN)

	got, err := extractor.Extract("u", []byte(`<html><head><title>Only a title</title></head><span class="read-count">0</span></html>`))
	require.ErrorIs(t, err, ErrNoCount)
	require.Equal(t, "Only a title", got.Title)

	_, err = extractor.Extract("u", nil)
	require.ErrorIs(t, err, ErrNoCount)

	_, err = extractor.Extract("u", []byte(`<div>请按住滑块，拖动到最右边</div>`))
	require.True(t, errors.Is(err, ErrCaptcha))
}

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}
