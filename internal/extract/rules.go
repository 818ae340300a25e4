package extract

import (
	"regexp"
	"time"

	"github.com/JakeFAU/article-monitor/internal/crawler"
)

// Platform tags. The jianshu tag is spelled "jinshu" to match stored data.
const (
	Juejin       = "juejin"
	CSDN         = "csdn"
	Cnblog       = "cnblog"
	CTO51        = "51cto"
	MBB          = "MBB"
	Elecfans     = "elecfans"
	Segmentfault = "segmentfault"
	Jianshu      = "jinshu"
	Eefocus      = "eefocus"
	Sohu         = "sohu"
	// Generic is the fallback rule for hosts outside the known platforms.
	Generic = "generic"
)

// Rule describes how to read the counter for one platform.
type Rule struct {
	Platform string
	// Hosts are matched as suffixes of the URL host.
	Hosts []string
	// Markers are injected by the render script; they are checked first.
	Markers []*regexp.Regexp
	// Selectors are CSS selectors whose text holds the counter.
	Selectors []string
	// Patterns are tried against the raw HTML, in order, after selectors.
	Patterns []*regexp.Regexp
	Format   NumberFormat
	Render   crawler.RenderHints
}

func patterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		out = append(out, regexp.MustCompile(`(?is)`+expr))
	}
	return out
}

const sohuPVScript = `(() => {
  const el = document.querySelector('em[data-role="pv"]');
  if (!el) return null;
  const text = el.textContent.trim();
  if (!/^\d+$/.test(text)) return null;
  const marker = document.createElement('script');
  marker.type = 'text/plain';
  marker.id = 'sohu-pv-marker';
  marker.textContent = 'SOHU_PV_COUNT:' + text;
  document.head.appendChild(marker);
  return text;
})()`

const juejinViewsScript = `(() => {
  const el = document.querySelector('.views-count');
  if (!el) return null;
  const marker = document.createElement('script');
  marker.type = 'text/plain';
  marker.textContent = 'JUEJIN_VIEWS_COUNT:' + el.textContent.trim();
  document.head.appendChild(marker);
  return el.textContent;
})()`

// DefaultRules returns the built-in platform rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			Platform:  Juejin,
			Hosts:     []string{"juejin.cn"},
			Markers:   patterns(`JUEJIN_VIEWS_COUNT:([\d,.]+[kmw]?)`),
			Selectors: []string{".views-count"},
			Patterns: patterns(
				`class="views-count"[^>]*>\s*([\d,]+)\s*</span>`,
				`class="views-count"[^>]*>([^<\s]+)`,
				`([\d,]+[km]?)\s*阅读`,
			),
			Format: WithSuffix,
			Render: crawler.RenderHints{WaitSelector: ".views-count", Settle: 5 * time.Second, Script: juejinViewsScript},
		},
		{
			Platform:  CSDN,
			Hosts:     []string{"csdn.net"},
			Selectors: []string{".read-count"},
			Patterns: patterns(
				`class="read-count"[^>]*>([^<]+)`,
				`阅读[：:]\s*([\d,]+[kmw]?)`,
				`([\d,]+[kmw]?)\s*阅读`,
			),
			Format: WithSuffix,
			Render: crawler.RenderHints{WaitSelector: ".read-count"},
		},
		{
			Platform:  Cnblog,
			Hosts:     []string{"cnblogs.com"},
			Selectors: []string{"#post_view_count"},
			Patterns: patterns(
				`id="post_view_count"[^>]*>([\d,]+)`,
				`阅读[：:]\s*([\d,]+)`,
				`views[：:]\s*([\d,]+)`,
			),
			Render: crawler.RenderHints{WaitSelector: "#post_view_count"},
		},
		{
			Platform: CTO51,
			Hosts:    []string{"51cto.com"},
			Patterns: patterns(
				`阅读数</em>\s*<b[^>]*>([\d,]+)</b>`,
				`阅读数[：:]\s*([\d,]+)`,
				`<p[^>]*class="[^"]*mess-tag[^"]*"[^>]*>.*?<b[^>]*>([\d,]+)</b>`,
			),
		},
		{
			Platform: MBB,
			Hosts:    []string{"eet-china.com", "china.com"},
			Patterns: patterns(
				`<span[^>]*class="[^"]*category[^"]*category-en[^"]*"[^>]*>.*?<span[^>]*class="[^"]*browse-icon[^"]*"[^>]*>.*?</span>\s+([\d,]+)\s*</span>`,
				`<span[^>]*class="[^"]*view[^"]*"[^>]*>([\d,]+)</span>`,
				`阅读\s*([\d,]+)`,
				`浏览\s*([\d,]+)`,
				`([\d,]+)\s*阅读`,
			),
			Render: crawler.RenderHints{WaitSelector: ".category.category-en"},
		},
		{
			Platform:  Elecfans,
			Hosts:     []string{"elecfans.com"},
			Selectors: []string{".art_click_count"},
			Patterns:  patterns(`([\d,]+)\s*次阅读`),
		},
		{
			Platform: Segmentfault,
			Hosts:    []string{"segmentfault.com"},
			Patterns: patterns(
				`<span[^>]*>阅读\s*<!--[^>]*-->\s*([\d,]+)</span>`,
				`阅读\s+([\d,]+)`,
			),
		},
		{
			Platform: Jianshu,
			Hosts:    []string{"jianshu.com"},
			Patterns: patterns(
				`<span[^>]*>阅读\s+([\d,]+)</span>`,
				`阅读\s*([\d,]+)`,
			),
		},
		{
			Platform:  Eefocus,
			Hosts:     []string{"eefocus.com"},
			Selectors: []string{".hot-num"},
			Patterns: patterns(
				`class="hot-num"[^>]*>.*?([\d,]+)`,
				`([\d,]+)\s*次?阅读`,
			),
		},
		{
			Platform:  Sohu,
			Hosts:     []string{"sohu.com"},
			Markers:   patterns(`SOHU_PV_COUNT:(\d+)`, `SOHU_READ_COUNT:([\d,]+)`),
			Selectors: []string{`em[data-role="pv"]`},
			Patterns: patterns(
				`阅读\s*\(\s*(\d+)\s*\)`,
				`>(\d+)</em>`,
			),
			Render: crawler.RenderHints{WaitSelector: `em[data-role="pv"]`, Script: sohuPVScript},
		},
	}
}

// GenericRule matches common read-count phrasings on unknown sites.
func GenericRule() Rule {
	return Rule{
		Platform: Generic,
		Patterns: patterns(
			`阅读[：:]\s*([\d,]+[kmw]?)`,
			`views[：:]\s*([\d,]+[kmw]?)`,
			`阅读数[：:]\s*([\d,]+[kmw]?)`,
			`([\d,]+[kmw]?)\s*阅读`,
			`([\d,]+[kmw]?)\s*views`,
		),
		Format: WithSuffix,
	}
}
