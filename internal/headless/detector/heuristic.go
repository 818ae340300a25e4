// Package detector decides when a probed page must be rendered in a browser.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/article-monitor/internal/crawler"
)

// Render reasons reported by Heuristic.Reason.
const (
	ReasonEmpty       = "empty_body"
	ReasonChallenge   = "bot_challenge"
	ReasonScriptHeavy = "script_heavy"
	ReasonSPAShell    = "spa_shell"
)

// scriptShareLimit is the fraction of text held in <script> above which a
// short page is treated as a client-rendered shell.
const scriptShareLimit = 0.25

// Heuristic flags script-rendered shells and bot challenges.
type Heuristic struct {
	// Pages shorter than this are checked for script density.
	BodyLengthThreshold int
}

// NewHeuristic creates a detector; zero selects a 2 KiB threshold.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = []string{
	"__next",
	"__nuxt",
	`id="root"`,
	`id="app"`,
	"data-reactroot",
	"data-server-rendered",
}

var challengeMarkers = []string{
	"acw_sc__v2",
	"_waf_",
	"captcha",
}

// NeedsRender reports whether the page should be fetched again in a browser.
func (h *Heuristic) NeedsRender(page crawler.Page) bool {
	return h.Reason(page) != ""
}

// Reason names why page needs a browser render, or returns "" when the probe
// result can be used as is. Non-200 responses are left for error
// classification.
func (h *Heuristic) Reason(page crawler.Page) string {
	if page.StatusCode != 200 {
		return ""
	}
	body := page.Body
	switch {
	case len(body) == 0:
		return ReasonEmpty
	case containsAny(bytes.ToLower(body), challengeMarkers):
		return ReasonChallenge
	case len(body) < h.BodyLengthThreshold && scriptShare(body) >= scriptShareLimit:
		return ReasonScriptHeavy
	case containsAny(body, spaMarkers):
		return ReasonSPAShell
	}
	return ""
}

func containsAny(body []byte, markers []string) bool {
	for _, m := range markers {
		if bytes.Contains(body, []byte(m)) {
			return true
		}
	}
	return false
}

// scriptShare returns script text / (script text + visible text).
func scriptShare(body []byte) float64 {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0
	}
	script := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		script += len(strings.TrimSpace(s.Text()))
	})
	if script == 0 {
		return 0
	}
	doc.Find("script, style, noscript").Remove()
	visible := len(strings.Join(strings.Fields(doc.Text()), " "))
	return float64(script) / float64(script+visible)
}
