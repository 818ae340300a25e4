package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/article-monitor/internal/crawler"
)

var (
	// ErrNoCount is returned when no rule yields a positive counter.
	ErrNoCount = errors.New("read count not found")
	// ErrCaptcha is returned when the page is a verification challenge.
	ErrCaptcha = errors.New("captcha challenge")
)

var captchaIndicators = []string{"访问验证", "请按住滑块", "拖动到最右边", "滑块验证", "CAPTCHA_DETECTED"}

// RuleExtractor applies one Rule to a page.
type RuleExtractor struct {
	rule Rule
}

// NewRuleExtractor wraps rule.
func NewRuleExtractor(rule Rule) *RuleExtractor {
	return &RuleExtractor{rule: rule}
}

// Platform returns the rule's platform tag.
func (e *RuleExtractor) Platform() string {
	return e.rule.Platform
}

// Hints returns the browser render hints for the platform.
func (e *RuleExtractor) Hints() crawler.RenderHints {
	return e.rule.Render
}

// Extract reads the counter and title from body. Markers are checked first,
// then CSS selectors, then raw HTML patterns; the first positive value wins.
// The title is returned with ErrNoCount when it could still be found.
func (e *RuleExtractor) Extract(_ string, body []byte) (crawler.Extraction, error) {
	if len(body) == 0 {
		return crawler.Extraction{}, fmt.Errorf("%s: empty page: %w", e.rule.Platform, ErrNoCount)
	}
	html := string(body)
	for _, indicator := range captchaIndicators {
		if strings.Contains(html, indicator) {
			return crawler.Extraction{}, fmt.Errorf("%s: %w", e.rule.Platform, ErrCaptcha)
		}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.Extraction{}, fmt.Errorf("%s: parse html: %w", e.rule.Platform, err)
	}
	out := crawler.Extraction{Title: Title(doc)}

	for _, marker := range e.rule.Markers {
		if value, ok := e.match(marker.FindStringSubmatch(html)); ok {
			out.Value = value
			return out, nil
		}
	}
	for _, selector := range e.rule.Selectors {
		var found int64
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if value, ok := ParseCount(s.Text(), e.rule.Format); ok && value > 0 {
				found = value
				return false
			}
			return true
		})
		if found > 0 {
			out.Value = found
			return out, nil
		}
	}
	for _, pattern := range e.rule.Patterns {
		if value, ok := e.match(pattern.FindStringSubmatch(html)); ok {
			out.Value = value
			return out, nil
		}
	}
	return out, fmt.Errorf("%s: %w", e.rule.Platform, ErrNoCount)
}

func (e *RuleExtractor) match(groups []string) (int64, bool) {
	if len(groups) < 2 {
		return 0, false
	}
	value, ok := ParseCount(groups[1], e.rule.Format)
	return value, ok && value > 0
}
