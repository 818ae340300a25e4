// Package extract maps article URLs to platforms and reads their counters.
package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/article-monitor/internal/crawler"
)

// Registry resolves platforms by host and hands out their extractors. It is
// read-only after construction.
type Registry struct {
	rules      []Rule
	extractors map[string]*RuleExtractor
	generic    *RuleExtractor
	allowed    map[string]bool
}

// NewRegistry builds a registry from rules. A non-empty allowed list limits
// which platforms may be registered as targets.
func NewRegistry(rules []Rule, allowed []string) *Registry {
	r := &Registry{
		rules:      rules,
		extractors: make(map[string]*RuleExtractor, len(rules)),
		generic:    NewRuleExtractor(GenericRule()),
	}
	for _, rule := range rules {
		r.extractors[rule.Platform] = NewRuleExtractor(rule)
	}
	for _, platform := range allowed {
		platform = strings.TrimSpace(platform)
		if platform == "" {
			continue
		}
		if r.allowed == nil {
			r.allowed = make(map[string]bool)
		}
		r.allowed[platform] = true
	}
	return r
}

// Default returns a registry with the built-in rules and no restriction.
func Default() *Registry {
	return NewRegistry(DefaultRules(), nil)
}

// Lookup returns the extractor for platform, falling back to the generic
// extractor for unknown or empty tags.
func (r *Registry) Lookup(platform string) (crawler.Extractor, bool) {
	if e, ok := r.extractors[platform]; ok {
		return e, true
	}
	return r.generic, true
}

// Detect returns the platform tag for rawURL, or "" when no rule matches.
func (r *Registry) Detect(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	for _, rule := range r.rules {
		for _, h := range rule.Hosts {
			if host == h || strings.HasSuffix(host, "."+h) {
				return rule.Platform
			}
		}
	}
	return ""
}

// Allowed reports whether targets on platform may be registered.
func (r *Registry) Allowed(platform string) bool {
	if len(r.allowed) == 0 {
		return true
	}
	return r.allowed[platform]
}

// Platforms lists the known platform tags in rule order.
func (r *Registry) Platforms() []string {
	out := make([]string, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule.Platform)
	}
	return out
}

// NewTarget normalizes rawURL and fills in its domain and platform.
// Unknown hosts use the generic platform unless an allow-list is set.
func (r *Registry) NewTarget(rawURL string) (crawler.Target, error) {
	normalized, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return crawler.Target{}, err
	}
	platform := r.Detect(normalized)
	if platform == "" {
		platform = Generic
	}
	if !r.Allowed(platform) {
		return crawler.Target{}, fmt.Errorf("%w: %s", crawler.ErrUnsupportedPlatform, platform)
	}
	return crawler.Target{
		URL:      normalized,
		Domain:   crawler.Domain(normalized),
		Platform: platform,
		Status:   crawler.StatusPending,
	}, nil
}
