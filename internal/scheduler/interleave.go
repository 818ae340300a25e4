package scheduler

import "github.com/JakeFAU/article-monitor/internal/crawler"

// Interleave reorders targets round-robin across domains. Domains are visited
// in order of first appearance and each domain keeps its internal order.
func Interleave(targets []crawler.Target) []crawler.Target {
	var order []string
	buckets := make(map[string][]crawler.Target)
	for _, t := range targets {
		if _, ok := buckets[t.Domain]; !ok {
			order = append(order, t.Domain)
		}
		buckets[t.Domain] = append(buckets[t.Domain], t)
	}
	out := make([]crawler.Target, 0, len(targets))
	for len(out) < len(targets) {
		for _, domain := range order {
			if queue := buckets[domain]; len(queue) > 0 {
				out = append(out, queue[0])
				buckets[domain] = queue[1:]
			}
		}
	}
	return out
}
