package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var titleSuffixes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\s*[-|_–—]\s*(掘金|CSDN|博客园|51CTO|SegmentFault|简书|电子发烧友|与非网).*$`),
	regexp.MustCompile(`(?i)\s*[-|_–—]\s*.*博客.*$`),
	regexp.MustCompile(`(?i)\s*[-|_–—]\s*.*技术.*$`),
}

// Title picks the article title from <title> (site suffixes removed), then
// the first <h1>, then og:title.
func Title(doc *goquery.Document) string {
	if doc == nil {
		return ""
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		for _, suffix := range titleSuffixes {
			title = suffix.ReplaceAllString(title, "")
		}
		if title = strings.TrimSpace(title); title != "" {
			return title
		}
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return strings.Join(strings.Fields(h1), " ")
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		return strings.TrimSpace(og)
	}
	return ""
}
