package crawler

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractLinks returns the absolute item URLs matched by any of selectors, in
// selector order, without duplicates. Only hrefs accepted by ids are kept.
func ExtractLinks(html string, base *url.URL, selectors []string, ids IdentifierParser) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}
	seen := make(map[string]struct{})
	var out []string
	for _, selector := range selectors {
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			href, ok := sel.Attr("href")
			if !ok {
				return
			}
			abs := NormalizeURL(base, href)
			if abs == "" || !ids.Matches(abs) {
				return
			}
			if _, dup := seen[abs]; dup {
				return
			}
			seen[abs] = struct{}{}
			out = append(out, abs)
		})
	}
	return out, nil
}
