package render

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractLinks parses rendered HTML and returns the absolute form of every
// a[href] on the page, resolved against baseURL (the final post-redirect URL).
// Unparseable hrefs are skipped. No filtering beyond resolution happens here;
// scheme and origin policy belong to the crawler.
func ExtractLinks(htmlContent string, baseURL *url.URL) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, err
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, exists := s.Attr("href")
		if !exists {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		resolved, errParse := baseURL.Parse(href)
		if errParse != nil {
			return // Skip malformed hrefs
		}
		links = append(links, resolved.String())
	})
	return links, nil
}
