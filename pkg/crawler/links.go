package crawler

import (
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"snapcrawl/pkg/models"
	"snapcrawl/pkg/parse"
)

// filterAndEnqueueLinks applies the link policy to a page's discovered hrefs
// and enqueues the survivors at childDepth. Policy, in order: http/https
// schemes only; same origin as the parent page unless follow_external is set
// (origin of the immediate parent, not the seed); at most one task per
// canonical URL per page. The visited set is NOT consulted here; duplicates
// across pages are resolved at claim time.
func (c *Crawler) filterAndEnqueueLinks(links []string, parentURL *url.URL, childDepth int, taskLog *logrus.Entry) int {
	parentOrigin := parse.Origin(parentURL)
	seenOnPage := make(map[string]struct{}, len(links))
	enqueued := 0

	for _, rawLink := range links {
		linkURL, err := url.Parse(rawLink)
		if err != nil {
			taskLog.Debugf("Skipping unparseable link '%s': %v", rawLink, err)
			continue
		}

		scheme := strings.ToLower(linkURL.Scheme)
		if scheme != "http" && scheme != "https" {
			continue // mailto:, javascript:, ftp:, etc.
		}

		if !c.crawlCfg.FollowExternal && parse.Origin(linkURL) != parentOrigin {
			continue
		}

		canonical := parse.CanonicalURL(linkURL)
		if _, dup := seenOnPage[canonical]; dup {
			continue
		}
		seenOnPage[canonical] = struct{}{}

		c.linksDiscovered.Add(1)
		// Count before queueing so the WaitGroup never reads zero with the
		// task in flight; undo the count if the closed queue rejects it
		c.wg.Add(1)
		if !c.pq.Add(&models.CrawlTask{
			URL:       canonical,
			Depth:     childDepth,
			ParentURL: parentURL.String(),
		}) {
			c.wg.Done()
			continue
		}
		enqueued++
	}
	return enqueued
}
