package render

import (
	"net/url"
	"testing"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("Parsing %q: %v", raw, err)
	}
	return u
}

func TestExtractLinks_AbsoluteAndRelative(t *testing.T) {
	html := `
<html><body>
  <a href="https://other.test/page">absolute</a>
  <a href="/docs/intro">rooted</a>
  <a href="guide">relative</a>
  <a href="../up">parent relative</a>
</body></html>`
	base := mustParse(t, "https://example.com/docs/start")

	links, err := ExtractLinks(html, base)
	if err != nil {
		t.Fatalf("ExtractLinks() error = %v", err)
	}

	expected := []string{
		"https://other.test/page",
		"https://example.com/docs/intro",
		"https://example.com/docs/guide",
		"https://example.com/up",
	}
	if len(links) != len(expected) {
		t.Fatalf("Got %d links %v, want %d", len(links), links, len(expected))
	}
	for i, want := range expected {
		if links[i] != want {
			t.Errorf("links[%d] = %q, want %q", i, links[i], want)
		}
	}
}

func TestExtractLinks_SkipsEmptyAndWhitespaceHrefs(t *testing.T) {
	html := `
<html><body>
  <a href="">empty</a>
  <a href="   ">spaces</a>
  <a href="/real">real</a>
  <a>no href at all</a>
</body></html>`
	base := mustParse(t, "https://example.com/")

	links, err := ExtractLinks(html, base)
	if err != nil {
		t.Fatalf("ExtractLinks() error = %v", err)
	}
	if len(links) != 1 || links[0] != "https://example.com/real" {
		t.Errorf("Got links %v, want only https://example.com/real", links)
	}
}

func TestExtractLinks_KeepsNonHTTPSchemes(t *testing.T) {
	// Scheme policy is the crawler's job; extraction returns everything
	html := `<a href="mailto:me@example.com">mail</a><a href="javascript:void(0)">js</a>`
	base := mustParse(t, "https://example.com/")

	links, err := ExtractLinks(html, base)
	if err != nil {
		t.Fatalf("ExtractLinks() error = %v", err)
	}
	if len(links) != 2 {
		t.Errorf("Got %d links %v, want 2 (no scheme filtering here)", len(links), links)
	}
}

func TestExtractLinks_FragmentsResolved(t *testing.T) {
	html := `<a href="#section">same page</a><a href="/other#top">other</a>`
	base := mustParse(t, "https://example.com/docs")

	links, err := ExtractLinks(html, base)
	if err != nil {
		t.Fatalf("ExtractLinks() error = %v", err)
	}
	expected := []string{
		"https://example.com/docs#section",
		"https://example.com/other#top",
	}
	if len(links) != 2 || links[0] != expected[0] || links[1] != expected[1] {
		t.Errorf("Got links %v, want %v", links, expected)
	}
}

func TestExtractLinks_EmptyDocument(t *testing.T) {
	links, err := ExtractLinks("", mustParse(t, "https://example.com/"))
	if err != nil {
		t.Fatalf("ExtractLinks() error = %v", err)
	}
	if len(links) != 0 {
		t.Errorf("Got %d links from empty document, want 0", len(links))
	}
}
