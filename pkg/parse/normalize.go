package parse

import (
	"net"
	"net/url"
	"strings"
)

// CanonicalURL standardizes a URL into the key used for claim-time
// de-duplication. It lowercases the scheme and host, removes default ports
// (80 for http, 443 for https), removes trailing slashes from paths (unless
// root "/"), ensures an empty path becomes "/", and strips the fragment.
// The query string is PRESERVED: two URLs differing only in query are
// treated as distinct pages, while fragment-only differences identify the
// same page. Does not modify the input *url.URL.
func CanonicalURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	// Work on a copy
	canonical := *u

	canonical.Scheme = strings.ToLower(canonical.Scheme)
	canonical.Host = strings.ToLower(canonical.Host)

	// Remove default ports
	host, port, err := net.SplitHostPort(canonical.Host)
	if err == nil { // Host included a port
		if (canonical.Scheme == "http" && port == "80") ||
			(canonical.Scheme == "https" && port == "443") {
			canonical.Host = host
		}
	}

	if canonical.Path == "" {
		canonical.Path = "/"
	} else if len(canonical.Path) > 1 && strings.HasSuffix(canonical.Path, "/") {
		canonical.Path = canonical.Path[:len(canonical.Path)-1]
	}

	canonical.Fragment = ""

	return canonical.String()
}

// ParseAndCanonicalize parses a URL string using the stricter
// url.ParseRequestURI (requiring a scheme) and then canonicalizes it.
// Returns the canonical string, the parsed URL object, and any parse error.
func ParseAndCanonicalize(urlStr string) (string, *url.URL, error) {
	parsed, err := url.ParseRequestURI(urlStr)
	if err != nil {
		return "", nil, err
	}
	return CanonicalURL(parsed), parsed, nil
}

// Origin derives the scheme+host+port origin of a URL, with lowercasing and
// default-port stripping so that "https://a.test" and "https://a.test:443/x"
// compare equal. Used only for external-link classification.
func Origin(u *url.URL) string {
	if u == nil {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)

	h, port, err := net.SplitHostPort(host)
	if err == nil {
		if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
			host = h
		}
	}
	return scheme + "://" + host
}
