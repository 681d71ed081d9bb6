package research

import (
	"net/url"
	"strings"

	"PolicyWatch/internal/domain"
	"PolicyWatch/internal/textutil"
)

var policyKeywords = []string{
	"policy",
	"framework",
	"guidance",
	"standard",
	"regulation",
	"strategy",
	"ai",
	"artificial-intelligence",
	"digital",
}

// matchesKeyword reports whether the link URL or anchor text mentions a policy keyword.
// Short keywords must match a whole token so that "ai" does not match "email".
func matchesKeyword(link domain.Link) bool {
	haystack := strings.ToLower(link.URL + " " + link.Text)
	tokens := textutil.Tokens(haystack)

	for _, kw := range policyKeywords {
		if len(kw) > 2 {
			if strings.Contains(haystack, kw) {
				return true
			}
			continue
		}
		for _, tok := range tokens {
			if tok == kw {
				return true
			}
		}
	}
	return false
}

// candidateLinks selects keyword-matching links from the page, in document
// order, skipping the page itself and duplicates, up to limit.
func candidateLinks(page domain.Page, limit int) []domain.Link {
	if limit <= 0 {
		return nil
	}

	seen := map[string]struct{}{canonicalURL(page.URL): {}}
	out := make([]domain.Link, 0, limit)
	for _, link := range page.Links {
		if len(out) >= limit {
			break
		}
		key := canonicalURL(link.URL)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		if !matchesKeyword(link) {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, link)
	}
	return out
}

func canonicalURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}
