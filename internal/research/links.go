package research

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// extractDomainFromURL extracts the host from a URL, without a leading www.
func extractDomainFromURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	// Prepend scheme if missing
	if !strings.Contains(urlStr, "://") {
		urlStr = "https://" + urlStr
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
}

// IsFromDomain checks if a URL is on domain or one of its subdomains
func IsFromDomain(urlStr string, domain string) bool {
	host := extractDomainFromURL(urlStr)
	domain = extractDomainFromURL(domain)
	if host == "" || domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// PathPriority scores how useful a page is as an internal link target for an
// article. Editorial pages rank highest and transactional pages lowest.
func PathPriority(urlStr string) float64 {
	urlLower := strings.ToLower(urlStr)

	skipPatterns := []string{
		"/cart", "/checkout", "/login", "/signin", "/account", "/wp-admin",
		"/tag/", "/author/", "/feed", "/privacy", "/terms", "?",
	}
	for _, pattern := range skipPatterns {
		if strings.Contains(urlLower, pattern) {
			return 0.1
		}
	}

	editorialPatterns := []string{"/blog/", "/guide", "/guides/", "/articles/", "/resources/", "/learn/", "/how-to"}
	for _, pattern := range editorialPatterns {
		if strings.Contains(urlLower, pattern) {
			return 0.9
		}
	}

	servicePatterns := []string{"/services/", "/service/", "/solutions/", "/products/", "/pricing"}
	for _, pattern := range servicePatterns {
		if strings.Contains(urlLower, pattern) {
			return 0.75
		}
	}

	if strings.Contains(urlLower, "/about") || strings.Contains(urlLower, "/contact") {
		return 0.4
	}
	return 0.5
}

// IsThirdParty checks if a URL is on a social network or aggregator that
// search results often mix in with a site's own pages
func IsThirdParty(urlStr string) bool {
	thirdPartyDomains := []string{
		"facebook.com",
		"instagram.com",
		"linkedin.com",
		"twitter.com",
		"x.com",
		"youtube.com",
		"pinterest.com",
		"yelp.com",
		"medium.com",
		"reddit.com",
	}

	host := extractDomainFromURL(urlStr)
	for _, domain := range thirdPartyDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// SitePages searches domain for pages related to keyword and returns up to
// limit of them, best link targets first. exclude lists URLs already in use,
// such as the home page.
func SitePages(ctx context.Context, s Searcher, domain, keyword string, limit int, exclude ...string) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	host := extractDomainFromURL(domain)
	if host == "" {
		return nil, fmt.Errorf("invalid domain %q", domain)
	}

	results, err := s.Search(ctx, fmt.Sprintf("site:%s %s", host, keyword), maxResultsPerQuery)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(exclude))
	for _, u := range exclude {
		seen[normalizeURL(u)] = true
	}

	type ranked struct {
		url      string
		priority float64
	}
	var candidates []ranked
	for _, r := range results {
		key := normalizeURL(r.Link)
		if seen[key] || !IsFromDomain(r.Link, host) || IsThirdParty(r.Link) {
			continue
		}
		seen[key] = true
		p := PathPriority(r.Link)
		if p <= 0.1 {
			continue
		}
		candidates = append(candidates, ranked{url: r.Link, priority: p})
	}

	// search order breaks ties, so relevance is kept within a priority band
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].priority > candidates[j].priority
	})

	pages := make([]string, 0, min(limit, len(candidates)))
	for _, c := range candidates {
		if len(pages) == limit {
			break
		}
		pages = append(pages, c.url)
	}
	return pages, nil
}

func normalizeURL(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimPrefix(u, "www.")
	return strings.TrimSuffix(u, "/")
}
