// Package discovery turns topic descriptions into ranked, deduplicated URL
// candidate lists by fanning out to independent external sources.
package discovery

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// Topic describes a scraping target. It is owned by the caller and never
// persisted by this service.
type Topic struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	SearchQueries    []string `json:"searchQueries"`
	PreferredDomains []string `json:"preferredDomains"`
	ExcludeDomains   []string `json:"excludeDomains"`
	RequiredKeywords []string `json:"requiredKeywords"`
	ExcludeKeywords  []string `json:"excludeKeywords"`
}

// Queries returns the topic's search queries, falling back to the topic name.
func (t Topic) Queries() []string {
	if len(t.SearchQueries) > 0 {
		return t.SearchQueries
	}
	if t.Name != "" {
		return []string{t.Name}
	}
	return nil
}

// URLCandidate is a single discovered URL for a topic.
type URLCandidate struct {
	URL          string     `json:"url"`
	TopicID      string     `json:"topicId"`
	TopicName    string     `json:"topicName"`
	Source       string     `json:"source,omitempty"`
	LastModified *time.Time `json:"lastModified,omitempty"`
}

// DiscoverRequest carries everything an adapter needs for one discovery pass.
type DiscoverRequest struct {
	TopicID         string
	TopicName       string
	Queries         []string
	Keywords        []string
	Page            int
	Domains         []string
	ExcludeDomains  []string
	ExcludeKeywords []string
}

// NewDiscoverRequest builds a request for the given topic and page.
func NewDiscoverRequest(topic Topic, page int) DiscoverRequest {
	return DiscoverRequest{
		TopicID:         topic.ID,
		TopicName:       topic.Name,
		Queries:         topic.Queries(),
		Keywords:        topic.RequiredKeywords,
		Page:            page,
		Domains:         topic.PreferredDomains,
		ExcludeDomains:  topic.ExcludeDomains,
		ExcludeKeywords: topic.ExcludeKeywords,
	}
}

// SourceAdapter is the capability every discovery source implements. Discover
// returns an empty slice on internal failure; callers treat a non-nil error as
// equivalent to an empty result and must not fail the overall request.
type SourceAdapter interface {
	Name() string
	Discover(ctx context.Context, req DiscoverRequest) ([]URLCandidate, error)
}

// blockedDomains are aggregator and social platforms that never yield useful
// scraping targets. Matched by host suffix.
var blockedDomains = []string{
	"facebook.com",
	"twitter.com",
	"x.com",
	"instagram.com",
	"tiktok.com",
	"pinterest.com",
	"linkedin.com",
	"reddit.com",
	"youtube.com",
	"t.co",
	"bit.ly",
	"tinyurl.com",
	"news.google.com",
	"news.yahoo.com",
	"flipboard.com",
	"feedly.com",
}

// hostBlocked reports whether the host falls under the fixed blocklist.
func hostBlocked(host string) bool {
	host = strings.ToLower(strings.TrimPrefix(host, "www."))
	for _, blocked := range blockedDomains {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	return false
}

// hostMatches reports whether host belongs to domain or one of its subdomains.
func hostMatches(host, domain string) bool {
	host = strings.ToLower(strings.TrimPrefix(host, "www."))
	domain = strings.ToLower(strings.TrimPrefix(domain, "www."))
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// NormalizeURL canonicalizes a URL for deduplication: lowercases scheme and
// host, drops fragments, and trims a trailing slash from the path.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

// filterCandidates applies the fixed blocklist, the request's exclusions, and
// in-set deduplication. Every adapter runs its raw output through this before
// returning.
func filterCandidates(candidates []URLCandidate, req DiscoverRequest) []URLCandidate {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]URLCandidate, 0, len(candidates))

	for _, cand := range candidates {
		normalized := NormalizeURL(cand.URL)
		if normalized == "" {
			continue
		}
		u, err := url.Parse(normalized)
		if err != nil || u.Host == "" {
			continue
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			continue
		}
		if hostBlocked(u.Host) {
			continue
		}
		if excludedDomain(u.Host, req.ExcludeDomains) {
			continue
		}
		if excludedKeyword(normalized, req.ExcludeKeywords) {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}

		cand.URL = normalized
		if cand.TopicID == "" {
			cand.TopicID = req.TopicID
		}
		if cand.TopicName == "" {
			cand.TopicName = req.TopicName
		}
		out = append(out, cand)
	}
	return out
}

func excludedDomain(host string, excludes []string) bool {
	for _, domain := range excludes {
		if domain == "" {
			continue
		}
		if hostMatches(host, domain) {
			return true
		}
	}
	return false
}

func excludedKeyword(rawURL string, excludes []string) bool {
	lower := strings.ToLower(rawURL)
	for _, kw := range excludes {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
