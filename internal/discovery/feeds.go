package discovery

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog/log"
	"github.com/temoto/robotstxt"
)

const (
	feedPageSize      = 50
	maxChildSitemaps  = 3
	maxURLsPerSitemap = 500
)

// commonFeedPaths are probed on each domain when robots.txt lists no sitemap.
var commonFeedPaths = []string{"/feed", "/rss", "/atom.xml", "/index.xml", "/feed.xml"}

// FeedAdapter walks a domain's sitemaps and syndication feeds. It is the
// highest-priority source: URLs published by the site itself need no scraping
// heuristics. Topics without preferred domains yield nothing.
type FeedAdapter struct {
	client *http.Client
	parser *gofeed.Parser
}

// NewFeedAdapter builds the feed/sitemap walker.
func NewFeedAdapter() *FeedAdapter {
	return &FeedAdapter{
		client: &http.Client{Timeout: 15 * time.Second},
		parser: gofeed.NewParser(),
	}
}

func (a *FeedAdapter) Name() string {
	return "feeds"
}

func (a *FeedAdapter) Discover(ctx context.Context, req DiscoverRequest) ([]URLCandidate, error) {
	if len(req.Domains) == 0 {
		return nil, nil
	}

	var candidates []URLCandidate
	for _, domain := range req.Domains {
		domain = strings.TrimPrefix(strings.TrimSpace(domain), "www.")
		if domain == "" {
			continue
		}
		found := a.walkDomain(ctx, domain)
		candidates = append(candidates, found...)
	}

	candidates = filterCandidates(candidates, req)
	return pageSlice(candidates, req.Page, feedPageSize), nil
}

// walkDomain collects URLs from the domain's sitemaps and common feed paths.
// Failures along the way degrade to fewer results, never to an error: one
// unreachable sitemap should not hide the domain's working feed.
func (a *FeedAdapter) walkDomain(ctx context.Context, domain string) []URLCandidate {
	base := "https://" + domain

	sitemaps := a.sitemapsFromRobots(ctx, base)
	if len(sitemaps) == 0 {
		sitemaps = []string{base + "/sitemap.xml"}
	}

	var candidates []URLCandidate
	for _, sitemapURL := range sitemaps {
		urls, err := a.fetchSitemap(ctx, sitemapURL, 0)
		if err != nil {
			log.Warn().Err(err).Str("sitemap", sitemapURL).Msg("Sitemap fetch failed")
			continue
		}
		candidates = append(candidates, urls...)
	}

	// Feeds fill in what sitemaps miss on blog-style sites.
	for _, path := range commonFeedPaths {
		items, err := a.fetchFeed(ctx, base+path)
		if err != nil {
			continue // most paths simply don't exist
		}
		candidates = append(candidates, items...)
		break // one working feed per domain is enough
	}

	return candidates
}

// sitemapsFromRobots reads the domain's robots.txt Sitemap directives.
func (a *FeedAdapter) sitemapsFromRobots(ctx context.Context, base string) []string {
	body, err := a.fetch(ctx, base+"/robots.txt", 256*1024)
	if err != nil {
		return nil
	}
	robots, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil
	}
	if len(robots.Sitemaps) > maxChildSitemaps {
		return robots.Sitemaps[:maxChildSitemaps]
	}
	return robots.Sitemaps
}

type sitemapURLSet struct {
	URLs []struct {
		Loc     string `xml:"loc"`
		LastMod string `xml:"lastmod"`
	} `xml:"url"`
}

type sitemapIndex struct {
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// fetchSitemap parses a sitemap document, recursing one level into sitemap
// index files.
func (a *FeedAdapter) fetchSitemap(ctx context.Context, sitemapURL string, depth int) ([]URLCandidate, error) {
	body, err := a.fetch(ctx, sitemapURL, 4*1024*1024)
	if err != nil {
		return nil, err
	}

	var urlSet sitemapURLSet
	if err := xml.Unmarshal(body, &urlSet); err == nil && len(urlSet.URLs) > 0 {
		candidates := make([]URLCandidate, 0, len(urlSet.URLs))
		for i, entry := range urlSet.URLs {
			if i >= maxURLsPerSitemap {
				break
			}
			cand := URLCandidate{URL: entry.Loc, Source: a.Name()}
			if entry.LastMod != "" {
				if ts, perr := parseSitemapTime(entry.LastMod); perr == nil {
					cand.LastModified = &ts
				}
			}
			candidates = append(candidates, cand)
		}
		return candidates, nil
	}

	if depth > 0 {
		return nil, nil
	}

	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err != nil || len(index.Sitemaps) == 0 {
		return nil, fmt.Errorf("not a sitemap document")
	}

	var candidates []URLCandidate
	for i, child := range index.Sitemaps {
		if i >= maxChildSitemaps {
			break
		}
		urls, err := a.fetchSitemap(ctx, child.Loc, depth+1)
		if err != nil {
			continue
		}
		candidates = append(candidates, urls...)
	}
	return candidates, nil
}

// fetchFeed parses an RSS/Atom feed and emits its item links.
func (a *FeedAdapter) fetchFeed(ctx context.Context, feedURL string) ([]URLCandidate, error) {
	body, err := a.fetch(ctx, feedURL, 2*1024*1024)
	if err != nil {
		return nil, err
	}
	feed, err := a.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	candidates := make([]URLCandidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item.Link == "" {
			continue
		}
		cand := URLCandidate{URL: item.Link, Source: a.Name()}
		if item.PublishedParsed != nil {
			cand.LastModified = item.PublishedParsed
		}
		candidates = append(candidates, cand)
	}
	return candidates, nil
}

func (a *FeedAdapter) fetch(ctx context.Context, rawURL string, limit int64) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", searchUserAgent)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func parseSitemapTime(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized lastmod %q", value)
}

// pageSlice returns the page-th window of size pageSize, empty past the end.
func pageSlice(candidates []URLCandidate, page, pageSize int) []URLCandidate {
	if page < 0 {
		page = 0
	}
	start := page * pageSize
	if start >= len(candidates) {
		return nil
	}
	end := start + pageSize
	if end > len(candidates) {
		end = len(candidates)
	}
	return candidates[start:end]
}
