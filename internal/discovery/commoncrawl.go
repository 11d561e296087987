package discovery

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultCommonCrawlIndex = "CC-MAIN-2025-30"
	commonCrawlBaseURL      = "https://index.commoncrawl.org"
	commonCrawlPageSize     = 50
)

// commonCrawlRecord is one NDJSON row from the CDX index API.
type commonCrawlRecord struct {
	URL       string `json:"url"`
	Timestamp string `json:"timestamp"`
	Mime      string `json:"mime"`
	Status    string `json:"status"`
	Digest    string `json:"digest"`
	Length    string `json:"length"`
}

// CommonCrawlAdapter discovers URLs from the Common Crawl CDX index. Unlike
// live search engines the index is static per crawl, so pagination maps
// directly onto the CDX page parameter.
type CommonCrawlAdapter struct {
	baseURL string
	index   string
	client  *http.Client
}

// NewCommonCrawlAdapter builds an adapter against the public CDX index.
func NewCommonCrawlAdapter() *CommonCrawlAdapter {
	return &CommonCrawlAdapter{
		baseURL: commonCrawlBaseURL,
		index:   defaultCommonCrawlIndex,
		client:  &http.Client{Timeout: 20 * time.Second},
	}
}

func (a *CommonCrawlAdapter) Name() string {
	return "commoncrawl"
}

// Discover queries the CDX index per preferred domain. Without domains it
// derives a wildcard pattern from the first query term, which is noisier but
// still keyword-anchored.
func (a *CommonCrawlAdapter) Discover(ctx context.Context, req DiscoverRequest) ([]URLCandidate, error) {
	patterns := make([]string, 0, len(req.Domains))
	for _, domain := range req.Domains {
		patterns = append(patterns, domain+"/*")
	}
	if len(patterns) == 0 && len(req.Queries) > 0 {
		// Wildcard over a keyword-derived host fragment, e.g. "*.climate*".
		term := strings.ToLower(strings.Fields(req.Queries[0])[0])
		patterns = append(patterns, "*."+term+"*")
	}
	if len(patterns) == 0 {
		return nil, nil
	}

	var candidates []URLCandidate
	for _, pattern := range patterns {
		records, err := a.queryIndex(ctx, pattern, req.Page)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", pattern, err)
		}
		for _, rec := range records {
			if rec.Status != "200" || !strings.HasPrefix(rec.Mime, "text/html") {
				continue
			}
			cand := URLCandidate{URL: rec.URL, Source: a.Name()}
			if ts, err := time.Parse("20060102150405", rec.Timestamp); err == nil {
				cand.LastModified = &ts
			}
			candidates = append(candidates, cand)
		}
	}

	return filterCandidates(candidates, req), nil
}

func (a *CommonCrawlAdapter) queryIndex(ctx context.Context, pattern string, page int) ([]commonCrawlRecord, error) {
	endpoint := fmt.Sprintf("%s/%s-index?url=%s&output=json&pageSize=%d&page=%d",
		a.baseURL, a.index, url.QueryEscape(pattern), commonCrawlPageSize, page)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", searchUserAgent)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	defer resp.Body.Close()

	// The CDX API answers 404 for pages past the end of the result set.
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var records []commonCrawlRecord
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec commonCrawlRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue // skip malformed rows, the index occasionally emits notices
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read index response: %w", err)
	}
	return records, nil
}
