package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	waybackBaseURL  = "https://web.archive.org"
	waybackPageSize = 50
)

// WaybackAdapter discovers URLs from the Internet Archive's CDX index. It only
// produces results for topics with preferred domains; an archive-wide query
// has no useful anchor.
type WaybackAdapter struct {
	baseURL string
	client  *http.Client
}

// NewWaybackAdapter builds an adapter against the public Wayback CDX API.
func NewWaybackAdapter() *WaybackAdapter {
	return &WaybackAdapter{
		baseURL: waybackBaseURL,
		client:  &http.Client{Timeout: 20 * time.Second},
	}
}

func (a *WaybackAdapter) Name() string {
	return "wayback"
}

func (a *WaybackAdapter) Discover(ctx context.Context, req DiscoverRequest) ([]URLCandidate, error) {
	if len(req.Domains) == 0 {
		return nil, nil
	}

	var candidates []URLCandidate
	for _, domain := range req.Domains {
		rows, err := a.queryCDX(ctx, domain, req.Page)
		if err != nil {
			return nil, fmt.Errorf("domain %q: %w", domain, err)
		}
		for _, row := range rows {
			cand := URLCandidate{URL: row.original, Source: a.Name()}
			if ts, err := time.Parse("20060102150405", row.timestamp); err == nil {
				cand.LastModified = &ts
			}
			candidates = append(candidates, cand)
		}
	}

	return filterCandidates(candidates, req), nil
}

type waybackRow struct {
	original  string
	timestamp string
}

// queryCDX fetches one page of captures for a domain. The CDX API returns a
// JSON array of arrays whose first element is the field-name header row.
func (a *WaybackAdapter) queryCDX(ctx context.Context, domain string, page int) ([]waybackRow, error) {
	params := url.Values{}
	params.Set("url", domain+"/*")
	params.Set("output", "json")
	params.Set("fl", "original,timestamp")
	params.Set("filter", "statuscode:200")
	params.Set("collapse", "urlkey")
	params.Set("limit", fmt.Sprintf("%d", waybackPageSize))
	params.Set("offset", fmt.Sprintf("%d", page*waybackPageSize))

	endpoint := a.baseURL + "/cdx/search/cdx?" + params.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", searchUserAgent)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("query cdx: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var raw [][]string
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode cdx rows: %w", err)
	}
	if len(raw) <= 1 {
		return nil, nil
	}

	rows := make([]waybackRow, 0, len(raw)-1)
	for _, fields := range raw[1:] { // raw[0] is the header row
		if len(fields) < 2 {
			continue
		}
		rows = append(rows, waybackRow{original: fields[0], timestamp: fields[1]})
	}
	return rows, nil
}
