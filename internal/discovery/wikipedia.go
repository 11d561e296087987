package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const wikipediaPageSize = 25

// WikipediaAdapter discovers encyclopedia articles via the MediaWiki search
// API. Articles are stable, well-structured pages, so they rank above raw
// search scraping in the merge order.
type WikipediaAdapter struct {
	baseURL string
	client  *http.Client
}

// NewWikipediaAdapter builds an adapter against en.wikipedia.org.
func NewWikipediaAdapter() *WikipediaAdapter {
	return &WikipediaAdapter{
		baseURL: "https://en.wikipedia.org",
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *WikipediaAdapter) Name() string {
	return "wikipedia"
}

type wikiSearchResponse struct {
	Query struct {
		Search []struct {
			Title     string `json:"title"`
			Timestamp string `json:"timestamp"`
		} `json:"search"`
	} `json:"query"`
}

func (a *WikipediaAdapter) Discover(ctx context.Context, req DiscoverRequest) ([]URLCandidate, error) {
	var candidates []URLCandidate

	for _, query := range req.Queries {
		full := query
		if len(req.Keywords) > 0 {
			full = query + " " + strings.Join(req.Keywords, " ")
		}

		params := url.Values{}
		params.Set("action", "query")
		params.Set("list", "search")
		params.Set("srsearch", full)
		params.Set("srlimit", fmt.Sprintf("%d", wikipediaPageSize))
		params.Set("sroffset", fmt.Sprintf("%d", req.Page*wikipediaPageSize))
		params.Set("format", "json")

		endpoint := a.baseURL + "/w/api.php?" + params.Encode()
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("User-Agent", searchUserAgent)

		resp, err := a.client.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("search %q: %w", query, err)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		var parsed wikiSearchResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("decode search response: %w", err)
		}

		for _, hit := range parsed.Query.Search {
			cand := URLCandidate{
				URL:    a.baseURL + "/wiki/" + url.PathEscape(strings.ReplaceAll(hit.Title, " ", "_")),
				Source: a.Name(),
			}
			if ts, err := time.Parse(time.RFC3339, hit.Timestamp); err == nil {
				cand.LastModified = &ts
			}
			candidates = append(candidates, cand)
		}
	}

	return filterCandidates(candidates, req), nil
}
