package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
)

const searchUserAgent = "ScrapeHive-Discovery/1.0 (+https://scrapehive.io/bot)"

// resultsPerSearchPage approximates how many organic results one HTML results
// page carries; it drives the page → offset translation below.
const resultsPerSearchPage = 20

// SearchEngine describes one scrapeable web-search backend.
type SearchEngine struct {
	Name    string
	BaseURL string
	// ResultsURL renders the results-page URL for a query and zero-based page.
	ResultsURL func(base, query string, page int) string
}

// DefaultSearchEngines returns the built-in generic search backends.
func DefaultSearchEngines() []*SearchEngine {
	return []*SearchEngine{
		{
			Name:    "duckduckgo",
			BaseURL: "https://html.duckduckgo.com",
			ResultsURL: func(base, query string, page int) string {
				return fmt.Sprintf("%s/html/?q=%s&s=%d", base, url.QueryEscape(query), page*resultsPerSearchPage)
			},
		},
		{
			Name:    "brave",
			BaseURL: "https://search.brave.com",
			ResultsURL: func(base, query string, page int) string {
				return fmt.Sprintf("%s/search?q=%s&offset=%d", base, url.QueryEscape(query), page)
			},
		},
		{
			Name:    "mojeek",
			BaseURL: "https://www.mojeek.com",
			ResultsURL: func(base, query string, page int) string {
				return fmt.Sprintf("%s/search?q=%s&s=%d", base, url.QueryEscape(query), page*resultsPerSearchPage+1)
			},
		},
	}
}

// EngineSearch scrapes result links from a single search engine's HTML
// results page. It is only reached through the EngineRotator.
type EngineSearch struct {
	engine *SearchEngine
	client *http.Client
}

// NewEngineSearch wraps a search engine as a SourceAdapter.
func NewEngineSearch(engine *SearchEngine) *EngineSearch {
	return &EngineSearch{
		engine: engine,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (e *EngineSearch) Name() string {
	return "search:" + e.engine.Name
}

// Discover runs the topic's queries against this engine and extracts external
// result links from the returned HTML.
func (e *EngineSearch) Discover(ctx context.Context, req DiscoverRequest) ([]URLCandidate, error) {
	var candidates []URLCandidate

	for _, query := range req.Queries {
		full := query
		if len(req.Keywords) > 0 {
			full = query + " " + strings.Join(req.Keywords, " ")
		}

		endpoint := e.engine.ResultsURL(e.engine.BaseURL, full, req.Page)
		links, err := e.fetchResultLinks(ctx, endpoint)
		if err != nil {
			return nil, fmt.Errorf("%s query %q: %w", e.engine.Name, query, err)
		}

		for _, link := range links {
			candidates = append(candidates, URLCandidate{
				URL:    link,
				Source: e.Name(),
			})
		}
	}

	return filterCandidates(candidates, req), nil
}

func (e *EngineSearch) fetchResultLinks(ctx context.Context, endpoint string) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", searchUserAgent)
	httpReq.Header.Set("Accept", "text/html")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch results: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limited (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	engineHost := hostOf(e.engine.BaseURL)
	links := extractResultLinks(string(body), engineHost)

	log.Debug().
		Str("engine", e.engine.Name).
		Int("links", len(links)).
		Msg("Parsed search results page")

	return links, nil
}

// extractResultLinks walks the results-page HTML and collects external result
// URLs, unwrapping engine redirect links along the way.
func extractResultLinks(page, engineHost string) []string {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil
	}

	var links []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				if link, ok := resultLink(attr.Val, engineHost); ok {
					links = append(links, link)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}

// resultLink normalizes one anchor href into an external result URL. Engine
// redirect wrappers (DuckDuckGo's uddg parameter) are unwrapped; links back to
// the engine itself are dropped.
func resultLink(href, engineHost string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}

	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}

	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}

	// Redirect wrapper: /l/?uddg=<encoded target>
	if wrapped := u.Query().Get("uddg"); wrapped != "" {
		if target, err := url.QueryUnescape(wrapped); err == nil {
			href = target
			u, err = url.Parse(href)
			if err != nil {
				return "", false
			}
		}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if u.Host == "" {
		return "", false
	}
	if engineHost != "" && hostMatches(u.Host, engineHost) {
		return "", false
	}
	return href, true
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Host, "www.")
}
