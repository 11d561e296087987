package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sitemapDoc = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/post-1</loc><lastmod>2025-02-01</lastmod></url>
  <url><loc>https://example.com/post-2</loc><lastmod>2025-02-02T08:30:00Z</lastmod></url>
</urlset>`

const rssDoc = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
  <title>Example Blog</title>
  <item><title>First</title><link>https://example.com/rss-1</link></item>
  <item><title>Second</title><link>https://example.com/rss-2</link></item>
</channel></rss>`

func TestSitemapsFromRobots(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/robots.txt", r.URL.Path)
		fmt.Fprint(w, "User-agent: *\nDisallow: /admin\nSitemap: https://example.com/sitemap-news.xml\nSitemap: https://example.com/sitemap-posts.xml\n")
	}))
	defer server.Close()

	adapter := NewFeedAdapter()
	sitemaps := adapter.sitemapsFromRobots(context.Background(), server.URL)

	assert.Equal(t, []string{
		"https://example.com/sitemap-news.xml",
		"https://example.com/sitemap-posts.xml",
	}, sitemaps)
}

func TestFetchSitemap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sitemapDoc)
	}))
	defer server.Close()

	adapter := NewFeedAdapter()
	candidates, err := adapter.fetchSitemap(context.Background(), server.URL+"/sitemap.xml", 0)
	require.NoError(t, err)

	require.Len(t, candidates, 2)
	assert.Equal(t, "https://example.com/post-1", candidates[0].URL)
	assert.Equal(t, "feeds", candidates[0].Source)
	require.NotNil(t, candidates[0].LastModified)
	require.NotNil(t, candidates[1].LastModified)
}

func TestFetchSitemapIndex(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/sitemap-index.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>%s/child.xml</loc></sitemap>
</sitemapindex>`, server.URL)
	})
	mux.HandleFunc("/child.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sitemapDoc)
	})

	adapter := NewFeedAdapter()
	candidates, err := adapter.fetchSitemap(context.Background(), server.URL+"/sitemap-index.xml", 0)
	require.NoError(t, err)
	assert.Len(t, candidates, 2)
}

func TestFetchFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssDoc)
	}))
	defer server.Close()

	adapter := NewFeedAdapter()
	candidates, err := adapter.fetchFeed(context.Background(), server.URL+"/feed")
	require.NoError(t, err)

	require.Len(t, candidates, 2)
	assert.Equal(t, "https://example.com/rss-1", candidates[0].URL)
	assert.Equal(t, "feeds", candidates[0].Source)
}

func TestFeedAdapterNoDomains(t *testing.T) {
	adapter := NewFeedAdapter()
	candidates, err := adapter.Discover(context.Background(), NewDiscoverRequest(Topic{Name: "no domains"}, 0))
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestPageSlice(t *testing.T) {
	candidates := make([]URLCandidate, 7)
	for i := range candidates {
		candidates[i].URL = fmt.Sprintf("https://example.com/%d", i)
	}

	assert.Len(t, pageSlice(candidates, 0, 3), 3)
	assert.Len(t, pageSlice(candidates, 1, 3), 3)
	assert.Len(t, pageSlice(candidates, 2, 3), 1)
	assert.Empty(t, pageSlice(candidates, 3, 3))
	assert.Len(t, pageSlice(candidates, -1, 3), 3)

	second := pageSlice(candidates, 1, 3)
	assert.Equal(t, "https://example.com/3", second[0].URL)
}

func TestParseSitemapTime(t *testing.T) {
	_, err := parseSitemapTime("2025-02-01")
	assert.NoError(t, err)
	_, err = parseSitemapTime("2025-02-02T08:30:00Z")
	assert.NoError(t, err)
	_, err = parseSitemapTime("February 1st")
	assert.Error(t, err)
}
