package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cdxResponse = `[
["original","timestamp"],
["https://example.com/page-one","20250115093000"],
["https://example.com/page-two","20250116120000"],
["https://example.com/page-one","20250117000000"]
]`

func TestWaybackDiscover(t *testing.T) {
	var gotURL, gotOffset string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.Query().Get("url")
		gotOffset = r.URL.Query().Get("offset")
		fmt.Fprint(w, cdxResponse)
	}))
	defer server.Close()

	adapter := NewWaybackAdapter()
	adapter.baseURL = server.URL

	topic := Topic{ID: "t1", Name: "archive", PreferredDomains: []string{"example.com"}}
	candidates, err := adapter.Discover(context.Background(), NewDiscoverRequest(topic, 2))
	require.NoError(t, err)

	assert.Equal(t, "example.com/*", gotURL)
	assert.Equal(t, "100", gotOffset)

	// Duplicate capture of page-one collapses to one candidate.
	require.Len(t, candidates, 2)
	assert.Equal(t, "https://example.com/page-one", candidates[0].URL)
	assert.Equal(t, "wayback", candidates[0].Source)
	require.NotNil(t, candidates[0].LastModified)
	assert.Equal(t, time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC), *candidates[0].LastModified)
}

func TestWaybackNoDomains(t *testing.T) {
	adapter := NewWaybackAdapter()
	candidates, err := adapter.Discover(context.Background(), NewDiscoverRequest(Topic{Name: "no domains"}, 0))
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestWaybackHeaderOnlyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[["original","timestamp"]]`)
	}))
	defer server.Close()

	adapter := NewWaybackAdapter()
	adapter.baseURL = server.URL

	topic := Topic{ID: "t1", PreferredDomains: []string{"example.com"}}
	candidates, err := adapter.Discover(context.Background(), NewDiscoverRequest(topic, 0))
	require.NoError(t, err)
	assert.Empty(t, candidates)
}
