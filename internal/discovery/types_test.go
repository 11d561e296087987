package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercases scheme and host", "HTTPS://Example.COM/Path", "https://example.com/Path"},
		{"drops fragment", "https://example.com/page#section-2", "https://example.com/page"},
		{"trims trailing slash", "https://example.com/articles/", "https://example.com/articles"},
		{"keeps query string", "https://example.com/search?q=go&page=2", "https://example.com/search?q=go&page=2"},
		{"trims whitespace", "  https://example.com/a  ", "https://example.com/a"},
		{"passes through garbage", "not a url", "not a url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeURL(tt.input))
		})
	}
}

func TestTopicQueries(t *testing.T) {
	withQueries := Topic{Name: "Climate", SearchQueries: []string{"climate change", "global warming"}}
	assert.Equal(t, []string{"climate change", "global warming"}, withQueries.Queries())

	nameOnly := Topic{Name: "Climate"}
	assert.Equal(t, []string{"Climate"}, nameOnly.Queries())

	empty := Topic{}
	assert.Nil(t, empty.Queries())
}

func TestFilterCandidatesBlocklist(t *testing.T) {
	req := NewDiscoverRequest(Topic{ID: "t1", Name: "news"}, 0)

	candidates := []URLCandidate{
		{URL: "https://example.com/story"},
		{URL: "https://www.facebook.com/some-page"},
		{URL: "https://subdomain.twitter.com/status/1"},
		{URL: "https://t.co/abc"},
		{URL: "ftp://example.org/file"},
		{URL: "https://example.com/story#comments"}, // duplicate after normalization
	}

	out := filterCandidates(candidates, req)

	assert.Len(t, out, 1)
	assert.Equal(t, "https://example.com/story", out[0].URL)
	assert.Equal(t, "t1", out[0].TopicID)
	assert.Equal(t, "news", out[0].TopicName)
}

func TestFilterCandidatesTopicExclusions(t *testing.T) {
	topic := Topic{
		ID:              "t1",
		Name:            "tech",
		ExcludeDomains:  []string{"spam.example"},
		ExcludeKeywords: []string{"sponsored"},
	}
	req := NewDiscoverRequest(topic, 0)

	out := filterCandidates([]URLCandidate{
		{URL: "https://spam.example/post"},
		{URL: "https://blog.spam.example/post"},
		{URL: "https://ok.example/sponsored-content"},
		{URL: "https://ok.example/real-article"},
	}, req)

	assert.Len(t, out, 1)
	assert.Equal(t, "https://ok.example/real-article", out[0].URL)
}

func TestHostMatches(t *testing.T) {
	assert.True(t, hostMatches("example.com", "example.com"))
	assert.True(t, hostMatches("www.example.com", "example.com"))
	assert.True(t, hostMatches("blog.example.com", "example.com"))
	assert.False(t, hostMatches("notexample.com", "example.com"))
	assert.False(t, hostMatches("example.com.evil.org", "example.com"))
}
