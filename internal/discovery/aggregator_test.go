package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	name    string
	urls    []string
	err     error
	delay   time.Duration
	lastReq DiscoverRequest
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Discover(ctx context.Context, req DiscoverRequest) ([]URLCandidate, error) {
	s.lastReq = req
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	out := make([]URLCandidate, 0, len(s.urls))
	for _, u := range s.urls {
		out = append(out, URLCandidate{URL: u, TopicID: req.TopicID, TopicName: req.TopicName, Source: s.name})
	}
	return out, nil
}

func TestAggregatorMergesInPriorityOrder(t *testing.T) {
	feeds := &stubAdapter{name: "feeds", urls: []string{"https://a.example/1", "https://a.example/2"}}
	search := &stubAdapter{name: "web-search", urls: []string{"https://a.example/2", "https://b.example/1"}}

	ag := NewAggregator([]SourceAdapter{feeds, search}, time.Second)
	result := ag.Discover(context.Background(), Topic{ID: "t1", Name: "topic"}, 0)

	require.Len(t, result.Candidates, 3)
	// First occurrence wins: the duplicate keeps its feeds attribution.
	assert.Equal(t, "feeds", result.Candidates[0].Source)
	assert.Equal(t, "feeds", result.Candidates[1].Source)
	assert.Equal(t, "web-search", result.Candidates[2].Source)
	assert.Equal(t, "feeds", result.PrimarySource)
	assert.Positive(t, result.PayloadBytes)
}

func TestAggregatorPrimarySourceSkipsEmptySources(t *testing.T) {
	empty := &stubAdapter{name: "feeds"}
	search := &stubAdapter{name: "web-search", urls: []string{"https://b.example/1"}}

	ag := NewAggregator([]SourceAdapter{empty, search}, time.Second)
	result := ag.Discover(context.Background(), Topic{ID: "t1", Name: "topic"}, 0)

	assert.Equal(t, "web-search", result.PrimarySource)
}

func TestAggregatorIsolatesFailures(t *testing.T) {
	failing := &stubAdapter{name: "commoncrawl", err: errors.New("index down")}
	working := &stubAdapter{name: "feeds", urls: []string{"https://a.example/1"}}

	ag := NewAggregator([]SourceAdapter{failing, working}, time.Second)
	result := ag.Discover(context.Background(), Topic{ID: "t1", Name: "topic"}, 0)

	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "feeds", result.PrimarySource)
}

func TestAggregatorIsolatesSlowAdapters(t *testing.T) {
	slow := &stubAdapter{name: "wayback", urls: []string{"https://slow.example/1"}, delay: 500 * time.Millisecond}
	fast := &stubAdapter{name: "feeds", urls: []string{"https://fast.example/1"}}

	ag := NewAggregator([]SourceAdapter{slow, fast}, 50*time.Millisecond)

	start := time.Now()
	result := ag.Discover(context.Background(), Topic{ID: "t1", Name: "topic"}, 0)

	assert.Less(t, time.Since(start), 400*time.Millisecond)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "https://fast.example/1", result.Candidates[0].URL)
}

func TestAggregatorPassesPageThrough(t *testing.T) {
	stub := &stubAdapter{name: "feeds", urls: []string{"https://a.example/1"}}
	ag := NewAggregator([]SourceAdapter{stub}, time.Second)

	ag.Discover(context.Background(), Topic{ID: "t1", Name: "topic"}, 7)
	assert.Equal(t, 7, stub.lastReq.Page)
}

func TestBuildAdaptersHonorsConfig(t *testing.T) {
	all := BuildAdapters(DefaultAdapterConfig(), nil)
	require.Len(t, all, 6)
	assert.Equal(t, "feeds", all[0].Name())
	assert.Equal(t, "commoncrawl", all[1].Name())
	assert.Equal(t, "wayback", all[2].Name())
	assert.Equal(t, "wikipedia", all[3].Name())
	assert.Equal(t, "gov-index", all[4].Name())
	assert.Equal(t, "web-search", all[5].Name())

	cfg := AdapterConfig{EnableFeeds: true, EnableWebSearch: true}
	some := BuildAdapters(cfg, nil)
	require.Len(t, some, 2)
	assert.Equal(t, "feeds", some[0].Name())
	assert.Equal(t, "web-search", some[1].Name())
}
