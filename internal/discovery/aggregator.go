package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scrapehive/discovery/pkg/logging"
)

// DefaultAdapterTimeout bounds each adapter's share of an aggregation pass.
const DefaultAdapterTimeout = 10 * time.Second

// AdapterConfig selects which sources participate in aggregation.
type AdapterConfig struct {
	EnableFeeds       bool          `json:"enable_feeds"`
	EnableCommonCrawl bool          `json:"enable_commoncrawl"`
	EnableWayback     bool          `json:"enable_wayback"`
	EnableWikipedia   bool          `json:"enable_wikipedia"`
	EnableGovIndex    bool          `json:"enable_gov_index"`
	EnableWebSearch   bool          `json:"enable_web_search"`
	AdapterTimeout    time.Duration `json:"adapter_timeout"`
}

// DefaultAdapterConfig enables every source.
func DefaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		EnableFeeds:       true,
		EnableCommonCrawl: true,
		EnableWayback:     true,
		EnableWikipedia:   true,
		EnableGovIndex:    true,
		EnableWebSearch:   true,
		AdapterTimeout:    DefaultAdapterTimeout,
	}
}

// BuildAdapters assembles the enabled adapters in merge priority order:
// structurally precise sources first, noisy full-text scraping last.
func BuildAdapters(cfg AdapterConfig, engines []*SearchEngine) []SourceAdapter {
	if len(engines) == 0 {
		engines = DefaultSearchEngines()
	}

	var adapters []SourceAdapter
	if cfg.EnableFeeds {
		adapters = append(adapters, NewFeedAdapter())
	}
	if cfg.EnableCommonCrawl {
		adapters = append(adapters, NewCommonCrawlAdapter())
	}
	if cfg.EnableWayback {
		adapters = append(adapters, NewWaybackAdapter())
	}
	if cfg.EnableWikipedia {
		adapters = append(adapters, NewWikipediaAdapter())
	}
	if cfg.EnableGovIndex {
		adapters = append(adapters, NewGovIndexAdapter(engines[0]))
	}
	if cfg.EnableWebSearch {
		adapters = append(adapters, NewEngineRotator(engines))
	}
	return adapters
}

// AggregateResult is one merged discovery pass for a topic page.
type AggregateResult struct {
	Candidates    []URLCandidate `json:"candidates"`
	PrimarySource string         `json:"primarySource,omitempty"`
	PayloadBytes  int            `json:"payloadBytes"`
}

// Aggregator fans a discovery request out to every enabled adapter
// concurrently and merges the results in fixed priority order.
type Aggregator struct {
	adapters []SourceAdapter
	timeout  time.Duration
}

// NewAggregator builds an aggregator over adapters already sorted by priority.
func NewAggregator(adapters []SourceAdapter, timeout time.Duration) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultAdapterTimeout
	}
	return &Aggregator{adapters: adapters, timeout: timeout}
}

// Discover runs one aggregation pass for the topic at the given page. A slow
// or failing adapter costs only its own timeout and contributes nothing; the
// remaining adapters' results are always used.
func (ag *Aggregator) Discover(ctx context.Context, topic Topic, page int) *AggregateResult {
	req := NewDiscoverRequest(topic, page)

	results := make([][]URLCandidate, len(ag.adapters))
	var wg sync.WaitGroup

	for i, adapter := range ag.adapters {
		wg.Add(1)
		go func(idx int, src SourceAdapter) {
			defer wg.Done()

			adapterCtx, cancel := context.WithTimeout(ctx, ag.timeout)
			defer cancel()

			logger := logging.GetAdapterLogger(src.Name(), topic.Name)
			started := time.Now()
			candidates, err := src.Discover(adapterCtx, req)
			if err != nil {
				logger.Warn().
					Err(err).
					Msg("Source adapter failed, treating as empty")
				return
			}
			results[idx] = candidates

			logger.Debug().
				Int("page", page).
				Int("urls", len(candidates)).
				Dur("elapsed", time.Since(started)).
				Msg("Source adapter completed")
		}(i, adapter)
	}
	wg.Wait()

	return ag.merge(results, topic)
}

// merge appends adapter results in priority order, keeping the first
// occurrence of each URL. The adapter contributing the first non-empty result
// is tagged as primary source for analytics only.
func (ag *Aggregator) merge(results [][]URLCandidate, topic Topic) *AggregateResult {
	out := &AggregateResult{}
	seen := make(map[string]struct{})

	for i, candidates := range results {
		if len(candidates) == 0 {
			continue
		}
		if out.PrimarySource == "" {
			out.PrimarySource = ag.adapters[i].Name()
		}
		for _, cand := range candidates {
			if _, dup := seen[cand.URL]; dup {
				continue
			}
			seen[cand.URL] = struct{}{}
			out.Candidates = append(out.Candidates, cand)
			// Rough JSON payload size: url + topic fields + punctuation.
			out.PayloadBytes += len(cand.URL) + len(cand.TopicID) + len(cand.TopicName) + 48
		}
	}

	log.Info().
		Str("topic", topic.Name).
		Str("primary_source", out.PrimarySource).
		Int("urls", len(out.Candidates)).
		Int("payload_bytes", out.PayloadBytes).
		Msg("Aggregated discovery results")

	return out
}
