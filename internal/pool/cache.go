// Package pool holds per-client queues of discovered-but-undelivered URLs and
// hands out fairly-sized, shuffled batches across topics.
package pool

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scrapehive/discovery/internal/dedup"
	"github.com/scrapehive/discovery/internal/discovery"
	"github.com/scrapehive/discovery/internal/quota"
)

const (
	// entryTTL expires idle per-topic pools.
	entryTTL = 24 * time.Hour
	// sentTTL is the lookback window for the per-client per-topic sent-set.
	sentTTL = 6 * time.Hour
	// maxRefillPages bounds how many aggregator pages one refill may pull.
	maxRefillPages = 3
)

// Aggregator is the discovery fan-out the cache refills from.
type Aggregator interface {
	Discover(ctx context.Context, topic discovery.Topic, page int) *discovery.AggregateResult
}

type poolKey struct {
	clientID string
	topicID  string
}

type entry struct {
	queue      []discovery.URLCandidate
	nextPage   int
	lastAccess time.Time
}

// BatchResult is one drained batch grouped by topic.
type BatchResult struct {
	ByTopic        map[string][]discovery.URLCandidate
	Total          int
	BandwidthBytes int64
	PrimarySources map[string]string // topicID → primary source tag
}

// Cache is the per-(client, topic) URL pool. All mutation goes through
// GetBatch and Reset; a per-client lock keeps the quota-check → drain →
// record sequence atomic for each client while letting clients proceed in
// parallel.
type Cache struct {
	mu         sync.Mutex
	entries    map[poolKey]*entry
	sent       map[poolKey]map[string]time.Time
	clientLock map[string]*sync.Mutex

	aggregator Aggregator
	ledger     dedup.Ledger
	now        func() time.Time

	statsMu       sync.Mutex
	rejectedCount int64
}

// NewCache builds a pool cache over the given aggregator and dedup ledger.
func NewCache(aggregator Aggregator, ledger dedup.Ledger) *Cache {
	return &Cache{
		entries:    make(map[poolKey]*entry),
		sent:       make(map[poolKey]map[string]time.Time),
		clientLock: make(map[string]*sync.Mutex),
		aggregator: aggregator,
		ledger:     ledger,
		now:        time.Now,
	}
}

// SetClock overrides the time source for TTL tests.
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Cache) lockClient(clientID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.clientLock[clientID]
	if !ok {
		lock = &sync.Mutex{}
		c.clientLock[clientID] = lock
	}
	return lock
}

// QuotaKeeper gates and accounts deliveries around a drain. *quota.Manager
// implements it.
type QuotaKeeper interface {
	CheckQuota(clientID string, requested int) quota.Info
	ApplyDelivery(clientID string, urls int, topicID, topicName string, bandwidthBytes int64) quota.DeliveryResult
}

// DeliverBatch runs the quota check, the drain, and the delivery accounting
// as one sequence under the client's lock, so two overlapping requests for
// the same client can never both spend the same daily allowance.
func (c *Cache) DeliverBatch(ctx context.Context, clientID string, topics []discovery.Topic, requested int, keeper QuotaKeeper) (*BatchResult, quota.Info) {
	lock := c.lockClient(clientID)
	lock.Lock()
	defer lock.Unlock()

	info := keeper.CheckQuota(clientID, requested)
	if info.Allowed == 0 {
		return &BatchResult{
			ByTopic:        make(map[string][]discovery.URLCandidate),
			PrimarySources: make(map[string]string),
		}, info
	}

	batch := c.getBatchLocked(ctx, clientID, topics, info.Allowed)

	names := make(map[string]string, len(topics))
	for _, topic := range topics {
		names[topic.ID] = topic.Name
	}
	bandwidth := batch.BandwidthBytes
	for topicID, urls := range batch.ByTopic {
		keeper.ApplyDelivery(clientID, len(urls), topicID, names[topicID], bandwidth)
		bandwidth = 0 // attribute the payload estimate once
	}
	return batch, info
}

// GetBatch refills low topic pools from the aggregator, then drains a fair
// per-topic share, shuffles, and truncates to requestedSize. The caller has
// already clipped requestedSize; quota-gated callers should use DeliverBatch
// instead. Every returned URL is recorded in the dedup ledger and the
// client's sent-set before the batch is handed back.
func (c *Cache) GetBatch(ctx context.Context, clientID string, topics []discovery.Topic, requestedSize int) *BatchResult {
	lock := c.lockClient(clientID)
	lock.Lock()
	defer lock.Unlock()

	return c.getBatchLocked(ctx, clientID, topics, requestedSize)
}

// getBatchLocked is the drain core; the caller holds the client's lock.
func (c *Cache) getBatchLocked(ctx context.Context, clientID string, topics []discovery.Topic, requestedSize int) *BatchResult {
	result := &BatchResult{
		ByTopic:        make(map[string][]discovery.URLCandidate),
		PrimarySources: make(map[string]string),
	}
	if requestedSize <= 0 || len(topics) == 0 {
		return result
	}

	perTopicNeed := ceilDiv(requestedSize, len(topics))

	// Refill phase.
	totalAvailable := 0
	for _, topic := range topics {
		ent := c.entry(clientID, topic.ID)
		if len(ent.queue) < perTopicNeed {
			c.refill(ctx, clientID, topic, ent, perTopicNeed, result)
		}
		totalAvailable += len(ent.queue)
	}

	// Drain phase: fair share per topic, topics with fewer contribute all.
	batchSize := requestedSize
	if totalAvailable < batchSize {
		batchSize = totalAvailable
	}
	share := ceilDiv(batchSize, len(topics))

	var combined []discovery.URLCandidate
	for _, topic := range topics {
		ent := c.entry(clientID, topic.ID)
		take := share
		if take > len(ent.queue) {
			take = len(ent.queue)
		}
		combined = append(combined, ent.queue[:take]...)
		ent.queue = ent.queue[take:]
	}

	rand.Shuffle(len(combined), func(i, j int) {
		combined[i], combined[j] = combined[j], combined[i]
	})
	if len(combined) > requestedSize {
		combined = combined[:requestedSize]
	}

	// Record phase.
	now := c.now()
	for _, cand := range combined {
		if err := c.ledger.Record(ctx, cand.URL, clientID, cand.TopicID); err != nil {
			log.Warn().Err(err).Str("url", cand.URL).Msg("Dedup ledger record failed")
		}
		c.markSent(clientID, cand.TopicID, cand.URL, now)
		result.ByTopic[cand.TopicID] = append(result.ByTopic[cand.TopicID], cand)
	}
	result.Total = len(combined)

	log.Info().
		Str("client_id", clientID).
		Int("topics", len(topics)).
		Int("requested", requestedSize).
		Int("delivered", result.Total).
		Msg("Drained URL batch")

	return result
}

// refill pulls aggregator pages into the topic's queue until it holds enough
// candidates or the source runs dry within the page budget.
func (c *Cache) refill(ctx context.Context, clientID string, topic discovery.Topic, ent *entry, need int, result *BatchResult) {
	inQueue := make(map[string]struct{}, len(ent.queue))
	for _, cand := range ent.queue {
		inQueue[cand.URL] = struct{}{}
	}

	for attempt := 0; attempt < maxRefillPages && len(ent.queue) < need; attempt++ {
		res := c.aggregator.Discover(ctx, topic, ent.nextPage)
		ent.nextPage++
		result.BandwidthBytes += int64(res.PayloadBytes)
		if res.PrimarySource != "" {
			result.PrimarySources[topic.ID] = res.PrimarySource
		}
		if len(res.Candidates) == 0 {
			break
		}

		admitted := 0
		for _, cand := range res.Candidates {
			if _, dup := inQueue[cand.URL]; dup {
				continue
			}
			if c.recentlySent(clientID, topic.ID, cand.URL) {
				continue
			}
			seen, err := c.ledger.Seen(ctx, cand.URL)
			if err != nil {
				log.Warn().Err(err).Str("url", cand.URL).Msg("Dedup ledger lookup failed, admitting URL")
				seen = false
			}
			if seen {
				c.statsMu.Lock()
				c.rejectedCount++
				c.statsMu.Unlock()
				continue
			}
			inQueue[cand.URL] = struct{}{}
			ent.queue = append(ent.queue, cand)
			admitted++
		}

		log.Debug().
			Str("client_id", clientID).
			Str("topic", topic.Name).
			Int("page", ent.nextPage-1).
			Int("admitted", admitted).
			Int("pool_size", len(ent.queue)).
			Msg("Refilled topic pool")
	}
}

func (c *Cache) entry(clientID, topicID string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := poolKey{clientID: clientID, topicID: topicID}
	ent, ok := c.entries[key]
	if ok && c.now().Sub(ent.lastAccess) > entryTTL {
		delete(c.entries, key)
		ok = false
	}
	if !ok {
		ent = &entry{}
		c.entries[key] = ent
	}
	ent.lastAccess = c.now()
	return ent
}

func (c *Cache) markSent(clientID, topicID, url string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := poolKey{clientID: clientID, topicID: topicID}
	set, ok := c.sent[key]
	if !ok {
		set = make(map[string]time.Time)
		c.sent[key] = set
	}
	set[url] = now
}

func (c *Cache) recentlySent(clientID, topicID, url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.sent[poolKey{clientID: clientID, topicID: topicID}]
	if !ok {
		return false
	}
	at, ok := set[url]
	if !ok {
		return false
	}
	if c.now().Sub(at) > sentTTL {
		delete(set, url)
		return false
	}
	return true
}

// Reset discards the client's pools, cursors, and sent-sets for all topics.
func (c *Cache) Reset(clientID string) {
	lock := c.lockClient(clientID)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if key.clientID == clientID {
			delete(c.entries, key)
		}
	}
	for key := range c.sent {
		if key.clientID == clientID {
			delete(c.sent, key)
		}
	}
	log.Info().Str("client_id", clientID).Msg("Reset client pool cache")
}

// Sweep drops expired pool entries and sent-set records.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, ent := range c.entries {
		if now.Sub(ent.lastAccess) > entryTTL {
			delete(c.entries, key)
		}
	}
	for key, set := range c.sent {
		for url, at := range set {
			if now.Sub(at) > sentTTL {
				delete(set, url)
			}
		}
		if len(set) == 0 {
			delete(c.sent, key)
		}
	}
}

// RejectedCount reports how many candidates the dedup ledger suppressed.
func (c *Cache) RejectedCount() int64 {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.rejectedCount
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
