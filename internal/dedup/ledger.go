// Package dedup tracks every URL the service has ever handed out so the same
// page is not delivered twice network-wide within the retention window.
package dedup

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a delivered URL stays suppressed.
const DefaultTTL = 30 * 24 * time.Hour

// Entry records who received a URL and when.
type Entry struct {
	OwnerClientID string    `json:"ownerClientId"`
	TopicID       string    `json:"topicId"`
	DeliveredAt   time.Time `json:"deliveredAt"`
}

// Ledger is the global delivered-URL set. Reads that fail must degrade to
// "not seen": an unavailable ledger may cause a rare duplicate delivery but
// never a blocked one.
type Ledger interface {
	Seen(ctx context.Context, url string) (bool, error)
	Record(ctx context.Context, url, clientID, topicID string) error
	Count(ctx context.Context) (int64, error)
}

// MemoryLedger is the in-process Ledger used when no redis is configured.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryLedger creates a ledger with the given TTL (DefaultTTL if zero).
func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryLedger{
		entries: make(map[string]Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Seen reports whether the URL is recorded and unexpired.
func (l *MemoryLedger) Seen(_ context.Context, url string) (bool, error) {
	l.mu.RLock()
	entry, ok := l.entries[url]
	l.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if l.now().Sub(entry.DeliveredAt) > l.ttl {
		l.mu.Lock()
		delete(l.entries, url)
		l.mu.Unlock()
		return false, nil
	}
	return true, nil
}

// Record marks the URL as delivered. First writer wins; re-recording an
// existing unexpired URL is a no-op so the original owner is preserved.
func (l *MemoryLedger) Record(_ context.Context, url, clientID, topicID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, ok := l.entries[url]; ok && l.now().Sub(entry.DeliveredAt) <= l.ttl {
		return nil
	}
	l.entries[url] = Entry{
		OwnerClientID: clientID,
		TopicID:       topicID,
		DeliveredAt:   l.now(),
	}
	return nil
}

// Count returns the number of live entries.
func (l *MemoryLedger) Count(_ context.Context) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var count int64
	cutoff := l.now().Add(-l.ttl)
	for _, entry := range l.entries {
		if entry.DeliveredAt.After(cutoff) {
			count++
		}
	}
	return count, nil
}

// Sweep drops expired entries; run periodically to bound memory.
func (l *MemoryLedger) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	cutoff := l.now().Add(-l.ttl)
	for url, entry := range l.entries {
		if !entry.DeliveredAt.After(cutoff) {
			delete(l.entries, url)
			removed++
		}
	}
	return removed
}
