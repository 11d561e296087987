package quota

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// ledgerSyncWindow spaces out routine per-client ledger syncs.
	ledgerSyncWindow = 2 * time.Hour
	// maxRecentActions bounds the per-client history kept for analytics.
	maxRecentActions = 50
	dateLayout       = "2006-01-02"
)

// TopicStats aggregates deliveries for one topic.
type TopicStats struct {
	Name   string `json:"name,omitempty"`
	Count  int64  `json:"count"`
	Points int64  `json:"points"`
}

// Action is one delivery or scrape-report event kept for analytics.
type Action struct {
	Type      string    `json:"type"` // "delivery" or "scrape"
	URLs      int       `json:"urls"`
	Points    int64     `json:"points"`
	TopicID   string    `json:"topicId,omitempty"`
	TopicName string    `json:"topicName,omitempty"`
	At        time.Time `json:"at"`
}

// ClientRecord is the durable per-client accounting state. totalDelivered and
// totalPoints only ever grow; dailyDelivered resets lazily when the local
// calendar date advances past LastDailyReset.
type ClientRecord struct {
	ClientID        string                `json:"clientId"`
	Tier            Tier                  `json:"tier"`
	DailyDelivered  int                   `json:"dailyDelivered"`
	TotalDelivered  int64                 `json:"totalDelivered"`
	TotalPoints     int64                 `json:"totalPoints"`
	BandwidthBytes  int64                 `json:"bandwidthBytes"`
	RequestsMade    int64                 `json:"requestsMade"`
	TopicsSeen      map[string]TopicStats `json:"topicsSeen"`
	DeliveredByHour [24]int64             `json:"deliveredByHourOfDay"`
	PointsByDay     map[string]int64      `json:"pointsByDay"`
	RecentActions   []Action              `json:"recentActions,omitempty"`
	LastDailyReset  string                `json:"lastDailyReset"` // local date
	LastLedgerSync  time.Time             `json:"lastLedgerSync"`
}

// Info is the quota check result returned to clients.
type Info struct {
	Tier       Tier `json:"tier"`
	DailyLimit int  `json:"dailyLimit"`
	Used       int  `json:"used"`
	Remaining  int  `json:"remaining"`
	Allowed    int  `json:"allowed"`
	Exceeded   bool `json:"exceeded"`
}

// DeliveryResult reports the accounting outcome of one delivery.
type DeliveryResult struct {
	PointsEarned int64 `json:"pointsEarned"`
	TierUpgraded bool  `json:"tierUpgraded"`
	Tier         Tier  `json:"tier"`
	TotalPoints  int64 `json:"totalPoints"`
}

// SyncNotifier receives fire-and-forget ledger sync requests. Implementations
// must not block.
type SyncNotifier interface {
	RequestSync(clientID string)
}

// Manager owns all client quota records. Records are created lazily on first
// sight of a client id and never deleted.
type Manager struct {
	mu       sync.Mutex
	records  map[string]*ClientRecord
	notifier SyncNotifier
	now      func() time.Time
}

// NewManager creates an empty manager. The notifier may be nil (syncs are
// then skipped, e.g. in tests).
func NewManager(notifier SyncNotifier) *Manager {
	return &Manager{
		records:  make(map[string]*ClientRecord),
		notifier: notifier,
		now:      time.Now,
	}
}

// SetClock overrides the time source; used by tests to drive daily resets.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

func newClientRecord(clientID string, date string) *ClientRecord {
	return &ClientRecord{
		ClientID:       clientID,
		Tier:           TierBasic,
		TopicsSeen:     make(map[string]TopicStats),
		PointsByDay:    make(map[string]int64),
		LastDailyReset: date,
	}
}

// recordLocked returns the client's record, creating it lazily and applying
// the daily reset if the local date has advanced.
func (m *Manager) recordLocked(clientID string) *ClientRecord {
	today := m.now().Local().Format(dateLayout)

	rec, ok := m.records[clientID]
	if !ok {
		rec = newClientRecord(clientID, today)
		m.records[clientID] = rec
		log.Debug().Str("client_id", clientID).Msg("Created quota record for new client")
		return rec
	}

	if rec.LastDailyReset != today {
		rec.DailyDelivered = 0
		rec.LastDailyReset = today
		log.Debug().Str("client_id", clientID).Msg("Applied daily quota reset")
	}
	return rec
}

// CheckQuota reports how many of the requested URLs the client may still
// receive today. It also counts the request and applies any pending daily
// reset.
func (m *Manager) CheckQuota(clientID string, requested int) Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.recordLocked(clientID)
	rec.RequestsMade++

	limit := DailyLimit(rec.Tier)
	remaining := limit - rec.DailyDelivered
	if remaining < 0 {
		remaining = 0
	}
	allowed := requested
	if allowed > remaining {
		allowed = remaining
	}
	if allowed < 0 {
		allowed = 0
	}

	return Info{
		Tier:       rec.Tier,
		DailyLimit: limit,
		Used:       rec.DailyDelivered,
		Remaining:  remaining,
		Allowed:    allowed,
		Exceeded:   allowed == 0,
	}
}

// ApplyDelivery accounts for urls delivered to the client.
func (m *Manager) ApplyDelivery(clientID string, urls int, topicID, topicName string, bandwidthBytes int64) DeliveryResult {
	return m.apply(clientID, "delivery", urls, topicID, topicName, bandwidthBytes)
}

// ApplyScrapeReport accounts for a client-reported scrape batch.
func (m *Manager) ApplyScrapeReport(clientID string, urls int, topicID, topicName string, bandwidthBytes int64) DeliveryResult {
	return m.apply(clientID, "scrape", urls, topicID, topicName, bandwidthBytes)
}

func (m *Manager) apply(clientID, action string, urls int, topicID, topicName string, bandwidthBytes int64) DeliveryResult {
	if urls < 0 {
		urls = 0
	}

	m.mu.Lock()
	rec := m.recordLocked(clientID)

	points := int64(urls) * PointsPerURL(rec.Tier)
	now := m.now()

	rec.DailyDelivered += urls
	rec.TotalDelivered += int64(urls)
	rec.TotalPoints += points
	rec.BandwidthBytes += bandwidthBytes
	rec.DeliveredByHour[now.Local().Hour()] += int64(urls)
	rec.PointsByDay[now.Local().Format(dateLayout)] += points

	if topicID != "" {
		stats := rec.TopicsSeen[topicID]
		if stats.Name == "" {
			stats.Name = topicName
		}
		stats.Count += int64(urls)
		stats.Points += points
		rec.TopicsSeen[topicID] = stats
	}

	rec.RecentActions = append(rec.RecentActions, Action{
		Type:      action,
		URLs:      urls,
		Points:    points,
		TopicID:   topicID,
		TopicName: topicName,
		At:        now,
	})
	if len(rec.RecentActions) > maxRecentActions {
		rec.RecentActions = rec.RecentActions[len(rec.RecentActions)-maxRecentActions:]
	}

	newTier := TierForPoints(rec.TotalPoints)
	upgraded := newTier != rec.Tier
	if upgraded {
		log.Info().
			Str("client_id", clientID).
			Str("old_tier", string(rec.Tier)).
			Str("new_tier", string(newTier)).
			Int64("total_points", rec.TotalPoints).
			Msg("Client tier upgraded")
		rec.Tier = newTier
	}

	syncDue := upgraded || now.Sub(rec.LastLedgerSync) >= ledgerSyncWindow
	if syncDue {
		rec.LastLedgerSync = now
	}

	result := DeliveryResult{
		PointsEarned: points,
		TierUpgraded: upgraded,
		Tier:         rec.Tier,
		TotalPoints:  rec.TotalPoints,
	}
	m.mu.Unlock()

	if syncDue && m.notifier != nil {
		m.notifier.RequestSync(clientID)
	}
	return result
}

// MarkLedgerSynced records a completed gateway sync so the scheduled sync
// cycle skips the client until the window passes again.
func (m *Manager) MarkLedgerSynced(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[clientID]; ok {
		rec.LastLedgerSync = m.now()
	}
}

// Snapshot returns a copy of the client's record, creating it if unseen.
func (m *Manager) Snapshot(clientID string) ClientRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyRecord(m.recordLocked(clientID))
}

// ClientCount returns how many distinct clients have been seen.
func (m *Manager) ClientCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// ExportAll returns copies of every record, for snapshot persistence and
// ledger syncs.
func (m *Manager) ExportAll() map[string]ClientRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]ClientRecord, len(m.records))
	for id, rec := range m.records {
		out[id] = copyRecord(rec)
	}
	return out
}

// LoadAll seeds the manager from persisted records, replacing current state.
// Called once at startup before the manager is shared.
func (m *Manager) LoadAll(records map[string]ClientRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = make(map[string]*ClientRecord, len(records))
	for id, rec := range records {
		loaded := rec
		if loaded.TopicsSeen == nil {
			loaded.TopicsSeen = make(map[string]TopicStats)
		}
		if loaded.PointsByDay == nil {
			loaded.PointsByDay = make(map[string]int64)
		}
		if loaded.Tier == "" {
			loaded.Tier = TierForPoints(loaded.TotalPoints)
		}
		loaded.ClientID = id
		m.records[id] = &loaded
	}
}

func copyRecord(rec *ClientRecord) ClientRecord {
	out := *rec
	out.TopicsSeen = make(map[string]TopicStats, len(rec.TopicsSeen))
	for id, stats := range rec.TopicsSeen {
		out.TopicsSeen[id] = stats
	}
	out.PointsByDay = make(map[string]int64, len(rec.PointsByDay))
	for day, points := range rec.PointsByDay {
		out.PointsByDay[day] = points
	}
	out.RecentActions = append([]Action(nil), rec.RecentActions...)
	return out
}
