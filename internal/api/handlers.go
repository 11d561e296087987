// Package api maps the HTTP surface onto the discovery, pool, quota, and
// ledger components.
package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/scrapehive/discovery/internal/dedup"
	"github.com/scrapehive/discovery/internal/discovery"
	"github.com/scrapehive/discovery/internal/ledger"
	"github.com/scrapehive/discovery/internal/pool"
	"github.com/scrapehive/discovery/internal/quota"
)

const (
	defaultBatchSize = 500
	maxBatchSize     = 1000
)

// Handlers contains the HTTP handlers for the API
type Handlers struct {
	pool     *pool.Cache
	quota    *quota.Manager
	ledger   dedup.Ledger
	gateway  *ledger.Client
	notifier quota.SyncNotifier
}

// NewHandlers creates a new handlers instance. notifier may be nil when no
// ledger syncer is running.
func NewHandlers(poolCache *pool.Cache, quotaMgr *quota.Manager, dedupLedger dedup.Ledger, gateway *ledger.Client, notifier quota.SyncNotifier) *Handlers {
	return &Handlers{
		pool:     poolCache,
		quota:    quotaMgr,
		ledger:   dedupLedger,
		gateway:  gateway,
		notifier: notifier,
	}
}

// Health returns the service health status
func (h *Handlers) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"service":   "scrapehive-discovery",
		"timestamp": time.Now().UTC(),
	})
}

// quotaProjection is the client-facing view of a quota record.
type quotaProjection struct {
	Tier        quota.Tier `json:"tier"`
	DailyLimit  int        `json:"dailyLimit"`
	Used        int        `json:"used"`
	Remaining   int        `json:"remaining"`
	Exceeded    bool       `json:"exceeded"`
	TotalPoints int64      `json:"totalPoints"`
}

func project(rec quota.ClientRecord, exceeded bool) quotaProjection {
	limit := quota.DailyLimit(rec.Tier)
	remaining := limit - rec.DailyDelivered
	if remaining < 0 {
		remaining = 0
	}
	return quotaProjection{
		Tier:        rec.Tier,
		DailyLimit:  limit,
		Used:        rec.DailyDelivered,
		Remaining:   remaining,
		Exceeded:    exceeded,
		TotalPoints: rec.TotalPoints,
	}
}

func atLimit(rec quota.ClientRecord) bool {
	return rec.DailyDelivered >= quota.DailyLimit(rec.Tier)
}

// GetURLsRequest is the POST /urls request body.
type GetURLsRequest struct {
	ClientID  string            `json:"clientId"`
	Topics    []discovery.Topic `json:"topics"`
	BatchSize int               `json:"batchSize"`
	Reset     bool              `json:"reset"`
}

// GetURLsResponse groups the delivered URLs by topic.
type GetURLsResponse struct {
	URLs      map[string][]discovery.URLCandidate `json:"urls"`
	TotalURLs int                                 `json:"totalUrls"`
	Timestamp time.Time                           `json:"timestamp"`
	QuotaInfo quotaProjection                     `json:"quotaInfo"`
}

// GetURLs delivers a batch of candidate URLs for the client's topics, clipped
// to the client's remaining daily quota.
func (h *Handlers) GetURLs(c *fiber.Ctx) error {
	var req GetURLsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
	}

	req.ClientID = strings.TrimSpace(req.ClientID)
	if req.ClientID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "clientId is required",
		})
	}
	if len(req.Topics) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "at least one topic is required",
		})
	}
	if req.BatchSize <= 0 {
		req.BatchSize = defaultBatchSize
	}
	if req.BatchSize > maxBatchSize {
		req.BatchSize = maxBatchSize
	}

	if req.Reset {
		h.pool.Reset(req.ClientID)
	}

	// Quota check, drain, and accounting run as one sequence under the
	// client's lock inside the pool.
	batch, info := h.pool.DeliverBatch(c.Context(), req.ClientID, req.Topics, req.BatchSize, h.quota)

	resp := GetURLsResponse{
		URLs:      make(map[string][]discovery.URLCandidate),
		Timestamp: time.Now().UTC(),
	}

	if info.Allowed == 0 {
		resp.QuotaInfo = project(h.quota.Snapshot(req.ClientID), true)
		log.Info().
			Str("client_id", req.ClientID).
			Int("requested", req.BatchSize).
			Msg("Quota exhausted, returning empty batch")
		return c.JSON(resp)
	}

	for topicID, urls := range batch.ByTopic {
		resp.URLs[topicID] = urls
	}
	resp.TotalURLs = batch.Total

	// Exceeded reflects whether this call was refused, not whether the
	// delivery landed exactly on the daily limit.
	rec := h.quota.Snapshot(req.ClientID)
	resp.QuotaInfo = project(rec, info.Exceeded)

	log.Info().
		Str("client_id", req.ClientID).
		Int("delivered", batch.Total).
		Int("allowed", info.Allowed).
		Str("tier", string(rec.Tier)).
		Msg("Delivered URL batch")

	return c.JSON(resp)
}

// GetQuota returns the client's current quota standing.
func (h *Handlers) GetQuota(c *fiber.Ctx) error {
	clientID := strings.TrimSpace(c.Query("clientId"))
	if clientID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "clientId is required",
		})
	}

	rec := h.quota.Snapshot(clientID)
	proj := project(rec, atLimit(rec))
	return c.JSON(fiber.Map{
		"tier":             proj.Tier,
		"dailyLimit":       proj.DailyLimit,
		"used":             proj.Used,
		"remaining":        proj.Remaining,
		"exceeded":         proj.Exceeded,
		"totalPoints":      rec.TotalPoints,
		"totalUrlsScraped": rec.TotalDelivered,
	})
}

// GetAnalytics returns the extended per-client activity breakdown.
func (h *Handlers) GetAnalytics(c *fiber.Ctx) error {
	clientID := strings.TrimSpace(c.Query("clientId"))
	if clientID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "clientId is required",
		})
	}

	rec := h.quota.Snapshot(clientID)
	return c.JSON(fiber.Map{
		"clientId":             clientID,
		"tier":                 rec.Tier,
		"totalPoints":          rec.TotalPoints,
		"totalUrlsScraped":     rec.TotalDelivered,
		"bandwidthBytes":       rec.BandwidthBytes,
		"requestsMade":         rec.RequestsMade,
		"deliveredByHourOfDay": rec.DeliveredByHour,
		"pointsByDay":          rec.PointsByDay,
		"topics":               rec.TopicsSeen,
		"recentActions":        rec.RecentActions,
	})
}

// ReportScrapeRequest is the POST /report-scrape request body.
type ReportScrapeRequest struct {
	ClientID      string `json:"clientId"`
	URLsScraped   int    `json:"urlsScraped"`
	TopicID       string `json:"topicId"`
	TopicName     string `json:"topicName"`
	BandwidthUsed int64  `json:"bandwidthUsed"`
}

// ReportScrape accounts a client-reported scrape batch and pushes the update
// to the external ledger fire-and-forget.
func (h *Handlers) ReportScrape(c *fiber.Ctx) error {
	var req ReportScrapeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
	}

	req.ClientID = strings.TrimSpace(req.ClientID)
	if req.ClientID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "clientId is required",
		})
	}
	if req.URLsScraped < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "urlsScraped must be non-negative",
		})
	}

	result := h.quota.ApplyScrapeReport(req.ClientID, req.URLsScraped, req.TopicID, req.TopicName, req.BandwidthUsed)
	if h.notifier != nil {
		h.notifier.RequestSync(req.ClientID)
	}

	rec := h.quota.Snapshot(req.ClientID)
	return c.JSON(fiber.Map{
		"quotaInfo":    project(rec, atLimit(rec)),
		"pointsEarned": result.PointsEarned,
		"tierUpgraded": result.TierUpgraded,
		"timestamp":    time.Now().UTC(),
	})
}

// GetSystemStats returns aggregate service counters.
func (h *Handlers) GetSystemStats(c *fiber.Ctx) error {
	tracked, err := h.ledger.Count(c.Context())
	if err != nil {
		log.Warn().Err(err).Msg("Dedup ledger count failed")
	}
	return c.JSON(fiber.Map{
		"totalUrlsTracked":  tracked,
		"totalUrlsRejected": h.pool.RejectedCount(),
		"clients":           h.quota.ClientCount(),
		"timestamp":         time.Now().UTC(),
	})
}

// GetCanisterData proxies a read from the external ledger, falling back to
// the local record when the gateway is unreachable.
func (h *Handlers) GetCanisterData(c *fiber.Ctx) error {
	clientID := strings.TrimSpace(c.Query("clientId"))
	if clientID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "clientId is required",
		})
	}

	if err := h.gateway.Health(c.Context()); err != nil {
		log.Warn().Err(err).Msg("Ledger gateway unhealthy, serving local record")
	} else if snap, err := h.gateway.Fetch(c.Context(), clientID); err != nil {
		log.Warn().Err(err).Str("client_id", clientID).Msg("Ledger fetch failed, serving local record")
	} else {
		return c.JSON(fiber.Map{
			"source": "ledger",
			"data":   snap,
		})
	}

	rec := h.quota.Snapshot(clientID)
	return c.JSON(fiber.Map{
		"source": "local",
		"data": fiber.Map{
			"clientId":         clientID,
			"tier":             rec.Tier,
			"totalPoints":      rec.TotalPoints,
			"totalUrlsScraped": rec.TotalDelivered,
			"bandwidthBytes":   rec.BandwidthBytes,
		},
	})
}

// ResetRequest is the POST /reset request body.
type ResetRequest struct {
	ClientID string `json:"clientId"`
}

// ResetPool clears the client's pool and pagination caches. Quota state is
// untouched.
func (h *Handlers) ResetPool(c *fiber.Ctx) error {
	var req ResetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
	}

	req.ClientID = strings.TrimSpace(req.ClientID)
	if req.ClientID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "clientId is required",
		})
	}

	h.pool.Reset(req.ClientID)
	return c.JSON(fiber.Map{
		"status":    "reset",
		"clientId":  req.ClientID,
		"timestamp": time.Now().UTC(),
	})
}
