package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/scrapehive/discovery/internal/quota"
	"github.com/scrapehive/discovery/pkg/logging"
)

const (
	syncRetries     = 3
	syncBaseBackoff = 2 * time.Second
	syncTimeout     = 30 * time.Second
	// scheduledSyncInterval drives the background cycle that picks up clients
	// whose on-demand syncs failed or who have gone idle.
	scheduledSyncInterval = 2 * time.Hour
)

// Syncer owns all outbound stat submissions to the ledger gateway. The quota
// manager requests syncs through RequestSync; a scheduled cycle additionally
// walks every client so a failed or missed sync is retried within the next
// window. Both run in the background so request handling is never blocked by
// the gateway.
type Syncer struct {
	client   *Client
	manager  *quota.Manager
	requests chan string
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSyncer builds a syncer over the gateway client and quota manager.
func NewSyncer(client *Client, manager *quota.Manager) *Syncer {
	return &Syncer{
		client:   client,
		manager:  manager,
		requests: make(chan string, 256),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// RequestSync queues a fire-and-forget sync for the client. It never blocks;
// if the queue is full the request is dropped and the next scheduled cycle
// picks the client up again.
func (s *Syncer) RequestSync(clientID string) {
	select {
	case s.requests <- clientID:
	default:
		log.Warn().Str("client_id", clientID).Msg("Ledger sync queue full, dropping request")
	}
}

// Start runs the sync loop until Stop is called.
func (s *Syncer) Start() {
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(scheduledSyncInterval)
		defer ticker.Stop()

		for {
			select {
			case clientID := <-s.requests:
				s.SyncOnce(context.Background(), clientID)
			case <-ticker.C:
				s.SyncDue(context.Background())
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop halts the sync loop. Queued requests are abandoned; they will be
// re-requested by the next scheduled cycle.
func (s *Syncer) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// SyncDue submits every client whose last completed sync is older than the
// scheduled window. Exported so tests can drive one deterministic cycle.
// Returns the number of clients submitted.
func (s *Syncer) SyncDue(ctx context.Context) int {
	synced := 0
	for clientID, rec := range s.manager.ExportAll() {
		if time.Since(rec.LastLedgerSync) < scheduledSyncInterval {
			continue
		}
		s.SyncOnce(ctx, clientID)
		synced++
	}
	if synced > 0 {
		log.Debug().Int("clients", synced).Msg("Scheduled ledger sync cycle completed")
	}
	return synced
}

// SyncOnce submits one client's stats with bounded retries. Exported so tests
// and the scheduled cycle can drive a single deterministic submission.
func (s *Syncer) SyncOnce(ctx context.Context, clientID string) {
	syncID := uuid.New().String()
	logger := logging.GetSyncLogger(syncID, clientID)
	rec := s.manager.Snapshot(clientID)

	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	var err error
	for attempt := 1; attempt <= syncRetries; attempt++ {
		err = s.client.Submit(ctx, clientID, rec)
		if err == nil {
			s.manager.MarkLedgerSynced(clientID)
			logger.Debug().
				Int("attempt", attempt).
				Msg("Ledger sync completed")
			return
		}

		backoff := syncBaseBackoff << uint(attempt-1)
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Ledger sync attempt failed")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}

	// Deferred to the next scheduled cycle; never surfaces to the client.
	logger.Error().
		Err(err).
		Msg("Ledger sync exhausted retries, deferring")
}
