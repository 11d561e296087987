package quota

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // SQLite driver registration.
)

// Store persists quota record snapshots between process runs.
type Store interface {
	LoadAll(ctx context.Context) (map[string]ClientRecord, error)
	SaveAll(ctx context.Context, records map[string]ClientRecord) error
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS client_quota (
	client_id  TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// SQLiteStore keeps one JSON-encoded record row per client.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the snapshot database at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadAll reads every persisted record. Corrupt rows are skipped with a
// warning so one bad snapshot never blocks startup.
func (s *SQLiteStore) LoadAll(ctx context.Context) (map[string]ClientRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT client_id, record FROM client_quota`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make(map[string]ClientRecord)
	for rows.Next() {
		var clientID, payload string
		if err := rows.Scan(&clientID, &payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var rec ClientRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			log.Warn().Err(err).Str("client_id", clientID).Msg("Skipping corrupt quota snapshot row")
			continue
		}
		records[clientID] = rec
	}
	return records, rows.Err()
}

// SaveAll upserts every record in one transaction.
func (s *SQLiteStore) SaveAll(ctx context.Context, records map[string]ClientRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339)
	for clientID, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record %s: %w", clientID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO client_quota (client_id, record, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(client_id) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
			clientID, string(payload), now,
		); err != nil {
			return fmt.Errorf("upsert record %s: %w", clientID, err)
		}
	}
	return tx.Commit()
}

// Snapshotter periodically persists the manager's records to a Store.
type Snapshotter struct {
	manager  *Manager
	store    Store
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSnapshotter wires a manager to its store.
func NewSnapshotter(manager *Manager, store Store, interval time.Duration) *Snapshotter {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Snapshotter{
		manager:  manager,
		store:    store,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Restore loads persisted records into the manager. A failed load starts every
// client at defaults rather than failing startup.
func (sn *Snapshotter) Restore(ctx context.Context) {
	records, err := sn.store.LoadAll(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Quota snapshot load failed, starting with empty records")
		return
	}
	sn.manager.LoadAll(records)
	log.Info().Int("clients", len(records)).Msg("Restored quota records from snapshot")
}

// Start runs the snapshot loop until Stop is called.
func (sn *Snapshotter) Start() {
	go func() {
		defer close(sn.doneCh)
		ticker := time.NewTicker(sn.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sn.SnapshotNow(context.Background())
			case <-sn.stopCh:
				return
			}
		}
	}()
}

// Stop halts the loop and writes a final snapshot.
func (sn *Snapshotter) Stop() {
	close(sn.stopCh)
	<-sn.doneCh
	sn.SnapshotNow(context.Background())
}

// SnapshotNow persists the current records. Failures are logged and accepted;
// request handling keeps running on in-memory state.
func (sn *Snapshotter) SnapshotNow(ctx context.Context) {
	records := sn.manager.ExportAll()
	if err := sn.store.SaveAll(ctx, records); err != nil {
		log.Error().Err(err).Int("clients", len(records)).Msg("Quota snapshot write failed")
		return
	}
	log.Debug().Int("clients", len(records)).Msg("Quota snapshot written")
}
