// Package store provides the durable local record store for fieldsync.
//
// The store is the single source of truth for the UI: every screen renders
// from the last successfully persisted state here, never from in-flight
// network state. It is an embedded SQLite database (WAL mode) holding
// property records keyed by their current identifier — provisional before
// first server contact, confirmed afterwards — plus in-progress wizard
// drafts.
//
// Timestamps are stored as epoch milliseconds. A geohash of the record
// location is maintained on every write so the map screen can run cheap
// prefix queries for nearby properties.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mmcloughlin/geohash"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/annk/fieldsync/internal/record"
)

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = errors.New("record not found")

// geohashChars is the precision used for the location index; 7 characters
// is roughly a 150m cell, enough for the map screen's nearby grouping.
const geohashChars = 7

// Store wraps the SQLite connection with record-level operations.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the local database at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// The schema is created on first use. The caller MUST call Close() when
// done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// initSchema creates tables and indexes. Idempotent.
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS properties (
		id TEXT PRIMARY KEY,
		remote_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		lat REAL NOT NULL DEFAULT 0,
		lng REAL NOT NULL DEFAULT 0,
		accuracy REAL NOT NULL DEFAULT 0,
		geohash TEXT NOT NULL DEFAULT '',
		area REAL NOT NULL DEFAULT 0,
		price_min REAL NOT NULL DEFAULT 0,
		price_max REAL NOT NULL DEFAULT 0,
		frontage REAL NOT NULL DEFAULT 0,
		photo_front TEXT NOT NULL DEFAULT '',
		photo_general TEXT NOT NULL DEFAULT '',
		photo_detail TEXT NOT NULL DEFAULT '',
		roof_status TEXT NOT NULL DEFAULT 'unknown',
		legal_status TEXT NOT NULL DEFAULT 'unknown',
		notes TEXT NOT NULL DEFAULT '',
		pipeline_status TEXT NOT NULL DEFAULT 'New',
		sync_status TEXT NOT NULL DEFAULT 'pending',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS drafts (
		id TEXT PRIMARY KEY,
		step INTEGER NOT NULL DEFAULT 0,
		data TEXT NOT NULL DEFAULT '{}',
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_properties_sync_status ON properties(sync_status);
	CREATE INDEX IF NOT EXISTS idx_properties_remote_id ON properties(remote_id);
	CREATE INDEX IF NOT EXISTS idx_properties_created_at ON properties(created_at);
	CREATE INDEX IF NOT EXISTS idx_properties_geohash ON properties(geohash);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

const propertyColumns = `id, remote_id, name, phone, address,
	lat, lng, accuracy, area, price_min, price_max, frontage,
	photo_front, photo_general, photo_detail,
	roof_status, legal_status, notes,
	pipeline_status, sync_status, created_at, updated_at`

// dbtx abstracts the pooled connection and a transaction for operations
// that must run in either.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Put upserts a record by its current id. The write is always the full
// record, never a partial row.
func (s *Store) Put(ctx context.Context, rec *record.PropertyRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	return execPut(ctx, s.conn, rec)
}

// execPut runs the upsert on either the pooled connection or a transaction.
func execPut(ctx context.Context, db dbtx, rec *record.PropertyRecord) error {
	query := `
	INSERT INTO properties (
		id, remote_id, name, phone, address,
		lat, lng, accuracy, geohash, area, price_min, price_max, frontage,
		photo_front, photo_general, photo_detail,
		roof_status, legal_status, notes,
		pipeline_status, sync_status, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		remote_id = excluded.remote_id,
		name = excluded.name,
		phone = excluded.phone,
		address = excluded.address,
		lat = excluded.lat,
		lng = excluded.lng,
		accuracy = excluded.accuracy,
		geohash = excluded.geohash,
		area = excluded.area,
		price_min = excluded.price_min,
		price_max = excluded.price_max,
		frontage = excluded.frontage,
		photo_front = excluded.photo_front,
		photo_general = excluded.photo_general,
		photo_detail = excluded.photo_detail,
		roof_status = excluded.roof_status,
		legal_status = excluded.legal_status,
		notes = excluded.notes,
		pipeline_status = excluded.pipeline_status,
		sync_status = excluded.sync_status,
		updated_at = excluded.updated_at
	`

	gh := ""
	if rec.Location.Lat != 0 || rec.Location.Lng != 0 {
		gh = geohash.EncodeWithPrecision(rec.Location.Lat, rec.Location.Lng, geohashChars)
	}

	_, err := db.ExecContext(ctx, query,
		rec.ID,
		rec.RemoteID,
		rec.Name,
		rec.Phone,
		rec.Address,
		rec.Location.Lat,
		rec.Location.Lng,
		rec.Location.Accuracy,
		gh,
		rec.Area,
		rec.PriceMin,
		rec.PriceMax,
		rec.Frontage,
		rec.Photos.Front,
		rec.Photos.General,
		rec.Photos.Detail,
		string(rec.RoofStatus),
		string(rec.LegalStatus),
		rec.Notes,
		string(rec.PipelineStatus),
		string(rec.SyncStatus),
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", rec.ID, err)
	}

	return nil
}

// Get retrieves a single record by id. Returns ErrNotFound when absent.
func (s *Store) Get(ctx context.Context, id string) (*record.PropertyRecord, error) {
	return getProperty(ctx, s.conn, id)
}

// FindByRemoteID looks up the record that already references the given
// server id. Returns ErrNotFound when no local record knows about it.
func (s *Store) FindByRemoteID(ctx context.Context, remoteID string) (*record.PropertyRecord, error) {
	return getPropertyByRemoteID(ctx, s.conn, remoteID)
}

func getProperty(ctx context.Context, db dbtx, id string) (*record.PropertyRecord, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+propertyColumns+` FROM properties WHERE id = ?`, id)
	return scanProperty(row)
}

func getPropertyByRemoteID(ctx context.Context, db dbtx, remoteID string) (*record.PropertyRecord, error) {
	if remoteID == "" {
		return nil, ErrNotFound
	}
	row := db.QueryRowContext(ctx,
		`SELECT `+propertyColumns+` FROM properties WHERE remote_id = ? LIMIT 1`, remoteID)
	return scanProperty(row)
}

// List returns all records, newest first.
func (s *Store) List(ctx context.Context) ([]*record.PropertyRecord, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+propertyColumns+` FROM properties ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	return scanProperties(rows)
}

// ListPendingOrError returns the records the push phase must attempt,
// oldest first so retries keep their original order.
func (s *Store) ListPendingOrError(ctx context.Context) ([]*record.PropertyRecord, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+propertyColumns+` FROM properties
		 WHERE sync_status IN (?, ?) ORDER BY created_at ASC`,
		string(record.SyncPending), string(record.SyncError))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending records: %w", err)
	}
	defer rows.Close()

	return scanProperties(rows)
}

// ListNearby returns records whose geohash starts with the given prefix.
// A shorter prefix widens the search cell.
func (s *Store) ListNearby(ctx context.Context, prefix string) ([]*record.PropertyRecord, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+propertyColumns+` FROM properties
		 WHERE geohash != '' AND geohash LIKE ? || '%' ORDER BY created_at DESC`, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list nearby records: %w", err)
	}
	defer rows.Close()

	return scanProperties(rows)
}

// Delete removes a record. Idempotent: deleting an absent id is not an
// error. Used only to remove a superseded provisional row.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM properties WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	return nil
}

// SetSyncStatus flags a record's sync state and bumps updated_at.
func (s *Store) SetSyncStatus(ctx context.Context, id string, status record.SyncStatus) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE properties SET sync_status = ?, updated_at = ? WHERE id = ?`,
		string(status), record.NowMillis(), id)
	if err != nil {
		return fmt.Errorf("failed to update sync status of %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReconcileFn produces the row to persist from the freshest local state of
// the record being reconciled. current is nil when the row no longer
// exists.
type ReconcileFn func(current *record.PropertyRecord) (*record.PropertyRecord, error)

// ConfirmIdentity replaces the row stored under localID with the result of
// fn, as one transaction. fn runs against the row as it is inside that
// transaction, not against a caller snapshot, so an edit that landed after
// the caller last read the record takes part in the reconciliation instead
// of being overwritten.
//
// When fn rekeys the record, the new row is written before the superseded
// one is deleted so that a crash in between can at worst leave a duplicate,
// which the next pull recovers via the remote_id lookup — never a lost
// record.
func (s *Store) ConfirmIdentity(ctx context.Context, localID string, fn ReconcileFn) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := getProperty(ctx, tx, localID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to read record %s: %w", localID, err)
	}

	merged, err := fn(current)
	if err != nil {
		return err
	}
	if err := merged.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	if err := execPut(ctx, tx, merged); err != nil {
		return err
	}

	if localID != merged.ID {
		if _, err := tx.ExecContext(ctx, `DELETE FROM properties WHERE id = ?`, localID); err != nil {
			return fmt.Errorf("failed to delete stale record %s: %w", localID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit identity confirmation: %w", err)
	}

	return nil
}

// MergeFn merges one remote property with the local row it corresponds to
// (nil when there is none), returning the row to persist plus the id of a
// superseded row to drop, empty when no rekey happened.
type MergeFn func(rp *record.RemoteProperty, existing *record.PropertyRecord) (merged *record.PropertyRecord, staleID string)

// PullResult summarizes what ApplyPull did with a batch.
type PullResult struct {
	Merged  int
	Rekeyed int

	// Skipped lists remote ids whose merged row failed validation and
	// was left out of the batch.
	Skipped []string
}

// ApplyPull merges a whole remote batch into the store in one transaction.
// The local lookup for each entry (by confirmed id, then by remote_id
// reference) runs inside the transaction, so every merge sees the row as
// it is now, not as a caller snapshot. A crash mid-pull leaves the store
// at some prefix of the remote list, never a half-written record; within
// each entry the new row is written before the stale row is deleted.
//
// A merged row that fails validation is skipped and reported in the
// result rather than aborting the batch, so one bad remote entry cannot
// block every future cycle.
func (s *Store) ApplyPull(ctx context.Context, remotes []*record.RemoteProperty, merge MergeFn) (PullResult, error) {
	var res PullResult
	if len(remotes) == 0 {
		return res, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, rp := range remotes {
		existing, err := getProperty(ctx, tx, rp.ID)
		if errors.Is(err, ErrNotFound) {
			existing, err = getPropertyByRemoteID(ctx, tx, rp.ID)
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return res, fmt.Errorf("failed to look up record %s: %w", rp.ID, err)
		}

		merged, staleID := merge(rp, existing)
		if err := merged.Validate(); err != nil {
			res.Skipped = append(res.Skipped, rp.ID)
			continue
		}

		if err := execPut(ctx, tx, merged); err != nil {
			return res, err
		}
		if staleID != "" && staleID != merged.ID {
			if _, err := tx.ExecContext(ctx, `DELETE FROM properties WHERE id = ?`, staleID); err != nil {
				return res, fmt.Errorf("failed to delete stale record %s: %w", staleID, err)
			}
			res.Rekeyed++
		}
		res.Merged++
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("failed to commit pull batch: %w", err)
	}

	return res, nil
}

// Counts aggregates record totals per sync status for the status surface.
type Counts struct {
	Total   int
	Pending int
	Synced  int
	Error   int
}

// CountByStatus returns record totals per sync status.
func (s *Store) CountByStatus(ctx context.Context) (Counts, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT sync_status, COUNT(*) FROM properties GROUP BY sync_status`)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count records: %w", err)
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, fmt.Errorf("failed to scan count: %w", err)
		}
		c.Total += n
		switch record.SyncStatus(status) {
		case record.SyncPending:
			c.Pending = n
		case record.SyncSynced:
			c.Synced = n
		case record.SyncError:
			c.Error = n
		}
	}
	if err := rows.Err(); err != nil {
		return Counts{}, fmt.Errorf("error iterating counts: %w", err)
	}

	return c, nil
}

// scanner abstracts sql.Row and sql.Rows for the single-record scan path.
type scanner interface {
	Scan(dest ...any) error
}

func scanProperty(row scanner) (*record.PropertyRecord, error) {
	var rec record.PropertyRecord
	var roof, legal, pipeline, syncStatus string

	err := row.Scan(
		&rec.ID,
		&rec.RemoteID,
		&rec.Name,
		&rec.Phone,
		&rec.Address,
		&rec.Location.Lat,
		&rec.Location.Lng,
		&rec.Location.Accuracy,
		&rec.Area,
		&rec.PriceMin,
		&rec.PriceMax,
		&rec.Frontage,
		&rec.Photos.Front,
		&rec.Photos.General,
		&rec.Photos.Detail,
		&roof,
		&legal,
		&rec.Notes,
		&pipeline,
		&syncStatus,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	rec.RoofStatus = record.RoofStatus(roof)
	rec.LegalStatus = record.LegalStatus(legal)
	rec.PipelineStatus = record.PipelineStatus(pipeline)
	rec.SyncStatus = record.SyncStatus(syncStatus)

	return &rec, nil
}

func scanProperties(rows *sql.Rows) ([]*record.PropertyRecord, error) {
	var recs []*record.PropertyRecord
	for rows.Next() {
		rec, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return recs, nil
}
