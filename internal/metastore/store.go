// Package metastore persists file records, sync conflicts, and per-folder
// delta tokens in a SQLite database. It is the only component that mutates
// these tables; everything else observes through the Store API.
package metastore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/joe/drivesync/internal/metastore/migrations"
	"github.com/joe/drivesync/internal/models"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Exported variables.
var (
	ErrNotFound = errors.New("record not found")
)

// Store wraps a SQLite database holding sync metadata.
// path can be a file path or ":memory:" for an in-memory database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the metadata database at path and brings
// its schema up to date.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single writer keeps per-record updates atomic without busy-retry
	// loops; transfer workers funnel through this one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := migrations.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying connection, for tests and tools.
func (s *Store) DB() *sql.DB {
	return s.db
}

// File record operations

const fileRecordColumns = `account_id, path, remote_id, name, size, last_modified_utc,
	local_path, change_tag, etag, local_hash, sync_status, last_sync_direction`

// GetByAccount returns every file record for an account, ordered by path.
// Duplicate rows per path are returned as-is; the reconciliation engine is
// responsible for deterministically picking the best one.
func (s *Store) GetByAccount(accountID string) ([]models.FileRecord, error) {
	rows, err := s.db.Query(`
		SELECT `+fileRecordColumns+`
		FROM file_records WHERE account_id = ? ORDER BY path, row_id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query records for account %s: %w", accountID, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// GetByPath returns all records for a logical path (normally one; duplicates
// possible after a prior bug).
func (s *Store) GetByPath(accountID, path string) ([]models.FileRecord, error) {
	rows, err := s.db.Query(`
		SELECT `+fileRecordColumns+`
		FROM file_records WHERE account_id = ? AND path = ? ORDER BY row_id
	`, accountID, path)
	if err != nil {
		return nil, fmt.Errorf("failed to query records for path %s: %w", path, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// GetByRemoteID returns the first record carrying the given remote item id.
func (s *Store) GetByRemoteID(accountID, remoteID string) (models.FileRecord, error) {
	row := s.db.QueryRow(`
		SELECT `+fileRecordColumns+`
		FROM file_records WHERE account_id = ? AND remote_id = ? ORDER BY row_id LIMIT 1
	`, accountID, remoteID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.FileRecord{}, ErrNotFound
	}

	return rec, err
}

// Add inserts a new record row.
func (s *Store) Add(rec models.FileRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO file_records (`+fileRecordColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, recordArgs(rec, time.Now().UTC())...)
	if err != nil {
		return fmt.Errorf("failed to insert record for %s: %w", rec.Path, err)
	}

	return nil
}

// Update replaces the record(s) stored for rec's path. Fails with ErrNotFound
// if no row exists for that path.
func (s *Store) Update(rec models.FileRecord) error {
	res, err := s.db.Exec(`
		UPDATE file_records SET
			remote_id = ?, name = ?, size = ?, last_modified_utc = ?,
			local_path = ?, change_tag = ?, etag = ?, local_hash = ?,
			sync_status = ?, last_sync_direction = ?, updated_at = ?
		WHERE account_id = ? AND path = ?
	`, rec.ID, rec.Name, rec.Size, rec.LastModifiedUTC.UTC(),
		rec.LocalPath, rec.ChangeTag, rec.ETag, rec.LocalHash,
		string(rec.SyncStatus), string(rec.LastSyncDirection), time.Now().UTC(),
		rec.AccountID, rec.Path)
	if err != nil {
		return fmt.Errorf("failed to update record for %s: %w", rec.Path, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result for %s: %w", rec.Path, err)
	}

	if affected == 0 {
		return fmt.Errorf("updating %s: %w", rec.Path, ErrNotFound)
	}

	return nil
}

// Save upserts the record for rec's path. Any duplicate rows for the path are
// collapsed into the single new row, atomically.
func (s *Store) Save(rec models.FileRecord) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			DELETE FROM file_records WHERE account_id = ? AND path = ?
		`, rec.AccountID, rec.Path); err != nil {
			return fmt.Errorf("failed to clear rows for %s: %w", rec.Path, err)
		}

		if _, err := tx.Exec(`
			INSERT INTO file_records (`+fileRecordColumns+`, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, recordArgs(rec, time.Now().UTC())...); err != nil {
			return fmt.Errorf("failed to insert row for %s: %w", rec.Path, err)
		}

		return nil
	})
}

// SaveAll upserts a batch of records in one transaction.
func (s *Store) SaveAll(recs []models.FileRecord) error {
	return s.withTx(func(tx *sql.Tx) error {
		now := time.Now().UTC()

		for _, rec := range recs {
			if _, err := tx.Exec(`
				DELETE FROM file_records WHERE account_id = ? AND path = ?
			`, rec.AccountID, rec.Path); err != nil {
				return fmt.Errorf("failed to clear rows for %s: %w", rec.Path, err)
			}

			if _, err := tx.Exec(`
				INSERT INTO file_records (`+fileRecordColumns+`, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, recordArgs(rec, now)...); err != nil {
				return fmt.Errorf("failed to insert row for %s: %w", rec.Path, err)
			}
		}

		return nil
	})
}

// Delete removes all rows for a logical path.
func (s *Store) Delete(accountID, path string) error {
	_, err := s.db.Exec(`
		DELETE FROM file_records WHERE account_id = ? AND path = ?
	`, accountID, path)
	if err != nil {
		return fmt.Errorf("failed to delete record for %s: %w", path, err)
	}

	return nil
}

// Conflict operations

// GetConflicts returns all unresolved conflicts for an account, oldest first.
func (s *Store) GetConflicts(accountID string) ([]models.SyncConflict, error) {
	rows, err := s.db.Query(`
		SELECT id, account_id, file_path, local_modified_utc, remote_modified_utc,
			local_size, remote_size, detected_utc, resolution_strategy, is_resolved
		FROM sync_conflicts WHERE account_id = ? AND is_resolved = 0
		ORDER BY detected_utc, id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts for account %s: %w", accountID, err)
	}
	defer rows.Close()

	var conflicts []models.SyncConflict

	for rows.Next() {
		var (
			c        models.SyncConflict
			strategy string
		)

		err := rows.Scan(&c.ID, &c.AccountID, &c.FilePath, &c.LocalModifiedUTC,
			&c.RemoteModifiedUTC, &c.LocalSize, &c.RemoteSize, &c.DetectedUTC,
			&strategy, &c.IsResolved)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}

		c.ResolutionStrategy = models.ResolutionStrategy(strategy)
		conflicts = append(conflicts, c)
	}

	return conflicts, rows.Err()
}

// AddConflict inserts a conflict record.
func (s *Store) AddConflict(c models.SyncConflict) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_conflicts (id, account_id, file_path, local_modified_utc,
			remote_modified_utc, local_size, remote_size, detected_utc,
			resolution_strategy, is_resolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.AccountID, c.FilePath, c.LocalModifiedUTC.UTC(), c.RemoteModifiedUTC.UTC(),
		c.LocalSize, c.RemoteSize, c.DetectedUTC.UTC(),
		string(c.ResolutionStrategy), c.IsResolved)
	if err != nil {
		return fmt.Errorf("failed to insert conflict for %s: %w", c.FilePath, err)
	}

	return nil
}

// UpdateConflict stores a conflict's strategy and resolved flag.
func (s *Store) UpdateConflict(c models.SyncConflict) error {
	res, err := s.db.Exec(`
		UPDATE sync_conflicts SET resolution_strategy = ?, is_resolved = ? WHERE id = ?
	`, string(c.ResolutionStrategy), c.IsResolved, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update conflict %s: %w", c.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read conflict update result: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("updating conflict %s: %w", c.ID, ErrNotFound)
	}

	return nil
}

// DeleteConflict removes a conflict record.
func (s *Store) DeleteConflict(id string) error {
	_, err := s.db.Exec(`DELETE FROM sync_conflicts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conflict %s: %w", id, err)
	}

	return nil
}

// Delta token operations

// GetDeltaToken returns the stored delta token for an account folder, or ""
// if none has been stored yet.
func (s *Store) GetDeltaToken(accountID, folderPath string) (string, error) {
	var token string

	err := s.db.QueryRow(`
		SELECT delta_token FROM account_state WHERE account_id = ? AND folder_path = ?
	`, accountID, folderPath).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("failed to query delta token: %w", err)
	}

	return token, nil
}

// SetDeltaToken stores the delta token for an account folder.
func (s *Store) SetDeltaToken(accountID, folderPath, token string) error {
	_, err := s.db.Exec(`
		INSERT INTO account_state (account_id, folder_path, delta_token, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id, folder_path) DO UPDATE SET
			delta_token = excluded.delta_token,
			updated_at = excluded.updated_at
	`, accountID, folderPath, token, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store delta token: %w", err)
	}

	return nil
}

func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func recordArgs(rec models.FileRecord, now time.Time) []any {
	return []any{
		rec.AccountID, rec.Path, rec.ID, rec.Name, rec.Size, rec.LastModifiedUTC.UTC(),
		rec.LocalPath, rec.ChangeTag, rec.ETag, rec.LocalHash,
		string(rec.SyncStatus), string(rec.LastSyncDirection), now,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (models.FileRecord, error) {
	var (
		rec               models.FileRecord
		status, direction string
	)

	err := row.Scan(&rec.AccountID, &rec.Path, &rec.ID, &rec.Name, &rec.Size,
		&rec.LastModifiedUTC, &rec.LocalPath, &rec.ChangeTag, &rec.ETag,
		&rec.LocalHash, &status, &direction)
	if err != nil {
		return models.FileRecord{}, err
	}

	rec.SyncStatus = models.SyncStatus(status)
	rec.LastSyncDirection = models.SyncDirection(direction)
	rec.LastModifiedUTC = rec.LastModifiedUTC.UTC()

	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]models.FileRecord, error) {
	var recs []models.FileRecord

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		recs = append(recs, rec)
	}

	return recs, rows.Err()
}
