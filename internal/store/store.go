// Package store is the SyncDatabase facade: the durable record of what was
// true immediately after the last successful sync run, keyed by both the
// local path and the remote object id, plus the change-log token the
// ChangeLogIngester resumes from.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cmissync/core/internal/db"
	"github.com/cmissync/core/internal/triplet"
	"github.com/cmissync/core/internal/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_objects (
    local_path  TEXT PRIMARY KEY,
    remote_id   TEXT NOT NULL DEFAULT '',
    remote_path TEXT NOT NULL DEFAULT '',
    checksum    TEXT NOT NULL DEFAULT '',
    mtime       TEXT NOT NULL DEFAULT '',
    kind        TEXT NOT NULL DEFAULT 'document',
    error_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sync_objects_remote_id ON sync_objects(remote_id);

CREATE TABLE IF NOT EXISTS sync_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

const changeLogTokenKey = "change_log_token"

// Row is the full persisted state for one object, used to build a
// triplet.DBView.
type Row struct {
	LocalPath  string `db:"local_path"`
	RemoteID   string `db:"remote_id"`
	RemotePath string `db:"remote_path"`
	Checksum   string `db:"checksum"`
	MTime      string `db:"mtime"`
	Kind       string `db:"kind"`
	ErrorCount int    `db:"error_count"`
}

func (r Row) toDBView() *triplet.DBView {
	kind := triplet.Document
	if r.Kind == triplet.Folder.String() {
		kind = triplet.Folder
	}
	mtime, _ := time.Parse(time.RFC3339Nano, r.MTime)
	return &triplet.DBView{
		LocalPath:  r.LocalPath,
		RemoteID:   r.RemoteID,
		RemotePath: r.RemotePath,
		Checksum:   r.Checksum,
		ModTime:    mtime,
		Kind:       kind,
	}
}

// Database is the sqlite-backed SyncDatabase facade. Safe for concurrent
// use by multiple processor workers (sqlite itself serializes writes).
type Database struct {
	db     *sqlx.DB
	dbPath string
}

// Open creates or opens the sync database at dbPath, running the schema
// migration if needed.
func Open(dbPath string) (*Database, error) {
	if err := utils.EnsureDir(filepath.Dir(dbPath)); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	conn, err := db.NewSqliteDb(db.WithPath(dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("open sync database: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize sync database schema: %w", err)
	}

	return &Database{db: conn, dbPath: dbPath}, nil
}

func (s *Database) Close() error {
	if err := s.db.Close(); err != nil {
		slog.Error("store: close failed", "error", err)
		return err
	}
	return nil
}

// GetChangeLogToken returns the last persisted change-log token, and false
// if a run has never completed before (forcing a full crawl).
func (s *Database) GetChangeLogToken() (string, bool, error) {
	var value string
	err := s.db.Get(&value, "SELECT value FROM sync_meta WHERE key = ?", changeLogTokenKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get change log token: %w", err)
	}
	return value, true, nil
}

// SetChangeLogToken persists the token. The caller must only call this
// after a full, successful run — the token never advances mid-run.
func (s *Database) SetChangeLogToken(token string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO sync_meta (key, value) VALUES (?, ?)",
		changeLogTokenKey, token,
	)
	if err != nil {
		return fmt.Errorf("set change log token: %w", err)
	}
	return nil
}

// GetRow returns the full stored row for localPath, or nil if unknown.
func (s *Database) GetRow(localPath string) (*Row, error) {
	var row Row
	err := s.db.Get(&row, "SELECT local_path, remote_id, remote_path, checksum, mtime, kind, error_count FROM sync_objects WHERE local_path = ?", localPath)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get row %s: %w", localPath, err)
	}
	return &row, nil
}

// GetDBView returns the triplet.DBView for localPath, or nil if unknown.
func (s *Database) GetDBView(localPath string) (*triplet.DBView, error) {
	row, err := s.GetRow(localPath)
	if err != nil || row == nil {
		return nil, err
	}
	v := row.toDBView()
	return v, nil
}

// GetPathById resolves a remote object id back to the local path last
// recorded for it, used by the assembler and the change-log ingester to
// turn a bare id into a triplet key.
func (s *Database) GetPathById(remoteID string) (localPath string, ok bool, err error) {
	err = s.db.Get(&localPath, "SELECT local_path FROM sync_objects WHERE remote_id = ?", remoteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get path by id %s: %w", remoteID, err)
	}
	return localPath, true, nil
}

// GetChecksum returns the last recorded checksum for localPath.
func (s *Database) GetChecksum(localPath string) (string, bool, error) {
	var checksum string
	err := s.db.Get(&checksum, "SELECT checksum FROM sync_objects WHERE local_path = ?", localPath)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get checksum %s: %w", localPath, err)
	}
	return checksum, true, nil
}

func (s *Database) upsert(localPath, remoteID, remotePath, checksum string, mtime time.Time, kind triplet.Kind) error {
	query := `INSERT OR REPLACE INTO sync_objects (local_path, remote_id, remote_path, checksum, mtime, kind, error_count)
	          VALUES (:local_path, :remote_id, :remote_path, :checksum, :mtime, :kind,
	                  COALESCE((SELECT error_count FROM sync_objects WHERE local_path = :local_path), 0))`
	_, err := s.db.NamedExec(query, Row{
		LocalPath:  localPath,
		RemoteID:   remoteID,
		RemotePath: remotePath,
		Checksum:   checksum,
		MTime:      mtime.Format(time.RFC3339Nano),
		Kind:       kind.String(),
	})
	return err
}

// RecordUpload persists the result of a successful local -> remote upload.
func (s *Database) RecordUpload(localPath, remoteID, remotePath, checksum string, mtime time.Time, kind triplet.Kind) error {
	if err := s.upsert(localPath, remoteID, remotePath, checksum, mtime, kind); err != nil {
		return fmt.Errorf("record upload %s: %w", localPath, err)
	}
	return s.clearErrorCount(localPath)
}

// RecordDownload persists the result of a successful remote -> local
// download.
func (s *Database) RecordDownload(localPath, remoteID, remotePath, checksum string, mtime time.Time, kind triplet.Kind) error {
	if err := s.upsert(localPath, remoteID, remotePath, checksum, mtime, kind); err != nil {
		return fmt.Errorf("record download %s: %w", localPath, err)
	}
	return s.clearErrorCount(localPath)
}

// RecordDelete removes localPath's row entirely; the object no longer
// exists on either side.
func (s *Database) RecordDelete(localPath string) error {
	_, err := s.db.Exec("DELETE FROM sync_objects WHERE local_path = ?", localPath)
	if err != nil {
		return fmt.Errorf("record delete %s: %w", localPath, err)
	}
	return nil
}

// RecordRename moves a row from oldLocalPath to newLocalPath, preserving
// the remote id/path/checksum. The processor's keep-both conflict rename
// does not call it.
func (s *Database) RecordRename(oldLocalPath, newLocalPath string) error {
	_, err := s.db.Exec("UPDATE sync_objects SET local_path = ? WHERE local_path = ?", newLocalPath, oldLocalPath)
	if err != nil {
		return fmt.Errorf("record rename %s -> %s: %w", oldLocalPath, newLocalPath, err)
	}
	return nil
}

// IncrementErrorCount bumps the retry counter for localPath, creating a
// bare row if none exists yet, so a repeatedly failing triplet is visible
// across runs.
func (s *Database) IncrementErrorCount(localPath string) (int, error) {
	_, err := s.db.Exec(`INSERT INTO sync_objects (local_path, error_count) VALUES (?, 1)
	                      ON CONFLICT(local_path) DO UPDATE SET error_count = error_count + 1`, localPath)
	if err != nil {
		return 0, fmt.Errorf("increment error count %s: %w", localPath, err)
	}
	var count int
	if err := s.db.Get(&count, "SELECT error_count FROM sync_objects WHERE local_path = ?", localPath); err != nil {
		return 0, fmt.Errorf("read error count %s: %w", localPath, err)
	}
	return count, nil
}

func (s *Database) clearErrorCount(localPath string) error {
	_, err := s.db.Exec("UPDATE sync_objects SET error_count = 0 WHERE local_path = ?", localPath)
	return err
}

// GetAllLocalPaths returns every local path the database knows about, used
// by the LocalCrawler to discover DB-only rows (local deletes missed while
// the watcher wasn't running).
func (s *Database) GetAllLocalPaths() ([]string, error) {
	var paths []string
	if err := s.db.Select(&paths, "SELECT local_path FROM sync_objects"); err != nil {
		return nil, fmt.Errorf("get all local paths: %w", err)
	}
	return paths, nil
}

// Count returns the number of tracked objects.
func (s *Database) Count() (int, error) {
	var count int
	if err := s.db.Get(&count, "SELECT COUNT(*) FROM sync_objects"); err != nil {
		return 0, fmt.Errorf("count objects: %w", err)
	}
	return count, nil
}
