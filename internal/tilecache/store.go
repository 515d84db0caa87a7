// Package tilecache implements the CacheStore contract from spec §4.3: a
// durable id -> payload mapping. It is adapted from the teacher's
// tilepack/mbtiles_outputter.go and mbtiles_reader.go, which already show
// the idiom for a sqlite-backed tile store (schema-on-init, batched
// transactions, keyed lookups); here the "map" table becomes a flat
// id-keyed cache table instead of a zoom/x/y tile grid.
package tilecache

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver

	"github.com/srtm-tiles/srtmpack/internal/errs"
	"github.com/srtm-tiles/srtmpack/internal/tileid"
)

// Entry mirrors spec §3's CacheEntry.
type Entry struct {
	ID           tileid.ID
	Data         []byte
	Size         int
	Timestamp    int64 // epoch-ms
	LastAccessed int64 // epoch-ms
	Compressed   bool
}

// StorageInfo mirrors spec §4.3's getStorageInfo result.
type StorageInfo struct {
	TileCount int
	TotalSize int64
	Oldest    int64
	Newest    int64
}

// Store is a durable, sqlite-backed CacheStore. It is safe for concurrent
// use by multiple Manager instances sharing the same DSN (spec §9: "the
// cache store is a process-wide resource").
type Store struct {
	dsn    string
	logger *slog.Logger

	mu   sync.Mutex // serializes init + schema migration only; reads/writes rely on sqlite's own locking
	db   *sql.DB
	init bool
}

// Open creates a Store for the given DSN (a filesystem path, or ":memory:"
// for tests) without touching the schema; call Init before use.
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errs.Storage("failed to open cache database", err)
	}
	return &Store{dsn: dsn, logger: logger, db: db}, nil
}

// Init creates the cache table if missing. It is idempotent and safe to
// call concurrently (spec §4.3, §6).
func (s *Store) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.init {
		return nil
	}

	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tiles (
			id            TEXT PRIMARY KEY,
			data          BLOB NOT NULL,
			size          INTEGER NOT NULL,
			timestamp     INTEGER NOT NULL,
			last_accessed INTEGER NOT NULL,
			compressed    INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS tiles_last_accessed ON tiles (last_accessed);
		PRAGMA journal_mode=WAL;
	`)
	if err != nil {
		return errs.Storage("failed to initialize cache schema", err)
	}
	s.init = true
	return nil
}

// IsInitialized reports whether Init has completed successfully.
func (s *Store) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.init
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the cached entry for id, or (nil, nil) on a miss. A
// successful read bumps last_accessed, per spec §4.3.
func (s *Store) Get(id tileid.ID) (*Entry, error) {
	now := time.Now().UnixMilli()

	var e Entry
	e.ID = id
	row := s.db.QueryRow(`SELECT data, size, timestamp, last_accessed, compressed FROM tiles WHERE id = ?`, id.String())
	var compressed int
	if err := row.Scan(&e.Data, &e.Size, &e.Timestamp, &e.LastAccessed, &compressed); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errs.Storage(fmt.Sprintf("cache read failed for %s", id), err)
	}
	e.Compressed = compressed != 0

	if _, err := s.db.Exec(`UPDATE tiles SET last_accessed = ? WHERE id = ?`, now, id.String()); err != nil {
		s.logger.Debug("failed to bump last_accessed", "tile", id.String(), "error", err)
	}
	e.LastAccessed = now

	return &e, nil
}

// Store persists entry, replacing any existing row with the same id (spec
// §3: "storing with an existing id replaces").
func (s *Store) Store(entry Entry) error {
	if entry.Size != len(entry.Data) {
		return errs.Internal(fmt.Sprintf("cache entry size %d does not match data length %d", entry.Size, len(entry.Data)))
	}
	compressed := 0
	if entry.Compressed {
		compressed = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO tiles (id, data, size, timestamp, last_accessed, compressed)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			data = excluded.data,
			size = excluded.size,
			timestamp = excluded.timestamp,
			last_accessed = excluded.last_accessed,
			compressed = excluded.compressed
	`, entry.ID.String(), entry.Data, entry.Size, entry.Timestamp, entry.LastAccessed, compressed)
	if err != nil {
		return errs.Storage(fmt.Sprintf("cache write failed for %s", entry.ID), err)
	}
	return nil
}

// Delete removes a single entry. Deleting a missing id is not an error.
func (s *Store) Delete(id tileid.ID) error {
	if _, err := s.db.Exec(`DELETE FROM tiles WHERE id = ?`, id.String()); err != nil {
		return errs.Storage(fmt.Sprintf("cache delete failed for %s", id), err)
	}
	return nil
}

// Clear removes every cached tile.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM tiles`); err != nil {
		return errs.Storage("failed to clear cache", err)
	}
	return nil
}

// GetAllTiles returns every cached tile id.
func (s *Store) GetAllTiles() ([]tileid.ID, error) {
	rows, err := s.db.Query(`SELECT id FROM tiles`)
	if err != nil {
		return nil, errs.Storage("failed to list cached tiles", err)
	}
	defer rows.Close()

	var ids []tileid.ID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errs.Storage("failed to scan cached tile id", err)
		}
		id, err := tileid.Parse(raw)
		if err != nil {
			continue // schema corruption shouldn't take down a listing
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Exists reports, for each of the given ids, whether it is present in the
// cache, without reading payload bytes (spec §4.6's getCachedTiles).
func (s *Store) Exists(ids []tileid.ID) (map[tileid.ID]bool, error) {
	result := make(map[tileid.ID]bool, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = id.String()
	}

	rows, err := s.db.Query(fmt.Sprintf(`SELECT id FROM tiles WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, errs.Storage("failed to query cached tile existence", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errs.Storage("failed to scan existence row", err)
		}
		id, err := tileid.Parse(raw)
		if err != nil {
			continue
		}
		result[id] = true
	}
	return result, rows.Err()
}

// GetStorageInfo summarizes the cache contents (spec §4.3).
func (s *Store) GetStorageInfo() (StorageInfo, error) {
	var info StorageInfo
	var oldest, newest sql.NullInt64
	row := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(size), 0), MIN(timestamp), MAX(timestamp) FROM tiles`)
	if err := row.Scan(&info.TileCount, &info.TotalSize, &oldest, &newest); err != nil {
		return StorageInfo{}, errs.Storage("failed to read storage info", err)
	}
	info.Oldest = oldest.Int64
	info.Newest = newest.Int64
	return info, nil
}

// PruneOldTiles deletes tiles whose timestamp is older than maxAgeDays and
// returns how many were removed (spec §4.3).
func (s *Store) PruneOldTiles(maxAgeDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays).UnixMilli()
	res, err := s.db.Exec(`DELETE FROM tiles WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, errs.Storage("failed to prune old tiles", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errs.Storage("failed to count pruned tiles", err)
	}
	return int(n), nil
}

// EvictLRU removes the n entries with the smallest last_accessed value,
// implementing the LRU eviction strategy spec §4.3 permits (but does not
// require) a CacheStore to carry out.
func (s *Store) EvictLRU(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	res, err := s.db.Exec(`
		DELETE FROM tiles WHERE id IN (
			SELECT id FROM tiles ORDER BY last_accessed ASC LIMIT ?
		)
	`, n)
	if err != nil {
		return 0, errs.Storage("failed to evict LRU tiles", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errs.Storage("failed to count evicted tiles", err)
	}
	return int(affected), nil
}

// DB exposes the underlying handle for the manifest package, which persists
// sessions into the same database (spec §4.5: "the same durable store").
func (s *Store) DB() *sql.DB { return s.db }
