// Package chunkdb is the durable tier of the chunk cache: zstd-compressed grids
// keyed by canonical parameter key, plus an index of served requests.
package chunkdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db   *sql.DB
	reqs *requestWriter
	once sync.Once
}

// Stats summarizes a store for admin tooling.
type Stats struct {
	Chunks          int64  `json:"chunks"`
	RawBytes        int64  `json:"raw_bytes"`
	StoredBytes     int64  `json:"stored_bytes"`
	Requests        int64  `json:"requests"`
	RequestsWritten uint64 `json:"requests_written"`
	RequestsDropped uint64 `json:"requests_dropped"`
}

// ChunkRow is a stored chunk, decompressed.
type ChunkRow struct {
	Key       string
	Size      int
	ETag      string
	Grid      []byte
	CreatedAt time.Time
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db}
	s.reqs = newRequestWriter(db,
		`INSERT OR REPLACE INTO requests(id,ts,key,cx,cy,cz,status,source,duration_ms) VALUES(?,?,?,?,?,?,?,?,?)`,
		65536)
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS chunks (
		key TEXT PRIMARY KEY,
		size INTEGER NOT NULL,
		etag TEXT NOT NULL,
		raw_bytes INTEGER NOT NULL,
		blob BLOB NOT NULL,
		created_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		ts TEXT NOT NULL,
		key TEXT NOT NULL,
		cx INTEGER NOT NULL,
		cy INTEGER NOT NULL,
		cz INTEGER NOT NULL,
		status INTEGER NOT NULL,
		source TEXT NOT NULL,
		duration_ms REAL NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_requests_ts ON requests(ts);`,
	`CREATE INDEX IF NOT EXISTS idx_requests_pos ON requests(cx, cz, cy);`,
	`INSERT OR IGNORE INTO meta(key,value) VALUES('schema_version','1');`,
}

func initSchema(db *sql.DB, stmts []string) error {
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	var err error
	s.once.Do(func() {
		s.reqs.close()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		size int
		raw  int
		blob []byte
	)
	err := s.db.QueryRowContext(ctx, `SELECT size, raw_bytes, blob FROM chunks WHERE key = ?`, key).Scan(&size, &raw, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	grid, err := decompress(blob, raw)
	if err != nil {
		return nil, false, fmt.Errorf("chunk %s: %w", key, err)
	}
	return grid, true, nil
}

func (s *SQLiteStore) Save(ctx context.Context, key string, size int, etag string, grid []byte) error {
	blob, err := compress(grid)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO chunks(key,size,etag,raw_bytes,blob,created_at) VALUES(?,?,?,?,?,?)`,
		key, size, etag, len(grid), blob, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) Purge(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks`)
	return err
}

// RecordRequest queues r for the requests table without blocking.
func (s *SQLiteStore) RecordRequest(r RequestRow) {
	if s == nil {
		return
	}
	s.reqs.record(r)
}

// Requests returns the newest rows first.
func (s *SQLiteStore) Requests(ctx context.Context, limit int) ([]RequestRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, key, cx, cy, cz, status, source, duration_ms FROM requests ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanRequests(rows)
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(raw_bytes),0), COALESCE(SUM(LENGTH(blob)),0) FROM chunks`,
	).Scan(&st.Chunks, &st.RawBytes, &st.StoredBytes); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM requests`).Scan(&st.Requests); err != nil {
		return st, err
	}
	st.RequestsWritten = s.reqs.written.Load()
	st.RequestsDropped = s.reqs.dropped.Load()
	return st, nil
}

// Each calls fn for every stored chunk in key order. Returning an error from fn
// stops the scan.
func (s *SQLiteStore) Each(ctx context.Context, fn func(ChunkRow) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT key, size, etag, raw_bytes, blob, created_at FROM chunks ORDER BY key`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			r    ChunkRow
			raw  int
			blob []byte
			ts   string
		)
		if err := rows.Scan(&r.Key, &r.Size, &r.ETag, &raw, &blob, &ts); err != nil {
			return err
		}
		if r.Grid, err = decompress(blob, raw); err != nil {
			return fmt.Errorf("chunk %s: %w", r.Key, err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}
