package chunkdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresStore is the shared durable tier for several server replicas.
type PostgresStore struct {
	db   *sql.DB
	reqs *requestWriter
	once sync.Once
}

func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty postgres dsn")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := initSchema(db, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	s := &PostgresStore{db: db}
	s.reqs = newRequestWriter(db,
		`INSERT INTO requests(id,ts,key,cx,cy,cz,status,source,duration_ms) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO NOTHING`,
		65536)
	return s, nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS chunks (
		key TEXT PRIMARY KEY,
		size INTEGER NOT NULL,
		etag TEXT NOT NULL,
		raw_bytes INTEGER NOT NULL,
		blob BYTEA NOT NULL,
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
		duration_ms DOUBLE PRECISION NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_requests_ts ON requests(ts);`,
}

func (s *PostgresStore) Close() error {
	var err error
	s.once.Do(func() {
		s.reqs.close()
		err = s.db.Close()
	})
	return err
}

func (s *PostgresStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		raw  int
		blob []byte
	)
	err := s.db.QueryRowContext(ctx, `SELECT raw_bytes, blob FROM chunks WHERE key = $1`, key).Scan(&raw, &blob)
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

// Save keeps the first writer's row; every writer produces the same bytes.
func (s *PostgresStore) Save(ctx context.Context, key string, size int, etag string, grid []byte) error {
	blob, err := compress(grid)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO chunks (key, size, etag, raw_bytes, blob, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (key) DO NOTHING`,
		key, size, etag, len(grid), blob, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *PostgresStore) Purge(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `TRUNCATE chunks`)
	return err
}

func (s *PostgresStore) RecordRequest(r RequestRow) {
	if s == nil {
		return
	}
	s.reqs.record(r)
}

func (s *PostgresStore) Requests(ctx context.Context, limit int) ([]RequestRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, key, cx, cy, cz, status, source, duration_ms FROM requests ORDER BY ts DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return scanRequests(rows)
}
