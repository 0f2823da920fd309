package chunkdb

import (
	"context"
	"fmt"
	"strings"
)

// Backend is a durable chunk store that also indexes served requests.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, size int, etag string, grid []byte) error
	Purge(ctx context.Context) error
	Close() error
	RecordRequest(r RequestRow)
	Requests(ctx context.Context, limit int) ([]RequestRow, error)
}

var (
	_ Backend = (*SQLiteStore)(nil)
	_ Backend = (*PostgresStore)(nil)
)

// Open returns the named backend. A nil Backend with a nil error means the
// cache runs memory-only.
func Open(ctx context.Context, kind, sqlitePath, pgDSN string) (Backend, string, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	switch kind {
	case "", "sqlite":
		s, err := OpenSQLite(sqlitePath)
		if err != nil {
			return nil, "sqlite", err
		}
		return s, "sqlite", nil
	case "postgres", "pg":
		s, err := OpenPostgres(ctx, pgDSN)
		if err != nil {
			return nil, "postgres", err
		}
		return s, "postgres", nil
	case "none", "off", "memory":
		return nil, "none", nil
	default:
		return nil, kind, fmt.Errorf("unknown cache backend %q", kind)
	}
}
