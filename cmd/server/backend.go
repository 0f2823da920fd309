package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"voxelstream.ai/internal/chunkcache"
	"voxelstream.ai/internal/persistence/chunkdb"
	persistlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/persistence/snapshot"
	"voxelstream.ai/internal/transport"
	"voxelstream.ai/internal/tuning"
)

// openBackend opens the durable cache tier. VS_CACHE_BACKEND overrides
// cache.backend from tuning.yaml.
func openBackend(ctx context.Context, dataDir string, tune tuning.Tuning, disable bool) (chunkdb.Backend, string, error) {
	if disable {
		return nil, "none", nil
	}
	kind := strings.TrimSpace(os.Getenv("VS_CACHE_BACKEND"))
	if kind == "" {
		kind = tune.Cache.Backend
	}
	dbPath := filepath.Join(dataDir, "cache", "chunks.sqlite")
	return chunkdb.Open(ctx, kind, dbPath, os.Getenv("VS_CACHE_PG_DSN"))
}

// requestSink fans request events out to the JSONL log and the request index.
type requestSink struct {
	log    *persistlog.RequestLogger
	index  chunkdb.Backend
	logger *log.Logger

	logFailures atomic.Uint64
}

var _ transport.Observer = (*requestSink)(nil)

func (s *requestSink) ObserveRequest(ev transport.RequestEvent) {
	ms := float64(ev.Duration.Microseconds()) / 1000
	if s.log != nil {
		err := s.log.WriteRequest(persistlog.RequestEntry{
			ID:         ev.ID,
			TS:         ev.At.UTC().Format("2006-01-02T15:04:05.000Z"),
			Transport:  ev.Transport,
			Key:        ev.Key,
			CX:         ev.Coord.X,
			CY:         ev.Coord.Y,
			CZ:         ev.Coord.Z,
			Size:       ev.Size,
			Status:     ev.Status,
			Source:     ev.Source,
			Bytes:      ev.Bytes,
			DurationMS: ms,
			Error:      ev.Err,
		})
		if err != nil && s.logFailures.Add(1) == 1 && s.logger != nil {
			s.logger.Printf("request log: %v", err)
		}
	}
	if s.index != nil {
		s.index.RecordRequest(chunkdb.RequestRow{
			ID:         ev.ID,
			TS:         ev.At,
			Key:        ev.Key,
			CX:         ev.Coord.X,
			CY:         ev.Coord.Y,
			CZ:         ev.Coord.Z,
			Status:     ev.Status,
			Source:     ev.Source,
			DurationMS: ms,
		})
	}
}

func warmFromSnapshot(cache *chunkcache.Cache, path string) (int, int64, error) {
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return 0, 0, err
	}
	entries := make([]chunkcache.Entry, 0, len(snap.Entries))
	var size int64
	for _, e := range snap.Entries {
		entries = append(entries, chunkcache.Entry{
			Key:    e.Key,
			ETag:   e.ETag,
			Size:   e.Size,
			Data:   e.Data,
			Source: chunkcache.SourceStore,
		})
		size += int64(len(e.Data))
	}
	return cache.Warm(entries), size, nil
}

func writeSnapshot(cache *chunkcache.Cache, path string) (int, int64, error) {
	entries := cache.Entries()
	out := make([]snapshot.EntryV1, 0, len(entries))
	var size int64
	for _, e := range entries {
		out = append(out, snapshot.EntryV1{Key: e.Key, ETag: e.ETag, Size: e.Size, Data: e.Data})
		size += int64(len(e.Data))
	}
	if err := snapshot.WriteSnapshot(path, snapshot.New("server", out)); err != nil {
		return 0, 0, err
	}
	return len(out), size, nil
}
