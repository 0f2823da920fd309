package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"voxelstream.ai/internal/chunkcache"
	"voxelstream.ai/internal/persistence/bucket"
	"voxelstream.ai/internal/persistence/chunkdb"
	"voxelstream.ai/internal/transport/api"
	"voxelstream.ai/internal/transport/ws"
)

type server struct {
	cache   *chunkcache.Cache
	api     *api.Handler
	ws      *ws.Server
	backend chunkdb.Backend
	sink    *requestSink
	mirror  *bucket.Mirror
	dataDir string
	logger  *log.Logger

	enableAdmin bool
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.Handle("/api/chunk", s.api)
	mux.HandleFunc("/v1/ws", s.ws.Handler())

	if s.enableAdmin {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/stats", s.loopbackOnly(s.handleStats))
		mux.HandleFunc("/admin/v1/requests", s.loopbackOnly(s.handleRequests))
		mux.HandleFunc("/admin/v1/purge", s.loopbackOnly(s.handlePurge))
		mux.HandleFunc("/admin/v1/snapshot", s.loopbackOnly(s.handleSnapshot))
	}
	return mux
}

func (s *server) loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func (s *server) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	cs := s.cache.Stats()
	as := s.api.Stats()
	ss := s.ws.Stats()

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP voxelstream_cache_lookups_total Chunk lookups by the tier that answered.\n")
	fmt.Fprintf(rw, "# TYPE voxelstream_cache_lookups_total counter\n")
	fmt.Fprintf(rw, "voxelstream_cache_lookups_total{tier=%q} %d\n", "memory", cs.MemoryHits)
	fmt.Fprintf(rw, "voxelstream_cache_lookups_total{tier=%q} %d\n", "store", cs.StoreHits)
	fmt.Fprintf(rw, "voxelstream_cache_lookups_total{tier=%q} %d\n", "generated", cs.Misses)

	fmt.Fprintf(rw, "# HELP voxelstream_cache_shared_total Lookups that joined an in-progress generation.\n")
	fmt.Fprintf(rw, "# TYPE voxelstream_cache_shared_total counter\n")
	fmt.Fprintf(rw, "voxelstream_cache_shared_total %d\n", cs.Shared)

	fmt.Fprintf(rw, "# HELP voxelstream_cache_evictions_total Memory tier evictions.\n")
	fmt.Fprintf(rw, "# TYPE voxelstream_cache_evictions_total counter\n")
	fmt.Fprintf(rw, "voxelstream_cache_evictions_total %d\n", cs.Evictions)

	fmt.Fprintf(rw, "# HELP voxelstream_cache_errors_total Cache errors by kind.\n")
	fmt.Fprintf(rw, "# TYPE voxelstream_cache_errors_total counter\n")
	fmt.Fprintf(rw, "voxelstream_cache_errors_total{kind=%q} %d\n", "store", cs.StoreErrors)
	fmt.Fprintf(rw, "voxelstream_cache_errors_total{kind=%q} %d\n", "generate", cs.GenErrors)

	fmt.Fprintf(rw, "# HELP voxelstream_cache_entries Chunks held in memory.\n")
	fmt.Fprintf(rw, "# TYPE voxelstream_cache_entries gauge\n")
	fmt.Fprintf(rw, "voxelstream_cache_entries %d\n", cs.Entries)

	fmt.Fprintf(rw, "# HELP voxelstream_cache_bytes Grid bytes held in memory.\n")
	fmt.Fprintf(rw, "# TYPE voxelstream_cache_bytes gauge\n")
	fmt.Fprintf(rw, "voxelstream_cache_bytes %d\n", cs.Bytes)

	fmt.Fprintf(rw, "# HELP voxelstream_http_responses_total /api/chunk responses by status.\n")
	fmt.Fprintf(rw, "# TYPE voxelstream_http_responses_total counter\n")
	fmt.Fprintf(rw, "voxelstream_http_responses_total{code=%q} %d\n", "200", as.OK)
	fmt.Fprintf(rw, "voxelstream_http_responses_total{code=%q} %d\n", "304", as.NotModified)
	fmt.Fprintf(rw, "voxelstream_http_responses_total{code=%q} %d\n", "500", as.Errors)

	fmt.Fprintf(rw, "# HELP voxelstream_http_bytes_total Grid bytes written by /api/chunk.\n")
	fmt.Fprintf(rw, "# TYPE voxelstream_http_bytes_total counter\n")
	fmt.Fprintf(rw, "voxelstream_http_bytes_total %d\n", as.BytesOut)

	fmt.Fprintf(rw, "# HELP voxelstream_ws_sessions Open websocket sessions.\n")
	fmt.Fprintf(rw, "# TYPE voxelstream_ws_sessions gauge\n")
	fmt.Fprintf(rw, "voxelstream_ws_sessions %d\n", ss.Sessions)

	fmt.Fprintf(rw, "# HELP voxelstream_ws_chunks_total Chunks sent over websocket sessions.\n")
	fmt.Fprintf(rw, "# TYPE voxelstream_ws_chunks_total counter\n")
	fmt.Fprintf(rw, "voxelstream_ws_chunks_total %d\n", ss.Chunks)

	fmt.Fprintf(rw, "# HELP voxelstream_ws_errors_total ERROR replies sent over websocket sessions.\n")
	fmt.Fprintf(rw, "# TYPE voxelstream_ws_errors_total counter\n")
	fmt.Fprintf(rw, "voxelstream_ws_errors_total %d\n", ss.Errors)

	if s.sink != nil {
		fmt.Fprintf(rw, "# HELP voxelstream_request_log_failures_total Request log writes that failed.\n")
		fmt.Fprintf(rw, "# TYPE voxelstream_request_log_failures_total counter\n")
		fmt.Fprintf(rw, "voxelstream_request_log_failures_total %d\n", s.sink.logFailures.Load())
	}
	if s.mirror != nil {
		ms := s.mirror.Stats()
		fmt.Fprintf(rw, "# HELP voxelstream_mirror_queue_depth Files waiting for upload.\n")
		fmt.Fprintf(rw, "# TYPE voxelstream_mirror_queue_depth gauge\n")
		fmt.Fprintf(rw, "voxelstream_mirror_queue_depth %d\n", ms.QueueDepth)
		fmt.Fprintf(rw, "# HELP voxelstream_mirror_files_total Mirror outcomes by result.\n")
		fmt.Fprintf(rw, "# TYPE voxelstream_mirror_files_total counter\n")
		fmt.Fprintf(rw, "voxelstream_mirror_files_total{result=%q} %d\n", "uploaded", ms.Uploaded)
		fmt.Fprintf(rw, "voxelstream_mirror_files_total{result=%q} %d\n", "failed", ms.Failed)
		fmt.Fprintf(rw, "voxelstream_mirror_files_total{result=%q} %d\n", "dropped", ms.Dropped)
	}
}

func (s *server) handleStats(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	resp := struct {
		Cache chunkcache.Stats `json:"cache"`
		HTTP  api.Stats        `json:"http"`
		WS    ws.Stats         `json:"ws"`
	}{
		Cache: s.cache.Stats(),
		HTTP:  s.api.Stats(),
		WS:    s.ws.Stats(),
	}
	_ = json.NewEncoder(rw).Encode(resp)
}

func (s *server) handleRequests(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	if s.backend == nil {
		rw.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": "request index disabled"})
		return
	}
	limit := 100
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, 10000)
	}
	rows, err := s.backend.Requests(r.Context(), limit)
	if err != nil {
		rw.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
		return
	}
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "requests": rows})
}

func (s *server) handlePurge(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	before := s.cache.Stats().Entries
	rw.Header().Set("Content-Type", "application/json")
	if err := s.cache.Purge(ctx); err != nil {
		rw.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
		return
	}
	s.logger.Printf("admin purge: dropped %d memory entries", before)
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "dropped": before})
}

func (s *server) handleSnapshot(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := filepath.Join(s.dataDir, "snapshots", fmt.Sprintf("%d.snap.zst", time.Now().Unix()))
	n, size, err := writeSnapshot(s.cache, path)
	rw.Header().Set("Content-Type", "application/json")
	if err != nil {
		rw.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
		return
	}
	s.mirror.Enqueue(path)
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "path": path, "entries": n, "bytes": size})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
