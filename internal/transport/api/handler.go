// Package api serves chunk grids over HTTP.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"voxelstream.ai/internal/chunkcache"
	"voxelstream.ai/internal/terrain"
	"voxelstream.ai/internal/transport"
)

// CacheControl marks chunk responses as immutable for a year; a key never maps
// to different bytes.
const CacheControl = "public, max-age=31536000, s-maxage=31536000, immutable"

// Getter is the part of the chunk cache the handler needs.
type Getter interface {
	Get(ctx context.Context, p terrain.Params) (chunkcache.Entry, error)
}

type Options struct {
	Logger   *log.Logger
	Observer transport.Observer
	// Defaults fill missing query fields. Zero value means terrain.DefaultParams.
	Defaults *terrain.Params
}

type Stats struct {
	Requests    uint64 `json:"requests"`
	OK          uint64 `json:"ok"`
	NotModified uint64 `json:"not_modified"`
	Errors      uint64 `json:"errors"`
	BytesOut    uint64 `json:"bytes_out"`
}

type Handler struct {
	cache    Getter
	log      *log.Logger
	observer transport.Observer
	defaults terrain.Params

	requests    atomic.Uint64
	ok          atomic.Uint64
	notModified atomic.Uint64
	errors      atomic.Uint64
	bytesOut    atomic.Uint64
}

func NewHandler(cache Getter, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	def := terrain.DefaultParams()
	if opts.Defaults != nil {
		def = *opts.Defaults
	}
	return &Handler{
		cache:    cache,
		log:      logger,
		observer: opts.Observer,
		defaults: def,
	}
}

func (h *Handler) Stats() Stats {
	return Stats{
		Requests:    h.requests.Load(),
		OK:          h.ok.Load(),
		NotModified: h.notModified.Load(),
		Errors:      h.errors.Load(),
		BytesOut:    h.bytesOut.Load(),
	}
}

func (h *Handler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		rw.Header().Set("Allow", "GET, HEAD")
		writeError(rw, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	start := time.Now()
	h.requests.Add(1)

	p := ParseParams(r.URL.Query(), h.defaults)
	key := p.Key()
	etag := chunkcache.ETag(p)

	ev := transport.RequestEvent{
		ID:        uuid.NewString(),
		At:        start,
		Transport: transport.HTTP,
		Key:       key,
		Coord:     p.Coord,
		Size:      p.Size,
	}
	defer func() {
		ev.Duration = time.Since(start)
		if h.observer != nil {
			h.observer.ObserveRequest(ev)
		}
	}()
	rw.Header().Set("X-Request-Id", ev.ID)

	if MatchesETag(r.Header.Get("If-None-Match"), etag) {
		h.notModified.Add(1)
		rw.Header().Set("Cache-Control", CacheControl)
		rw.Header().Set("ETag", etag)
		rw.WriteHeader(http.StatusNotModified)
		ev.Status = http.StatusNotModified
		return
	}

	e, err := h.cache.Get(r.Context(), p)
	if err != nil {
		h.errors.Add(1)
		h.log.Printf("chunk %s: %v", p.Coord, err)
		writeError(rw, http.StatusInternalServerError, err.Error())
		ev.Status = http.StatusInternalServerError
		ev.Err = err.Error()
		return
	}

	hdr := rw.Header()
	hdr.Set("Content-Type", "application/octet-stream")
	hdr.Set("Cache-Control", CacheControl)
	hdr.Set("ETag", e.ETag)
	hdr.Set("X-Chunk-Size", strconv.Itoa(e.Size))
	hdr.Set("Content-Length", strconv.Itoa(len(e.Data)))
	rw.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = rw.Write(e.Data)
		h.bytesOut.Add(uint64(len(e.Data)))
		ev.Bytes = len(e.Data)
	}
	h.ok.Add(1)
	ev.Status = http.StatusOK
	ev.Source = string(e.Source)
}

// MatchesETag reports whether an If-None-Match header value names etag.
// A list of validators and the "*" wildcard are accepted.
func MatchesETag(header, etag string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	if header == "*" || header == etag {
		return true
	}
	for _, part := range strings.Split(header, ",") {
		if strings.TrimSpace(part) == etag {
			return true
		}
	}
	return false
}

// ParseParams reads the chunk query. Missing or malformed values take the
// default; size is clamped and base is pulled into the block range. Integers
// with a fractional part are truncated toward zero.
func ParseParams(q url.Values, def terrain.Params) terrain.Params {
	p := def
	p.Size = queryInt(q, "size", def.Size)
	if q.Has("seed") {
		p.Seed = q.Get("seed")
	}
	base := queryInt(q, "base", int(def.Base))
	switch {
	case base < 0:
		base = 0
	case base >= terrain.NumBlocks:
		base = terrain.NumBlocks - 1
	}
	p.Base = terrain.Block(base)
	p.Coord = terrain.ChunkCoord{
		X: queryInt(q, "cx", def.Coord.X),
		Y: queryInt(q, "cy", def.Coord.Y),
		Z: queryInt(q, "cz", def.Coord.Z),
	}
	p.SurfaceScale = queryFloat(q, "surfaceScale", def.SurfaceScale)
	p.CavesScale = queryFloat(q, "cavesScale", def.CavesScale)
	p.CavesThreshold = queryFloat(q, "cavesThreshold", def.CavesThreshold)
	p.GrassDepth = queryInt(q, "grassDepth", def.GrassDepth)
	p.DirtDepth = queryInt(q, "dirtDepth", def.DirtDepth)
	return p.Clamp()
}

func queryFloat(q url.Values, name string, def float64) float64 {
	s := strings.TrimSpace(q.Get(name))
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return f
}

func queryInt(q url.Values, name string, def int) int {
	f := queryFloat(q, name, float64(def))
	if f > math.MaxInt32 || f < math.MinInt32 {
		return def
	}
	return int(f)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(map[string]string{"error": msg})
}
