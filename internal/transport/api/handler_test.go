package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"voxelstream.ai/internal/chunkcache"
	"voxelstream.ai/internal/terrain"
	"voxelstream.ai/internal/transport"
)

type eventLog struct {
	mu  sync.Mutex
	evs []transport.RequestEvent
}

func (l *eventLog) ObserveRequest(ev transport.RequestEvent) {
	l.mu.Lock()
	l.evs = append(l.evs, ev)
	l.mu.Unlock()
}

func (l *eventLog) last() transport.RequestEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.evs[len(l.evs)-1]
}

func newTestHandler(gen func(terrain.Params) terrain.Grid) (*Handler, *eventLog) {
	events := &eventLog{}
	c := chunkcache.New(chunkcache.Options{Generate: gen})
	return NewHandler(c, Options{Observer: events}), events
}

func get(h http.Handler, target string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandler_ServesChunk(t *testing.T) {
	h, events := newTestHandler(nil)
	rr := get(h, "/api/chunk?size=4&seed=seed&cx=0&cy=0&cz=0", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want=200", rr.Code)
	}
	if got := rr.Body.Len(); got != 64 {
		t.Fatalf("body=%d bytes want=64", got)
	}
	hdr := rr.Header()
	if ct := hdr.Get("Content-Type"); ct != "application/octet-stream" {
		t.Fatalf("Content-Type=%q", ct)
	}
	if cc := hdr.Get("Cache-Control"); cc != CacheControl {
		t.Fatalf("Cache-Control=%q", cc)
	}
	if hdr.Get("X-Chunk-Size") != "4" {
		t.Fatalf("X-Chunk-Size=%q want=4", hdr.Get("X-Chunk-Size"))
	}
	if hdr.Get("X-Request-Id") == "" {
		t.Fatalf("missing X-Request-Id")
	}
	p := terrain.DefaultParams()
	p.Size = 4
	if etag := hdr.Get("ETag"); etag != chunkcache.ETag(p) {
		t.Fatalf("ETag=%q want=%q", etag, chunkcache.ETag(p))
	}
	if !bytes.Equal(rr.Body.Bytes(), terrain.Synthesize(p).Bytes()) {
		t.Fatalf("body does not match synthesized grid")
	}

	ev := events.last()
	if ev.Status != http.StatusOK || ev.Bytes != 64 || ev.Transport != transport.HTTP {
		t.Fatalf("event=%+v", ev)
	}
	if ev.Source != string(chunkcache.SourceGenerated) {
		t.Fatalf("source=%q want=generated", ev.Source)
	}

	get(h, "/api/chunk?size=4", nil)
	if ev := events.last(); ev.Source != string(chunkcache.SourceMemory) {
		t.Fatalf("second source=%q want=memory", ev.Source)
	}
}

func TestHandler_NotModifiedSkipsGeneration(t *testing.T) {
	calls := 0
	h, _ := newTestHandler(func(p terrain.Params) terrain.Grid {
		calls++
		return terrain.Synthesize(p)
	})
	p := terrain.DefaultParams()
	p.Size = 4
	p.Coord = terrain.ChunkCoord{X: 3, Z: -2}
	etag := chunkcache.ETag(p)

	rr := get(h, "/api/chunk?size=4&cx=3&cz=-2", map[string]string{"If-None-Match": etag})
	if rr.Code != http.StatusNotModified {
		t.Fatalf("status=%d want=304", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Fatalf("304 carried a body of %d bytes", rr.Body.Len())
	}
	if rr.Header().Get("ETag") != etag || rr.Header().Get("Cache-Control") != CacheControl {
		t.Fatalf("304 headers=%v", rr.Header())
	}
	if calls != 0 {
		t.Fatalf("generator ran %d times on a 304", calls)
	}
	if st := h.Stats(); st.NotModified != 1 || st.OK != 0 {
		t.Fatalf("stats=%+v", st)
	}

	rr = get(h, "/api/chunk?size=4&cx=3&cz=-2", map[string]string{"If-None-Match": `W/"0-4"`})
	if rr.Code != http.StatusOK {
		t.Fatalf("stale validator status=%d want=200", rr.Code)
	}
}

func TestHandler_GenerationFailureIs500(t *testing.T) {
	h, events := newTestHandler(func(terrain.Params) terrain.Grid {
		panic("boom")
	})
	rr := get(h, "/api/chunk?size=4", nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d want=500", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type=%q want=application/json", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["error"] == "" {
		t.Fatalf("error body missing message: %s", rr.Body.String())
	}
	if ev := events.last(); ev.Status != http.StatusInternalServerError || ev.Err == "" {
		t.Fatalf("event=%+v", ev)
	}
}

func TestHandler_ClampsSize(t *testing.T) {
	h, _ := newTestHandler(nil)
	rr := get(h, "/api/chunk?size=1", nil)
	if rr.Code != http.StatusOK || rr.Body.Len() != 64 {
		t.Fatalf("size=1 status=%d len=%d want 200/64", rr.Code, rr.Body.Len())
	}
	if rr.Header().Get("X-Chunk-Size") != "4" {
		t.Fatalf("X-Chunk-Size=%q want=4", rr.Header().Get("X-Chunk-Size"))
	}
}

func TestHandler_RejectsPost(t *testing.T) {
	h, _ := newTestHandler(nil)
	req := httptest.NewRequest(http.MethodPost, "/api/chunk", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d want=405", rr.Code)
	}
}

func TestParseParams(t *testing.T) {
	def := terrain.DefaultParams()
	cases := []struct {
		name  string
		query string
		check func(terrain.Params) bool
	}{
		{"empty", "", func(p terrain.Params) bool { return p == def }},
		{"malformed size", "size=abc", func(p terrain.Params) bool { return p.Size == def.Size }},
		{"nan threshold", "cavesThreshold=NaN", func(p terrain.Params) bool { return p.CavesThreshold == def.CavesThreshold }},
		{"inf scale", "surfaceScale=Infinity", func(p terrain.Params) bool { return p.SurfaceScale == def.SurfaceScale }},
		{"fraction truncates", "cx=2.9&cz=-2.9", func(p terrain.Params) bool { return p.Coord.X == 2 && p.Coord.Z == -2 }},
		{"size clamp", "size=1000", func(p terrain.Params) bool { return p.Size == terrain.MaxSize }},
		{"base high", "base=99", func(p terrain.Params) bool { return p.Base == terrain.Gizmos }},
		{"base low", "base=-3", func(p terrain.Params) bool { return p.Base == terrain.Air }},
		{"empty seed kept", "seed=", func(p terrain.Params) bool { return p.Seed == "" }},
		{"floats", "surfaceScale=0.1&cavesScale=0.2&cavesThreshold=0.9", func(p terrain.Params) bool {
			return p.SurfaceScale == 0.1 && p.CavesScale == 0.2 && p.CavesThreshold == 0.9
		}},
		{"depths", "grassDepth=0&dirtDepth=5", func(p terrain.Params) bool { return p.GrassDepth == 0 && p.DirtDepth == 5 }},
	}
	for _, tc := range cases {
		q, err := url.ParseQuery(tc.query)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if p := ParseParams(q, def); !tc.check(p) {
			t.Fatalf("%s: got %+v", tc.name, p)
		}
	}
}

func TestMatchesETag(t *testing.T) {
	const etag = `W/"abc-4"`
	for _, hdr := range []string{etag, "*", `"x", ` + etag, " " + etag + " "} {
		if !MatchesETag(hdr, etag) {
			t.Fatalf("MatchesETag(%q) = false", hdr)
		}
	}
	for _, hdr := range []string{"", `W/"abc-8"`, `"abc-4"`} {
		if MatchesETag(hdr, etag) {
			t.Fatalf("MatchesETag(%q) = true", hdr)
		}
	}
}
