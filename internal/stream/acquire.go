package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"voxelstream.ai/internal/terrain"
)

// Acquirer fetches the grid for p from somewhere other than this process.
type Acquirer interface {
	Acquire(ctx context.Context, p terrain.Params) (terrain.Grid, error)
}

// AcquireError is returned by the remote acquirers. Status is the HTTP status
// when one was received.
type AcquireError struct {
	Coord  terrain.ChunkCoord
	Status int
	Err    error
}

func (e *AcquireError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("acquire chunk %s: status %d: %v", e.Coord, e.Status, e.Err)
	}
	return fmt.Sprintf("acquire chunk %s: %v", e.Coord, e.Err)
}

func (e *AcquireError) Unwrap() error { return e.Err }

// LocalFallback synthesizes p in process. The dirt band depth is drawn from
// (seed, cx, cz) in [1, 4], so a fallback chunk is stable across reloads.
func LocalFallback(p terrain.Params) terrain.Grid {
	p.DirtDepth = FallbackDirtDepth(p.Seed, p.Coord.X, p.Coord.Z)
	return terrain.Synthesize(p)
}

func FallbackDirtDepth(seed string, cx, cz int) int {
	return 1 + int(terrain.Mix(int(terrain.Hash32(seed)), cx, cz)%4)
}

type validated struct {
	etag string
	grid terrain.Grid
}

// HTTPAcquirer fetches chunks from /api/chunk. It keeps the last body per URL
// with its ETag and revalidates with If-None-Match, reusing the body on 304.
type HTTPAcquirer struct {
	base   string
	client *http.Client

	mu         sync.Mutex
	validators map[string]validated
	// maxValidators bounds the local body cache; 0 disables it.
	maxValidators int
	order         []string
}

type HTTPOption func(*HTTPAcquirer)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(a *HTTPAcquirer) { a.client = c }
}

// WithValidatorCache sets how many bodies are kept for revalidation.
func WithValidatorCache(n int) HTTPOption {
	return func(a *HTTPAcquirer) { a.maxValidators = n }
}

// NewHTTPAcquirer targets baseURL, e.g. "http://127.0.0.1:8080".
func NewHTTPAcquirer(baseURL string, opts ...HTTPOption) *HTTPAcquirer {
	a := &HTTPAcquirer{
		base:          strings.TrimRight(baseURL, "/"),
		client:        &http.Client{Timeout: 10 * time.Second},
		validators:    map[string]validated{},
		maxValidators: 1024,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// ChunkURL renders every generation input into the query string.
func ChunkURL(base string, p terrain.Params) string {
	q := url.Values{}
	q.Set("size", strconv.Itoa(p.Size))
	q.Set("seed", p.Seed)
	q.Set("base", strconv.Itoa(int(p.Base)))
	q.Set("cx", strconv.Itoa(p.Coord.X))
	q.Set("cy", strconv.Itoa(p.Coord.Y))
	q.Set("cz", strconv.Itoa(p.Coord.Z))
	q.Set("surfaceScale", strconv.FormatFloat(p.SurfaceScale, 'g', -1, 64))
	q.Set("cavesScale", strconv.FormatFloat(p.CavesScale, 'g', -1, 64))
	q.Set("cavesThreshold", strconv.FormatFloat(p.CavesThreshold, 'g', -1, 64))
	q.Set("grassDepth", strconv.Itoa(p.GrassDepth))
	q.Set("dirtDepth", strconv.Itoa(p.DirtDepth))
	return base + "/api/chunk?" + q.Encode()
}

func (a *HTTPAcquirer) Acquire(ctx context.Context, p terrain.Params) (terrain.Grid, error) {
	p = p.Clamp()
	u := ChunkURL(a.base, p)
	fail := func(status int, err error) (terrain.Grid, error) {
		return nil, &AcquireError{Coord: p.Coord, Status: status, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fail(0, err)
	}
	prev, havePrev := a.lookup(u)
	if havePrev {
		req.Header.Set("If-None-Match", prev.etag)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		if !havePrev {
			return fail(resp.StatusCode, fmt.Errorf("304 without a cached body"))
		}
		return append(terrain.Grid(nil), prev.grid...), nil
	case http.StatusOK:
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fail(resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(msg))))
	}

	size := p.Size
	if hs := resp.Header.Get("X-Chunk-Size"); hs != "" && hs != strconv.Itoa(size) {
		return fail(resp.StatusCode, fmt.Errorf("chunk size %s, asked for %d", hs, size))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(size*size*size)+1))
	if err != nil {
		return fail(resp.StatusCode, err)
	}
	g, err := terrain.GridFromBytes(body, size)
	if err != nil {
		return fail(resp.StatusCode, err)
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		a.remember(u, validated{etag: etag, grid: append(terrain.Grid(nil), g...)})
	}
	return g, nil
}

func (a *HTTPAcquirer) lookup(u string) (validated, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.validators[u]
	return v, ok
}

func (a *HTTPAcquirer) remember(u string, v validated) {
	if a.maxValidators <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.validators[u]; !ok {
		a.order = append(a.order, u)
	}
	a.validators[u] = v
	for len(a.order) > a.maxValidators {
		delete(a.validators, a.order[0])
		a.order = a.order[1:]
	}
}
