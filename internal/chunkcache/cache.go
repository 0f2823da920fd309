// Package chunkcache memoizes synthesized chunk grids by their canonical
// parameter key. Keys are derived from every generation input, so an entry is
// never stale and only an explicit Purge removes it.
package chunkcache

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"voxelstream.ai/internal/terrain"
)

type Source string

const (
	SourceMemory    Source = "memory"
	SourceStore     Source = "store"
	SourceGenerated Source = "generated"
)

// Store is the durable tier behind the in-memory map.
type Store interface {
	// Load returns (nil, false, nil) when key is absent.
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, size int, etag string, grid []byte) error
	Purge(ctx context.Context) error
	Close() error
}

// Entry is one cached chunk. Data is shared between callers and must not be
// modified.
type Entry struct {
	Key    string
	ETag   string
	Size   int
	Data   []byte
	Source Source
}

type Options struct {
	// MaxEntries bounds the memory tier; 0 means unbounded. Evicted keys are
	// reloaded from the store or regenerated, which yields the same bytes.
	MaxEntries int
	Store      Store
	Logger     *log.Logger

	// Generate replaces terrain.Synthesize. Tests use it to inject failures.
	Generate func(terrain.Params) terrain.Grid
}

type Stats struct {
	MemoryHits  uint64 `json:"memory_hits"`
	StoreHits   uint64 `json:"store_hits"`
	Misses      uint64 `json:"misses"`
	Shared      uint64 `json:"shared"`
	Evictions   uint64 `json:"evictions"`
	StoreErrors uint64 `json:"store_errors"`
	GenErrors   uint64 `json:"gen_errors"`
	Entries     int    `json:"entries"`
	Bytes       int64  `json:"bytes"`
}

type Cache struct {
	store    Store
	logger   *log.Logger
	generate func(terrain.Params) terrain.Grid
	limit    int

	group singleflight.Group

	mu    sync.RWMutex
	byKey map[string]Entry
	order []string
	bytes int64

	memHits     atomic.Uint64
	storeHits   atomic.Uint64
	misses      atomic.Uint64
	shared      atomic.Uint64
	evictions   atomic.Uint64
	storeErrors atomic.Uint64
	genErrors   atomic.Uint64
}

func New(opts Options) *Cache {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	gen := opts.Generate
	if gen == nil {
		gen = terrain.Synthesize
	}
	limit := opts.MaxEntries
	if limit < 0 {
		limit = 0
	}
	return &Cache{
		store:    opts.Store,
		logger:   logger,
		generate: gen,
		limit:    limit,
		byKey:    map[string]Entry{},
	}
}

// ETag is the weak validator for p: the FNV hash of the canonical key plus the
// grid size.
func ETag(p terrain.Params) string {
	p = p.Clamp()
	return etagFor(p.Key(), p.Size)
}

func etagFor(key string, size int) string {
	return `W/"` + strconv.FormatUint(uint64(terrain.Hash32(key)), 16) + "-" + strconv.Itoa(size) + `"`
}

// Get returns the grid bytes for p, generating them at most once per key across
// concurrent callers.
func (c *Cache) Get(ctx context.Context, p terrain.Params) (Entry, error) {
	p = p.Clamp()
	key := p.Key()

	if e, ok := c.lookup(key); ok {
		c.memHits.Add(1)
		e.Source = SourceMemory
		return e, nil
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		if e, ok := c.lookup(key); ok {
			e.Source = SourceMemory
			return e, nil
		}
		return c.fill(ctx, p, key)
	})
	if err != nil {
		return Entry{}, err
	}
	if shared {
		c.shared.Add(1)
	}
	return v.(Entry), nil
}

func (c *Cache) fill(ctx context.Context, p terrain.Params, key string) (Entry, error) {
	etag := etagFor(key, p.Size)
	want := p.Size * p.Size * p.Size

	if c.store != nil {
		data, ok, err := c.store.Load(ctx, key)
		switch {
		case err != nil:
			c.storeErrors.Add(1)
			c.logger.Printf("chunkcache: store load %s: %v", key, err)
		case ok && len(data) == want:
			c.storeHits.Add(1)
			e := Entry{Key: key, ETag: etag, Size: p.Size, Data: data, Source: SourceStore}
			c.insert(e)
			return e, nil
		case ok:
			c.storeErrors.Add(1)
			c.logger.Printf("chunkcache: store entry %s has %d bytes want %d; regenerating", key, len(data), want)
		}
	}

	c.misses.Add(1)
	data, err := c.synthesize(p)
	if err != nil {
		c.genErrors.Add(1)
		return Entry{}, err
	}
	if len(data) != want {
		c.genErrors.Add(1)
		return Entry{}, fmt.Errorf("chunkcache: generator returned %d bytes want %d", len(data), want)
	}
	e := Entry{Key: key, ETag: etag, Size: p.Size, Data: data, Source: SourceGenerated}
	if c.store != nil {
		if err := c.store.Save(ctx, key, p.Size, etag, data); err != nil {
			c.storeErrors.Add(1)
			c.logger.Printf("chunkcache: store save %s: %v", key, err)
		}
	}
	c.insert(e)
	return e, nil
}

func (c *Cache) synthesize(p terrain.Params) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("chunkcache: generate %s: %v", p.Coord, r)
		}
	}()
	return c.generate(p).Bytes(), nil
}

func (c *Cache) lookup(key string) (Entry, bool) {
	c.mu.RLock()
	e, ok := c.byKey[key]
	c.mu.RUnlock()
	return e, ok
}

func (c *Cache) insert(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byKey[e.Key]; ok {
		return
	}
	e.Source = ""
	c.byKey[e.Key] = e
	c.order = append(c.order, e.Key)
	c.bytes += int64(len(e.Data))
	for c.limit > 0 && len(c.order) > c.limit {
		old := c.order[0]
		c.order = c.order[1:]
		if ev, ok := c.byKey[old]; ok {
			c.bytes -= int64(len(ev.Data))
			delete(c.byKey, old)
			c.evictions.Add(1)
		}
	}
}

// Warm inserts previously computed entries, e.g. from a snapshot. Entries whose
// ETag or length does not match their key are skipped.
func (c *Cache) Warm(entries []Entry) int {
	n := 0
	for _, e := range entries {
		if e.Size <= 0 || len(e.Data) != e.Size*e.Size*e.Size {
			continue
		}
		if e.ETag != etagFor(e.Key, e.Size) {
			continue
		}
		c.insert(e)
		n++
	}
	return n
}

// Entries returns the memory tier in insertion order.
func (c *Cache) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.order))
	for _, k := range c.order {
		if e, ok := c.byKey[k]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Purge drops every memory entry and clears the durable tier.
func (c *Cache) Purge(ctx context.Context) error {
	c.mu.Lock()
	c.byKey = map[string]Entry{}
	c.order = nil
	c.bytes = 0
	c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	if err := c.store.Purge(ctx); err != nil {
		return fmt.Errorf("chunkcache: purge store: %w", err)
	}
	return nil
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	entries, bytes := len(c.byKey), c.bytes
	c.mu.RUnlock()
	return Stats{
		MemoryHits:  c.memHits.Load(),
		StoreHits:   c.storeHits.Load(),
		Misses:      c.misses.Load(),
		Shared:      c.shared.Load(),
		Evictions:   c.evictions.Load(),
		StoreErrors: c.storeErrors.Load(),
		GenErrors:   c.genErrors.Load(),
		Entries:     entries,
		Bytes:       bytes,
	}
}

// Close releases the durable tier.
func (c *Cache) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}
