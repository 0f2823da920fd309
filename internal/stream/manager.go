// Package stream keeps the chunks around a moving anchor loaded.
//
// The Manager's record map is owned by one control goroutine: EnsureAround,
// Poll, Prune, Run and Close must all be called from it. Acquisition runs on a
// bounded worker pool and reports back through a completion channel, so
// workers never touch the records.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"

	"github.com/alitto/pond/v2"
	"github.com/go-gl/mathgl/mgl32"

	"voxelstream.ai/internal/instancing"
	"voxelstream.ai/internal/terrain"
)

type state uint8

const (
	inFlight state = iota + 1
	loaded
)

type record struct {
	state    state
	drawable *Drawable
}

type completion struct {
	key      Key
	drawable *Drawable
	err      error
}

type Config struct {
	// Params are the generation inputs for every chunk; Coord is overwritten.
	Params terrain.Params
	// Radius is the Chebyshev view radius R. Chunks past R+1 are pruned.
	Radius int
	// Workers bounds concurrent acquisitions.
	Workers int
}

type Stats struct {
	Loaded    int    `json:"loaded"`
	InFlight  int    `json:"in_flight"`
	Requested uint64 `json:"requested"`
	Remote    uint64 `json:"remote"`
	Fallbacks uint64 `json:"fallbacks"`
	Failed    uint64 `json:"failed"`
	Pruned    uint64 `json:"pruned"`
	Dropped   uint64 `json:"dropped"`
}

type Option func(*Manager)

func WithLogger(l *log.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithFallback replaces LocalFallback. A nil fallback disables it, so failed
// acquisitions leave the chunk unloaded until the next EnsureAround.
func WithFallback(fn func(terrain.Params) terrain.Grid) Option {
	return func(m *Manager) { m.fallback = fn }
}

// WithRegistry resolves block materials while compiling.
func WithRegistry(reg *instancing.BlockRegistry) Option {
	return func(m *Manager) { m.registry = reg }
}

// WithBillboards moves the given detail blocks into a billboard layer.
func WithBillboards(detail []terrain.Block, opts instancing.BillboardOptions) Option {
	return func(m *Manager) {
		m.detail = detail
		m.billboardOpts = opts
	}
}

type Manager struct {
	cfg      Config
	acq      Acquirer
	scene    Scene
	log      *log.Logger
	fallback func(terrain.Params) terrain.Grid
	registry *instancing.BlockRegistry

	detail        []terrain.Block
	billboardOpts instancing.BillboardOptions

	pool   pond.Pool
	done   chan completion
	ctx    context.Context
	cancel context.CancelFunc
	closed bool

	records map[Key]*record

	loaded    atomic.Int64
	inflight  atomic.Int64
	requested atomic.Uint64
	remote    atomic.Uint64
	fallbacks atomic.Uint64
	failed    atomic.Uint64
	pruned    atomic.Uint64
	dropped   atomic.Uint64
}

func NewManager(cfg Config, acq Acquirer, scene Scene, opts ...Option) *Manager {
	cfg.Params = cfg.Params.Clamp()
	if cfg.Radius < 0 {
		cfg.Radius = 0
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	side := 2*cfg.Radius + 1
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		acq:      acq,
		scene:    scene,
		log:      log.New(io.Discard, "", 0),
		fallback: LocalFallback,
		pool:     pond.NewPool(cfg.Workers),
		done:     make(chan completion, side*side),
		ctx:      ctx,
		cancel:   cancel,
		records:  map[Key]*record{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) Config() Config { return m.cfg }

// EnsureAround starts acquisition for every key within the radius of (ax, az)
// that is neither loaded nor in flight. It returns how many were started.
func (m *Manager) EnsureAround(ctx context.Context, ax, az int) int {
	if m.closed {
		return 0
	}
	r := m.cfg.Radius
	started := 0
	for dz := -r; dz <= r; dz++ {
		for dx := -r; dx <= r; dx++ {
			k := Key{CX: ax + dx, CZ: az + dz}
			if _, ok := m.records[k]; ok {
				continue
			}
			m.records[k] = &record{state: inFlight}
			m.inflight.Add(1)
			m.requested.Add(1)
			started++
			m.pool.Submit(func() { m.load(ctx, k) })
		}
	}
	return started
}

// load runs on a pool worker.
func (m *Manager) load(ctx context.Context, k Key) {
	if ctx.Err() != nil || m.ctx.Err() != nil {
		m.finish(completion{key: k, err: context.Canceled})
		return
	}
	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	d, err := m.build(actx, k)
	m.finish(completion{key: k, drawable: d, err: err})
}

func (m *Manager) finish(c completion) {
	select {
	case m.done <- c:
	case <-m.ctx.Done():
	}
}

func (m *Manager) build(ctx context.Context, k Key) (d *Drawable, err error) {
	defer func() {
		if r := recover(); r != nil {
			d, err = nil, fmt.Errorf("chunk %s: panic: %v", k, r)
		}
	}()

	p := m.cfg.Params.WithCoord(terrain.ChunkCoord{X: k.CX, Z: k.CZ})
	fallback := false
	var grid terrain.Grid
	if m.acq != nil {
		grid, err = m.acq.Acquire(ctx, p)
	} else {
		err = errors.New("no acquirer")
	}
	if err != nil {
		// A cancelled load is discarded, so skip the fallback work.
		if m.fallback == nil || ctx.Err() != nil {
			return nil, err
		}
		m.log.Printf("chunk %s: %v; synthesizing locally", k, err)
		grid, fallback = m.fallback(p), true
	}

	var bb *instancing.Billboards
	if len(m.detail) > 0 {
		bb = instancing.ExtractBillboards(grid, p.Size, m.detail, m.billboardOpts)
	}
	var chunk *instancing.Chunk
	if m.registry != nil {
		chunk, err = instancing.CompileWithRegistry(grid, p.Size, m.registry)
	} else {
		chunk, err = instancing.Compile(grid, p.Size)
	}
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", k, err)
	}
	if fallback {
		m.fallbacks.Add(1)
	} else {
		m.remote.Add(1)
	}
	size := float32(p.Size)
	return &Drawable{
		Key:        k,
		Position:   mgl32.Vec3{float32(k.CX) * size, 0, float32(k.CZ) * size},
		Chunk:      chunk,
		Billboards: bb,
		Fallback:   fallback,
	}, nil
}

// Poll applies every completion that is ready without blocking.
func (m *Manager) Poll() int {
	n := 0
	for {
		select {
		case c := <-m.done:
			m.apply(c)
			n++
		default:
			return n
		}
	}
}

func (m *Manager) apply(c completion) {
	if m.closed {
		m.dropped.Add(1)
		return
	}
	rec, ok := m.records[c.key]
	if !ok || rec.state != inFlight {
		m.dropped.Add(1)
		return
	}
	m.inflight.Add(-1)
	if c.drawable == nil {
		m.failed.Add(1)
		m.log.Printf("chunk %s failed: %v", c.key, c.err)
		delete(m.records, c.key)
		return
	}
	rec.state = loaded
	rec.drawable = c.drawable
	m.loaded.Add(1)
	if m.scene != nil {
		m.scene.Attach(c.key, c.drawable)
	}
}

// Prune detaches loaded chunks farther than R+1 from (ax, az). In-flight
// chunks are left alone and pruned once they have loaded.
func (m *Manager) Prune(ax, az int) int {
	anchor := Key{CX: ax, CZ: az}
	limit := m.cfg.Radius + 1
	n := 0
	for k, rec := range m.records {
		if rec.state != loaded || Chebyshev(k, anchor) <= limit {
			continue
		}
		m.unload(k, rec)
		n++
	}
	m.pruned.Add(uint64(n))
	return n
}

func (m *Manager) unload(k Key, rec *record) {
	if m.scene != nil {
		m.scene.Detach(k, rec.drawable)
	}
	rec.drawable.Release()
	delete(m.records, k)
	m.loaded.Add(-1)
}

// Run drives the manager from anchor updates until ctx ends. After anchors is
// closed it keeps applying completions.
func (m *Manager) Run(ctx context.Context, anchors <-chan Key) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a, ok := <-anchors:
			if !ok {
				anchors = nil
				continue
			}
			m.EnsureAround(ctx, a.CX, a.CZ)
			m.Prune(a.CX, a.CZ)
		case c := <-m.done:
			m.apply(c)
		}
	}
}

// State reports whether k is loaded or in flight.
func (m *Manager) State(k Key) (isLoaded, isInFlight bool) {
	rec, ok := m.records[k]
	if !ok {
		return false, false
	}
	return rec.state == loaded, rec.state == inFlight
}

func (m *Manager) Stats() Stats {
	return Stats{
		Loaded:    int(m.loaded.Load()),
		InFlight:  int(m.inflight.Load()),
		Requested: m.requested.Load(),
		Remote:    m.remote.Load(),
		Fallbacks: m.fallbacks.Load(),
		Failed:    m.failed.Load(),
		Pruned:    m.pruned.Load(),
		Dropped:   m.dropped.Load(),
	}
}

// Close detaches every loaded chunk, cancels acquisitions and waits for the
// workers. Completions that arrive afterwards are dropped.
func (m *Manager) Close() {
	if m.closed {
		return
	}
	m.closed = true
	m.cancel()
	for k, rec := range m.records {
		if rec.state == loaded {
			m.unload(k, rec)
		} else {
			delete(m.records, k)
			m.inflight.Add(-1)
		}
	}
	m.pool.StopAndWait()
}
