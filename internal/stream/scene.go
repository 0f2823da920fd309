package stream

import (
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"voxelstream.ai/internal/instancing"
)

// Drawable is a compiled chunk placed in the world.
type Drawable struct {
	Key        Key
	Position   mgl32.Vec3
	Chunk      *instancing.Chunk
	Billboards *instancing.Billboards
	// Fallback is set when the grid was synthesized locally.
	Fallback bool
}

// Bounds is the world-space box of the chunk.
func (d *Drawable) Bounds() instancing.AABB {
	return d.Chunk.Bounds().Translate(d.Position)
}

// Release drops the instance buffers.
func (d *Drawable) Release() {
	d.Chunk = nil
	d.Billboards = nil
}

// Scene is the rendering side. Calls come from the manager's control goroutine.
type Scene interface {
	Attach(k Key, d *Drawable)
	Detach(k Key, d *Drawable)
}

// MemoryScene is a headless Scene that only tracks what is attached.
type MemoryScene struct {
	mu       sync.Mutex
	attached map[Key]*Drawable
	attaches int
	detaches int
}

func NewMemoryScene() *MemoryScene {
	return &MemoryScene{attached: map[Key]*Drawable{}}
}

func (s *MemoryScene) Attach(k Key, d *Drawable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached[k] = d
	s.attaches++
}

func (s *MemoryScene) Detach(k Key, d *Drawable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.attached[k]; ok && cur == d {
		delete(s.attached, k)
	}
	s.detaches++
}

func (s *MemoryScene) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attached)
}

func (s *MemoryScene) Get(k Key) (*Drawable, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.attached[k]
	return d, ok
}

// Keys returns the attached keys sorted by z then x.
func (s *MemoryScene) Keys() []Key {
	s.mu.Lock()
	out := make([]Key, 0, len(s.attached))
	for k := range s.attached {
		out = append(out, k)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CZ != out[j].CZ {
			return out[i].CZ < out[j].CZ
		}
		return out[i].CX < out[j].CX
	})
	return out
}

// Instances sums the cube instances across attached chunks.
func (s *MemoryScene) Instances() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.attached {
		if d.Chunk != nil {
			n += d.Chunk.Total()
		}
	}
	return n
}

// Counters returns the number of Attach and Detach calls seen.
func (s *MemoryScene) Counters() (attaches, detaches int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attaches, s.detaches
}
