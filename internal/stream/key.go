package stream

import (
	"math"
	"strconv"
)

// Key names a surface chunk column; y is fixed to the surface layer.
type Key struct {
	CX int
	CZ int
}

func (k Key) String() string {
	return strconv.Itoa(k.CX) + "," + strconv.Itoa(k.CZ)
}

// Chebyshev is the larger of the per-axis distances between a and b.
func Chebyshev(a, b Key) int {
	dx := a.CX - b.CX
	if dx < 0 {
		dx = -dx
	}
	dz := a.CZ - b.CZ
	if dz < 0 {
		dz = -dz
	}
	if dx > dz {
		return dx
	}
	return dz
}

// AnchorFor rounds a world position to the chunk it sits over. Halves round up
// on both sides of zero, so -1.5 maps to -1.
func AnchorFor(worldX, worldZ float64, size int) Key {
	if size <= 0 {
		size = 1
	}
	s := float64(size)
	return Key{
		CX: int(math.Floor(worldX/s + 0.5)),
		CZ: int(math.Floor(worldZ/s + 0.5)),
	}
}

// Tracker turns a stream of viewpoint positions into anchor changes.
type Tracker struct {
	size int
	last Key
	set  bool
}

func NewTracker(size int) *Tracker {
	return &Tracker{size: size}
}

// Update reports the anchor for (x, z) and whether it differs from the last one.
// The first call always reports a change.
func (t *Tracker) Update(worldX, worldZ float64) (Key, bool) {
	k := AnchorFor(worldX, worldZ, t.size)
	if t.set && k == t.last {
		return k, false
	}
	t.last, t.set = k, true
	return k, true
}

func (t *Tracker) Anchor() (Key, bool) { return t.last, t.set }
