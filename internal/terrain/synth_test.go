package terrain

import (
	"bytes"
	"testing"
)

func exampleParams() Params {
	p := DefaultParams()
	p.Size = 4
	return p
}

func TestSynthesize_Deterministic(t *testing.T) {
	for _, c := range []ChunkCoord{{0, 0, 0}, {1, 0, -1}, {-7, 2, 13}} {
		p := DefaultParams().WithCoord(c)
		p.Size = 16
		a := Synthesize(p).Bytes()
		b := Synthesize(p).Bytes()
		if !bytes.Equal(a, b) {
			t.Fatalf("coord %s: grids differ between calls", c)
		}
	}
}

func TestSynthesize_SizeInvariant(t *testing.T) {
	for _, size := range []int{-3, 0, 3, 4, 5, 9, 32, 129, 1000} {
		p := DefaultParams()
		p.Size = size
		g := Synthesize(p)
		want := ClampSize(size)
		if len(g) != want*want*want {
			t.Fatalf("size=%d len=%d want=%d", size, len(g), want*want*want)
		}
		for i, b := range g {
			if !b.Valid() {
				t.Fatalf("size=%d cell %d holds invalid block %d", size, i, b)
			}
		}
	}
}

func TestSynthesize_ExampleScenario(t *testing.T) {
	p := exampleParams()
	a := Synthesize(p)
	if len(a) != 64 {
		t.Fatalf("len=%d want=64", len(a))
	}
	b := Synthesize(p)
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatalf("example grid not reproducible")
	}
}

func TestSynthesize_NoLayersWithZeroDepth(t *testing.T) {
	p := DefaultParams()
	p.Size = 24
	p.GrassDepth = 0
	p.DirtDepth = 0
	for _, c := range []ChunkCoord{{0, 0, 0}, {3, 0, 5}, {-2, 0, -9}} {
		g := Synthesize(p.WithCoord(c))
		for i, b := range g {
			if b != Air && b != Stone {
				t.Fatalf("coord %s cell %d=%s want AIR or STONE", c, i, b)
			}
		}
	}
}

func TestSynthesize_LayeringIsIdempotent(t *testing.T) {
	p := DefaultParams()
	p.Size = 24
	p.GrassDepth = 2
	p.DirtDepth = 4
	g := Synthesize(p.WithCoord(ChunkCoord{X: 2, Z: -1}))
	before := g.Bytes()

	grass, dirt := Layer(g, p.Size, p.Base, p.GrassDepth, p.DirtDepth)
	if grass != 0 || dirt != 0 {
		t.Fatalf("second layering replaced grass=%d dirt=%d want 0/0", grass, dirt)
	}
	if !bytes.Equal(before, g.Bytes()) {
		t.Fatalf("second layering changed the grid")
	}
}

func TestSynthesize_CoordinatesDecorrelate(t *testing.T) {
	p := DefaultParams()
	p.Size = 16
	a := Synthesize(p.WithCoord(ChunkCoord{0, 0, 0})).Bytes()
	b := Synthesize(p.WithCoord(ChunkCoord{1, 0, 0})).Bytes()
	c := Synthesize(p.WithCoord(ChunkCoord{0, 0, 1})).Bytes()
	if bytes.Equal(a, b) && bytes.Equal(a, c) {
		t.Fatalf("neighbouring chunks produced identical grids")
	}
}

func TestSynthesize_FullyCarvedChunkIsAir(t *testing.T) {
	p := DefaultParams()
	p.Size = 8
	// Every cave sample exceeds a negative threshold.
	p.CavesThreshold = -10
	g := Synthesize(p)
	if n := g.Count(Air); n != len(g) {
		t.Fatalf("air=%d want=%d", n, len(g))
	}
}

func TestNoiseSeeds_UnitRange(t *testing.T) {
	p := DefaultParams()
	for x := -3; x <= 3; x++ {
		s1, s2 := NoiseSeeds(p.WithCoord(ChunkCoord{X: x, Z: -x}))
		if s1 < 0 || s1 >= 1 || s2 < 0 || s2 >= 1 {
			t.Fatalf("x=%d seeds out of range: %v %v", x, s1, s2)
		}
	}
	a1, _ := NoiseSeeds(p)
	b1, _ := NoiseSeeds(p.WithCoord(ChunkCoord{X: 1}))
	if a1 == b1 {
		t.Fatalf("surface seed did not change with coordinate")
	}
}

func TestHash32_KnownValues(t *testing.T) {
	if got := Hash32(""); got != 2166136261 {
		t.Fatalf("Hash32(\"\")=%d want=2166136261", got)
	}
	if got := Hash32("a"); got != 0xe40c292c {
		t.Fatalf("Hash32(\"a\")=%#x want=0xe40c292c", got)
	}
}

func TestMix_ZeroIsBasis(t *testing.T) {
	if got := Mix(); got != 0x811c9dc5 {
		t.Fatalf("Mix()=%#x want=0x811c9dc5", got)
	}
	if got := Mix(0); got != 0x811c9dc5 {
		t.Fatalf("Mix(0)=%#x want=0x811c9dc5", got)
	}
	if Mix(-1) == Mix(1) {
		t.Fatalf("Mix(-1) collided with Mix(1)")
	}
}

func TestToUnitFloat(t *testing.T) {
	if v := ToUnitFloat(0x8000000); v != 0 {
		t.Fatalf("ToUnitFloat(0x8000000)=%v want=0", v)
	}
	if v := ToUnitFloat(0xffffffff); v >= 1 || v <= 0.99 {
		t.Fatalf("ToUnitFloat(max)=%v want just below 1", v)
	}
}
