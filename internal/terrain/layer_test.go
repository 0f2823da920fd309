package terrain

import (
	"testing"

	"voxelstream.ai/internal/terrain/noise"
)

// column writes a bottom-to-top stack into column (x, z) of g.
func column(g Grid, size, x, z int, stack ...Block) {
	for y, b := range stack {
		g[Index(x, y, z, size)] = b
	}
}

func readColumn(g Grid, size, x, z int) []Block {
	out := make([]Block, size)
	for y := 0; y < size; y++ {
		out[y] = g[Index(x, y, z, size)]
	}
	return out
}

func TestPaintLayer_EmptyGridUntouched(t *testing.T) {
	g := NewGrid(4, Air)
	stone := Stone
	if n := PaintLayer(g, 4, &stone, Grass, 3, LayoutXYZ, Contiguous); n != 0 {
		t.Fatalf("contiguous replaced=%d want=0", n)
	}
	if n := PaintLayer(g, 4, nil, Dirt, 3, LayoutXYZ, Any); n != 0 {
		t.Fatalf("any replaced=%d want=0", n)
	}
	if c := g.Count(Air); c != 64 {
		t.Fatalf("air=%d want=64", c)
	}
}

func TestPaintLayer_NonPositiveDepthSkips(t *testing.T) {
	g := NewGrid(4, Stone)
	stone := Stone
	for _, d := range []int{0, -2} {
		if n := PaintLayer(g, 4, &stone, Grass, d, LayoutXYZ, Contiguous); n != 0 {
			t.Fatalf("depth=%d replaced=%d want=0", d, n)
		}
	}
}

func TestPaintLayer_ContiguousStopsAtMismatch(t *testing.T) {
	const size = 4
	g := NewGrid(size, Air)
	column(g, size, 1, 2, Stone, Dirt, Stone, Stone)
	stone := Stone
	n := PaintLayer(g, size, &stone, Grass, 3, LayoutXYZ, Contiguous)
	if n != 2 {
		t.Fatalf("replaced=%d want=2", n)
	}
	got := readColumn(g, size, 1, 2)
	want := []Block{Stone, Dirt, Grass, Grass}
	for y := range want {
		if got[y] != want[y] {
			t.Fatalf("y=%d got=%s want=%s", y, got[y], want[y])
		}
	}
}

func TestPaintLayer_ContiguousStopsAtAir(t *testing.T) {
	const size = 4
	g := NewGrid(size, Air)
	column(g, size, 0, 0, Stone, Stone, Air, Stone)
	stone := Stone
	if n := PaintLayer(g, size, &stone, Grass, 3, LayoutXYZ, Contiguous); n != 1 {
		t.Fatalf("replaced=%d want=1", n)
	}
	if b := g[Index(0, 1, 0, size)]; b != Stone {
		t.Fatalf("below gap=%s want=STONE", b)
	}
}

func TestPaintLayer_AnyReachesPastGrass(t *testing.T) {
	const size = 4
	g := NewGrid(size, Stone)
	grass, dirt := Layer(g, size, Stone, 2, 3)
	if grass != 2*size*size {
		t.Fatalf("grass=%d want=%d", grass, 2*size*size)
	}
	if dirt != size*size {
		t.Fatalf("dirt=%d want=%d", dirt, size*size)
	}
	got := readColumn(g, size, 3, 1)
	want := []Block{Stone, Dirt, Grass, Grass}
	for y := range want {
		if got[y] != want[y] {
			t.Fatalf("y=%d got=%s want=%s", y, got[y], want[y])
		}
	}
}

func TestPaintLayer_AnyStepsOverAir(t *testing.T) {
	const size = 4
	g := NewGrid(size, Air)
	column(g, size, 2, 2, Stone, Stone, Air, Stone)
	if n := PaintLayer(g, size, nil, Dirt, 2, LayoutXYZ, Any); n != 2 {
		t.Fatalf("replaced=%d want=2", n)
	}
	got := readColumn(g, size, 2, 2)
	want := []Block{Stone, Dirt, Air, Dirt}
	for y := range want {
		if got[y] != want[y] {
			t.Fatalf("y=%d got=%s want=%s", y, got[y], want[y])
		}
	}
}

func TestPaintLayer_AnyCountsNonMatchingSolids(t *testing.T) {
	const size = 4
	g := NewGrid(size, Air)
	column(g, size, 0, 3, Stone, Stone, Dirt, Grass)
	stone := Stone
	// Two steps are used up by the grass and dirt cells on top.
	if n := PaintLayer(g, size, &stone, Dirt, 2, LayoutXYZ, Any); n != 0 {
		t.Fatalf("replaced=%d want=0", n)
	}
	if n := PaintLayer(g, size, &stone, Dirt, 3, LayoutXYZ, Any); n != 1 {
		t.Fatalf("replaced=%d want=1", n)
	}
}

func TestPaintLayer_LayoutXZY(t *testing.T) {
	const size = 4
	g := NewGrid(size, Stone)
	// Clear the top slice in xzy order.
	for z := 0; z < size; z++ {
		for x := 0; x < size; x++ {
			g[LayoutXZY.Index(x, size-1, z, size)] = Air
		}
	}
	stone := Stone
	if n := PaintLayer(g, size, &stone, Grass, 1, LayoutXZY, Contiguous); n != size*size {
		t.Fatalf("replaced=%d want=%d", n, size*size)
	}
	for z := 0; z < size; z++ {
		for x := 0; x < size; x++ {
			if b := g[LayoutXZY.Index(x, size-2, z, size)]; b != Grass {
				t.Fatalf("(%d,%d) top=%s want=GRASS", x, z, b)
			}
		}
	}
}

func TestLayer_FullyCarvedColumnUntouched(t *testing.T) {
	const size = 4
	g := NewGrid(size, Stone)
	for y := 0; y < size; y++ {
		g[Index(1, y, 1, size)] = Air
	}
	Layer(g, size, Stone, 2, 3)
	for y := 0; y < size; y++ {
		if b := g[Index(1, y, 1, size)]; b != Air {
			t.Fatalf("y=%d got=%s want=AIR", y, b)
		}
	}
}

func TestRelief_SurfaceModes(t *testing.T) {
	// Scale 0 samples the lattice origin, which is exactly 0.5, so the cut is at size/2.
	const size = 8
	n := noise.New(0.42)

	g := NewGrid(size, Stone)
	Relief(g, size, n, ReliefOptions{Mode: ReliefSurface, Fill: Air})
	if got := g.Count(Air); got != 3*size*size {
		t.Fatalf("surface air=%d want=%d", got, 3*size*size)
	}

	g = NewGrid(size, Stone)
	Relief(g, size, n, ReliefOptions{Mode: ReliefReverseSurface, Fill: Air})
	if got := g.Count(Air); got != 4*size*size {
		t.Fatalf("reverse air=%d want=%d", got, 4*size*size)
	}
	if b := g[Index(0, 4, 0, size)]; b != Stone {
		t.Fatalf("y=4 got=%s want=STONE", b)
	}

	g = NewGrid(size, Stone)
	Relief(g, size, nil, ReliefOptions{Mode: ReliefVolume, Threshold: -1, Fill: Air})
	if g.Count(Air) != 0 {
		t.Fatalf("nil noise must not carve")
	}
}
