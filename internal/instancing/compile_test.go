package instancing

import (
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"voxelstream.ai/internal/terrain"
)

func TestCompile_InstanceCountConservation(t *testing.T) {
	for _, c := range []terrain.ChunkCoord{{X: 0, Y: 0, Z: 0}, {X: 4, Y: 0, Z: -3}} {
		p := terrain.DefaultParams().WithCoord(c)
		p.Size = 16
		g := terrain.Synthesize(p)
		ch, err := Compile(g, p.Size)
		if err != nil {
			t.Fatalf("Compile: %v", err)
		}
		solid := len(g) - g.Count(terrain.Air)
		if ch.Total() != solid {
			t.Fatalf("coord %s total=%d want=%d", c, ch.Total(), solid)
		}
		counts, err := CountBlocks(g)
		if err != nil {
			t.Fatalf("CountBlocks: %v", err)
		}
		if counts.Solid() != solid {
			t.Fatalf("counts.Solid=%d want=%d", counts.Solid(), solid)
		}
		for _, b := range terrain.Blocks()[1:] {
			if got := ch.Batch(b).Len(); got != counts[b] {
				t.Fatalf("%s len=%d want=%d", b, got, counts[b])
			}
		}
	}
}

func TestCompile_EmptyBatchesKeepCapacity(t *testing.T) {
	g := terrain.NewGrid(4, terrain.Air)
	ch, err := Compile(g, 4)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if ch.Total() != 0 {
		t.Fatalf("total=%d want=0", ch.Total())
	}
	if ch.Batch(terrain.Air) != nil {
		t.Fatalf("air batch should be nil")
	}
	for _, b := range terrain.Blocks()[1:] {
		if c := ch.Batch(b).Cap(); c < 1 {
			t.Fatalf("%s cap=%d want>=1", b, c)
		}
	}
}

func TestCompile_CenteredPositionsInGridOrder(t *testing.T) {
	const size = 4
	g := terrain.NewGrid(size, terrain.Air)
	g[terrain.Index(0, 0, 0, size)] = terrain.Stone
	g[terrain.Index(3, 0, 0, size)] = terrain.Stone
	g[terrain.Index(1, 2, 3, size)] = terrain.Stone
	g[terrain.Index(2, 2, 2, size)] = terrain.Dirt

	ch, err := Compile(g, size)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	stone := ch.Batch(terrain.Stone)
	if stone.Len() != 3 {
		t.Fatalf("stone len=%d want=3", stone.Len())
	}
	want := []mgl32.Vec3{{-1.5, -1.5, -1.5}, {1.5, -1.5, -1.5}, {-0.5, 0.5, 1.5}}
	for i, w := range want {
		if got := stone.Transforms[i].Col(3).Vec3(); !got.ApproxEqual(w) {
			t.Fatalf("stone[%d]=%v want=%v", i, got, w)
		}
	}
	if got := ch.Batch(terrain.Dirt).Transforms[0].Col(3).Vec3(); !got.ApproxEqual(mgl32.Vec3{0.5, 0.5, 0.5}) {
		t.Fatalf("dirt[0]=%v", got)
	}
}

func TestCompile_RejectsWrongLength(t *testing.T) {
	if _, err := Compile(make(terrain.Grid, 10), 4); err == nil {
		t.Fatalf("expected error for short grid")
	}
}

func TestCompile_RejectsUnknownBlockID(t *testing.T) {
	g := terrain.NewGrid(4, terrain.Stone)
	g[terrain.Index(1, 2, 3, 4)] = terrain.Block(200)
	ch, err := Compile(g, 4)
	if err == nil {
		t.Fatalf("expected error, got total=%d", ch.Total())
	}
	if !strings.Contains(err.Error(), "invalid block id 200") {
		t.Fatalf("err=%v", err)
	}
	if _, err := CountBlocks(g); err == nil {
		t.Fatalf("CountBlocks accepted id 200")
	}
}

func TestCompileWithRegistry(t *testing.T) {
	g := terrain.NewGrid(4, terrain.Stone)
	ch, err := CompileWithRegistry(g, 4, NewDefaultRegistry())
	if err != nil {
		t.Fatalf("CompileWithRegistry: %v", err)
	}
	if name := ch.Batch(terrain.Stone).Material.Name; name != "Stone" {
		t.Fatalf("stone material=%q want=Stone", name)
	}

	partial := NewBlockRegistry()
	partial.Register(terrain.Stone, Material{Name: "Stone"})
	if _, err := CompileWithRegistry(g, 4, partial); err == nil {
		t.Fatalf("expected missing material error")
	}
}

func TestRegistry_AllMaterialsInBlockOrder(t *testing.T) {
	r := NewDefaultRegistry()
	all := r.AllMaterials()
	if len(all) != terrain.NumBlocks-1 {
		t.Fatalf("materials=%d want=%d", len(all), terrain.NumBlocks-1)
	}
	if all[0].Name != "Grass" || all[len(all)-1].Name != "Gizmos" {
		t.Fatalf("unexpected order: first=%q last=%q", all[0].Name, all[len(all)-1].Name)
	}
}

func TestChunk_Bounds(t *testing.T) {
	ch := &Chunk{Size: 8}
	b := ch.Bounds()
	if !b.Contains(mgl32.Vec3{3.5, -3.5, 0}) {
		t.Fatalf("bounds should contain an inner voxel centre")
	}
	moved := b.Translate(mgl32.Vec3{16, 0, 0})
	if moved.Contains(mgl32.Vec3{0, 0, 0}) {
		t.Fatalf("translated bounds should not contain origin")
	}
	if moved.Min.X() != 12 || moved.Max.X() != 20 {
		t.Fatalf("moved x range=[%v,%v] want=[12,20]", moved.Min.X(), moved.Max.X())
	}
}

func TestExtractBillboards(t *testing.T) {
	const size = 4
	g := terrain.NewGrid(size, terrain.Air)
	for x := 0; x < size; x++ {
		for z := 0; z < size; z++ {
			g[terrain.Index(x, 0, z, size)] = terrain.Grass
		}
	}
	g[terrain.Index(1, 1, 1, size)] = terrain.RedFlower
	g[terrain.Index(2, 1, 3, size)] = terrain.WhiteFlower

	bb := ExtractBillboards(g, size, Flowers(), BillboardOptions{
		SizeOf: func(b terrain.Block) (float32, float32) {
			if b == terrain.WhiteFlower {
				return 0.5, 0.8
			}
			return 0.9, 1.2
		},
	})
	if bb == nil || bb.Len() != 2 {
		t.Fatalf("billboards=%v want 2", bb)
	}
	if bb.Blocks[0] != terrain.RedFlower || bb.Blocks[1] != terrain.WhiteFlower {
		t.Fatalf("unexpected order: %v", bb.Blocks)
	}
	if bb.Sizes[1] != (mgl32.Vec2{0.5, 0.8}) {
		t.Fatalf("size[1]=%v", bb.Sizes[1])
	}
	if got := bb.Transforms[0].Col(3).Vec3(); !got.ApproxEqual(mgl32.Vec3{1.5, 1.5, 1.5}) {
		t.Fatalf("pos[0]=%v", got)
	}
	if g[terrain.Index(1, 1, 1, size)] != terrain.Air {
		t.Fatalf("flower cell should be cleared")
	}

	ch, err := Compile(g, size)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if ch.Total() != size*size {
		t.Fatalf("cubes=%d want=%d", ch.Total(), size*size)
	}
	if ExtractBillboards(g, size, Flowers(), BillboardOptions{}) != nil {
		t.Fatalf("second extraction should find nothing")
	}
}
