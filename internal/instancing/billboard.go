package instancing

import (
	"github.com/go-gl/mathgl/mgl32"

	"voxelstream.ai/internal/terrain"
)

// BillboardOptions controls ExtractBillboards. Zero values fall back to a
// 0.9x1.2 quad raised one voxel, frame 0, XYZ layout.
type BillboardOptions struct {
	Layout  terrain.Layout
	YOffset float32
	SizeOf  func(terrain.Block) (w, h float32)
	FrameOf func(terrain.Block) int
}

// Billboards is a detail layer drawn as camera-facing quads after the cubes.
type Billboards struct {
	Transforms []mgl32.Mat4
	Sizes      []mgl32.Vec2
	Frames     []int
	Blocks     []terrain.Block
}

func (b *Billboards) Len() int { return len(b.Transforms) }

// ExtractBillboards moves every cell whose block is in detail into a billboard
// layer and clears it to Air so a following Compile skips it. It returns nil
// when no detail cell exists.
func ExtractBillboards(g terrain.Grid, size int, detail []terrain.Block, opts BillboardOptions) *Billboards {
	if size <= 0 || len(g) != size*size*size || len(detail) == 0 {
		return nil
	}
	var isDetail [terrain.NumBlocks]bool
	for _, b := range detail {
		if b.Valid() && b.Solid() {
			isDetail[b] = true
		}
	}
	yOff := opts.YOffset
	if yOff == 0 {
		yOff = 1
	}
	sizeOf := opts.SizeOf
	if sizeOf == nil {
		sizeOf = func(terrain.Block) (float32, float32) { return 0.9, 1.2 }
	}
	frameOf := opts.FrameOf
	if frameOf == nil {
		frameOf = func(terrain.Block) int { return 0 }
	}
	count := 0
	for _, b := range g {
		if b.Valid() && isDetail[b] {
			count++
		}
	}
	if count == 0 {
		return nil
	}

	out := &Billboards{
		Transforms: make([]mgl32.Mat4, count),
		Sizes:      make([]mgl32.Vec2, count),
		Frames:     make([]int, count),
		Blocks:     make([]terrain.Block, count),
	}
	n := 0
	for y := 0; y < size; y++ {
		for z := 0; z < size; z++ {
			for x := 0; x < size; x++ {
				i := opts.Layout.Index(x, y, z, size)
				b := g[i]
				if !b.Valid() || !isDetail[b] {
					continue
				}
				out.Transforms[n] = mgl32.Translate3D(float32(x)+0.5, float32(y)+yOff-0.5, float32(z)+0.5)
				w, h := sizeOf(b)
				out.Sizes[n] = mgl32.Vec2{w, h}
				out.Frames[n] = frameOf(b)
				out.Blocks[n] = b
				g[i] = terrain.Air
				n++
			}
		}
	}
	return out
}

// Flowers is the default detail set.
func Flowers() []terrain.Block {
	return []terrain.Block{terrain.RedFlower, terrain.OrangeFlower, terrain.PinkFlower, terrain.WhiteFlower}
}
