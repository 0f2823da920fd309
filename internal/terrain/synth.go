package terrain

import "voxelstream.ai/internal/terrain/noise"

// Synthesize builds the voxel grid for p. p is clamped first; the result always
// has ClampSize(p.Size)³ cells and is a pure function of the clamped params.
func Synthesize(p Params) Grid {
	p = p.Clamp()
	size := p.Size
	ox, oy, oz := p.Coord.Offset(size)
	surfaceSeed, cavesSeed := NoiseSeeds(p)

	g := NewGrid(size, p.Base)
	Relief(g, size, noise.New(surfaceSeed), ReliefOptions{
		Mode:    ReliefSurface,
		Scale:   p.SurfaceScale,
		Fill:    Air,
		OffsetX: ox,
		OffsetZ: oz,
	})
	Relief(g, size, noise.New(cavesSeed), ReliefOptions{
		Mode:      ReliefVolume,
		Scale:     p.CavesScale,
		Threshold: p.CavesThreshold,
		Fill:      Air,
		OffsetX:   ox,
		OffsetY:   oy,
		OffsetZ:   oz,
	})
	Layer(g, size, p.Base, p.GrassDepth, p.DirtDepth)
	return g
}

// Layer applies the grass cap and the dirt band over base-block cells.
func Layer(g Grid, size int, base Block, grassDepth, dirtDepth int) (grass, dirt int) {
	from := base
	if grassDepth > 0 {
		grass = PaintLayer(g, size, &from, Grass, grassDepth, LayoutXYZ, Contiguous)
	}
	if dirtDepth > 0 {
		dirt = PaintLayer(g, size, &from, Dirt, dirtDepth, LayoutXYZ, Any)
	}
	return grass, dirt
}
