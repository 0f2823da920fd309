package terrain

import (
	"math"

	"voxelstream.ai/internal/terrain/noise"
)

type ReliefMode uint8

const (
	// ReliefSurface clears every cell above the sampled column height.
	ReliefSurface ReliefMode = iota
	// ReliefReverseSurface clears every cell below the sampled column height.
	ReliefReverseSurface
	// ReliefVolume clears every cell whose 3D sample exceeds the threshold.
	ReliefVolume
)

// ReliefOptions configures one carving pass. Offset is added to local
// coordinates before scaling so that samples are taken in world space.
type ReliefOptions struct {
	Mode      ReliefMode
	Scale     float64
	Threshold float64
	Fill      Block
	OffsetX   int
	OffsetY   int
	OffsetZ   int
}

// Relief carves g in place using n. Cells are only ever overwritten with
// opts.Fill, so repeated passes compose in order.
func Relief(g Grid, size int, n *noise.Perlin, opts ReliefOptions) {
	if n == nil || size <= 0 || len(g) != size*size*size {
		return
	}
	s := opts.Scale
	switch opts.Mode {
	case ReliefSurface:
		for x := 0; x < size; x++ {
			for z := 0; z < size; z++ {
				h := n.Noise2(float64(x+opts.OffsetX)*s, float64(z+opts.OffsetZ)*s)
				maxY := int(math.Floor(h * float64(size)))
				for y := size - 1; y > maxY && y >= 0; y-- {
					g[Index(x, y, z, size)] = opts.Fill
				}
			}
		}
	case ReliefReverseSurface:
		for x := 0; x < size; x++ {
			for z := 0; z < size; z++ {
				h := n.Noise2(float64(x+opts.OffsetX)*s, float64(z+opts.OffsetZ)*s)
				minY := int(math.Floor(h * float64(size)))
				for y := 0; y < minY && y < size; y++ {
					g[Index(x, y, z, size)] = opts.Fill
				}
			}
		}
	case ReliefVolume:
		for z := 0; z < size; z++ {
			wz := float64(z+opts.OffsetZ) * s
			for y := 0; y < size; y++ {
				wy := float64(y+opts.OffsetY) * s
				for x := 0; x < size; x++ {
					if n.Noise3(float64(x+opts.OffsetX)*s, wy, wz) > opts.Threshold {
						g[Index(x, y, z, size)] = opts.Fill
					}
				}
			}
		}
	}
}
