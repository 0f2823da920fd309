package terrain

import "fmt"

// Grid is a cubic voxel grid stored flat, x fastest, then y, then z.
type Grid []Block

// Index maps local coordinates to the flat offset x + y*size + z*size².
func Index(x, y, z, size int) int {
	return x + y*size + z*size*size
}

// NewGrid allocates a size³ grid filled with fill.
func NewGrid(size int, fill Block) Grid {
	g := make(Grid, size*size*size)
	if fill != Air {
		for i := range g {
			g[i] = fill
		}
	}
	return g
}

// GridFromBytes validates a wire payload and copies it into a Grid.
func GridFromBytes(b []byte, size int) (Grid, error) {
	if size <= 0 {
		return nil, fmt.Errorf("grid: invalid size %d", size)
	}
	if want := size * size * size; len(b) != want {
		return nil, fmt.Errorf("grid: got %d bytes want %d for size %d", len(b), want, size)
	}
	g := make(Grid, len(b))
	for i, v := range b {
		blk := Block(v)
		if !blk.Valid() {
			return nil, fmt.Errorf("grid: invalid block id %d at %d", v, i)
		}
		g[i] = blk
	}
	return g, nil
}

// Bytes returns the wire form: one byte per block id.
func (g Grid) Bytes() []byte {
	b := make([]byte, len(g))
	for i, v := range g {
		b[i] = byte(v)
	}
	return b
}

// Count returns how many cells hold blk.
func (g Grid) Count(blk Block) int {
	n := 0
	for _, v := range g {
		if v == blk {
			n++
		}
	}
	return n
}

// ChunkCoord identifies a chunk in chunk space.
type ChunkCoord struct {
	X int
	Y int
	Z int
}

// Offset is the world-space position of the chunk's minimum corner.
func (c ChunkCoord) Offset(size int) (ox, oy, oz int) {
	return c.X * size, c.Y * size, c.Z * size
}

func (c ChunkCoord) String() string {
	return fmt.Sprintf("(%d,%d,%d)", c.X, c.Y, c.Z)
}
