package terrain

// Layout selects how a flat grid maps (x, y, z) to an offset.
type Layout uint8

const (
	// LayoutXYZ is the chunk wire layout: x + y*size + z*size².
	LayoutXYZ Layout = iota
	// LayoutXZY stores horizontal slices contiguously: x + z*size + y*size².
	LayoutXZY
)

func (l Layout) Index(x, y, z, size int) int {
	if l == LayoutXZY {
		return x + z*size + y*size*size
	}
	return x + y*size + z*size*size
}

// Mode is the replacement policy of PaintLayer.
type Mode uint8

const (
	// Contiguous replaces an unbroken run of matching cells below the column top
	// and stops at the first cell that does not match.
	Contiguous Mode = iota
	// Any walks a window of depth solid cells below the column top and replaces
	// those that match. The window counts solids, not matches: non-matching
	// solids use up a step but never stop the walk. Counting only matches would
	// let a second layering pass reach deeper and break idempotence.
	Any
)

func (m Mode) String() string {
	switch m {
	case Contiguous:
		return "contiguous"
	case Any:
		return "any"
	default:
		return "unknown"
	}
}

// PaintLayer recolors the top of every (x, z) column. from == nil matches any
// solid cell. It returns the number of replaced cells. Empty columns and
// depth <= 0 leave the grid untouched.
func PaintLayer(g Grid, size int, from *Block, to Block, depth int, layout Layout, mode Mode) int {
	if depth <= 0 || size <= 0 || len(g) != size*size*size {
		return 0
	}
	matches := func(b Block) bool {
		if from == nil {
			return b.Solid()
		}
		return b == *from
	}

	replaced := 0
	for x := 0; x < size; x++ {
		for z := 0; z < size; z++ {
			y := size - 1
			for y >= 0 && !g[layout.Index(x, y, z, size)].Solid() {
				y--
			}
			if y < 0 {
				continue
			}
			switch mode {
			case Contiguous:
				for n := 0; y >= 0 && n < depth; y-- {
					i := layout.Index(x, y, z, size)
					if !matches(g[i]) {
						break
					}
					g[i] = to
					n++
					replaced++
				}
			case Any:
				for steps := 0; y >= 0 && steps < depth; y-- {
					i := layout.Index(x, y, z, size)
					b := g[i]
					if !b.Solid() {
						continue
					}
					if matches(b) {
						g[i] = to
						replaced++
					}
					steps++
				}
			}
		}
	}
	return replaced
}
