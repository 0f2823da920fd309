package terrain

const (
	fnvOffset32 = 2166136261
	fnvPrime32  = 16777619

	surfaceSalt = 0xA1
	cavesSalt   = 0xB2
	cavesXor    = 0x9e3779b9
)

// Hash32 is FNV-1a over the UTF-16 code units of s, so that seeds hash the same
// as in browser clients that share this world.
func Hash32(s string) uint32 {
	h := uint32(fnvOffset32)
	for _, r := range s {
		if r >= 0x10000 {
			r -= 0x10000
			h ^= uint32(0xD800 + (r >> 10))
			h *= fnvPrime32
			h ^= uint32(0xDC00 + (r & 0x3FF))
			h *= fnvPrime32
			continue
		}
		h ^= uint32(r)
		h *= fnvPrime32
	}
	return h
}

// Mix folds each value through an xorshift-multiply avalanche and xors the
// results into the FNV basis. Negative inputs wrap to their uint32 pattern.
func Mix(nums ...int) uint32 {
	h := uint32(fnvOffset32)
	for _, n := range nums {
		x := uint32(int32(n))
		x ^= x >> 16
		x *= 0x7feb352d
		x ^= x >> 15
		x *= 0x846ca68b
		x ^= x >> 16
		h ^= x
	}
	return h
}

// ToUnitFloat keeps the low 27 bits and scales them into [0,1).
func ToUnitFloat(u uint32) float64 {
	return float64(u&0x7ffffff) / 0x8000000
}

// NoiseSeeds derives the surface and cave noise seeds for one chunk. Neighbouring
// chunks get decorrelated fields; the same (seed, coord, size) always yields the
// same pair.
func NoiseSeeds(p Params) (surface, caves float64) {
	ox, oy, oz := p.Coord.Offset(p.Size)
	base := Hash32(p.Seed)
	surface = ToUnitFloat(Mix(int(base), ox, oy, oz, surfaceSalt))
	caves = ToUnitFloat(Mix(int(base^cavesXor), ox, oy, oz, cavesSalt))
	return surface, caves
}
