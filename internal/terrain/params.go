package terrain

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	MinSize = 4
	MaxSize = 128
)

// Params fully determines a chunk grid. Two equal Params always synthesize
// byte-identical grids.
type Params struct {
	Size           int
	Seed           string
	Base           Block
	Coord          ChunkCoord
	SurfaceScale   float64
	CavesScale     float64
	CavesThreshold float64
	GrassDepth     int
	DirtDepth      int
}

// DefaultParams are the values the chunk endpoint uses for missing query fields.
func DefaultParams() Params {
	return Params{
		Size:           64,
		Seed:           "seed",
		Base:           Stone,
		SurfaceScale:   0.04,
		CavesScale:     0.16,
		CavesThreshold: 0.72,
		GrassDepth:     2,
		DirtDepth:      3,
	}
}

// ClampSize pins size into [MinSize, MaxSize].
func ClampSize(size int) int {
	if size < MinSize {
		return MinSize
	}
	if size > MaxSize {
		return MaxSize
	}
	return size
}

// Clamp returns p with out-of-range values pulled to the nearest valid one.
func (p Params) Clamp() Params {
	p.Size = ClampSize(p.Size)
	if !p.Base.Valid() {
		p.Base = Gizmos
	}
	return p
}

// WithCoord returns a copy of p positioned at c.
func (p Params) WithCoord(c ChunkCoord) Params {
	p.Coord = c
	return p
}

// Key is the canonical cache key: every field, in a fixed order, joined by '|'.
func (p Params) Key() string {
	var sb strings.Builder
	sb.Grow(96 + len(p.Seed))
	sb.WriteString(strconv.Itoa(p.Size))
	sb.WriteByte('|')
	sb.WriteString(p.Seed)
	sb.WriteByte('|')
	sb.WriteString(strconv.Itoa(int(p.Base)))
	sb.WriteByte('|')
	sb.WriteString(strconv.Itoa(p.Coord.X))
	sb.WriteByte('|')
	sb.WriteString(strconv.Itoa(p.Coord.Y))
	sb.WriteByte('|')
	sb.WriteString(strconv.Itoa(p.Coord.Z))
	sb.WriteByte('|')
	sb.WriteString(formatFloat(p.SurfaceScale))
	sb.WriteByte('|')
	sb.WriteString(formatFloat(p.CavesScale))
	sb.WriteByte('|')
	sb.WriteString(formatFloat(p.CavesThreshold))
	sb.WriteByte('|')
	sb.WriteString(strconv.Itoa(p.GrassDepth))
	sb.WriteByte('|')
	sb.WriteString(strconv.Itoa(p.DirtDepth))
	return sb.String()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// ParseKey inverts Key. The seed may itself contain '|', so the fixed fields are
// taken from both ends.
func ParseKey(key string) (Params, error) {
	parts := strings.Split(key, "|")
	if len(parts) < 11 {
		return Params{}, fmt.Errorf("key %q: want at least 11 fields, got %d", key, len(parts))
	}
	tail := parts[len(parts)-9:]
	var (
		p   Params
		err error
	)
	ints := []struct {
		s   string
		dst *int
	}{
		{parts[0], &p.Size},
		{tail[1], &p.Coord.X},
		{tail[2], &p.Coord.Y},
		{tail[3], &p.Coord.Z},
		{tail[7], &p.GrassDepth},
		{tail[8], &p.DirtDepth},
	}
	for _, f := range ints {
		if *f.dst, err = strconv.Atoi(f.s); err != nil {
			return Params{}, fmt.Errorf("key %q: %w", key, err)
		}
	}
	base, err := strconv.Atoi(tail[0])
	if err != nil {
		return Params{}, fmt.Errorf("key %q: %w", key, err)
	}
	p.Base = Block(base)
	floats := []struct {
		s   string
		dst *float64
	}{
		{tail[4], &p.SurfaceScale},
		{tail[5], &p.CavesScale},
		{tail[6], &p.CavesThreshold},
	}
	for _, f := range floats {
		if *f.dst, err = strconv.ParseFloat(f.s, 64); err != nil {
			return Params{}, fmt.Errorf("key %q: %w", key, err)
		}
	}
	p.Seed = strings.Join(parts[1:len(parts)-9], "|")
	return p, nil
}
