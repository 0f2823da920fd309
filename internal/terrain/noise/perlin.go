package noise

import "math"

// Perlin is an improved-Perlin gradient noise field driven by a single unit seed.
// It holds only the permutation table built at construction, so one value can be
// shared by any number of goroutines.
type Perlin struct {
	perm [512]uint8
}

// New builds the permutation for seed (expected in [0,1)). The shuffle uses the
// same seed scalar for every swap rather than a random stream; generated chunks
// depend on this exact table, so it must not change.
func New(seed float64) *Perlin {
	p := &Perlin{}
	for i := 0; i < 256; i++ {
		p.perm[i] = uint8(i)
	}
	for i := 255; i > 0; i-- {
		j := int(math.Floor(seed * float64(i+1)))
		if j < 0 {
			j = 0
		}
		if j > i {
			j = i
		}
		p.perm[i], p.perm[j] = p.perm[j], p.perm[i]
	}
	for i := 0; i < 256; i++ {
		p.perm[i+256] = p.perm[i]
	}
	return p
}

// Noise2 samples the z=0 plane.
func (p *Perlin) Noise2(x, y float64) float64 {
	return p.Noise3(x, y, 0)
}

// Noise3 returns the field value at (x, y, z) remapped to roughly [0,1].
func (p *Perlin) Noise3(x, y, z float64) float64 {
	fx, fy, fz := math.Floor(x), math.Floor(y), math.Floor(z)
	X := int(fx) & 255
	Y := int(fy) & 255
	Z := int(fz) & 255

	x -= fx
	y -= fy
	z -= fz

	u := fade(x)
	v := fade(y)
	w := fade(z)

	perm := &p.perm
	A := int(perm[X]) + Y
	AA := int(perm[A]) + Z
	AB := int(perm[A+1]) + Z
	B := int(perm[X+1]) + Y
	BA := int(perm[B]) + Z
	BB := int(perm[B+1]) + Z

	n := lerp(
		lerp(
			lerp(grad(perm[AA], x, y, z), grad(perm[BA], x-1, y, z), u),
			lerp(grad(perm[AB], x, y-1, z), grad(perm[BB], x-1, y-1, z), u),
			v,
		),
		lerp(
			lerp(grad(perm[AA+1], x, y, z-1), grad(perm[BA+1], x-1, y, z-1), u),
			lerp(grad(perm[AB+1], x, y-1, z-1), grad(perm[BB+1], x-1, y-1, z-1), u),
			v,
		),
		w,
	)
	return n*0.5 + 0.5
}

func fade(t float64) float64 {
	return t * t * t * (t*(t*6-15) + 10)
}

func lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}

func grad(hash uint8, x, y, z float64) float64 {
	h := hash & 15
	u := y
	if h < 8 {
		u = x
	}
	var v float64
	switch {
	case h < 4:
		v = y
	case h == 12 || h == 14:
		v = x
	default:
		v = z
	}
	if h&1 != 0 {
		u = -u
	}
	if h&2 != 0 {
		v = -v
	}
	return u + v
}
