package noise

import (
	"math"
	"testing"
)

func TestPerlin_Deterministic(t *testing.T) {
	a := New(0.3141)
	b := New(0.3141)
	for i := 0; i < 200; i++ {
		x := float64(i)*0.37 - 20
		y := float64(i)*0.11 + 3
		z := float64(i) * -0.53
		if a.Noise3(x, y, z) != b.Noise3(x, y, z) {
			t.Fatalf("Noise3 not deterministic at (%f,%f,%f)", x, y, z)
		}
		if a.Noise2(x, y) != b.Noise2(x, y) {
			t.Fatalf("Noise2 not deterministic at (%f,%f)", x, y)
		}
	}
}

func TestPerlin_PermutationIsBijection(t *testing.T) {
	for _, seed := range []float64{0, 0.25, 0.5, 0.999999} {
		p := New(seed)
		var seen [256]bool
		for i := 0; i < 256; i++ {
			v := p.perm[i]
			if seen[v] {
				t.Fatalf("seed=%v duplicate permutation value %d", seed, v)
			}
			seen[v] = true
			if p.perm[i+256] != v {
				t.Fatalf("seed=%v perm[%d]=%d want duplicate %d", seed, i+256, p.perm[i+256], v)
			}
		}
	}
}

func TestPerlin_ZeroSeedShuffle(t *testing.T) {
	// With seed 0 every swap targets index 0, which rotates the identity table.
	p := New(0)
	if p.perm[0] != 1 {
		t.Fatalf("perm[0]=%d want=1", p.perm[0])
	}
	if p.perm[1] != 2 || p.perm[254] != 255 || p.perm[255] != 0 {
		t.Fatalf("unexpected rotation: perm[1]=%d perm[254]=%d perm[255]=%d", p.perm[1], p.perm[254], p.perm[255])
	}
}

func TestPerlin_LatticePointsAreMidpoint(t *testing.T) {
	p := New(0.42)
	for x := -4; x <= 4; x++ {
		for y := -4; y <= 4; y++ {
			if v := p.Noise3(float64(x), float64(y), 7); v != 0.5 {
				t.Fatalf("Noise3(%d,%d,7)=%v want=0.5", x, y, v)
			}
		}
	}
}

func TestPerlin_Range(t *testing.T) {
	p := New(0.77)
	for i := 0; i < 20000; i++ {
		x := float64(i)*0.173 - 900
		y := float64(i)*0.291 - 400
		z := float64(i)*0.057 + 12
		v := p.Noise3(x, y, z)
		if math.IsNaN(v) || v < -0.1 || v > 1.1 {
			t.Fatalf("Noise3(%f,%f,%f)=%f out of range", x, y, z, v)
		}
	}
}

func TestPerlin_SeedsDiffer(t *testing.T) {
	a := New(0.1)
	b := New(0.9)
	diff := 0
	for i := 0; i < 64; i++ {
		x := float64(i)*0.31 + 0.17
		if a.Noise2(x, x*0.7) != b.Noise2(x, x*0.7) {
			diff++
		}
	}
	if diff == 0 {
		t.Fatalf("expected different seeds to produce different fields")
	}
}
