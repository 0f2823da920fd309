package terrain

import "testing"

func TestParams_KeyIsCanonical(t *testing.T) {
	p := DefaultParams()
	want := "64|seed|3|0|0|0|0.04|0.16|0.72|2|3"
	if got := p.Key(); got != want {
		t.Fatalf("Key()=%q want=%q", got, want)
	}
}

func TestParams_KeyChangesWithEveryField(t *testing.T) {
	base := DefaultParams()
	mutations := map[string]func(*Params){
		"size":           func(p *Params) { p.Size = 32 },
		"seed":           func(p *Params) { p.Seed = "other" },
		"base":           func(p *Params) { p.Base = Dirt },
		"cx":             func(p *Params) { p.Coord.X = 1 },
		"cy":             func(p *Params) { p.Coord.Y = -1 },
		"cz":             func(p *Params) { p.Coord.Z = 9 },
		"surfaceScale":   func(p *Params) { p.SurfaceScale = 0.05 },
		"cavesScale":     func(p *Params) { p.CavesScale = 0.2 },
		"cavesThreshold": func(p *Params) { p.CavesThreshold = 0.7 },
		"grassDepth":     func(p *Params) { p.GrassDepth = 1 },
		"dirtDepth":      func(p *Params) { p.DirtDepth = 4 },
	}
	seen := map[string]string{base.Key(): "base"}
	for name, mut := range mutations {
		p := base
		mut(&p)
		k := p.Key()
		if prev, ok := seen[k]; ok {
			t.Fatalf("%s produced the same key as %s: %q", name, prev, k)
		}
		seen[k] = name
	}
}

func TestParams_Clamp(t *testing.T) {
	p := DefaultParams()
	p.Size = 2
	p.Base = Block(200)
	c := p.Clamp()
	if c.Size != MinSize {
		t.Fatalf("Size=%d want=%d", c.Size, MinSize)
	}
	if c.Base != Gizmos {
		t.Fatalf("Base=%s want=GIZMOS", c.Base)
	}
	p.Size = 4096
	if got := p.Clamp().Size; got != MaxSize {
		t.Fatalf("Size=%d want=%d", got, MaxSize)
	}
}

func TestBlock_ParseRoundTrip(t *testing.T) {
	for _, b := range Blocks() {
		got, ok := ParseBlock(b.String())
		if !ok || got != b {
			t.Fatalf("ParseBlock(%q)=%v,%v want=%v", b.String(), got, ok, b)
		}
	}
	if _, ok := ParseBlock("LAVA"); ok {
		t.Fatalf("ParseBlock(LAVA) should fail")
	}
	if Air.Solid() || !Stone.Solid() {
		t.Fatalf("solidity mismatch")
	}
}

func TestGridFromBytes(t *testing.T) {
	g := NewGrid(4, Dirt)
	back, err := GridFromBytes(g.Bytes(), 4)
	if err != nil {
		t.Fatalf("GridFromBytes: %v", err)
	}
	if back.Count(Dirt) != 64 {
		t.Fatalf("dirt=%d want=64", back.Count(Dirt))
	}
	if _, err := GridFromBytes(make([]byte, 63), 4); err == nil {
		t.Fatalf("expected length error")
	}
	bad := make([]byte, 64)
	bad[10] = 99
	if _, err := GridFromBytes(bad, 4); err == nil {
		t.Fatalf("expected invalid id error")
	}
}

func TestParseKey_InvertsKey(t *testing.T) {
	p := DefaultParams()
	p.Seed = "a|b||c"
	p.Coord = ChunkCoord{X: -3, Y: 1, Z: 12}
	p.CavesThreshold = 0.125
	got, err := ParseKey(p.Key())
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if got != p {
		t.Fatalf("got=%+v want=%+v", got, p)
	}

	p.Seed = ""
	if got, err := ParseKey(p.Key()); err != nil || got.Seed != "" {
		t.Fatalf("empty seed: got=%q err=%v", got.Seed, err)
	}

	for _, bad := range []string{"", "64|seed", "x|seed|3|0|0|0|0.04|0.16|0.72|2|3", "64|seed|3|0|0|0|nan?|0.16|0.72|2|3"} {
		if _, err := ParseKey(bad); err == nil {
			t.Fatalf("ParseKey(%q) should fail", bad)
		}
	}
}
