package tuning

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"voxelstream.ai/internal/terrain"
)

type Tuning struct {
	Chunk  Chunk  `yaml:"chunk"`
	Stream Stream `yaml:"stream"`
	Cache  Cache  `yaml:"cache"`
}

// Chunk holds the world's generation parameters. Base is a block name such as
// STONE.
type Chunk struct {
	Size           int     `yaml:"size"`
	Seed           string  `yaml:"seed"`
	BaseBlock      string  `yaml:"base_block"`
	SurfaceScale   float64 `yaml:"surface_scale"`
	CavesScale     float64 `yaml:"caves_scale"`
	CavesThreshold float64 `yaml:"caves_threshold"`
	GrassDepth     int     `yaml:"grass_depth"`
	DirtDepth      int     `yaml:"dirt_depth"`
}

type Stream struct {
	ViewRadius     int `yaml:"view_radius"`
	MaxInflight    int `yaml:"max_inflight"`
	FetchTimeoutMs int `yaml:"fetch_timeout_ms"`
}

type Cache struct {
	MaxEntries int    `yaml:"max_entries"`
	Backend    string `yaml:"backend"`
}

func Defaults() Tuning {
	p := terrain.DefaultParams()
	return Tuning{
		Chunk: Chunk{
			Size:           p.Size,
			Seed:           p.Seed,
			BaseBlock:      p.Base.String(),
			SurfaceScale:   p.SurfaceScale,
			CavesScale:     p.CavesScale,
			CavesThreshold: p.CavesThreshold,
			GrassDepth:     p.GrassDepth,
			DirtDepth:      p.DirtDepth,
		},
		Stream: Stream{
			ViewRadius:     6,
			MaxInflight:    8,
			FetchTimeoutMs: 5000,
		},
		Cache: Cache{
			MaxEntries: 4096,
			Backend:    "sqlite",
		},
	}
}

// Load reads path over Defaults, so a file only needs the keys it changes.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// LoadOrDefault returns Defaults when path does not exist.
func LoadOrDefault(path string) (Tuning, error) {
	if path == "" {
		return Defaults(), nil
	}
	t, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Defaults(), nil
	}
	return t, err
}

func (t Tuning) Validate() error {
	var errs []error
	if t.Chunk.Size < terrain.MinSize || t.Chunk.Size > terrain.MaxSize {
		errs = append(errs, fmt.Errorf("chunk.size %d outside [%d,%d]", t.Chunk.Size, terrain.MinSize, terrain.MaxSize))
	}
	if _, ok := terrain.ParseBlock(strings.ToUpper(t.Chunk.BaseBlock)); !ok {
		errs = append(errs, fmt.Errorf("chunk.base_block %q unknown", t.Chunk.BaseBlock))
	}
	if t.Stream.ViewRadius < 0 {
		errs = append(errs, fmt.Errorf("stream.view_radius must be >= 0"))
	}
	if t.Stream.MaxInflight <= 0 {
		errs = append(errs, fmt.Errorf("stream.max_inflight must be > 0"))
	}
	if t.Stream.FetchTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("stream.fetch_timeout_ms must be > 0"))
	}
	if t.Cache.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("cache.max_entries must be >= 0"))
	}
	switch t.Cache.Backend {
	case "", "sqlite", "postgres", "none":
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q unknown", t.Cache.Backend))
	}
	return errors.Join(errs...)
}

// Params converts the chunk section to generation params at the origin.
func (t Tuning) Params() terrain.Params {
	base, ok := terrain.ParseBlock(strings.ToUpper(t.Chunk.BaseBlock))
	if !ok {
		base = terrain.Stone
	}
	return terrain.Params{
		Size:           t.Chunk.Size,
		Seed:           t.Chunk.Seed,
		Base:           base,
		SurfaceScale:   t.Chunk.SurfaceScale,
		CavesScale:     t.Chunk.CavesScale,
		CavesThreshold: t.Chunk.CavesThreshold,
		GrassDepth:     t.Chunk.GrassDepth,
		DirtDepth:      t.Chunk.DirtDepth,
	}.Clamp()
}
