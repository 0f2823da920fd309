package instancing

import (
	"fmt"
	"sort"

	"voxelstream.ai/internal/terrain"
)

// Material describes how a block type is drawn. The renderer owns the GPU side;
// this is only the description it is built from.
type Material struct {
	Name        string
	Texture     string // asset path or "#rrggbb" colour
	DoubleSide  bool
	Transparent bool
	Opacity     float32
	DepthWrite  bool
}

// BlockDef binds a block id to its material.
type BlockDef struct {
	Block    terrain.Block
	Material Material
}

// DefaultBlocks lists the stock materials for every drawable block.
func DefaultBlocks() []BlockDef {
	opaque := func(name, tex string) Material {
		return Material{Name: name, Texture: tex, Opacity: 1, DepthWrite: true}
	}
	flower := func(name, tex string) Material {
		return Material{Name: name, Texture: tex, DoubleSide: true, Transparent: true, Opacity: 1, DepthWrite: true}
	}
	return []BlockDef{
		{terrain.Grass, opaque("Grass", "/grass.jpg")},
		{terrain.Dirt, opaque("Dirt", "/dirt.png")},
		{terrain.Stone, opaque("Stone", "/stone.png")},
		{terrain.RedFlower, flower("Red Flower", "/flower_red.png")},
		{terrain.OrangeFlower, flower("Orange Flower", "/flower_orange.png")},
		{terrain.PinkFlower, flower("Pink Flower", "/flower_pink.png")},
		{terrain.WhiteFlower, flower("White Flower", "/flower_white.png")},
		{terrain.Gizmos, Material{Name: "Gizmos", Texture: "#003A4A", Transparent: true, Opacity: 0.1}},
	}
}

// BlockRegistry maps block ids to materials.
type BlockRegistry struct {
	byBlock map[terrain.Block]Material
}

func NewBlockRegistry() *BlockRegistry {
	return &BlockRegistry{byBlock: map[terrain.Block]Material{}}
}

// NewDefaultRegistry registers defs, or DefaultBlocks when defs is empty.
func NewDefaultRegistry(defs ...BlockDef) *BlockRegistry {
	if len(defs) == 0 {
		defs = DefaultBlocks()
	}
	r := NewBlockRegistry()
	for _, d := range defs {
		r.Register(d.Block, d.Material)
	}
	return r
}

// Register replaces any earlier material for b.
func (r *BlockRegistry) Register(b terrain.Block, m Material) {
	r.byBlock[b] = m
}

func (r *BlockRegistry) MaterialOf(b terrain.Block) (Material, error) {
	m, ok := r.byBlock[b]
	if !ok {
		return Material{}, fmt.Errorf("instancing: no material registered for %s", b)
	}
	return m, nil
}

// AllMaterials returns every registered material in block id order.
func (r *BlockRegistry) AllMaterials() []Material {
	ids := make([]int, 0, len(r.byBlock))
	for b := range r.byBlock {
		ids = append(ids, int(b))
	}
	sort.Ints(ids)
	out := make([]Material, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.byBlock[terrain.Block(id)])
	}
	return out
}
