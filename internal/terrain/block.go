package terrain

import "fmt"

// Block is a voxel material id. The set is closed; ids are stored one byte per
// voxel on the wire.
type Block uint8

const (
	Air Block = iota
	Grass
	Dirt
	Stone
	RedFlower
	OrangeFlower
	PinkFlower
	WhiteFlower
	Gizmos

	NumBlocks = int(Gizmos) + 1
)

var blockNames = [NumBlocks]string{
	Air:          "AIR",
	Grass:        "GRASS",
	Dirt:         "DIRT",
	Stone:        "STONE",
	RedFlower:    "RED_FLOWER",
	OrangeFlower: "ORANGE_FLOWER",
	PinkFlower:   "PINK_FLOWER",
	WhiteFlower:  "WHITE_FLOWER",
	Gizmos:       "GIZMOS",
}

func (b Block) Valid() bool { return int(b) < NumBlocks }

// Solid reports whether b occupies its cell. Every id other than Air is solid
// for layering and column scans.
func (b Block) Solid() bool { return b != Air }

func (b Block) String() string {
	if !b.Valid() {
		return fmt.Sprintf("BLOCK(%d)", uint8(b))
	}
	return blockNames[b]
}

// ParseBlock resolves a block name as printed by String.
func ParseBlock(name string) (Block, bool) {
	for i, n := range blockNames {
		if n == name {
			return Block(i), true
		}
	}
	return Air, false
}

// Blocks lists every id in enum order.
func Blocks() []Block {
	out := make([]Block, NumBlocks)
	for i := range out {
		out[i] = Block(i)
	}
	return out
}
