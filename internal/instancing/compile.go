// Package instancing turns voxel grids into per-block batches of placement
// transforms ready for instanced drawing.
package instancing

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"voxelstream.ai/internal/terrain"
)

// Batch holds one transform per solid voxel of Block, in grid iteration order.
type Batch struct {
	Block      terrain.Block
	Material   Material
	Transforms []mgl32.Mat4
}

// Len is the number of placed instances.
func (b *Batch) Len() int { return len(b.Transforms) }

// Cap is the preallocated capacity. It is never below 1 so that empty batches
// still own a valid buffer.
func (b *Batch) Cap() int { return cap(b.Transforms) }

// Batches is indexed by block id. The Air slot is always nil.
type Batches [terrain.NumBlocks]*Batch

// Chunk is the drawable form of one grid.
type Chunk struct {
	Size    int
	Batches Batches
}

// Counts tallies cells per block id, Air included.
type Counts [terrain.NumBlocks]int

// Solid is the number of non-Air cells.
func (c Counts) Solid() int {
	n := 0
	for b := 1; b < terrain.NumBlocks; b++ {
		n += c[b]
	}
	return n
}

// CountBlocks is the count pass of Compile. It fails on the first cell holding
// an id outside the block enum.
func CountBlocks(g terrain.Grid) (Counts, error) {
	var c Counts
	for i, b := range g {
		if !b.Valid() {
			return c, fmt.Errorf("instancing: invalid block id %d at %d", b, i)
		}
		c[b]++
	}
	return c, nil
}

// Compile builds batches for every solid block type. Positions are centered on
// the chunk origin with a half-voxel offset.
func Compile(g terrain.Grid, size int) (*Chunk, error) {
	return CompileWithRegistry(g, size, nil)
}

// CompileWithRegistry is Compile with materials resolved from reg. A nil reg
// leaves Batch.Material empty.
func CompileWithRegistry(g terrain.Grid, size int, reg *BlockRegistry) (*Chunk, error) {
	if size <= 0 || len(g) != size*size*size {
		return nil, fmt.Errorf("instancing: grid has %d cells, want %d", len(g), size*size*size)
	}
	counts, err := CountBlocks(g)
	if err != nil {
		return nil, err
	}

	ch := &Chunk{Size: size}
	for b := 1; b < terrain.NumBlocks; b++ {
		blk := terrain.Block(b)
		batch := &Batch{
			Block:      blk,
			Transforms: make([]mgl32.Mat4, counts[b], max(1, counts[b])),
		}
		if reg != nil {
			m, err := reg.MaterialOf(blk)
			if err != nil {
				return nil, err
			}
			batch.Material = m
		}
		ch.Batches[b] = batch
	}

	var cursor [terrain.NumBlocks]int
	half := float32(size) / 2
	off := mgl32.Vec3{-half + 0.5, -half + 0.5, -half + 0.5}
	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				blk := g[terrain.Index(x, y, z, size)]
				if !blk.Solid() {
					continue
				}
				p := mgl32.Vec3{float32(x), float32(y), float32(z)}.Add(off)
				ch.Batches[blk].Transforms[cursor[blk]] = mgl32.Translate3D(p.X(), p.Y(), p.Z())
				cursor[blk]++
			}
		}
	}
	return ch, nil
}

// Batch returns the batch for blk, or nil for Air.
func (c *Chunk) Batch(blk terrain.Block) *Batch {
	if !blk.Valid() {
		return nil
	}
	return c.Batches[blk]
}

// Total is the number of instances across every batch.
func (c *Chunk) Total() int {
	n := 0
	for _, b := range c.Batches {
		if b != nil {
			n += b.Len()
		}
	}
	return n
}

// AABB is an axis-aligned box in chunk-local space.
type AABB struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// Bounds is the chunk's centered bounding box.
func (c *Chunk) Bounds() AABB {
	h := float32(c.Size) / 2
	return AABB{Min: mgl32.Vec3{-h, -h, -h}, Max: mgl32.Vec3{h, h, h}}
}

// Translate returns the box moved by v.
func (a AABB) Translate(v mgl32.Vec3) AABB {
	return AABB{Min: a.Min.Add(v), Max: a.Max.Add(v)}
}

// Contains reports whether p lies inside the box, faces included.
func (a AABB) Contains(p mgl32.Vec3) bool {
	return p.X() >= a.Min.X() && p.X() <= a.Max.X() &&
		p.Y() >= a.Min.Y() && p.Y() <= a.Max.Y() &&
		p.Z() >= a.Min.Z() && p.Z() <= a.Max.Z()
}
