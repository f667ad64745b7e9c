/*package amr indexes the blocks of an adaptively refined, block-structured mesh.

The base grid is Nx0 x Ny0 x Nz0 blocks. Every refinement splits one block into
2 x 2 x 2 children, so level L has Nx0*2^L x Ny0*2^L x Nz0*2^L possible
blocks. Every possible block on every level has a unique GlobalID:

   GlobalID = offset[L] + k*Ny*Nx + j*Nx + i

where offset[0] = 0 and offset[L] = offset[L-1] + Nx0*Ny0*Nz0*8^(L-1). Grid
does this arithmetic, and Mesh tracks which of those blocks currently exist.
*/
package amr

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"
)

// GlobalID identifies a block across all refinement levels.
type GlobalID uint64

// LocalID is an opaque handle that the application associates with a block.
// The mesh never interprets it.
type LocalID uint64

const (
	// InvalidGlobalID is returned by lookups that fail.
	InvalidGlobalID = GlobalID(^uint64(0))
	// InvalidLocalID means that no local storage has been assigned.
	InvalidLocalID = LocalID(^uint64(0))
)

var (
	ErrBoundingBox = errors.New("invalid bounding box")
	ErrLevel       = errors.New("refinement level out of range")
	ErrLimits      = errors.New("invalid mesh limits")
	ErrBlock       = errors.New("invalid block")
	ErrInitialized = errors.New("mesh is already initialized")
)

// BoundingBox is the shape of the base grid, in blocks, along with the number
// of cells in each block.
type BoundingBox struct {
	Nx0, Ny0, Nz0          uint32
	CellsX, CellsY, CellsZ uint32
}

// Array returns the box in the order it's stored in files.
func (b BoundingBox) Array() [6]uint32 {
	return [6]uint32{b.Nx0, b.Ny0, b.Nz0, b.CellsX, b.CellsY, b.CellsZ}
}

// BoundingBoxFromArray is the inverse of BoundingBox.Array.
func BoundingBoxFromArray(x [6]uint32) BoundingBox {
	return BoundingBox{x[0], x[1], x[2], x[3], x[4], x[5]}
}

// Blocks returns the number of blocks in the base grid.
func (b BoundingBox) Blocks() uint64 {
	return uint64(b.Nx0) * uint64(b.Ny0) * uint64(b.Nz0)
}

// Cells returns the number of cells in each block.
func (b BoundingBox) Cells() uint64 {
	return uint64(b.CellsX) * uint64(b.CellsY) * uint64(b.CellsZ)
}

// Index is a block's position in the octree: its refinement level and its
// (i, j, k) indices on that level.
type Index struct {
	Level, I, J, K uint32
}

// Limits are the physical bounds of the mesh.
type Limits struct {
	XMin, XMax, YMin, YMax, ZMin, ZMax float64
}

func (l Limits) valid() bool {
	return l.XMin < l.XMax && l.YMin < l.YMax && l.ZMin < l.ZMax
}

// Grid maps between GlobalIDs and Indices. It doesn't know which blocks
// exist.
type Grid struct {
	bbox     BoundingBox
	maxLevel uint32
	offsets  []GlobalID
	end      GlobalID
}

// NewGrid derives the offsets table for the given base grid. It fails if the
// box has an empty dimension or if the IDs of the finest level wouldn't fit
// in 64 bits.
func NewGrid(bbox BoundingBox, maxLevel uint32) (*Grid, error) {
	arr := bbox.Array()
	for i := range arr {
		if arr[i] == 0 {
			return nil, fmt.Errorf("%w: %v has an empty dimension",
				ErrBoundingBox, arr)
		}
	}

	tooMany := fmt.Errorf("%w: %d levels above a base grid of %v need "+
		"more than 2^64 IDs", ErrLevel, maxLevel, arr[:3])

	if maxLevel > 31 {
		return nil, tooMany
	}
	for _, n := range arr[:3] {
		if uint64(n)<<maxLevel > 1<<32 {
			return nil, fmt.Errorf("%w: %d blocks along one axis of level "+
				"%d don't fit in 32-bit indices", ErrLevel,
				uint64(n)<<maxLevel, maxLevel)
		}
	}
	hi, levelBlocks := bits.Mul64(
		uint64(bbox.Nx0)*uint64(bbox.Ny0), uint64(bbox.Nz0))
	if hi != 0 {
		return nil, tooMany
	}

	g := &Grid{bbox: bbox, maxLevel: maxLevel}
	g.offsets = make([]GlobalID, maxLevel+1)

	total := uint64(0)
	for l := uint32(0); l <= maxLevel; l++ {
		g.offsets[l] = GlobalID(total)

		var carry uint64
		total, carry = bits.Add64(total, levelBlocks, 0)
		if carry != 0 {
			return nil, tooMany
		}
		if l < maxLevel {
			if hi, levelBlocks = bits.Mul64(levelBlocks, 8); hi != 0 {
				return nil, tooMany
			}
		}
	}
	// The last ID is reserved for InvalidGlobalID.
	if total == ^uint64(0) {
		return nil, tooMany
	}
	g.end = GlobalID(total)

	return g, nil
}

// BoundingBox returns the base grid shape.
func (g *Grid) BoundingBox() BoundingBox { return g.bbox }

// MaxLevel returns the highest refinement level.
func (g *Grid) MaxLevel() uint32 { return g.maxLevel }

// End returns the first ID past the finest level.
func (g *Grid) End() GlobalID { return g.end }

// Offsets returns the first ID of each refinement level.
func (g *Grid) Offsets() []GlobalID {
	return append([]GlobalID{}, g.offsets...)
}

// LevelExtent returns the number of blocks along each axis at a level.
func (g *Grid) LevelExtent(level uint32) (nx, ny, nz uint64) {
	m := uint64(1) << level
	return uint64(g.bbox.Nx0) * m, uint64(g.bbox.Ny0) * m,
		uint64(g.bbox.Nz0) * m
}

// GlobalID returns the ID of the block at the given indices. Indices outside
// the level's extent, or a level above MaxLevel(), give InvalidGlobalID.
func (g *Grid) GlobalID(level, i, j, k uint32) GlobalID {
	if level > g.maxLevel {
		return InvalidGlobalID
	}
	nx, ny, nz := g.LevelExtent(level)
	if uint64(i) >= nx || uint64(j) >= ny || uint64(k) >= nz {
		return InvalidGlobalID
	}
	return g.offsets[level] +
		GlobalID(uint64(k)*ny*nx+uint64(j)*nx+uint64(i))
}

func (g *Grid) id(idx Index) GlobalID {
	return g.GlobalID(idx.Level, idx.I, idx.J, idx.K)
}

// Indices inverts GlobalID. ok is false if id isn't on any level.
func (g *Grid) Indices(id GlobalID) (idx Index, ok bool) {
	if id >= g.end {
		return Index{}, false
	}

	level := sort.Search(len(g.offsets), func(l int) bool {
		return g.offsets[l] > id
	}) - 1

	nx, ny, _ := g.LevelExtent(uint32(level))
	rem := uint64(id - g.offsets[level])
	k := rem / (nx * ny)
	rem -= k * nx * ny
	j := rem / nx
	i := rem - j*nx

	return Index{uint32(level), uint32(i), uint32(j), uint32(k)}, true
}

// Level returns the refinement level of id, or false if id is invalid.
func (g *Grid) Level(id GlobalID) (uint32, bool) {
	idx, ok := g.Indices(id)
	return idx.Level, ok
}
