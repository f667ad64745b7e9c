package amr

import (
	"fmt"
	"math"
	"sort"

	"github.com/bitmark-inc/logger"

	verr "github.com/phil-mansfield/vlsv/lib/error"
)

// Mesh is the set of blocks that currently exist, each with its LocalID.
// Every existing block is a leaf: a block that has been refined is removed
// and replaced by its eight children.
//
// Mesh isn't safe for concurrent use.
type Mesh struct {
	*Grid
	cb          Callbacks
	blocks      map[GlobalID]LocalID
	limits      Limits
	initialized bool

	log *logger.L
}

// NewMesh creates an empty mesh. cb may be nil, in which case NoCallbacks is
// used.
func NewMesh(bbox BoundingBox, maxLevel uint32, cb Callbacks) (*Mesh, error) {
	g, err := NewGrid(bbox, maxLevel)
	if err != nil {
		return nil, err
	}
	if cb == nil {
		cb = NoCallbacks{}
	}
	return &Mesh{
		Grid: g, cb: cb, blocks: map[GlobalID]LocalID{},
		log: logger.New("amr"),
	}, nil
}

// Initialize adds every block on startLevel for which include returns true
// and sets the mesh's physical limits. A nil include adds every block. Once a
// mesh has been initialized, further calls do nothing.
func (m *Mesh) Initialize(
	limits Limits, startLevel uint32, include Criterion,
) error {
	if m.initialized {
		return nil
	}
	if startLevel > m.maxLevel {
		return fmt.Errorf("%w: starting level %d is above the maximum "+
			"level %d", ErrLevel, startLevel, m.maxLevel)
	} else if !limits.valid() {
		return fmt.Errorf("%w: %+v", ErrLimits, limits)
	}

	nx, ny, nz := m.LevelExtent(startLevel)
	for k := uint64(0); k < nz; k++ {
		for j := uint64(0); j < ny; j++ {
			for i := uint64(0); i < nx; i++ {
				idx := Index{startLevel, uint32(i), uint32(j), uint32(k)}
				id := m.id(idx)
				if include != nil && !include(id, idx) {
					continue
				}
				m.blocks[id] = m.cb.OnCreate(id)
			}
		}
	}

	m.limits, m.initialized = limits, true
	m.log.Debugf("initialized %d of %d blocks on level %d",
		len(m.blocks), nx*ny*nz, startLevel)
	return nil
}

// Load restores a mesh from a list of existing blocks, e.g. one read from a
// file. The mesh must not have been initialized.
func (m *Mesh) Load(limits Limits, ids []GlobalID) error {
	if m.initialized {
		return ErrInitialized
	} else if !limits.valid() {
		return fmt.Errorf("%w: %+v", ErrLimits, limits)
	}
	for _, id := range ids {
		if _, ok := m.Indices(id); !ok {
			return fmt.Errorf("%w: %d is not below the ID limit, %d",
				ErrBlock, id, m.end)
		}
	}

	for _, id := range ids {
		if _, ok := m.blocks[id]; !ok {
			m.blocks[id] = m.cb.OnCreate(id)
		}
	}
	m.limits, m.initialized = limits, true
	return nil
}

// Initialized returns true if Initialize or Load has succeeded.
func (m *Mesh) Initialized() bool { return m.initialized }

// Limits returns the physical bounds of the mesh.
func (m *Mesh) Limits() Limits { return m.limits }

// Exists returns true if id is currently a leaf of the mesh.
func (m *Mesh) Exists(id GlobalID) bool {
	_, ok := m.blocks[id]
	return ok
}

// Get returns the LocalID of an existing block, or InvalidLocalID.
func (m *Mesh) Get(id GlobalID) LocalID {
	local, ok := m.blocks[id]
	if !ok {
		return InvalidLocalID
	}
	return local
}

// Set changes the LocalID of an existing block. It returns false if the
// block doesn't exist.
func (m *Mesh) Set(id GlobalID, local LocalID) bool {
	if _, ok := m.blocks[id]; !ok {
		return false
	}
	m.blocks[id] = local
	return true
}

// Size returns the number of existing blocks.
func (m *Mesh) Size() int { return len(m.blocks) }

// Blocks returns the IDs of every existing block in increasing order.
func (m *Mesh) Blocks() []GlobalID {
	out := make([]GlobalID, 0, len(m.blocks))
	for id := range m.blocks {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Each calls f on every existing block in increasing ID order until f
// returns false. f must not refine or coarsen the mesh.
func (m *Mesh) Each(f func(id GlobalID, local LocalID) bool) {
	for _, id := range m.Blocks() {
		if !f(id, m.blocks[id]) {
			return
		}
	}
}

// Refine replaces id with its eight children. Afterwards, any neighboring
// leaf that is now two levels coarser than the children is refined too, so
// adjacent leaves never differ by more than one level. It returns false, and
// changes nothing, if id doesn't exist or is already at the maximum level.
func (m *Mesh) Refine(id GlobalID) bool {
	local, ok := m.blocks[id]
	if !ok {
		return false
	}
	children, ok := m.Children(id)
	if !ok {
		return false
	}

	locals := m.cb.OnRefine(id, local, children)
	delete(m.blocks, id)
	for c := range children {
		m.blocks[children[c]] = locals[c]
	}

	// A neighbor's parent is adjacent to the new children. If it's a leaf,
	// it's two levels coarser than them.
	for _, nb := range m.Neighbors(id) {
		parent := m.Parent(nb)
		if parent == nb {
			continue
		}
		if _, ok := m.blocks[parent]; ok {
			m.Refine(parent)
		}
	}

	return true
}

// Coarsen replaces the octet containing id with its parent. It returns false,
// and changes nothing, if id doesn't exist, is on level 0, has a sibling that
// doesn't exist, or if coarsening would leave the parent next to a leaf two
// levels finer.
func (m *Mesh) Coarsen(id GlobalID) bool {
	if _, ok := m.blocks[id]; !ok {
		return false
	}
	if level, _ := m.Level(id); level == 0 {
		return false
	}

	for _, nb := range m.SiblingNeighbors(id) {
		children, _ := m.Children(nb)
		for _, c := range children {
			if _, ok := m.blocks[c]; ok {
				return false
			}
		}
	}

	siblings := m.Siblings(id)
	var locals [8]LocalID
	for s := range siblings {
		local, ok := m.blocks[siblings[s]]
		if !ok {
			return false
		}
		locals[s] = local
	}

	parent := m.Parent(id)
	parentLocal := m.cb.OnCoarsen(siblings, locals, parent)

	for _, s := range siblings {
		if _, ok := m.blocks[s]; !ok {
			verr.Internal("Coarsen is removing block %d, which was just "+
				"shown to exist.", s)
		}
		delete(m.blocks, s)
	}
	m.blocks[parent] = parentLocal

	return true
}

// GlobalIDAt returns the existing block that contains the point (x, y, z),
// or InvalidGlobalID if the point is outside the mesh or inside a region
// with no blocks.
func (m *Mesh) GlobalIDAt(x, y, z float64) GlobalID {
	l := &m.limits
	// Written so that NaN coordinates fail every test.
	if !m.initialized ||
		!(x >= l.XMin && x <= l.XMax) ||
		!(y >= l.YMin && y <= l.YMax) ||
		!(z >= l.ZMin && z <= l.ZMax) {
		return InvalidGlobalID
	}

	for level := uint32(0); level <= m.maxLevel; level++ {
		nx, ny, nz := m.LevelExtent(level)
		i := cellIndex(x, l.XMin, l.XMax, nx)
		j := cellIndex(y, l.YMin, l.YMax, ny)
		k := cellIndex(z, l.ZMin, l.ZMax, nz)

		id := m.GlobalID(level, i, j, k)
		if _, ok := m.blocks[id]; ok {
			return id
		}
	}
	return InvalidGlobalID
}

// cellIndex returns the index of the bin containing x when [lo, hi] is split
// into n bins. hi itself goes in the last bin.
func cellIndex(x, lo, hi float64, n uint64) uint32 {
	i := uint64(math.Floor((x - lo) / (hi - lo) * float64(n)))
	if i >= n {
		i = n - 1
	}
	return uint32(i)
}

// BlockSize returns the physical size of a block on id's level.
func (m *Mesh) BlockSize(id GlobalID) (size [3]float64, ok bool) {
	level, ok := m.Level(id)
	if !ok || !m.initialized {
		return size, false
	}
	nx, ny, nz := m.LevelExtent(level)
	l := &m.limits
	return [3]float64{
		(l.XMax - l.XMin) / float64(nx),
		(l.YMax - l.YMin) / float64(ny),
		(l.ZMax - l.ZMin) / float64(nz),
	}, true
}

// BlockCoordinates returns the lower corner of an existing block.
func (m *Mesh) BlockCoordinates(id GlobalID) (coords [3]float64, ok bool) {
	if _, exists := m.blocks[id]; !exists {
		return coords, false
	}
	idx, _ := m.Indices(id)
	size, ok := m.BlockSize(id)
	if !ok {
		return coords, false
	}
	l := &m.limits
	return [3]float64{
		l.XMin + float64(idx.I)*size[0],
		l.YMin + float64(idx.J)*size[1],
		l.ZMin + float64(idx.K)*size[2],
	}, true
}

// Finalize calls OnDelete once for every remaining block, in increasing ID
// order, and empties the mesh. It returns false if any OnDelete call did.
func (m *Mesh) Finalize() bool {
	ok := true
	for _, id := range m.Blocks() {
		if !m.cb.OnDelete(id, m.blocks[id]) {
			ok = false
		}
	}
	if !ok {
		m.log.Warnf("some of %d blocks could not be deleted", len(m.blocks))
	}
	m.blocks = map[GlobalID]LocalID{}
	m.initialized = false
	return ok
}
