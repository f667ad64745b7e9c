/*package amrio stores amr.Mesh objects, and fields defined on their blocks, in
VLSV files.

A mesh named "m" is stored as the following arrays:

   MESH                 name=m  every block ID, grouped by domain (uint64)
   MESH_BBOX            mesh=m  the amr.BoundingBox (6 x uint32)
   MESH_DOMAIN_SIZES    mesh=m  [blocks, ghost blocks] for each domain
   MESH_GHOST_LOCALIDS  mesh=m  ghost bookkeeping, empty
   MESH_GHOST_DOMAINS   mesh=m  ghost bookkeeping, empty
   MESH_NODE_CRDS_X/Y/Z mesh=m  node coordinates of the base grid's cells

A domain is the set of blocks written by one process. Fields are stored as
VARIABLE arrays with one element per block, in the same order as MESH.
*/
package amrio

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/bitmark-inc/logger"
	"gonum.org/v1/gonum/floats"

	"github.com/phil-mansfield/vlsv/lib"
	"github.com/phil-mansfield/vlsv/lib/amr"
	"github.com/phil-mansfield/vlsv/lib/footer"
	"github.com/phil-mansfield/vlsv/lib/vlsv"
)

const (
	// MeshType is the type attribute of AMR MESH tags.
	MeshType = "amr"
	// Geometry is the geometry attribute of AMR MESH tags.
	Geometry = "cartesian"
)

// ErrEmpty is returned by Write for a mesh with no blocks, which Load could
// not tell apart from a damaged file.
var ErrEmpty = errors.New("mesh has no blocks")

var (
	logOnce sync.Once
	log     *logger.L
)

func channel() *logger.L {
	logOnce.Do(func() { log = logger.New("amrio") })
	return log
}

// Domains describes how the blocks of a stored mesh are split up between the
// processes that wrote it.
type Domains struct {
	// IDs holds every block in file order.
	IDs []amr.GlobalID
	// Blocks and Ghosts give the number of blocks and ghost blocks in each
	// domain.
	Blocks, Ghosts []uint64
}

// Len returns the number of domains.
func (d *Domains) Len() int { return len(d.Blocks) }

// Range returns the range of IDs that belongs to domains [lo, hi).
func (d *Domains) Range(lo, hi int) (start, end uint64) {
	for i := 0; i < hi; i++ {
		if i < lo {
			start += d.Blocks[i]
		}
		end += d.Blocks[i]
	}
	return start, end
}

// Share splits the domains into size contiguous groups and returns the
// group assigned to rank.
func (d *Domains) Share(rank, size int) (lo, hi int) {
	n := d.Len()
	return rank * n / size, (rank + 1) * n / size
}

// Partition splits blocks into size contiguous pieces and returns the piece
// belonging to rank.
func Partition(blocks []amr.GlobalID, rank, size int) []amr.GlobalID {
	n := len(blocks)
	return blocks[rank*n/size : (rank+1)*n/size]
}

func meshAttrs(name string) []footer.Attr { return footer.Attrs("mesh", name) }

// Write collectively stores a mesh. Every process passes the same mesh along
// with the blocks it owns, which become its domain. The master process
// writes the parts of the mesh that don't depend on the domain. An empty
// mesh fails with ErrEmpty before anything is written.
func Write(w *vlsv.Writer, m *amr.Mesh, name string, owned []amr.GlobalID) error {
	if m.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrEmpty, name)
	}
	master := w.Comm().Rank() == w.Master()

	ids := make([]uint64, len(owned))
	for i := range ids {
		ids[i] = uint64(owned[i])
	}
	err := w.WriteArray("MESH", footer.Attrs(
		"name", name,
		"type", MeshType,
		"max_refinement_level", strconv.FormatUint(uint64(m.MaxLevel()), 10),
		"geometry", Geometry,
	), 1, ids)
	if err != nil {
		return err
	}

	bbox := []uint32{}
	if master {
		arr := m.BoundingBox().Array()
		bbox = arr[:]
	}
	if err := w.WriteArray("MESH_BBOX", meshAttrs(name), 1, bbox); err != nil {
		return err
	}

	sizes := []uint64{uint64(len(owned)), 0}
	if err := w.WriteArray("MESH_DOMAIN_SIZES", meshAttrs(name), 2,
		sizes); err != nil {
		return err
	}

	for _, tag := range []string{"MESH_GHOST_LOCALIDS", "MESH_GHOST_DOMAINS"} {
		if err := w.WriteArray(tag, meshAttrs(name), 1,
			[]uint64{}); err != nil {
			return err
		}
	}

	x, y, z := []float64{}, []float64{}, []float64{}
	if master {
		x, y, z = NodeCoordinates(m)
	}
	crds := []struct {
		tag string
		x   []float64
	}{
		{"MESH_NODE_CRDS_X", x}, {"MESH_NODE_CRDS_Y", y},
		{"MESH_NODE_CRDS_Z", z},
	}
	for _, c := range crds {
		if err := w.WriteArray(c.tag, meshAttrs(name), 1, c.x); err != nil {
			return err
		}
	}

	if master {
		channel().Infof("wrote mesh %s: %d levels, %v", name,
			m.MaxLevel()+1, m.BoundingBox().Array())
	}
	return nil
}

// NodeCoordinates returns the evenly spaced cell nodes of the base grid
// along each axis.
func NodeCoordinates(m *amr.Mesh) (x, y, z []float64) {
	b, l := m.BoundingBox(), m.Limits()
	x = floats.Span(make([]float64, b.Nx0*b.CellsX+1), l.XMin, l.XMax)
	y = floats.Span(make([]float64, b.Ny0*b.CellsY+1), l.YMin, l.YMax)
	z = floats.Span(make([]float64, b.Nz0*b.CellsZ+1), l.ZMin, l.ZMax)
	return x, y, z
}

// WriteVariable collectively stores a field defined on a mesh's blocks.
// data holds vectorSize values for each of this process's blocks, in the
// same order as the blocks passed to Write.
func WriteVariable(
	w *vlsv.Writer, meshName, varName string, vectorSize int, data []float64,
) error {
	return w.WriteArray("VARIABLE", footer.Attrs(
		"name", varName, "mesh", meshName,
	), vectorSize, data)
}

// Load collectively reads a mesh. Every process gets the full mesh, with
// every block created through cb, along with the domain layout.
func Load(
	r *vlsv.ParReader, name string, cb amr.Callbacks,
) (*amr.Mesh, *Domains, error) {
	attrs, err := r.ArrayAttributes("MESH", footer.Attrs("name", name))
	if err != nil {
		return nil, nil, err
	}
	if attrs["type"] != MeshType {
		return nil, nil, fmt.Errorf("%w: mesh %s has type '%s', not '%s'",
			vlsv.ErrMalformed, name, attrs["type"], MeshType)
	}
	maxLevel, err := strconv.ParseUint(attrs["max_refinement_level"], 10, 32)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: mesh %s has "+
			"max_refinement_level='%s'", vlsv.ErrMalformed, name,
			attrs["max_refinement_level"])
	}

	bboxArr, err := readAll[uint32](r, "MESH_BBOX", meshAttrs(name), 1)
	if err != nil {
		return nil, nil, err
	} else if len(bboxArr) != 6 {
		return nil, nil, fmt.Errorf("%w: MESH_BBOX of %s has %d elements",
			vlsv.ErrMalformed, name, len(bboxArr))
	}
	bbox := amr.BoundingBoxFromArray([6]uint32(bboxArr))

	m, err := amr.NewMesh(bbox, uint32(maxLevel), cb)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", vlsv.ErrMalformed, err.Error())
	}

	limits, err := readLimits(r, name, bbox)
	if err != nil {
		return nil, nil, err
	}

	sizes, err := readAll[uint64](r, "MESH_DOMAIN_SIZES", meshAttrs(name), 2)
	if err != nil {
		return nil, nil, err
	}
	d := &Domains{}
	total := uint64(0)
	for i := 0; i < len(sizes); i += 2 {
		d.Blocks = append(d.Blocks, sizes[i])
		d.Ghosts = append(d.Ghosts, sizes[i+1])
		total += sizes[i]
	}

	ids, err := readAll[uint64](r, "MESH", footer.Attrs("name", name), 1)
	if err != nil {
		return nil, nil, err
	} else if uint64(len(ids)) != total {
		return nil, nil, fmt.Errorf("%w: mesh %s has %d blocks, but its "+
			"domains have %d", vlsv.ErrMalformed, name, len(ids), total)
	}
	d.IDs = make([]amr.GlobalID, len(ids))
	for i := range ids {
		d.IDs[i] = amr.GlobalID(ids[i])
	}

	if err := m.Load(limits, d.IDs); err != nil {
		return nil, nil, fmt.Errorf("%w: %s", vlsv.ErrMalformed, err.Error())
	}

	if r.Comm().Rank() == r.Master() {
		channel().Infof("loaded mesh %s: %d blocks in %d domains", name,
			m.Size(), d.Len())
	}
	return m, d, nil
}

// readLimits recovers the mesh limits from the node coordinates, which must
// be strictly increasing.
func readLimits(
	r *vlsv.ParReader, name string, bbox amr.BoundingBox,
) (amr.Limits, error) {
	axes := []struct {
		tag string
		n   uint32
	}{
		{"MESH_NODE_CRDS_X", bbox.Nx0 * bbox.CellsX},
		{"MESH_NODE_CRDS_Y", bbox.Ny0 * bbox.CellsY},
		{"MESH_NODE_CRDS_Z", bbox.Nz0 * bbox.CellsZ},
	}

	var lim [6]float64
	for i, ax := range axes {
		x, err := readAll[float64](r, ax.tag, meshAttrs(name), 1)
		if err != nil {
			return amr.Limits{}, err
		}
		if len(x) != int(ax.n)+1 {
			return amr.Limits{}, fmt.Errorf("%w: %s of %s has %d entries, "+
				"expected %d", vlsv.ErrMalformed, ax.tag, name, len(x), ax.n+1)
		}

		dx := floats.SubTo(make([]float64, len(x)-1), x[1:], x[:len(x)-1])
		if floats.Min(dx) <= 0 {
			return amr.Limits{}, fmt.Errorf("%w: %s of %s is not strictly "+
				"increasing", vlsv.ErrMalformed, ax.tag, name)
		}
		lim[2*i], lim[2*i+1] = x[0], x[len(x)-1]
	}

	return amr.Limits{
		XMin: lim[0], XMax: lim[1], YMin: lim[2], YMax: lim[3],
		ZMin: lim[4], ZMax: lim[5],
	}, nil
}

// Variable is the part of a field that one process loaded.
type Variable struct {
	// IDs are the blocks this process loaded, in file order.
	IDs []amr.GlobalID
	// VectorSize is the number of values stored for each block.
	VectorSize int
	// Data holds VectorSize values for each block.
	Data []float64
}

// Block returns the values of the i-th loaded block.
func (v *Variable) Block(i int) []float64 {
	return v.Data[i*v.VectorSize : (i+1)*v.VectorSize]
}

// LoadVariable collectively reads a field. Each process reads the blocks of
// a contiguous range of domains, one batched read unit per block.
func LoadVariable(
	r *vlsv.ParReader, meshName, varName string, d *Domains,
) (*Variable, error) {
	attrs := footer.Attrs("name", varName, "mesh", meshName)
	info, err := r.ArrayInfo("VARIABLE", attrs)
	if err != nil {
		return nil, err
	}
	if err := r.MultiReadStart("VARIABLE", attrs); err != nil {
		return nil, err
	}

	lo, hi := d.Share(r.Comm().Rank(), r.Comm().Size())
	start, end := d.Range(lo, hi)
	v := &Variable{
		IDs:        d.IDs[start:end],
		VectorSize: int(info.VectorSize),
		Data:       make([]float64, (end-start)*info.VectorSize),
	}

	// A type mismatch is the same on every process, but the batch still has
	// to be finished.
	var typeErr error
	if info.DataType != lib.Float || info.DataSize != 8 {
		typeErr = fmt.Errorf("%w: %s has %d-byte %s values, not float64",
			vlsv.ErrMalformed, varName, info.DataSize, info.DataType)
	} else if info.ArraySize != uint64(len(d.IDs)) {
		typeErr = fmt.Errorf("%w: %s has %d blocks, but mesh %s has %d",
			vlsv.ErrMalformed, varName, info.ArraySize, meshName, len(d.IDs))
	}

	stride := int(info.Stride())
	buf := make([]byte, len(v.IDs)*stride)
	if typeErr == nil {
		for i := range v.IDs {
			if err := r.MultiReadAddUnit(1,
				buf[i*stride:(i+1)*stride]); err != nil {
				typeErr = err
				break
			}
		}
	}
	if err := r.MultiReadEnd(start); err != nil && typeErr == nil {
		typeErr = err
	}
	if typeErr != nil {
		return nil, typeErr
	}

	if err := lib.ReadAsBytes(bytes.NewReader(buf), r.Order(),
		v.Data); err != nil {
		return nil, err
	}
	return v, nil
}

// Variables returns the names of every field stored in the file.
func Variables(r *vlsv.ParReader) ([]string, error) {
	return r.UniqueAttributeValues("VARIABLE", "name")
}

// readAll reads every element of an array on every process. The array must
// hold values of type T, vectorSize to an element.
func readAll[T uint32 | uint64 | float64](
	r *vlsv.ParReader, tag string, attrs []footer.Attr, vectorSize uint64,
) ([]T, error) {
	info, err := r.ArrayInfo(tag, attrs)
	if err != nil {
		return nil, err
	}

	kind, size, _, _ := lib.ElementType([]T{})
	if info.DataType != kind || info.DataSize != uint64(size) ||
		info.VectorSize != vectorSize {
		return nil, fmt.Errorf("%w: %s has %d-byte %s values, %d to an "+
			"element, expected %d-byte %s values, %d to an element",
			vlsv.ErrMalformed, tag, info.DataSize, info.DataType,
			info.VectorSize, size, kind, vectorSize)
	}

	buf := make([]byte, info.ArraySize*info.Stride())
	if err := r.ReadArray(tag, attrs, 0, info.ArraySize, buf); err != nil {
		return nil, err
	}
	out := make([]T, info.ArraySize*vectorSize)
	if err := lib.ReadAsBytes(bytes.NewReader(buf), r.Order(),
		out); err != nil {
		return nil, err
	}
	return out, nil
}
