package amrio_test

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/phil-mansfield/vlsv/lib/amr"
	"github.com/phil-mansfield/vlsv/lib/amrio"
	"github.com/phil-mansfield/vlsv/lib/mpi"
	"github.com/phil-mansfield/vlsv/lib/vlsv"
)

// Two processes write a refined mesh along with a field holding each block's
// ID, then three processes read it back. Each reader gets the whole mesh but
// only its share of the field.
func Example() {
	dir, err := os.MkdirTemp("", "amrio-example")
	if err != nil {
		panic(err.Error())
	}
	defer os.RemoveAll(dir)
	fname := filepath.Join(dir, "mesh.vlsv")

	bbox := amr.BoundingBox{Nx0: 2, Ny0: 1, Nz0: 1, CellsX: 1, CellsY: 1, CellsZ: 1}
	limits := amr.Limits{XMax: 2, YMax: 1, ZMax: 1}

	err = mpi.Run(2, func(comm *mpi.Comm) error {
		m, err := amr.NewMesh(bbox, 1, nil)
		if err != nil {
			return err
		}
		if err := m.Initialize(limits, 0, nil); err != nil {
			return err
		}
		m.Refine(1)

		owned := amrio.Partition(m.Blocks(), comm.Rank(), comm.Size())
		ids := make([]float64, len(owned))
		for i := range owned {
			ids[i] = float64(owned[i])
		}

		w, err := vlsv.Create(fname, comm, 0)
		if err != nil {
			return err
		}
		if err := amrio.Write(w, m, "grid", owned); err != nil {
			return err
		}
		if err := amrio.WriteVariable(w, "grid", "id", 1, ids); err != nil {
			return err
		}
		return w.Close()
	})
	if err != nil {
		panic(err.Error())
	}

	vars := make([]*amrio.Variable, 3)
	err = mpi.Run(3, func(comm *mpi.Comm) error {
		r, err := vlsv.OpenParallel(fname, comm, 0)
		if err != nil {
			return err
		}
		defer r.Close()

		m, d, err := amrio.Load(r, "grid", nil)
		if err != nil {
			return err
		}
		if comm.Rank() == 0 {
			fmt.Println("blocks:", m.Blocks())
			fmt.Println("domain sizes:", d.Blocks)
		}
		vars[comm.Rank()], err = amrio.LoadVariable(r, "grid", "id", d)
		return err
	})
	if err != nil {
		panic(err.Error())
	}

	for rank, v := range vars {
		fmt.Printf("rank %d: %v\n", rank, v.Data)
	}

	// Output:
	// blocks: [0 4 5 8 9 12 13 16 17]
	// domain sizes: [4 5]
	// rank 0: []
	// rank 1: [0 4 5 8]
	// rank 2: [9 12 13 16 17]
}
