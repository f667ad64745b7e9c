package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"github.com/phil-mansfield/vlsv/lib/amr"
	"github.com/phil-mansfield/vlsv/lib/amrio"
	"github.com/phil-mansfield/vlsv/lib/config"
	"github.com/phil-mansfield/vlsv/lib/mpi"
	"github.com/phil-mansfield/vlsv/lib/vlsv"
)

func metadataConfig(c *cli.Context) *config.Config {
	return c.App.Metadata["config"].(*config.Config)
}

func runGenerate(c *cli.Context) error {
	cfg := metadataConfig(c)
	m, err := generate(cfg)
	if err != nil {
		return err
	}

	info, err := os.Stat(cfg.Run.Output)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "wrote mesh %s to %s: %s blocks, %s\n",
		cfg.Mesh.Name, cfg.Run.Output, humanize.Comma(int64(m.Size())),
		humanize.Bytes(uint64(info.Size())))
	printLevels(c.App.Writer, m)
	return nil
}

func runCheck(c *cli.Context) error {
	cfg := metadataConfig(c)
	fname := c.Args().First()
	if fname == "" {
		return fmt.Errorf("check needs a file name")
	}
	name := c.String("mesh")
	if name == "" {
		name = cfg.Mesh.Name
	}
	procs := c.Int("processes")
	if procs <= 0 {
		procs = cfg.Run.Processes
	}

	rep, err := check(fname, name, procs)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "mesh %s in %s: %s blocks in %d domains, "+
		"%d variables\n", name, fname, humanize.Comma(int64(rep.mesh.Size())),
		rep.domains.Len(), len(rep.variables))
	printLevels(c.App.Writer, rep.mesh)
	if !rep.ok {
		return fmt.Errorf("mesh %s failed its structure check, see the log",
			name)
	}
	fmt.Fprintln(c.App.Writer, "No errors detected.")
	return nil
}

func runDump(c *cli.Context) error {
	fname := c.Args().First()
	if fname == "" {
		return fmt.Errorf("dump needs a file name")
	}

	r := &vlsv.Reader{}
	if err := r.Open(fname); err != nil {
		return err
	}
	defer r.Close()

	arrays, err := r.Arrays()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "TAG\tOFFSET\tELEMENTS\tTYPE\tSIZE\tATTRIBUTES")
	for _, a := range arrays {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%dx%s%d\t%s\t%s\n", a.TagName, a.Offset,
			humanize.Comma(int64(a.ArraySize)), a.VectorSize, a.DataType,
			8*a.DataSize, humanize.Bytes(a.ArraySize*a.Stride()),
			formatAttributes(a.Attributes))
	}
	return tw.Flush()
}

func runExampleConfig(c *cli.Context) error {
	_, err := fmt.Fprint(c.App.Writer, config.Example)
	return err
}

// formatAttributes prints the attributes which aren't already shown in
// their own columns.
func formatAttributes(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		switch k {
		case "arraysize", "datasize", "datatype", "vectorsize":
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = fmt.Sprintf("%s=%q", k, attrs[k])
	}
	return strings.Join(out, " ")
}

// buildMesh builds the mesh described by cfg on a single process.
func buildMesh(cfg *config.Config) (*amr.Mesh, error) {
	m, err := amr.NewMesh(cfg.BoundingBox(), cfg.Mesh.MaxLevel, nil)
	if err != nil {
		return nil, err
	}
	if err := m.Initialize(cfg.Limits(), cfg.Mesh.StartLevel, nil); err != nil {
		return nil, err
	}

	for _, id := range cfg.RefineIDs() {
		if !m.Refine(id) {
			return nil, fmt.Errorf("block %d could not be refined: it is "+
				"not a leaf or is already at level %d", id, cfg.Mesh.MaxLevel)
		}
	}
	for _, id := range cfg.CoarsenIDs() {
		if !m.Exists(id) {
			// Coarsening a sibling removes the rest of its octet.
			continue
		}
		if !m.Coarsen(id) {
			return nil, fmt.Errorf("block %d could not be coarsened", id)
		}
	}
	return m, nil
}

// generate builds the configured mesh on every process and writes it, along
// with the configured level variable, to the output file. It returns the
// master's copy of the mesh.
func generate(cfg *config.Config) (*amr.Mesh, error) {
	meshes := make([]*amr.Mesh, cfg.Run.Processes)

	err := mpi.Run(cfg.Run.Processes, func(comm *mpi.Comm) error {
		m, err := buildMesh(cfg)
		if err != nil {
			return err
		}
		meshes[comm.Rank()] = m
		owned := amrio.Partition(m.Blocks(), comm.Rank(), comm.Size())

		w, err := vlsv.Create(cfg.Run.Output, comm, cfg.Run.Master)
		if err != nil {
			return err
		}
		if err := amrio.Write(w, m, cfg.Mesh.Name, owned); err != nil {
			w.Close()
			return err
		}

		if cfg.Run.Variable != "" {
			cells := int(m.BoundingBox().Cells())
			data := make([]float64, 0, len(owned)*cells)
			for _, id := range owned {
				level, _ := m.Level(id)
				for i := 0; i < cells; i++ {
					data = append(data, float64(level))
				}
			}
			err = amrio.WriteVariable(w, cfg.Mesh.Name, cfg.Run.Variable,
				cells, data)
			if err != nil {
				w.Close()
				return err
			}
		}
		return w.Close()
	})
	if err != nil {
		return nil, err
	}
	return meshes[cfg.Run.Master], nil
}

type checkReport struct {
	mesh      *amr.Mesh
	domains   *amrio.Domains
	variables []string
	ok        bool
}

// check loads a mesh and every variable defined on it with procs processes
// and verifies the mesh on each of them.
func check(fname, name string, procs int) (*checkReport, error) {
	reports := make([]checkReport, procs)

	err := mpi.Run(procs, func(comm *mpi.Comm) error {
		r, err := vlsv.OpenParallel(fname, comm, 0)
		if err != nil {
			return err
		}
		defer r.Close()

		rep := &reports[comm.Rank()]
		rep.mesh, rep.domains, err = amrio.Load(r, name, nil)
		if err != nil {
			return err
		}
		rep.ok = rep.mesh.CheckMesh()

		names, err := amrio.Variables(r)
		if err != nil {
			return err
		}
		for _, v := range names {
			_, err := amrio.LoadVariable(r, name, v, rep.domains)
			if errors.Is(err, vlsv.ErrNotFound) {
				// Defined on another mesh.
				continue
			} else if err != nil {
				return err
			}
			rep.variables = append(rep.variables, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := reports[0]
	for i := range reports {
		out.ok = out.ok && reports[i].ok
	}
	return &out, nil
}

// printLevels prints the number of blocks on each refinement level.
func printLevels(w io.Writer, m *amr.Mesh) {
	counts := make([]int, m.MaxLevel()+1)
	m.Each(func(id amr.GlobalID, _ amr.LocalID) bool {
		level, _ := m.Level(id)
		counts[level]++
		return true
	})
	for level, n := range counts {
		fmt.Fprintf(w, "  level %d: %s blocks\n", level,
			humanize.Comma(int64(n)))
	}
}
