/*package config reads the INI files which describe how the vlsv tool builds
and stores a mesh. A file has three sections:

   [mesh]
   name = grid
   blocks-x = 4
   ...
   [run]
   processes = 4
   output = grid.vlsv
   refine = 0..7 - 3
   [log]
   directory = log
   level = info

Any variable that is left out keeps the value given by Default. Block lists
use the sequence language from lib/format.
*/
package config

import (
	"fmt"
	"path/filepath"

	"github.com/bitmark-inc/logger"
	"gopkg.in/gcfg.v1"

	"github.com/phil-mansfield/vlsv/lib/amr"
)

const (
	defaultLogDirectory = "log"
	defaultLogFile      = "vlsv.log"
	defaultLogCount     = 10          // number of log files retained
	defaultLogSize      = 1024 * 1024 // rotate when the log exceeds this size
)

// Mesh describes the base grid of the mesh and its extent.
type Mesh struct {
	Name       string  `gcfg:"name" validate:"required"`
	BlocksX    uint32  `gcfg:"blocks-x" validate:"min=1"`
	BlocksY    uint32  `gcfg:"blocks-y" validate:"min=1"`
	BlocksZ    uint32  `gcfg:"blocks-z" validate:"min=1"`
	CellsX     uint32  `gcfg:"cells-x" validate:"min=1"`
	CellsY     uint32  `gcfg:"cells-y" validate:"min=1"`
	CellsZ     uint32  `gcfg:"cells-z" validate:"min=1"`
	MaxLevel   uint32  `gcfg:"max-level" validate:"max=31"`
	StartLevel uint32  `gcfg:"start-level" validate:"ltefield=MaxLevel"`
	XMin       float64 `gcfg:"x-min"`
	XMax       float64 `gcfg:"x-max" validate:"gtfield=XMin"`
	YMin       float64 `gcfg:"y-min"`
	YMax       float64 `gcfg:"y-max" validate:"gtfield=YMin"`
	ZMin       float64 `gcfg:"z-min"`
	ZMax       float64 `gcfg:"z-max" validate:"gtfield=ZMin"`
}

// Run describes how the mesh is refined and written.
type Run struct {
	Processes int    `gcfg:"processes" validate:"min=1,max=4096"`
	Master    int    `gcfg:"master" validate:"min=0,ltfield=Processes"`
	Output    string `gcfg:"output" validate:"required"`
	// Refine and Coarsen are sequences of block IDs. Refinement happens in
	// increasing order of ID, so children created by one step can be
	// refined by a later one. Coarsening happens afterwards.
	Refine  string `gcfg:"refine"`
	Coarsen string `gcfg:"coarsen"`
	// Variable names a field filled with each block's refinement level.
	// It isn't written if empty.
	Variable string `gcfg:"variable"`
}

// Log configures the channel logger.
type Log struct {
	Directory string `gcfg:"directory" validate:"required"`
	File      string `gcfg:"file" validate:"required"`
	Size      int    `gcfg:"size" validate:"min=1024"`
	Count     int    `gcfg:"count" validate:"min=1"`
	Console   bool   `gcfg:"console"`
	Level     string `gcfg:"level" validate:"oneof=trace debug info warn error critical"`
}

// Config is the full contents of a configuration file.
type Config struct {
	Mesh Mesh `gcfg:"mesh"`
	Run  Run  `gcfg:"run"`
	Log  Log  `gcfg:"log"`

	refine, coarsen []amr.GlobalID
}

// Default returns the configuration used for anything a file leaves out: a
// single-level 4x4x4 unit cube written by one process.
func Default() *Config {
	return &Config{
		Mesh: Mesh{
			Name:    "mesh",
			BlocksX: 4, BlocksY: 4, BlocksZ: 4,
			CellsX: 1, CellsY: 1, CellsZ: 1,
			XMax: 1, YMax: 1, ZMax: 1,
		},
		Run: Run{
			Processes: 1,
			Output:    "mesh.vlsv",
		},
		Log: Log{
			Directory: defaultLogDirectory,
			File:      defaultLogFile,
			Size:      defaultLogSize,
			Count:     defaultLogCount,
			Level:     "critical",
		},
	}
}

// Read reads, and validates, a configuration file. Relative paths inside it
// are taken relative to the file's directory.
func Read(fname string) (*Config, error) {
	fname, err := filepath.Abs(filepath.Clean(fname))
	if err != nil {
		return nil, err
	}

	c := Default()
	if err := gcfg.ReadFileInto(c, fname); err != nil {
		return nil, fmt.Errorf("could not read config file %s: %s", fname,
			err.Error())
	}

	dir := filepath.Dir(fname)
	c.Run.Output = rebase(dir, c.Run.Output)
	c.Log.Directory = rebase(dir, c.Log.Directory)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %s", fname,
			err.Error())
	}
	return c, nil
}

// Parse reads and validates configuration text.
func Parse(text string) (*Config, error) {
	c := Default()
	if err := gcfg.ReadStringInto(c, text); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func rebase(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// BoundingBox returns the mesh's base grid.
func (c *Config) BoundingBox() amr.BoundingBox {
	m := &c.Mesh
	return amr.BoundingBox{
		Nx0: m.BlocksX, Ny0: m.BlocksY, Nz0: m.BlocksZ,
		CellsX: m.CellsX, CellsY: m.CellsY, CellsZ: m.CellsZ,
	}
}

// Limits returns the physical extent of the mesh.
func (c *Config) Limits() amr.Limits {
	m := &c.Mesh
	return amr.Limits{
		XMin: m.XMin, XMax: m.XMax, YMin: m.YMin, YMax: m.YMax,
		ZMin: m.ZMin, ZMax: m.ZMax,
	}
}

// RefineIDs returns the blocks listed under refine, in increasing order.
func (c *Config) RefineIDs() []amr.GlobalID { return c.refine }

// CoarsenIDs returns the blocks listed under coarsen, in increasing order.
func (c *Config) CoarsenIDs() []amr.GlobalID { return c.coarsen }

// LoggerConfiguration converts the [log] section into the form expected by
// logger.Initialise.
func (c *Config) LoggerConfiguration() logger.Configuration {
	return logger.Configuration{
		Directory: c.Log.Directory,
		File:      c.Log.File,
		Size:      c.Log.Size,
		Count:     c.Log.Count,
		Console:   c.Log.Console,
		Levels: map[string]string{
			logger.DefaultTag: c.Log.Level,
		},
	}
}

// Example is a commented configuration file, printed by example-config.
const Example = `; vlsv configuration file

[mesh]
name = grid
; base grid, in blocks
blocks-x = 4
blocks-y = 4
blocks-z = 2
; cells in each block
cells-x = 8
cells-y = 8
cells-z = 8
max-level = 3
start-level = 0
x-min = -1
x-max = 1
y-min = -1
y-max = 1
z-min = 0
z-max = 1

[run]
processes = 4
master = 0
output = grid.vlsv
; block IDs, e.g. 0..7 - 3
refine = 0 + 5
; coarsen = 40..47
variable = level

[log]
directory = log
file = vlsv.log
size = 1048576
count = 10
console = false
level = info
`
