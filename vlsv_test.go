package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/bitmark-inc/logger"

	"github.com/phil-mansfield/vlsv/lib/config"
	"github.com/phil-mansfield/vlsv/lib/eq"
	"github.com/phil-mansfield/vlsv/lib/vlsv"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "vlsv-log")
	if err != nil {
		panic(err)
	}
	err = logger.Initialise(logger.Configuration{
		Directory: dir,
		File:      "testing.log",
		Size:      1048576,
		Count:     10,
		Console:   false,
		Levels: map[string]string{
			logger.DefaultTag: "critical",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("logger initialization failed: %s", err))
	}

	code := m.Run()
	logger.Finalise()
	os.RemoveAll(dir)
	os.Exit(code)
}

func testConfig(t *testing.T, run string) *config.Config {
	text := fmt.Sprintf(`[mesh]
name = grid
blocks-x = 2
blocks-y = 2
blocks-z = 2
cells-x = 2
cells-y = 2
cells-z = 2
max-level = 2
[run]
output = %s
%s
`, filepath.Join(t.TempDir(), "grid.vlsv"), run)

	cfg, err := config.Parse(text)
	if err != nil {
		t.Fatalf("Could not parse the test config: %s", err.Error())
	}
	return cfg
}

func TestBuildMesh(t *testing.T) {
	tests := []struct {
		run    string
		blocks int
		valid  bool
	}{
		{"", 8, true},
		{"refine = 0", 15, true},
		{"refine = 0 + 7", 22, true},
		// 8 is a child of 0, so it only exists once 0 is refined.
		{"refine = 0 + 8", 22, true},
		{"refine = 8", 0, false},
		{"refine = 0\ncoarsen = 8..15", 8, true},
		{"refine = 0\ncoarsen = 1", 0, false},
	}

	for i := range tests {
		cfg := testConfig(t, tests[i].run)
		m, err := buildMesh(cfg)
		if tests[i].valid && err != nil {
			t.Errorf("%d) Expected '%s' to build, got error '%s'.",
				i, tests[i].run, err.Error())
		} else if !tests[i].valid && err == nil {
			t.Errorf("%d) Expected '%s' to fail, but got no error.",
				i, tests[i].run)
		} else if tests[i].valid {
			if m.Size() != tests[i].blocks {
				t.Errorf("%d) Expected '%s' to give %d blocks, got %d.",
					i, tests[i].run, tests[i].blocks, m.Size())
			}
			if !m.CheckMesh() {
				t.Errorf("%d) Expected '%s' to give a valid mesh.",
					i, tests[i].run)
			}
		}
	}
}

func TestGenerateCheck(t *testing.T) {
	cfg := testConfig(t, "processes = 3\nmaster = 1\n"+
		"refine = 0 + 8\nvariable = level")

	m, err := generate(cfg)
	if err != nil {
		t.Fatalf("generate returned error: %s", err.Error())
	}

	for _, procs := range []int{1, 2, 4} {
		rep, err := check(cfg.Run.Output, "grid", procs)
		if err != nil {
			t.Fatalf("check on %d processes returned error: %s",
				procs, err.Error())
		}
		if !rep.ok {
			t.Errorf("Expected the mesh to pass its check on %d processes.",
				procs)
		}
		if !eq.Slices(rep.mesh.Blocks(), m.Blocks()) {
			t.Errorf("Expected %d processes to load blocks %d, got %d.",
				procs, m.Blocks(), rep.mesh.Blocks())
		}
		if rep.domains.Len() != 3 {
			t.Errorf("Expected 3 domains, got %d.", rep.domains.Len())
		}
		if !eq.Strings(rep.variables, []string{"level"}) {
			t.Errorf("Expected variables [level], got %s.", rep.variables)
		}
	}

	if _, err := check(cfg.Run.Output, "nope", 2); !errors.Is(err,
		vlsv.ErrNotFound) {
		t.Errorf("Expected checking a missing mesh to fail with "+
			"ErrNotFound, got %v.", err)
	}
}

func TestFormatAttributes(t *testing.T) {
	attrs := map[string]string{
		"name": "rho", "mesh": "grid", "arraysize": "10",
		"datasize": "8", "datatype": "float", "vectorsize": "1",
	}
	exp := `mesh="grid" name="rho"`
	if got := formatAttributes(attrs); got != exp {
		t.Errorf("Expected %s, got %s.", exp, got)
	}
}

func TestPrintLevels(t *testing.T) {
	m, err := buildMesh(testConfig(t, "refine = 0"))
	if err != nil {
		t.Fatalf("buildMesh returned error: %s", err.Error())
	}
	buf := &bytes.Buffer{}
	printLevels(buf, m)

	exp := "  level 0: 7 blocks\n  level 1: 8 blocks\n  level 2: 0 blocks\n"
	if buf.String() != exp {
		t.Errorf("Expected %q, got %q.", exp, buf.String())
	}
}
