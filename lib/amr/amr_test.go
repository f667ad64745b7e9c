package amr

import (
	"errors"
	"fmt"
	"math"
	"os"
	"testing"

	"github.com/bitmark-inc/logger"

	"github.com/phil-mansfield/vlsv/lib/eq"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "amr-log")
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

// table is a Callbacks implementation that hands out consecutive LocalIDs
// and remembers which block each one belongs to.
type table struct {
	next                               LocalID
	live                               map[LocalID]GlobalID
	creates, deletes, refines, coarsen int
}

func newTable() *table { return &table{live: map[LocalID]GlobalID{}} }

func (t *table) alloc(id GlobalID) LocalID {
	l := t.next
	t.next++
	t.live[l] = id
	return l
}

func (t *table) OnCreate(id GlobalID) LocalID {
	t.creates++
	return t.alloc(id)
}

func (t *table) OnDelete(id GlobalID, local LocalID) bool {
	t.deletes++
	if t.live[local] != id {
		return false
	}
	delete(t.live, local)
	return true
}

func (t *table) OnRefine(
	parent GlobalID, local LocalID, children [8]GlobalID,
) [8]LocalID {
	t.refines++
	delete(t.live, local)
	var out [8]LocalID
	for i := range out {
		out[i] = t.alloc(children[i])
	}
	return out
}

func (t *table) OnCoarsen(
	siblings [8]GlobalID, locals [8]LocalID, parent GlobalID,
) LocalID {
	t.coarsen++
	for _, l := range locals {
		delete(t.live, l)
	}
	return t.alloc(parent)
}

// consistent returns true if the table tracks exactly the mesh's blocks.
func (t *table) consistent(m *Mesh) bool {
	if len(t.live) != m.Size() {
		return false
	}
	ok := true
	m.Each(func(id GlobalID, local LocalID) bool {
		if t.live[local] != id {
			ok = false
		}
		return ok
	})
	return ok
}

var unitCube = Limits{0, 1, 0, 1, 0, 1}

func newTestMesh(t *testing.T, cb Callbacks) *Mesh {
	m, err := NewMesh(BoundingBox{2, 2, 2, 4, 4, 4}, 2, cb)
	if err != nil {
		t.Fatalf("NewMesh returned error: %s", err.Error())
	}
	if err := m.Initialize(unitCube, 0, nil); err != nil {
		t.Fatalf("Initialize returned error: %s", err.Error())
	}
	return m
}

// l1 returns the ID of a level-1 block in the 2 x 2 x 2 test mesh.
func l1(i, j, k GlobalID) GlobalID { return 8 + 16*k + 4*j + i }

func TestGlobalIDRoundTrip(t *testing.T) {
	tests := []struct {
		bbox     BoundingBox
		maxLevel uint32
		offsets  []GlobalID
	}{
		{BoundingBox{1, 1, 1, 1, 1, 1}, 0, []GlobalID{0}},
		{BoundingBox{2, 2, 2, 4, 4, 4}, 2, []GlobalID{0, 8, 72}},
		{BoundingBox{2, 3, 1, 1, 1, 1}, 3, []GlobalID{0, 6, 54, 438}},
	}

	for i := range tests {
		g, err := NewGrid(tests[i].bbox, tests[i].maxLevel)
		if err != nil {
			t.Fatalf("%d) NewGrid returned error: %s", i, err.Error())
		}
		if !eq.Slices(g.Offsets(), tests[i].offsets) {
			t.Errorf("%d) Expected offsets %d, got %d.",
				i, tests[i].offsets, g.Offsets())
		}

		next := GlobalID(0)
		for level := uint32(0); level <= g.MaxLevel(); level++ {
			nx, ny, nz := g.LevelExtent(level)
			for k := uint32(0); uint64(k) < nz; k++ {
				for j := uint32(0); uint64(j) < ny; j++ {
					for ii := uint32(0); uint64(ii) < nx; ii++ {
						id := g.GlobalID(level, ii, j, k)
						if id != next {
							t.Fatalf("%d) Expected (%d, %d, %d, %d) to have "+
								"ID %d, got %d.", i, level, ii, j, k, next, id)
						}
						next++

						idx, ok := g.Indices(id)
						exp := Index{level, ii, j, k}
						if !ok || idx != exp {
							t.Fatalf("%d) Expected Indices(%d) = %v, got %v "+
								"(ok = %v).", i, id, exp, idx, ok)
						}
					}
				}
			}
		}

		if next != g.End() {
			t.Errorf("%d) Expected End() = %d, got %d.", i, next, g.End())
		}
		if _, ok := g.Indices(g.End()); ok {
			t.Errorf("%d) Expected Indices(End()) to fail.", i)
		}
	}
}

func TestGlobalIDInvalid(t *testing.T) {
	g, err := NewGrid(BoundingBox{2, 3, 1, 1, 1, 1}, 1)
	if err != nil {
		t.Fatalf("NewGrid returned error: %s", err.Error())
	}

	tests := []Index{
		{0, 2, 0, 0}, {0, 0, 3, 0}, {0, 0, 0, 1},
		{1, 4, 0, 0}, {1, 0, 6, 0}, {1, 0, 0, 2},
		{2, 0, 0, 0},
	}
	for i := range tests {
		idx := tests[i]
		if id := g.GlobalID(idx.Level, idx.I, idx.J, idx.K); id != InvalidGlobalID {
			t.Errorf("%d) Expected %v to be invalid, got ID %d.", i, idx, id)
		}
	}
}

func TestNewGridErrors(t *testing.T) {
	tests := []struct {
		bbox     BoundingBox
		maxLevel uint32
		exp      error
	}{
		{BoundingBox{0, 1, 1, 1, 1, 1}, 0, ErrBoundingBox},
		{BoundingBox{1, 1, 1, 1, 0, 1}, 0, ErrBoundingBox},
		{BoundingBox{1, 1, 1, 1, 1, 1}, 40, ErrLevel},
		{BoundingBox{1 << 20, 1 << 20, 1 << 20, 1, 1, 1}, 4, ErrLevel},
		{BoundingBox{1, 1, 1, 1, 1, 1}, 20, nil},
	}

	for i := range tests {
		_, err := NewGrid(tests[i].bbox, tests[i].maxLevel)
		if tests[i].exp == nil && err != nil {
			t.Errorf("%d) Expected success, got %s.", i, err.Error())
		} else if tests[i].exp != nil && !errors.Is(err, tests[i].exp) {
			t.Errorf("%d) Expected %v, got %v.", i, tests[i].exp, err)
		}
	}
}

func TestChildrenParent(t *testing.T) {
	g, _ := NewGrid(BoundingBox{2, 2, 2, 4, 4, 4}, 2)

	children, ok := g.Children(0)
	exp := [8]GlobalID{
		l1(0, 0, 0), l1(1, 0, 0), l1(0, 1, 0), l1(1, 1, 0),
		l1(0, 0, 1), l1(1, 0, 1), l1(0, 1, 1), l1(1, 1, 1),
	}
	if !ok || children != exp {
		t.Errorf("Expected children of 0 to be %d, got %d.", exp, children)
	}
	for _, c := range children {
		if p := g.Parent(c); p != 0 {
			t.Errorf("Expected parent of %d to be 0, got %d.", c, p)
		}
	}

	children, ok = g.Children(7)
	if !ok || children[0] != l1(2, 2, 2) || children[7] != l1(3, 3, 3) {
		t.Errorf("Expected children of 7 to span %d-%d, got %d.",
			l1(2, 2, 2), l1(3, 3, 3), children)
	}

	if p := g.Parent(5); p != 5 {
		t.Errorf("Expected level 0 block 5 to be its own parent, got %d.", p)
	}
	if _, ok := g.Children(g.Offsets()[2]); ok {
		t.Errorf("Expected a max-level block to have no children.")
	}
	if p := g.Parent(g.End()); p != InvalidGlobalID {
		t.Errorf("Expected the parent of an invalid ID to be invalid, got %d.",
			p)
	}
}

func TestSiblingsNeighbors(t *testing.T) {
	g, _ := NewGrid(BoundingBox{2, 2, 2, 4, 4, 4}, 2)
	l2 := func(i, j, k GlobalID) GlobalID { return 72 + 64*k + 8*j + i }

	tests := []struct {
		id                GlobalID
		canonical         GlobalID
		nbrs, siblingNbrs int
	}{
		{l1(0, 0, 0), l1(0, 0, 0), 7, 19},
		{l1(1, 1, 1), l1(0, 0, 0), 26, 19},
		{l1(3, 2, 3), l1(2, 2, 2), 11, 19},
		{l2(3, 3, 3), l2(2, 2, 2), 26, 56},
		{l2(7, 0, 4), l2(6, 0, 4), 11, 28},
	}

	for i := range tests {
		test := tests[i]
		sibs := g.Siblings(test.id)
		if sibs[0] != test.canonical {
			t.Errorf("%d) Expected the octet of %d to start at %d, got %d.",
				i, test.id, test.canonical, sibs[0])
		}
		found := false
		for _, s := range sibs {
			if s == InvalidGlobalID {
				t.Errorf("%d) Octet of %d contains an invalid ID: %d.",
					i, test.id, sibs)
			}
			found = found || s == test.id
		}
		if !found {
			t.Errorf("%d) Expected %d to be in its own octet, %d.",
				i, test.id, sibs)
		}

		nbrs := g.Neighbors(test.id)
		if len(nbrs) != test.nbrs {
			t.Errorf("%d) Expected %d neighbors of %d, got %d.",
				i, test.nbrs, test.id, len(nbrs))
		}
		level, _ := g.Level(test.id)
		for _, nb := range nbrs {
			if nb == test.id {
				t.Errorf("%d) %d is its own neighbor.", i, test.id)
			} else if l, ok := g.Level(nb); !ok || l != level {
				t.Errorf("%d) Neighbor %d of %d is not on level %d.",
					i, nb, test.id, level)
			}
		}

		snbrs := g.SiblingNeighbors(test.id)
		if len(snbrs) != test.siblingNbrs {
			t.Errorf("%d) Expected %d sibling neighbors of %d, got %d.",
				i, test.siblingNbrs, test.id, len(snbrs))
		}
		for _, nb := range snbrs {
			for _, s := range sibs {
				if nb == s {
					t.Errorf("%d) Sibling %d is listed as a neighbor of its "+
						"own octet.", i, s)
				}
			}
		}
	}
}

func TestRefineCoarsenRoundTrip(t *testing.T) {
	tab := newTable()
	m := newTestMesh(t, tab)

	if m.Size() != 8 || tab.creates != 8 {
		t.Fatalf("Expected 8 initial blocks, got %d (%d creates).",
			m.Size(), tab.creates)
	}

	if !m.Refine(3) {
		t.Fatalf("Expected Refine(3) to succeed.")
	}
	children, _ := m.Children(3)
	if m.Exists(3) || m.Size() != 15 {
		t.Errorf("Expected block 3 to be replaced by its children, got "+
			"Exists(3) = %v and %d blocks.", m.Exists(3), m.Size())
	}
	for _, c := range children {
		if !m.Exists(c) {
			t.Errorf("Expected child %d to exist.", c)
		}
	}

	if !m.Coarsen(children[5]) {
		t.Fatalf("Expected Coarsen(%d) to succeed.", children[5])
	}
	if !eq.Slices(m.Blocks(), []GlobalID{0, 1, 2, 3, 4, 5, 6, 7}) {
		t.Errorf("Expected blocks 0-7 after coarsening, got %d.", m.Blocks())
	}
	if tab.refines != 1 || tab.coarsen != 1 {
		t.Errorf("Expected 1 refine and 1 coarsen callback, got %d and %d.",
			tab.refines, tab.coarsen)
	}
	if !tab.consistent(m) {
		t.Errorf("Callback table and mesh disagree.")
	}
	if !m.CheckMesh() {
		t.Errorf("CheckMesh failed.")
	}
}

func TestRefineBalance(t *testing.T) {
	tab := newTable()
	m := newTestMesh(t, tab)

	m.Refine(0)
	before := m.Blocks()

	// (1, 1, 1) on level 1 touches every other base block, so all of them
	// have to be refined.
	if !m.Refine(l1(1, 1, 1)) {
		t.Fatalf("Expected Refine(%d) to succeed.", l1(1, 1, 1))
	}
	if m.Size() != 71 {
		t.Errorf("Expected 71 blocks after balancing, got %d.", m.Size())
	}
	for id := GlobalID(0); id < 8; id++ {
		if m.Exists(id) {
			t.Errorf("Expected base block %d to be refined.", id)
		}
	}
	if tab.refines != 9 {
		t.Errorf("Expected 9 refine callbacks, got %d.", tab.refines)
	}

	// Every leaf that existed before is either gone or at most one level
	// away from the new children.
	children, _ := m.Children(l1(1, 1, 1))
	for _, id := range before {
		if !m.Exists(id) {
			continue
		}
		level, _ := m.Level(id)
		for _, c := range children {
			cl, _ := m.Level(c)
			if cl > level+1 {
				t.Errorf("Leaf %d on level %d is next to child %d on "+
					"level %d.", id, level, c, cl)
			}
		}
	}

	if !m.CheckMesh() {
		t.Errorf("CheckMesh failed.")
	}
	if !tab.consistent(m) {
		t.Errorf("Callback table and mesh disagree.")
	}
}

func TestCoarsenScenario(t *testing.T) {
	tab := newTable()
	m := newTestMesh(t, tab)

	m.Refine(7)
	m.Refine(0)
	if !m.Refine(l1(0, 0, 0)) {
		t.Fatalf("Expected Refine(%d) to succeed.", l1(0, 0, 0))
	}
	if m.Size() != 29 {
		t.Fatalf("Expected 29 blocks with no balancing, got %d.", m.Size())
	}

	// One sibling is refined.
	if m.Coarsen(l1(1, 0, 0)) {
		t.Errorf("Expected Coarsen to fail with a missing sibling.")
	}

	// The octet under block 7 is far from the level 2 blocks.
	if !m.Coarsen(l1(3, 2, 2)) {
		t.Errorf("Expected Coarsen(%d) to succeed.", l1(3, 2, 2))
	}
	if m.Size() != 22 {
		t.Errorf("Expected 22 blocks after coarsening, got %d.", m.Size())
	}
	if !m.Exists(7) {
		t.Errorf("Expected block 7 to exist again.")
	}

	if m.Coarsen(7) {
		t.Errorf("Expected Coarsen to fail on level 0.")
	}
	if !m.CheckMesh() || !tab.consistent(m) {
		t.Errorf("Mesh is inconsistent after coarsening.")
	}
}

func TestCoarsenBalance(t *testing.T) {
	m := newTestMesh(t, nil)

	m.Refine(0)
	m.Refine(7)
	// This also refines every base block that (1, 1, 1) touches.
	m.Refine(l1(1, 1, 1))
	size := m.Size()

	if m.Coarsen(l1(2, 2, 2)) {
		t.Errorf("Expected Coarsen to fail next to a refined neighbor.")
	}
	if m.Size() != size || !m.Exists(l1(2, 2, 2)) {
		t.Errorf("Expected a failed Coarsen to leave the mesh alone.")
	}
	if !m.CheckMesh() {
		t.Errorf("CheckMesh failed.")
	}
}

func TestRefineFailures(t *testing.T) {
	m := newTestMesh(t, nil)

	if m.Refine(l1(0, 0, 0)) {
		t.Errorf("Expected Refine of a missing block to fail.")
	}
	if m.Refine(InvalidGlobalID) {
		t.Errorf("Expected Refine of an invalid block to fail.")
	}

	m.Refine(0)
	m.Refine(l1(0, 0, 0))
	maxID := m.Offsets()[2]
	if !m.Exists(maxID) {
		t.Fatalf("Expected block %d to exist.", maxID)
	}
	if m.Refine(maxID) {
		t.Errorf("Expected Refine on the max level to fail.")
	}
}

func TestInitialize(t *testing.T) {
	m, _ := NewMesh(BoundingBox{2, 2, 2, 1, 1, 1}, 1, nil)

	if err := m.Initialize(unitCube, 2, nil); !errors.Is(err, ErrLevel) {
		t.Errorf("Expected ErrLevel, got %v.", err)
	}
	if err := m.Initialize(Limits{0, 1, 1, 1, 0, 1}, 0, nil); !errors.Is(err, ErrLimits) {
		t.Errorf("Expected ErrLimits, got %v.", err)
	}

	diag := func(id GlobalID, idx Index) bool {
		return idx.I == idx.J && idx.J == idx.K
	}
	if err := m.Initialize(unitCube, 1, diag); err != nil {
		t.Fatalf("Initialize returned error: %s", err.Error())
	}
	exp := []GlobalID{l1(0, 0, 0), l1(1, 1, 1), l1(2, 2, 2), l1(3, 3, 3)}
	if !eq.Slices(m.Blocks(), exp) {
		t.Errorf("Expected blocks %d, got %d.", exp, m.Blocks())
	}

	if err := m.Initialize(unitCube, 0, nil); err != nil {
		t.Errorf("Expected a second Initialize to be a no-op, got %s.",
			err.Error())
	}
	if m.Size() != 4 {
		t.Errorf("Expected a second Initialize to leave 4 blocks, got %d.",
			m.Size())
	}
}

func TestLoad(t *testing.T) {
	tab := newTable()
	m, _ := NewMesh(BoundingBox{2, 2, 2, 1, 1, 1}, 1, tab)

	if err := m.Load(unitCube, []GlobalID{1, 200}); !errors.Is(err, ErrBlock) {
		t.Errorf("Expected ErrBlock, got %v.", err)
	}
	if m.Size() != 0 {
		t.Errorf("Expected a failed Load to add nothing, got %d blocks.",
			m.Size())
	}

	ids := []GlobalID{l1(3, 3, 3), 1, 0, 1}
	if err := m.Load(unitCube, ids); err != nil {
		t.Fatalf("Load returned error: %s", err.Error())
	}
	if !eq.Slices(m.Blocks(), []GlobalID{0, 1, l1(3, 3, 3)}) {
		t.Errorf("Expected blocks [0 1 %d], got %d.", l1(3, 3, 3), m.Blocks())
	}
	if tab.creates != 3 || !tab.consistent(m) {
		t.Errorf("Expected 3 consistent creates, got %d.", tab.creates)
	}
	if err := m.Load(unitCube, ids); !errors.Is(err, ErrInitialized) {
		t.Errorf("Expected ErrInitialized, got %v.", err)
	}
}

func TestGlobalIDAt(t *testing.T) {
	m := newTestMesh(t, nil)
	m.Refine(0)

	tests := []struct {
		x, y, z float64
		id      GlobalID
	}{
		{0.1, 0.1, 0.1, l1(0, 0, 0)},
		{0.3, 0.1, 0.4, l1(1, 0, 1)},
		{0.9, 0.9, 0.9, 7},
		{1, 1, 1, 7},
		{0.75, 0.25, 0.25, 1},
		{1.5, 0.5, 0.5, InvalidGlobalID},
		{0.5, 1.5, 0.5, InvalidGlobalID},
		{0.5, 0.5, -0.1, InvalidGlobalID},
		{math.NaN(), 0.5, 0.5, InvalidGlobalID},
		{0.5, math.NaN(), 0.5, InvalidGlobalID},
		{0.5, 0.5, math.NaN(), InvalidGlobalID},
		{math.Inf(1), 0.5, 0.5, InvalidGlobalID},
	}

	for i := range tests {
		test := tests[i]
		if id := m.GlobalIDAt(test.x, test.y, test.z); id != test.id {
			t.Errorf("%d) Expected (%g, %g, %g) to be in block %d, got %d.",
				i, test.x, test.y, test.z, test.id, id)
		}
	}
}

func TestBlockCoordinates(t *testing.T) {
	m := newTestMesh(t, nil)
	m.Refine(0)

	tests := []struct {
		id           GlobalID
		ok           bool
		coords, size [3]float64
	}{
		{7, true, [3]float64{0.5, 0.5, 0.5}, [3]float64{0.5, 0.5, 0.5}},
		{l1(1, 0, 1), true, [3]float64{0.25, 0, 0.25},
			[3]float64{0.25, 0.25, 0.25}},
		{0, false, [3]float64{}, [3]float64{}},
	}

	for i := range tests {
		test := tests[i]
		coords, ok := m.BlockCoordinates(test.id)
		if ok != test.ok || coords != test.coords {
			t.Errorf("%d) Expected BlockCoordinates(%d) = %g, %v, got %g, "+
				"%v.", i, test.id, test.coords, test.ok, coords, ok)
		}
		if !test.ok {
			continue
		}
		size, _ := m.BlockSize(test.id)
		if size != test.size {
			t.Errorf("%d) Expected BlockSize(%d) = %g, got %g.",
				i, test.id, test.size, size)
		}
	}
}

func TestGetSetFinalize(t *testing.T) {
	tab := newTable()
	m := newTestMesh(t, tab)
	m.Refine(2)

	if l := m.Get(2); l != InvalidLocalID {
		t.Errorf("Expected Get of a refined block to fail, got %d.", l)
	}
	if m.Set(2, 5) {
		t.Errorf("Expected Set of a refined block to fail.")
	}

	local := m.Get(4)
	if !m.Set(4, local) || m.Get(4) != local {
		t.Errorf("Expected Set(4, %d) to stick, got %d.", local, m.Get(4))
	}

	n := m.Size()
	if !m.Finalize() {
		t.Errorf("Expected Finalize to succeed.")
	}
	if tab.deletes != n || len(tab.live) != 0 || m.Size() != 0 {
		t.Errorf("Expected %d deletes and an empty mesh, got %d deletes, "+
			"%d live, %d blocks.", n, tab.deletes, len(tab.live), m.Size())
	}

	m.Set(0, 0)
	if !m.Finalize() || tab.deletes != n {
		t.Errorf("Expected Finalize on an empty mesh to do nothing.")
	}
}

func TestCheckMeshDetectsDamage(t *testing.T) {
	m := newTestMesh(t, nil)
	m.Refine(0)

	// A lone level-2 block with no siblings.
	m.blocks[m.Offsets()[2]] = InvalidLocalID
	if m.CheckMesh() {
		t.Errorf("Expected CheckMesh to fail with an overlapping block.")
	}

	m = newTestMesh(t, nil)
	m.Refine(0)
	delete(m.blocks, l1(1, 1, 1))
	if m.CheckMesh() {
		t.Errorf("Expected CheckMesh to fail with a missing sibling.")
	}
}
