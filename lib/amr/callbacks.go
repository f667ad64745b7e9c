package amr

// Callbacks lets an application keep its own per-block storage in sync with
// the mesh. Every structural change to a Mesh calls exactly one of these.
type Callbacks interface {
	// OnCreate is called when a block is added by Initialize or Load and
	// returns the block's LocalID.
	OnCreate(id GlobalID) LocalID
	// OnDelete is called once for every block that still exists when the
	// mesh is finalized. It returns false if the storage couldn't be
	// released.
	OnDelete(id GlobalID, local LocalID) bool
	// OnRefine is called before parent is replaced by its children and
	// returns the children's LocalIDs, in the same order.
	OnRefine(parent GlobalID, local LocalID,
		children [8]GlobalID) [8]LocalID
	// OnCoarsen is called before the octet siblings is replaced by parent
	// and returns the parent's LocalID.
	OnCoarsen(siblings [8]GlobalID, locals [8]LocalID,
		parent GlobalID) LocalID
}

// NoCallbacks does no bookkeeping. Every block gets InvalidLocalID.
type NoCallbacks struct{}

func (NoCallbacks) OnCreate(GlobalID) LocalID { return InvalidLocalID }

func (NoCallbacks) OnDelete(GlobalID, LocalID) bool { return true }

func (NoCallbacks) OnRefine(GlobalID, LocalID, [8]GlobalID) [8]LocalID {
	var out [8]LocalID
	for i := range out {
		out[i] = InvalidLocalID
	}
	return out
}

func (NoCallbacks) OnCoarsen([8]GlobalID, [8]LocalID, GlobalID) LocalID {
	return InvalidLocalID
}

// Criterion decides whether a candidate block is part of the initial mesh.
type Criterion func(id GlobalID, idx Index) bool
