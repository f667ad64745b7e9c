package amr

// The queries in this file are purely geometric. They don't check whether any
// of the blocks they return exist.

// Children returns the eight children of id, with i varying fastest, then j,
// then k. ok is false if id is invalid or already at the maximum level.
func (g *Grid) Children(id GlobalID) (children [8]GlobalID, ok bool) {
	idx, ok := g.Indices(id)
	if !ok || idx.Level == g.maxLevel {
		return invalidOctet(), false
	}
	return g.octet(idx.Level+1, 2*idx.I, 2*idx.J, 2*idx.K), true
}

// Parent returns the block that id was refined from. Level 0 blocks are their
// own parents.
func (g *Grid) Parent(id GlobalID) GlobalID {
	idx, ok := g.Indices(id)
	if !ok {
		return InvalidGlobalID
	} else if idx.Level == 0 {
		return id
	}
	return g.GlobalID(idx.Level-1, idx.I/2, idx.J/2, idx.K/2)
}

// Siblings returns the octet that id belongs to, including id itself, in the
// same order as Children. On level 0 the octet is the aligned 2 x 2 x 2 group
// of base blocks, and members that fall outside an odd-sized base grid are
// InvalidGlobalID.
func (g *Grid) Siblings(id GlobalID) [8]GlobalID {
	idx, ok := g.Indices(id)
	if !ok {
		return invalidOctet()
	}
	return g.octet(idx.Level, idx.I&^1, idx.J&^1, idx.K&^1)
}

func (g *Grid) octet(level, i0, j0, k0 uint32) [8]GlobalID {
	var out [8]GlobalID
	for n := range out {
		di, dj, dk := uint32(n&1), uint32((n>>1)&1), uint32((n>>2)&1)
		out[n] = g.GlobalID(level, i0+di, j0+dj, k0+dk)
	}
	return out
}

func invalidOctet() [8]GlobalID {
	var out [8]GlobalID
	for i := range out {
		out[i] = InvalidGlobalID
	}
	return out
}

// Neighbors returns the up to 26 blocks on the same level that share a face,
// edge, or corner with id. Blocks outside the domain are skipped.
func (g *Grid) Neighbors(id GlobalID) []GlobalID {
	idx, ok := g.Indices(id)
	if !ok {
		return nil
	}

	out := make([]GlobalID, 0, 26)
	for dk := -1; dk <= 1; dk++ {
		for dj := -1; dj <= 1; dj++ {
			for di := -1; di <= 1; di++ {
				if di == 0 && dj == 0 && dk == 0 {
					continue
				}
				nb := g.offsetID(idx, di, dj, dk)
				if nb != InvalidGlobalID {
					out = append(out, nb)
				}
			}
		}
	}
	return out
}

// SiblingNeighbors returns the up to 56 blocks on the same level that touch
// the octet containing id, excluding the octet itself. Blocks outside the
// domain are skipped.
func (g *Grid) SiblingNeighbors(id GlobalID) []GlobalID {
	idx, ok := g.Indices(id)
	if !ok {
		return nil
	}
	idx.I, idx.J, idx.K = idx.I&^1, idx.J&^1, idx.K&^1

	out := make([]GlobalID, 0, 56)
	for dk := -1; dk <= 2; dk++ {
		for dj := -1; dj <= 2; dj++ {
			for di := -1; di <= 2; di++ {
				if inOctet(di) && inOctet(dj) && inOctet(dk) {
					continue
				}
				nb := g.offsetID(idx, di, dj, dk)
				if nb != InvalidGlobalID {
					out = append(out, nb)
				}
			}
		}
	}
	return out
}

const maxIndex = int64(^uint32(0))

func inOctet(d int) bool { return d == 0 || d == 1 }

// offsetID returns the ID of the block displaced from idx by (di, dj, dk) on
// the same level, or InvalidGlobalID if it's outside the domain.
func (g *Grid) offsetID(idx Index, di, dj, dk int) GlobalID {
	i, j, k := int64(idx.I)+int64(di), int64(idx.J)+int64(dj),
		int64(idx.K)+int64(dk)
	if i < 0 || j < 0 || k < 0 || i > maxIndex || j > maxIndex ||
		k > maxIndex {
		return InvalidGlobalID
	}
	return g.GlobalID(idx.Level, uint32(i), uint32(j), uint32(k))
}
