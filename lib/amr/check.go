package amr

// CheckBlock returns true if id is a leaf or if it has been refined, i.e. all
// eight of its children recursively pass CheckBlock.
func (m *Mesh) CheckBlock(id GlobalID) bool {
	if _, ok := m.blocks[id]; ok {
		return true
	}
	children, ok := m.Children(id)
	if !ok {
		return false
	}
	for _, c := range children {
		if !m.CheckBlock(c) {
			return false
		}
	}
	return true
}

// CheckMesh verifies the mesh's structure. For every leaf:
//
//   - none of its ancestors exist,
//   - above level 0, every sibling passes CheckBlock,
//   - no same-level neighbor lies inside a leaf two or more levels coarser.
//
// Violations are logged.
func (m *Mesh) CheckMesh() bool {
	ok := true
	for id := range m.blocks {
		if !m.checkLeaf(id) {
			ok = false
		}
	}
	return ok
}

func (m *Mesh) checkLeaf(id GlobalID) bool {
	level, valid := m.Level(id)
	if !valid {
		m.log.Warnf("block %d is not a valid ID", id)
		return false
	}

	for anc := id; ; {
		parent := m.Parent(anc)
		if parent == anc {
			break
		}
		anc = parent
		if _, ok := m.blocks[anc]; ok {
			m.log.Warnf("block %d and its ancestor %d both exist", id, anc)
			return false
		}
	}

	if level == 0 {
		return m.checkBalance(id)
	}

	for _, s := range m.Siblings(id) {
		if !m.CheckBlock(s) {
			m.log.Warnf("block %d has sibling %d, which is neither a leaf "+
				"nor fully refined", id, s)
			return false
		}
	}
	return m.checkBalance(id)
}

// checkBalance returns false if any neighbor of id lies inside a leaf two or
// more levels coarser than id.
func (m *Mesh) checkBalance(id GlobalID) bool {
	for _, nb := range m.Neighbors(id) {
		anc := m.Parent(nb)
		for {
			next := m.Parent(anc)
			if next == anc {
				break
			}
			anc = next
			if _, ok := m.blocks[anc]; ok {
				m.log.Warnf("block %d is next to block %d, which is more "+
					"than one level coarser", id, anc)
				return false
			}
		}
	}
	return true
}
