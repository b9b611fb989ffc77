package lva

import "github.com/google/btree"

// FreeArea is one caller-supplied free physical-extent range on a PV,
// part of the externally-maintained allocatable bitmap (§1 Non-goals:
// "the pool allocator used by LVA" is out of scope — the allocator only
// ever sees the free ranges it's handed).
type FreeArea struct {
	StartPE PhysicalExtent
	Count   PhysicalExtent
}

// pvArea is one btree item: a free range on a PV, ordered so the
// largest area (ties broken by lowest start_pe) sorts first (§3
// "ordered within a PV's map by count descending").
type pvArea struct {
	startPE PhysicalExtent
	count   PhysicalExtent
}

func (a pvArea) Less(than btree.Item) bool {
	o := than.(pvArea)
	if a.count != o.count {
		return a.count > o.count
	}
	return a.startPE < o.startPE
}

// pvMap is the scratch, per-allocation-call structure the spec calls a
// "pv_map": a PV's free areas, sorted largest-first, consumed (shrunk or
// unlinked) as the allocator walks it (§4.5 "Shared structure"). Built
// fresh from caller-supplied FreeAreas for one Allocate/Extend call and
// discarded afterward — never persisted.
type pvMap struct {
	pv   *PhysicalVolume
	tree *btree.BTree
}

func newPvMap(pv *PhysicalVolume, areas []FreeArea) *pvMap {
	t := btree.New(8)
	for _, a := range areas {
		if a.Count == 0 {
			continue
		}
		t.ReplaceOrInsert(pvArea{startPE: a.StartPE, count: a.Count})
	}
	return &pvMap{pv: pv, tree: t}
}

// firstArea returns the PV's largest remaining free area, or false if
// the map is exhausted.
func (m *pvMap) firstArea() (pvArea, bool) {
	item := m.tree.Min()
	if item == nil {
		return pvArea{}, false
	}
	return item.(pvArea), true
}

// consume removes n extents from the front of area (which must be the
// map's current first area), reinserting whatever remains (§4.5
// "Consumption of an area shrinks it; fully consumed areas are
// unlinked").
func (m *pvMap) consume(area pvArea, n PhysicalExtent) {
	m.tree.Delete(area)
	if remaining := area.count - n; remaining > 0 {
		m.tree.ReplaceOrInsert(pvArea{startPE: area.startPE + n, count: remaining})
	}
}

// buildPvMaps constructs one scratch pvMap per allocatable PV, preserving
// the caller's PV order — allocation policies that tie-break "by the
// order of PV maps in the input list" (§4.5 striped rationale) depend on
// this order being stable.
func buildPvMaps(pvs []*PhysicalVolume, freeAreas map[*PhysicalVolume][]FreeArea) []*pvMap {
	maps := make([]*pvMap, len(pvs))
	for i, pv := range pvs {
		maps[i] = newPvMap(pv, freeAreas[pv])
	}
	return maps
}
