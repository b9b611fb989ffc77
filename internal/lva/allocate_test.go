package lva

import "testing"

func newTestVG(name string, pvSizes ...PhysicalExtent) (*VolumeGroup, []*PhysicalVolume) {
	pvs := make([]*PhysicalVolume, len(pvSizes))
	var free uint64
	for i, size := range pvSizes {
		pvs[i] = &PhysicalVolume{Name: string(rune('A' + i)), TotalPE: size}
		free += uint64(size)
	}
	vg := &VolumeGroup{Name: name, ExtentSize: 1, PVs: pvs, FreeCount: free}
	return vg, pvs
}

// Scenario 2: contiguous allocation, exact fit.
func TestAllocateContiguousExactFit(t *testing.T) {
	vg, pvs := newTestVG("vg0", 50, 50)
	lv := &LogicalVolume{Name: "lv0", Policy: PolicyContiguous}
	vg.LVs = append(vg.LVs, lv)

	req := &AllocationRequest{
		VG:             vg,
		LV:             lv,
		Policy:         PolicyContiguous,
		AllocatablePVs: pvs,
		FreeAreas: map[*PhysicalVolume][]FreeArea{
			pvs[0]: {{StartPE: 0, Count: 50}},
			pvs[1]: {{StartPE: 0, Count: 50}},
		},
		LeCount: 50,
	}
	if err := Allocate(req); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if len(lv.Segments) != 1 {
		t.Fatalf("len(segments) = %d, want 1", len(lv.Segments))
	}
	if lv.Segments[0].Areas[0].PV != pvs[0] {
		t.Fatalf("segment should be on PV_A")
	}
	if pvs[0].PeAllocCount != 50 {
		t.Errorf("pv_a.pe_alloc_count = %d, want 50", pvs[0].PeAllocCount)
	}
	if pvs[1].PeAllocCount != 0 {
		t.Errorf("pv_b.pe_alloc_count = %d, want 0", pvs[1].PeAllocCount)
	}
	if vg.FreeCount != 50 {
		t.Errorf("vg.free_count = %d, want 50 (started at 100)", vg.FreeCount)
	}
}

// Scenario 3: next-free across PVs.
func TestAllocateNextFreeAcrossPVs(t *testing.T) {
	vg, pvs := newTestVG("vg0", 30, 30)
	lv := &LogicalVolume{Name: "lv0", Policy: PolicyNextFree}
	vg.LVs = append(vg.LVs, lv)

	req := &AllocationRequest{
		VG:             vg,
		LV:             lv,
		Policy:         PolicyNextFree,
		AllocatablePVs: pvs,
		FreeAreas: map[*PhysicalVolume][]FreeArea{
			pvs[0]: {{StartPE: 0, Count: 30}},
			pvs[1]: {{StartPE: 0, Count: 20}, {StartPE: 20, Count: 10}},
		},
		LeCount: 55,
	}
	if err := Allocate(req); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if len(lv.Segments) != 3 {
		t.Fatalf("len(segments) = %d, want 3", len(lv.Segments))
	}
	wantStarts := []PhysicalExtent{0, 0, 20}
	wantLens := []LogicalExtent{30, 20, 5}
	wantPVs := []*PhysicalVolume{pvs[0], pvs[1], pvs[1]}
	for i, seg := range lv.Segments {
		if seg.Areas[0].PV != wantPVs[i] || seg.Areas[0].StartPE != wantStarts[i] || seg.LeLen != wantLens[i] {
			t.Errorf("segment %d = (pv=%s, start=%d, len=%d), want (pv=%s, start=%d, len=%d)",
				i, seg.Areas[0].PV.Name, seg.Areas[0].StartPE, seg.LeLen,
				wantPVs[i].Name, wantStarts[i], wantLens[i])
		}
	}
	if pvs[1].PeAllocCount != 25 {
		t.Errorf("pv_b.pe_alloc_count = %d, want 25", pvs[1].PeAllocCount)
	}
}

// Scenario 4: striped balanced.
func TestAllocateStripedBalanced(t *testing.T) {
	vg, pvs := newTestVG("vg0", 40, 40, 20)
	lv := &LogicalVolume{Name: "lv0", Policy: PolicyStriped}
	vg.LVs = append(vg.LVs, lv)

	req := &AllocationRequest{
		VG:             vg,
		LV:             lv,
		Policy:         PolicyStriped,
		AllocatablePVs: pvs,
		FreeAreas: map[*PhysicalVolume][]FreeArea{
			pvs[0]: {{StartPE: 0, Count: 40}},
			pvs[1]: {{StartPE: 0, Count: 40}},
			pvs[2]: {{StartPE: 0, Count: 20}},
		},
		LeCount:    60,
		Stripes:    3,
		StripeSize: 8,
	}
	if err := Allocate(req); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if len(lv.Segments) != 1 {
		t.Fatalf("len(segments) = %d, want 1", len(lv.Segments))
	}
	seg := lv.Segments[0]
	if seg.LeLen != 60 {
		t.Errorf("seg.LeLen = %d, want 60", seg.LeLen)
	}
	if seg.AreaCount() != 3 {
		t.Fatalf("seg.AreaCount() = %d, want 3", seg.AreaCount())
	}
	if seg.AreaLen() != 20 {
		t.Errorf("seg.AreaLen() = %d, want 20", seg.AreaLen())
	}
}

// Scenario 5: striped insufficient.
func TestAllocateStripedInsufficient(t *testing.T) {
	vg, pvs := newTestVG("vg0", 40, 40)
	lv := &LogicalVolume{Name: "lv0", Policy: PolicyStriped}
	vg.LVs = append(vg.LVs, lv)

	freeBefore := vg.FreeCount
	req := &AllocationRequest{
		VG:             vg,
		LV:             lv,
		Policy:         PolicyStriped,
		AllocatablePVs: pvs,
		FreeAreas: map[*PhysicalVolume][]FreeArea{
			pvs[0]: {{StartPE: 0, Count: 40}},
			pvs[1]: {{StartPE: 0, Count: 40}},
		},
		LeCount:    60,
		Stripes:    3,
		StripeSize: 8,
	}
	err := Allocate(req)
	if err == nil {
		t.Fatal("expected InsufficientSpace for striped with only 2 PVs and stripes=3")
	}

	if vg.FreeCount != freeBefore {
		t.Errorf("vg.free_count changed on failed allocation: got %d, want %d", vg.FreeCount, freeBefore)
	}
	if len(lv.Segments) != 0 {
		t.Errorf("lv.segments should be untouched on failed allocation, got %d", len(lv.Segments))
	}
	for _, pv := range pvs {
		if pv.PeAllocCount != 0 {
			t.Errorf("pv %s.pe_alloc_count changed on failed allocation: got %d", pv.Name, pv.PeAllocCount)
		}
	}
}

// Allocator rollback property: a failing allocation leaves lv.segments,
// vg.free_count, and every pv.pe_alloc_count unchanged (spec.md §8).
func TestAllocateRollbackLeavesStateUnchanged(t *testing.T) {
	vg, pvs := newTestVG("vg0", 10)
	lv := &LogicalVolume{Name: "lv0", Policy: PolicyContiguous}
	vg.LVs = append(vg.LVs, lv)

	// Pre-populate with one real segment to ensure a failed subsequent
	// call doesn't touch the existing tail.
	seed := &AllocationRequest{
		VG: vg, LV: lv, Policy: PolicyContiguous, AllocatablePVs: pvs,
		FreeAreas: map[*PhysicalVolume][]FreeArea{pvs[0]: {{StartPE: 0, Count: 10}}},
		LeCount:   10,
	}
	if err := Allocate(seed); err != nil {
		t.Fatalf("seed Allocate: %v", err)
	}

	freeBefore := vg.FreeCount
	segsBefore := len(lv.Segments)
	countBefore := pvs[0].PeAllocCount

	overflow := &AllocationRequest{
		VG: vg, LV: lv, Policy: PolicyContiguous, AllocatablePVs: pvs,
		FreeAreas:        map[*PhysicalVolume][]FreeArea{}, // nothing left to give
		AlreadyAllocated: lv.LeCount,
		LeCount:          lv.LeCount + 5,
	}
	if err := Allocate(overflow); err == nil {
		t.Fatal("expected InsufficientSpace when no free areas remain")
	}

	if vg.FreeCount != freeBefore || len(lv.Segments) != segsBefore || pvs[0].PeAllocCount != countBefore {
		t.Fatalf("state changed after failed allocation: free=%d segs=%d count=%d, want free=%d segs=%d count=%d",
			vg.FreeCount, len(lv.Segments), pvs[0].PeAllocCount, freeBefore, segsBefore, countBefore)
	}
}
