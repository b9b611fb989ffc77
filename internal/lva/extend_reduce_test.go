package lva

import "testing"

// Round-trip invariant: lv_extend(lv, k); lv_reduce(lv, k) restores
// lv.size, lv.le_count, vg.free_count, and every pv.pe_alloc_count
// (spec.md §8).
func TestExtendReduceRoundTrip(t *testing.T) {
	vg, pvs := newTestVG("vg0", 100)
	lv := &LogicalVolume{Name: "lv0", Policy: PolicyContiguous}
	vg.LVs = append(vg.LVs, lv)

	req := &AllocationRequest{
		VG: vg, LV: lv, Policy: PolicyContiguous, AllocatablePVs: pvs,
		FreeAreas: map[*PhysicalVolume][]FreeArea{pvs[0]: {{StartPE: 0, Count: 30}}},
		LeCount:   30,
	}
	if err := Allocate(req); err != nil {
		t.Fatalf("initial Allocate: %v", err)
	}

	freeBefore := vg.FreeCount
	leBefore := lv.LeCount
	countBefore := pvs[0].PeAllocCount

	extendReq := &AllocationRequest{
		VG: vg, LV: lv, Policy: PolicyContiguous, AllocatablePVs: pvs,
		FreeAreas: map[*PhysicalVolume][]FreeArea{pvs[0]: {{StartPE: 30, Count: 70}}},
	}
	if err := Extend(extendReq, 20); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if lv.LeCount != leBefore+20 {
		t.Fatalf("le_count after extend = %d, want %d", lv.LeCount, leBefore+20)
	}
	// The extension is contiguous with the original segment on the same
	// PV, so it should merge into one segment rather than appending a
	// second (§4.5 "Extend").
	if len(lv.Segments) != 1 {
		t.Fatalf("len(segments) after contiguous extend = %d, want 1 (merged)", len(lv.Segments))
	}

	if err := Reduce(vg, lv, 20); err != nil {
		t.Fatalf("Reduce: %v", err)
	}

	if vg.FreeCount != freeBefore {
		t.Errorf("vg.free_count = %d, want %d (pre-extend)", vg.FreeCount, freeBefore)
	}
	if lv.LeCount != leBefore {
		t.Errorf("lv.le_count = %d, want %d (pre-extend)", lv.LeCount, leBefore)
	}
	if pvs[0].PeAllocCount != countBefore {
		t.Errorf("pv.pe_alloc_count = %d, want %d (pre-extend)", pvs[0].PeAllocCount, countBefore)
	}
}

func TestReduceRemovesWholeSegmentsFromTail(t *testing.T) {
	vg, pvs := newTestVG("vg0", 30, 30)
	lv := &LogicalVolume{Name: "lv0", Policy: PolicyNextFree}
	vg.LVs = append(vg.LVs, lv)

	req := &AllocationRequest{
		VG: vg, LV: lv, Policy: PolicyNextFree, AllocatablePVs: pvs,
		FreeAreas: map[*PhysicalVolume][]FreeArea{
			pvs[0]: {{StartPE: 0, Count: 30}},
			pvs[1]: {{StartPE: 0, Count: 30}},
		},
		LeCount: 60,
	}
	if err := Allocate(req); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(lv.Segments) != 2 {
		t.Fatalf("len(segments) = %d, want 2", len(lv.Segments))
	}

	// Remove exactly the tail segment (30 extents on pvs[1]).
	if err := Reduce(vg, lv, 30); err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if len(lv.Segments) != 1 {
		t.Fatalf("len(segments) after reduce = %d, want 1", len(lv.Segments))
	}
	if pvs[1].PeAllocCount != 0 {
		t.Errorf("pv_b.pe_alloc_count = %d, want 0 after its segment is fully released", pvs[1].PeAllocCount)
	}
	if pvs[0].PeAllocCount != 30 {
		t.Errorf("pv_a.pe_alloc_count = %d, want 30 (untouched)", pvs[0].PeAllocCount)
	}
}

func TestRemoveReleasesAllExtents(t *testing.T) {
	vg, pvs := newTestVG("vg0", 50)
	lv := &LogicalVolume{Name: "lv0", Policy: PolicyContiguous}
	vg.LVs = append(vg.LVs, lv)

	req := &AllocationRequest{
		VG: vg, LV: lv, Policy: PolicyContiguous, AllocatablePVs: pvs,
		FreeAreas: map[*PhysicalVolume][]FreeArea{pvs[0]: {{StartPE: 0, Count: 50}}},
		LeCount:   50,
	}
	if err := Allocate(req); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if err := Remove(vg, lv); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if pvs[0].PeAllocCount != 0 {
		t.Errorf("pv.pe_alloc_count = %d, want 0 after Remove", pvs[0].PeAllocCount)
	}
	if vg.FreeCount != 50 {
		t.Errorf("vg.free_count = %d, want 50 after Remove", vg.FreeCount)
	}
	if len(vg.LVs) != 0 {
		t.Errorf("vg.LVs should be empty after Remove, got %d", len(vg.LVs))
	}
}

func TestGenerateNameSkipsExistingNumbers(t *testing.T) {
	vg := &VolumeGroup{Name: "vg0"}
	vg.LVs = append(vg.LVs,
		&LogicalVolume{Name: "lvol0"},
		&LogicalVolume{Name: "lvol2"},
		&LogicalVolume{Name: "custom-name"},
	)
	if got := GenerateName(vg); got != "lvol3" {
		t.Errorf("GenerateName = %q, want %q", got, "lvol3")
	}
}

func TestGenerateNameEmptyVG(t *testing.T) {
	vg := &VolumeGroup{Name: "vg0"}
	if got := GenerateName(vg); got != "lvol0" {
		t.Errorf("GenerateName = %q, want %q", got, "lvol0")
	}
}
