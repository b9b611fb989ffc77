package lva

import (
	"fmt"

	"github.com/dm-lva/core/internal/errs"
)

// Extend grows lv by extents logical extents, allocating new segments
// with already_allocated pinned to the current le_count, then coalesces
// any newly-adjacent segments (§4.5 "Extend").
func Extend(req *AllocationRequest, extents LogicalExtent) error {
	req.AlreadyAllocated = req.LV.LeCount
	req.LeCount = req.LV.LeCount + extents
	if err := Allocate(req); err != nil {
		return err
	}
	mergeAdjacent(req.LV)
	return nil
}

// mergeAdjacent coalesces consecutive segments that are contiguous
// extensions of one another, preserving segment-list order and total
// le_count (§4.5 "Extend"). Two segments merge when they share a type
// and, for every column, the later segment's start_pe picks up exactly
// where the earlier one's left off on the same PV.
func mergeAdjacent(lv *LogicalVolume) {
	if len(lv.Segments) < 2 {
		return
	}

	merged := lv.Segments[:1]
	for _, next := range lv.Segments[1:] {
		prev := merged[len(merged)-1]
		if mergeable(prev, next) {
			prev.LeLen += next.LeLen
			continue
		}
		merged = append(merged, next)
	}
	lv.Segments = merged
}

func mergeable(prev, next *LvSegment) bool {
	if prev.Type != next.Type || len(prev.Areas) != len(next.Areas) {
		return false
	}
	if prev.Type == SegStriped && len(prev.Areas) > 1 && prev.StripeSize != next.StripeSize {
		return false
	}
	prevAreaLen := prev.AreaLen()
	for i, a := range prev.Areas {
		b := next.Areas[i]
		if a.PV != b.PV || b.StartPE != a.StartPE+prevAreaLen {
			return false
		}
	}
	return true
}

// Reduce removes extents logical extents from the tail of lv, releasing
// the freed physical extents back to their PVs and to vg.free_count
// (§4.5 "Reduce").
func Reduce(vg *VolumeGroup, lv *LogicalVolume, extents LogicalExtent) error {
	if extents > lv.LeCount {
		return errs.New(errs.BadParam, "lva.Reduce", fmt.Errorf("cannot reduce by %d extents, lv only has %d", extents, lv.LeCount))
	}

	remaining := extents
	for remaining > 0 {
		last := lv.Segments[len(lv.Segments)-1]

		if last.LeLen <= remaining {
			releaseSegment(last)
			remaining -= last.LeLen
			lv.Segments = lv.Segments[:len(lv.Segments)-1]
			continue
		}

		oldAreaLen := last.AreaLen()
		last.LeLen -= remaining
		newAreaLen := last.AreaLen()
		freedPerColumn := oldAreaLen - newAreaLen
		for _, a := range last.Areas {
			a.PV.PeAllocCount -= freedPerColumn
		}
		remaining = 0
	}

	lv.LeCount -= extents
	vg.FreeCount += uint64(extents)
	return nil
}

func releaseSegment(seg *LvSegment) {
	areaLen := seg.AreaLen()
	for _, a := range seg.Areas {
		a.PV.PeAllocCount -= areaLen
	}
}

// Remove releases every segment's physical extents, returns the LV's
// full extent count to vg.free_count, and unlinks lv from vg (§4.5
// "Remove").
func Remove(vg *VolumeGroup, lv *LogicalVolume) error {
	for _, seg := range lv.Segments {
		releaseSegment(seg)
	}
	vg.FreeCount += uint64(lv.LeCount)

	for i, candidate := range vg.LVs {
		if candidate == lv {
			vg.LVs = append(vg.LVs[:i], vg.LVs[i+1:]...)
			return nil
		}
	}
	return errs.New(errs.NoDevice, "lva.Remove", fmt.Errorf("lv %q is not a member of volume group %q", lv.Name, vg.Name))
}
