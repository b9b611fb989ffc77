package lva

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/dm-lva/core/internal/errs"
)

// AllocationRequest bundles the spec's loose parameter list for
// Allocate and Extend into one entry point signature (§4.5 supplement),
// grounded on the single `_allocate()` static helper the original shares
// between `lv_create` and `lv_extend`. Reduce and Remove take the VG and
// LV directly.
type AllocationRequest struct {
	VG     *VolumeGroup
	LV     *LogicalVolume
	Policy AllocPolicy

	// AllocatablePVs is the caller-restricted subset of pvs this call may
	// draw from, in priority order (§3 "Allocatable PV").
	AllocatablePVs []*PhysicalVolume

	// FreeAreas is the externally-maintained allocatable bitmap, supplied
	// per PV as a list of free ranges (§1 Non-goals).
	FreeAreas map[*PhysicalVolume][]FreeArea

	// AlreadyAllocated is the first LE not yet covered: zero for a fresh
	// create, the prior le_count for an extend (§4.5 "Pre-state").
	AlreadyAllocated LogicalExtent

	// LeCount is the LV's target extent count after this call.
	LeCount LogicalExtent

	// Stripes and StripeSize apply only to PolicyStriped.
	Stripes    int
	StripeSize uint32

	// Log receives a warning when allocation fails; nil is fine, silence
	// is not an error here since failed allocation is part of the normal
	// fail-and-retry-with-a-smaller-request flow.
	Log *logrus.Logger
}

// Allocate runs the requested policy against a temporary set of pv_maps
// built from req.FreeAreas, then — only on full success — commits the
// new segments to req.LV and the PV/VG counters (§4.5 "Segment emission,
// bookkeeping, and rollback"). Building the candidate segment list
// locally before touching any shared state is this module's rollback
// mechanism: a failed policy never mutates req.LV, req.VG, or any PV, so
// there is nothing to restore on the error path.
func Allocate(req *AllocationRequest) error {
	if req.LeCount < req.AlreadyAllocated {
		return errs.New(errs.BadParam, "lva.Allocate", fmt.Errorf("le_count %d is below already_allocated %d", req.LeCount, req.AlreadyAllocated))
	}
	target := req.LeCount - req.AlreadyAllocated
	if target == 0 {
		return nil
	}

	maps := buildPvMaps(req.AllocatablePVs, req.FreeAreas)

	var segs []*LvSegment
	var err error
	switch req.Policy {
	case PolicyContiguous:
		segs, err = allocContiguous(maps, target)
	case PolicyNextFree:
		segs, err = allocNextFree(maps, target)
	case PolicyStriped:
		segs, err = allocStriped(maps, target, req.Stripes, req.StripeSize)
	default:
		return errs.New(errs.BadParam, "lva.Allocate", fmt.Errorf("unknown allocation policy %d", req.Policy))
	}
	if err != nil {
		if req.Log != nil {
			req.Log.WithFields(logrus.Fields{
				"lv": req.LV.Name, "vg": req.VG.Name, "policy": req.Policy,
			}).WithError(err).Warn("lva: allocation failed, state unchanged")
		}
		return err
	}

	commit(req, segs, target)
	return nil
}

// commit appends newly allocated segments to the LV and updates every
// touched PV's pe_alloc_count plus the VG's free_count, the only point
// at which shared state changes (§4.5 "After success...").
func commit(req *AllocationRequest, segs []*LvSegment, target LogicalExtent) {
	le := req.AlreadyAllocated
	for _, s := range segs {
		s.LeStart = le
		le += s.LeLen
		areaLen := s.AreaLen()
		for _, a := range s.Areas {
			a.PV.PeAllocCount += areaLen
		}
	}
	req.LV.Segments = append(req.LV.Segments, segs...)
	req.LV.LeCount = req.LeCount
	req.VG.FreeCount -= uint64(target)
}

// allocContiguous picks each PV's single largest area and emits one
// linear segment per PV until the LV is full (§4.5 "Policy: contiguous").
func allocContiguous(maps []*pvMap, target LogicalExtent) ([]*LvSegment, error) {
	var segs []*LvSegment
	remaining := target

	for _, m := range maps {
		if remaining == 0 {
			break
		}
		area, ok := m.firstArea()
		if !ok {
			continue
		}
		take := PhysicalExtent(remaining)
		if area.count < take {
			take = area.count
		}
		m.consume(area, take)
		segs = append(segs, linearSegment(m.pv, area.startPE, take))
		remaining -= LogicalExtent(take)
	}

	if remaining != 0 {
		return nil, errs.New(errs.InsufficientSpace, "lva.Allocate",
			fmt.Errorf("contiguous allocation short by %d extents", remaining))
	}
	return segs, nil
}

// allocNextFree walks every PV's areas largest-first, permitting
// multiple areas per PV (§4.5 "Policy: next-free").
func allocNextFree(maps []*pvMap, target LogicalExtent) ([]*LvSegment, error) {
	var segs []*LvSegment
	remaining := target

	for _, m := range maps {
		for remaining > 0 {
			area, ok := m.firstArea()
			if !ok {
				break
			}
			take := PhysicalExtent(remaining)
			if area.count < take {
				take = area.count
			}
			m.consume(area, take)
			segs = append(segs, linearSegment(m.pv, area.startPE, take))
			remaining -= LogicalExtent(take)
		}
		if remaining == 0 {
			break
		}
	}

	if remaining != 0 {
		return nil, errs.New(errs.InsufficientSpace, "lva.Allocate",
			fmt.Errorf("next-free allocation short by %d extents", remaining))
	}
	return segs, nil
}

// candidate is one PV map's current largest area, collected fresh every
// striped iteration (§4.5 "Policy: striped" step 1).
type candidate struct {
	m    *pvMap
	area pvArea
}

// allocStriped re-selects each PV's largest remaining area every
// iteration and stripes per_stripe extents across the `stripes` largest
// candidates, balancing utilization without a global optimizer (§4.5
// "Policy: striped", "Rationale for per-iteration re-selection").
func allocStriped(maps []*pvMap, target LogicalExtent, stripes int, stripeSize uint32) ([]*LvSegment, error) {
	if stripes < 2 {
		return nil, errs.New(errs.BadParam, "lva.Allocate", fmt.Errorf("stripes must be >= 2, got %d", stripes))
	}

	var segs []*LvSegment
	var allocated LogicalExtent

	for allocated < target {
		var candidates []candidate
		for _, m := range maps {
			if area, ok := m.firstArea(); ok {
				candidates = append(candidates, candidate{m: m, area: area})
			}
		}

		if len(candidates) < stripes {
			return nil, errs.New(errs.InsufficientSpace, "lva.Allocate",
				fmt.Errorf("striped allocation needs %d PVs with free space, found %d", stripes, len(candidates)))
		}

		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].area.count > candidates[j].area.count
		})
		top := candidates[:stripes]

		perStripe := top[0].area.count
		for _, c := range top {
			if c.area.count < perStripe {
				perStripe = c.area.count
			}
		}
		remaining := target - allocated
		if byRemaining := PhysicalExtent(remaining) / PhysicalExtent(stripes); byRemaining < perStripe {
			perStripe = byRemaining
		}
		if perStripe == 0 {
			return nil, errs.New(errs.InsufficientSpace, "lva.Allocate",
				fmt.Errorf("striped allocation cannot make progress: remaining %d extents across %d stripes", remaining, stripes))
		}

		areas := make([]SegArea, stripes)
		for i, c := range top {
			c.m.consume(c.area, perStripe)
			areas[i] = SegArea{PV: c.m.pv, StartPE: c.area.startPE}
		}

		segs = append(segs, &LvSegment{
			LeLen:      LogicalExtent(perStripe) * LogicalExtent(stripes),
			Type:       SegStriped,
			StripeSize: stripeSize,
			Areas:      areas,
		})
		allocated += LogicalExtent(perStripe) * LogicalExtent(stripes)
	}

	return segs, nil
}

func linearSegment(pv *PhysicalVolume, startPE PhysicalExtent, count PhysicalExtent) *LvSegment {
	return &LvSegment{
		LeLen: LogicalExtent(count),
		Type:  SegStriped,
		Areas: []SegArea{{PV: pv, StartPE: startPE}},
	}
}
