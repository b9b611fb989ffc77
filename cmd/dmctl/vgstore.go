package main

import (
	"fmt"
	"sync"

	"github.com/dm-lva/core/internal/errs"
	"github.com/dm-lva/core/internal/lva"
)

// vgStore holds the volume groups this process knows about. The LV
// allocator itself is stateless free functions over *lva.VolumeGroup; the
// store is this command's own bookkeeping, analogous to the Device
// Registry's name table but for VGs instead of mapped devices.
type vgStore struct {
	mu sync.Mutex
	vg map[string]*lva.VolumeGroup
}

func newVGStore() *vgStore {
	return &vgStore{vg: make(map[string]*lva.VolumeGroup)}
}

func (s *vgStore) create(name string, extentSize uint64, maxLv int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vg[name]; ok {
		return errs.New(errs.Duplicate, "vgStore.create", fmt.Errorf("volume group %q already exists", name))
	}
	s.vg[name] = &lva.VolumeGroup{Name: name, ExtentSize: extentSize, MaxLv: maxLv}
	return nil
}

func (s *vgStore) get(name string) (*lva.VolumeGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vg, ok := s.vg[name]
	if !ok {
		return nil, errs.New(errs.NoDevice, "vgStore.get", fmt.Errorf("no such volume group %q", name))
	}
	return vg, nil
}

// addPV registers a physical volume with totalPE extents, all free.
func (s *vgStore) addPV(vgName, pvName string, totalPE lva.PhysicalExtent) error {
	vg, err := s.get(vgName)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pv := range vg.PVs {
		if pv.Name == pvName {
			return errs.New(errs.Duplicate, "vgStore.addPV", fmt.Errorf("pv %q already in volume group %q", pvName, vgName))
		}
	}
	vg.PVs = append(vg.PVs, &lva.PhysicalVolume{Name: pvName, TotalPE: totalPE})
	vg.FreeCount += uint64(totalPE)
	return nil
}

func (s *vgStore) findLV(vg *lva.VolumeGroup, name string) (*lva.LogicalVolume, error) {
	for _, lv := range vg.LVs {
		if lv.Name == name {
			return lv, nil
		}
	}
	return nil, errs.New(errs.NoDevice, "vgStore.findLV", fmt.Errorf("no such logical volume %q", name))
}

// freeAreas reports each PV's unallocated tail as a single free range.
// Real LVM tracks a bitmap per PV; this store only ever grows
// allocations from the tail (it never defragments a freed hole back into
// an earlier PV's run), which is a deliberate CLI-scale simplification
// rather than the allocator's own behavior — internal/lva.Allocate takes
// whatever FreeAreas it is given and has no opinion on how they were
// computed.
func (s *vgStore) freeAreas(vg *lva.VolumeGroup) map[*lva.PhysicalVolume][]lva.FreeArea {
	areas := make(map[*lva.PhysicalVolume][]lva.FreeArea, len(vg.PVs))
	for _, pv := range vg.PVs {
		if pv.PeAllocCount < pv.TotalPE {
			areas[pv] = []lva.FreeArea{{StartPE: pv.PeAllocCount, Count: pv.TotalPE - pv.PeAllocCount}}
		}
	}
	return areas
}
