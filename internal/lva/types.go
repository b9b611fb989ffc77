// Package lva implements the logical-volume allocator (§4.5): the
// volume-group/logical-volume/physical-volume data model and the three
// segment-allocation policies (contiguous, next-free, striped).
package lva

// LogicalExtent indexes into an LV's extent space.
type LogicalExtent uint32

// PhysicalExtent indexes into a PV's extent space.
type PhysicalExtent uint32

// SegType identifies a segment's layout. STRIPED (area_count==1 is the
// linear case) is the only variant implemented; the enum has room for
// future variants without itself specifying unimplemented behavior
// (§3 "type ∈ {STRIPED} (extensible)").
type SegType int

const (
	SegStriped SegType = iota
)

func (t SegType) String() string {
	switch t {
	case SegStriped:
		return "striped"
	default:
		return "unknown"
	}
}

// AllocPolicy selects one of the three allocation strategies (§4.5).
type AllocPolicy int

const (
	PolicyContiguous AllocPolicy = iota
	PolicyNextFree
	PolicyStriped
)

func (p AllocPolicy) String() string {
	switch p {
	case PolicyContiguous:
		return "contiguous"
	case PolicyNextFree:
		return "next-free"
	case PolicyStriped:
		return "striped"
	default:
		return "unknown"
	}
}

// PhysicalVolume is a candidate for allocation: identity, total extent
// count, and the running count of extents allocated from it (§3).
type PhysicalVolume struct {
	Name         string
	TotalPE      PhysicalExtent
	PeAllocCount PhysicalExtent
}

// SegArea is one PV-area binding within a segment: the owning PV and the
// first physical extent it contributes (§3, area length lives on the
// segment since every column of a striped segment shares one length).
type SegArea struct {
	PV      *PhysicalVolume
	StartPE PhysicalExtent
}

// LvSegment binds a contiguous range of an LV's logical extents to one
// or more physical-volume areas (§3).
type LvSegment struct {
	LeStart    LogicalExtent
	LeLen      LogicalExtent
	Type       SegType
	StripeSize uint32 // sectors, 0 for linear (area_count == 1)
	Areas      []SegArea
}

// AreaLen is the per-column extent count: le_len / area_count, the
// inverse of §3's `le_len = area_len * area_count`.
func (s *LvSegment) AreaLen() PhysicalExtent {
	return PhysicalExtent(s.LeLen) / PhysicalExtent(len(s.Areas))
}

// AreaCount is the number of stripe columns (1 for linear).
func (s *LvSegment) AreaCount() int { return len(s.Areas) }

// LogicalVolume is an ordered, gapless tiling of segments over
// [0, LeCount) (§3).
type LogicalVolume struct {
	Name     string
	Policy   AllocPolicy
	LeCount  LogicalExtent
	Segments []*LvSegment
}

// SizeBytes returns le_count * extentSize * sectorSize, per §3's
// invariant `size_bytes = le_count * vg.extent_size * SECTOR_SIZE`.
func (lv *LogicalVolume) SizeBytes(extentSize uint64, sectorSize uint64) uint64 {
	return uint64(lv.LeCount) * extentSize * sectorSize
}

// VolumeGroup owns a set of LVs and PVs (§3). FreeCount is the sum over
// PVs of unallocated PE, maintained incrementally by the allocator
// rather than recomputed.
type VolumeGroup struct {
	Name       string
	ExtentSize uint64 // sectors, power of two
	MaxLv      int
	PVs        []*PhysicalVolume
	LVs        []*LogicalVolume
	FreeCount  uint64
}
