// Package dm implements the Mapping Table (§4.2), Mapped Device (§4.3),
// and Device Registry (§4.4): the block-device mapper half of the core.
package dm

import (
	"fmt"

	"github.com/dm-lva/core/internal/errs"
	"github.com/dm-lva/core/internal/target"
)

// Sector is a device-native sector count.
type Sector = target.Sector

// EntrySpec describes one mapping-table entry before construction: the
// inclusive high sector it covers, the target kind to construct, and the
// raw params to pass it (§4.2).
type EntrySpec struct {
	High     Sector
	KindName string
	Params   []byte
}

// Entry is one constructed mapping-table entry.
type Entry struct {
	High     Sector
	KindName string
	Kind     target.Kind
	Instance target.Instance
}

// MappingTable is the immutable, sorted, per-device search structure
// built once from an ordered list of (high_sector, target_instance)
// pairs (§3, §4.2).
type MappingTable struct {
	keysPerNode int
	entries     []Entry
	index       [][]Sector // index[level] is a flat array, KeysPerNode per node
	depth       int
}

// BuildTable constructs a MappingTable from specs, which must be sorted
// by strictly increasing High. Each entry's target kind is looked up in
// reg and constructed over the inclusive logical range
// [prevHigh+1, spec.High] (starting at 0 for the first entry).
// If any entry fails to construct, previously constructed instances are
// destructed in reverse order and BadTable is returned (§4.2).
func BuildTable(reg *target.Registry, specs []EntrySpec, keysPerNode int) (*MappingTable, error) {
	if len(specs) == 0 {
		return nil, errs.New(errs.BadTable, "dm.BuildTable", fmt.Errorf("mapping table must have at least one entry"))
	}
	if keysPerNode < 1 {
		return nil, errs.New(errs.BadTable, "dm.BuildTable", fmt.Errorf("keysPerNode must be >= 1, got %d", keysPerNode))
	}

	entries := make([]Entry, 0, len(specs))

	rollback := func() {
		for i := len(entries) - 1; i >= 0; i-- {
			entries[i].Kind.Destruct(entries[i].Instance)
		}
	}

	var lo Sector
	for i, spec := range specs {
		if i > 0 && spec.High <= specs[i-1].High {
			rollback()
			return nil, errs.New(errs.BadTable, "dm.BuildTable",
				fmt.Errorf("high_sector %d does not strictly increase after %d", spec.High, specs[i-1].High))
		}

		kind, err := reg.Lookup(spec.KindName)
		if err != nil {
			rollback()
			return nil, errs.New(errs.BadTable, "dm.BuildTable", err)
		}

		inst, err := kind.Construct(spec.Params, target.Range{Start: lo, End: spec.High})
		if err != nil {
			rollback()
			return nil, errs.New(errs.BadTable, "dm.BuildTable", err)
		}

		entries = append(entries, Entry{
			High:     spec.High,
			KindName: spec.KindName,
			Kind:     kind,
			Instance: inst,
		})
		lo = spec.High + 1
	}

	mt := &MappingTable{keysPerNode: keysPerNode, entries: entries}
	mt.buildIndex()
	return mt, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// buildIndex constructs the levelled B-tree-like index described in
// §4.2: level depth-1 (the leaves) groups KeysPerNode entries per node;
// each level above groups KeysPerNode+1 child nodes per node, storing
// for each of its first KeysPerNode children the largest key in that
// child's subtree (the last key of the subtree's last leaf node).
// Partial trailing nodes pad their remaining key slots by repeating the
// last real key, which keeps every node's keys non-decreasing; a sector
// beyond the last entry's high matches no key and Lookup reports it as
// out of range.
func (mt *MappingTable) buildIndex() {
	k := mt.keysPerNode
	n := len(mt.entries)

	counts := []int{ceilDiv(n, k)}
	for counts[0] > 1 {
		counts = append([]int{ceilDiv(counts[0], k+1)}, counts...)
	}

	mt.depth = len(counts)
	mt.index = make([][]Sector, mt.depth)

	leafLevel := mt.depth - 1
	leaf := make([]Sector, counts[leafLevel]*k)
	for i := range leaf {
		if i < n {
			leaf[i] = mt.entries[i].High
		} else {
			leaf[i] = leaf[i-1]
		}
	}
	mt.index[leafLevel] = leaf

	for l := leafLevel - 1; l >= 0; l-- {
		nodes := counts[l]
		childCount := counts[l+1]
		level := make([]Sector, nodes*k)

		// span is the number of leaf nodes under one node of level l+1.
		span := 1
		for ll := l + 1; ll < leafLevel; ll++ {
			span *= k + 1
		}

		for node := 0; node < nodes; node++ {
			for key := 0; key < k; key++ {
				childIdx := node*(k+1) + key
				if childIdx < childCount {
					lastLeaf := (childIdx+1)*span - 1
					if lastLeaf >= counts[leafLevel] {
						lastLeaf = counts[leafLevel] - 1
					}
					level[node*k+key] = leaf[lastLeaf*k+k-1]
				} else {
					level[node*k+key] = level[node*k+key-1]
				}
			}
		}
		mt.index[l] = level
	}
}

// Lookup returns the entry covering sector s, following the descent
// algorithm of §4.2 exactly (one step per level, selecting the smallest
// key >= s within the current node). A sector beyond the last entry's
// high is reported as out of range.
func (mt *MappingTable) Lookup(s Sector) (*Entry, error) {
	if len(mt.entries) == 0 || s > mt.entries[len(mt.entries)-1].High {
		return nil, errs.New(errs.NoDevice, "dm.Lookup", fmt.Errorf("sector %d out of range", s))
	}
	k := mt.keysPerNode
	i, r := 0, 0

	for l := 0; l < mt.depth; l++ {
		r = (k+1)*r + i
		node := mt.index[l][r*k : r*k+k]

		i = k
		for idx := 0; idx < k; idx++ {
			if node[idx] >= s {
				i = idx
				break
			}
		}
	}

	idx := k*r + i
	if i == k || idx >= len(mt.entries) {
		return nil, errs.New(errs.NoDevice, "dm.Lookup", fmt.Errorf("sector %d out of range", s))
	}
	return &mt.entries[idx], nil
}

// DeviceSize returns device_size_sectors = high_last + 1 (§3).
func (mt *MappingTable) DeviceSize() Sector {
	return mt.entries[len(mt.entries)-1].High + 1
}

// Len returns the number of entries in the table.
func (mt *MappingTable) Len() int { return len(mt.entries) }

// Depth returns the index's tree depth.
func (mt *MappingTable) Depth() int { return mt.depth }

// Destroy invokes Destruct on every target instance in reverse
// construction order and releases the index (§4.2).
func (mt *MappingTable) Destroy() {
	for i := len(mt.entries) - 1; i >= 0; i-- {
		mt.entries[i].Kind.Destruct(mt.entries[i].Instance)
	}
	mt.entries = nil
	mt.index = nil
}
