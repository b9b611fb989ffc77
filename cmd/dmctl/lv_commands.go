package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/dm-lva/core/internal/lva"
)

// vgCreateCmd creates an empty volume group, then registers its PVs from
// a "name:total_pe,name:total_pe,..." list (§4.5 supplement).
type vgCreateCmd struct {
	store      *vgStore
	extentSize uint64
	maxLv      int
}

func (*vgCreateCmd) Name() string     { return "create" }
func (*vgCreateCmd) Synopsis() string { return "create a volume group with its physical volumes" }
func (*vgCreateCmd) Usage() string {
	return "vg create [-extent-size N] [-max-lv N] <name> <pv:total_pe,...>\n"
}

func (c *vgCreateCmd) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&c.extentSize, "extent-size", 8192, "extent size in sectors")
	f.IntVar(&c.maxLv, "max-lv", 256, "maximum logical volumes")
}

func (c *vgCreateCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		fmt.Fprint(f.Output(), c.Usage())
		return subcommands.ExitUsageError
	}
	name, pvList := f.Arg(0), f.Arg(1)

	if err := c.store.create(name, c.extentSize, c.maxLv); err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}
	for _, entry := range strings.Split(pvList, ",") {
		fields := strings.SplitN(entry, ":", 2)
		if len(fields) != 2 {
			fmt.Fprintf(f.Output(), "malformed pv entry %q, want name:total_pe\n", entry)
			return subcommands.ExitFailure
		}
		totalPE, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			fmt.Fprintf(f.Output(), "bad total_pe %q: %v\n", fields[1], err)
			return subcommands.ExitFailure
		}
		if err := c.store.addPV(name, fields[0], lva.PhysicalExtent(totalPE)); err != nil {
			fmt.Fprintln(f.Output(), err)
			return subcommands.ExitFailure
		}
	}
	fmt.Printf("created volume group %s\n", name)
	return subcommands.ExitSuccess
}

// vgListCmd lists a volume group's PVs, LVs, and free space.
type vgListCmd struct {
	store *vgStore
}

func (*vgListCmd) Name() string     { return "list" }
func (*vgListCmd) Synopsis() string { return "show a volume group's pvs, lvs, and free space" }
func (*vgListCmd) Usage() string    { return "vg list <name>\n" }
func (*vgListCmd) SetFlags(*flag.FlagSet) {}

func (c *vgListCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(f.Output(), c.Usage())
		return subcommands.ExitUsageError
	}
	vg, err := c.store.get(f.Arg(0))
	if err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}
	fmt.Printf("%s: extent_size=%d free_count=%d\n", vg.Name, vg.ExtentSize, vg.FreeCount)
	for _, pv := range vg.PVs {
		fmt.Printf("  pv %s total_pe=%d pe_alloc_count=%d\n", pv.Name, pv.TotalPE, pv.PeAllocCount)
	}
	for _, lv := range vg.LVs {
		fmt.Printf("  lv %s policy=%s le_count=%d segments=%d\n", lv.Name, lv.Policy, lv.LeCount, len(lv.Segments))
	}
	return subcommands.ExitSuccess
}

func parsePolicy(s string) (lva.AllocPolicy, error) {
	switch s {
	case "contiguous":
		return lva.PolicyContiguous, nil
	case "next-free":
		return lva.PolicyNextFree, nil
	case "striped":
		return lva.PolicyStriped, nil
	default:
		return 0, fmt.Errorf("unknown policy %q, want contiguous|next-free|striped", s)
	}
}

// lvCreateCmd allocates a new logical volume in an existing volume group
// (§4.5 "Allocate").
type lvCreateCmd struct {
	store *vgStore
	log   *logrus.Logger

	vgName     string
	name       string
	policy     string
	size       uint
	stripes    uint
	stripeSize uint
}

func (*lvCreateCmd) Name() string     { return "create" }
func (*lvCreateCmd) Synopsis() string { return "allocate a new logical volume" }
func (*lvCreateCmd) Usage() string {
	return "lv create -vg NAME -size LE [-name NAME] [-policy contiguous|next-free|striped] [-stripes N] [-stripe-size N]\n"
}

func (c *lvCreateCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.vgName, "vg", "", "volume group name")
	f.StringVar(&c.name, "name", "", "logical volume name (default: generated)")
	f.StringVar(&c.policy, "policy", "contiguous", "allocation policy")
	f.UintVar(&c.size, "size", 0, "logical extent count")
	f.UintVar(&c.stripes, "stripes", 2, "stripe count (striped policy only)")
	f.UintVar(&c.stripeSize, "stripe-size", 8, "stripe size in sectors (striped policy only)")
}

func (c *lvCreateCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	vg, err := c.store.get(c.vgName)
	if err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}
	policy, err := parsePolicy(c.policy)
	if err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}
	if c.size == 0 {
		fmt.Fprintln(f.Output(), "-size must be > 0")
		return subcommands.ExitUsageError
	}

	name := c.name
	if name == "" {
		name = lva.GenerateName(vg)
	}
	lv := &lva.LogicalVolume{Name: name, Policy: policy}

	req := &lva.AllocationRequest{
		VG:             vg,
		LV:             lv,
		Policy:         policy,
		AllocatablePVs: vg.PVs,
		FreeAreas:      c.store.freeAreas(vg),
		LeCount:        lva.LogicalExtent(c.size),
		Stripes:        int(c.stripes),
		StripeSize:     uint32(c.stripeSize),
		Log:            c.log,
	}
	if err := lva.Allocate(req); err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}
	vg.LVs = append(vg.LVs, lv)
	fmt.Printf("created %s/%s (%d extents, %d segments)\n", c.vgName, name, lv.LeCount, len(lv.Segments))
	return subcommands.ExitSuccess
}

// lvExtendCmd grows an existing logical volume (§4.5 "Extend").
type lvExtendCmd struct {
	store *vgStore
	log   *logrus.Logger

	vgName  string
	policy  string
	extents uint
}

func (*lvExtendCmd) Name() string     { return "extend" }
func (*lvExtendCmd) Synopsis() string { return "grow a logical volume by N extents" }
func (*lvExtendCmd) Usage() string {
	return "lv extend -vg NAME [-policy contiguous|next-free|striped] <lv-name> <extents>\n"
}

func (c *lvExtendCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.vgName, "vg", "", "volume group name")
	f.StringVar(&c.policy, "policy", "contiguous", "allocation policy for the new extents")
}

func (c *lvExtendCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		fmt.Fprint(f.Output(), c.Usage())
		return subcommands.ExitUsageError
	}
	vg, err := c.store.get(c.vgName)
	if err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}
	lv, err := c.store.findLV(vg, f.Arg(0))
	if err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}
	extents, err := strconv.ParseUint(f.Arg(1), 10, 32)
	if err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}
	policy, err := parsePolicy(c.policy)
	if err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}

	req := &lva.AllocationRequest{
		VG:             vg,
		LV:             lv,
		Policy:         policy,
		AllocatablePVs: vg.PVs,
		FreeAreas:      c.store.freeAreas(vg),
		Log:            c.log,
	}
	if err := lva.Extend(req, lva.LogicalExtent(extents)); err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}
	fmt.Printf("extended %s/%s to %d extents\n", c.vgName, lv.Name, lv.LeCount)
	return subcommands.ExitSuccess
}

// lvReduceCmd shrinks a logical volume from its tail (§4.5 "Reduce").
type lvReduceCmd struct {
	store  *vgStore
	vgName string
}

func (*lvReduceCmd) Name() string     { return "reduce" }
func (*lvReduceCmd) Synopsis() string { return "shrink a logical volume by N extents" }
func (*lvReduceCmd) Usage() string    { return "lv reduce -vg NAME <lv-name> <extents>\n" }

func (c *lvReduceCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.vgName, "vg", "", "volume group name")
}

func (c *lvReduceCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		fmt.Fprint(f.Output(), c.Usage())
		return subcommands.ExitUsageError
	}
	vg, err := c.store.get(c.vgName)
	if err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}
	lv, err := c.store.findLV(vg, f.Arg(0))
	if err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}
	extents, err := strconv.ParseUint(f.Arg(1), 10, 32)
	if err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}
	if err := lva.Reduce(vg, lv, lva.LogicalExtent(extents)); err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}
	fmt.Printf("reduced %s/%s to %d extents\n", c.vgName, lv.Name, lv.LeCount)
	return subcommands.ExitSuccess
}

// lvRemoveCmd deletes a logical volume, releasing its extents (§4.5
// "Remove").
type lvRemoveCmd struct {
	store  *vgStore
	vgName string
}

func (*lvRemoveCmd) Name() string     { return "remove" }
func (*lvRemoveCmd) Synopsis() string { return "remove a logical volume" }
func (*lvRemoveCmd) Usage() string    { return "lv remove -vg NAME <lv-name>\n" }

func (c *lvRemoveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.vgName, "vg", "", "volume group name")
}

func (c *lvRemoveCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(f.Output(), c.Usage())
		return subcommands.ExitUsageError
	}
	vg, err := c.store.get(c.vgName)
	if err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}
	lv, err := c.store.findLV(vg, f.Arg(0))
	if err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}
	if err := lva.Remove(vg, lv); err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}
	fmt.Printf("removed %s/%s\n", c.vgName, lv.Name)
	return subcommands.ExitSuccess
}
