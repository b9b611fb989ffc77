package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/subcommands"

	"github.com/dm-lva/core/internal/dm"
	"github.com/dm-lva/core/internal/target"
)

// targetListCmd lists the registered target kinds (§4.1).
type targetListCmd struct {
	targets *target.Registry
}

func (*targetListCmd) Name() string     { return "list" }
func (*targetListCmd) Synopsis() string { return "list registered target kinds" }
func (*targetListCmd) Usage() string    { return "target list\n" }
func (*targetListCmd) SetFlags(*flag.FlagSet) {}

func (c *targetListCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	for _, k := range c.targets.Kinds() {
		fmt.Println(k)
	}
	return subcommands.ExitSuccess
}

// dmCreateCmd creates a new mapped device from a table spec string:
// "high:kind:params;high:kind:params;...", each entry separated by ';'
// and fields by ':' (§4.2). -backing registers the blockdev.Underlying
// devices the table's linear targets reference by name, so a later
// "dm activate" has something to open.
type dmCreateCmd struct {
	registry   *dm.Registry
	backing    *backingStore
	minor      int
	backingArg string
}

func (*dmCreateCmd) Name() string     { return "create" }
func (*dmCreateCmd) Synopsis() string { return "create a mapped device and load its table" }
func (*dmCreateCmd) Usage() string {
	return "dm create [-minor N] [-backing id:block_kb:hardsector,...] <name> <high:kind:params;...>\n"
}

func (c *dmCreateCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.minor, "minor", -1, "preferred minor (-1 = lowest free)")
	f.StringVar(&c.backingArg, "backing", "", "backing devices this table's linear targets reference")
}

func (c *dmCreateCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		fmt.Fprint(f.Output(), c.Usage())
		return subcommands.ExitUsageError
	}
	name, spec := f.Arg(0), f.Arg(1)

	specs, err := parseTableSpec(spec)
	if err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}
	if _, err := c.backing.parseAndRegister(name, c.backingArg); err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}

	minor, err := c.registry.Create(name, c.minor)
	if err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}

	md, err := c.registry.FindByMinor(minor)
	if err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}

	mt, err := dm.BuildTable(c.registry.Targets(), specs, 32)
	if err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}
	if err := md.Load(mt); err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}

	fmt.Printf("created %s (minor %d)\n", name, minor)
	return subcommands.ExitSuccess
}

func parseTableSpec(spec string) ([]dm.EntrySpec, error) {
	var specs []dm.EntrySpec
	for _, entry := range strings.Split(spec, ";") {
		fields := strings.SplitN(entry, ":", 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed table entry %q, want high:kind:params", entry)
		}
		high, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad high sector %q: %w", fields[0], err)
		}
		specs = append(specs, dm.EntrySpec{High: high, KindName: fields[1], Params: []byte(fields[2])})
	}
	return specs, nil
}

// dmListCmd lists every registered device (§4.4 supplement).
type dmListCmd struct {
	registry *dm.Registry
}

func (*dmListCmd) Name() string     { return "list" }
func (*dmListCmd) Synopsis() string { return "list mapped devices" }
func (*dmListCmd) Usage() string    { return "dm list\n" }
func (*dmListCmd) SetFlags(*flag.FlagSet) {}

func (c *dmListCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	for _, info := range c.registry.List() {
		fmt.Printf("%d\t%s\tloaded=%v active=%v\n", info.Minor, info.Name, info.Loaded, info.Active)
	}
	return subcommands.ExitSuccess
}

// dmActivateCmd activates a loaded device, opening whatever backing
// devices were registered for it at "dm create" time (possibly none, for
// tables built entirely out of the "zero" target).
type dmActivateCmd struct {
	registry *dm.Registry
	backing  *backingStore
}

func (*dmActivateCmd) Name() string     { return "activate" }
func (*dmActivateCmd) Synopsis() string { return "activate a loaded device" }
func (*dmActivateCmd) Usage() string    { return "dm activate <name>\n" }
func (*dmActivateCmd) SetFlags(*flag.FlagSet) {}

func (c *dmActivateCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(f.Output(), c.Usage())
		return subcommands.ExitUsageError
	}
	md, err := c.registry.FindByName(f.Arg(0))
	if err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}
	if err := md.Activate(ctx, c.backing.get(f.Arg(0))); err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// dmSuspendCmd quiesces and suspends an active device (§4.3).
type dmSuspendCmd struct {
	registry *dm.Registry
}

func (*dmSuspendCmd) Name() string     { return "suspend" }
func (*dmSuspendCmd) Synopsis() string { return "suspend an active device" }
func (*dmSuspendCmd) Usage() string    { return "dm suspend <name>\n" }
func (*dmSuspendCmd) SetFlags(*flag.FlagSet) {}

func (c *dmSuspendCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(f.Output(), c.Usage())
		return subcommands.ExitUsageError
	}
	md, err := c.registry.FindByName(f.Arg(0))
	if err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}
	if err := md.Suspend(ctx); err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// dmRemoveCmd removes a device from the registry (§4.4).
type dmRemoveCmd struct {
	registry *dm.Registry
}

func (*dmRemoveCmd) Name() string     { return "remove" }
func (*dmRemoveCmd) Synopsis() string { return "remove a device" }
func (*dmRemoveCmd) Usage() string    { return "dm remove <name>\n" }
func (*dmRemoveCmd) SetFlags(*flag.FlagSet) {}

func (c *dmRemoveCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(f.Output(), c.Usage())
		return subcommands.ExitUsageError
	}
	if err := c.registry.Remove(f.Arg(0)); err != nil {
		fmt.Fprintln(f.Output(), err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
