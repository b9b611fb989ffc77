// Command dmctl is a thin CLI exercising the Device Registry and LV
// Allocator end to end: target/device/volume-group management backed by
// the in-process block layer in internal/blockdev (§1: "a *minimal* CLI
// whose job is to exercise DR/LVA").
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"github.com/dm-lva/core/internal/blockdev"
	"github.com/dm-lva/core/internal/config"
	"github.com/dm-lva/core/internal/dm"
	"github.com/dm-lva/core/internal/logging"
	"github.com/dm-lva/core/internal/target"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	cfg := config.FromEnv()
	log := logging.New(os.Getenv("DM_LOG_LEVEL"))

	targets := target.NewRegistry(log)
	layer := blockdev.NewLayer()
	registry := dm.NewRegistry(cfg.MaxDevices, targets, layer, log)
	backing := newBackingStore(layer)
	vgs := newVGStore()

	subcommands.Register(&targetListCmd{targets: targets}, "target")
	subcommands.Register(&dmCreateCmd{registry: registry, backing: backing}, "dm")
	subcommands.Register(&dmListCmd{registry: registry}, "dm")
	subcommands.Register(&dmActivateCmd{registry: registry, backing: backing}, "dm")
	subcommands.Register(&dmSuspendCmd{registry: registry}, "dm")
	subcommands.Register(&dmRemoveCmd{registry: registry}, "dm")

	subcommands.Register(&vgCreateCmd{store: vgs}, "vg")
	subcommands.Register(&vgListCmd{store: vgs}, "vg")
	subcommands.Register(&lvCreateCmd{store: vgs, log: log}, "lv")
	subcommands.Register(&lvExtendCmd{store: vgs, log: log}, "lv")
	subcommands.Register(&lvReduceCmd{store: vgs}, "lv")
	subcommands.Register(&lvRemoveCmd{store: vgs}, "lv")

	flag.Parse()
	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}
