package target

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/dm-lva/core/internal/errs"
)

// linearKind is the built-in "linear" target (§4.1, §6): it rewrites a
// logical sector to a fixed offset on a single underlying device.
// Params are "<device-identifier>:<start-sector>".
type linearKind struct{}

type linearInstance struct {
	device     string
	startOnDev Sector
	rangeStart Sector
}

// Construct implements Kind.Construct.
func (linearKind) Construct(params []byte, rng Range) (Instance, error) {
	dev, start, err := parseLinearParams(params)
	if err != nil {
		return nil, errs.New(errs.BadParam, "linear.Construct", err)
	}
	return &linearInstance{device: dev, startOnDev: start, rangeStart: rng.Start}, nil
}

// Map implements Kind.Map.
func (linearKind) Map(req *Request, inst Instance) (Outcome, error) {
	li := inst.(*linearInstance)
	req.UnderlyingDevice = li.device
	req.UnderlyingSector = li.startOnDev + (req.Sector - li.rangeStart)
	return Remapped, nil
}

// Destruct implements Kind.Destruct.
func (linearKind) Destruct(Instance) {}

func parseLinearParams(params []byte) (device string, start Sector, err error) {
	parts := bytes.SplitN(params, []byte(":"), 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("linear: expected \"device:start_sector\", got %q", params)
	}
	device = string(parts[0])
	if device == "" {
		return "", 0, fmt.Errorf("linear: empty device identifier")
	}
	n, err := strconv.ParseUint(string(parts[1]), 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("linear: bad start_sector %q: %w", parts[1], err)
	}
	return device, Sector(n), nil
}
