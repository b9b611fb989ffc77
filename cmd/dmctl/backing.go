package main

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/dm-lva/core/internal/blockdev"
	"github.com/dm-lva/core/internal/dm"
)

// backingStore remembers which blockdev.Underlying devices back each
// mapped device, so "dm activate" can pass them to Activate without the
// caller having to restate a full device list every time. A real
// device-mapper ioctl interface derives this from the loaded table
// instead; this CLI takes it as an explicit "-backing" flag on create
// because internal/blockdev devices aren't themselves addressable from a
// linear target's params string.
type backingStore struct {
	mu    sync.Mutex
	layer *blockdev.Layer
	byMD  map[string][]dm.UnderlyingDevice
}

func newBackingStore(layer *blockdev.Layer) *backingStore {
	return &backingStore{layer: layer, byMD: make(map[string][]dm.UnderlyingDevice)}
}

// parseAndRegister parses a "-backing" spec of the form
// "id:blockSizeKB:hardSectorSize,id:blockSizeKB:hardSectorSize,..." into
// blockdev.Device/Underlying pairs, registers them under mdName, and
// returns the resulting dm.UnderlyingDevice list for Activate.
func (s *backingStore) parseAndRegister(mdName, spec string) ([]dm.UnderlyingDevice, error) {
	if spec == "" {
		return nil, nil
	}
	var devices []dm.UnderlyingDevice
	for _, entry := range strings.Split(spec, ",") {
		fields := strings.SplitN(entry, ":", 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed backing entry %q, want id:block_size_kb:hard_sector_size", entry)
		}
		blockSizeKB, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad block size %q: %w", fields[1], err)
		}
		hardSector, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad hard sector size %q: %w", fields[2], err)
		}
		dev := blockdev.NewDevice(0, blockSizeKB, hardSector)
		u := blockdev.NewUnderlying(fields[0], dev, s.layer)
		devices = append(devices, u)
	}

	s.mu.Lock()
	s.byMD[mdName] = devices
	s.mu.Unlock()
	return devices, nil
}

func (s *backingStore) get(mdName string) []dm.UnderlyingDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byMD[mdName]
}
