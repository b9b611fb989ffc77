package blockdev

import (
	"context"
	"fmt"
	"sync"

	"github.com/dm-lva/core/internal/errs"
	"github.com/dm-lva/core/internal/target"
)

// Layer is the in-process dm.BlockLayer implementation: the seam a real
// host block-layer would occupy (§1 Non-goals), here just enough to
// drive deferred-I/O replay and target completion end to end. Requests
// are looked up by their mapped underlying device identifier and, for
// reads, throttled against that device's read-ahead budget before being
// completed.
type Layer struct {
	mu      sync.RWMutex
	devices map[string]*Device
}

// NewLayer builds an empty Layer; devices register themselves via Add
// as they're constructed.
func NewLayer() *Layer {
	return &Layer{devices: make(map[string]*Device)}
}

// Add registers dev under id so Submit can find it by
// Request.UnderlyingDevice.
func (l *Layer) Add(id string, dev *Device) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.devices[id] = dev
}

// Remove unregisters a device, e.g. when its owning MD is suspended.
func (l *Layer) Remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.devices, id)
}

// Submit implements dm.BlockLayer. It throttles reads against the
// target device's read-ahead limiter, then completes the request: real
// data movement is the out-of-scope kernel glue this module stands in
// for (§1).
func (l *Layer) Submit(ctx context.Context, dir target.Direction, req *target.Request) error {
	l.mu.RLock()
	dev, ok := l.devices[req.UnderlyingDevice]
	l.mu.RUnlock()
	if !ok {
		err := errs.New(errs.NoDevice, "blockdev.Submit", fmt.Errorf("unknown underlying device %q", req.UnderlyingDevice))
		if req.Done != nil {
			req.Done(err)
		}
		return err
	}

	if dir == target.Read {
		if err := dev.WaitReadAhead(ctx); err != nil {
			wrapped := errs.New(errs.Interrupted, "blockdev.Submit", err)
			if req.Done != nil {
				req.Done(wrapped)
			}
			return wrapped
		}
	}

	if req.Done != nil {
		req.Done(nil)
	}
	return nil
}
