package blockdev

import "sync/atomic"

// Underlying adapts a registered Device into dm.UnderlyingDevice: the
// narrow open/close/identify surface a mapping table's linear targets
// reference (§4.3).
type Underlying struct {
	id  string
	dev *Device

	layer *Layer
	open  int32
}

// NewUnderlying wires dev into layer under id so deferred replay can
// find it, and returns the dm.UnderlyingDevice handle for activation.
func NewUnderlying(id string, dev *Device, layer *Layer) *Underlying {
	return &Underlying{id: id, dev: dev, layer: layer}
}

func (u *Underlying) Identifier() string { return u.id }

// Open registers the device with the block layer, mirroring blk_open's
// use-count bump (§4.4); concurrent opens from Activate's fan-out are
// safe since registration is idempotent.
func (u *Underlying) Open() error {
	if atomic.AddInt32(&u.open, 1) == 1 {
		u.layer.Add(u.id, u.dev)
	}
	return nil
}

// Close unregisters the device once its last opener releases it.
func (u *Underlying) Close() error {
	if atomic.AddInt32(&u.open, -1) == 0 {
		u.layer.Remove(u.id)
	}
	return nil
}

func (u *Underlying) HardSectorSize() int { return int(u.dev.hardSectorSize) }
