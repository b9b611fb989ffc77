// Package blockdev stands in for the host kernel's block-layer glue
// (§1 Non-goals), giving the control-operation surface of §6 an
// in-process body so dm.Registry-backed devices can be exercised end to
// end without a real kernel underneath them.
package blockdev

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/dm-lva/core/internal/errs"
)

// Op is one block-layer control operation. Values are the real Linux
// block-ioctl request codes rather than an invented enum, mirroring
// blk_ioctl's switch on `command` in the original driver.
type Op uintptr

const (
	OpGetSize          Op = unix.BLKGETSIZE
	OpFlushBuffers     Op = unix.BLKFLSBUF
	OpGetReadAhead     Op = unix.BLKRAGET
	OpSetReadAhead     Op = unix.BLKRASET
	OpReReadPartitions Op = unix.BLKRRPART
)

func (o Op) String() string {
	switch o {
	case OpGetSize:
		return "get-size"
	case OpFlushBuffers:
		return "flush-buffers"
	case OpGetReadAhead:
		return "get-read-ahead"
	case OpSetReadAhead:
		return "set-read-ahead"
	case OpReReadPartitions:
		return "re-read-partitions"
	default:
		return "unknown"
	}
}

// DefaultReadAhead is the read-ahead value new devices start with,
// in sectors (§6).
const DefaultReadAhead = 64

// Device is the in-process stand-in for one mapped device's block-layer
// presence: block size, hard sector size, and a read-ahead value (§6,
// grounded on `_block_size`/`_hardsect_size` being flat arrays indexed
// by minor in the original). Each Device holds its own read-ahead value
// and limiter; the value is not shared with other devices of the same
// major.
type Device struct {
	mu sync.RWMutex

	minor          int
	blockSizeKB    int64
	hardSectorSize int64

	readAhead int64
	limiter   *rate.Limiter
}

// NewDevice builds a Device for minor with the given block size (in
// kilobytes, matching `_block_size`'s unit in the original) and hard
// sector size, starting at DefaultReadAhead.
func NewDevice(minor int, blockSizeKB, hardSectorSize int64) *Device {
	return &Device{
		minor:          minor,
		blockSizeKB:    blockSizeKB,
		hardSectorSize: hardSectorSize,
		readAhead:      DefaultReadAhead,
		limiter:        rate.NewLimiter(rate.Limit(DefaultReadAhead), DefaultReadAhead),
	}
}

// Control dispatches one block-layer control operation, mirroring
// blk_ioctl's switch (§6). privileged stands in for capable(CAP_SYS_ADMIN);
// OpFlushBuffers and OpSetReadAhead require it.
func (d *Device) Control(ctx context.Context, op Op, privileged bool, arg int64) (int64, error) {
	switch op {
	case OpGetSize:
		return d.getSize(), nil

	case OpFlushBuffers:
		if !privileged {
			return 0, errs.New(errs.Permission, "blockdev.Control", fmt.Errorf("flush-buffers requires privilege"))
		}
		// Throttled through the device's read-ahead limiter (mirrors a
		// kernel avoiding flush storms); each flush takes a token from
		// the same budget that read-ahead reads draw on.
		if err := d.WaitReadAhead(ctx); err != nil {
			return 0, errs.New(errs.Interrupted, "blockdev.Control", err)
		}
		return 0, nil

	case OpGetReadAhead:
		d.mu.RLock()
		defer d.mu.RUnlock()
		return d.readAhead, nil

	case OpSetReadAhead:
		if !privileged {
			return 0, errs.New(errs.Permission, "blockdev.Control", fmt.Errorf("set-read-ahead requires privilege"))
		}
		d.setReadAhead(arg)
		return 0, nil

	case OpReReadPartitions:
		return 0, errs.New(errs.NotSupported, "blockdev.Control", fmt.Errorf("re-read-partitions is not supported"))

	default:
		return 0, errs.New(errs.NotSupported, "blockdev.Control", fmt.Errorf("unknown control op %v", op))
	}
}

// getSize returns block_size*1024/hard_sector_size, exactly §6's
// BLKGETSIZE formula.
func (d *Device) getSize() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.blockSizeKB * 1024 / d.hardSectorSize
}

func (d *Device) setReadAhead(sectors int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readAhead = sectors
	d.limiter.SetLimit(rate.Limit(sectors))
	d.limiter.SetBurst(int(sectors))
}

// WaitReadAhead blocks until the device's read-ahead budget admits one
// more read-ahead request, throttling speculative prefetch to the
// configured read-ahead rate.
func (d *Device) WaitReadAhead(ctx context.Context) error {
	d.mu.RLock()
	lim := d.limiter
	d.mu.RUnlock()
	return lim.Wait(ctx)
}
