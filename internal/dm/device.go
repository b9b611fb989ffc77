package dm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dm-lva/core/internal/errs"
	"github.com/dm-lva/core/internal/target"
)

// state is the bit set described in §4.3: EMPTY (0) -> LOADED -> ACTIVE.
// SUSPENDED is represented by LOADED with the active bit cleared again,
// exactly as the original source's single DM_ACTIVE bit does: the
// request path cannot distinguish "never activated" from "suspended".
type state uint32

const (
	stateLoaded state = 1 << iota
	stateActive
)

// UnderlyingDevice is the narrow collaborator interface for a device an
// MD's targets reference. Opening/closing real block devices is out of
// scope (§1); this is the seam a host block-layer glue would implement.
type UnderlyingDevice interface {
	Identifier() string
	Open() error
	Close() error
	HardSectorSize() int
}

// BlockLayer is the generic block-layer submission entry point used for
// replaying deferred I/O (§4.3 "Deferred replay").
type BlockLayer interface {
	Submit(ctx context.Context, dir target.Direction, req *target.Request) error
}

// SubmitResult is the outcome of MappedDevice.Submit / Registry.Submit
// as seen by a caller on the request path (§4.3).
type SubmitResult int

const (
	ResultCompleted SubmitResult = iota
	ResultDeferred
	ResultFailed
)

func (r SubmitResult) String() string {
	switch r {
	case ResultCompleted:
		return "completed"
	case ResultDeferred:
		return "deferred"
	default:
		return "failed"
	}
}

type deferredEntry struct {
	dir target.Direction
	req *target.Request
}

// ioHook captures a request's original completion so the mapped device
// can account for pending I/O regardless of how the target completes the
// request (§4.3 "Hook finalization"). Lifetime: allocated at map time,
// reclaimed by finalize once the block layer invokes it.
type ioHook struct {
	md   *MappedDevice
	done func(error)
}

func (h *ioHook) finalize(err error) {
	md := h.md
	done := h.done
	h.md = nil
	h.done = nil
	md.pool.putHook(h)
	md.decPending()
	if done != nil {
		done(err)
	}
}

// MappedDevice is the per-device runtime object (§3, §4.3): identity,
// activation state machine, deferred-I/O queue, pending-I/O counter,
// use counter, and the active mapping table.
type MappedDevice struct {
	// mu guards state, mt, devices and deferred. It is this MD's own
	// lock rather than the single process-wide rwsem the minimal
	// implementation in §5 describes; the optimizing variant §5
	// explicitly allows requires the DR -> MD lock order, which every
	// method here respects (Registry never calls into an MD while
	// holding md.mu, and MD methods never call back into the
	// Registry's lock).
	mu sync.RWMutex

	name  string
	minor int

	state    state
	mt       *MappingTable
	devices  []UnderlyingDevice
	useCount int
	deferred []*deferredEntry

	// hardSectorSize is the minimum hard-sector size across the
	// currently-open underlying devices, recomputed on every Activate
	// (§9 Open Question (a): the source hardcodes block size itself, but
	// does compute hard-sector size this way via __find_hardsect_size).
	hardSectorSize int

	waitCond *sync.Cond

	// pending is the in-flight I/O counter (§4.3); updated outside mu
	// via atomic ops, as §5 specifies.
	pending int64

	blockLayer BlockLayer
	pool       *pools
	log        *logrus.Logger
}

func newMappedDevice(name string, minor int, bl BlockLayer, log *logrus.Logger, pool *pools) *MappedDevice {
	md := &MappedDevice{
		name:       name,
		minor:      minor,
		blockLayer: bl,
		pool:       pool,
		log:        log,
	}
	md.waitCond = sync.NewCond(&md.mu)
	return md
}

// Name returns the device's unique name.
func (md *MappedDevice) Name() string { return md.name }

// Minor returns the device's minor number.
func (md *MappedDevice) Minor() int { return md.minor }

// IsActive reports whether the device is currently in the ACTIVE state.
func (md *MappedDevice) IsActive() bool {
	md.mu.RLock()
	defer md.mu.RUnlock()
	return md.state&stateActive != 0
}

// IsLoaded reports whether a mapping table is currently attached.
func (md *MappedDevice) IsLoaded() bool {
	md.mu.RLock()
	defer md.mu.RUnlock()
	return md.state&stateLoaded != 0
}

// UseCount returns the current open-reference count.
func (md *MappedDevice) UseCount() int {
	md.mu.RLock()
	defer md.mu.RUnlock()
	return md.useCount
}

// IncUse increments the use count, mirroring blk_open: a device must be
// ACTIVE to be opened (§4.4).
func (md *MappedDevice) IncUse() error {
	md.mu.Lock()
	defer md.mu.Unlock()
	if md.state&stateActive == 0 {
		return errs.New(errs.NoDevice, "dm.Open", fmt.Errorf("device %q is not active", md.name))
	}
	md.useCount++
	return nil
}

// DecUse decrements the use count, mirroring blk_close.
func (md *MappedDevice) DecUse() error {
	md.mu.Lock()
	defer md.mu.Unlock()
	if md.useCount < 1 {
		return errs.New(errs.NoDevice, "dm.Close", fmt.Errorf("reference count in mapped device %q incorrect", md.name))
	}
	md.useCount--
	return nil
}

// Load attaches a mapping table to an EMPTY device, transitioning it to
// LOADED (§4.3).
func (md *MappedDevice) Load(mt *MappingTable) error {
	md.mu.Lock()
	defer md.mu.Unlock()

	if md.state&stateLoaded != 0 {
		return errs.New(errs.BadParam, "dm.Load", fmt.Errorf("device %q already loaded", md.name))
	}
	md.mt = mt
	md.state |= stateLoaded
	return nil
}

// Activate opens every underlying device, publishes the device as
// ACTIVE, and drains any I/O deferred before the first activation
// (§4.3). Double-activation is a no-op (§5 "Shared resources").
func (md *MappedDevice) Activate(ctx context.Context, devices []UnderlyingDevice) error {
	md.mu.Lock()

	if md.state&stateActive != 0 {
		md.mu.Unlock()
		return nil
	}
	if md.state&stateLoaded == 0 || md.mt == nil || md.mt.Len() == 0 {
		md.mu.Unlock()
		return errs.New(errs.NotActive, "dm.Activate", fmt.Errorf("device %q has no mapping table", md.name))
	}

	if err := openAll(ctx, devices); err != nil {
		md.mu.Unlock()
		return errs.New(errs.IoError, "dm.Activate", err)
	}

	md.devices = devices
	md.hardSectorSize = minHardSectorSize(devices)
	md.state |= stateActive
	deferred := md.detachDeferredLocked()
	md.mu.Unlock()

	md.log.WithFields(logrus.Fields{"device": md.name, "minor": md.minor}).Info("dm: device activated")
	md.replay(ctx, deferred)
	return nil
}

// Resume reopens the underlying devices and transitions SUSPENDED ->
// ACTIVE, draining deferred I/O exactly as Activate does (§4.3).
func (md *MappedDevice) Resume(ctx context.Context, devices []UnderlyingDevice) error {
	return md.Activate(ctx, devices)
}

// HardSectorSize returns the device's current hard-sector size: the
// minimum across its underlying devices as of the last Activate, or 0
// before first activation.
func (md *MappedDevice) HardSectorSize() int {
	md.mu.RLock()
	defer md.mu.RUnlock()
	return md.hardSectorSize
}

// minHardSectorSize mirrors __find_hardsect_size in the original
// driver: a mapped device's own sector size is the smallest among
// everything it maps onto, defaulting to 512 when it maps onto nothing.
func minHardSectorSize(devices []UnderlyingDevice) int {
	min := 0
	for _, d := range devices {
		s := d.HardSectorSize()
		if min == 0 || s < min {
			min = s
		}
	}
	if min == 0 {
		min = 512
	}
	return min
}

// openAll opens every underlying device concurrently, closing whatever
// succeeded if any open fails (§4.3 "open all the underlying devices").
// Real device opens are blocking I/O, so fanning them out with errgroup
// bounds activation latency by the slowest device rather than their sum.
func openAll(ctx context.Context, devices []UnderlyingDevice) error {
	g, _ := errgroup.WithContext(ctx)
	opened := make([]bool, len(devices))

	for i, d := range devices {
		i, d := i, d
		g.Go(func() error {
			if err := d.Open(); err != nil {
				return err
			}
			opened[i] = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for i, d := range devices {
			if opened[i] {
				d.Close()
			}
		}
		return err
	}
	return nil
}

// Suspend waits for pending I/O to quiesce, then closes the underlying
// devices and clears ACTIVE (§4.3 "Suspend quiescence"). ACTIVE stays
// set while Suspend waits, so requests submitted during the wait are
// still mapped and added to pending; only requests arriving after
// Suspend returns are deferred. ctx cancellation aborts the wait,
// leaving the device ACTIVE, and reports errs.Interrupted (§5
// "Cancellation and timeouts").
func (md *MappedDevice) Suspend(ctx context.Context) error {
	md.mu.Lock()

	if md.state&stateActive == 0 {
		md.mu.Unlock()
		return nil
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			md.mu.Lock()
			md.waitCond.Broadcast()
			md.mu.Unlock()
		case <-stop:
		}
	}()

	for atomic.LoadInt64(&md.pending) != 0 {
		if err := ctx.Err(); err != nil {
			close(stop)
			md.mu.Unlock()
			return errs.New(errs.Interrupted, "dm.Suspend", err)
		}
		md.waitCond.Wait()
	}
	close(stop)

	for _, d := range md.devices {
		d.Close()
	}
	md.devices = nil
	md.state &^= stateActive
	md.mu.Unlock()

	md.log.WithFields(logrus.Fields{"device": md.name, "minor": md.minor}).Info("dm: device suspended")
	return nil
}

// Unload detaches and destructs the mapping table, transitioning
// LOADED/SUSPENDED -> EMPTY. Any still-deferred requests are failed back
// to their submitters rather than silently dropped (§4.3).
func (md *MappedDevice) Unload() error {
	md.mu.Lock()
	defer md.mu.Unlock()

	if md.state&stateLoaded == 0 {
		return errs.New(errs.NotActive, "dm.Unload", fmt.Errorf("device %q is not loaded", md.name))
	}
	if md.state&stateActive != 0 {
		return errs.New(errs.Busy, "dm.Unload", fmt.Errorf("device %q is active", md.name))
	}

	if md.mt != nil {
		md.mt.Destroy()
		md.mt = nil
	}

	failErr := errs.New(errs.IoError, "dm.Unload", fmt.Errorf("device %q unloaded with I/O still deferred", md.name))
	for _, e := range md.deferred {
		if e.req.Done != nil {
			e.req.Done(failErr)
		}
		md.pool.putDeferred(e)
	}
	md.deferred = nil
	md.state = 0
	return nil
}

// detachDeferredLocked atomically detaches the deferred queue. Callers
// must hold md.mu.
func (md *MappedDevice) detachDeferredLocked() []*deferredEntry {
	d := md.deferred
	md.deferred = nil
	return d
}

// replay submits every detached deferred entry via the block layer, one
// at a time in enqueue order (§4.3). md.deferred is a slice appended to
// as requests are deferred (unlike the source's LIFO linked list), so
// walking the detached slice front to back replays in FIFO order, as
// Scenario 6 requires. Once ctx is done, the remaining entries are
// failed back to their submitters instead of being submitted.
func (md *MappedDevice) replay(ctx context.Context, entries []*deferredEntry) {
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			md.failDeferred(e, errs.New(errs.IoError, "dm.replay", err))
			continue
		}
		if err := md.blockLayer.Submit(ctx, e.dir, e.req); err != nil {
			md.log.WithError(err).WithField("device", md.name).Warn("dm: deferred replay failed")
		}
		md.pool.putDeferred(e)
	}
}

func (md *MappedDevice) failDeferred(e *deferredEntry, err error) {
	if e.req.Done != nil {
		e.req.Done(err)
	}
	md.pool.putDeferred(e)
}

func (md *MappedDevice) decPending() {
	if atomic.AddInt64(&md.pending, -1) == 0 {
		md.mu.Lock()
		md.waitCond.Broadcast()
		md.mu.Unlock()
	}
}

// Submit runs the request path of §4.3: if the device isn't loaded,
// fail; if not active, defer (re-checking ACTIVE under the same lock
// used to push onto the deferred queue, closing the race the source's
// own comment flags, per §9); if active, look up the mapping table entry
// and invoke its target's Map. The pending-I/O counter is incremented
// before the RLock taken here is released, not after, so Suspend's
// zero-pending check under the write lock (which cannot run until every
// current RLock holder has released) can never observe pending == 0
// for a request that already passed the active check.
func (md *MappedDevice) Submit(ctx context.Context, dir target.Direction, req *target.Request) (SubmitResult, error) {
	for {
		md.mu.RLock()
		loaded := md.state&stateLoaded != 0
		active := md.state&stateActive != 0
		mt := md.mt
		if active {
			atomic.AddInt64(&md.pending, 1)
		}
		md.mu.RUnlock()

		if !loaded {
			return ResultFailed, errs.New(errs.NoDevice, "dm.Submit", fmt.Errorf("device %q is not loaded", md.name))
		}

		if !active {
			deferred, err := md.tryDefer(dir, req)
			if err != nil {
				return ResultFailed, err
			}
			if deferred {
				return ResultDeferred, nil
			}
			// Activation raced in between the read above and the
			// write-locked recheck in tryDefer; retry as active.
			continue
		}

		return md.mapAndDispatch(mt, req)
	}
}

func (md *MappedDevice) tryDefer(dir target.Direction, req *target.Request) (bool, error) {
	md.mu.Lock()
	defer md.mu.Unlock()

	if md.state&stateActive != 0 {
		return false, nil
	}

	e := md.pool.getDeferred()
	e.dir = dir
	e.req = req
	md.deferred = append(md.deferred, e)
	return true, nil
}

// mapAndDispatch looks up req's mapping table entry and invokes its
// target's Map. The caller (Submit) has already incremented
// md.pending for this request; every exit path here must balance that
// increment exactly once, either directly via decPending or, for a
// Remapped outcome, via the ioHook's finalize once the block layer
// completes the request.
func (md *MappedDevice) mapAndDispatch(mt *MappingTable, req *target.Request) (SubmitResult, error) {
	entry, err := mt.Lookup(req.Sector)
	if err != nil {
		md.decPending()
		return ResultFailed, err
	}

	hook := md.pool.getHook()
	hook.md = md
	hook.done = req.Done

	outcome, merr := entry.Kind.Map(req, entry.Instance)
	switch outcome {
	case target.Remapped:
		req.Done = hook.finalize
		return ResultCompleted, nil
	case target.Complete:
		hook.md = nil
		hook.done = nil
		md.pool.putHook(hook)
		md.decPending()
		return ResultCompleted, nil
	default: // target.Failed
		hook.md = nil
		hook.done = nil
		md.pool.putHook(hook)
		md.decPending()
		return ResultFailed, errs.New(errs.IoError, "dm.Submit", merr)
	}
}
