package dm

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dm-lva/core/internal/errs"
	"github.com/dm-lva/core/internal/target"
)

// DeviceInfo is a read-only snapshot of one registered device, returned
// by Registry.List.
type DeviceInfo struct {
	Name   string
	Minor  int
	Loaded bool
	Active bool
}

// Registry is the Device Registry (§4.4): a process-wide directory of
// MappedDevices indexed by minor number and by unique name.
type Registry struct {
	mu    sync.RWMutex
	slots []*MappedDevice
	names map[string]int

	blockLayer BlockLayer
	targets    *target.Registry
	pool       *pools
	log        *logrus.Logger
}

// NewRegistry builds a Registry with maxDevices slots.
func NewRegistry(maxDevices int, targets *target.Registry, bl BlockLayer, log *logrus.Logger) *Registry {
	return &Registry{
		slots:      make([]*MappedDevice, maxDevices),
		names:      make(map[string]int),
		blockLayer: bl,
		targets:    targets,
		pool:       newPools(),
		log:        log,
	}
}

// Targets returns the target registry this DR's mapping tables are
// constructed against.
func (dr *Registry) Targets() *target.Registry { return dr.targets }

// Create allocates a new MappedDevice under name. If preferredMinor is
// negative, the lowest free minor is chosen; otherwise that exact minor
// is used, failing InUse if occupied (§4.4).
func (dr *Registry) Create(name string, preferredMinor int) (int, error) {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	if _, exists := dr.names[name]; exists {
		return -1, errs.New(errs.Duplicate, "dm.Create", fmt.Errorf("device %q already exists", name))
	}

	minor, err := dr.reserveMinorLocked(preferredMinor)
	if err != nil {
		return -1, err
	}

	dr.slots[minor] = newMappedDevice(name, minor, dr.blockLayer, dr.log, dr.pool)
	dr.names[name] = minor

	dr.log.WithFields(logrus.Fields{"device": name, "minor": minor}).Info("dm: device created")
	return minor, nil
}

func (dr *Registry) reserveMinorLocked(preferredMinor int) (int, error) {
	if preferredMinor < 0 {
		for i, s := range dr.slots {
			if s == nil {
				return i, nil
			}
		}
		return -1, errs.New(errs.NoMemory, "dm.Create", fmt.Errorf("no free minors available"))
	}

	if preferredMinor >= len(dr.slots) {
		return -1, errs.New(errs.NoDevice, "dm.Create", fmt.Errorf("minor %d out of range [0,%d)", preferredMinor, len(dr.slots)))
	}
	if dr.slots[preferredMinor] != nil {
		return -1, errs.New(errs.InUse, "dm.Create", fmt.Errorf("minor %d already in use", preferredMinor))
	}
	return preferredMinor, nil
}

// Remove unloads and deletes the named device. It refuses while the
// device is in use (§4.4).
func (dr *Registry) Remove(name string) error {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	minor, ok := dr.names[name]
	if !ok {
		return errs.New(errs.NoDevice, "dm.Remove", fmt.Errorf("device %q does not exist", name))
	}
	md := dr.slots[minor]

	if md.UseCount() > 0 {
		return errs.New(errs.Busy, "dm.Remove", fmt.Errorf("device %q is in use", name))
	}

	if md.IsLoaded() {
		if err := md.Unload(); err != nil {
			return err
		}
	}

	delete(dr.names, name)
	dr.slots[minor] = nil

	dr.log.WithFields(logrus.Fields{"device": name, "minor": minor}).Info("dm: device removed")
	return nil
}

// FindByName returns the device registered under name.
func (dr *Registry) FindByName(name string) (*MappedDevice, error) {
	dr.mu.RLock()
	defer dr.mu.RUnlock()

	minor, ok := dr.names[name]
	if !ok {
		return nil, errs.New(errs.NoDevice, "dm.FindByName", fmt.Errorf("device %q does not exist", name))
	}
	return dr.slots[minor], nil
}

// FindByMinor returns the device at minor, or NoDevice if the slot is
// empty or minor is out of range.
func (dr *Registry) FindByMinor(minor int) (*MappedDevice, error) {
	dr.mu.RLock()
	defer dr.mu.RUnlock()

	if minor < 0 || minor >= len(dr.slots) {
		return nil, errs.New(errs.NoDevice, "dm.FindByMinor", fmt.Errorf("minor %d out of range", minor))
	}
	md := dr.slots[minor]
	if md == nil {
		return nil, errs.New(errs.NoDevice, "dm.FindByMinor", fmt.Errorf("no device at minor %d", minor))
	}
	return md, nil
}

// List returns a snapshot of every registered device (§4.4 supplement).
func (dr *Registry) List() []DeviceInfo {
	dr.mu.RLock()
	defer dr.mu.RUnlock()

	infos := make([]DeviceInfo, 0, len(dr.names))
	for name, minor := range dr.names {
		md := dr.slots[minor]
		infos = append(infos, DeviceInfo{
			Name:   name,
			Minor:  minor,
			Loaded: md.IsLoaded(),
			Active: md.IsActive(),
		})
	}
	return infos
}

// Submit resolves minor to a MappedDevice under the registry's read
// lock, then releases the lock before dispatching the request path
// (§4.3): submitters never hold the DR lock across a potentially
// blocking MD operation.
func (dr *Registry) Submit(ctx context.Context, minor int, dir target.Direction, req *target.Request) (SubmitResult, error) {
	md, err := dr.FindByMinor(minor)
	if err != nil {
		return ResultFailed, err
	}
	return md.Submit(ctx, dir, req)
}
