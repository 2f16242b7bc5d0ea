package opencl

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/gomlx/clvirt/executive"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

// backendEntry is a registered backend kind.
type backendEntry struct {
	factory executive.Factory
	options executive.Options
}

// Registry owns all devices created through it, in creation order.
//
// It is safe for concurrent use. Devices hold a pointer back to their registry, and remove themselves from it
// when destroyed.
type Registry struct {
	mu       sync.Mutex
	backends map[executive.Kind]backendEntry
	devices  []*Device

	nextVendorID uint32
	loaded       bool

	// withDefault holds the ids of the platforms whose default device was already created.
	withDefault map[uint64]bool
}

// NewRegistry creates an empty registry, with no backends registered.
func NewRegistry() *Registry {
	return &Registry{
		backends:    make(map[executive.Kind]backendEntry),
		withDefault: make(map[uint64]bool),
	}
}

// String implements fmt.Stringer.
func (r *Registry) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("Registry[%d devices, %d backends]", len(r.devices), len(r.backends))
}

// RegisterBackend sets the factory used to create devices of the given kind. The options are passed to the
// factory on every call. Registering a kind twice replaces the previous factory.
func (r *Registry) RegisterBackend(kind executive.Kind, factory executive.Factory, options executive.Options) error {
	if factory == nil {
		return errors.Errorf("nil factory for backend %s", kind)
	}
	if err := options.Validate(); err != nil {
		return errors.WithMessagef(err, "invalid options for backend %s", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[kind] = backendEntry{factory: factory, options: options}
	return nil
}

// HasBackend reports whether a factory is registered for kind.
func (r *Registry) HasBackend(kind executive.Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, found := r.backends[kind]
	return found
}

// CreateDevices asks the backend of the given kind for its devices and registers one Device for each, under the
// given platform. It returns the number of devices created, which may be 0.
//
// If workerThreadLimit > 0 and the kind supports it (the multicore CPU backend), the limit is applied to every
// new backend device before it is registered.
//
// The new devices are owned by the registry: they are only reachable through GetDeviceIDs and Devices.
func (r *Registry) CreateDevices(platform *Platform, kind executive.Kind, flags uint, computeCapability int,
	workerThreadLimit int) (int, error) {
	return r.createDevices(platform, kind, flags, computeCapability, workerThreadLimit, nil)
}

// createDevices implements CreateDevices. The extra options take precedence over the registered ones.
func (r *Registry) createDevices(platform *Platform, kind executive.Kind, flags uint, computeCapability int,
	workerThreadLimit int, extra executive.Options) (int, error) {
	if platform == nil {
		return 0, NewError(InvalidPlatform, "nil platform")
	}
	r.mu.Lock()
	entry, found := r.backends[kind]
	r.mu.Unlock()
	if !found {
		return 0, NewError(DeviceNotFound, "no backend registered for %s devices", kind)
	}

	options := entry.options
	if len(extra) > 0 {
		options = make(executive.Options, len(entry.options)+len(extra))
		maps.Copy(options, entry.options)
		maps.Copy(options, extra)
	}
	backends, err := entry.factory(flags, computeCapability, options)
	if err != nil {
		return 0, errors.WithMessagef(err, "failed to create %s devices", kind)
	}
	if workerThreadLimit > 0 && supportsWorkerThreadLimit(kind) {
		for ii, backend := range backends {
			guard := &affinityGuard{backend: backend}
			err = guard.do(func(backend executive.Device) error {
				return backend.LimitWorkerThreads(workerThreadLimit)
			})
			if err != nil {
				for _, b := range backends {
					_ = b.Close()
				}
				return 0, errors.WithMessagef(err, "failed to limit worker threads of %s device #%d", kind, ii)
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	typ, vendor := backendClass(kind)
	for _, backend := range backends {
		devType := typ
		if !r.withDefault[platform.ID()] {
			devType |= DeviceTypeDefault
			r.withDefault[platform.ID()] = true
		}
		guard := &affinityGuard{backend: backend}
		d := newDevice(r, backend, guard, kind, devType, r.nextVendorID, vendor, platform)
		d.registryOwned = true
		r.nextVendorID++
		r.devices = append(r.devices, d)
	}
	r.loaded = true
	klog.V(1).Infof(" - Added %d %s devices.", len(backends), kind)
	return len(backends), nil
}

// addSubDevice registers a sub-device of parent, sharing its backend.
func (r *Registry) addSubDevice(parent *Device, partition []PartitionProperty) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := newDevice(r, parent.backend, parent.guard, parent.kind, parent.typ&^DeviceTypeDefault, r.nextVendorID,
		parent.vendor, parent.platform)
	r.nextVendorID++
	d.ownsBackend = false
	d.parent = parent
	d.partition = slices.Clone(partition)
	d.builtinKernels = parent.builtinKernels
	r.devices = append(r.devices, d)
	return d
}

// remove is called by Device.destroy. A device must be in the list exactly once.
func (r *Registry) remove(d *Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := slices.Index(r.devices, d)
	if idx < 0 {
		panic(fmt.Sprintf("removing %s, which is not in the registry", d))
	}
	r.devices = slices.Delete(r.devices, idx, idx+1)
	if slices.Contains(r.devices, d) {
		panic(fmt.Sprintf("%s was registered more than once", d))
	}
}

// GetDeviceIDs lists the root devices (sub-devices are not listed) of the given platform matching the requested
// type, in creation order. A nil platform matches all platforms.
//
// Up to len(devices) matches are written to devices, and the total number of matches is returned, whether it
// fits or not: pass a nil devices to query only the count.
//
// It fails with InvalidDeviceType if typ is not a valid mask, and with DeviceNotFound if nothing matches.
func (r *Registry) GetDeviceIDs(platform *Platform, typ DeviceType, devices []*Device) (int, error) {
	if !typ.IsValid() {
		return 0, NewError(InvalidDeviceType, "invalid device type 0x%x", uint64(typ))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, d := range r.devices {
		if d.IsSubDevice() || (platform != nil && d.platform != platform) || !typ.Matches(d.typ) {
			continue
		}
		if count < len(devices) {
			devices[count] = d
		}
		count++
	}
	if count == 0 {
		return 0, NewError(DeviceNotFound, "no %s devices found", typ)
	}
	return count, nil
}

// Devices returns a snapshot of all registered devices, sub-devices included, in creation order.
func (r *Registry) Devices() []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.devices)
}

// DeviceByHandle returns the device with the given handle (see Device.Handle), or nil.
func (r *Registry) DeviceByHandle(handle uint64) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.Handle() == handle {
			return d
		}
	}
	return nil
}

// Loaded reports whether devices were created since the registry was created or last torn down.
func (r *Registry) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

// Teardown releases the registry's reference on every root device. Devices still retained elsewhere stay
// alive (and listed) until their last reference is released.
//
// Sub-devices are owned by whoever created them, and must be released before their parent.
func (r *Registry) Teardown() {
	r.mu.Lock()
	var owned []*Device
	for _, d := range r.devices {
		if d.registryOwned {
			owned = append(owned, d)
			d.registryOwned = false
		}
	}
	r.loaded = false
	clear(r.withDefault)
	r.mu.Unlock()

	for _, d := range owned {
		d.Release()
	}
}

func (r *Registry) rootDevices() []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	roots := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		if !d.IsSubDevice() {
			roots = append(roots, d)
		}
	}
	return roots
}

// forAll runs fn on every root device in registry order, each under its own affinity guard. Failures don't
// stop the broadcast: they are logged and returned combined.
func (r *Registry) forAll(what string, fn func(backend executive.Device) error) error {
	var errs error
	for _, d := range r.rootDevices() {
		if err := d.guard.do(fn); err != nil {
			err = errors.WithMessagef(err, "%s failed on %s", what, d)
			klog.Errorf("%+v", err)
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// LimitWorkerThreadsForAll sets the worker threads limit of every device.
func (r *Registry) LimitWorkerThreadsForAll(limit int) error {
	return r.forAll("LimitWorkerThreads", func(backend executive.Device) error {
		return backend.LimitWorkerThreads(limit)
	})
}

// UnloadModuleForAll unloads the named module from every device.
func (r *Registry) UnloadModuleForAll(name string) error {
	return r.forAll(fmt.Sprintf("Unload(%q)", name), func(backend executive.Device) error {
		return backend.Unload(name)
	})
}

// SetOptimizationLevelForAll sets the optimization level of every device.
func (r *Registry) SetOptimizationLevelForAll(level executive.OptimizationLevel) error {
	return r.forAll("SetOptimizationLevel", func(backend executive.Device) error {
		return backend.SetOptimizationLevel(level)
	})
}
