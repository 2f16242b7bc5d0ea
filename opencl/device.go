package opencl

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/gomlx/clvirt/executive"
	"github.com/gomlx/clvirt/refcount"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// affinityGuard serializes the use of one backend device: only one goroutine at a time drives it, locked to its
// OS thread, between Select and Unselect.
//
// Sub-devices share the guard of their parent, since they share the backend.
type affinityGuard struct {
	mu      sync.Mutex
	backend executive.Device
}

// do runs fn with the backend selected. The backend is unselected and the lock released on every exit path,
// including a panic in fn.
func (g *affinityGuard) do(fn func(backend executive.Device) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := g.backend.Select(); err != nil {
		return errors.WithMessage(err, "failed to select backend device")
	}
	defer g.backend.Unselect()
	return fn(g.backend)
}

// Device is a virtual compute device: it wraps one backend device (executive.Device) and answers the device
// API for it, whatever the backend kind.
//
// Devices are created by Registry.CreateDevices (or Device.CreateSubDevices) and hold one reference, owned by
// the registry. They are destroyed when the last reference is released, at which point they are removed from
// the registry, release their platform and close their backend.
type Device struct {
	registry *Registry
	backend  executive.Device
	guard    *affinityGuard

	// ownsBackend is false for sub-devices: the backend is closed by the parent.
	ownsBackend bool

	// registryOwned is set while the registry holds a reference to the device. Protected by Registry.mu.
	registryOwned bool

	kind     executive.Kind
	typ      DeviceType
	vendorID uint32
	vendor   string
	platform *Platform

	// parent is a weak reference: sub-devices don't keep the parent alive.
	parent         *Device
	partition      []PartitionProperty
	builtinKernels string

	ref refcount.Object
}

// newDevice creates the Device. The caller (Registry) assigns the vendor id and inserts it in its list.
func newDevice(registry *Registry, backend executive.Device, guard *affinityGuard, kind executive.Kind,
	typ DeviceType, vendorID uint32, vendor string, platform *Platform) *Device {
	d := &Device{
		registry:    registry,
		backend:     backend,
		guard:       guard,
		ownsBackend: true,
		kind:        kind,
		typ:         typ,
		vendorID:    vendorID,
		vendor:      vendor,
		platform:    platform,
	}
	d.ref.Init("device", d.destroy)
	platform.Retain()
	return d
}

// destroy is called once, when the last reference is released.
func (d *Device) destroy() {
	d.registry.remove(d)
	d.platform.Release()
	if d.ownsBackend {
		if err := d.backend.Close(); err != nil {
			klog.Errorf("Failed to close backend of %s: %+v", d, err)
		}
	}
	klog.V(2).Infof("Destroyed %s", d)
}

// Retain adds a reference to the device.
func (d *Device) Retain() {
	d.ref.Retain()
}

// Release drops a reference, destroying the device if it was the last one. It returns whether the device was
// destroyed.
//
// Releasing a destroyed device panics.
func (d *Device) Release() bool {
	return d.ref.Release()
}

// RefCount returns the current number of references.
func (d *Device) RefCount() int64 {
	return d.ref.Count()
}

// String implements fmt.Stringer.
func (d *Device) String() string {
	if d == nil {
		return "Device[nil]"
	}
	return fmt.Sprintf("Device[%q, kind=%s, type=%s, vendor=%s, id=%d]",
		d.backend.Properties().Name, d.kind, d.typ, d.vendor, d.vendorID)
}

// Name of the device, as reported by the backend.
func (d *Device) Name() string {
	return d.backend.Properties().Name
}

// Kind of backend driving the device.
func (d *Device) Kind() executive.Kind {
	return d.kind
}

// Type returns the device type mask.
func (d *Device) Type() DeviceType {
	return d.typ
}

// VendorID is a process-unique id, assigned in increasing order of creation.
func (d *Device) VendorID() uint32 {
	return d.vendorID
}

// Handle of the device, as reported by device info queries. It is never 0.
func (d *Device) Handle() uint64 {
	return uint64(d.vendorID) + 1
}

// Vendor label of the device.
func (d *Device) Vendor() string {
	return d.vendor
}

// Platform of the device.
func (d *Device) Platform() *Platform {
	return d.platform
}

// Parent returns the device this one was partitioned from, or nil for root devices.
func (d *Device) Parent() *Device {
	return d.parent
}

// IsSubDevice reports whether the device was created by CreateSubDevices.
func (d *Device) IsSubDevice() bool {
	return d.parent != nil
}

// Load hands the module to the backend. If the module reports itself as already loaded this is a no-op,
// otherwise the module is loaded (LoadNow) before being handed to the backend.
func (d *Device) Load(module *executive.Module) error {
	if module == nil {
		return NewError(InvalidValue, "nil module")
	}
	if module.Loaded() {
		return nil
	}
	if err := module.LoadNow(); err != nil {
		return errors.WithMessagef(err, "failed to load module %q", module.Name())
	}
	return d.guard.do(func(backend executive.Device) error {
		return backend.Load(module)
	})
}

// Unload removes the named module from the backend.
func (d *Device) Unload(name string) error {
	return d.guard.do(func(backend executive.Device) error {
		return backend.Unload(name)
	})
}

// Launch forwards the kernel launch to the backend. Arguments are not validated here: that is up to the backend.
func (d *Device) Launch(module, kernel string, grid, block executive.Dim3, sharedMemory int, argumentBlock []byte,
	traceGenerators []executive.TraceGenerator, externals executive.ExternalFunctionSet) error {
	return d.guard.do(func(backend executive.Device) error {
		return backend.Launch(module, kernel, grid, block, sharedMemory, argumentBlock, traceGenerators, externals)
	})
}

// SetOptimizationLevel of the backend.
func (d *Device) SetOptimizationLevel(level executive.OptimizationLevel) error {
	return d.guard.do(func(backend executive.Device) error {
		return backend.SetOptimizationLevel(level)
	})
}

// LimitWorkerThreads of the backend.
func (d *Device) LimitWorkerThreads(limit int) error {
	return d.guard.do(func(backend executive.Device) error {
		return backend.LimitWorkerThreads(limit)
	})
}

// Allocate size bytes of device memory and returns its address.
// Allocation failures from the backend are returned unchanged.
func (d *Device) Allocate(size int) (executive.Address, error) {
	var addr executive.Address
	err := d.guard.do(func(backend executive.Device) error {
		allocation, err := backend.Allocate(size)
		if err != nil {
			return err
		}
		addr = allocation.Pointer()
		return nil
	})
	return addr, err
}

// Free releases the allocation starting at addr, as returned by Allocate.
func (d *Device) Free(addr executive.Address) error {
	return d.guard.do(func(backend executive.Device) error {
		return backend.Free(addr)
	})
}

// checkAccess validates that [addr+offset, addr+offset+size) is within the allocation containing addr.
// The address may point inside the allocation, offset is counted from it.
// It doesn't select the backend.
func (d *Device) checkAccess(addr executive.Address, offset, size int) bool {
	if offset < 0 || size < 0 {
		return false
	}
	return d.backend.CheckMemoryAccess(addr, offset+size)
}

// Read copies len(host) bytes from device memory at src+offset into host.
//
// It returns false, without touching host nor selecting the backend, if the range is not within a valid
// allocation.
func (d *Device) Read(src executive.Address, host []byte, offset int) bool {
	if !d.checkAccess(src, offset, len(host)) {
		return false
	}
	err := d.guard.do(func(backend executive.Device) error {
		a := backend.GetMemoryAllocation(src)
		return a.CopyToHost(host, int(src-a.Pointer())+offset)
	})
	if err != nil {
		klog.Errorf("Read of %d bytes at 0x%x+%d from %s failed: %+v", len(host), src, offset, d, err)
		return false
	}
	return true
}

// Write copies host into device memory at dst+offset.
//
// It returns false, without selecting the backend, if the range is not within a valid allocation.
func (d *Device) Write(dst executive.Address, host []byte, offset int) bool {
	if !d.checkAccess(dst, offset, len(host)) {
		return false
	}
	err := d.guard.do(func(backend executive.Device) error {
		a := backend.GetMemoryAllocation(dst)
		return a.CopyFromHost(int(dst-a.Pointer())+offset, host)
	})
	if err != nil {
		klog.Errorf("Write of %d bytes at 0x%x+%d to %s failed: %+v", len(host), dst, offset, d, err)
		return false
	}
	return true
}
