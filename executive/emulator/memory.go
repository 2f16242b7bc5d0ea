package emulator

import (
	"sort"

	"github.com/gomlx/clvirt/executive"
	"github.com/pkg/errors"
)

// allocation is a block of emulated device memory.
type allocation struct {
	device *Device
	addr   executive.Address
	data   []byte
}

var _ executive.Allocation = (*allocation)(nil)

// Pointer implements executive.Allocation.
func (a *allocation) Pointer() executive.Address {
	return a.addr
}

// Size implements executive.Allocation.
func (a *allocation) Size() int {
	return len(a.data)
}

// CopyToHost implements executive.Allocation.
func (a *allocation) CopyToHost(host []byte, offset int) error {
	a.device.memMu.RLock()
	defer a.device.memMu.RUnlock()
	if offset < 0 || offset+len(host) > len(a.data) {
		return errors.Errorf("copy of %d bytes at offset %d out of allocation of %d bytes", len(host), offset, len(a.data))
	}
	copy(host, a.data[offset:])
	return nil
}

// CopyFromHost implements executive.Allocation.
func (a *allocation) CopyFromHost(offset int, host []byte) error {
	a.device.memMu.Lock()
	defer a.device.memMu.Unlock()
	if offset < 0 || offset+len(host) > len(a.data) {
		return errors.Errorf("copy of %d bytes at offset %d out of allocation of %d bytes", len(host), offset, len(a.data))
	}
	copy(a.data[offset:], host)
	return nil
}

func alignUp(n int) int {
	return (n + allocationAlignment - 1) &^ (allocationAlignment - 1)
}

// Allocate implements executive.Device.
func (d *Device) Allocate(size int) (executive.Allocation, error) {
	if err := d.checkUsable(); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, errors.Errorf("invalid allocation size %d", size)
	}
	d.memMu.Lock()
	defer d.memMu.Unlock()
	if d.usedMemory+uint64(size) > d.props.TotalMemory {
		return nil, errors.Errorf("out of memory allocating %d bytes on %s (%d of %d bytes in use)",
			size, d, d.usedMemory, d.props.TotalMemory)
	}
	a := &allocation{device: d, addr: d.nextAddress, data: make([]byte, size)}
	d.nextAddress += executive.Address(alignUp(size) + allocationAlignment)
	d.usedMemory += uint64(size)
	// Addresses are handed out in increasing order, so the slice stays sorted.
	d.allocations = append(d.allocations, a)
	return a, nil
}

// Free implements executive.Device.
func (d *Device) Free(addr executive.Address) error {
	if err := d.checkUsable(); err != nil {
		return err
	}
	d.memMu.Lock()
	defer d.memMu.Unlock()
	idx := d.findLocked(addr)
	if idx < 0 || d.allocations[idx].addr != addr {
		return errors.Errorf("free of invalid address 0x%x on %s", addr, d)
	}
	d.usedMemory -= uint64(len(d.allocations[idx].data))
	d.allocations = append(d.allocations[:idx], d.allocations[idx+1:]...)
	return nil
}

// findLocked returns the index of the allocation containing addr, or -1.
func (d *Device) findLocked(addr executive.Address) int {
	idx := sort.Search(len(d.allocations), func(i int) bool {
		return d.allocations[i].addr > addr
	}) - 1
	if idx < 0 {
		return -1
	}
	a := d.allocations[idx]
	if addr >= a.addr+executive.Address(len(a.data)) {
		return -1
	}
	return idx
}

// GetMemoryAllocation implements executive.Device.
func (d *Device) GetMemoryAllocation(addr executive.Address) executive.Allocation {
	d.memMu.RLock()
	defer d.memMu.RUnlock()
	idx := d.findLocked(addr)
	if idx < 0 {
		return nil
	}
	return d.allocations[idx]
}

// CheckMemoryAccess implements executive.Device.
func (d *Device) CheckMemoryAccess(addr executive.Address, size int) bool {
	if size < 0 {
		return false
	}
	d.memMu.RLock()
	defer d.memMu.RUnlock()
	idx := d.findLocked(addr)
	if idx < 0 {
		return false
	}
	a := d.allocations[idx]
	return uint64(addr-a.addr)+uint64(size) <= uint64(len(a.data))
}

// UsedMemory returns the number of bytes currently allocated.
func (d *Device) UsedMemory() uint64 {
	d.memMu.RLock()
	defer d.memMu.RUnlock()
	return d.usedMemory
}

// memoryView gives kernels access to the device memory.
type memoryView struct {
	d *Device
}

func (m memoryView) Read(addr executive.Address, dst []byte) error {
	m.d.memMu.RLock()
	defer m.d.memMu.RUnlock()
	idx := m.d.findLocked(addr)
	if idx < 0 {
		return errors.Errorf("kernel read of invalid address 0x%x", addr)
	}
	a := m.d.allocations[idx]
	offset := int(addr - a.addr)
	if offset+len(dst) > len(a.data) {
		return errors.Errorf("kernel read of %d bytes at 0x%x overflows allocation", len(dst), addr)
	}
	copy(dst, a.data[offset:])
	return nil
}

func (m memoryView) Write(addr executive.Address, src []byte) error {
	// Blocks are expected to write disjoint ranges.
	m.d.memMu.Lock()
	defer m.d.memMu.Unlock()
	idx := m.d.findLocked(addr)
	if idx < 0 {
		return errors.Errorf("kernel write to invalid address 0x%x", addr)
	}
	a := m.d.allocations[idx]
	offset := int(addr - a.addr)
	if offset+len(src) > len(a.data) {
		return errors.Errorf("kernel write of %d bytes at 0x%x overflows allocation", len(src), addr)
	}
	copy(a.data[offset:], src)
	return nil
}
