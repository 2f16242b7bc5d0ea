// Package executive defines the interface a backend execution engine implements to be driven by the opencl
// package.
//
// A backend (native GPU, emulator, CPU-retargeted, remote, ...) is registered with an opencl.Registry as a Factory
// for one Kind. The Factory enumerates the backend's devices, and each Device is then wrapped by exactly one
// opencl.Device, which owns it.
//
// Every method of Device that is not documented otherwise is only called while the Device is selected (see
// Device.Select), and never by two goroutines at the same time.
package executive

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Kind enumerates the backend families a device can be created against.
type Kind int

const (
	// KindNVIDIA is the native accelerator path.
	KindNVIDIA Kind = iota

	// KindEmulated is the software emulator.
	KindEmulated

	// KindMulticoreCPU is the CPU-retargeted code path.
	KindMulticoreCPU

	// KindAMD is the native AMD accelerator path.
	KindAMD

	// KindRemote executes on a remote device server.
	KindRemote
)

var kindNames = []string{"nvidia", "emulated", "cpu", "amd", "remote"}

// Kinds lists all backend kinds, in declaration order.
var Kinds = []Kind{KindNVIDIA, KindEmulated, KindMulticoreCPU, KindAMD, KindRemote}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind converts the name of a kind (as returned by Kind.String) back to a Kind. It accepts a few aliases:
// "gpu" for nvidia, "emulator" for emulated, "llvm" and "multicore" for cpu.
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "gpu":
		return KindNVIDIA, nil
	case "emulator":
		return KindEmulated, nil
	case "llvm", "multicore":
		return KindMulticoreCPU, nil
	}
	for ii, kindName := range kindNames {
		if kindName == name {
			return Kind(ii), nil
		}
	}
	return -1, errors.Errorf("unknown backend kind %q (expected one of %s)", name, strings.Join(kindNames, ", "))
}

// Address of device memory, as returned by Device.Allocate. Zero is never a valid address.
type Address uint64

// Dim3 is a 3-dimensional extent, used for grid and block dimensions of a launch.
type Dim3 struct {
	X, Y, Z int
}

// Size returns the total number of elements of the extent.
func (d Dim3) Size() int {
	return d.X * d.Y * d.Z
}

// String implements fmt.Stringer.
func (d Dim3) String() string {
	return fmt.Sprintf("(%d, %d, %d)", d.X, d.Y, d.Z)
}

// OptimizationLevel requested for code translation by backends that compile kernels.
type OptimizationLevel int

const (
	NoOptimization OptimizationLevel = iota
	ReportOptimization
	DebugOptimization
	InstrumentOptimization
	MemoryCheckOptimization
	BasicOptimization
	AggressiveOptimization
	SpeculativeOptimization
	FullOptimization
)

// Properties describes a backend device. It is filled once by the backend and doesn't change.
type Properties struct {
	Name                string
	TotalMemory         uint64
	TotalConstantMemory uint64
	ClockRate           int // In MHz.
	MultiprocessorCount int
	MaxThreadsDim       [3]int
	MaxGridSize         [3]int
	UnifiedAddressing   bool
	PrintfFIFOSize      int
}

// Allocation is a block of device memory.
//
// CopyToHost and CopyFromHost are only called on ranges already validated with Device.CheckMemoryAccess.
type Allocation interface {
	// Pointer is the device address of the first byte.
	Pointer() Address

	// Size in bytes.
	Size() int

	// CopyToHost copies len(host) bytes starting at offset into host.
	CopyToHost(host []byte, offset int) error

	// CopyFromHost copies host into the allocation starting at offset.
	CopyFromHost(offset int, host []byte) error
}

// TraceGenerator observes kernel launches.
type TraceGenerator interface {
	Initialize(kernel string, grid, block Dim3)
	Finish()
}

// ExternalFunction is a host function kernels can call by name.
type ExternalFunction func(args []byte) error

// ExternalFunctionSet maps names to host functions made available to a launch.
type ExternalFunctionSet map[string]ExternalFunction

// Device is one backend device instance.
type Device interface {
	// Properties returns the static description of the device. It can be called without selecting the device.
	Properties() Properties

	// Select acquires the device for the calling goroutine. It returns an error if the device is already selected.
	Select() error

	// Unselect releases the device acquired by Select.
	Unselect()

	// Allocate a new block of device memory of the given size.
	Allocate(size int) (Allocation, error)

	// Free releases the allocation starting at addr.
	Free(addr Address) error

	// GetMemoryAllocation returns the allocation containing the address, or nil if there is none.
	GetMemoryAllocation(addr Address) Allocation

	// CheckMemoryAccess reports whether [addr, addr+size) lies within one valid allocation.
	// It is safe to call without selecting the device.
	CheckMemoryAccess(addr Address, size int) bool

	// Load hands a module, already in loaded state, to the device.
	Load(module *Module) error

	// Unload removes the module with the given name.
	Unload(name string) error

	// Launch runs a kernel and blocks until it finishes.
	Launch(module, kernel string, grid, block Dim3, sharedMemory int, argumentBlock []byte,
		traceGenerators []TraceGenerator, externals ExternalFunctionSet) error

	// LimitWorkerThreads bounds the number of host threads the device uses to execute kernels.
	LimitWorkerThreads(limit int) error

	// SetOptimizationLevel for future kernel translations.
	SetOptimizationLevel(level OptimizationLevel) error

	// Close releases all the resources of the device. The device is not usable afterward.
	Close() error
}

// Factory enumerates the devices of one backend family.
// It may return zero devices: that is not an error.
type Factory func(flags uint, computeCapability int, options Options) ([]Device, error)
