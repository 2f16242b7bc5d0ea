package lcl

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/gomlx/clvirt/executive"
	"github.com/gomlx/clvirt/opencl"
)

// maxKernelArgs a kernel accepts.
const maxKernelArgs = 64

// kernelArg is either a plain value or a virtual buffer, passed to the kernel as its 8 bytes device address.
type kernelArg struct {
	set    bool
	value  []byte
	buffer *VirtualBuffer
}

// Kernel is a kernel of a module with its arguments, ready to be enqueued with Runtime.EnqueueNDRangeKernel.
//
// The module must be loaded on the device of the queue (see opencl.Device.Load) before the kernel is enqueued.
type Kernel struct {
	module *executive.Module
	name   string
	args   []kernelArg
}

// NewKernel creates a kernel with numArgs arguments, all of which must be set before it is enqueued.
func NewKernel(module *executive.Module, name string, numArgs int) (*Kernel, error) {
	if module == nil || name == "" {
		return nil, opencl.NewError(opencl.InvalidKernel, "kernel requires a module and a name")
	}
	if numArgs < 0 || numArgs > maxKernelArgs {
		return nil, opencl.NewError(opencl.InvalidValue, "invalid number of arguments %d for kernel %q", numArgs, name)
	}
	return &Kernel{module: module, name: name, args: make([]kernelArg, numArgs)}, nil
}

// Name of the kernel.
func (k *Kernel) Name() string {
	return k.name
}

// Module of the kernel.
func (k *Kernel) Module() *executive.Module {
	return k.module
}

// String implements fmt.Stringer.
func (k *Kernel) String() string {
	return fmt.Sprintf("Kernel[%s.%s]", k.module.Name(), k.name)
}

// SetArg sets argument index to a copy of value.
func (k *Kernel) SetArg(index int, value []byte) error {
	if index < 0 || index >= len(k.args) {
		return opencl.NewError(opencl.InvalidArgIndex, "argument %d out of range for %s with %d arguments",
			index, k, len(k.args))
	}
	if len(value) == 0 {
		return opencl.NewError(opencl.InvalidValue, "empty value for argument %d of %s", index, k)
	}
	k.args[index] = kernelArg{set: true, value: append([]byte(nil), value...)}
	return nil
}

// setArgBuffer is called by Runtime.SetKernelArgBuffer, which validates the buffer.
func (k *Kernel) setArgBuffer(index int, buffer *VirtualBuffer) error {
	if index < 0 || index >= len(k.args) {
		return opencl.NewError(opencl.InvalidArgIndex, "argument %d out of range for %s with %d arguments",
			index, k, len(k.args))
	}
	k.args[index] = kernelArg{set: true, buffer: buffer}
	return nil
}

// buffers returns the virtual buffers used as arguments, without repetitions.
func (k *Kernel) buffers() []*VirtualBuffer {
	var buffers []*VirtualBuffer
	for _, arg := range k.args {
		if arg.buffer == nil {
			continue
		}
		if !slices.Contains(buffers, arg.buffer) {
			buffers = append(buffers, arg.buffer)
		}
	}
	return buffers
}

// checkArgs returns InvalidKernelArgs if any argument is not set.
func (k *Kernel) checkArgs() error {
	for ii, arg := range k.args {
		if !arg.set {
			return opencl.NewError(opencl.InvalidKernelArgs, "argument %d of %s not set", ii, k)
		}
	}
	return nil
}

// argumentBlock packs the arguments, in order, into one block. Buffer arguments are resolved to their device
// address, little-endian.
func (k *Kernel) argumentBlock() ([]byte, error) {
	if err := k.checkArgs(); err != nil {
		return nil, err
	}
	var block []byte
	for _, arg := range k.args {
		if arg.buffer != nil {
			block = binary.LittleEndian.AppendUint64(block, uint64(arg.buffer.addr))
			continue
		}
		block = append(block, arg.value...)
	}
	return block, nil
}
