package lcl

import (
	"fmt"
	"slices"

	"github.com/gomlx/clvirt/opencl"
	"github.com/gomlx/clvirt/refcount"
	"k8s.io/klog/v2"
)

// Context groups the devices virtual buffers and queues are used with. It retains its devices while alive.
type Context struct {
	devices []*opencl.Device
	ref     refcount.Object
}

// NewContext creates a context over the given devices, with one reference owned by the caller.
func NewContext(devices ...*opencl.Device) (*Context, error) {
	if len(devices) == 0 {
		return nil, opencl.NewError(opencl.InvalidValue, "context requires at least one device")
	}
	for ii, d := range devices {
		if d == nil {
			return nil, opencl.NewError(opencl.InvalidDevice, "device #%d is nil", ii)
		}
		if slices.Index(devices, d) != ii {
			return nil, opencl.NewError(opencl.InvalidDevice, "%s given more than once", d)
		}
	}
	c := &Context{devices: slices.Clone(devices)}
	for _, d := range c.devices {
		d.Retain()
	}
	c.ref.Init("context", c.destroy)
	return c, nil
}

func (c *Context) destroy() {
	for _, d := range c.devices {
		d.Release()
	}
	klog.V(2).Infof("Destroyed %s", c)
}

// Devices of the context.
func (c *Context) Devices() []*opencl.Device {
	return slices.Clone(c.devices)
}

// HasDevice reports whether d is one of the context devices.
func (c *Context) HasDevice(d *opencl.Device) bool {
	return slices.Contains(c.devices, d)
}

// Retain adds a reference to the context.
func (c *Context) Retain() {
	c.ref.Retain()
}

// Release drops a reference, releasing the devices when it is the last one.
func (c *Context) Release() bool {
	return c.ref.Release()
}

// String implements fmt.Stringer.
func (c *Context) String() string {
	return fmt.Sprintf("Context[%d devices]", len(c.devices))
}

// Queue is an in-order command queue on one device of a context.
type Queue struct {
	ctx    *Context
	device *opencl.Device
}

// NewQueue creates a queue for device, which must belong to ctx. The queue retains the context until Release.
func NewQueue(ctx *Context, device *opencl.Device) (*Queue, error) {
	if ctx == nil {
		return nil, opencl.NewError(opencl.InvalidContext, "nil context")
	}
	if !ctx.HasDevice(device) {
		return nil, opencl.NewError(opencl.InvalidDevice, "%s is not part of %s", device, ctx)
	}
	ctx.Retain()
	return &Queue{ctx: ctx, device: device}, nil
}

// Context of the queue.
func (q *Queue) Context() *Context {
	return q.ctx
}

// Device of the queue.
func (q *Queue) Device() *opencl.Device {
	return q.device
}

// Release the queue's reference to its context. Pending commands must be finished first.
func (q *Queue) Release() {
	if q.ctx == nil {
		return
	}
	q.ctx.Release()
	q.ctx = nil
}

// String implements fmt.Stringer.
func (q *Queue) String() string {
	return fmt.Sprintf("Queue[%s]", q.device)
}
