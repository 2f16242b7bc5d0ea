// Package lcl implements virtual buffers: host-addressable buffers whose transfers to and from device memory can
// be batched inside an explicit evaluation window.
//
// Outside a window every command executes as soon as it is enqueued. Between Runtime.EvaluateStart and
// Runtime.EvaluateEnd commands are recorded instead:
//
//   - Writes are staged in pooled host memory, and only written to the device when the buffer is flushed.
//   - Reads of bytes all known from staged writes are served from host memory, without a device transfer.
//   - Other reads, and kernels using the buffer, flush the staged writes of the buffer first.
//
// All recorded commands execute, in the order they were enqueued and each after its wait list, when the window
// ends, or earlier on a blocking read or Finish. The observable results are the same as without the window.
//
// The runtime also counts the bytes transferred per direction during a window, see Runtime.Stats.
package lcl

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gomlx/clvirt/executive"
	"github.com/gomlx/clvirt/opencl"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

// State of the evaluation window of a Runtime.
type State int

const (
	Idle State = iota
	InEvaluation
	Evaluated
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case InEvaluation:
		return "InEvaluation"
	case Evaluated:
		return "Evaluated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// AccessType is the direction of a counted transfer.
type AccessType int

const (
	// DeviceRead counts bytes read from device memory.
	DeviceRead AccessType = iota

	// DeviceWrite counts bytes written by the user to virtual buffers, all of which end up in device memory.
	DeviceWrite

	// HostRead counts bytes of reads served from staged host memory.
	HostRead

	// HostWrite counts bytes staged in host memory.
	HostWrite

	numAccessTypes
)

// Stats are the traffic counters of the current (or last) evaluation window.
type Stats struct {
	DeviceRead, DeviceWrite, HostRead, HostWrite int64
}

var virtualBuffersAlive atomic.Int64

// VirtualBuffersAlive returns the number of virtual buffers created and not yet released, across all runtimes.
func VirtualBuffersAlive() int64 {
	return virtualBuffersAlive.Load()
}

// VirtualBuffer is a buffer managed by a Runtime. Its device memory is allocated on the device of the first
// queue it is used with, and it can only be used with queues of that device afterward.
type VirtualBuffer struct {
	id   uuid.UUID
	size int
	ctx  *Context

	// Fields below are protected by Runtime.mu.
	device *opencl.Device
	addr   executive.Address
	spans  []*span
}

// ID is the unique identifier of the buffer.
func (vb *VirtualBuffer) ID() uuid.UUID {
	return vb.id
}

// Size in bytes.
func (vb *VirtualBuffer) Size() int {
	return vb.size
}

// Context the buffer was created in.
func (vb *VirtualBuffer) Context() *Context {
	return vb.ctx
}

// String implements fmt.Stringer.
func (vb *VirtualBuffer) String() string {
	return fmt.Sprintf("VirtualBuffer[%s, %d bytes]", vb.id, vb.size)
}

// command is an enqueued operation.
type command struct {
	name     string
	buffers  []*VirtualBuffer
	waitList []*Event
	events   []*Event
	run      func() error
}

// Runtime tracks virtual buffers and the evaluation window.
//
// It is safe for concurrent use, but only one evaluation window can be open at a time: commands enqueued from any
// goroutine while it is open are recorded in the same window.
type Runtime struct {
	mu       sync.Mutex
	buffers  []*VirtualBuffer // In creation order.
	state    State
	counters [numAccessTypes]int64
	pending  []*command
	pools    *stagingPools

	// retired staging buffers are returned to the pools once no pending command uses them.
	retired []*stagingBuffer
}

// NewRuntime creates a runtime in the Idle state.
func NewRuntime() *Runtime {
	return &Runtime{pools: newStagingPools()}
}

// State of the evaluation window.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// IsInEvaluation reports whether an evaluation window is open.
func (r *Runtime) IsInEvaluation() bool {
	return r.State() == InEvaluation
}

// IsEvaluated reports whether the last evaluation window was closed.
func (r *Runtime) IsEvaluated() bool {
	return r.State() == Evaluated
}

// Stats returns the traffic counters.
func (r *Runtime) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		DeviceRead:  r.counters[DeviceRead],
		DeviceWrite: r.counters[DeviceWrite],
		HostRead:    r.counters[HostRead],
		HostWrite:   r.counters[HostWrite],
	}
}

// IncreaseAccessSize adds size to the counter of the given access type, and returns its new value.
func (r *Runtime) IncreaseAccessSize(size int, typ AccessType) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.increaseLocked(size, typ)
}

func (r *Runtime) increaseLocked(size int, typ AccessType) int64 {
	r.counters[typ] += int64(size)
	return r.counters[typ]
}

// EvaluateStart opens an evaluation window: counters are reset and commands are recorded until EvaluateEnd.
//
// It fails with ProtocolViolation if a window is already open.
func (r *Runtime) EvaluateStart() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == InEvaluation {
		return opencl.NewError(opencl.ProtocolViolation, "EvaluateStart called while already in evaluation")
	}
	r.counters = [numAccessTypes]int64{}
	r.state = InEvaluation
	klog.V(2).Infof("lcl: evaluation started")
	return nil
}

// EvaluateEnd closes the evaluation window: all recorded commands are executed, in order.
// It returns the errors of the commands that failed, which are also reported by their events.
//
// It fails with ProtocolViolation, executing nothing, if no window is open.
func (r *Runtime) EvaluateEnd() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != InEvaluation {
		return opencl.NewError(opencl.ProtocolViolation, "EvaluateEnd called in state %s", r.state)
	}
	for _, vb := range r.buffers {
		r.flushLocked(vb)
	}
	err := r.drainLocked()
	// Once the window is closed commands bypass the staged data, so it can't be trusted anymore.
	for _, vb := range r.buffers {
		r.dropSpansLocked(vb)
	}
	r.returnRetiredLocked()
	r.state = Evaluated
	klog.V(2).Infof("lcl: evaluation ended: %+v", r.statsLocked())
	return err
}

// Reset moves an Evaluated runtime back to Idle. It is a no-op if Idle, and fails with ProtocolViolation while
// in evaluation.
func (r *Runtime) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == InEvaluation {
		return opencl.NewError(opencl.ProtocolViolation, "Reset called while in evaluation")
	}
	r.state = Idle
	return nil
}

func (r *Runtime) statsLocked() Stats {
	return Stats{r.counters[DeviceRead], r.counters[DeviceWrite], r.counters[HostRead], r.counters[HostWrite]}
}

// CreateVirtualBuffer creates a buffer of size bytes in ctx. Device memory is only allocated on first use.
// The buffer retains ctx until released.
func (r *Runtime) CreateVirtualBuffer(ctx *Context, size int) (*VirtualBuffer, error) {
	if ctx == nil {
		return nil, opencl.NewError(opencl.InvalidContext, "nil context")
	}
	if size <= 0 {
		return nil, opencl.NewError(opencl.InvalidBufferSize, "invalid virtual buffer size %d", size)
	}
	vb := &VirtualBuffer{id: uuid.New(), size: size, ctx: ctx}
	ctx.Retain()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffers = append(r.buffers, vb)
	virtualBuffersAlive.Add(1)
	return vb, nil
}

// IsValidVirtualBuffer reports whether vb was created by this runtime and not yet released.
func (r *Runtime) IsValidVirtualBuffer(vb *VirtualBuffer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.buffers, vb)
}

// ReleaseVirtualBuffer releases the buffer and its device memory. It fails with InvalidMemObject if vb is not a
// valid buffer of this runtime.
//
// Inside an evaluation window, the commands still pending on the buffer fail with InvalidMemObject.
func (r *Runtime) ReleaseVirtualBuffer(vb *VirtualBuffer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := slices.Index(r.buffers, vb)
	if idx < 0 {
		return opencl.NewError(opencl.InvalidMemObject, "unknown virtual buffer %s", vb)
	}
	r.buffers = slices.Delete(r.buffers, idx, idx+1)

	if r.state == InEvaluation {
		released := opencl.NewError(opencl.InvalidMemObject, "%s released before its commands executed", vb)
		r.pending = slices.DeleteFunc(r.pending, func(cmd *command) bool {
			if !slices.Contains(cmd.buffers, vb) {
				return false
			}
			for _, e := range cmd.events {
				e.complete(released)
			}
			return true
		})
		for _, sp := range vb.spans {
			for _, e := range sp.events {
				e.staged = nil
				e.complete(released)
			}
			sp.events = nil
		}
	}
	r.dropSpansLocked(vb)
	if len(r.pending) == 0 {
		r.returnRetiredLocked()
	}

	if vb.device != nil {
		if err := vb.device.Free(vb.addr); err != nil {
			klog.Errorf("Failed to free device memory of %s: %+v", vb, err)
		}
		vb.device = nil
	}
	vb.ctx.Release()
	virtualBuffersAlive.Add(-1)
	return nil
}

// Close releases all buffers still alive.
func (r *Runtime) Close() {
	r.mu.Lock()
	buffers := slices.Clone(r.buffers)
	r.mu.Unlock()
	for _, vb := range buffers {
		if err := r.ReleaseVirtualBuffer(vb); err != nil {
			klog.Errorf("Failed to release %s: %+v", vb, err)
		}
	}
}

// bindLocked validates that vb can be used with queue, and allocates its device memory on first use.
func (r *Runtime) bindLocked(queue *Queue, vb *VirtualBuffer) error {
	if queue == nil || queue.ctx == nil {
		return opencl.NewError(opencl.InvalidCommandQueue, "invalid queue")
	}
	if vb == nil || !slices.Contains(r.buffers, vb) {
		return opencl.NewError(opencl.InvalidMemObject, "unknown virtual buffer %s", vb)
	}
	if vb.ctx != queue.ctx {
		return opencl.NewError(opencl.InvalidContext, "%s and %s have different contexts", vb, queue)
	}
	if vb.device == nil {
		addr, err := queue.device.Allocate(vb.size)
		if err != nil {
			return errors.WithMessagef(opencl.NewError(opencl.MemObjectAllocationFailure,
				"failed to allocate %s on %s", vb, queue.device), "%v", err)
		}
		vb.device, vb.addr = queue.device, addr
		return nil
	}
	if vb.device != queue.device {
		return opencl.NewError(opencl.InvalidOperation, "%s is bound to %s, it can't be used with %s",
			vb, vb.device, queue)
	}
	return nil
}

func checkRange(vb *VirtualBuffer, offset, size int) error {
	if offset < 0 || size <= 0 || offset+size > vb.size {
		return opencl.NewError(opencl.InvalidValue, "range [%d, %d) out of %s", offset, offset+size, vb)
	}
	return nil
}

func checkWaitList(waitList []*Event) error {
	for ii, e := range waitList {
		if e == nil {
			return opencl.NewError(opencl.InvalidEventWaitList, "nil event #%d in wait list", ii)
		}
	}
	return nil
}

// EnqueueWriteVirtualBuffer writes data into vb at offset, after the events of waitList complete.
//
// Outside an evaluation window the write executes before returning, and its error is returned as well as reported
// by the event. Inside a window data is copied to staging memory and the write is deferred: blocking or not, the
// caller may reuse data as soon as this returns.
func (r *Runtime) EnqueueWriteVirtualBuffer(queue *Queue, vb *VirtualBuffer, blocking bool, offset int, data []byte,
	waitList []*Event) (*Event, error) {
	if vb == nil {
		return nil, opencl.NewError(opencl.InvalidMemObject, "nil virtual buffer")
	}
	if err := checkRange(vb, offset, len(data)); err != nil {
		return nil, err
	}
	if err := checkWaitList(waitList); err != nil {
		return nil, err
	}
	r.awaitOutsideWindow(waitList)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.bindLocked(queue, vb); err != nil {
		return nil, err
	}
	event := newEvent("write")
	if r.state != InEvaluation {
		err := r.execute(&command{
			name:     "write",
			buffers:  []*VirtualBuffer{vb},
			waitList: waitList,
			events:   []*Event{event},
			run:      func() error { return writeDevice(vb, offset, data) },
		})
		return event, err
	}

	r.flushWaitListLocked(waitList)
	staged := r.pools.Get(len(data))
	copy(staged.Bytes(), data)
	vb.spans = append(vb.spans, &span{
		offset:   offset,
		data:     staged,
		events:   []*Event{event},
		waitList: slices.Clone(waitList),
	})
	event.staged = vb
	r.increaseLocked(len(data), DeviceWrite)
	r.increaseLocked(len(data), HostWrite)
	return event, nil
}

// EnqueueReadVirtualBuffer reads len(dst) bytes of vb at offset into dst, after the events of waitList complete.
//
// Outside an evaluation window the read executes before returning, and its error is returned as well as reported
// by the event. Inside a window the read is deferred, unless blocking: then it and all the commands enqueued
// before it execute before returning. A deferred read fills dst only when its event completes.
func (r *Runtime) EnqueueReadVirtualBuffer(queue *Queue, vb *VirtualBuffer, blocking bool, offset int, dst []byte,
	waitList []*Event) (*Event, error) {
	if vb == nil {
		return nil, opencl.NewError(opencl.InvalidMemObject, "nil virtual buffer")
	}
	if err := checkRange(vb, offset, len(dst)); err != nil {
		return nil, err
	}
	if err := checkWaitList(waitList); err != nil {
		return nil, err
	}
	r.awaitOutsideWindow(waitList)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.bindLocked(queue, vb); err != nil {
		return nil, err
	}
	event := newEvent("read")
	cmd := &command{
		name:     "read",
		buffers:  []*VirtualBuffer{vb},
		waitList: waitList,
		events:   []*Event{event},
		run:      func() error { return readDevice(vb, offset, dst) },
	}
	if r.state != InEvaluation {
		return event, r.execute(cmd)
	}

	r.flushWaitListLocked(waitList)
	snapshot := r.pools.Get(len(dst))
	r.retired = append(r.retired, snapshot)
	if spansSettled(vb.spans, offset, len(dst)) && gather(vb.spans, offset, snapshot.Bytes()) {
		cmd.run = func() error {
			copy(dst, snapshot.Bytes())
			return nil
		}
		r.increaseLocked(len(dst), HostRead)
	} else {
		r.flushLocked(vb)
		r.increaseLocked(len(dst), DeviceRead)
	}
	r.pending = append(r.pending, cmd)
	if blocking {
		_ = r.drainLocked()
		return event, event.Wait()
	}
	return event, nil
}

// SetKernelArgBuffer sets argument index of kernel to the device address of vb.
func (r *Runtime) SetKernelArgBuffer(kernel *Kernel, index int, vb *VirtualBuffer) error {
	if kernel == nil {
		return opencl.NewError(opencl.InvalidKernel, "nil kernel")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if vb == nil || !slices.Contains(r.buffers, vb) {
		return opencl.NewError(opencl.InvalidMemObject, "unknown virtual buffer %s", vb)
	}
	return kernel.setArgBuffer(index, vb)
}

// workDimensions converts global and local work sizes to grid and block dimensions.
func workDimensions(globalSize, localSize []int) (grid, block executive.Dim3, err error) {
	dims := len(globalSize)
	if dims < 1 || dims > 3 {
		return grid, block, opencl.NewError(opencl.InvalidWorkDimension, "invalid number of dimensions %d", dims)
	}
	if localSize != nil && len(localSize) != dims {
		return grid, block, opencl.NewError(opencl.InvalidValue, "local work size has %d dimensions, global has %d",
			len(localSize), dims)
	}
	g := [3]int{1, 1, 1}
	b := [3]int{1, 1, 1}
	for ii, size := range globalSize {
		local := 1
		if localSize != nil {
			local = localSize[ii]
		}
		if size <= 0 || local <= 0 || size%local != 0 {
			return grid, block, opencl.NewError(opencl.InvalidValue,
				"global work size %d not a positive multiple of local work size %d in dimension %d", size, local, ii)
		}
		g[ii], b[ii] = size/local, local
	}
	return executive.Dim3{X: g[0], Y: g[1], Z: g[2]}, executive.Dim3{X: b[0], Y: b[1], Z: b[2]}, nil
}

// EnqueueNDRangeKernel launches kernel on the device of queue over globalSize work items, in groups of
// localSize (nil for groups of 1), after the events of waitList complete.
//
// The kernel arguments are captured when enqueued. Inside an evaluation window the launch is deferred, after
// the staged writes of its buffers.
func (r *Runtime) EnqueueNDRangeKernel(queue *Queue, kernel *Kernel, globalSize, localSize []int,
	waitList []*Event) (*Event, error) {
	if kernel == nil {
		return nil, opencl.NewError(opencl.InvalidKernel, "nil kernel")
	}
	grid, block, err := workDimensions(globalSize, localSize)
	if err != nil {
		return nil, err
	}
	if err := checkWaitList(waitList); err != nil {
		return nil, err
	}
	r.awaitOutsideWindow(waitList)
	r.mu.Lock()
	defer r.mu.Unlock()
	if queue == nil || queue.ctx == nil {
		return nil, opencl.NewError(opencl.InvalidCommandQueue, "invalid queue")
	}
	if err := kernel.checkArgs(); err != nil {
		return nil, err
	}
	buffers := kernel.buffers()
	for _, vb := range buffers {
		if err := r.bindLocked(queue, vb); err != nil {
			return nil, errors.WithMessagef(err, "argument of %s", kernel)
		}
	}
	args, err := kernel.argumentBlock()
	if err != nil {
		return nil, err
	}
	event := newEvent("kernel")
	device, moduleName, kernelName := queue.device, kernel.module.Name(), kernel.name
	cmd := &command{
		name:     "kernel",
		buffers:  buffers,
		waitList: waitList,
		events:   []*Event{event},
		run: func() error {
			return device.Launch(moduleName, kernelName, grid, block, 0, args, nil, nil)
		},
	}
	if r.state != InEvaluation {
		return event, r.execute(cmd)
	}

	r.flushWaitListLocked(waitList)
	for _, vb := range buffers {
		r.flushLocked(vb)
		// The kernel may change the buffer: what is staged is stale from here on.
		r.dropSpansLocked(vb)
	}
	r.pending = append(r.pending, cmd)
	return event, nil
}

// Finish executes all the commands recorded so far, staged writes included, and returns the errors of those that
// failed. Outside an evaluation window there is nothing pending, and it returns immediately.
func (r *Runtime) Finish(queue *Queue) error {
	if queue == nil || queue.ctx == nil {
		return opencl.NewError(opencl.InvalidCommandQueue, "invalid queue")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != InEvaluation {
		return nil
	}
	for _, vb := range r.buffers {
		r.flushLocked(vb)
	}
	return r.drainLocked()
}

// flushLocked records one command per staged span of vb not yet written to the device, in staging order. Each
// waits only for the wait list of its own write, so a failed dependency fails that write alone.
func (r *Runtime) flushLocked(vb *VirtualBuffer) {
	for _, sp := range vb.spans {
		if sp.flushed {
			continue
		}
		sp.flushed = true
		for _, e := range sp.events {
			e.staged = nil
		}
		offset, data := sp.offset, sp.data
		r.pending = append(r.pending, &command{
			name:     "flush",
			buffers:  []*VirtualBuffer{vb},
			waitList: sp.waitList,
			events:   sp.events,
			run:      func() error { return writeDevice(vb, offset, data.Bytes()) },
		})
		sp.events = nil
	}
}

// flushWaitListLocked flushes the buffers holding staged writes waited for, so that their events can complete.
func (r *Runtime) flushWaitListLocked(waitList []*Event) {
	for _, e := range waitList {
		if e.staged != nil {
			r.flushLocked(e.staged)
		}
	}
}

// dropSpansLocked forgets the staged spans of vb. Their memory is retired, since a pending flush may still use it.
func (r *Runtime) dropSpansLocked(vb *VirtualBuffer) {
	for _, sp := range vb.spans {
		r.retired = append(r.retired, sp.data)
	}
	vb.spans = nil
}

func (r *Runtime) returnRetiredLocked() {
	for _, s := range r.retired {
		r.pools.Return(s)
	}
	r.retired = nil
}

// drainLocked executes all pending commands in order, and returns the combined errors of those that failed.
func (r *Runtime) drainLocked() error {
	var errs error
	for len(r.pending) > 0 {
		cmd := r.pending[0]
		r.pending = r.pending[1:]
		errs = multierr.Append(errs, r.execute(cmd))
	}
	r.pending = nil
	r.returnRetiredLocked()
	return errs
}

// awaitOutsideWindow waits for waitList without holding the lock, when no evaluation window is open, so that
// other calls are not blocked by a command waiting for a user event. Errors are reported when the command executes.
//
// Outside a window every event given is either completed or a user event, so the wait can't depend on the runtime.
func (r *Runtime) awaitOutsideWindow(waitList []*Event) {
	if len(waitList) == 0 || r.IsInEvaluation() {
		return
	}
	_ = WaitForEvents(waitList...)
}

// execute waits for the wait list of cmd, runs it and completes its events.
func (r *Runtime) execute(cmd *command) error {
	for _, e := range cmd.waitList {
		if err := e.Wait(); err != nil {
			err = errors.WithMessagef(opencl.NewError(opencl.ExecStatusErrorForEventsInWaitList,
				"%s waited for a failed event", cmd.name), "%v", err)
			for _, event := range cmd.events {
				event.complete(err)
			}
			return err
		}
	}
	err := cmd.run()
	if err != nil {
		klog.V(1).Infof("lcl: %s failed: %+v", cmd.name, err)
	}
	for _, event := range cmd.events {
		event.complete(err)
	}
	return err
}

func writeDevice(vb *VirtualBuffer, offset int, data []byte) error {
	if !vb.device.Write(vb.addr, data, offset) {
		return opencl.NewError(opencl.OutOfResources, "write of %d bytes at offset %d of %s failed",
			len(data), offset, vb)
	}
	return nil
}

func readDevice(vb *VirtualBuffer, offset int, dst []byte) error {
	if !vb.device.Read(vb.addr, dst, offset) {
		return opencl.NewError(opencl.OutOfResources, "read of %d bytes at offset %d of %s failed",
			len(dst), offset, vb)
	}
	return nil
}
