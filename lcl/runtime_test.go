package lcl

import (
	"testing"
	"time"

	"github.com/gomlx/clvirt/opencl"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestEvaluationProtocol(t *testing.T) {
	r := NewRuntime()
	require.Equal(t, Idle, r.State())

	err := r.EvaluateEnd()
	require.Error(t, err)
	assert.Equal(t, opencl.ProtocolViolation, opencl.CodeOf(err))
	assert.Equal(t, Idle, r.State())

	require.NoError(t, r.EvaluateStart())
	require.True(t, r.IsInEvaluation())
	assert.Equal(t, opencl.ProtocolViolation, opencl.CodeOf(r.EvaluateStart()))
	assert.Equal(t, opencl.ProtocolViolation, opencl.CodeOf(r.Reset()))
	require.True(t, r.IsInEvaluation())

	require.NoError(t, r.EvaluateEnd())
	require.True(t, r.IsEvaluated())
	assert.Equal(t, opencl.ProtocolViolation, opencl.CodeOf(r.EvaluateEnd()))

	// A new window can be opened straight from Evaluated.
	require.NoError(t, r.EvaluateStart())
	require.NoError(t, r.EvaluateEnd())
	require.NoError(t, r.Reset())
	assert.Equal(t, Idle, r.State())
	require.NoError(t, r.Reset())
	assert.Equal(t, "InEvaluation", InEvaluation.String())
}

func TestTransferCounters(t *testing.T) {
	env := newTestEnv(t, 1)
	r, q := env.rt, env.queues[0]
	vb := env.newBuffer(t, 256)

	require.NoError(t, r.EvaluateStart())
	capture(r.EnqueueWriteVirtualBuffer(q, vb, false, 0, make([]byte, 100), nil)).Test(t)
	capture(r.EnqueueWriteVirtualBuffer(q, vb, false, 100, make([]byte, 50), nil)).Test(t)
	require.Equal(t, Stats{DeviceWrite: 150, HostWrite: 150}, r.Stats())
	require.NoError(t, r.EvaluateEnd())
	require.Equal(t, int64(150), r.Stats().DeviceWrite)

	// Counters are reset by the next window.
	require.NoError(t, r.EvaluateStart())
	require.Equal(t, Stats{}, r.Stats())
	require.NoError(t, r.EvaluateEnd())

	// Transfers outside a window are not counted.
	capture(r.EnqueueWriteVirtualBuffer(q, vb, true, 0, make([]byte, 10), nil)).Test(t)
	capture(r.EnqueueReadVirtualBuffer(q, vb, true, 0, make([]byte, 10), nil)).Test(t)
	require.Equal(t, Stats{}, r.Stats())

	require.Equal(t, int64(7), r.IncreaseAccessSize(7, HostRead))
	require.Equal(t, int64(10), r.IncreaseAccessSize(3, HostRead))
}

func TestEagerTransfers(t *testing.T) {
	env := newTestEnv(t, 1)
	r, q := env.rt, env.queues[0]
	vb := env.newBuffer(t, 64)

	event := capture(r.EnqueueWriteVirtualBuffer(q, vb, false, 8, sequence(1, 32), nil)).Test(t)
	require.Equal(t, EventComplete, event.Status())
	require.NoError(t, event.Wait())

	dst := make([]byte, 40)
	event = capture(r.EnqueueReadVirtualBuffer(q, vb, false, 0, dst, nil)).Test(t)
	require.Equal(t, EventComplete, event.Status())
	require.Equal(t, make([]byte, 8), dst[:8])
	require.Equal(t, sequence(1, 32), dst[8:])

	// Out of range transfers are rejected before enqueuing.
	_, err := r.EnqueueWriteVirtualBuffer(q, vb, false, 60, make([]byte, 8), nil)
	require.Equal(t, opencl.InvalidValue, opencl.CodeOf(err))
	_, err = r.EnqueueReadVirtualBuffer(q, vb, false, -1, make([]byte, 8), nil)
	require.Equal(t, opencl.InvalidValue, opencl.CodeOf(err))
	_, err = r.EnqueueReadVirtualBuffer(q, vb, false, 0, nil, nil)
	require.Equal(t, opencl.InvalidValue, opencl.CodeOf(err))
	_, err = r.EnqueueReadVirtualBuffer(q, vb, false, 0, dst, []*Event{nil})
	require.Equal(t, opencl.InvalidEventWaitList, opencl.CodeOf(err))
}

func TestReadAfterWrite(t *testing.T) {
	env := newTestEnv(t, 1)
	r, q := env.rt, env.queues[0]
	vb := env.newBuffer(t, 256)

	require.NoError(t, r.EvaluateStart())
	write := capture(r.EnqueueWriteVirtualBuffer(q, vb, false, 0, sequence(0, 100), nil)).Test(t)
	overwrite := capture(r.EnqueueWriteVirtualBuffer(q, vb, false, 20, sequence(200, 10), nil)).Test(t)

	// Fully covered by staged writes: served from host memory, the later write taking precedence.
	covered := make([]byte, 40)
	coveredEvent := capture(r.EnqueueReadVirtualBuffer(q, vb, false, 10, covered, nil)).Test(t)
	require.Equal(t, int64(40), r.Stats().HostRead)

	// Partially covered: the staged writes are flushed and the read goes to the device.
	partial := make([]byte, 100)
	partialEvent := capture(r.EnqueueReadVirtualBuffer(q, vb, false, 50, partial, nil)).Test(t)
	require.Equal(t, int64(100), r.Stats().DeviceRead)

	// Nothing executed yet.
	for _, e := range []*Event{write, overwrite, coveredEvent, partialEvent} {
		require.Equal(t, EventQueued, e.Status(), "event %s", e)
	}
	require.Equal(t, make([]byte, 40), covered)

	require.NoError(t, r.EvaluateEnd())
	require.NoError(t, WaitForEvents(write, overwrite, coveredEvent, partialEvent))

	want := sequence(0, 100)
	copy(want[20:], sequence(200, 10))
	require.Equal(t, want[10:50], covered)
	require.Equal(t, want[50:], partial[:50])
	require.Equal(t, make([]byte, 50), partial[50:])
	require.Equal(t, Stats{DeviceRead: 100, DeviceWrite: 110, HostRead: 40, HostWrite: 110}, r.Stats())

	// After the window the device holds the last written values.
	all := make([]byte, 100)
	capture(r.EnqueueReadVirtualBuffer(q, vb, true, 0, all, nil)).Test(t)
	require.Equal(t, want, all)
}

func TestBlockingReadInEvaluation(t *testing.T) {
	env := newTestEnv(t, 1)
	r, q := env.rt, env.queues[0]
	vb := env.newBuffer(t, 128)

	require.NoError(t, r.EvaluateStart())
	write := capture(r.EnqueueWriteVirtualBuffer(q, vb, false, 0, sequence(1, 64), nil)).Test(t)

	// Covered blocking read: answered from the staged data.
	dst := make([]byte, 32)
	event := capture(r.EnqueueReadVirtualBuffer(q, vb, true, 16, dst, nil)).Test(t)
	require.Equal(t, EventComplete, event.Status())
	require.Equal(t, sequence(17, 32), dst)

	// Not covered: the write is flushed first, and everything pending executes.
	dst = make([]byte, 128)
	event = capture(r.EnqueueReadVirtualBuffer(q, vb, true, 0, dst, nil)).Test(t)
	require.Equal(t, EventComplete, event.Status())
	require.Equal(t, EventComplete, write.Status())
	require.Equal(t, sequence(1, 64), dst[:64])
	require.True(t, r.IsInEvaluation())

	require.NoError(t, r.EvaluateEnd())
	require.Equal(t, Stats{DeviceRead: 128, DeviceWrite: 64, HostRead: 32, HostWrite: 64}, r.Stats())
}

func TestFinish(t *testing.T) {
	env := newTestEnv(t, 1)
	r, q := env.rt, env.queues[0]
	vb := env.newBuffer(t, 64)

	require.NoError(t, r.Finish(q))
	require.Equal(t, opencl.InvalidCommandQueue, opencl.CodeOf(r.Finish(nil)))

	require.NoError(t, r.EvaluateStart())
	write := capture(r.EnqueueWriteVirtualBuffer(q, vb, false, 0, sequence(5, 16), nil)).Test(t)
	dst := make([]byte, 64)
	read := capture(r.EnqueueReadVirtualBuffer(q, vb, false, 0, dst, nil)).Test(t)
	require.NoError(t, r.Finish(q))
	require.Equal(t, EventComplete, write.Status())
	require.Equal(t, EventComplete, read.Status())
	require.Equal(t, sequence(5, 16), dst[:16])
	require.True(t, r.IsInEvaluation())
	require.NoError(t, r.EvaluateEnd())
}

func TestReleaseDuringEvaluation(t *testing.T) {
	env := newTestEnv(t, 1)
	r, q := env.rt, env.queues[0]
	alive := VirtualBuffersAlive()
	vb := env.newBuffer(t, 256)
	other := env.newBuffer(t, 64)
	require.Equal(t, alive+2, VirtualBuffersAlive())

	require.NoError(t, r.EvaluateStart())
	flushed := capture(r.EnqueueWriteVirtualBuffer(q, vb, false, 0, sequence(0, 16), nil)).Test(t)
	read := capture(r.EnqueueReadVirtualBuffer(q, vb, false, 0, make([]byte, 200), nil)).Test(t)
	staged := capture(r.EnqueueWriteVirtualBuffer(q, vb, false, 32, sequence(0, 16), nil)).Test(t)
	otherWrite := capture(r.EnqueueWriteVirtualBuffer(q, other, false, 0, sequence(0, 16), nil)).Test(t)

	require.NoError(t, r.ReleaseVirtualBuffer(vb))
	require.False(t, r.IsValidVirtualBuffer(vb))
	require.True(t, r.IsValidVirtualBuffer(other))
	require.Equal(t, alive+1, VirtualBuffersAlive())
	for _, e := range []*Event{flushed, read, staged} {
		err := e.Wait()
		require.Error(t, err)
		assert.Equal(t, opencl.InvalidMemObject, opencl.CodeOf(err))
		assert.Equal(t, EventStatus(opencl.InvalidMemObject), e.Status())
	}

	err := r.ReleaseVirtualBuffer(vb)
	require.Equal(t, opencl.InvalidMemObject, opencl.CodeOf(err))
	_, err = r.EnqueueWriteVirtualBuffer(q, vb, false, 0, sequence(0, 16), nil)
	require.Equal(t, opencl.InvalidMemObject, opencl.CodeOf(err))

	// The rest of the window is not affected.
	require.NoError(t, r.EvaluateEnd())
	require.NoError(t, otherWrite.Wait())
	require.NoError(t, r.ReleaseVirtualBuffer(other))
	require.Equal(t, alive, VirtualBuffersAlive())
}

func TestWaitListWithUserEvents(t *testing.T) {
	env := newTestEnv(t, 1)
	r, q := env.rt, env.queues[0]
	vb := env.newBuffer(t, 64)

	user := NewUserEvent()
	require.Equal(t, EventSubmitted, user.Status())
	require.NoError(t, r.EvaluateStart())
	write := capture(r.EnqueueWriteVirtualBuffer(q, vb, false, 0, sequence(1, 8), []*Event{user})).Test(t)
	dst := make([]byte, 16)
	read := capture(r.EnqueueReadVirtualBuffer(q, vb, false, 0, dst, []*Event{write})).Test(t)

	var g errgroup.Group
	g.Go(r.EvaluateEnd)
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, EventQueued, write.Status())
	require.Equal(t, EventQueued, read.Status())

	require.NoError(t, user.SetComplete(nil))
	require.NoError(t, g.Wait())
	require.NoError(t, read.Wait())
	require.Equal(t, sequence(1, 8), dst[:8])

	// A failed event fails the commands waiting for it.
	failed := NewUserEvent()
	require.NoError(t, failed.SetComplete(errors.New("cancelled")))
	require.NoError(t, r.EvaluateStart())
	write = capture(r.EnqueueWriteVirtualBuffer(q, vb, false, 0, sequence(1, 8), []*Event{failed})).Test(t)
	err := r.EvaluateEnd()
	require.Equal(t, opencl.ExecStatusErrorForEventsInWaitList, opencl.CodeOf(err))
	require.Equal(t, opencl.ExecStatusErrorForEventsInWaitList, opencl.CodeOf(write.Wait()))

	// Same outside a window, where the error is also returned directly.
	_, err = r.EnqueueWriteVirtualBuffer(q, vb, true, 0, sequence(1, 8), []*Event{failed})
	require.Equal(t, opencl.ExecStatusErrorForEventsInWaitList, opencl.CodeOf(err))
}

func TestKernelOnVirtualBuffer(t *testing.T) {
	env := newTestEnv(t, 1)
	r, q := env.rt, env.queues[0]
	module := doubleModule()
	require.NoError(t, env.devices[0].Load(module))
	vb := env.newBuffer(t, 16)
	kernel := capture(NewKernel(module, "double", 1)).Test(t)

	_, err := r.EnqueueNDRangeKernel(q, kernel, []int{16}, nil, nil)
	require.Equal(t, opencl.InvalidKernelArgs, opencl.CodeOf(err))
	require.NoError(t, r.SetKernelArgBuffer(kernel, 0, vb))

	// Eager.
	capture(r.EnqueueWriteVirtualBuffer(q, vb, true, 0, sequence(1, 16), nil)).Test(t)
	event := capture(r.EnqueueNDRangeKernel(q, kernel, []int{16}, nil, nil)).Test(t)
	require.NoError(t, event.Wait())
	dst := make([]byte, 16)
	capture(r.EnqueueReadVirtualBuffer(q, vb, true, 0, dst, nil)).Test(t)
	require.Equal(t, []byte{2, 4, 6, 8, 10, 12, 14, 16, 18, 20, 22, 24, 26, 28, 30, 32}, dst)

	// In a window: the kernel sees the staged write, and the read after it can't be served from the host.
	require.NoError(t, r.EvaluateStart())
	capture(r.EnqueueWriteVirtualBuffer(q, vb, false, 0, sequence(1, 16), nil)).Test(t)
	event = capture(r.EnqueueNDRangeKernel(q, kernel, []int{16}, []int{1}, nil)).Test(t)
	dst = make([]byte, 16)
	capture(r.EnqueueReadVirtualBuffer(q, vb, false, 0, dst, []*Event{event})).Test(t)
	require.NoError(t, r.EvaluateEnd())
	require.Equal(t, []byte{2, 4, 6, 8, 10, 12, 14, 16, 18, 20, 22, 24, 26, 28, 30, 32}, dst)
	require.Equal(t, Stats{DeviceRead: 16, DeviceWrite: 16, HostWrite: 16}, r.Stats())

	// Launch errors are reported by the event.
	unknown := capture(NewKernel(module, "unknown", 1)).Test(t)
	require.NoError(t, r.SetKernelArgBuffer(unknown, 0, vb))
	event, err = r.EnqueueNDRangeKernel(q, unknown, []int{16}, nil, nil)
	require.Error(t, err)
	require.Error(t, event.Wait())
}

func TestWorkDimensions(t *testing.T) {
	grid, block, err := workDimensions([]int{64, 4}, []int{16, 2})
	require.NoError(t, err)
	assert.Equal(t, 8, grid.Size())
	assert.Equal(t, 32, block.Size())
	assert.Equal(t, 1, grid.Z)

	for _, tc := range []struct {
		global, local []int
		code          opencl.ErrorCode
	}{
		{nil, nil, opencl.InvalidWorkDimension},
		{[]int{1, 1, 1, 1}, nil, opencl.InvalidWorkDimension},
		{[]int{10}, []int{3}, opencl.InvalidValue},
		{[]int{10}, []int{10, 1}, opencl.InvalidValue},
		{[]int{0}, nil, opencl.InvalidValue},
	} {
		_, _, err := workDimensions(tc.global, tc.local)
		assert.Equal(t, tc.code, opencl.CodeOf(err), "global=%v, local=%v", tc.global, tc.local)
	}
}

func TestVirtualBufferValidation(t *testing.T) {
	env := newTestEnv(t, 2)
	r := env.rt

	_, err := r.CreateVirtualBuffer(nil, 16)
	require.Equal(t, opencl.InvalidContext, opencl.CodeOf(err))
	_, err = r.CreateVirtualBuffer(env.ctx, 0)
	require.Equal(t, opencl.InvalidBufferSize, opencl.CodeOf(err))

	// Bound to the device of the first queue used.
	vb := env.newBuffer(t, 16)
	capture(r.EnqueueWriteVirtualBuffer(env.queues[0], vb, true, 0, sequence(0, 16), nil)).Test(t)
	_, err = r.EnqueueReadVirtualBuffer(env.queues[1], vb, true, 0, make([]byte, 16), nil)
	require.Equal(t, opencl.InvalidOperation, opencl.CodeOf(err))

	// Queues of another context.
	ctx := capture(NewContext(env.devices[0])).Test(t)
	defer ctx.Release()
	q := capture(NewQueue(ctx, env.devices[0])).Test(t)
	defer q.Release()
	_, err = r.EnqueueWriteVirtualBuffer(q, vb, true, 0, sequence(0, 16), nil)
	require.Equal(t, opencl.InvalidContext, opencl.CodeOf(err))

	// Too large to allocate.
	huge := env.newBuffer(t, 2<<20)
	_, err = r.EnqueueWriteVirtualBuffer(env.queues[0], huge, true, 0, sequence(0, 16), nil)
	require.Equal(t, opencl.MemObjectAllocationFailure, opencl.CodeOf(err))

	_, err = r.EnqueueWriteVirtualBuffer(nil, vb, true, 0, sequence(0, 16), nil)
	require.Equal(t, opencl.InvalidCommandQueue, opencl.CodeOf(err))
	require.Equal(t, opencl.InvalidMemObject, opencl.CodeOf(r.SetKernelArgBuffer(&Kernel{}, 0, nil)))
}

func TestConcurrentWritesInEvaluation(t *testing.T) {
	env := newTestEnv(t, 1)
	r, q := env.rt, env.queues[0]
	const numWriters, chunk = 8, 32
	vb := env.newBuffer(t, numWriters*chunk)

	require.NoError(t, r.EvaluateStart())
	var g errgroup.Group
	for ii := range numWriters {
		g.Go(func() error {
			_, err := r.EnqueueWriteVirtualBuffer(q, vb, false, ii*chunk, sequence(ii, chunk), nil)
			return err
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, int64(numWriters*chunk), r.Stats().HostWrite)

	dst := make([]byte, numWriters*chunk)
	capture(r.EnqueueReadVirtualBuffer(q, vb, false, 0, dst, nil)).Test(t)
	require.Equal(t, int64(numWriters*chunk), r.Stats().HostRead)
	require.NoError(t, r.EvaluateEnd())
	for ii := range numWriters {
		require.Equal(t, sequence(ii, chunk), dst[ii*chunk:(ii+1)*chunk], "chunk %d", ii)
	}
}

func TestStagedReadsFollowWaitLists(t *testing.T) {
	env := newTestEnv(t, 1)
	r, q := env.rt, env.queues[0]
	vb := env.newBuffer(t, 16)

	failed := NewUserEvent()
	require.NoError(t, failed.SetComplete(errors.New("cancelled")))

	// Outside a window the write is rejected and the read sees the untouched device memory.
	_, err := r.EnqueueWriteVirtualBuffer(q, vb, true, 0, []byte{1, 1, 1, 1}, []*Event{failed})
	require.Error(t, err)
	eager := make([]byte, 4)
	capture(r.EnqueueReadVirtualBuffer(q, vb, true, 0, eager, nil)).Test(t)
	require.Equal(t, make([]byte, 4), eager)

	// Inside a window the result is the same: the staged bytes of the failed write are not served.
	require.NoError(t, r.EvaluateStart())
	capture(r.EnqueueWriteVirtualBuffer(q, vb, false, 8, []byte{2, 2, 2, 2}, nil)).Test(t)
	write := capture(r.EnqueueWriteVirtualBuffer(q, vb, false, 0, []byte{1, 1, 1, 1}, []*Event{failed})).Test(t)
	inWindow := make([]byte, 4)
	capture(r.EnqueueReadVirtualBuffer(q, vb, true, 0, inWindow, nil)).Test(t)
	require.Equal(t, make([]byte, 4), inWindow)
	require.Equal(t, opencl.ExecStatusErrorForEventsInWaitList, opencl.CodeOf(write.Wait()))
	require.Equal(t, Stats{DeviceRead: 4, DeviceWrite: 8, HostWrite: 8}, r.Stats())

	// The other write is not affected, and once flushed its span can still be served from staging.
	other := make([]byte, 4)
	capture(r.EnqueueReadVirtualBuffer(q, vb, true, 8, other, nil)).Test(t)
	require.Equal(t, []byte{2, 2, 2, 2}, other)
	require.Equal(t, int64(4), r.Stats().HostRead)

	// A failed write flushed earlier is not served either.
	again := make([]byte, 4)
	capture(r.EnqueueReadVirtualBuffer(q, vb, true, 0, again, nil)).Test(t)
	require.Equal(t, make([]byte, 4), again)
	require.Equal(t, int64(8), r.Stats().DeviceRead)
	require.NoError(t, r.EvaluateEnd())

	device := make([]byte, 12)
	capture(r.EnqueueReadVirtualBuffer(q, vb, true, 0, device, nil)).Test(t)
	require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0, 2, 2, 2, 2}, device)

	// Writes waiting for a pending event are read from the device, after the event completes.
	user := NewUserEvent()
	require.NoError(t, r.EvaluateStart())
	capture(r.EnqueueWriteVirtualBuffer(q, vb, false, 0, []byte{3, 3, 3, 3}, []*Event{user})).Test(t)
	pending := make([]byte, 4)
	read := capture(r.EnqueueReadVirtualBuffer(q, vb, false, 0, pending, nil)).Test(t)
	require.Equal(t, Stats{DeviceRead: 4, DeviceWrite: 4, HostWrite: 4}, r.Stats())
	require.NoError(t, user.SetComplete(nil))
	require.NoError(t, r.EvaluateEnd())
	require.NoError(t, read.Wait())
	require.Equal(t, []byte{3, 3, 3, 3}, pending)
}

func TestValidationBeforeAllocation(t *testing.T) {
	env := newTestEnv(t, 2)
	r := env.rt
	vb := env.newBuffer(t, 16)

	// Rejected requests on the first queue don't bind the buffer to its device.
	_, err := r.EnqueueWriteVirtualBuffer(env.queues[0], vb, true, 8, make([]byte, 16), nil)
	require.Equal(t, opencl.InvalidValue, opencl.CodeOf(err))
	_, err = r.EnqueueReadVirtualBuffer(env.queues[0], vb, true, 0, make([]byte, 4), []*Event{nil})
	require.Equal(t, opencl.InvalidEventWaitList, opencl.CodeOf(err))
	module := doubleModule()
	kernel := capture(NewKernel(module, "double", 2)).Test(t)
	require.NoError(t, r.SetKernelArgBuffer(kernel, 0, vb))
	_, err = r.EnqueueNDRangeKernel(env.queues[0], kernel, []int{16}, nil, nil)
	require.Equal(t, opencl.InvalidKernelArgs, opencl.CodeOf(err))

	capture(r.EnqueueWriteVirtualBuffer(env.queues[1], vb, true, 0, sequence(0, 16), nil)).Test(t)
	_, err = r.EnqueueReadVirtualBuffer(env.queues[0], vb, true, 0, make([]byte, 4), nil)
	require.Equal(t, opencl.InvalidOperation, opencl.CodeOf(err))
}

func TestWaitOutsideWindowDoesNotBlockRuntime(t *testing.T) {
	env := newTestEnv(t, 1)
	r, q := env.rt, env.queues[0]
	held := env.newBuffer(t, 8)
	free := env.newBuffer(t, 8)

	user := NewUserEvent()
	var g errgroup.Group
	g.Go(func() error {
		_, err := r.EnqueueWriteVirtualBuffer(q, held, true, 0, sequence(1, 8), []*Event{user})
		return err
	})

	// Other buffers can be used while the write above waits for the user event.
	time.Sleep(10 * time.Millisecond)
	capture(r.EnqueueWriteVirtualBuffer(q, free, true, 0, sequence(10, 8), nil)).Test(t)
	dst := make([]byte, 8)
	capture(r.EnqueueReadVirtualBuffer(q, free, true, 0, dst, nil)).Test(t)
	require.Equal(t, sequence(10, 8), dst)

	require.NoError(t, user.SetComplete(nil))
	require.NoError(t, g.Wait())
	capture(r.EnqueueReadVirtualBuffer(q, held, true, 0, dst, nil)).Test(t)
	require.Equal(t, sequence(1, 8), dst)
}
