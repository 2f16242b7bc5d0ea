package lcl

// Common initialization and testing tools for all test files.

import (
	"encoding/binary"
	"testing"

	"github.com/gomlx/clvirt/executive"
	"github.com/gomlx/clvirt/executive/emulator"
	"github.com/gomlx/clvirt/opencl"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

type errTester[T any] struct {
	value T
	err   error
}

// capture is a shortcut to test that there is no error and return the value.
func capture[T any](value T, err error) errTester[T] {
	return errTester[T]{value, err}
}

func (e errTester[T]) Test(t *testing.T) T {
	require.NoError(t, e.err)
	return e.value
}

// testEnv is a runtime with a context over numDevices emulated devices, and one queue per device.
type testEnv struct {
	registry *opencl.Registry
	platform *opencl.Platform
	devices  []*opencl.Device
	ctx      *Context
	queues   []*Queue
	rt       *Runtime
}

func newTestEnv(t *testing.T, numDevices int) *testEnv {
	env := &testEnv{registry: opencl.NewRegistry(), platform: opencl.NewPlatform("lcl-test")}
	props := emulator.DefaultProperties()
	props.TotalMemory = 1 << 20
	must.M(env.registry.RegisterBackend(executive.KindEmulated,
		emulator.NewFactory(emulator.Config{Count: numDevices, Properties: props, WorkerThreads: 2}), nil))
	require.Equal(t, numDevices, capture(env.registry.CreateDevices(env.platform, executive.KindEmulated, 0, 0, 0)).Test(t))
	env.devices = env.registry.Devices()
	env.ctx = capture(NewContext(env.devices...)).Test(t)
	for _, d := range env.devices {
		env.queues = append(env.queues, capture(NewQueue(env.ctx, d)).Test(t))
	}
	env.rt = NewRuntime()
	t.Cleanup(env.Close)
	return env
}

// Close releases everything, in reverse order of creation.
func (env *testEnv) Close() {
	env.rt.Close()
	for _, q := range env.queues {
		q.Release()
	}
	env.ctx.Release()
	env.registry.Teardown()
}

// newBuffer creates a virtual buffer of size bytes.
func (env *testEnv) newBuffer(t *testing.T, size int) *VirtualBuffer {
	return capture(env.rt.CreateVirtualBuffer(env.ctx, size)).Test(t)
}

// doubleModule has one kernel, "double", that doubles each byte of the buffer given as first argument,
// one byte per work item.
func doubleModule() *executive.Module {
	double := func(ctx *executive.KernelContext) error {
		addr := executive.Address(binary.LittleEndian.Uint64(ctx.Arguments)) + executive.Address(ctx.BlockIdx.X)
		b := make([]byte, 1)
		if err := ctx.Memory.Read(addr, b); err != nil {
			return err
		}
		b[0] *= 2
		return ctx.Memory.Write(addr, b)
	}
	return executive.NewModule("double", nil, map[string]executive.Kernel{"double": double})
}

// sequence returns n bytes with values start, start+1, ...
func sequence(start, n int) []byte {
	data := make([]byte, n)
	for ii := range data {
		data[ii] = byte(start + ii)
	}
	return data
}
