package opencl

// Common initialization and testing tools for all test files.

import (
	"testing"

	"github.com/gomlx/clvirt/executive"
	"github.com/gomlx/clvirt/executive/emulator"
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

// Names given to the emulated devices of each kind in newTestRegistry.
const (
	testGPUName = "Test Emulated GPU"
	testCPUName = "Test Multicore CPU"
)

// testMemorySize of each test device.
const testMemorySize = 1 << 20

// newTestRegistry returns a registry with emulator backends registered for the emulated and the multicore CPU
// kinds, each creating one device with 4 worker threads by default.
func newTestRegistry(t *testing.T) *Registry {
	r := NewRegistry()
	props := emulator.DefaultProperties()
	props.TotalMemory = testMemorySize
	props.Name = testGPUName
	must.M(r.RegisterBackend(executive.KindEmulated,
		emulator.NewFactory(emulator.Config{Count: 1, Properties: props, WorkerThreads: 4}), nil))
	props.Name = testCPUName
	must.M(r.RegisterBackend(executive.KindMulticoreCPU,
		emulator.NewFactory(emulator.Config{Count: 1, Properties: props, WorkerThreads: 4}), nil))
	return r
}

// newCPUAndGPU creates one CPU device and then one GPU device on a new platform.
func newCPUAndGPU(t *testing.T) (r *Registry, platform *Platform, cpu, gpu *Device) {
	r = newTestRegistry(t)
	platform = NewPlatform("test")
	require.Equal(t, 1, capture(r.CreateDevices(platform, executive.KindMulticoreCPU, 0, 0, 0)).Test(t))
	require.Equal(t, 1, capture(r.CreateDevices(platform, executive.KindEmulated, 0, 0, 0)).Test(t))
	devices := r.Devices()
	require.Len(t, devices, 2)
	return r, platform, devices[0], devices[1]
}

// backendOf returns the emulator behind d.
func backendOf(d *Device) *emulator.Device {
	return d.backend.(*emulator.Device)
}
