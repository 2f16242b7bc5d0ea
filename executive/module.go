package executive

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// KernelContext is what a host-executed kernel receives for each block of a launch.
type KernelContext struct {
	Grid, Block  Dim3
	BlockIdx     Dim3
	SharedMemory []byte
	Arguments    []byte
	Externals    ExternalFunctionSet

	// Memory gives the kernel access to device memory.
	Memory Memory
}

// Memory is the device memory view given to host-executed kernels.
type Memory interface {
	Read(addr Address, dst []byte) error
	Write(addr Address, src []byte) error
}

// Kernel is a kernel implemented in Go, for backends that execute on the host.
// It is called once per block of the grid, possibly concurrently for different blocks.
type Kernel func(ctx *KernelContext) error

// Module is a named collection of kernels.
//
// A Module is created unloaded: LoadNow (called by opencl.Device.Load) parses/validates it and moves it to
// the loaded state, which is final.
type Module struct {
	name    string
	source  []byte
	kernels map[string]Kernel

	mu     sync.Mutex
	loaded bool
}

// NewModule creates a new, unloaded, module. Source is opaque to this package; kernels may be nil for backends
// that translate the source instead.
func NewModule(name string, source []byte, kernels map[string]Kernel) *Module {
	return &Module{name: name, source: source, kernels: kernels}
}

// Name of the module.
func (m *Module) Name() string {
	return m.name
}

// Source of the module, as given to NewModule.
func (m *Module) Source() []byte {
	return m.source
}

// Loaded reports whether LoadNow has completed.
func (m *Module) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

// LoadNow validates the module and moves it to the loaded state. It is a no-op if already loaded.
func (m *Module) LoadNow() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return nil
	}
	if m.name == "" {
		return errors.New("module has no name")
	}
	if len(m.source) == 0 && len(m.kernels) == 0 {
		return errors.Errorf("module %q has neither source nor kernels", m.name)
	}
	m.loaded = true
	return nil
}

// Kernel returns the Go implementation of the named kernel, if there is one.
func (m *Module) Kernel(name string) (Kernel, bool) {
	k, ok := m.kernels[name]
	return k, ok
}

// KernelNames returns the sorted names of the Go kernels of the module.
func (m *Module) KernelNames() []string {
	names := make([]string, 0, len(m.kernels))
	for name := range m.kernels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
