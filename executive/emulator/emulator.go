// Package emulator implements an executive.Device that executes kernels written in Go on the host.
//
// It is the reference backend of this module: device memory is host memory, kernels are executive.Kernel
// functions attached to the module, and blocks of a launch run in parallel goroutines, bounded by the worker
// threads limit.
//
// The same implementation serves the software emulator and the CPU-retargeted backend kinds, with different
// Properties. Register it with:
//
//	registry.RegisterBackend(executive.KindEmulated, emulator.NewFactory(emulator.Config{Count: 1}), nil)
package emulator

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gomlx/clvirt/executive"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

const (
	// baseAddress of the first allocation: address 0 is never valid.
	baseAddress executive.Address = 0x10000

	// allocationAlignment of every allocation. A gap of at least one alignment unit is left between
	// allocations, so an access past the end of one allocation never lands in the next one.
	allocationAlignment = 256

	defaultTotalMemory = 1 << 30
)

// Config of the devices created by the factory.
type Config struct {
	// Count of devices to create. It can be overridden with the "count" option.
	Count int

	// Properties reported by the devices. Zero fields are filled with defaults, see DefaultProperties.
	Properties executive.Properties

	// WorkerThreads is the initial limit of blocks executed in parallel. Defaults to runtime.NumCPU().
	WorkerThreads int
}

// DefaultProperties returns the properties used for fields left zero in Config.Properties.
func DefaultProperties() executive.Properties {
	return executive.Properties{
		Name:                "Ocelot Emulated Device",
		TotalMemory:         defaultTotalMemory,
		TotalConstantMemory: 64 * 1024,
		ClockRate:           2000,
		MultiprocessorCount: 1,
		MaxThreadsDim:       [3]int{1024, 1024, 64},
		MaxGridSize:         [3]int{65535, 65535, 65535},
		UnifiedAddressing:   true,
		PrintfFIFOSize:      1 << 20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultProperties()
	p := &c.Properties
	if p.Name == "" {
		p.Name = d.Name
	}
	if p.TotalMemory == 0 {
		p.TotalMemory = d.TotalMemory
	}
	if p.TotalConstantMemory == 0 {
		p.TotalConstantMemory = d.TotalConstantMemory
	}
	if p.ClockRate == 0 {
		p.ClockRate = d.ClockRate
	}
	if p.MultiprocessorCount == 0 {
		p.MultiprocessorCount = d.MultiprocessorCount
	}
	if p.MaxThreadsDim == [3]int{} {
		p.MaxThreadsDim = d.MaxThreadsDim
	}
	if p.MaxGridSize == [3]int{} {
		p.MaxGridSize = d.MaxGridSize
	}
	if p.PrintfFIFOSize == 0 {
		p.PrintfFIFOSize = d.PrintfFIFOSize
	}
	if c.WorkerThreads <= 0 {
		c.WorkerThreads = runtime.NumCPU()
	}
	return c
}

// NewFactory returns an executive.Factory creating emulated devices.
//
// Options understood: "count" (int64) overrides Config.Count; "name" (string) overrides the device name.
// Flags and compute capability are ignored.
func NewFactory(cfg Config) executive.Factory {
	cfg = cfg.withDefaults()
	return func(flags uint, computeCapability int, options executive.Options) ([]executive.Device, error) {
		if err := options.Validate(); err != nil {
			return nil, err
		}
		count, err := options.GetInt64("count", int64(cfg.Count))
		if err != nil {
			return nil, err
		}
		if count < 0 {
			return nil, errors.Errorf("invalid number of emulated devices %d", count)
		}
		props := cfg.Properties
		props.Name, err = options.GetString("name", props.Name)
		if err != nil {
			return nil, err
		}
		devices := make([]executive.Device, count)
		for ii := range devices {
			devices[ii] = New(props, cfg.WorkerThreads)
		}
		return devices, nil
	}
}

// Device is an emulated device.
type Device struct {
	props    executive.Properties
	selected atomic.Bool

	// memMu protects the memory map: it is also taken by CheckMemoryAccess, which can be called
	// concurrently with a selected user of the device.
	memMu       sync.RWMutex
	allocations []*allocation // Sorted by address.
	nextAddress executive.Address
	usedMemory  uint64

	modules       map[string]*executive.Module
	workerThreads int
	optimization  executive.OptimizationLevel
	closed        bool
}

var _ executive.Device = (*Device)(nil)

// New creates a single emulated device.
func New(props executive.Properties, workerThreads int) *Device {
	if workerThreads <= 0 {
		workerThreads = runtime.NumCPU()
	}
	return &Device{
		props:         props,
		nextAddress:   baseAddress,
		modules:       make(map[string]*executive.Module),
		workerThreads: workerThreads,
		optimization:  executive.NoOptimization,
	}
}

// String implements fmt.Stringer.
func (d *Device) String() string {
	return fmt.Sprintf("emulator.Device[%q]", d.props.Name)
}

// Properties implements executive.Device.
func (d *Device) Properties() executive.Properties {
	return d.props
}

// Select implements executive.Device.
func (d *Device) Select() error {
	if !d.selected.CompareAndSwap(false, true) {
		return errors.Errorf("%s is already selected", d)
	}
	return nil
}

// Unselect implements executive.Device.
func (d *Device) Unselect() {
	if !d.selected.CompareAndSwap(true, false) {
		klog.Errorf("%s unselected while not selected", d)
	}
}

// IsSelected reports whether the device is currently selected.
func (d *Device) IsSelected() bool {
	return d.selected.Load()
}

func (d *Device) checkUsable() error {
	if !d.selected.Load() {
		return errors.Errorf("%s used without being selected", d)
	}
	if d.closed {
		return errors.Errorf("%s is closed", d)
	}
	return nil
}

// WorkerThreads returns the current worker threads limit.
func (d *Device) WorkerThreads() int {
	return d.workerThreads
}

// OptimizationLevel returns the last level set.
func (d *Device) OptimizationLevel() executive.OptimizationLevel {
	return d.optimization
}

// LimitWorkerThreads implements executive.Device.
func (d *Device) LimitWorkerThreads(limit int) error {
	if err := d.checkUsable(); err != nil {
		return err
	}
	if limit <= 0 {
		return errors.Errorf("invalid worker threads limit %d", limit)
	}
	d.workerThreads = limit
	return nil
}

// SetOptimizationLevel implements executive.Device.
func (d *Device) SetOptimizationLevel(level executive.OptimizationLevel) error {
	if err := d.checkUsable(); err != nil {
		return err
	}
	if level < executive.NoOptimization || level > executive.FullOptimization {
		return errors.Errorf("invalid optimization level %d", level)
	}
	d.optimization = level
	return nil
}

// Load implements executive.Device.
func (d *Device) Load(module *executive.Module) error {
	if err := d.checkUsable(); err != nil {
		return err
	}
	if !module.Loaded() {
		return errors.Errorf("module %q must be loaded before being handed to %s", module.Name(), d)
	}
	if _, found := d.modules[module.Name()]; found {
		return errors.Errorf("module %q already loaded on %s", module.Name(), d)
	}
	d.modules[module.Name()] = module
	return nil
}

// Unload implements executive.Device.
func (d *Device) Unload(name string) error {
	if err := d.checkUsable(); err != nil {
		return err
	}
	if _, found := d.modules[name]; !found {
		return errors.Errorf("cannot unload unknown module %q from %s", name, d)
	}
	delete(d.modules, name)
	return nil
}

// ModuleNames returns the sorted names of the loaded modules.
func (d *Device) ModuleNames() []string {
	names := make([]string, 0, len(d.modules))
	for name := range d.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Launch implements executive.Device.
func (d *Device) Launch(moduleName, kernelName string, grid, block executive.Dim3, sharedMemory int,
	argumentBlock []byte, traceGenerators []executive.TraceGenerator, externals executive.ExternalFunctionSet) error {
	if err := d.checkUsable(); err != nil {
		return err
	}
	module, found := d.modules[moduleName]
	if !found {
		return errors.Errorf("module %q not loaded on %s", moduleName, d)
	}
	kernel, found := module.Kernel(kernelName)
	if !found {
		return errors.Errorf("kernel %q of module %q has no host implementation", kernelName, moduleName)
	}
	if grid.Size() <= 0 || block.Size() <= 0 {
		return errors.Errorf("invalid launch dimensions grid=%s, block=%s", grid, block)
	}
	if block.X > d.props.MaxThreadsDim[0] || block.Y > d.props.MaxThreadsDim[1] || block.Z > d.props.MaxThreadsDim[2] {
		return errors.Errorf("block %s exceeds the maximum thread dimensions %v of %s", block, d.props.MaxThreadsDim, d)
	}
	if sharedMemory < 0 {
		return errors.Errorf("invalid shared memory size %d", sharedMemory)
	}

	for _, tg := range traceGenerators {
		tg.Initialize(kernelName, grid, block)
	}
	defer func() {
		for _, tg := range traceGenerators {
			tg.Finish()
		}
	}()

	arguments := append([]byte(nil), argumentBlock...)
	var g errgroup.Group
	g.SetLimit(d.workerThreads)
	for z := range grid.Z {
		for y := range grid.Y {
			for x := range grid.X {
				ctx := &executive.KernelContext{
					Grid:         grid,
					Block:        block,
					BlockIdx:     executive.Dim3{X: x, Y: y, Z: z},
					SharedMemory: make([]byte, sharedMemory),
					Arguments:    arguments,
					Externals:    externals,
					Memory:       memoryView{d},
				}
				g.Go(func() error {
					return kernel(ctx)
				})
			}
		}
	}
	if err := g.Wait(); err != nil {
		return errors.WithMessagef(err, "kernel %q (module %q) failed on %s", kernelName, moduleName, d)
	}
	return nil
}

// Close implements executive.Device.
func (d *Device) Close() error {
	d.memMu.Lock()
	defer d.memMu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.allocations = nil
	d.usedMemory = 0
	d.modules = nil
	return nil
}
