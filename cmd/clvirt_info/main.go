// clvirt_info lists the virtual devices created from a configuration, and their info parameters.
//
// The devices are created from the YAML file given with -config, or else from the CLVIRT_DEVICES environment
// variable (see opencl.ConfigFromEnv), or else one emulated and one CPU device are created.
//
// With -check, a short evaluation window writing and reading back a virtual buffer is run on each device, and its
// transfer counters are printed.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"strings"

	"github.com/gomlx/clvirt/executive"
	"github.com/gomlx/clvirt/executive/emulator"
	"github.com/gomlx/clvirt/lcl"
	"github.com/gomlx/clvirt/opencl"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"k8s.io/klog/v2"
)

var (
	flagConfig = flag.String("config", "", "YAML configuration of the devices to create. "+
		"If empty, $"+opencl.DevicesEnv+" is used, and if that is not set one emulated and one cpu device are created.")
	flagType   = flag.String("type", "all", "Device types to list, \"|\" separated: e.g. \"gpu|cpu\", \"default\" or \"all\".")
	flagFormat = flag.String("format", "text", "Output format: text or json.")
	flagParams = flag.String("params", "", "Comma separated info parameters to print, e.g. \"NAME,MAX_COMPUTE_UNITS\". "+
		"Defaults to all.")
	flagCheck = flag.Bool("check", false, "Run a write/read round trip in an evaluation window on each device.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if err := run(); err != nil {
		klog.Fatalf("%+v", err)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	typ, err := opencl.ParseDeviceType(*flagType)
	if err != nil {
		return err
	}
	params, err := parseParams(*flagParams)
	if err != nil {
		return err
	}

	registry := opencl.NewRegistry()
	for _, kind := range []executive.Kind{executive.KindEmulated, executive.KindMulticoreCPU} {
		if err := registry.RegisterBackend(kind, emulator.NewFactory(emulator.Config{Count: 1}), nil); err != nil {
			return err
		}
	}
	platformName := cfg.Platform
	if platformName == "" {
		platformName = opencl.DefaultPlatformName
	}
	platform := opencl.NewPlatform(platformName)
	defer platform.Release()
	defer registry.Teardown()
	if _, err := registry.Configure(platform, cfg); err != nil {
		return err
	}

	numDevices, err := registry.GetDeviceIDs(platform, typ, nil)
	if err != nil {
		return err
	}
	devices := make([]*opencl.Device, numDevices)
	_, _ = registry.GetDeviceIDs(platform, typ, devices)
	for _, d := range devices {
		if err := printDevice(d, params); err != nil {
			return err
		}
		if *flagCheck {
			if err := check(d); err != nil {
				return errors.WithMessagef(err, "check of %s failed", d)
			}
		}
	}
	return nil
}

func loadConfig() (*opencl.Config, error) {
	if *flagConfig != "" {
		return opencl.LoadConfig(*flagConfig)
	}
	cfg, err := opencl.ConfigFromEnv()
	if err != nil || cfg != nil {
		return cfg, err
	}
	return &opencl.Config{Backends: []opencl.BackendConfig{{Kind: "emulated"}, {Kind: "cpu"}}}, nil
}

func parseParams(list string) ([]opencl.DeviceInfo, error) {
	if list == "" {
		return opencl.DeviceInfoParams(), nil
	}
	var params []opencl.DeviceInfo
	for _, name := range strings.Split(list, ",") {
		param, err := opencl.ParseDeviceInfo(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		params = append(params, param)
	}
	return params, nil
}

func printDevice(d *opencl.Device, params []opencl.DeviceInfo) error {
	if *flagFormat == "json" {
		info, err := d.InfoStruct()
		if err != nil {
			return err
		}
		data, err := protojson.MarshalOptions{Multiline: true}.Marshal(info)
		if err != nil {
			return errors.Wrapf(err, "failed to encode info of %s", d)
		}
		fmt.Println(string(data))
		return nil
	}
	fmt.Printf("%s (%s):\n", d.Name(), d.Type())
	for _, param := range params {
		if value, err := d.GetInfoString(param); err == nil {
			fmt.Printf("  %-45s %q\n", param, value)
			continue
		}
		size, err := d.GetInfo(param, nil)
		if opencl.CodeOf(err) == opencl.Unimplemented {
			fmt.Printf("  %-45s (unimplemented)\n", param)
			continue
		} else if err != nil {
			return err
		}
		value := make([]byte, size)
		if _, err := d.GetInfo(param, value); err != nil {
			return err
		}
		fmt.Printf("  %-45s % x\n", param, value)
	}
	return nil
}

// check writes a pattern to a virtual buffer and reads it back, in one evaluation window.
func check(d *opencl.Device) error {
	ctx, err := lcl.NewContext(d)
	if err != nil {
		return err
	}
	defer ctx.Release()
	queue, err := lcl.NewQueue(ctx, d)
	if err != nil {
		return err
	}
	defer queue.Release()
	rt := lcl.NewRuntime()
	defer rt.Close()

	const size = 4096
	vb, err := rt.CreateVirtualBuffer(ctx, size)
	if err != nil {
		return err
	}
	pattern := bytes.Repeat([]byte("clvirt"), size/6+1)[:size]
	readBack := make([]byte, size)
	if err := rt.EvaluateStart(); err != nil {
		return err
	}
	if _, err := rt.EnqueueWriteVirtualBuffer(queue, vb, false, 0, pattern, nil); err != nil {
		return err
	}
	if _, err := rt.EnqueueReadVirtualBuffer(queue, vb, false, 0, readBack[:size/2], nil); err != nil {
		return err
	}
	if err := rt.Finish(queue); err != nil {
		return err
	}
	if _, err := rt.EnqueueReadVirtualBuffer(queue, vb, true, size/2, readBack[size/2:], nil); err != nil {
		return err
	}
	if err := rt.EvaluateEnd(); err != nil {
		return err
	}
	if !bytes.Equal(pattern, readBack) {
		return errors.New("data read back differs from data written")
	}
	fmt.Printf("  check: %+v\n", rt.Stats())
	return nil
}
