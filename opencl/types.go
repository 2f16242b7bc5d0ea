package opencl

import (
	"fmt"
	"strings"

	"github.com/gomlx/clvirt/executive"
	"github.com/pkg/errors"
)

// DeviceType is a bit mask of device classes.
type DeviceType uint64

const (
	DeviceTypeDefault     DeviceType = 1 << 0
	DeviceTypeCPU         DeviceType = 1 << 1
	DeviceTypeGPU         DeviceType = 1 << 2
	DeviceTypeAccelerator DeviceType = 1 << 3
	DeviceTypeCustom      DeviceType = 1 << 4
	DeviceTypeAll         DeviceType = 0xFFFFFFFF

	knownDeviceTypes = DeviceTypeDefault | DeviceTypeCPU | DeviceTypeGPU | DeviceTypeAccelerator | DeviceTypeCustom
)

var deviceTypeNames = []struct {
	t    DeviceType
	name string
}{
	{DeviceTypeDefault, "default"},
	{DeviceTypeCPU, "cpu"},
	{DeviceTypeGPU, "gpu"},
	{DeviceTypeAccelerator, "accelerator"},
	{DeviceTypeCustom, "custom"},
}

// IsValid reports whether t is a non-empty combination of the known flags, or DeviceTypeAll.
func (t DeviceType) IsValid() bool {
	return t == DeviceTypeAll || (t != 0 && t&^knownDeviceTypes == 0)
}

// Matches reports whether a device of type devType is selected by the requested mask t.
//
// A request for DeviceTypeDefault also selects GPU devices, independently of which device carries the default
// flag: callers depend on it.
func (t DeviceType) Matches(devType DeviceType) bool {
	if t&DeviceTypeDefault != 0 {
		t |= DeviceTypeGPU
	}
	return t&devType != 0
}

// String implements fmt.Stringer.
func (t DeviceType) String() string {
	if t == DeviceTypeAll {
		return "all"
	}
	var parts []string
	for _, entry := range deviceTypeNames {
		if t&entry.t != 0 {
			parts = append(parts, entry.name)
		}
	}
	if rest := t &^ knownDeviceTypes; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint64(rest)))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseDeviceType parses a "|" separated list of device type names, as returned by DeviceType.String.
func ParseDeviceType(s string) (DeviceType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "all" {
		return DeviceTypeAll, nil
	}
	var t DeviceType
	for _, part := range strings.Split(s, "|") {
		part = strings.TrimSpace(part)
		found := false
		for _, entry := range deviceTypeNames {
			if entry.name == part {
				t |= entry.t
				found = true
				break
			}
		}
		if !found {
			return 0, errors.Errorf("unknown device type %q in %q", part, s)
		}
	}
	return t, nil
}

// Vendor labels of the devices, by backend kind.
const (
	VendorNVIDIA = "NVIDIA"
	VendorAMD    = "AMD"
	VendorClvirt = "CLVIRT"
)

// backendClass returns the device type and vendor label for devices of the given backend kind.
func backendClass(kind executive.Kind) (DeviceType, string) {
	switch kind {
	case executive.KindNVIDIA:
		return DeviceTypeGPU, VendorNVIDIA
	case executive.KindAMD:
		return DeviceTypeGPU, VendorAMD
	case executive.KindMulticoreCPU:
		return DeviceTypeCPU, VendorClvirt
	case executive.KindEmulated, executive.KindRemote:
		return DeviceTypeGPU, VendorClvirt
	}
	return DeviceTypeDefault, VendorClvirt
}

// supportsWorkerThreadLimit reports whether devices of the kind accept a worker threads limit at creation.
func supportsWorkerThreadLimit(kind executive.Kind) bool {
	return kind == executive.KindMulticoreCPU
}
