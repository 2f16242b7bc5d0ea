package opencl

import "k8s.io/klog/v2"

// PartitionProperty is an entry of the property list given to Device.CreateSubDevices.
type PartitionProperty int64

const (
	PartitionEqually           PartitionProperty = 0x1086
	PartitionByCounts          PartitionProperty = 0x1087
	PartitionByAffinityDomain  PartitionProperty = 0x1088
	partitionPropertiesListEnd PartitionProperty = 0
)

// maxSubDevices a device can be partitioned into.
const maxSubDevices = 1

// CreateSubDevices partitions the device according to properties, a list terminated by 0 (the terminator may be
// omitted). Only PartitionEqually is supported, followed by the number of compute units per sub-device.
//
// Since a device can be split in at most one sub-device, the whole device is handed to the only sub-device: it
// shares the backend (and its affinity guard) with the parent, and is not listed by Registry.GetDeviceIDs nor
// reached by the broadcast operations. The caller owns the one reference of each returned sub-device.
func (d *Device) CreateSubDevices(properties []PartitionProperty) ([]*Device, error) {
	if len(properties) == 0 || properties[0] == partitionPropertiesListEnd {
		return nil, NewError(InvalidValue, "empty partition properties")
	}
	switch properties[0] {
	case PartitionEqually:
	case PartitionByCounts, PartitionByAffinityDomain:
		return nil, NewError(InvalidValue, "partition property 0x%x unsupported", int64(properties[0]))
	default:
		return nil, NewError(InvalidValue, "unknown partition property 0x%x", int64(properties[0]))
	}
	if len(properties) < 2 {
		return nil, NewError(InvalidValue, "PartitionEqually requires the number of compute units")
	}
	if units := properties[1]; units <= 0 {
		return nil, NewError(DevicePartitionFailed, "invalid number of compute units %d", int64(units))
	}
	if len(properties) > 2 && properties[2] != partitionPropertiesListEnd {
		return nil, NewError(InvalidValue, "unexpected partition property 0x%x after PartitionEqually",
			int64(properties[2]))
	}

	sub := d.registry.addSubDevice(d, properties[:2])
	klog.V(1).Infof("Created sub-device %s of %s", sub, d)
	return []*Device{sub}, nil
}
