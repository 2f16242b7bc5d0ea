package opencl

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/gomlx/clvirt/executive"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/types/known/structpb"
)

// DeviceInfo identifies one fact about a device, queried with Device.GetInfo.
type DeviceInfo uint32

// Device info parameters, with the OpenCL 1.2 values.
const (
	DeviceInfoType                       DeviceInfo = 0x1000
	DeviceInfoVendorID                   DeviceInfo = 0x1001
	DeviceInfoMaxComputeUnits            DeviceInfo = 0x1002
	DeviceInfoMaxWorkItemDimensions      DeviceInfo = 0x1003
	DeviceInfoMaxWorkGroupSize           DeviceInfo = 0x1004
	DeviceInfoMaxWorkItemSizes           DeviceInfo = 0x1005
	DeviceInfoPreferredVectorWidthChar   DeviceInfo = 0x1006
	DeviceInfoPreferredVectorWidthShort  DeviceInfo = 0x1007
	DeviceInfoPreferredVectorWidthInt    DeviceInfo = 0x1008
	DeviceInfoPreferredVectorWidthLong   DeviceInfo = 0x1009
	DeviceInfoPreferredVectorWidthFloat  DeviceInfo = 0x100A
	DeviceInfoPreferredVectorWidthDouble DeviceInfo = 0x100B
	DeviceInfoMaxClockFrequency          DeviceInfo = 0x100C
	DeviceInfoAddressBits                DeviceInfo = 0x100D
	DeviceInfoMaxReadImageArgs           DeviceInfo = 0x100E
	DeviceInfoMaxWriteImageArgs          DeviceInfo = 0x100F
	DeviceInfoMaxMemAllocSize            DeviceInfo = 0x1010
	DeviceInfoImage2DMaxWidth            DeviceInfo = 0x1011
	DeviceInfoImage2DMaxHeight           DeviceInfo = 0x1012
	DeviceInfoImage3DMaxWidth            DeviceInfo = 0x1013
	DeviceInfoImage3DMaxHeight           DeviceInfo = 0x1014
	DeviceInfoImage3DMaxDepth            DeviceInfo = 0x1015
	DeviceInfoImageSupport               DeviceInfo = 0x1016
	DeviceInfoMaxParameterSize           DeviceInfo = 0x1017
	DeviceInfoMaxSamplers                DeviceInfo = 0x1018
	DeviceInfoMemBaseAddrAlign           DeviceInfo = 0x1019
	DeviceInfoMinDataTypeAlignSize       DeviceInfo = 0x101A
	DeviceInfoSingleFPConfig             DeviceInfo = 0x101B
	DeviceInfoGlobalMemCacheType         DeviceInfo = 0x101C
	DeviceInfoGlobalMemCachelineSize     DeviceInfo = 0x101D
	DeviceInfoGlobalMemCacheSize         DeviceInfo = 0x101E
	DeviceInfoGlobalMemSize              DeviceInfo = 0x101F
	DeviceInfoMaxConstantBufferSize      DeviceInfo = 0x1020
	DeviceInfoMaxConstantArgs            DeviceInfo = 0x1021
	DeviceInfoLocalMemType               DeviceInfo = 0x1022
	DeviceInfoLocalMemSize               DeviceInfo = 0x1023
	DeviceInfoErrorCorrectionSupport     DeviceInfo = 0x1024
	DeviceInfoProfilingTimerResolution   DeviceInfo = 0x1025
	DeviceInfoEndianLittle               DeviceInfo = 0x1026
	DeviceInfoAvailable                  DeviceInfo = 0x1027
	DeviceInfoCompilerAvailable          DeviceInfo = 0x1028
	DeviceInfoExecutionCapabilities      DeviceInfo = 0x1029
	DeviceInfoQueueProperties            DeviceInfo = 0x102A
	DeviceInfoName                       DeviceInfo = 0x102B
	DeviceInfoVendor                     DeviceInfo = 0x102C
	DeviceInfoDriverVersion              DeviceInfo = 0x102D
	DeviceInfoProfile                    DeviceInfo = 0x102E
	DeviceInfoVersion                    DeviceInfo = 0x102F
	DeviceInfoExtensions                 DeviceInfo = 0x1030
	DeviceInfoPlatform                   DeviceInfo = 0x1031
	DeviceInfoDoubleFPConfig             DeviceInfo = 0x1032
	DeviceInfoPreferredVectorWidthHalf   DeviceInfo = 0x1034
	DeviceInfoHostUnifiedMemory          DeviceInfo = 0x1035
	DeviceInfoNativeVectorWidthChar      DeviceInfo = 0x1036
	DeviceInfoNativeVectorWidthShort     DeviceInfo = 0x1037
	DeviceInfoNativeVectorWidthInt       DeviceInfo = 0x1038
	DeviceInfoNativeVectorWidthLong      DeviceInfo = 0x1039
	DeviceInfoNativeVectorWidthFloat     DeviceInfo = 0x103A
	DeviceInfoNativeVectorWidthDouble    DeviceInfo = 0x103B
	DeviceInfoNativeVectorWidthHalf      DeviceInfo = 0x103C
	DeviceInfoOpenCLCVersion             DeviceInfo = 0x103D
	DeviceInfoLinkerAvailable            DeviceInfo = 0x103E
	DeviceInfoBuiltInKernels             DeviceInfo = 0x103F
	DeviceInfoImageMaxBufferSize         DeviceInfo = 0x1040
	DeviceInfoImageMaxArraySize          DeviceInfo = 0x1041
	DeviceInfoParentDevice               DeviceInfo = 0x1042
	DeviceInfoPartitionMaxSubDevices     DeviceInfo = 0x1043
	DeviceInfoPartitionProperties        DeviceInfo = 0x1044
	DeviceInfoPartitionAffinityDomain    DeviceInfo = 0x1045
	DeviceInfoPartitionType              DeviceInfo = 0x1046
	DeviceInfoReferenceCount             DeviceInfo = 0x1047
	DeviceInfoPreferredInteropUserSync   DeviceInfo = 0x1048
	DeviceInfoPrintfBufferSize           DeviceInfo = 0x1049
)

// Bit fields and enums used as info values.
const (
	fpDenorm                     = 1 << 0
	fpInfNaN                     = 1 << 1
	fpRoundToNearest             = 1 << 2
	fpRoundToZero                = 1 << 3
	fpRoundToInf                 = 1 << 4
	fpFMA                        = 1 << 5
	fpSoftFloat                  = 1 << 6
	fpCorrectlyRoundedDivideSqrt = 1 << 7

	execKernel       = 1 << 0
	execNativeKernel = 1 << 1

	queueProfilingEnable = 1 << 1

	readWriteCache = 0x2
	localMemGlobal = 0x2
)

const (
	driverVersion    = "1.2"
	deviceProfile    = "FULL_PROFILE"
	deviceVersion    = "OpenCL 1.2"
	openCLCVersion   = "OpenCL 1.2"
	deviceExtensions = "cl_khr_global_int32_base_atomics cl_khr_global_int32_extended_atomics " +
		"cl_khr_local_int32_base_atomics cl_khr_local_int32_extended_atomics cl_khr_byte_addressable_store " +
		"cl_khr_fp64 cl_khr_gl_sharing cl_khr_gl_event"
)

// infoType tags the encoding of an info value.
type infoType int

const (
	infoUint   infoType = iota // cl_uint: 4 bytes.
	infoBool                   // cl_bool: 4 bytes.
	infoUlong                  // cl_ulong, bit fields, cl_device_type: 8 bytes.
	infoSize                   // size_t: 8 bytes.
	infoHandle                 // cl_platform_id, cl_device_id: 8 bytes, 0 for NULL.
	infoSizes                  // size_t[n].
	infoLongs                  // intptr_t[n], e.g. partition properties.
	infoString                 // NUL terminated string.
)

// infoValue is a tagged answer to a device info query.
type infoValue struct {
	typ  infoType
	u    uint64
	list []uint64
	s    string
}

func uintInfo[T ~uint32 | ~int](v T) infoValue  { return infoValue{typ: infoUint, u: uint64(v)} }
func ulongInfo[T ~uint64 | ~int](v T) infoValue { return infoValue{typ: infoUlong, u: uint64(v)} }
func sizeInfo[T ~uint64 | ~int](v T) infoValue  { return infoValue{typ: infoSize, u: uint64(v)} }
func handleInfo(h uint64) infoValue             { return infoValue{typ: infoHandle, u: h} }
func stringInfo(s string) infoValue             { return infoValue{typ: infoString, s: s} }

func boolInfo(b bool) infoValue {
	v := infoValue{typ: infoBool}
	if b {
		v.u = 1
	}
	return v
}

func sizesInfo(sizes ...int) infoValue {
	v := infoValue{typ: infoSizes, list: make([]uint64, len(sizes))}
	for ii, s := range sizes {
		v.list[ii] = uint64(s)
	}
	return v
}

// Len returns the encoded length in bytes.
func (v infoValue) Len() int {
	switch v.typ {
	case infoUint, infoBool:
		return 4
	case infoUlong, infoSize, infoHandle:
		return 8
	case infoSizes, infoLongs:
		return 8 * len(v.list)
	case infoString:
		return len(v.s) + 1
	}
	panic(fmt.Sprintf("unknown info type %d", v.typ))
}

// Encode returns the little-endian encoding of the value.
func (v infoValue) Encode() []byte {
	buf := make([]byte, 0, v.Len())
	switch v.typ {
	case infoUint, infoBool:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(v.u))
	case infoUlong, infoSize, infoHandle:
		buf = binary.LittleEndian.AppendUint64(buf, v.u)
	case infoSizes, infoLongs:
		for _, x := range v.list {
			buf = binary.LittleEndian.AppendUint64(buf, x)
		}
	case infoString:
		buf = append(buf, v.s...)
		buf = append(buf, 0)
	}
	return buf
}

// asAny returns the value as a Go value accepted by structpb.NewValue.
func (v infoValue) asAny() any {
	switch v.typ {
	case infoBool:
		return v.u != 0
	case infoString:
		return v.s
	case infoSizes, infoLongs:
		list := make([]any, len(v.list))
		for ii, x := range v.list {
			if v.typ == infoLongs {
				list[ii] = int64(x)
			} else {
				list[ii] = x
			}
		}
		return list
	}
	return v.u
}

type infoEntry struct {
	name  string
	value func(d *Device, props executive.Properties) infoValue
}

func constInfo(name string, v infoValue) infoEntry {
	return infoEntry{name: name, value: func(*Device, executive.Properties) infoValue { return v }}
}

// deviceInfoTable maps each supported parameter to its name and value.
var deviceInfoTable = map[DeviceInfo]infoEntry{
	DeviceInfoType: {"CL_DEVICE_TYPE", func(d *Device, _ executive.Properties) infoValue {
		return ulongInfo(uint64(d.typ))
	}},
	DeviceInfoVendorID: {"CL_DEVICE_VENDOR_ID", func(d *Device, _ executive.Properties) infoValue {
		return uintInfo(d.vendorID)
	}},
	DeviceInfoMaxComputeUnits: {"CL_DEVICE_MAX_COMPUTE_UNITS", func(_ *Device, p executive.Properties) infoValue {
		// 48 cores per multiprocessor, as in Fermi.
		return uintInfo(p.MultiprocessorCount * 48)
	}},
	DeviceInfoMaxWorkItemDimensions: constInfo("CL_DEVICE_MAX_WORK_ITEM_DIMENSIONS", uintInfo(3)),
	DeviceInfoMaxWorkGroupSize: {"CL_DEVICE_MAX_WORK_GROUP_SIZE", func(_ *Device, p executive.Properties) infoValue {
		return sizeInfo(p.MaxThreadsDim[0])
	}},
	DeviceInfoMaxWorkItemSizes: {"CL_DEVICE_MAX_WORK_ITEM_SIZES", func(_ *Device, p executive.Properties) infoValue {
		return sizesInfo(p.MaxThreadsDim[:]...)
	}},
	DeviceInfoPreferredVectorWidthChar:   constInfo("CL_DEVICE_PREFERRED_VECTOR_WIDTH_CHAR", uintInfo(16)),
	DeviceInfoPreferredVectorWidthShort:  constInfo("CL_DEVICE_PREFERRED_VECTOR_WIDTH_SHORT", uintInfo(8)),
	DeviceInfoPreferredVectorWidthInt:    constInfo("CL_DEVICE_PREFERRED_VECTOR_WIDTH_INT", uintInfo(4)),
	DeviceInfoPreferredVectorWidthLong:   constInfo("CL_DEVICE_PREFERRED_VECTOR_WIDTH_LONG", uintInfo(2)),
	DeviceInfoPreferredVectorWidthFloat:  constInfo("CL_DEVICE_PREFERRED_VECTOR_WIDTH_FLOAT", uintInfo(4)),
	DeviceInfoPreferredVectorWidthDouble: constInfo("CL_DEVICE_PREFERRED_VECTOR_WIDTH_DOUBLE", uintInfo(2)),
	DeviceInfoPreferredVectorWidthHalf:   constInfo("CL_DEVICE_PREFERRED_VECTOR_WIDTH_HALF", uintInfo(0)), // No cl_khr_fp16.
	DeviceInfoNativeVectorWidthChar:      constInfo("CL_DEVICE_NATIVE_VECTOR_WIDTH_CHAR", uintInfo(16)),
	DeviceInfoNativeVectorWidthShort:     constInfo("CL_DEVICE_NATIVE_VECTOR_WIDTH_SHORT", uintInfo(8)),
	DeviceInfoNativeVectorWidthInt:       constInfo("CL_DEVICE_NATIVE_VECTOR_WIDTH_INT", uintInfo(4)),
	DeviceInfoNativeVectorWidthLong:      constInfo("CL_DEVICE_NATIVE_VECTOR_WIDTH_LONG", uintInfo(2)),
	DeviceInfoNativeVectorWidthFloat:     constInfo("CL_DEVICE_NATIVE_VECTOR_WIDTH_FLOAT", uintInfo(4)),
	DeviceInfoNativeVectorWidthDouble:    constInfo("CL_DEVICE_NATIVE_VECTOR_WIDTH_DOUBLE", uintInfo(2)),
	DeviceInfoNativeVectorWidthHalf:      constInfo("CL_DEVICE_NATIVE_VECTOR_WIDTH_HALF", uintInfo(0)),
	DeviceInfoMaxClockFrequency: {"CL_DEVICE_MAX_CLOCK_FREQUENCY", func(_ *Device, p executive.Properties) infoValue {
		return uintInfo(p.ClockRate)
	}},
	DeviceInfoAddressBits: constInfo("CL_DEVICE_ADDRESS_BITS", uintInfo(64)),
	DeviceInfoMaxMemAllocSize: {"CL_DEVICE_MAX_MEM_ALLOC_SIZE", func(_ *Device, p executive.Properties) infoValue {
		return ulongInfo(p.TotalMemory)
	}},
	DeviceInfoGlobalMemSize: {"CL_DEVICE_GLOBAL_MEM_SIZE", func(_ *Device, p executive.Properties) infoValue {
		return ulongInfo(p.TotalMemory)
	}},
	DeviceInfoImageSupport:       constInfo("CL_DEVICE_IMAGE_SUPPORT", boolInfo(true)),
	DeviceInfoMaxReadImageArgs:   constInfo("CL_DEVICE_MAX_READ_IMAGE_ARGS", uintInfo(128)),
	DeviceInfoMaxWriteImageArgs:  constInfo("CL_DEVICE_MAX_WRITE_IMAGE_ARGS", uintInfo(8)),
	DeviceInfoImage2DMaxWidth:    constInfo("CL_DEVICE_IMAGE2D_MAX_WIDTH", sizeInfo(8192)),
	DeviceInfoImage2DMaxHeight:   constInfo("CL_DEVICE_IMAGE2D_MAX_HEIGHT", sizeInfo(8192)),
	DeviceInfoImage3DMaxWidth:    constInfo("CL_DEVICE_IMAGE3D_MAX_WIDTH", sizeInfo(2048)),
	DeviceInfoImage3DMaxHeight:   constInfo("CL_DEVICE_IMAGE3D_MAX_HEIGHT", sizeInfo(2048)),
	DeviceInfoImage3DMaxDepth:    constInfo("CL_DEVICE_IMAGE3D_MAX_DEPTH", sizeInfo(2048)),
	DeviceInfoImageMaxBufferSize: constInfo("CL_DEVICE_IMAGE_MAX_BUFFER_SIZE", sizeInfo(65536)),
	DeviceInfoImageMaxArraySize:  constInfo("CL_DEVICE_IMAGE_MAX_ARRAY_SIZE", sizeInfo(2048)),
	DeviceInfoMaxSamplers:        constInfo("CL_DEVICE_MAX_SAMPLERS", uintInfo(16)),
	DeviceInfoMaxParameterSize:   constInfo("CL_DEVICE_MAX_PARAMETER_SIZE", sizeInfo(1024)),
	// In bits: the size of a long16.
	DeviceInfoMemBaseAddrAlign: constInfo("CL_DEVICE_MEM_BASE_ADDR_ALIGN", uintInfo(16*8)),
	DeviceInfoSingleFPConfig: constInfo("CL_DEVICE_SINGLE_FP_CONFIG", ulongInfo(fpDenorm|fpInfNaN|fpRoundToNearest|
		fpRoundToZero|fpRoundToInf|fpFMA|fpCorrectlyRoundedDivideSqrt|fpSoftFloat)),
	DeviceInfoDoubleFPConfig: constInfo("CL_DEVICE_DOUBLE_FP_CONFIG", ulongInfo(fpFMA|fpRoundToNearest|
		fpRoundToZero|fpRoundToInf|fpInfNaN|fpDenorm)),
	DeviceInfoGlobalMemCacheType:     constInfo("CL_DEVICE_GLOBAL_MEM_CACHE_TYPE", uintInfo(readWriteCache)),
	DeviceInfoGlobalMemCachelineSize: constInfo("CL_DEVICE_GLOBAL_MEM_CACHELINE_SIZE", uintInfo(0)),
	DeviceInfoGlobalMemCacheSize:     constInfo("CL_DEVICE_GLOBAL_MEM_CACHE_SIZE", ulongInfo(0)),
	DeviceInfoMaxConstantBufferSize: {"CL_DEVICE_MAX_CONSTANT_BUFFER_SIZE", func(_ *Device, p executive.Properties) infoValue {
		return ulongInfo(p.TotalConstantMemory)
	}},
	DeviceInfoMaxConstantArgs: {"CL_DEVICE_MAX_CONSTANT_ARGS", func(_ *Device, p executive.Properties) infoValue {
		return uintInfo(uint32(p.TotalConstantMemory / 16))
	}},
	DeviceInfoLocalMemType: constInfo("CL_DEVICE_LOCAL_MEM_TYPE", uintInfo(localMemGlobal)),
	DeviceInfoLocalMemSize: {"CL_DEVICE_LOCAL_MEM_SIZE", func(_ *Device, p executive.Properties) infoValue {
		return ulongInfo(p.TotalMemory)
	}},
	DeviceInfoErrorCorrectionSupport: constInfo("CL_DEVICE_ERROR_CORRECTION_SUPPORT", boolInfo(false)),
	DeviceInfoHostUnifiedMemory: {"CL_DEVICE_HOST_UNIFIED_MEMORY", func(_ *Device, p executive.Properties) infoValue {
		return boolInfo(p.UnifiedAddressing)
	}},
	DeviceInfoProfilingTimerResolution: constInfo("CL_DEVICE_PROFILING_TIMER_RESOLUTION", sizeInfo(1000)),
	DeviceInfoEndianLittle:             constInfo("CL_DEVICE_ENDIAN_LITTLE", boolInfo(true)),
	DeviceInfoAvailable:                constInfo("CL_DEVICE_AVAILABLE", boolInfo(true)),
	DeviceInfoCompilerAvailable:        constInfo("CL_DEVICE_COMPILER_AVAILABLE", boolInfo(true)),
	DeviceInfoLinkerAvailable:          constInfo("CL_DEVICE_LINKER_AVAILABLE", boolInfo(true)),
	DeviceInfoExecutionCapabilities: constInfo("CL_DEVICE_EXECUTION_CAPABILITIES",
		ulongInfo(execKernel|execNativeKernel)),
	DeviceInfoQueueProperties: constInfo("CL_DEVICE_QUEUE_PROPERTIES", ulongInfo(queueProfilingEnable)),
	DeviceInfoBuiltInKernels: {"CL_DEVICE_BUILT_IN_KERNELS", func(d *Device, _ executive.Properties) infoValue {
		return stringInfo(d.builtinKernels)
	}},
	DeviceInfoPlatform: {"CL_DEVICE_PLATFORM", func(d *Device, _ executive.Properties) infoValue {
		return handleInfo(d.platform.ID())
	}},
	DeviceInfoName: {"CL_DEVICE_NAME", func(_ *Device, p executive.Properties) infoValue {
		return stringInfo(p.Name)
	}},
	DeviceInfoVendor: {"CL_DEVICE_VENDOR", func(d *Device, _ executive.Properties) infoValue {
		return stringInfo(d.vendor)
	}},
	DeviceInfoDriverVersion:  constInfo("CL_DRIVER_VERSION", stringInfo(driverVersion)),
	DeviceInfoProfile:        constInfo("CL_DEVICE_PROFILE", stringInfo(deviceProfile)),
	DeviceInfoVersion:        constInfo("CL_DEVICE_VERSION", stringInfo(deviceVersion)),
	DeviceInfoOpenCLCVersion: constInfo("CL_DEVICE_OPENCL_C_VERSION", stringInfo(openCLCVersion)),
	DeviceInfoExtensions:     constInfo("CL_DEVICE_EXTENSIONS", stringInfo(deviceExtensions)),
	DeviceInfoPrintfBufferSize: {"CL_DEVICE_PRINTF_BUFFER_SIZE", func(_ *Device, p executive.Properties) infoValue {
		return sizeInfo(p.PrintfFIFOSize)
	}},
	DeviceInfoPreferredInteropUserSync: constInfo("CL_DEVICE_PREFERRED_INTEROP_USER_SYNC", boolInfo(true)),
	DeviceInfoParentDevice: {"CL_DEVICE_PARENT_DEVICE", func(d *Device, _ executive.Properties) infoValue {
		if d.parent == nil {
			return handleInfo(0)
		}
		return handleInfo(d.parent.Handle())
	}},
	DeviceInfoPartitionMaxSubDevices: constInfo("CL_DEVICE_PARTITION_MAX_SUB_DEVICES", uintInfo(maxSubDevices)),
	DeviceInfoPartitionProperties: constInfo("CL_DEVICE_PARTITION_PROPERTIES",
		infoValue{typ: infoLongs, list: []uint64{uint64(PartitionEqually)}}),
	DeviceInfoPartitionAffinityDomain: constInfo("CL_DEVICE_PARTITION_AFFINITY_DOMAIN", ulongInfo(0)),
	DeviceInfoPartitionType: {"CL_DEVICE_PARTITION_TYPE", func(d *Device, _ executive.Properties) infoValue {
		v := infoValue{typ: infoLongs, list: make([]uint64, len(d.partition))}
		for ii, p := range d.partition {
			v.list[ii] = uint64(p)
		}
		return v
	}},
	DeviceInfoReferenceCount: {"CL_DEVICE_REFERENCE_COUNT", func(d *Device, _ executive.Properties) infoValue {
		return uintInfo(uint32(d.ref.Count()))
	}},
}

// String implements fmt.Stringer.
func (param DeviceInfo) String() string {
	if entry, found := deviceInfoTable[param]; found {
		return entry.name
	}
	return fmt.Sprintf("DeviceInfo(0x%x)", uint32(param))
}

// DeviceInfoParams returns all supported parameters, sorted by value.
func DeviceInfoParams() []DeviceInfo {
	params := make([]DeviceInfo, 0, len(deviceInfoTable))
	for param := range deviceInfoTable {
		params = append(params, param)
	}
	sort.Slice(params, func(i, j int) bool { return params[i] < params[j] })
	return params
}

// ParseDeviceInfo returns the parameter with the given name, e.g. "CL_DEVICE_NAME". The "CL_DEVICE_" prefix may
// be omitted and case is ignored.
func ParseDeviceInfo(name string) (DeviceInfo, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for param, entry := range deviceInfoTable {
		if entry.name == name || entry.name == "CL_DEVICE_"+name || entry.name == "CL_"+name {
			return param, nil
		}
	}
	return 0, errors.Errorf("unknown device info parameter %q", name)
}

func (d *Device) infoValue(param DeviceInfo) (infoValue, error) {
	entry, found := deviceInfoTable[param]
	if !found {
		return infoValue{}, NewError(Unimplemented, "device info %s unimplemented", param)
	}
	return entry.value(d, d.backend.Properties()), nil
}

// GetInfo answers a device info query. It returns the size in bytes of the answer.
//
// If value is nil, only the size is returned. Otherwise, if value is smaller than the answer, it fails with
// InvalidValue and value is left untouched; if it is large enough, exactly the answer's size is copied into it.
// Unsupported parameters fail with Unimplemented.
func (d *Device) GetInfo(param DeviceInfo, value []byte) (int, error) {
	v, err := d.infoValue(param)
	if err != nil {
		return 0, err
	}
	size := v.Len()
	if value != nil {
		if len(value) < size {
			return 0, NewError(InvalidValue, "buffer of %d bytes too small for %s, which requires %d bytes",
				len(value), param, size)
		}
		copy(value, v.Encode())
	}
	return size, nil
}

// GetInfoString returns the value of a string parameter, without the NUL terminator.
func (d *Device) GetInfoString(param DeviceInfo) (string, error) {
	v, err := d.infoValue(param)
	if err != nil {
		return "", err
	}
	if v.typ != infoString {
		return "", NewError(InvalidValue, "device info %s is not a string", param)
	}
	return v.s, nil
}

// InfoStruct returns all supported info parameters, keyed by name, as a protobuf Struct.
func (d *Device) InfoStruct() (*structpb.Struct, error) {
	props := d.backend.Properties()
	fields := make(map[string]any, len(deviceInfoTable))
	for _, entry := range deviceInfoTable {
		fields[entry.name] = entry.value(d, props).asAny()
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to convert info of %s", d)
	}
	return s, nil
}
