package opencl

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode returned by the host API. Values follow the OpenCL numbering where one exists.
type ErrorCode int32

const (
	Success                            ErrorCode = 0
	DeviceNotFound                     ErrorCode = -1
	MemObjectAllocationFailure         ErrorCode = -4
	OutOfResources                     ErrorCode = -5
	ExecStatusErrorForEventsInWaitList ErrorCode = -14
	InvalidValue                       ErrorCode = -30
	InvalidDeviceType                  ErrorCode = -31
	InvalidPlatform                    ErrorCode = -32
	InvalidDevice                      ErrorCode = -33
	InvalidContext                     ErrorCode = -34
	InvalidCommandQueue                ErrorCode = -36
	InvalidMemObject                   ErrorCode = -38
	InvalidKernel                      ErrorCode = -48
	InvalidArgIndex                    ErrorCode = -49
	InvalidKernelArgs                  ErrorCode = -52
	InvalidWorkDimension               ErrorCode = -53
	InvalidEventWaitList               ErrorCode = -57
	InvalidEvent                       ErrorCode = -58
	InvalidOperation                   ErrorCode = -59
	InvalidBufferSize                  ErrorCode = -61
	DevicePartitionFailed              ErrorCode = -18
	InvalidDevicePartitionCount        ErrorCode = -19

	// Unimplemented is returned for device info parameters that are not supported.
	Unimplemented ErrorCode = -1024

	// ProtocolViolation is returned when the virtual buffer evaluation protocol is misused.
	ProtocolViolation ErrorCode = -1025
)

var errorCodeNames = map[ErrorCode]string{
	Success:                            "CL_SUCCESS",
	DeviceNotFound:                     "CL_DEVICE_NOT_FOUND",
	MemObjectAllocationFailure:         "CL_MEM_OBJECT_ALLOCATION_FAILURE",
	OutOfResources:                     "CL_OUT_OF_RESOURCES",
	ExecStatusErrorForEventsInWaitList: "CL_EXEC_STATUS_ERROR_FOR_EVENTS_IN_WAIT_LIST",
	InvalidValue:                       "CL_INVALID_VALUE",
	InvalidDeviceType:                  "CL_INVALID_DEVICE_TYPE",
	InvalidPlatform:                    "CL_INVALID_PLATFORM",
	InvalidDevice:                      "CL_INVALID_DEVICE",
	InvalidContext:                     "CL_INVALID_CONTEXT",
	InvalidCommandQueue:                "CL_INVALID_COMMAND_QUEUE",
	InvalidMemObject:                   "CL_INVALID_MEM_OBJECT",
	InvalidKernel:                      "CL_INVALID_KERNEL",
	InvalidArgIndex:                    "CL_INVALID_ARG_INDEX",
	InvalidKernelArgs:                  "CL_INVALID_KERNEL_ARGS",
	InvalidWorkDimension:               "CL_INVALID_WORK_DIMENSION",
	InvalidEventWaitList:               "CL_INVALID_EVENT_WAIT_LIST",
	InvalidEvent:                       "CL_INVALID_EVENT",
	InvalidOperation:                   "CL_INVALID_OPERATION",
	InvalidBufferSize:                  "CL_INVALID_BUFFER_SIZE",
	DevicePartitionFailed:              "CL_DEVICE_PARTITION_FAILED",
	InvalidDevicePartitionCount:        "CL_INVALID_DEVICE_PARTITION_COUNT",
	Unimplemented:                      "CL_UNIMPLEMENTED",
	ProtocolViolation:                  "CL_PROTOCOL_VIOLATION",
}

// String implements fmt.Stringer.
func (c ErrorCode) String() string {
	if name, found := errorCodeNames[c]; found {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int32(c))
}

// Error is the error type returned for host API failures. It is usually wrapped (with a stack trace), so use
// CodeOf or errors.Is to inspect it:
//
//	if errors.Is(err, opencl.ErrDeviceNotFound) { ... }
type Error struct {
	Code    ErrorCode
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("OpenCL error %s (code=%d)", e.Code, int32(e.Code))
	}
	return fmt.Sprintf("OpenCL error %s (code=%d): %s", e.Code, int32(e.Code), e.Message)
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinel errors to be used with errors.Is.
var (
	ErrDeviceNotFound    = &Error{Code: DeviceNotFound}
	ErrInvalidValue      = &Error{Code: InvalidValue}
	ErrInvalidDeviceType = &Error{Code: InvalidDeviceType}
	ErrUnimplemented     = &Error{Code: Unimplemented}
	ErrProtocolViolation = &Error{Code: ProtocolViolation}
	ErrInvalidMemObject  = &Error{Code: InvalidMemObject}
	ErrInvalidOperation  = &Error{Code: InvalidOperation}
)

// NewError creates an *Error with the given code and formatted message, with a stack trace attached.
func NewError(code ErrorCode, format string, args ...any) error {
	return errors.WithStack(&Error{Code: code, Message: fmt.Sprintf(format, args...)})
}

// CodeOf returns the ErrorCode of err: Success for nil, OutOfResources for errors not created by
// this package (e.g. backend failures).
func CodeOf(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var clErr *Error
	if errors.As(err, &clErr) {
		return clErr.Code
	}
	return OutOfResources
}
