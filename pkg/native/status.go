package native

import (
    "errors"
    "fmt"
)

// Status mirrors ucs_status_t. Zero is success, one is "still in progress",
// negative values are errors.
type Status int8

const (
    StatusOK         Status = 0
    StatusInProgress Status = 1

    StatusErrNoMessage          Status = -1
    StatusErrNoResource         Status = -2
    StatusErrIOError            Status = -3
    StatusErrNoMemory           Status = -4
    StatusErrInvalidParam       Status = -5
    StatusErrUnreachable        Status = -6
    StatusErrInvalidAddr        Status = -7
    StatusErrNotImplemented     Status = -8
    StatusErrMessageTruncated   Status = -9
    StatusErrNoProgress         Status = -10
    StatusErrBufferTooSmall     Status = -11
    StatusErrNoElem             Status = -12
    StatusErrSomeConnectsFailed Status = -13
    StatusErrNoDevice           Status = -14
    StatusErrBusy               Status = -15
    StatusErrCanceled           Status = -16
    StatusErrShmemSegment       Status = -17
    StatusErrAlreadyExists      Status = -18
    StatusErrOutOfRange         Status = -19
    StatusErrTimedOut           Status = -20
    StatusErrExceedsLimit       Status = -21
    StatusErrUnsupported        Status = -22
    StatusErrRejected           Status = -23
    StatusErrNotConnected       Status = -24
    StatusErrConnectionReset    Status = -25
)

var statusNames = map[Status]string{
    StatusOK:                    "Success",
    StatusInProgress:            "Operation in progress",
    StatusErrNoMessage:          "No pending message",
    StatusErrNoResource:         "No resources are available to initiate the operation",
    StatusErrIOError:            "Input/output error",
    StatusErrNoMemory:           "Out of memory",
    StatusErrInvalidParam:       "Invalid parameter",
    StatusErrUnreachable:        "Destination is unreachable",
    StatusErrInvalidAddr:        "Address not valid",
    StatusErrNotImplemented:     "Function not implemented",
    StatusErrMessageTruncated:   "Message truncated",
    StatusErrNoProgress:         "No progress",
    StatusErrBufferTooSmall:     "Provided buffer is too small",
    StatusErrNoElem:             "No such element",
    StatusErrSomeConnectsFailed: "Failed to connect some of the requested endpoints",
    StatusErrNoDevice:           "No such device",
    StatusErrBusy:               "Device is busy",
    StatusErrCanceled:           "Request canceled",
    StatusErrShmemSegment:       "Shared memory error",
    StatusErrAlreadyExists:      "Element already exists",
    StatusErrOutOfRange:         "Index out of range",
    StatusErrTimedOut:           "Operation timed out",
    StatusErrExceedsLimit:       "User-defined limit was reached",
    StatusErrUnsupported:        "Unsupported operation",
    StatusErrRejected:           "Operation rejected by remote peer",
    StatusErrNotConnected:       "Endpoint is not connected",
    StatusErrConnectionReset:    "Connection reset by remote peer",
}

func (s Status) String() string {
    if n, ok := statusNames[s]; ok { return n }
    return fmt.Sprintf("Unknown error %d", int(s))
}

// IsErr reports whether s is an error status.
func (s Status) IsErr() bool { return s < 0 }

// Err returns nil for StatusOK and StatusInProgress, a StatusError otherwise.
// StatusError values are comparable, so errors.Is(err, StatusErrX.Err()) works
// through any amount of wrapping.
func (s Status) Err() error {
    if !s.IsErr() { return nil }
    return StatusError{Status: s}
}

// StatusError carries a native error status as a Go error.
type StatusError struct {
    Status Status
}

func (e StatusError) Error() string { return e.Status.String() }

// StatusOf extracts the native status from err. It returns StatusOK for nil
// and StatusErrIOError for errors that do not carry a status.
func StatusOf(err error) Status {
    if err == nil { return StatusOK }
    var se StatusError
    if errors.As(err, &se) { return se.Status }
    return StatusErrIOError
}
