package native

import (
    "errors"
    "fmt"
    "testing"
)

func TestStatusErr(t *testing.T) {
    if StatusOK.Err() != nil { t.Fatalf("OK must not be an error") }
    if StatusInProgress.Err() != nil { t.Fatalf("InProgress must not be an error") }

    err := fmt.Errorf("tag_recv: %w", StatusErrMessageTruncated.Err())
    if !errors.Is(err, StatusErrMessageTruncated.Err()) {
        t.Fatalf("errors.Is failed through wrapping: %v", err)
    }
    if errors.Is(err, StatusErrIOError.Err()) {
        t.Fatalf("unexpected match against a different status")
    }
    if got := StatusOf(err); got != StatusErrMessageTruncated {
        t.Fatalf("StatusOf = %v", got)
    }
    if got := StatusOf(errors.New("plain")); got != StatusErrIOError {
        t.Fatalf("StatusOf(plain) = %v", got)
    }
}

func TestStatusString(t *testing.T) {
    if StatusErrUnreachable.String() != "Destination is unreachable" {
        t.Fatalf("string = %q", StatusErrUnreachable.String())
    }
    if Status(-99).String() != "Unknown error -99" {
        t.Fatalf("string = %q", Status(-99).String())
    }
}

func TestParseMemoryType(t *testing.T) {
    for _, m := range []MemoryType{MemoryTypeHost, MemoryTypeCUDA, MemoryTypeCUDAManaged, MemoryTypeROCm, MemoryTypeROCmManaged, MemoryTypeUnknown} {
        got, err := ParseMemoryType(m.String())
        if err != nil || got != m { t.Fatalf("parse %q = %v, %v", m.String(), got, err) }
    }
    if _, err := ParseMemoryType("tpu"); err == nil { t.Fatalf("expected error") }
}

// Values must match ucs_status_t; the ucx provider converts C statuses by cast.
func TestStatusValues(t *testing.T) {
    want := []struct {
        s Status
        v int8
    }{
        {StatusOK, 0},
        {StatusInProgress, 1},
        {StatusErrNoMessage, -1},
        {StatusErrNoResource, -2},
        {StatusErrIOError, -3},
        {StatusErrNoMemory, -4},
        {StatusErrInvalidParam, -5},
        {StatusErrUnreachable, -6},
        {StatusErrInvalidAddr, -7},
        {StatusErrNotImplemented, -8},
        {StatusErrMessageTruncated, -9},
        {StatusErrNoProgress, -10},
        {StatusErrBufferTooSmall, -11},
        {StatusErrNoElem, -12},
        {StatusErrSomeConnectsFailed, -13},
        {StatusErrNoDevice, -14},
        {StatusErrBusy, -15},
        {StatusErrCanceled, -16},
        {StatusErrShmemSegment, -17},
        {StatusErrAlreadyExists, -18},
        {StatusErrOutOfRange, -19},
        {StatusErrTimedOut, -20},
        {StatusErrExceedsLimit, -21},
        {StatusErrUnsupported, -22},
        {StatusErrRejected, -23},
        {StatusErrNotConnected, -24},
        {StatusErrConnectionReset, -25},
    }
    for _, w := range want {
        if int8(w.s) != w.v { t.Fatalf("%s = %d, want %d", w.s, int8(w.s), w.v) }
    }
    if got := Status(-9); got != StatusErrMessageTruncated || got.String() != "Message truncated" {
        t.Fatalf("Status(-9) = %v", got)
    }
}
