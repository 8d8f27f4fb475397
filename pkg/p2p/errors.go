package p2p

import (
    "errors"
    "fmt"

    "ucxp2p/pkg/native"
)

var (
    ErrContextClosed   = errors.New("p2p: transport context closed")
    ErrContextInUse    = errors.New("p2p: transport context still has workers")
    ErrWorkerClosed    = errors.New("p2p: worker closed")
    ErrEndpointClosed  = errors.New("p2p: endpoint closed")
    ErrUnknownProvider = errors.New("p2p: unknown native provider")
)

// TransportError reports a non-success native status from operation Op.
// It unwraps to the status, so errors.Is(err, native.StatusErrX.Err()) works.
type TransportError struct {
    Op     string
    Status native.Status
}

func (e *TransportError) Error() string { return fmt.Sprintf("p2p: %s: %s", e.Op, e.Status) }

func (e *TransportError) Unwrap() error { return e.Status.Err() }

func transportError(op string, st native.Status) error {
    if !st.IsErr() {
        // a success code where a handle was required
        st = native.StatusErrIOError
    }
    return &TransportError{Op: op, Status: st}
}
