package p2p

import (
    "context"
    "runtime"
    "sync"

    "go.uber.org/zap"

    "ucxp2p/pkg/native"
)

type endpointState int

const (
    endpointOpen endpointState = iota
    endpointClosing
    endpointClosed
)

// Endpoint is a connection from a Worker to one remote worker address. It
// keeps its Worker alive until closed. An Endpoint that becomes unreachable
// without Close is closed in the background and any error is logged.
type Endpoint struct {
    w      *Worker
    native native.Endpoint
    log    *zap.Logger

    mu       sync.RWMutex
    state    endpointState
    closeReq native.Request
}

func newEndpoint(w *Worker, addr []byte) (*Endpoint, error) {
    if !w.retain() { return nil, ErrWorkerClosed }
    nep, st := w.native.NewEndpoint(native.EndpointParams{RemoteAddress: append([]byte(nil), addr...)})
    if st != native.StatusOK {
        w.release()
        return nil, transportError("ep_create", st)
    }
    e := &Endpoint{w: w, native: nep, log: w.log}
    runtime.SetFinalizer(e, (*Endpoint).finalize)
    return e, nil
}

// SendWithTag sends len(buf) bytes tagged with tag.
func (e *Endpoint) SendWithTag(buf []byte, tag Tag, dev DeviceKind) (*Request, error) {
    e.mu.RLock()
    defer e.mu.RUnlock()
    if e.state != endpointOpen { return nil, ErrEndpointClosed }
    return e.w.submit("tag_send", len(buf), dev, func(p *native.RequestParam) (native.Request, native.Status) {
        return e.native.TagSend(buf, uint64(tag), p)
    })
}

// RecvWithTag posts a receive on the endpoint's worker. Receives are not
// bound to a connection; this is the same as Worker.RecvWithTag.
func (e *Endpoint) RecvWithTag(buf []byte, tag Tag, dev DeviceKind) (*Request, error) {
    e.mu.RLock()
    defer e.mu.RUnlock()
    if e.state != endpointOpen { return nil, ErrEndpointClosed }
    return e.w.recv(buf, tag, TagMaskFull, dev)
}

// Close flushes outstanding sends and releases the connection, driving the
// worker's progress until the native close finishes. It does not time out.
// If the native close fails at once, a warning is logged, the connection is
// abandoned and the error returned. Close is idempotent.
func (e *Endpoint) Close() error { return e.close(context.Background()) }

// CloseContext is Close bounded by ctx. When ctx ends first it returns
// ctx.Err() and the close stays outstanding; a later Close or CloseContext
// resumes it.
func (e *Endpoint) CloseContext(ctx context.Context) error { return e.close(ctx) }

func (e *Endpoint) close(ctx context.Context) error {
    e.mu.Lock()
    defer e.mu.Unlock()

    switch e.state {
    case endpointClosed:
        return nil
    case endpointOpen, endpointClosing:
        runtime.SetFinalizer(e, nil)
    }
    if e.state == endpointOpen {
        req, st := e.native.Close(native.CloseFlush)
        switch {
        case st == native.StatusOK:
            e.finish()
            return nil
        case st == native.StatusInProgress && req != nil:
            e.closeReq = req
            e.state = endpointClosing
        default:
            err := transportError("ep_close", st)
            e.log.Warn("endpoint close failed, connection resources will leak", zap.Error(err))
            e.finish()
            return err
        }
    }

    for e.closeReq.Status() == native.StatusInProgress {
        if err := ctx.Err(); err != nil {
            runtime.SetFinalizer(e, (*Endpoint).finalize)
            return err
        }
        if e.w.Progress() == 0 { runtime.Gosched() }
    }
    st := e.closeReq.Status()
    e.closeReq.Free()
    e.closeReq = nil
    e.finish()
    if st.IsErr() { return transportError("ep_close", st) }
    return nil
}

// finish must be called with e.mu held.
func (e *Endpoint) finish() {
    e.state = endpointClosed
    e.w.release()
}

func (e *Endpoint) finalize() {
    go func() {
        if err := e.Close(); err != nil {
            e.log.Warn("implicit endpoint close failed", zap.Error(err))
        }
    }()
}
