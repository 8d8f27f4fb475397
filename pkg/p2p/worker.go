package p2p

import (
    "context"
    "errors"
    "runtime"
    "sync/atomic"

    "github.com/google/uuid"
    "go.uber.org/zap"

    "ucxp2p/pkg/native"
)

// Worker is a progress engine with its own address. It is shared: the
// creator, every Endpoint connected through it and every pending Request
// hold a reference, and the native worker is destroyed when the last one is
// dropped. Submissions are safe from any goroutine; Progress should be
// driven from one goroutine at a time.
type Worker struct {
    ctx    *TransportContext
    native native.Worker
    name   string
    log    *zap.Logger

    refs   atomic.Int64
    closed atomic.Bool
}

// NewWorker creates a worker in multi-threaded mode.
func (c *TransportContext) NewWorker() (*Worker, error) {
    name := uuid.NewString()
    c.mu.Lock()
    if c.closed {
        c.mu.Unlock()
        return nil, ErrContextClosed
    }
    nw, st := c.native.NewWorker(native.WorkerParams{ThreadMode: native.ThreadModeMulti, Name: name})
    if st != native.StatusOK {
        c.mu.Unlock()
        return nil, transportError("worker_create", st)
    }
    c.workers++
    c.mu.Unlock()

    w := &Worker{ctx: c, native: nw, name: name, log: c.log.With(zap.String("worker", name))}
    w.refs.Store(1)
    w.log.Debug("worker created")
    return w, nil
}

func (w *Worker) retain() bool {
    for {
        n := w.refs.Load()
        if n <= 0 { return false }
        if w.refs.CompareAndSwap(n, n+1) { return true }
    }
}

func (w *Worker) release() {
    if w.refs.Add(-1) != 0 { return }
    w.native.Destroy()
    w.ctx.workerGone()
    w.log.Debug("worker destroyed")
}

// Close drops the creator's reference. The native worker lives on until the
// last Endpoint is closed and the last pending Request is freed. Close is
// idempotent.
func (w *Worker) Close() error {
    if !w.closed.CompareAndSwap(false, true) { return nil }
    w.release()
    return nil
}

// Address returns an owned copy of the worker's address, to be shipped to
// peers by some out-of-band exchange.
func (w *Worker) Address() ([]byte, error) {
    if w.closed.Load() || !w.retain() { return nil, ErrWorkerClosed }
    defer w.release()
    b, st := w.native.Address()
    if st != native.StatusOK { return nil, transportError("worker_address", st) }
    return b, nil
}

// Connect builds an Endpoint to the worker at addr.
func (w *Worker) Connect(addr []byte) (*Endpoint, error) {
    if w.closed.Load() { return nil, ErrWorkerClosed }
    return newEndpoint(w, addr)
}

// RecvWithTag posts a receive of len(buf) bytes for exactly tag.
func (w *Worker) RecvWithTag(buf []byte, tag Tag, dev DeviceKind) (*Request, error) {
    return w.RecvWithTagMask(buf, tag, TagMaskFull, dev)
}

// RecvWithTagMask posts a receive matching every message whose tag equals
// tag on the bits set in mask.
func (w *Worker) RecvWithTagMask(buf []byte, tag Tag, mask uint64, dev DeviceKind) (*Request, error) {
    if w.closed.Load() { return nil, ErrWorkerClosed }
    return w.recv(buf, tag, mask, dev)
}

func (w *Worker) recv(buf []byte, tag Tag, mask uint64, dev DeviceKind) (*Request, error) {
    return w.submit("tag_recv", len(buf), dev, func(p *native.RequestParam) (native.Request, native.Status) {
        return w.native.TagRecv(buf, uint64(tag), mask, p)
    })
}

// Progress runs one native progress step and returns the number of events
// it processed.
func (w *Worker) Progress() int {
    if !w.retain() { return 0 }
    defer w.release()
    return w.native.Progress()
}

type submitFunc func(p *native.RequestParam) (native.Request, native.Status)

// submit runs one native operation and classifies its outcome: done at
// submission, pending (after one progress step), or failed. A failed
// submission is reported as an error and never as a pending Request.
func (w *Worker) submit(op string, size int, dev DeviceKind, fn submitFunc) (*Request, error) {
    if !w.retain() { return nil, ErrWorkerClosed }
    r := &Request{op: op, w: w, comp: newCompletion()}
    r.comp.size = size
    nreq, st := fn(&native.RequestParam{
        Callback:   r.comp.complete,
        Datatype:   native.Contig(size),
        MemoryType: dev.MemoryType(),
    })
    switch {
    case st == native.StatusOK:
        w.release()
        r.comp.complete(native.StatusOK, nil)
        return r, nil
    case st == native.StatusInProgress && nreq != nil:
        r.native = nreq
        runtime.SetFinalizer(r, (*Request).Free)
        w.Progress()
        return r, nil
    default:
        w.release()
        err := transportError(op, st)
        w.log.Debug("submission failed", zap.String("op", op), zap.Int("size", size), zap.Error(err))
        return nil, err
    }
}

// Wait drives progress until every request completes and returns their
// joined errors.
func (w *Worker) Wait(reqs ...*Request) error {
    return w.WaitContext(context.Background(), reqs...)
}

// WaitContext is Wait bounded by ctx.
func (w *Worker) WaitContext(ctx context.Context, reqs ...*Request) error {
    if err := BlockUntil(ctx, w, reqs...); err != nil { return err }
    errs := make([]error, 0, len(reqs))
    for _, r := range reqs {
        if r != nil { errs = append(errs, r.Err()) }
    }
    return errors.Join(errs...)
}
