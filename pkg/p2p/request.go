package p2p

import (
    "sync"
    "sync/atomic"

    "ucxp2p/pkg/native"
)

// completion is the state a native callback writes into. It starts
// uncompleted and is set at most once.
type completion struct {
    done   atomic.Bool
    mu     sync.Mutex
    status native.Status
    length int
    size   int
    tag    uint64
}

func newCompletion() *completion { return &completion{} }

// complete has the native.Callback signature.
func (c *completion) complete(st native.Status, info *native.TagRecvInfo) {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.done.Load() { return }
    c.status = st
    c.length = c.size
    if info != nil { c.length, c.tag = info.Length, info.SenderTag }
    c.done.Store(true)
}

func (c *completion) result() (native.Status, int, uint64) {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.status, c.length, c.tag
}

// Request tracks one send or receive. Buffers handed to the submission must
// stay untouched until Completed reports true.
type Request struct {
    op     string
    w      *Worker
    comp   *completion
    native native.Request
    freed  atomic.Bool
}

// Completed reports whether the operation finished, successfully or not.
// Once true it stays true.
func (r *Request) Completed() bool { return r.comp.done.Load() }

// Err returns nil while the operation is pending or after it succeeded,
// and a *TransportError if it failed (e.g. a truncated receive).
func (r *Request) Err() error {
    if !r.Completed() { return nil }
    st, _, _ := r.comp.result()
    if st.IsErr() { return &TransportError{Op: r.op, Status: st} }
    return nil
}

// Length returns the number of bytes delivered by a completed receive, or
// the submitted size for a completed send. It is 0 while pending.
func (r *Request) Length() int {
    if !r.Completed() { return 0 }
    _, n, _ := r.comp.result()
    return n
}

// SenderTag returns the full tag of the message a completed receive
// matched, which matters for receives posted with a partial mask. It is 0
// for sends, for pending requests and for receives that completed at
// submission.
func (r *Request) SenderTag() Tag {
    if !r.Completed() { return 0 }
    _, _, tag := r.comp.result()
    return Tag(tag)
}

// Free releases the native handle and the worker reference held by a
// pending request. A request freed before completion still runs to its end,
// but Completed will not observe it. Free is idempotent.
func (r *Request) Free() {
    if r.native == nil || !r.freed.CompareAndSwap(false, true) { return }
    r.native.Free()
    r.w.release()
}
