package sim

import (
    "sync/atomic"

    "ucxp2p/pkg/native"
)

// request is a pending send, receive or close. Its status changes only inside
// Worker.Progress, right before the callback runs.
type request struct {
    status atomic.Int32
    freed  atomic.Bool
    cb     native.Callback

    // receive side
    buf       []byte
    tag, mask uint64
}

func newRequest(cb native.Callback) *request {
    r := &request{cb: cb}
    r.status.Store(int32(native.StatusInProgress))
    return r
}

func (r *request) Status() native.Status { return native.Status(r.status.Load()) }

func (r *request) Free() { r.freed.Store(true) }

func (r *request) finish(st native.Status, info *native.TagRecvInfo) {
    r.status.Store(int32(st))
    if r.cb != nil && !r.freed.Load() { r.cb(st, info) }
}

// event is a completion waiting for the next Progress call.
type event struct {
    req    *request
    status native.Status
    info   *native.TagRecvInfo
    ep     *endpoint // set for sends, which hold their endpoint open until delivered
}
