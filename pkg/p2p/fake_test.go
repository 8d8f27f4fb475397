package p2p

import (
    "sync/atomic"

    "ucxp2p/pkg/native"
)

// fakeProvider lets tests script native outcomes that a real transport
// cannot produce on demand.
type fakeProvider struct {
    submitStatus native.Status
    submitReq    native.Request
    closeStatus  native.Status
    closeReq     *fakeRequest

    progressed atomic.Int64
    destroyed  atomic.Int64
    cleanups   atomic.Int64
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) ReadConfig(prefix string, overrides map[string]string) (native.Config, native.Status) {
    return native.Config{Prefix: prefix, Options: overrides}, native.StatusOK
}

func (p *fakeProvider) Init(native.Params, native.Config) (native.Context, native.Status) {
    return fakeContext{p}, native.StatusOK
}

type fakeContext struct{ p *fakeProvider }

func (c fakeContext) NewWorker(native.WorkerParams) (native.Worker, native.Status) {
    return fakeWorker{c.p}, native.StatusOK
}

func (c fakeContext) Cleanup() { c.p.cleanups.Add(1) }

type fakeWorker struct{ p *fakeProvider }

func (w fakeWorker) Address() ([]byte, native.Status) { return []byte("fake-address"), native.StatusOK }

func (w fakeWorker) NewEndpoint(ep native.EndpointParams) (native.Endpoint, native.Status) {
    if len(ep.RemoteAddress) == 0 { return nil, native.StatusErrInvalidAddr }
    return fakeEndpoint{w.p}, native.StatusOK
}

func (w fakeWorker) TagRecv([]byte, uint64, uint64, *native.RequestParam) (native.Request, native.Status) {
    return w.p.submitReq, w.p.submitStatus
}

func (w fakeWorker) Progress() int { w.p.progressed.Add(1); return 0 }

func (w fakeWorker) Destroy() { w.p.destroyed.Add(1) }

type fakeEndpoint struct{ p *fakeProvider }

func (e fakeEndpoint) TagSend([]byte, uint64, *native.RequestParam) (native.Request, native.Status) {
    return e.p.submitReq, e.p.submitStatus
}

func (e fakeEndpoint) Close(native.CloseMode) (native.Request, native.Status) {
    if e.p.closeReq == nil { return nil, e.p.closeStatus }
    return e.p.closeReq, e.p.closeStatus
}

type fakeRequest struct {
    status atomic.Int32
    freed  atomic.Int32
}

func newFakeRequest() *fakeRequest {
    r := &fakeRequest{}
    r.status.Store(int32(native.StatusInProgress))
    return r
}

func (r *fakeRequest) Status() native.Status { return native.Status(r.status.Load()) }
func (r *fakeRequest) Free()                 { r.freed.Add(1) }
