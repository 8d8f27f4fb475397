//go:build ucx

package ucx

/*
#cgo LDFLAGS: -lucp -lucs
#include "bridge.h"
*/
import "C"

import (
    "runtime"
    "runtime/cgo"
    "sync/atomic"
    "unsafe"

    "go.uber.org/zap"

    "ucxp2p/pkg/native"
    "ucxp2p/pkg/observability"
)

// Provider implements native.Provider over libucp.
type Provider struct {
    log *zap.Logger
}

// New returns the libucp provider.
func New(opts ...Option) (*Provider, error) {
    var o options
    for _, opt := range opts { opt(&o) }
    return &Provider{log: observability.Or(o.log).Named("ucx")}, nil
}

func (p *Provider) Name() string { return "ucx" }

// ReadConfig validates prefix and overrides against libucp and returns them.
// Init reads the configuration again, so nothing native is kept here.
func (p *Provider) ReadConfig(prefix string, overrides map[string]string) (native.Config, native.Status) {
    cfg, st := readConfig(prefix, overrides)
    if st != native.StatusOK { return native.Config{}, st }
    C.ucp_config_release(cfg)
    opts := make(map[string]string, len(overrides))
    for k, v := range overrides { opts[k] = v }
    return native.Config{Prefix: prefix, Options: opts}, native.StatusOK
}

func readConfig(prefix string, overrides map[string]string) (*C.ucp_config_t, native.Status) {
    cprefix := C.CString(prefix)
    defer C.free(unsafe.Pointer(cprefix))
    var cfg *C.ucp_config_t
    if st := native.Status(C.ucp_config_read(cprefix, nil, &cfg)); st != native.StatusOK {
        return nil, st
    }
    for k, v := range overrides {
        ck, cv := C.CString(k), C.CString(v)
        st := native.Status(C.ucp_config_modify(cfg, ck, cv))
        C.free(unsafe.Pointer(ck))
        C.free(unsafe.Pointer(cv))
        if st != native.StatusOK {
            C.ucp_config_release(cfg)
            return nil, st
        }
    }
    return cfg, native.StatusOK
}

func (p *Provider) Init(params native.Params, cfg native.Config) (native.Context, native.Status) {
    if params.Features&native.FeatureTag == 0 { return nil, native.StatusErrUnsupported }
    ccfg, st := readConfig(cfg.Prefix, cfg.Options)
    if st != native.StatusOK { return nil, st }
    defer C.ucp_config_release(ccfg)

    name := C.CString(params.Name)
    defer C.free(unsafe.Pointer(name))
    shared := C.int(0)
    if params.MTWorkersShared { shared = 1 }
    var h C.ucp_context_h
    st = native.Status(C.ucxp2p_init(ccfg, name, C.uint64_t(params.TagSenderMask), shared, C.size_t(params.EstimatedEndpoints), &h))
    if st != native.StatusOK { return nil, st }
    p.log.Debug("ucp context initialized", zap.String("prefix", cfg.Prefix))
    return &ucxContext{h: h, log: p.log}, native.StatusOK
}

type ucxContext struct {
    h   C.ucp_context_h
    log *zap.Logger
}

func (c *ucxContext) NewWorker(wp native.WorkerParams) (native.Worker, native.Status) {
    name := C.CString(wp.Name)
    defer C.free(unsafe.Pointer(name))
    var h C.ucp_worker_h
    if st := native.Status(C.ucxp2p_worker_create(c.h, threadMode(wp.ThreadMode), name, &h)); st != native.StatusOK {
        return nil, st
    }
    return &ucxWorker{h: h}, native.StatusOK
}

func (c *ucxContext) Cleanup() { C.ucp_cleanup(c.h) }

type ucxWorker struct {
    h C.ucp_worker_h
}

func (w *ucxWorker) Address() ([]byte, native.Status) {
    var addr *C.ucp_address_t
    var n C.size_t
    if st := native.Status(C.ucp_worker_get_address(w.h, &addr, &n)); st != native.StatusOK {
        return nil, st
    }
    defer C.ucp_worker_release_address(w.h, addr)
    return C.GoBytes(unsafe.Pointer(addr), C.int(n)), native.StatusOK
}

func (w *ucxWorker) NewEndpoint(p native.EndpointParams) (native.Endpoint, native.Status) {
    if len(p.RemoteAddress) == 0 { return nil, native.StatusErrInvalidAddr }
    addr := C.CBytes(p.RemoteAddress)
    defer C.free(addr)
    var h C.ucp_ep_h
    if st := native.Status(C.ucxp2p_ep_create(w.h, addr, &h)); st != native.StatusOK {
        return nil, st
    }
    return &ucxEndpoint{h: h}, native.StatusOK
}

func (w *ucxWorker) TagRecv(buf []byte, tag, mask uint64, p *native.RequestParam) (native.Request, native.Status) {
    op, ptr, size, mt := prepare(buf, p)
    r := C.ucxp2p_tag_recv(w.h, ptr, size, C.ucp_tag_t(tag), C.ucp_tag_t(mask), mt, C.uintptr_t(op.handle))
    return op.classify(r)
}

func (w *ucxWorker) Progress() int { return int(C.ucp_worker_progress(w.h)) }

func (w *ucxWorker) Destroy() { C.ucp_worker_destroy(w.h) }

type ucxEndpoint struct {
    h C.ucp_ep_h
}

func (e *ucxEndpoint) TagSend(buf []byte, tag uint64, p *native.RequestParam) (native.Request, native.Status) {
    op, ptr, size, mt := prepare(buf, p)
    r := C.ucxp2p_tag_send(e.h, ptr, size, C.ucp_tag_t(tag), mt, C.uintptr_t(op.handle))
    return op.classify(r)
}

func (e *ucxEndpoint) Close(mode native.CloseMode) (native.Request, native.Status) {
    force := C.int(0)
    if mode == native.CloseForce { force = 1 }
    r := C.ucxp2p_ep_close(e.h, force)
    st := native.Status(C.ucxp2p_ptr_status(r))
    if st != native.StatusInProgress { return nil, st }
    return &ucxRequest{ptr: r}, st
}

// operation is the Go side of one tag send or receive. The buffer stays
// pinned and the handle alive until the native callback fires, or until
// the submission returns when it finished or failed at once.
type operation struct {
    cb     native.Callback
    pin    runtime.Pinner
    handle cgo.Handle
    own    ownership
}

func prepare(buf []byte, p *native.RequestParam) (*operation, unsafe.Pointer, C.size_t, C.ucs_memory_type_t) {
    op := &operation{}
    mt := native.MemoryTypeHost
    size := len(buf)
    if p != nil {
        op.cb, mt = p.Callback, p.MemoryType
        if p.Datatype.Size > 0 && p.Datatype.Size < size { size = p.Datatype.Size }
    }
    var ptr unsafe.Pointer
    if size > 0 {
        op.pin.Pin(&buf[0])
        ptr = unsafe.Pointer(&buf[0])
    }
    op.handle = cgo.NewHandle(op)
    return op, ptr, C.size_t(size), memoryType(mt)
}

func (op *operation) release() {
    op.pin.Unpin()
    op.handle.Delete()
}

func (op *operation) classify(r unsafe.Pointer) (native.Request, native.Status) {
    st := native.Status(C.ucxp2p_ptr_status(r))
    if st != native.StatusInProgress {
        op.release()
        return nil, st
    }
    return &ucxRequest{ptr: r, op: op}, st
}

// finish runs inside a libucp callback. A request its owner already freed is
// returned to libucp here, without calling the user callback.
func (op *operation) finish(req unsafe.Pointer, st native.Status, info *native.TagRecvInfo) {
    op.release()
    if op.own.complete() {
        C.ucp_request_free(req)
        return
    }
    if op.cb != nil { op.cb(st, info) }
}

//export goSendComplete
func goSendComplete(handle C.uintptr_t, req unsafe.Pointer, status C.ucs_status_t) {
    op := cgo.Handle(handle).Value().(*operation)
    op.finish(req, native.Status(status), nil)
}

//export goRecvComplete
func goRecvComplete(handle C.uintptr_t, req unsafe.Pointer, status C.ucs_status_t, senderTag C.ucp_tag_t, length C.size_t) {
    op := cgo.Handle(handle).Value().(*operation)
    op.finish(req, native.Status(status), &native.TagRecvInfo{SenderTag: uint64(senderTag), Length: int(length)})
}

type ucxRequest struct {
    ptr   unsafe.Pointer
    op    *operation
    freed atomic.Bool
}

func (r *ucxRequest) Status() native.Status {
    return native.Status(C.ucp_request_check_status(r.ptr))
}

// Free returns the request to libucp. A pending tag request is returned by
// its completion callback, which then skips the user callback.
func (r *ucxRequest) Free() {
    if !r.freed.CompareAndSwap(false, true) { return }
    if r.op != nil && !r.op.own.free() { return }
    C.ucp_request_free(r.ptr)
}

func threadMode(m native.ThreadMode) C.ucs_thread_mode_t {
    switch m {
    case native.ThreadModeSingle:
        return C.UCS_THREAD_MODE_SINGLE
    case native.ThreadModeSerialized:
        return C.UCS_THREAD_MODE_SERIALIZED
    default:
        return C.UCS_THREAD_MODE_MULTI
    }
}

func memoryType(m native.MemoryType) C.ucs_memory_type_t {
    switch m {
    case native.MemoryTypeHost:
        return C.UCS_MEMORY_TYPE_HOST
    case native.MemoryTypeCUDA:
        return C.UCS_MEMORY_TYPE_CUDA
    case native.MemoryTypeCUDAManaged:
        return C.UCS_MEMORY_TYPE_CUDA_MANAGED
    case native.MemoryTypeROCm:
        return C.UCS_MEMORY_TYPE_ROCM
    case native.MemoryTypeROCmManaged:
        return C.UCS_MEMORY_TYPE_ROCM_MANAGED
    default:
        return C.UCS_MEMORY_TYPE_UNKNOWN
    }
}
