package ucx

import "sync"

// ownership decides which side hands a tag request back to libucp. A request
// freed while pending must outlive Free: libucp runs no callback after
// ucp_request_free, so the completion callback frees it instead.
type ownership struct {
    mu    sync.Mutex
    done  bool
    freed bool
}

// complete marks the request finished. It reports true when the owner freed
// the request first; the caller then frees it and skips the user callback.
func (o *ownership) complete() bool {
    o.mu.Lock()
    defer o.mu.Unlock()
    o.done = true
    return o.freed
}

// free marks the request released by its owner. It reports true when the
// request already completed and the caller must free it now. Repeated calls
// report false.
func (o *ownership) free() bool {
    o.mu.Lock()
    defer o.mu.Unlock()
    if o.freed { return false }
    o.freed = true
    return o.done
}
