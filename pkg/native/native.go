// Package native defines the Go shape of the RDMA-capable transport library
// that the p2p core drives: a context, progress-driving workers, endpoints
// and request handles, plus the status codes and parameter blocks passed
// between them.
//
// Two providers implement it:
//   - ucx: cgo binding to libucp (build tag `ucx`)
//   - sim: pure-Go implementation over ucxp2p/pkg/transport links
//
// Submission calls return (Request, Status) in the manner of
// ucs_status_ptr_t:
//   - (nil, StatusOK): the operation finished during the call; the callback
//     is not invoked
//   - (req, StatusInProgress): the operation is pending; the callback fires
//     from inside Worker.Progress once it resolves
//   - (nil, error status): the operation was not started
package native

// Feature selects optional capabilities requested at Init.
type Feature uint64

const (
    FeatureTag Feature = 1 << iota
    FeatureRMA
    FeatureStream
    FeatureAM
    FeatureWakeup
)

// ThreadMode controls the worker's thread-safety level.
type ThreadMode int

const (
    ThreadModeSingle ThreadMode = iota
    ThreadModeSerialized
    ThreadModeMulti
)

func (m ThreadMode) String() string {
    switch m {
    case ThreadModeSingle:
        return "single"
    case ThreadModeSerialized:
        return "serialized"
    case ThreadModeMulti:
        return "multi"
    default:
        return "unknown"
    }
}

// CloseMode selects how an endpoint is torn down.
type CloseMode int

const (
    // CloseFlush completes outstanding operations before releasing the link.
    CloseFlush CloseMode = iota
    // CloseForce cancels outstanding operations.
    CloseForce
)

// Datatype describes the element layout of a buffer. Only contiguous
// datatypes are used by this module.
type Datatype struct {
    Size int
}

// Contig returns a contiguous datatype of n bytes (ucp_dt_make_contig).
func Contig(n int) Datatype { return Datatype{Size: n} }

// TagRecvInfo describes a matched message.
type TagRecvInfo struct {
    SenderTag uint64
    Length    int
}

// Callback is invoked from Worker.Progress when a pending operation resolves.
// info is nil for send and close operations.
type Callback func(status Status, info *TagRecvInfo)

// RequestParam is the per-operation parameter block.
type RequestParam struct {
    Callback   Callback
    Datatype   Datatype
    MemoryType MemoryType
}

// Params are the context initialization parameters.
type Params struct {
    Features           Feature
    Name               string
    MTWorkersShared    bool
    EstimatedEndpoints int
    // TagSenderMask marks tag bits that identify the sender.
    TagSenderMask uint64
}

// Config is the provider configuration read from the runtime's
// environment namespace.
type Config struct {
    Prefix  string
    Options map[string]string
}

// WorkerParams are the worker creation parameters.
type WorkerParams struct {
    ThreadMode ThreadMode
    Name       string
}

// EndpointParams are the endpoint creation parameters.
type EndpointParams struct {
    RemoteAddress []byte
}

// Provider is an implementation of the native transport library.
type Provider interface {
    Name() string
    // ReadConfig reads configuration under prefix and applies overrides.
    ReadConfig(prefix string, overrides map[string]string) (Config, Status)
    Init(p Params, cfg Config) (Context, Status)
}

// Context is the library-wide state.
type Context interface {
    NewWorker(p WorkerParams) (Worker, Status)
    Cleanup()
}

// Worker is a progress engine and the origin of receives and endpoints.
type Worker interface {
    // Address returns an owned copy of the worker's reachability address.
    Address() ([]byte, Status)
    NewEndpoint(p EndpointParams) (Endpoint, Status)
    TagRecv(buf []byte, tag, mask uint64, p *RequestParam) (Request, Status)
    // Progress advances outstanding operations and returns the number of
    // events processed.
    Progress() int
    Destroy()
}

// Endpoint is a connection to one remote worker.
type Endpoint interface {
    TagSend(buf []byte, tag uint64, p *RequestParam) (Request, Status)
    Close(mode CloseMode) (Request, Status)
}

// Request is a handle to a pending operation.
type Request interface {
    // Status returns StatusInProgress until the operation resolves.
    Status() Status
    // Free releases the handle. A pending operation keeps running and
    // completes without invoking its callback.
    Free()
}
