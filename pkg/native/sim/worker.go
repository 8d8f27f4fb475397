package sim

import (
    "context"
    "errors"
    "fmt"
    "io"
    "net"
    "sync"
    "sync/atomic"
    "time"

    "github.com/google/uuid"
    "go.uber.org/zap"

    "ucxp2p/pkg/native"
    "ucxp2p/pkg/protocol"
    "ucxp2p/pkg/protocol/codec"
    "ucxp2p/pkg/protocol/stream"
    "ucxp2p/pkg/transport"
    "ucxp2p/pkg/transports"
)

const dialTimeout = 10 * time.Second

// message is a fully reassembled tagged payload.
type message struct {
    tag  uint64
    data []byte
}

// helloBody is the first envelope on every endpoint link.
type helloBody struct {
    Worker   string `cbor:"1,keyasint" json:"worker"`
    Endpoint uint64 `cbor:"2,keyasint" json:"endpoint"`
    Name     string `cbor:"3,keyasint,omitempty" json:"name,omitempty"`
}

type worker struct {
    id   uuid.UUID
    name string
    cfg  settings
    log  *zap.Logger
    reg  *codec.Registry

    tr      transport.Transport
    ln      transport.Listener
    addr    []byte
    inbound *transport.Registry

    runCtx context.Context
    stop   context.CancelFunc
    wg     sync.WaitGroup

    nextEP     atomic.Uint64
    inboundSeq atomic.Uint64

    progressMu sync.Mutex

    mu         sync.Mutex
    arrived    []message
    unexpected []message
    posted     []*request
    events     []event
    endpoints  map[*endpoint]struct{}
    destroyed  bool
}

func newWorker(c *simContext, wp native.WorkerParams) (native.Worker, native.Status) {
    tr, err := transports.NewByKind(c.cfg.fabric)
    if err != nil {
        c.log.Warn("fabric unavailable", zap.Stringer("fabric", c.cfg.fabric), zap.Error(err))
        return nil, native.StatusErrNoDevice
    }
    id := uuid.New()
    runCtx, stop := context.WithCancel(context.Background())
    ln, err := tr.Listen(runCtx, listenAddress(c.cfg, id))
    if err != nil {
        stop()
        c.log.Warn("worker listen failed", zap.Stringer("fabric", c.cfg.fabric), zap.Error(err))
        return nil, native.StatusErrIOError
    }
    addr, err := encodeAddress(workerAddress{
        Version: addressVersion,
        Fabric:  c.cfg.fabric.String(),
        Link:    ln.Addr().String(),
        Worker:  id,
    })
    if err != nil {
        stop(); _ = ln.Close()
        return nil, native.StatusErrNoMemory
    }

    w := &worker{
        id:        id,
        name:      wp.Name,
        cfg:       c.cfg,
        log:       c.log.With(zap.String("worker", id.String())),
        reg:       codec.NewRegistry(),
        tr:        tr,
        ln:        ln,
        addr:      addr,
        inbound:   transport.NewRegistry(),
        runCtx:    runCtx,
        stop:      stop,
        endpoints: make(map[*endpoint]struct{}),
    }
    w.wg.Add(1)
    go w.acceptLoop()
    w.log.Debug("worker listening", zap.String("link", ln.Addr().String()), zap.Stringer("thread_mode", wp.ThreadMode))
    return w, native.StatusOK
}

func listenAddress(s settings, id uuid.UUID) string {
    switch s.fabric {
    case transport.KindTCP, transport.KindQUIC:
        return net.JoinHostPort(s.listen, "0")
    case transport.KindWinPipe:
        return `\\.\pipe\ucxp2p-` + id.String()
    default:
        return "ucxp2p-" + id.String()
    }
}

func (w *worker) Address() ([]byte, native.Status) {
    w.mu.Lock()
    defer w.mu.Unlock()
    if w.destroyed { return nil, native.StatusErrInvalidParam }
    return append([]byte(nil), w.addr...), native.StatusOK
}

func (w *worker) NewEndpoint(p native.EndpointParams) (native.Endpoint, native.Status) {
    a, ok := decodeAddress(p.RemoteAddress)
    if !ok { return nil, native.StatusErrInvalidAddr }
    if transport.ParseKind(a.Fabric) != w.cfg.fabric { return nil, native.StatusErrUnreachable }

    w.mu.Lock()
    destroyed := w.destroyed
    w.mu.Unlock()
    if destroyed { return nil, native.StatusErrInvalidParam }

    ctx, cancel := context.WithTimeout(w.runCtx, dialTimeout)
    defer cancel()
    peer := transport.PeerInfo{ID: transport.PeerID("worker:" + a.Worker.String()), Addr: a.Link, Reachable: true}
    sess, err := w.tr.Dial(ctx, a.Link, peer)
    if err != nil {
        w.log.Debug("dial failed", zap.String("link", a.Link), zap.Error(err))
        return nil, native.StatusErrUnreachable
    }
    st, err := sess.OpenStream(ctx, transport.StreamData)
    if err != nil {
        _ = sess.Close()
        return nil, native.StatusErrUnreachable
    }

    ep := newEndpoint(w, w.nextEP.Add(1), a, sess, st)
    w.mu.Lock()
    if w.destroyed {
        w.mu.Unlock()
        _ = sess.Close()
        return nil, native.StatusErrInvalidParam
    }
    w.endpoints[ep] = struct{}{}
    w.mu.Unlock()
    go ep.run()
    return ep, native.StatusOK
}

func (w *worker) TagRecv(buf []byte, tag, mask uint64, p *native.RequestParam) (native.Request, native.Status) {
    buf, st := w.checkBuffer(buf, p)
    if st != native.StatusOK { return nil, st }
    var cb native.Callback
    if p != nil { cb = p.Callback }
    r := newRequest(cb)
    r.buf, r.tag, r.mask = buf, tag, mask

    w.mu.Lock()
    defer w.mu.Unlock()
    if w.destroyed { return nil, native.StatusErrInvalidParam }
    w.posted = append(w.posted, r)
    return r, native.StatusInProgress
}

// checkBuffer applies the datatype length and memory type of p to buf.
func (w *worker) checkBuffer(buf []byte, p *native.RequestParam) ([]byte, native.Status) {
    mt := native.MemoryTypeHost
    if p != nil {
        mt = p.MemoryType
        if n := p.Datatype.Size; n > 0 {
            if n > len(buf) { return nil, native.StatusErrInvalidParam }
            buf = buf[:n]
        }
    }
    if !w.cfg.memoryTypes[mt] { return nil, native.StatusErrUnsupported }
    return buf, native.StatusOK
}

// Progress delivers completions queued by endpoint writers and matches
// arrived messages against posted receives. Receives match in posting order
// and messages in arrival order.
func (w *worker) Progress() int {
    w.progressMu.Lock()
    defer w.progressMu.Unlock()

    w.mu.Lock()
    fire := w.events
    w.events = nil
    // receives posted since the last step may match older messages
    for i := 0; i < len(w.posted); {
        r := w.posted[i]
        if j := matchMessage(w.unexpected, r); j >= 0 {
            fire = append(fire, deliver(r, w.unexpected[j]))
            w.unexpected = append(w.unexpected[:j], w.unexpected[j+1:]...)
            w.posted = append(w.posted[:i], w.posted[i+1:]...)
            continue
        }
        i++
    }
    for _, m := range w.arrived {
        if i := matchRequest(w.posted, m); i >= 0 {
            fire = append(fire, deliver(w.posted[i], m))
            w.posted = append(w.posted[:i], w.posted[i+1:]...)
            continue
        }
        w.unexpected = append(w.unexpected, m)
    }
    w.arrived = nil
    w.mu.Unlock()

    for _, ev := range fire {
        ev.req.finish(ev.status, ev.info)
        if ev.ep != nil { ev.ep.delivered() }
    }
    return len(fire)
}

func tagMatches(r *request, tag uint64) bool { return tag&r.mask == r.tag&r.mask }

func matchMessage(q []message, r *request) int {
    for i := range q {
        if tagMatches(r, q[i].tag) { return i }
    }
    return -1
}

func matchRequest(q []*request, m message) int {
    for i, r := range q {
        if tagMatches(r, m.tag) { return i }
    }
    return -1
}

// deliver copies at most len(r.buf) bytes; a longer message is truncated
// and reported as such.
func deliver(r *request, m message) event {
    n := copy(r.buf, m.data)
    st := native.StatusOK
    if len(m.data) > len(r.buf) { st = native.StatusErrMessageTruncated }
    return event{req: r, status: st, info: &native.TagRecvInfo{SenderTag: m.tag, Length: n}}
}

// post queues a completion for the next Progress call.
func (w *worker) post(ev event) {
    w.mu.Lock()
    if !w.destroyed { w.events = append(w.events, ev) }
    w.mu.Unlock()
}

func (w *worker) arrive(m message) {
    w.mu.Lock()
    if !w.destroyed { w.arrived = append(w.arrived, m) }
    w.mu.Unlock()
}

func (w *worker) forget(ep *endpoint) {
    w.mu.Lock(); delete(w.endpoints, ep); w.mu.Unlock()
}

func (w *worker) Destroy() {
    w.mu.Lock()
    if w.destroyed {
        w.mu.Unlock()
        return
    }
    w.destroyed = true
    eps := make([]*endpoint, 0, len(w.endpoints))
    for ep := range w.endpoints { eps = append(eps, ep) }
    w.posted, w.unexpected, w.arrived, w.events = nil, nil, nil, nil
    w.mu.Unlock()

    for _, ep := range eps { ep.abort() }
    w.stop()
    _ = w.ln.Close()
    inbound := w.inbound.Len()
    w.inbound.CloseAll()
    w.wg.Wait()
    w.log.Debug("worker destroyed", zap.Int("aborted_endpoints", len(eps)), zap.Int("inbound_links", inbound))
}

func (w *worker) acceptLoop() {
    defer w.wg.Done()
    for {
        sess, err := w.ln.Accept(w.runCtx)
        if err != nil { return }
        // link addresses can repeat (pipes), ids must not
        if mp, ok := sess.(transport.MutablePeer); ok {
            pi := sess.Peer()
            pi.ID = transport.PeerID(fmt.Sprintf("%s#%d", pi.ID, w.inboundSeq.Add(1)))
            mp.SetPeer(pi)
        }
        if !w.inbound.Add(sess) { continue }
        w.wg.Add(1)
        go w.serve(sess)
    }
}

// serve reads one inbound endpoint link until its fin or failure.
func (w *worker) serve(sess transport.Session) {
    defer w.wg.Done()
    pid := sess.Peer().ID
    defer func() { w.inbound.ClosePeer(pid) }()

    st, err := sess.AcceptStream(w.runCtx)
    if err != nil { return }
    conn := stream.New(st)

    var hello protocol.Envelope
    if err := conn.Recv(&hello); err != nil || hello.Header.Type != protocol.MsgHello {
        w.log.Debug("inbound link without hello", zap.String("peer", string(pid)), zap.Error(err))
        return
    }
    var hb helloBody
    if _, err := protocol.DecodeEnvelopeBody(&hello, &hb, w.reg); err != nil {
        w.log.Debug("bad hello", zap.String("peer", string(pid)), zap.Error(err))
        return
    }
    if id := transport.WorkerPeerID(hb.Worker, hb.Endpoint); w.inbound.Rebind(pid, id) {
        pid = id
    }
    log := w.log.With(zap.String("peer", string(pid)))
    log.Debug("inbound endpoint connected")

    asm := protocol.NewAssembler()
    for {
        var env protocol.Envelope
        if err := conn.Recv(&env); err != nil {
            if !errors.Is(err, io.EOF) && w.runCtx.Err() == nil {
                log.Debug("inbound link closed", zap.Error(err))
            }
            return
        }
        switch env.Header.Type {
        case protocol.MsgTagData:
            whole, ok, err := asm.Add(env)
            if err != nil {
                log.Warn("dropping link after bad fragment", zap.Error(err))
                return
            }
            if ok {
                w.arrive(message{tag: whole.Header.Tag, data: whole.Payload})
            }
        case protocol.MsgFin:
            log.Debug("inbound endpoint closed", zap.Bool("force", env.HasFlag(protocol.FlagForce)))
            return
        default:
            log.Debug("ignoring envelope", zap.Uint8("type", env.Header.Type))
        }
    }
}
