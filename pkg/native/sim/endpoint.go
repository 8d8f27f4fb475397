package sim

import (
    "sync"
    "time"

    "go.uber.org/zap"

    "ucxp2p/pkg/native"
    "ucxp2p/pkg/protocol"
    "ucxp2p/pkg/protocol/stream"
    "ucxp2p/pkg/transport"
)

// lingerTimeout bounds how long a flushed close waits for the remote worker
// to hang up after reading the fin.
const lingerTimeout = 2 * time.Second

type sendOp struct {
    env   protocol.Envelope
    req   *request // nil for injected sends and immediate closes
    fin   bool
    force bool
}

// endpoint owns one outbound link. A single writer goroutine drains the
// queue in submission order.
type endpoint struct {
    w    *worker
    id   uint64
    sess transport.Session
    st   transport.Stream
    conn *stream.Conn
    log  *zap.Logger

    wake chan struct{}
    done chan struct{}

    mu       sync.Mutex
    queue    []*sendOp
    inflight bool
    closing  bool
    broken   native.Status
    seq      uint64
    // sends whose completion Progress has not delivered yet
    unfired  int
}

func newEndpoint(w *worker, id uint64, remote workerAddress, sess transport.Session, st transport.Stream) *endpoint {
    return &endpoint{
        w:    w,
        id:   id,
        sess: sess,
        st:   st,
        conn: stream.New(st),
        log:  w.log.With(zap.Uint64("ep", id), zap.String("remote", remote.Worker.String())),
        wake: make(chan struct{}, 1),
        done: make(chan struct{}),
    }
}

func (e *endpoint) TagSend(buf []byte, tag uint64, p *native.RequestParam) (native.Request, native.Status) {
    buf, st := e.w.checkBuffer(buf, p)
    if st != native.StatusOK { return nil, st }
    if limit := e.w.cfg.maxMessage; limit > 0 && len(buf) > limit { return nil, native.StatusErrExceedsLimit }
    mt := native.MemoryTypeHost
    var cb native.Callback
    if p != nil { mt, cb = p.MemoryType, p.Callback }

    e.mu.Lock()
    defer e.mu.Unlock()
    if e.closing { return nil, native.StatusErrNotConnected }
    if e.broken != native.StatusOK { return nil, e.broken }
    e.seq++
    op := &sendOp{env: protocol.Envelope{Header: protocol.Header{
        Version: protocol.Version,
        Type:    protocol.MsgTagData,
        MemType: uint8(mt),
        Tag:     tag,
        Seq:     e.seq,
        Source:  e.id,
    }}}
    if len(buf) <= e.w.cfg.injectThreshold {
        op.env.Payload = append([]byte(nil), buf...)
        e.push(op)
        return nil, native.StatusOK
    }
    op.env.Payload = buf
    op.req = newRequest(cb)
    e.unfired++
    e.push(op)
    return op.req, native.StatusInProgress
}

// Close with CloseFlush completes at once when no send is queued, being
// written or awaiting delivery of its completion; otherwise it returns a
// request that completes after those sends and the remote worker has hung
// up. CloseForce cancels queued sends.
func (e *endpoint) Close(mode native.CloseMode) (native.Request, native.Status) {
    e.mu.Lock()
    if e.closing {
        e.mu.Unlock()
        return nil, native.StatusErrNotConnected
    }
    e.closing = true

    if mode == native.CloseForce {
        canceled := e.queue
        e.queue = nil
        e.push(&sendOp{fin: true, force: true})
        e.mu.Unlock()
        for _, op := range canceled {
            if op.req != nil { e.w.post(event{req: op.req, status: native.StatusErrCanceled, ep: e}) }
        }
        return nil, native.StatusOK
    }

    if e.broken != native.StatusOK {
        st := e.broken
        e.push(&sendOp{fin: true})
        e.mu.Unlock()
        return nil, st
    }
    op := &sendOp{fin: true}
    if len(e.queue) == 0 && !e.inflight && e.unfired == 0 {
        e.push(op)
        e.mu.Unlock()
        return nil, native.StatusOK
    }
    op.req = newRequest(nil)
    e.push(op)
    e.mu.Unlock()
    return op.req, native.StatusInProgress
}

// push must be called with e.mu held.
func (e *endpoint) push(op *sendOp) {
    e.queue = append(e.queue, op)
    select {
    case e.wake <- struct{}{}:
    default:
    }
}

// abort tears the link down without flushing; used when the worker goes away.
func (e *endpoint) abort() {
    _, _ = e.Close(native.CloseForce)
    _ = e.sess.Close()
}

func (e *endpoint) fail(err error) native.Status {
    e.mu.Lock()
    defer e.mu.Unlock()
    if e.broken == native.StatusOK {
        e.broken = native.StatusErrConnectionReset
        e.log.Debug("link failed", zap.Error(err))
    }
    return e.broken
}

func (e *endpoint) run() {
    defer close(e.done)
    defer e.w.forget(e)

    hello, err := protocol.NewEnvelopeWithBody(
        protocol.Header{Type: protocol.MsgHello, Source: e.id},
        protocol.FormatCBOR,
        helloBody{Worker: e.w.id.String(), Endpoint: e.id, Name: e.w.name},
        e.w.reg)
    if err == nil { err = e.conn.Send(&hello) }
    if err != nil { e.fail(err) }

    for {
        e.mu.Lock()
        for len(e.queue) == 0 {
            e.mu.Unlock()
            <-e.wake
            e.mu.Lock()
        }
        op := e.queue[0]
        e.queue = e.queue[1:]
        e.inflight = true
        st := e.broken
        e.mu.Unlock()

        if op.fin {
            e.finish(op, st)
            return
        }
        if st == native.StatusOK {
            if err := e.conn.SendFragmented(&op.env, e.w.cfg.fragmentSize); err != nil { st = e.fail(err) }
        }
        e.mu.Lock()
        e.inflight = false
        e.mu.Unlock()
        if op.req != nil { e.w.post(event{req: op.req, status: st, ep: e}) }
    }
}

// delivered is called by Progress once a send completion has run.
func (e *endpoint) delivered() {
    e.mu.Lock(); e.unfired--; e.mu.Unlock()
}

func (e *endpoint) finish(op *sendOp, st native.Status) {
    if st == native.StatusOK {
        fin := protocol.Envelope{Header: protocol.Header{Version: protocol.Version, Type: protocol.MsgFin, Source: e.id, Seq: e.seq}}
        fin.SetFlag(protocol.FlagForce, op.force)
        if err := e.conn.Send(&fin); err != nil {
            st = e.fail(err)
        } else if !op.force {
            e.linger()
        }
    }
    _ = e.sess.Close()
    e.log.Debug("endpoint closed", zap.Bool("force", op.force), zap.Stringer("status", st))
    if op.req != nil { e.w.post(event{req: op.req, status: st}) }
}

// linger waits until the remote side closes the link, so that data written
// before the fin is not discarded by a transport that drops unacknowledged
// bytes on close.
func (e *endpoint) linger() {
    hung := make(chan struct{})
    go func() {
        defer close(hung)
        for {
            if _, err := e.st.RecvBytes(); err != nil { return }
        }
    }()
    t := time.NewTimer(lingerTimeout)
    defer t.Stop()
    select {
    case <-hung:
    case <-t.C:
        e.log.Debug("remote did not hang up after fin")
    }
}
