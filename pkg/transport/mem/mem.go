package mem

import (
    "context"
    "errors"
    "fmt"
    "net"
    "sync"
    "sync/atomic"
    "time"

    "ucxp2p/pkg/transport"
)

// Transport is an in-process transport using net.Pipe. It stands in for a
// shared-memory link between workers of the same process.
type Transport struct {
    mu        sync.Mutex
    listeners map[string]*listener
    seq       atomic.Uint64
}

func New() *Transport { return &Transport{listeners: make(map[string]*listener)} }

var (
    sharedOnce sync.Once
    shared     *Transport
)

// Shared returns the process-wide instance, so workers created from
// different contexts can still reach each other by name.
func Shared() *Transport {
    sharedOnce.Do(func() { shared = New() })
    return shared
}

func (t *Transport) Kind() transport.Kind { return transport.KindMem }

// Listen registers name. The listener lives until Close or ctx is done.
func (t *Transport) Listen(ctx context.Context, name string) (transport.Listener, error) {
    t.mu.Lock(); defer t.mu.Unlock()
    if _, ok := t.listeners[name]; ok {
        return nil, errors.New("mem: listener already exists")
    }
    l := &listener{name: name, newCh: make(chan *session, 64), closeCh: make(chan struct{})}
    l.onClose = func() {
        t.mu.Lock()
        if t.listeners[name] == l { delete(t.listeners, name) }
        t.mu.Unlock()
    }
    t.listeners[name] = l
    go func() {
        select {
        case <-ctx.Done(): _ = l.Close()
        case <-l.closeCh:
        }
    }()
    return l, nil
}

// Dial connects to a registered listener. ctx bounds the hand-off only; the
// session outlives it.
func (t *Transport) Dial(ctx context.Context, name string, peer transport.PeerInfo) (transport.Session, error) {
    t.mu.Lock(); l := t.listeners[name]; t.mu.Unlock()
    if l == nil { return nil, errors.New("mem: no such listener") }
    c1, c2 := net.Pipe()
    now := time.Now()
    local, remote := memAddr(name), memAddr(fmt.Sprintf("%s#%d", name, t.seq.Add(1)))
    srv := newSession(transport.PeerInfo{ID: transport.TempPeerID(transport.KindMem, remote), Addr: remote.String()}, c1, local, remote, now)
    cli := newSession(peer, c2, remote, local, now)
    select {
    case l.newCh <- srv:
        return cli, nil
    case <-l.closeCh:
    case <-ctx.Done():
    }
    _ = srv.Close(); _ = cli.Close()
    if err := ctx.Err(); err != nil { return nil, err }
    return nil, errors.New("mem: listener closed")
}

type listener struct {
    name    string
    newCh   chan *session
    closeCh chan struct{}
    once    sync.Once
    onClose func()
}

func (l *listener) Addr() net.Addr { return memAddr(l.name) }

func (l *listener) Accept(ctx context.Context) (transport.Session, error) {
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case <-l.closeCh:
        return nil, errors.New("mem listener closed")
    case s := <-l.newCh:
        return s, nil
    }
}

func (l *listener) Close() error {
    l.once.Do(func() {
        close(l.closeCh)
        if l.onClose != nil { l.onClose() }
        // sessions never accepted would block their dialers forever
        for {
            select {
            case s := <-l.newCh:
                _ = s.Close()
            default:
                return
            }
        }
    })
    return nil
}

type memAddr string
func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

type session struct {
    *transport.FramedConn
    mu   sync.RWMutex
    peer transport.PeerInfo
    local, remote memAddr
    establishedAt time.Time
}

func newSession(peer transport.PeerInfo, c net.Conn, local, remote memAddr, at time.Time) *session {
    return &session{FramedConn: transport.NewFramedConn(c), peer: peer, local: local, remote: remote, establishedAt: at}
}

func (s *session) Peer() transport.PeerInfo { s.mu.RLock(); defer s.mu.RUnlock(); return s.peer }
func (s *session) SetPeer(pi transport.PeerInfo) { s.mu.Lock(); s.peer = pi; s.mu.Unlock() }
func (s *session) TransportKind() transport.Kind { return transport.KindMem }
func (s *session) LocalAddr() net.Addr { return s.local }
func (s *session) RemoteAddr() net.Addr { return s.remote }

func (s *session) OpenStream(_ context.Context, _ transport.StreamClass) (transport.Stream, error) { return s, nil }
func (s *session) AcceptStream(_ context.Context) (transport.Stream, error) { return s, nil }
func (s *session) Quality() transport.Quality {
    return transport.Quality{EstablishedAt: s.establishedAt, LastSeen: s.LastSeen()}
}
