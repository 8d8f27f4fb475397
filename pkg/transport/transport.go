package transport

import (
    "context"
    "net"
    "time"
)

// Kind identifies the link type a session runs over.
type Kind int

const (
    KindUnknown Kind = iota
    KindMem
    KindTCP
    KindQUIC
    KindWinPipe
)

func (k Kind) String() string {
    switch k {
    case KindMem:
        return "mem"
    case KindTCP:
        return "tcp"
    case KindQUIC:
        return "quic"
    case KindWinPipe:
        return "winpipe"
    default:
        return "unknown"
    }
}

// ParseKind maps a configuration name to a Kind.
func ParseKind(s string) Kind {
    switch s {
    case "mem", "inproc", "shared":
        return KindMem
    case "tcp":
        return KindTCP
    case "quic":
        return KindQUIC
    case "winpipe", "pipe":
        return KindWinPipe
    default:
        return KindUnknown
    }
}

// MaxFrameSize bounds a single frame on every link. Larger messages are
// fragmented by the protocol layer.
const MaxFrameSize = 1 << 24

// StreamClass labels streams within a session.
type StreamClass int

const (
    StreamControl StreamClass = iota
    StreamData
)

// PeerID is an opaque peer identity (a worker id once the hello is read).
type PeerID string

// PeerInfo bundles peer identity and addressing hints.
type PeerInfo struct {
    ID        PeerID
    Addr      string // transport-dependent address string
    Reachable bool
}

// Quality captures link bookkeeping for monitoring.
type Quality struct {
    EstablishedAt time.Time
    LastSeen      time.Time
}

// Stream is a bidirectional frame stream.
// Exactly one reader and one writer goroutine are expected.
type Stream interface {
    // SendBytes sends one frame.
    SendBytes([]byte) error
    // RecvBytes receives the next frame.
    RecvBytes() ([]byte, error)
    Close() error
}

// Session is a connection to a peer carrying one or more streams.
type Session interface {
    Peer() PeerInfo
    TransportKind() Kind
    LocalAddr() net.Addr
    RemoteAddr() net.Addr

    // OpenStream opens/returns a stream of the given class. Transports without
    // multiplexing return a single shared stream for all classes.
    OpenStream(ctx context.Context, cls StreamClass) (Stream, error)

    // AcceptStream waits for the stream opened by the remote side.
    AcceptStream(ctx context.Context) (Stream, error)

    Quality() Quality

    // Close closes the entire session.
    Close() error
}

// Listener accepts inbound sessions.
type Listener interface {
    // Accept blocks until an inbound session is available or ctx is done.
    Accept(ctx context.Context) (Session, error)
    // Addr returns the local listening address.
    Addr() net.Addr
    // Close stops the listener and unblocks Accept.
    Close() error
}

// Transport provides dialing/listening for a specific link kind.
type Transport interface {
    Kind() Kind
    // Listen starts accepting inbound sessions on address (transport-specific format).
    Listen(ctx context.Context, address string) (Listener, error)
    // Dial creates an outbound session to address.
    Dial(ctx context.Context, address string, peer PeerInfo) (Session, error)
}
