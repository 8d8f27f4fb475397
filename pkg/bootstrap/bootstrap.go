// Package bootstrap exchanges worker addresses between the ranks of a job
// through a rendezvous at rank 0. Every rank sends its address in a MsgJoin
// envelope; once all ranks joined, rank 0 answers each of them with the
// complete address book in a MsgAddressBook envelope.
//
// The p2p core never calls this package. It exists for tools and tests that
// need to ship opaque worker addresses out of band.
package bootstrap

import (
    "context"
    "errors"
    "fmt"
    "net"
    "time"

    "go.uber.org/zap"

    "ucxp2p/pkg/observability"
    "ucxp2p/pkg/protocol"
    "ucxp2p/pkg/protocol/codec"
    "ucxp2p/pkg/protocol/stream"
    "ucxp2p/pkg/transport"
)

var (
    ErrBadSize           = errors.New("bootstrap: job size must be positive")
    ErrBadRank           = errors.New("bootstrap: rank out of range")
    ErrDuplicateRank     = errors.New("bootstrap: rank already joined")
    ErrUnexpectedMessage = errors.New("bootstrap: unexpected message type")
)

// lingerTimeout bounds how long rank 0 keeps a link open after sending the
// book, waiting for the joiner to hang up first.
const lingerTimeout = 2 * time.Second

// Book holds one worker address per rank.
type Book struct {
    Addresses [][]byte
}

// Size returns the number of ranks in the book.
func (b Book) Size() int { return len(b.Addresses) }

// Address returns the address of rank.
func (b Book) Address(rank int) ([]byte, error) {
    if rank < 0 || rank >= len(b.Addresses) { return nil, fmt.Errorf("%w: %d", ErrBadRank, rank) }
    return b.Addresses[rank], nil
}

type options struct {
    format protocol.Format
    log    *zap.Logger
    reg    *codec.Registry
}

// Option configures Listen, Serve and Join.
type Option func(*options)

// WithFormat selects the body encoding of the envelopes this side sends.
// Received bodies are decoded by their own format marker.
func WithFormat(f protocol.Format) Option { return func(o *options) { o.format = f } }

func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

func buildOptions(opts []Option) options {
    o := options{format: protocol.FormatCBOR}
    for _, opt := range opts { opt(&o) }
    o.log = observability.Or(o.log).Named("bootstrap")
    o.reg = codec.NewRegistry()
    return o
}

// Server is the rank 0 side of the rendezvous.
type Server struct {
    ln transport.Listener
    o  options
}

// Listen binds the rendezvous address. The listener stops when ctx is done
// or Close is called.
func Listen(ctx context.Context, tr transport.Transport, addr string, opts ...Option) (*Server, error) {
    ln, err := tr.Listen(ctx, addr)
    if err != nil { return nil, fmt.Errorf("bootstrap: listen %s: %w", addr, err) }
    s := &Server{ln: ln, o: buildOptions(opts)}
    s.o.log.Info("rendezvous listening", zap.String("kind", tr.Kind().String()), zap.String("addr", ln.Addr().String()))
    return s, nil
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

func (s *Server) Close() error { return s.ln.Close() }

// Serve listens on addr, gathers size ranks with self as rank 0 and closes
// the listener.
func Serve(ctx context.Context, tr transport.Transport, addr string, size int, self []byte, opts ...Option) (Book, error) {
    s, err := Listen(ctx, tr, addr, opts...)
    if err != nil { return Book{}, err }
    defer s.Close()
    return s.Gather(ctx, size, self)
}

type arrival struct {
    sess transport.Session
    conn *stream.Conn
    rank int
    addr []byte
    err  error
}

// Gather waits until ranks 1..size-1 have joined, then sends every one of
// them the book. Joins with a bad or duplicate rank are dropped and logged.
func (s *Server) Gather(ctx context.Context, size int, self []byte) (Book, error) {
    if size < 1 { return Book{}, ErrBadSize }
    book := Book{Addresses: make([][]byte, size)}
    book.Addresses[0] = append([]byte(nil), self...)
    if size == 1 { return book, nil }

    actx, cancel := context.WithCancel(ctx)
    defer cancel()
    arrivals := make(chan arrival)
    go s.acceptLoop(actx, arrivals)

    joined := make([]arrival, 0, size-1)
    defer func() {
        for _, a := range joined { _ = a.sess.Close() }
    }()
    for len(joined) < size-1 {
        select {
        case <-ctx.Done():
            return Book{}, ctx.Err()
        case a := <-arrivals:
            if a.err == nil && (a.rank <= 0 || a.rank >= size) { a.err = fmt.Errorf("%w: %d", ErrBadRank, a.rank) }
            if a.err == nil && book.Addresses[a.rank] != nil { a.err = fmt.Errorf("%w: %d", ErrDuplicateRank, a.rank) }
            if a.err != nil {
                s.o.log.Warn("join rejected", zap.String("raddr", a.sess.RemoteAddr().String()), zap.Error(a.err))
                _ = a.sess.Close()
                continue
            }
            book.Addresses[a.rank] = a.addr
            joined = append(joined, a)
            s.o.log.Debug("rank joined", zap.Int("rank", a.rank), zap.Int("joined", len(joined)), zap.Int("size", size))
        }
    }

    env, err := encodeBook(s.o, book)
    if err != nil { return Book{}, err }
    for _, a := range joined {
        if err := a.conn.Send(&env); err != nil { return Book{}, fmt.Errorf("bootstrap: send book to rank %d: %w", a.rank, err) }
    }
    linger(joined)
    s.o.log.Info("address book delivered", zap.Int("size", size))
    return book, nil
}

func (s *Server) acceptLoop(ctx context.Context, out chan<- arrival) {
    for {
        sess, err := s.ln.Accept(ctx)
        if err != nil { return }
        go func() {
            a := s.readJoin(ctx, sess)
            select {
            case out <- a:
            case <-ctx.Done():
                _ = sess.Close()
            }
        }()
    }
}

func (s *Server) readJoin(ctx context.Context, sess transport.Session) arrival {
    a := arrival{sess: sess}
    st, err := sess.AcceptStream(ctx)
    if err != nil {
        a.err = err
        return a
    }
    a.conn = stream.New(st)
    var e protocol.Envelope
    if a.err = a.conn.Recv(&e); a.err != nil { return a }
    if e.Header.Type != protocol.MsgJoin {
        a.err = fmt.Errorf("%w: %d", ErrUnexpectedMessage, e.Header.Type)
        return a
    }
    a.rank, a.addr, a.err = decodeJoin(s.o.reg, e.Payload)
    return a
}

// linger waits for every joiner to hang up, up to lingerTimeout, so the
// book is not cut off by a link that drops unread data on close.
func linger(joined []arrival) {
    done := make(chan struct{}, len(joined))
    for _, a := range joined {
        go func(c *stream.Conn) {
            var e protocol.Envelope
            for c.Recv(&e) == nil {}
            done <- struct{}{}
        }(a.conn)
    }
    t := time.NewTimer(lingerTimeout)
    defer t.Stop()
    for range joined {
        select {
        case <-done:
        case <-t.C:
            return
        }
    }
}

// Join dials rank 0 at addr, announces self as rank and returns the book.
// ctx bounds the whole exchange.
func Join(ctx context.Context, tr transport.Transport, addr string, rank int, self []byte, opts ...Option) (Book, error) {
    if rank <= 0 { return Book{}, fmt.Errorf("%w: %d", ErrBadRank, rank) }
    o := buildOptions(opts)
    sess, err := tr.Dial(ctx, addr, transport.PeerInfo{ID: "bootstrap", Addr: addr})
    if err != nil { return Book{}, fmt.Errorf("bootstrap: dial %s: %w", addr, err) }
    defer sess.Close()
    stop := context.AfterFunc(ctx, func() { _ = sess.Close() })
    defer stop()

    st, err := sess.OpenStream(ctx, transport.StreamControl)
    if err != nil { return Book{}, fmt.Errorf("bootstrap: open stream: %w", err) }
    conn := stream.New(st)
    env, err := encodeJoin(o, rank, self)
    if err != nil { return Book{}, err }
    if err := conn.Send(&env); err != nil { return Book{}, wrapCtx(ctx, fmt.Errorf("bootstrap: send join: %w", err)) }

    var reply protocol.Envelope
    if err := conn.Recv(&reply); err != nil { return Book{}, wrapCtx(ctx, fmt.Errorf("bootstrap: read book: %w", err)) }
    if reply.Header.Type != protocol.MsgAddressBook { return Book{}, fmt.Errorf("%w: %d", ErrUnexpectedMessage, reply.Header.Type) }
    book, err := decodeBook(o.reg, reply.Payload)
    if err != nil { return Book{}, err }
    if rank >= book.Size() { return Book{}, fmt.Errorf("%w: %d of %d", ErrBadRank, rank, book.Size()) }
    o.log.Info("address book received", zap.Int("rank", rank), zap.Int("size", book.Size()))
    return book, nil
}

// wrapCtx prefers the context error when the link failed because ctx ended.
func wrapCtx(ctx context.Context, err error) error {
    if cerr := ctx.Err(); cerr != nil { return cerr }
    return err
}
