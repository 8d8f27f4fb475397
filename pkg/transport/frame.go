package transport

import (
    "bufio"
    "encoding/binary"
    "errors"
    "io"
    "sync"
    "sync/atomic"
    "time"
)

// ErrFrameTooLarge is returned for frames above MaxFrameSize.
var ErrFrameTooLarge = errors.New("transport: frame too large")

// FramedConn implements Stream over any byte stream using length-prefixed
// frames (u32 LE). SendBytes may be called from several goroutines;
// RecvBytes from one.
type FramedConn struct {
    mu       sync.Mutex
    rw       io.ReadWriteCloser
    br       *bufio.Reader
    bw       *bufio.Writer
    lastSeen atomic.Int64
}

func NewFramedConn(rw io.ReadWriteCloser) *FramedConn {
    return &FramedConn{rw: rw, br: bufio.NewReader(rw), bw: bufio.NewWriter(rw)}
}

func (f *FramedConn) SendBytes(b []byte) error {
    if len(b) > MaxFrameSize { return ErrFrameTooLarge }
    f.mu.Lock(); defer f.mu.Unlock()
    var lenbuf [4]byte
    binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
    if _, err := f.bw.Write(lenbuf[:]); err != nil { return err }
    if _, err := f.bw.Write(b); err != nil { return err }
    if err := f.bw.Flush(); err != nil { return err }
    f.lastSeen.Store(time.Now().UnixNano())
    return nil
}

func (f *FramedConn) RecvBytes() ([]byte, error) {
    var lenbuf [4]byte
    if _, err := io.ReadFull(f.br, lenbuf[:]); err != nil { return nil, err }
    n := int(binary.LittleEndian.Uint32(lenbuf[:]))
    if n > MaxFrameSize { return nil, ErrFrameTooLarge }
    buf := make([]byte, n)
    if _, err := io.ReadFull(f.br, buf); err != nil { return nil, err }
    f.lastSeen.Store(time.Now().UnixNano())
    return buf, nil
}

func (f *FramedConn) Close() error { return f.rw.Close() }

// LastSeen returns the time of the last frame sent or received.
func (f *FramedConn) LastSeen() time.Time {
    ns := f.lastSeen.Load()
    if ns == 0 { return time.Time{} }
    return time.Unix(0, ns)
}
