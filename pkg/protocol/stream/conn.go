// Package stream moves protocol envelopes over transport streams.
package stream

import (
    "ucxp2p/pkg/protocol"
    "ucxp2p/pkg/transport"
)

// Conn sends and receives protocol.Envelope frames on a transport.Stream.
// Send may be called concurrently; Recv from one goroutine.
type Conn struct {
    s transport.Stream
}

func New(s transport.Stream) *Conn { return &Conn{s: s} }

// Send writes e as one frame.
func (c *Conn) Send(e *protocol.Envelope) error {
    b, err := e.EncodeFrame()
    if err != nil { return err }
    return c.s.SendBytes(b)
}

// SendFragmented splits e into frames carrying at most chunk payload bytes.
func (c *Conn) SendFragmented(e *protocol.Envelope, chunk int) error {
    frags, err := e.Fragments(chunk)
    if err != nil { return err }
    for i := range frags {
        if err := c.Send(&frags[i]); err != nil { return err }
    }
    return nil
}

// Recv reads the next frame into e. The payload owns its memory.
func (c *Conn) Recv(e *protocol.Envelope) error {
    b, err := c.s.RecvBytes()
    if err != nil { return err }
    return e.DecodeFrame(b)
}

func (c *Conn) Close() error { return c.s.Close() }
