package main

import (
    "context"
    "fmt"
    "io"
    "time"

    tdigest "github.com/caio/go-tdigest"

    "ucxp2p/pkg/p2p"
)

// pair is one side of a ping-pong: the local worker, the endpoint to the
// peer and both ranks.
type pair struct {
    w    *p2p.Worker
    ep   *p2p.Endpoint
    self uint32
    peer uint32
}

type stats struct {
    td      *tdigest.TDigest
    n       int
    slowest time.Duration
}

// roundTrip sends msg, receives the echo into buf and waits for both.
func (p pair) roundTrip(ctx context.Context, msg, buf []byte, tag uint32) error {
    rr, err := p.w.RecvWithTag(buf, p2p.MakeTag(p.peer, tag), p2p.DeviceCPU)
    if err != nil { return err }
    defer rr.Free()
    sr, err := p.ep.SendWithTag(msg, p2p.MakeTag(p.self, tag), p2p.DeviceCPU)
    if err != nil { return err }
    defer sr.Free()
    return p.w.WaitContext(ctx, sr, rr)
}

// echo receives one message into buf and sends it back.
func (p pair) echo(ctx context.Context, buf []byte, tag uint32) error {
    rr, err := p.w.RecvWithTag(buf, p2p.MakeTag(p.peer, tag), p2p.DeviceCPU)
    if err != nil { return err }
    defer rr.Free()
    if err := p.w.WaitContext(ctx, rr); err != nil { return err }
    sr, err := p.ep.SendWithTag(buf[:rr.Length()], p2p.MakeTag(p.self, tag), p2p.DeviceCPU)
    if err != nil { return err }
    defer sr.Free()
    return p.w.WaitContext(ctx, sr)
}

func initiate(ctx context.Context, p pair, opts Options) (*stats, error) {
    td, err := tdigest.New(tdigest.Compression(100))
    if err != nil { return nil, err }
    st := &stats{td: td}
    msg := make([]byte, opts.MsgSize)
    for i := range msg { msg[i] = byte(i) }
    buf := make([]byte, opts.MsgSize)

    for i := 0; i < opts.Warmup+opts.Iters; i++ {
        t0 := time.Now()
        if err := p.roundTrip(ctx, msg, buf, opts.Tag); err != nil { return nil, err }
        if i < opts.Warmup { continue }
        elap := time.Since(t0)
        if err := st.td.Add(float64(elap)); err != nil { return nil, err }
        st.n++
        if elap > st.slowest { st.slowest = elap }
    }
    return st, nil
}

func respond(ctx context.Context, p pair, opts Options) error {
    buf := make([]byte, opts.MsgSize)
    for i := 0; i < opts.Warmup+opts.Iters; i++ {
        if err := p.echo(ctx, buf, opts.Tag); err != nil { return err }
    }
    return nil
}

func (s *stats) quantile(q float64) time.Duration { return time.Duration(s.td.Quantile(q)) }

func (s *stats) report(out io.Writer, peer int, opts Options) {
    fmt.Fprintf(out, "peer=%d size=%dB iters=%d p50=%v p99=%v p999=%v max=%v\n",
        peer, opts.MsgSize, s.n, s.quantile(0.50), s.quantile(0.99), s.quantile(0.999), s.slowest)
}
