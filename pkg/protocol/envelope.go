package protocol

import (
    "fmt"
    "io"
)

// Envelope is a header + payload wrapper for a single frame.
type Envelope struct {
    Header  Header
    Payload []byte
}

// HasFlag checks whether a flag is set.
func (e *Envelope) HasFlag(flag uint32) bool { return (e.Header.Flags & flag) != 0 }

// SetFlag sets/unsets a flag.
func (e *Envelope) SetFlag(flag uint32, on bool) {
    if on {
        e.Header.Flags |= flag
    } else {
        e.Header.Flags &^= flag
    }
}

// EncodeFrame returns header+payload as a single byte slice.
func (e *Envelope) EncodeFrame() ([]byte, error) {
    if uint64(len(e.Payload)) > uint64(^uint32(0)) {
        return nil, fmt.Errorf("payload too large: %d", len(e.Payload))
    }
    e.Header.PayloadLen = uint32(len(e.Payload))
    out := make([]byte, HeaderSize+len(e.Payload))
    e.Header.put(out)
    copy(out[HeaderSize:], e.Payload)
    return out, nil
}

// DecodeFrame parses a single frame from buf. The payload aliases buf.
func (e *Envelope) DecodeFrame(buf []byte) error {
    if len(buf) < HeaderSize { return io.ErrUnexpectedEOF }
    if err := e.Header.UnmarshalBinary(buf[:HeaderSize]); err != nil { return err }
    need := int(e.Header.PayloadLen)
    if HeaderSize+need > len(buf) { return io.ErrUnexpectedEOF }
    e.Payload = buf[HeaderSize : HeaderSize+need : HeaderSize+need]
    return nil
}

// Fragments splits the payload into chunks of at most chunk bytes. A payload
// that fits in one chunk is returned unchanged. TotalLen is set on every
// envelope returned.
func (e *Envelope) Fragments(chunk int) ([]Envelope, error) {
    if chunk <= 0 { return nil, fmt.Errorf("invalid chunk size %d", chunk) }
    data := e.Payload
    e.Header.TotalLen = uint64(len(data))
    total := (len(data) + chunk - 1) / chunk
    if total <= 1 {
        return []Envelope{*e}, nil
    }
    out := make([]Envelope, 0, total)
    for i := 0; i < total; i++ {
        start := i * chunk
        end := start + chunk
        if end > len(data) { end = len(data) }
        ne := Envelope{Header: e.Header, Payload: data[start:end:end]}
        ne.Header.PayloadLen = uint32(end - start)
        ne.Header.FragIndex = uint32(i)
        ne.Header.FragTotal = uint32(total)
        ne.Header.Flags |= FlagFragment
        if i == total-1 { ne.Header.Flags |= FlagLastFrag }
        out = append(out, ne)
    }
    return out, nil
}

// Reassemble merges fragments ordered by FragIndex into a single envelope.
func Reassemble(frags []Envelope) (Envelope, error) {
    if len(frags) == 0 { return Envelope{}, fmt.Errorf("no fragments") }
    base := frags[0]
    var totalLen int
    for i, f := range frags {
        if f.Header.FragIndex != uint32(i) {
            return Envelope{}, fmt.Errorf("fragment %d out of order (index %d)", i, f.Header.FragIndex)
        }
        totalLen += len(f.Payload)
    }
    if base.Header.TotalLen != 0 && uint64(totalLen) != base.Header.TotalLen {
        return Envelope{}, fmt.Errorf("reassembled %d bytes, want %d", totalLen, base.Header.TotalLen)
    }
    buf := make([]byte, 0, totalLen)
    for _, f := range frags {
        buf = append(buf, f.Payload...)
    }
    base.Payload = buf
    base.Header.Flags &^= (FlagFragment | FlagLastFrag)
    base.Header.FragIndex, base.Header.FragTotal = 0, 0
    base.Header.PayloadLen = uint32(len(buf))
    return base, nil
}

// Assembler collects fragments per (Source, Seq) and yields whole envelopes.
// It is not safe for concurrent use.
type Assembler struct {
    pending map[fragKey][]Envelope
}

type fragKey struct{ source, seq uint64 }

func NewAssembler() *Assembler { return &Assembler{pending: make(map[fragKey][]Envelope)} }

// Add consumes one envelope. It returns the complete envelope and true once
// the last fragment of a message arrives; unfragmented envelopes pass
// through. Fragment payloads are copied, so callers may reuse frame buffers.
func (a *Assembler) Add(e Envelope) (Envelope, bool, error) {
    if !e.HasFlag(FlagFragment) { return e, true, nil }
    k := fragKey{e.Header.Source, e.Header.Seq}
    e.Payload = append([]byte(nil), e.Payload...)
    frags := append(a.pending[k], e)
    if !e.HasFlag(FlagLastFrag) {
        a.pending[k] = frags
        return Envelope{}, false, nil
    }
    delete(a.pending, k)
    whole, err := Reassemble(frags)
    if err != nil { return Envelope{}, false, err }
    return whole, true, nil
}

// Pending reports the number of partially received messages.
func (a *Assembler) Pending() int { return len(a.pending) }
