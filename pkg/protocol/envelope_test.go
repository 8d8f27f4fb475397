package protocol

import (
    "bytes"
    "testing"
)

func TestEnvelopeFrameEncodeDecode(t *testing.T) {
    e := Envelope{Header: Header{Version: Version, Type: MsgTagData, Tag: 7, Seq: 1, Source: 2}}
    e.Payload = []byte("hello")

    frame, err := e.EncodeFrame()
    if err != nil { t.Fatalf("encode: %v", err) }
    if len(frame) != HeaderSize+5 { t.Fatalf("frame len = %d", len(frame)) }

    var d Envelope
    if err := d.DecodeFrame(frame); err != nil { t.Fatalf("decode: %v", err) }
    if !bytes.Equal(d.Payload, e.Payload) { t.Fatalf("payload mismatch") }
    if d.Header.Type != e.Header.Type || d.Header.Tag != 7 || d.Header.Source != 2 {
        t.Fatalf("header mismatch: %#v", d.Header)
    }
    if err := d.DecodeFrame(frame[:HeaderSize+2]); err == nil { t.Fatalf("expected truncated frame error") }
}

func TestFragmentsAndReassemble(t *testing.T) {
    e := Envelope{Header: Header{Version: Version, Type: MsgTagData, Tag: 3}}
    data := bytes.Repeat([]byte{0xAB}, 1000)
    e.Payload = data
    frags, err := e.Fragments(128)
    if err != nil { t.Fatalf("fragments: %v", err) }
    if len(frags) != 8 { t.Fatalf("want 8 frags, got %d", len(frags)) }
    for i, f := range frags {
        if f.Header.FragIndex != uint32(i) { t.Fatalf("frag index mismatch") }
        if f.Header.FragTotal != uint32(len(frags)) { t.Fatalf("frag total mismatch") }
        if f.Header.TotalLen != 1000 { t.Fatalf("total len = %d", f.Header.TotalLen) }
        if last := f.HasFlag(FlagLastFrag); last != (i == len(frags)-1) { t.Fatalf("last flag wrong at %d", i) }
    }
    re, err := Reassemble(frags)
    if err != nil { t.Fatalf("reassemble: %v", err) }
    if !bytes.Equal(re.Payload, data) { t.Fatalf("reassembled payload mismatch") }
    if re.HasFlag(FlagFragment) { t.Fatalf("fragment flag survived") }

    frags[1], frags[2] = frags[2], frags[1]
    if _, err := Reassemble(frags); err == nil { t.Fatalf("expected ordering error") }
}

func TestSmallPayloadIsNotFragmented(t *testing.T) {
    e := Envelope{Header: Header{Type: MsgTagData}, Payload: []byte("x")}
    frags, err := e.Fragments(128)
    if err != nil || len(frags) != 1 || frags[0].HasFlag(FlagFragment) {
        t.Fatalf("frags=%v err=%v", frags, err)
    }
    if _, err := e.Fragments(0); err == nil { t.Fatalf("expected chunk error") }
}

func TestAssemblerInterleaved(t *testing.T) {
    a := NewAssembler()
    m1 := Envelope{Header: Header{Type: MsgTagData, Source: 1, Seq: 1}, Payload: bytes.Repeat([]byte{1}, 300)}
    m2 := Envelope{Header: Header{Type: MsgTagData, Source: 1, Seq: 2}, Payload: bytes.Repeat([]byte{2}, 250)}
    f1, _ := m1.Fragments(100)
    f2, _ := m2.Fragments(100)

    order := []Envelope{f1[0], f2[0], f1[1], f2[1], f2[2], f1[2]}
    var got [][]byte
    for _, f := range order {
        // frame buffers are reused by readers
        f.Payload = append([]byte(nil), f.Payload...)
        whole, ok, err := a.Add(f)
        if err != nil { t.Fatalf("add: %v", err) }
        if ok { got = append(got, whole.Payload) }
    }
    if len(got) != 2 { t.Fatalf("completed %d messages", len(got)) }
    if !bytes.Equal(got[0], m2.Payload) || !bytes.Equal(got[1], m1.Payload) { t.Fatalf("payload mismatch") }
    if a.Pending() != 0 { t.Fatalf("pending = %d", a.Pending()) }

    plain := Envelope{Header: Header{Type: MsgFin}}
    if _, ok, _ := a.Add(plain); !ok { t.Fatalf("unfragmented envelope must pass through") }
}
