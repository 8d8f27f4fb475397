package protocol

import (
    "encoding/binary"
    "errors"
)

// Fixed header layout (64 bytes). All integer fields are little-endian.
//
//  0  ..1   Magic   'U''P' (0x5055)
//  2        Version u8
//  3        Type    u8
//  4  ..7   Flags   u32
//  8        MemType u8
//  9        Reserved u8
//  10 ..13  PayloadLen u32
//  14 ..21  Tag    u64
//  22 ..29  Seq    u64
//  30 ..37  Source u64
//  38 ..45  TotalLen u64
//  46 ..49  FragIndex u32
//  50 ..53  FragTotal u32
//  54 ..63  Reserved2
const (
    HeaderSize = 64
    magicWord  = uint16(0x5055) // 'U''P'
)

var (
    ErrShortHeader = errors.New("short header")
    ErrBadMagic    = errors.New("bad magic")
)

// Header describes metadata for an envelope.
type Header struct {
    Version    uint8
    Type       uint8
    Flags      uint32
    MemType    uint8
    PayloadLen uint32
    Tag        uint64
    Seq        uint64
    Source     uint64
    TotalLen   uint64
    FragIndex  uint32
    FragTotal  uint32
}

// MarshalBinary encodes header to a 64-byte buffer.
func (h *Header) MarshalBinary() ([]byte, error) {
    buf := make([]byte, HeaderSize)
    h.put(buf)
    return buf, nil
}

func (h *Header) put(buf []byte) {
    binary.LittleEndian.PutUint16(buf[0:2], magicWord)
    buf[2] = h.Version
    buf[3] = h.Type
    binary.LittleEndian.PutUint32(buf[4:8], h.Flags)
    buf[8] = h.MemType
    binary.LittleEndian.PutUint32(buf[10:14], h.PayloadLen)
    binary.LittleEndian.PutUint64(buf[14:22], h.Tag)
    binary.LittleEndian.PutUint64(buf[22:30], h.Seq)
    binary.LittleEndian.PutUint64(buf[30:38], h.Source)
    binary.LittleEndian.PutUint64(buf[38:46], h.TotalLen)
    binary.LittleEndian.PutUint32(buf[46:50], h.FragIndex)
    binary.LittleEndian.PutUint32(buf[50:54], h.FragTotal)
}

// UnmarshalBinary decodes header from a 64-byte buffer.
func (h *Header) UnmarshalBinary(buf []byte) error {
    if len(buf) < HeaderSize { return ErrShortHeader }
    if binary.LittleEndian.Uint16(buf[0:2]) != magicWord { return ErrBadMagic }
    h.Version = buf[2]
    h.Type = buf[3]
    h.Flags = binary.LittleEndian.Uint32(buf[4:8])
    h.MemType = buf[8]
    h.PayloadLen = binary.LittleEndian.Uint32(buf[10:14])
    h.Tag = binary.LittleEndian.Uint64(buf[14:22])
    h.Seq = binary.LittleEndian.Uint64(buf[22:30])
    h.Source = binary.LittleEndian.Uint64(buf[30:38])
    h.TotalLen = binary.LittleEndian.Uint64(buf[38:46])
    h.FragIndex = binary.LittleEndian.Uint32(buf[46:50])
    h.FragTotal = binary.LittleEndian.Uint32(buf[50:54])
    return nil
}
