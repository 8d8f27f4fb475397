package bootstrap

import (
    "encoding/base64"
    "fmt"

    "google.golang.org/protobuf/types/known/structpb"

    "ucxp2p/pkg/protocol"
    "ucxp2p/pkg/protocol/codec"
)

type joinBody struct {
    Rank    int    `cbor:"1,keyasint" json:"rank"`
    Address []byte `cbor:"2,keyasint" json:"address"`
}

type bookBody struct {
    Addresses [][]byte `cbor:"1,keyasint" json:"addresses"`
}

// Protobuf bodies are structpb.Struct values; addresses travel base64 encoded.
const (
    fieldRank      = "rank"
    fieldAddress   = "address"
    fieldAddresses = "addresses"
)

func encodeJoin(o options, rank int, addr []byte) (protocol.Envelope, error) {
    var v any = joinBody{Rank: rank, Address: addr}
    if o.format == protocol.FormatProto {
        s, err := structpb.NewStruct(map[string]any{
            fieldRank:    rank,
            fieldAddress: base64.StdEncoding.EncodeToString(addr),
        })
        if err != nil { return protocol.Envelope{}, err }
        v = s
    }
    e, err := protocol.NewEnvelopeWithBody(protocol.Header{Type: protocol.MsgJoin}, o.format, v, o.reg)
    if err != nil { return protocol.Envelope{}, fmt.Errorf("bootstrap: encode join: %w", err) }
    return e, nil
}

func decodeJoin(reg *codec.Registry, payload []byte) (int, []byte, error) {
    if isProto(payload) {
        var s structpb.Struct
        if _, err := protocol.DecodeBody(reg, payload, &s); err != nil { return 0, nil, fmt.Errorf("bootstrap: decode join: %w", err) }
        addr, err := base64.StdEncoding.DecodeString(s.GetFields()[fieldAddress].GetStringValue())
        if err != nil { return 0, nil, fmt.Errorf("bootstrap: decode join address: %w", err) }
        return int(s.GetFields()[fieldRank].GetNumberValue()), addr, nil
    }
    var b joinBody
    if _, err := protocol.DecodeBody(reg, payload, &b); err != nil { return 0, nil, fmt.Errorf("bootstrap: decode join: %w", err) }
    return b.Rank, b.Address, nil
}

func encodeBook(o options, book Book) (protocol.Envelope, error) {
    var v any = bookBody{Addresses: book.Addresses}
    if o.format == protocol.FormatProto {
        list := make([]any, len(book.Addresses))
        for i, a := range book.Addresses { list[i] = base64.StdEncoding.EncodeToString(a) }
        s, err := structpb.NewStruct(map[string]any{fieldAddresses: list})
        if err != nil { return protocol.Envelope{}, err }
        v = s
    }
    e, err := protocol.NewEnvelopeWithBody(protocol.Header{Type: protocol.MsgAddressBook}, o.format, v, o.reg)
    if err != nil { return protocol.Envelope{}, fmt.Errorf("bootstrap: encode book: %w", err) }
    return e, nil
}

func decodeBook(reg *codec.Registry, payload []byte) (Book, error) {
    if isProto(payload) {
        var s structpb.Struct
        if _, err := protocol.DecodeBody(reg, payload, &s); err != nil { return Book{}, fmt.Errorf("bootstrap: decode book: %w", err) }
        vals := s.GetFields()[fieldAddresses].GetListValue().GetValues()
        book := Book{Addresses: make([][]byte, len(vals))}
        for i, v := range vals {
            a, err := base64.StdEncoding.DecodeString(v.GetStringValue())
            if err != nil { return Book{}, fmt.Errorf("bootstrap: decode address of rank %d: %w", i, err) }
            book.Addresses[i] = a
        }
        return book, nil
    }
    var b bookBody
    if _, err := protocol.DecodeBody(reg, payload, &b); err != nil { return Book{}, fmt.Errorf("bootstrap: decode book: %w", err) }
    return Book{Addresses: b.Addresses}, nil
}

func isProto(payload []byte) bool {
    return len(payload) > 0 && protocol.Format(payload[0]) == protocol.FormatProto
}
