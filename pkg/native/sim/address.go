package sim

import (
    "github.com/google/uuid"

    "ucxp2p/pkg/protocol/codec"
    "ucxp2p/pkg/transport"
)

const addressVersion = 1

// workerAddress is what Worker.Address hands out. It is opaque to callers.
type workerAddress struct {
    Version uint8     `cbor:"1,keyasint"`
    Fabric  string    `cbor:"2,keyasint"`
    Link    string    `cbor:"3,keyasint"`
    Worker  uuid.UUID `cbor:"4,keyasint"`
}

var addrCodec = func() codec.Codec {
    c, err := codec.CBOR()
    if err != nil { panic(err) }
    return c
}()

func encodeAddress(a workerAddress) ([]byte, error) { return addrCodec.Marshal(a) }

func decodeAddress(b []byte) (workerAddress, bool) {
    var a workerAddress
    if len(b) == 0 { return a, false }
    if err := addrCodec.Unmarshal(b, &a); err != nil { return a, false }
    if a.Version != addressVersion || a.Link == "" { return a, false }
    if transport.ParseKind(a.Fabric) == transport.KindUnknown { return a, false }
    return a, true
}
