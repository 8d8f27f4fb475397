package protocol

// Message types (fits in uint8)
const (
    MsgUnknown  uint8 = iota
    MsgHello          // endpoint introduces its worker to the remote worker
    MsgTagData        // tagged payload (or a fragment of one)
    MsgFin            // endpoint closed after flushing all prior data
    MsgJoin           // bootstrap: rank announces its worker address
    MsgAddressBook    // bootstrap: rank 0 answers with every address
)

// Flags bitmask (uint32)
const (
    FlagFragment uint32 = 1 << 0 // this envelope is a fragment
    FlagLastFrag uint32 = 1 << 1 // last fragment
    FlagForce    uint32 = 1 << 2 // MsgFin: sender discarded queued data
)

// ContentType is optional hint for payload decoding.
// Kept as constants to avoid coupling; not serialized in header.
const (
    ContentUnknown = "application/octet-stream"
    ContentCBOR    = "application/cbor"
    ContentJSON    = "application/json"
    ContentProto   = "application/x-protobuf"
)

// Version is the wire version written by this package.
const Version uint8 = 1
