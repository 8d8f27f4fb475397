package transport

import (
    "fmt"
    "net"
)

// TempPeerID builds a temporary peer id from transport kind and remote address.
// It is used until the hello frame names the remote worker.
func TempPeerID(kind Kind, addr net.Addr) PeerID {
    if addr == nil { return PeerID(fmt.Sprintf("temp:%s:unknown", kind)) }
    return PeerID(fmt.Sprintf("temp:%s:%s", kind, addr.String()))
}

// WorkerPeerID builds the peer id of a session opened by a remote endpoint.
// One remote worker may open several endpoints, so the endpoint sequence is
// part of the id.
func WorkerPeerID(worker string, endpoint uint64) PeerID {
    return PeerID(fmt.Sprintf("worker:%s/ep%d", worker, endpoint))
}
