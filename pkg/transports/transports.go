// Package transports builds link transports by kind.
package transports

import (
    "fmt"

    "ucxp2p/pkg/transport"
    "ucxp2p/pkg/transport/mem"
    "ucxp2p/pkg/transport/quic"
    "ucxp2p/pkg/transport/tcp"
)

// NewByKind returns a transport for k. The in-memory kind resolves to the
// process-wide shared instance so that workers in one process can reach
// each other.
func NewByKind(k transport.Kind) (transport.Transport, error) {
    switch k {
    case transport.KindMem:
        return mem.Shared(), nil
    case transport.KindTCP:
        return tcp.New(), nil
    case transport.KindQUIC:
        return quic.New()
    case transport.KindWinPipe:
        return newWinPipeTransport()
    default:
        return nil, fmt.Errorf("unsupported transport kind %s", k)
    }
}
