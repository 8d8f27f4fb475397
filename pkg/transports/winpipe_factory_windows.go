//go:build windows

package transports

import (
    "ucxp2p/pkg/transport"
    "ucxp2p/pkg/transport/winpipe"
)

func newWinPipeTransport() (transport.Transport, error) { return winpipe.New(), nil }

