//go:build !darwin && !linux

package transport

import (
	"errors"
	"net"
)

func peerUID(net.Conn) (uint32, error) {
	return 0, errors.New("peer credentials not supported on this platform")
}
