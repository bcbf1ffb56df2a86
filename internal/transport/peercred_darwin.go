//go:build darwin

package transport

import (
	"net"

	"golang.org/x/sys/unix"
)

// peerUID returns the effective uid of the process on the other end of a
// unix-domain socket.
func peerUID(c net.Conn) (uint32, error) {
	raw, err := syscallConn(c)
	if err != nil {
		return 0, err
	}
	var cred *unix.Xucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptXucred(int(fd), unix.SOL_LOCAL, unix.LOCAL_PEERCRED)
	}); err != nil {
		return 0, err
	}
	if credErr != nil {
		return 0, credErr
	}
	return cred.Uid, nil
}
