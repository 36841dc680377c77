//go:build !windows

package discovery

import "syscall"

// enableBroadcast sets SO_BROADCAST on the underlying socket so datagrams
// addressed to 255.255.255.255 are actually transmitted; Go's net package
// does not set this by default.
func enableBroadcast(rc syscall.RawConn) error {
	var sockErr error
	if err := rc.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	return sockErr
}
