//go:build windows

package discovery

import "syscall"

// enableBroadcast is a no-op on Windows; SO_BROADCAST handling there needs
// a different constant surface than the rest of this codebase's Unix-first
// permission handling (see identity.LoadOrGenerate's GOOS check), and this
// implementation does not target Windows deployments.
func enableBroadcast(rc syscall.RawConn) error {
	return nil
}
