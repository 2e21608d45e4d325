//go:build linux

package sockopt

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// control sets SO_REUSEADDR so a restarted server can rebind a port
// with connections still in TIME_WAIT.
func control(network, address string, c syscall.RawConn) error {
	var serr error
	if err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return serr
}
