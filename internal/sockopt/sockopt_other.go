//go:build !linux

package sockopt

import "syscall"

func control(network, address string, c syscall.RawConn) error {
	return nil
}
