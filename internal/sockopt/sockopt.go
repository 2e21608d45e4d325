// Package sockopt configures listening sockets before bind.
package sockopt

import "net"

// ListenConfig returns a net.ListenConfig whose Control hook applies the
// platform's socket options.
func ListenConfig() net.ListenConfig {
	return net.ListenConfig{Control: control}
}
