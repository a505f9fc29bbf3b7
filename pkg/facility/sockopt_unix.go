//go:build unix

package facility

import (
	"syscall"

	"github.com/irctrakz/netbench/pkg/core"
	"golang.org/x/sys/unix"
)

// socketControl sets socket options before bind. The transfer unit sizes
// the kernel buffers so a single facility call can move a whole unit.
func socketControl(config core.StackConfig) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var opErr error
		err := c.Control(func(fd uintptr) {
			if config.ReuseAddr {
				if opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); opErr != nil {
					return
				}
			}
			if config.TransferUnit > 0 {
				size := config.TransferUnit * socketBufferUnits
				if opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, size); opErr != nil {
					return
				}
				opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, size)
			}
		})
		if err != nil {
			return err
		}
		return opErr
	}
}
