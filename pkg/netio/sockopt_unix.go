//go:build unix

package netio

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// Socket options applied before bind
func control(opts Options) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error

		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(
				int(fd),
				unix.SOL_SOCKET,
				unix.SO_REUSEADDR,
				1,
			)
			if sockErr != nil || opts.ReadBuffer <= 0 {
				return
			}

			sockErr = unix.SetsockoptInt(
				int(fd),
				unix.SOL_SOCKET,
				unix.SO_RCVBUF,
				opts.ReadBuffer,
			)
		})

		if err != nil {
			return err
		}

		return sockErr
	}
}
