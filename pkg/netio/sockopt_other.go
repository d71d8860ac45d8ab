//go:build !unix

package netio

import "syscall"

func control(opts Options) func(network, address string, c syscall.RawConn) error {
	return nil
}
