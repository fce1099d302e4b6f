package ws

import (
	"net"
	"syscall"
)

// socketFD returns the descriptor behind conn through SyscallConn, which
// unlike File() does not duplicate it. It returns -1 for connections without
// one, such as net.Pipe ends in tests.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}

	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}

	fd := -1
	_ = raw.Control(func(sfd uintptr) {
		fd = int(sfd)
	})
	return fd
}
