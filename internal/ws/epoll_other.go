//go:build unix && !linux

package ws

import (
	"errors"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

const epollWaitTimeoutMs = 500

// Epoll is the poll(2) equivalent of the Linux implementation for the other
// unix platforms. Readiness is level-triggered as with epoll, so a
// connection with unread data is reported on every Wait until a worker
// drains it.
type Epoll struct {
	mu          sync.RWMutex
	connections map[int]net.Conn
	closed      bool
}

func NewEpoll() (*Epoll, error) {
	return &Epoll{connections: make(map[int]net.Conn)}, nil
}

func (e *Epoll) Add(conn net.Conn) error {
	fd := socketFD(conn)
	if fd < 0 {
		return errors.New("ws: connection has no file descriptor")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return net.ErrClosed
	}
	e.connections[fd] = conn
	return nil
}

func (e *Epoll) Remove(conn net.Conn) error {
	fd := socketFD(conn)
	e.mu.Lock()
	delete(e.connections, fd)
	e.mu.Unlock()
	return nil
}

// Wait polls every registered descriptor for up to timeoutMs. Hang-ups and
// errors count as ready so the read path observes the closure.
func (e *Epoll) Wait(timeoutMs int) ([]net.Conn, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, net.ErrClosed
	}
	fds := make([]unix.PollFd, 0, len(e.connections))
	for fd := range e.connections {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	e.mu.RUnlock()

	if len(fds) == 0 {
		// poll(2) with no descriptors still sleeps for the timeout.
		_, err := unix.Poll(nil, timeoutMs)
		return nil, err
	}

	n, err := unix.Poll(fds, timeoutMs)
	if err != nil || n == 0 {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	conns := make([]net.Conn, 0, n)
	for _, pfd := range fds {
		if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) == 0 {
			continue
		}
		if conn, ok := e.connections[int(pfd.Fd)]; ok {
			conns = append(conns, conn)
		}
	}
	return conns, nil
}

func (e *Epoll) Close() error {
	e.mu.Lock()
	e.closed = true
	e.connections = nil
	e.mu.Unlock()
	return nil
}
