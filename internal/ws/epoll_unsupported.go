//go:build !unix

package ws

import (
	"errors"
	"net"
)

const epollWaitTimeoutMs = 500

var errNoPoller = errors.New("ws: readiness polling is not supported on this platform")

// Epoll is unavailable where neither epoll nor poll(2) exist.
type Epoll struct{}

func NewEpoll() (*Epoll, error) { return nil, errNoPoller }

func (*Epoll) Add(net.Conn) error           { return errNoPoller }
func (*Epoll) Remove(net.Conn) error        { return nil }
func (*Epoll) Wait(int) ([]net.Conn, error) { return nil, errNoPoller }
func (*Epoll) Close() error                 { return nil }
