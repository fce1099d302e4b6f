// Package ws handles WebSocket connection management, including upgrading
// HTTP connections, authenticating them at handshake time, maintaining active
// connections, and dispatching incoming frames to the appropriate handlers.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parley/chat-app/internal/chat"
	"github.com/parley/chat-app/internal/metrics"
	"github.com/parley/chat-app/internal/protocol"
)

const (
	// maxFrameBytes is the largest data frame that can carry valid content:
	// every content byte may arrive as a six byte \uXXXX escape, plus room
	// for the envelope and identifiers. Larger frames are discarded with an
	// invalid_input error and the connection stays open.
	maxFrameBytes = 6*chat.MaxMessageBytes + 1024

	// maxTransportFrameBytes closes the connection instead.
	maxTransportFrameBytes = 1 << 20
)

// ErrConnectionNotFound is returned by SendMessage when the target connection
// has already been closed or never existed.
var ErrConnectionNotFound = errors.New("ws: connection not found")

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr       string         // address to listen on, e.g. ":8080"
	WorkerPoolSize   int            // max concurrent read-worker goroutines
	MaxConnections   int            // hard cap on total connections
	ReadTimeout      time.Duration  // timeout for WebSocket read operations
	WriteTimeout     time.Duration  // timeout for WebSocket write operations
	HandshakeTimeout time.Duration  // bound on credential verification and user lookup
	TrustedProxies   []netip.Prefix // peers whose X-Forwarded-For header is honored
	Heartbeat        HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:       ":8080",
		WorkerPoolSize:   256,
		MaxConnections:   100000,
		ReadTimeout:      10 * time.Second,
		WriteTimeout:     10 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		Heartbeat:        DefaultHeartbeatConfig(),
	}
}

// Handshake is the metadata available when a connection is opened.
type Handshake struct {
	Header     http.Header
	Query      url.Values
	RemoteAddr string // client IP, honoring X-Forwarded-For
}

// Lifecycle authenticates new connections and is told when they go away.
// OnConnect returns the authenticated subject ID; any error terminates the
// connection after an error event carrying chat.Code(err) is written.
type Lifecycle interface {
	OnConnect(ctx context.Context, connID string, hs Handshake) (subjectID string, err error)
	OnDisconnect(connID string)
}

// Server is the high-performance WebSocket server built on gobwas/ws and Linux
// epoll. It upgrades HTTP connections to WebSocket, authenticates them through
// the Lifecycle, registers them with an epoll instance for I/O readiness
// notifications, and dispatches ready connections to a bounded worker pool for
// frame reading.
type Server struct {
	config     ServerConfig
	log        *zap.Logger
	epoll      *Epoll
	conns      *ConnectionManager
	lifecycle  Lifecycle
	workerPool chan struct{}                       // semaphore limiting concurrent read workers
	onMessage  func(conn *Connection, data []byte) // message handler callback
	routes     map[string]http.Handler             // extra HTTP routes mounted next to /ws
	httpServer *http.Server
	done       chan struct{}
	startedAt  time.Time
}

// NewServer creates a Server with the given configuration, lifecycle and
// message callback. The onMessage function is called from a worker goroutine
// whenever a complete WebSocket text frame is received from a client.
func NewServer(config ServerConfig, log *zap.Logger, lifecycle Lifecycle, onMessage func(conn *Connection, data []byte)) *Server {
	return &Server{
		config:     config,
		log:        log.Named("ws"),
		conns:      NewConnectionManager(),
		lifecycle:  lifecycle,
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		routes:     make(map[string]http.Handler),
		done:       make(chan struct{}),
	}
}

// Handle mounts an additional HTTP handler on the server's mux. It must be
// called before Start.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.routes[pattern] = handler
}

// Start initializes the epoll instance, configures the HTTP server, and begins
// accepting WebSocket connections. It starts the epoll event loop in a
// background goroutine and blocks on http.Server.ListenAndServe.
func (s *Server) Start() error {
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}

	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	for pattern, h := range s.routes {
		mux.Handle(pattern, h)
	}

	s.httpServer = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: s.config.ReadTimeout,
	}

	go s.startEventLoop()

	StartHeartbeat(s, s.config.Heartbeat)

	s.log.Info("server listening",
		zap.String("addr", s.config.ListenAddr),
		zap.Int("workers", s.config.WorkerPoolSize),
		zap.Int("max_conns", s.config.MaxConnections))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade upgrades an HTTP request to a WebSocket connection using the
// gobwas/ws zero-copy upgrader, then authenticates it. Only authenticated
// connections are registered with epoll, so no frame from an anonymous client
// ever reaches the dispatcher.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	hs := Handshake{
		Header:     r.Header.Clone(),
		Query:      r.URL.Query(),
		RemoteAddr: clientIP(r, s.config.TrustedProxies),
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	now := time.Now()
	c := &Connection{
		ID:         uuid.New().String(),
		Conn:       conn,
		Fd:         socketFD(conn),
		RemoteAddr: hs.RemoteAddr,
		CreatedAt:  now,
	}
	c.Touch()
	s.conns.Add(c)

	if s.lifecycle != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.HandshakeTimeout)
		subject, err := s.lifecycle.OnConnect(ctx, c.ID, hs)
		cancel()
		if err != nil {
			s.rejectHandshake(c, err)
			return
		}
		c.SubjectID = subject
	}
	metrics.ConnectionsTotal.Inc()

	confirm, err := protocol.NewServerMessage(protocol.TypeConfirmation, protocol.ConfirmationMsg{
		UserID: c.SubjectID,
	})
	if err != nil {
		s.log.Error("build confirmation", zap.String("conn_id", c.ID), zap.Error(err))
	} else if err := s.SendMessage(c.ID, confirm); err != nil {
		s.log.Warn("send confirmation", zap.String("conn_id", c.ID), zap.Error(err))
	}

	if err := s.epoll.Add(conn); err != nil {
		s.log.Error("epoll add failed", zap.String("conn_id", c.ID), zap.Error(err))
		s.RemoveConnection(c)
		return
	}

	s.log.Info("connection opened",
		zap.String("conn_id", c.ID),
		zap.String("user_id", c.SubjectID),
		zap.Int("fd", c.Fd),
		zap.Int("total", s.conns.Count()))
}

// rejectHandshake writes a single error event and terminates the connection.
// No session exists for it, so the lifecycle is not notified.
func (s *Server) rejectHandshake(c *Connection, cause error) {
	code := chat.Code(cause)
	if data, err := protocol.NewErrorMessage(code); err == nil {
		if err := s.SendMessage(c.ID, data); err != nil {
			s.log.Debug("send handshake error", zap.String("conn_id", c.ID), zap.Error(err))
		}
	}
	s.conns.Remove(c.ID)
	s.log.Info("handshake rejected",
		zap.String("conn_id", c.ID),
		zap.String("remote_addr", c.RemoteAddr),
		zap.String("code", code),
		zap.Error(cause))
}

// handleHealth responds with the server's health status as JSON, including the
// current connection count and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// startEventLoop runs the epoll wait loop. For each batch of ready
// connections, it dispatches each to a worker goroutine (bounded by the
// worker pool semaphore) that reads and processes the WebSocket frame.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait(epollWaitTimeoutMs)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				if isEINTR(err) {
					continue
				}
				s.log.Error("epoll wait", zap.Error(err))
				continue
			}
		}

		for _, conn := range conns {
			conn := conn

			s.workerPool <- struct{}{}

			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads a single WebSocket frame from a ready connection using
// wsutil.NextReader so that control frames (ping, pong) are handled without
// blocking on a data frame that may never arrive. If the read fails the
// connection is removed.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// Guard against duplicate dispatch from level-triggered epoll.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A read timeout means no data was available (stale epoll dispatch).
		// The heartbeat handles dead connections.
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	_ = netConn.SetReadDeadline(time.Time{})

	// Any frame proves the connection is alive.
	c.Touch()

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
		}
		return
	}

	if header.Length > maxTransportFrameBytes {
		s.log.Warn("frame exceeds transport limit", zap.String("conn_id", c.ID), zap.Int64("length", header.Length))
		s.RemoveConnection(c)
		return
	}
	if header.Length > maxFrameBytes {
		s.discardFrame(c, reader, header.Length)
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err = io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}

	if len(data) == 0 {
		return
	}

	if s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// discardFrame drains an oversized frame so the stream stays aligned on the
// next frame, then answers with invalid_input.
func (s *Server) discardFrame(c *Connection, reader io.Reader, length int64) {
	if _, err := io.Copy(io.Discard, reader); err != nil {
		s.RemoveConnection(c)
		return
	}
	s.log.Info("oversized frame discarded", zap.String("conn_id", c.ID), zap.Int64("length", length))

	data, err := protocol.NewErrorMessage(chat.CodeInvalidInput)
	if err != nil {
		s.log.Error("build error message", zap.String("conn_id", c.ID), zap.Error(err))
		return
	}
	if err := c.WriteMessageTimeout(data, s.config.WriteTimeout); err != nil {
		s.log.Debug("send error message", zap.String("conn_id", c.ID), zap.Error(err))
	}
}

// RemoveConnection removes a connection from both epoll and the connection
// manager, closes the underlying network connection and notifies the
// lifecycle. It is safe to call more than once for the same connection.
func (s *Server) RemoveConnection(c *Connection) {
	if s.epoll != nil {
		_ = s.epoll.Remove(c.Conn)
	}

	// Only the caller that actually removed the connection continues, which
	// prevents double cleanup when a read error races a heartbeat timeout.
	if !s.conns.Remove(c.ID) {
		return
	}

	if s.lifecycle != nil {
		s.lifecycle.OnDisconnect(c.ID)
	}

	metrics.ConnectionsTotal.Dec()
	s.log.Info("connection closed",
		zap.String("conn_id", c.ID),
		zap.String("user_id", c.SubjectID),
		zap.Int("total", s.conns.Count()))
}

// SendMessage writes a WebSocket text frame to the connection identified by
// connID. It is goroutine-safe thanks to the per-connection write mutex.
func (s *Server) SendMessage(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, connID)
	}
	return c.WriteMessageTimeout(data, s.config.WriteTimeout)
}

// Connections returns the ConnectionManager for external access to connection
// state (e.g., by the heartbeat).
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown performs a graceful shutdown of the server. It stops the HTTP
// listener, signals the event loop to exit, closes all active connections,
// and cleans up the epoll instance.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")

	close(s.done)

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.Warn("http shutdown", zap.Error(err))
		}
	}

	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}

	if s.epoll != nil {
		_ = s.epoll.Close()
	}

	s.log.Info("server stopped, all connections closed")
	return nil
}

// clientIP returns the address the connect rate rule is keyed on. The peer
// address is used unless the peer is a trusted proxy; then X-Forwarded-For is
// walked from the nearest hop and the first untrusted address wins.
func clientIP(r *http.Request, trusted []netip.Prefix) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !isTrusted(host, trusted) {
		return host
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if _, err := netip.ParseAddr(hop); err != nil {
			break
		}
		if !isTrusted(hop, trusted) {
			return hop
		}
		host = hop
	}
	return host
}

func isTrusted(host string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// isEINTR checks if the error is a syscall interrupted error (EINTR),
// which is expected during signal handling and should be retried.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}
