// Package ws handles WebSocket connection management: authenticating and
// upgrading HTTP requests, tracking live connections, and dispatching
// incoming frames to the gateway through a bounded worker pool.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/moviemark/studio-chat/internal/apperr"
	"github.com/moviemark/studio-chat/internal/auth"
	"github.com/moviemark/studio-chat/internal/logging"
	"github.com/moviemark/studio-chat/internal/metrics"
	"github.com/moviemark/studio-chat/internal/protocol"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
	MaxFrameSize   int64         // largest accepted data frame in bytes
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxFrameSize:   64 << 10,
	}
}

// Authenticator turns the credential on an upgrade request into an identity.
type Authenticator interface {
	Authenticate(r *http.Request) (auth.Identity, error)
}

// Server is the WebSocket server built on gobwas/ws and epoll. It upgrades
// authenticated HTTP requests, registers the connections with the poller and
// hands readable connections to a bounded worker pool for frame reading.
type Server struct {
	config       ServerConfig
	epoll        *Epoll
	conns        *ConnectionManager
	authn        Authenticator
	workerPool   chan struct{}                       // semaphore limiting concurrent read workers
	onMessage    func(conn *Connection, data []byte) // message handler callback
	onDisconnect func(conn *Connection)              // called once when a connection is removed
	mux          *http.ServeMux
	httpServer   *http.Server
	log          *logrus.Entry
	done         chan struct{}
	startedAt    time.Time
}

// NewServer creates a Server. onMessage is called from a worker goroutine
// whenever a complete WebSocket text frame is received from a client.
func NewServer(config ServerConfig, authn Authenticator, onMessage func(conn *Connection, data []byte), log *logrus.Entry) *Server {
	if config.MaxFrameSize <= 0 {
		config.MaxFrameSize = DefaultServerConfig().MaxFrameSize
	}
	s := &Server{
		config:     config,
		conns:      NewConnectionManager(),
		authn:      authn,
		workerPool: make(chan struct{}, max(config.WorkerPoolSize, 1)),
		onMessage:  onMessage,
		mux:        http.NewServeMux(),
		log:        logging.OrDiscard(log),
		done:       make(chan struct{}),
		startedAt:  time.Now(),
	}
	s.mux.HandleFunc("/ws", s.handleUpgrade)
	s.mux.HandleFunc("/health", s.handleHealth)
	return s
}

// Handle mounts an additional HTTP handler next to the WebSocket endpoint.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// SetOnDisconnect registers a callback invoked once when a connection is
// removed (read error, heartbeat timeout, or close frame).
func (s *Server) SetOnDisconnect(fn func(conn *Connection)) {
	s.onDisconnect = fn
}

// Start initializes the poller, starts the event loop and the heartbeat,
// and blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}

	s.startedAt = time.Now()
	s.httpServer = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.startEventLoop()
	StartHeartbeat(s, DefaultHeartbeatConfig())

	s.log.WithFields(logrus.Fields{
		"addr":      s.config.ListenAddr,
		"workers":   s.config.WorkerPoolSize,
		"max_conns": s.config.MaxConnections,
	}).Info("ws server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade verifies the credential, then upgrades the request with the
// gobwas/ws zero-copy upgrader. A rejected credential never reaches the
// upgrade, so nothing is registered.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxConnections > 0 && s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	user, err := s.authn.Authenticate(r)
	if err != nil {
		s.log.WithError(err).WithField("remote", r.RemoteAddr).Debug("ws upgrade rejected")
		http.Error(w, apperr.Message(err), apperr.HTTPStatus(err))
		return
	}
	if s.epoll == nil {
		http.Error(w, "server not started", http.StatusServiceUnavailable)
		return
	}

	raw, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.WithError(err).Warn("ws upgrade failed")
		return
	}

	netConn := s.epoll.Wrap(raw)
	c := NewConnection(uuid.New().String(), user, netConn, s.config.WriteTimeout)
	log := s.log.WithFields(logrus.Fields{"conn_id": c.ID, "user_id": user.UserID})

	s.conns.Add(c)
	if err := s.epoll.Add(netConn); err != nil {
		log.WithError(err).Error("epoll add failed")
		s.conns.Remove(c.ID)
		return
	}
	metrics.ConnectionsTotal.Inc()

	frame, err := protocol.NewServerMessage(protocol.TypeSessionCreated, protocol.SessionCreatedMsg{
		ConnID: c.ID,
		User:   user,
	})
	if err != nil {
		log.WithError(err).Error("failed to build session_created")
	} else if err := c.WriteMessage(frame); err != nil {
		log.WithError(err).Warn("failed to send session_created")
	}

	log.WithField("total", s.conns.Count()).Info("connection opened")
}

// handleHealth reports the connection count and uptime as JSON.
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

// startEventLoop runs the poller wait loop. Each ready connection is read by
// a worker goroutine, bounded by the worker pool semaphore.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if !isEINTR(err) {
				s.log.WithError(err).Warn("epoll wait error")
			}
			continue
		}

		for _, conn := range conns {
			s.workerPool <- struct{}{}
			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads a single WebSocket frame from a ready connection. A read
// failure removes the connection; a read timeout is a stale readiness report
// and is ignored, since the heartbeat takes care of dead peers.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}
	defer s.epoll.Rearm(netConn)

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
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}
	_ = netConn.SetReadDeadline(time.Time{})
	c.Touch()

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
		}
		return
	}

	if header.Length > s.config.MaxFrameSize {
		s.log.WithFields(logrus.Fields{"conn_id": c.ID, "length": header.Length}).Warn("frame too large, closing")
		s.RemoveConnection(c)
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}
	if len(data) == 0 || s.onMessage == nil {
		return
	}
	s.onMessage(c, data)
}

// RemoveConnection unregisters and closes a connection. Only the first call
// for a given connection notifies the disconnect callback, so racing read
// errors and heartbeat timeouts clean up once.
func (s *Server) RemoveConnection(c *Connection) {
	if s.epoll != nil {
		_ = s.epoll.Remove(c.Conn)
	}
	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConnectionsTotal.Dec()

	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}
	s.log.WithFields(logrus.Fields{"conn_id": c.ID, "total": s.conns.Count()}).Info("connection closed")
}

// SendMessage writes a text frame to the connection identified by connID.
func (s *Server) SendMessage(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("ws: connection %s not found", connID)
	}
	return c.WriteMessage(data)
}

// Connections returns the ConnectionManager.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown stops the HTTP listener and the event loop, then closes every
// connection through the normal removal path so rooms see them leave.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("ws server shutting down")
	close(s.done)

	var err error
	if s.httpServer != nil {
		if err = s.httpServer.Shutdown(ctx); err != nil {
			err = fmt.Errorf("ws: http shutdown: %w", err)
		}
	}

	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}
	if s.epoll != nil {
		_ = s.epoll.Close()
	}
	s.log.Info("ws server stopped")
	return err
}
