// Package signal exposes the broadcast registry over WebSocket endpoints.
package signal

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"quickdowntime/internal/core/domain"
	"quickdowntime/internal/infrastructure/broadcast"
	"quickdowntime/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Application close codes sent when a handshake is rejected.
const (
	CloseUnauthorized = 4001
	CloseForbidden    = 4003
)

// TokenVerifier resolves a bearer token to a user.
type TokenVerifier interface {
	VerifyToken(token string) (*domain.User, error)
}

// ConnectionObserver is told about accepted and rejected sockets.
type ConnectionObserver interface {
	ConnectionOpened(endpoint string)
	ConnectionClosed(endpoint string)
	HandshakeRejected(endpoint string, code int)
}

type Options struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	AllowedOrigins []string
}

func DefaultOptions() Options {
	return Options{
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 64 * 1024,
		AllowedOrigins: []string{"*"},
	}
}

type Server struct {
	hub      *broadcast.Manager
	auth     TokenVerifier
	opts     Options
	upgrader websocket.Upgrader
	observer ConnectionObserver
	logger   *zap.SugaredLogger
}

func NewServer(hub *broadcast.Manager, auth TokenVerifier, opts Options, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	defaults := DefaultOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = defaults.PongTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaults.MaxMessageSize
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = defaults.AllowedOrigins
	}
	s := &Server{
		hub:    hub,
		auth:   auth,
		opts:   opts,
		logger: logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// SetObserver installs a connection observer, typically the metrics collector.
func (s *Server) SetObserver(o ConnectionObserver) {
	s.observer = o
}

// RegisterRoutes mounts the socket endpoints.
func (s *Server) RegisterRoutes(r gin.IRoutes) {
	r.GET("/api/ws/manager", s.HandleManager)
	r.GET("/api/ws/operator", s.HandleOperator)
	r.GET("/api/ws/machine/:machine_id", s.HandleMachine)
	r.GET("/ws/management", s.HandleLegacy)
}

// HandleManager accepts manager dashboards.
func (s *Server) HandleManager(c *gin.Context) {
	s.serveRole(c, "/api/ws/manager", domain.RoleManager)
}

// HandleOperator accepts operator terminals.
func (s *Server) HandleOperator(c *gin.Context) {
	s.serveRole(c, "/api/ws/operator", domain.RoleOperator)
}

// HandleMachine subscribes any authenticated user to one machine channel.
func (s *Server) HandleMachine(c *gin.Context) {
	const endpoint = "/api/ws/machine"

	conn, ok := s.accept(c, endpoint)
	if !ok {
		return
	}
	user, err := s.authenticate(c)
	if err != nil {
		s.reject(conn, endpoint, CloseUnauthorized, "invalid token")
		return
	}

	channel := domain.MachineChannel(c.Param("machine_id"))
	s.hub.JoinChannel(conn, channel)
	s.serve(c.Request.Context(), conn, endpoint, string(user.Role), "channel", channel, "user_id", user.ID)
}

// HandleLegacy serves the unauthenticated management socket, which receives
// the global broadcasts.
func (s *Server) HandleLegacy(c *gin.Context) {
	const endpoint = "/ws/management"

	conn, ok := s.accept(c, endpoint)
	if !ok {
		return
	}
	s.hub.Register(conn)
	s.serve(c.Request.Context(), conn, endpoint, "")
}

func (s *Server) serveRole(c *gin.Context, endpoint string, role domain.Role) {
	conn, ok := s.accept(c, endpoint)
	if !ok {
		return
	}

	user, err := s.authenticate(c)
	if err != nil {
		s.reject(conn, endpoint, CloseUnauthorized, "invalid token")
		return
	}
	if user.Role != role {
		s.reject(conn, endpoint, CloseForbidden, "role not permitted")
		return
	}

	s.hub.RegisterWithRole(conn, role)
	s.serve(c.Request.Context(), conn, endpoint, string(role), "user_id", user.ID)
}

func (s *Server) accept(c *gin.Context, endpoint string) (*wsConn, bool) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "endpoint", endpoint, "error", err)
		return nil, false
	}
	ws.SetReadLimit(s.opts.MaxMessageSize)
	return newWSConn(ws, s.opts.WriteTimeout), true
}

func (s *Server) authenticate(c *gin.Context) (*domain.User, error) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	if token == "" || s.auth == nil {
		return nil, domain.ErrUnauthorized
	}
	return s.auth.VerifyToken(token)
}

func (s *Server) reject(conn *wsConn, endpoint string, code int, reason string) {
	s.logger.Infow("websocket handshake rejected", "endpoint", endpoint, "code", code)
	if s.observer != nil {
		s.observer.HandshakeRejected(endpoint, code)
	}
	_ = conn.closeWith(code, reason)
}

// serve keeps a registered connection alive until the peer goes away, then
// removes it from the registry. Inbound messages are read and discarded.
func (s *Server) serve(ctx context.Context, conn *wsConn, endpoint, role string, logKV ...any) {
	_, span := tracing.TraceWebSocketSession(ctx, endpoint, role)
	defer span.End()

	if s.observer != nil {
		s.observer.ConnectionOpened(endpoint)
		defer s.observer.ConnectionClosed(endpoint)
	}

	kv := append([]any{"endpoint", endpoint}, logKV...)
	s.logger.Infow("websocket client connected", kv...)

	ws := conn.ws
	_ = ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	})

	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				readErr <- err
				return
			}
			_ = ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
		}
	}()

	pingTicker := time.NewTicker(s.opts.PingInterval)
	defer pingTicker.Stop()

loop:
	for {
		select {
		case <-pingTicker.C:
			if err := conn.ping(); err != nil {
				s.logger.Debugw("websocket ping failed", append(kv, "error", err)...)
				break loop
			}
		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrReadLimit) {
				s.logger.Debugw("websocket read failed", append(kv, "error", err)...)
			}
			break loop
		}
	}

	s.hub.Unregister(conn)
	_ = conn.Close()
	s.logger.Infow("websocket client disconnected", kv...)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
