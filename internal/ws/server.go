package ws

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

type tokenValidator interface {
	GetUserID(token string) (string, error)
}

type Server struct {
	auth      tokenValidator
	hub       *Hub
	upgrader  *websocket.Upgrader
	queueSize int
	logger    *slog.Logger
}

type ServerConfig struct {
	// AllowedOrigin is the frontend origin; "*" accepts any origin.
	AllowedOrigin string
	QueueSize     int
	Logger        *slog.Logger
}

func NewServer(auth tokenValidator, hub *Hub, cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		auth:      auth,
		hub:       hub,
		queueSize: cfg.QueueSize,
		logger:    logger,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r.Header.Get("Origin"), cfg.AllowedOrigin)
			},
		},
	}
}

func originAllowed(origin, allowed string) bool {
	if origin == "" || allowed == "*" {
		return true
	}
	return strings.EqualFold(strings.TrimRight(origin, "/"), strings.TrimRight(allowed, "/"))
}

// HandleConnections upgrades an authenticated request to a socket and
// serves it until it closes.
func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if _, err := s.auth.GetUserID(requestToken(r)); err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("error upgrading to websocket", "error", err)
		return
	}

	conn := NewConnection(s.hub, wsConn, s.queueSize)
	s.logger.Info("connection accepted", "conn_id", conn.ID, "remote_addr", r.RemoteAddr)

	if err := conn.Handle(r.Context()); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			s.logger.Warn("connection closed with error", "conn_id", conn.ID, "error", err)
			return
		}
	}
	s.logger.Info("connection closed", "conn_id", conn.ID)
}

// requestToken reads the session token from the cookie, the token header
// or the token query parameter, in that order.
func requestToken(r *http.Request) string {
	if c, err := r.Cookie("token"); err == nil && c.Value != "" {
		return c.Value
	}
	if token := r.Header.Get("token"); token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}
