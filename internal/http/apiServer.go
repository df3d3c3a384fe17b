package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/cors"

	"parley/internal/api"
)

type APIServer struct {
	server *http.Server
	logger *slog.Logger
	wg     sync.WaitGroup
}

type APIServerConfig struct {
	Addr string
	// FrontendURL is the only origin allowed to make credentialed requests.
	FrontendURL string
	Logger      *slog.Logger
}

// NewAPIServer serves the REST API and the socket gateway on one listener.
func NewAPIServer(handlers *api.API, socket http.HandlerFunc, cfg APIServerConfig) *APIServer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/signup", handlers.SignupHandler)
	mux.HandleFunc("POST /auth/login", handlers.LoginHandler)
	mux.HandleFunc("POST /auth/logout", handlers.LogoutHandler)

	mux.HandleFunc("GET /profile", handlers.RequireAuth(handlers.ProfileHandler))
	mux.HandleFunc("GET /profile/userall", handlers.UsersHandler)
	mux.HandleFunc("PUT /profile/updateProfile", handlers.RequireAuth(handlers.UpdateProfileHandler))

	mux.HandleFunc("GET /message/messageall", handlers.RequireAuth(handlers.MessagesHandler))
	mux.HandleFunc("POST /message/savemessage", handlers.SaveMessageHandler)
	mux.HandleFunc("DELETE /message/deletemessage/{id}", handlers.DeleteMessageHandler)

	mux.HandleFunc("POST /channel/channels", handlers.CreateChannelHandler)
	mux.HandleFunc("GET /channel/channels", handlers.ChannelsHandler)
	mux.HandleFunc("POST /channel/channels/{id}/members", handlers.AddMemberHandler)
	mux.HandleFunc("POST /channel/messages", handlers.SaveChannelMessageHandler)
	mux.HandleFunc("GET /channel/messages/{channelId}", handlers.ChannelMessagesHandler)

	mux.HandleFunc("GET /presence", handlers.RequireAuth(handlers.PresenceHandler))

	// WebSocket endpoint
	mux.HandleFunc("/socket", socket)

	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.FrontendURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "token"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	addr := cfg.Addr
	if addr == "" {
		addr = ":3000"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: Metrics(corsHandler(mux)),
		},
		logger: logger,
	}
}

// Handler exposes the routed handler, mostly for tests.
func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *APIServer) Start() error {
	s.logger.Info("API server started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
