package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"palaver/internal/api"
	"palaver/internal/auth"
	"palaver/internal/presence"
	"palaver/internal/storage"
	"palaver/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(authService *auth.Service, hub *ws.Hub, tracker *presence.Tracker, store *storage.BboltStorage, addr string) *APIServer {
	server := ws.NewServer(authService, hub)
	apiHandlers := api.New(authService, tracker, store)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/signup", apiHandlers.SignupHandler)
	mux.HandleFunc("POST /api/login", apiHandlers.LoginHandler)
	mux.HandleFunc("POST /api/logoff", apiHandlers.LogoffHandler)
	mux.HandleFunc("GET /api/users", apiHandlers.RequireAuth(apiHandlers.UsersHandler))
	mux.HandleFunc("GET /api/history/{peer}", apiHandlers.RequireAuth(apiHandlers.HistoryHandler))
	mux.HandleFunc("POST /api/push/subscribe", apiHandlers.RequireAuth(apiHandlers.SubscribeHandler))

	// WebSocket endpoint
	mux.HandleFunc("/api/chat", server.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
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
