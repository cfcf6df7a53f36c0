package ws

import (
	"log"
	"net/http"

	"palaver/internal/auth"

	"github.com/gorilla/websocket"
)

type Server struct {
	auth     *auth.Service
	hub      *Hub
	upgrader *websocket.Upgrader
}

func NewServer(auth *auth.Service, hub *Hub) *Server {
	return &Server{
		auth: auth,
		hub:  hub,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}
}

// HandleConnections upgrades a websocket and runs its event pumps. The
// identity is verified before any core event is dispatched; without a
// valid token there is no session at all.
func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}

	identity, err := s.auth.Identity(token)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}

	conn := NewConnection(s.hub, ws, identity)
	if err := conn.Handle(r.Context()); err != nil {
		log.Printf("connection closed with error: %v", err)
	}
}
