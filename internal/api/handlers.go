package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"palaver/internal/auth"
	"palaver/internal/models"
	"palaver/internal/presence"
	"palaver/internal/storage"

	"github.com/SherClockHolmes/webpush-go"
)

const dmHistoryLimit = 100

type API struct {
	auth     *auth.Service
	presence *presence.Tracker
	store    *storage.BboltStorage
}

func New(authService *auth.Service, tracker *presence.Tracker, store *storage.BboltStorage) *API {
	return &API{auth: authService, presence: tracker, store: store}
}

type authedHandler func(w http.ResponseWriter, r *http.Request, identity string)

// RequireAuth resolves the bearer token before the handler runs.
func (a *API) RequireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := a.auth.Identity(a.getToken(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, identity)
	}
}

func (a *API) getToken(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	return token
}

func (a *API) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := a.auth.Signup(req.Username, req.Password); err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	token, expiry, err := a.auth.Login(req.Username, req.Password)
	if err != nil {
		http.Error(w, "Login failed", http.StatusUnauthorized)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
		Expires:  time.Unix(expiry, 0),
	})

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"token":       token,
		"tokenExpiry": expiry,
	}); err != nil {
		log.Printf("failed to encode login response: %v", err)
	}
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	if token := a.getToken(r); token != "" {
		_ = a.auth.Logoff(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})

	w.WriteHeader(http.StatusOK)
}

// UsersHandler lists known identities with their presence.
func (a *API) UsersHandler(w http.ResponseWriter, r *http.Request, _ string) {
	identities, err := a.store.ListIdentities()
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	infos := make([]models.PresenceInfo, 0, len(identities))
	for _, identity := range identities {
		infos = append(infos, a.presence.Info(identity))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(infos); err != nil {
		log.Printf("failed to encode users response: %v", err)
	}
}

// HistoryHandler returns the direct-message history between the
// requester and the peer named in the path.
func (a *API) HistoryHandler(w http.ResponseWriter, r *http.Request, identity string) {
	peer := r.PathValue("peer")
	if peer == "" {
		http.Error(w, "Missing peer", http.StatusBadRequest)
		return
	}

	messages, err := a.store.ListMessages(models.PairKey(identity, peer), dmHistoryLimit)
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"messages": messages}); err != nil {
		log.Printf("failed to encode history response: %v", err)
	}
}

// SubscribeHandler stores a web-push subscription for the requester.
func (a *API) SubscribeHandler(w http.ResponseWriter, r *http.Request, identity string) {
	var sub webpush.Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil || sub.Endpoint == "" {
		http.Error(w, "Invalid subscription", http.StatusBadRequest)
		return
	}

	if err := a.store.SaveSubscription(identity, sub); err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
}
