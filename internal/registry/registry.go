package registry

import (
	"sync"
	"time"

	"palaver/internal/models"
)

const sessionBuffer = 100

// presenceSink receives identity bind/unbind transitions.
type presenceSink interface {
	Bound(identity string)
	Unbound(identity string)
}

type session struct {
	id       models.ConnID
	identity string
	joinedAt time.Time
	ch       chan models.ServerEvent
}

// Registry tracks live connections and their bound identity. A session
// without a bound identity is half-open: it counts toward the connection
// total but receives no events until a join binds it. Admission happens
// at bind time, so room traffic must never reach an unbound session.
type Registry struct {
	mu         sync.RWMutex
	sessions   map[models.ConnID]*session
	byIdentity map[string]map[models.ConnID]struct{}
	presence   presenceSink
}

func New(presence presenceSink) *Registry {
	return &Registry{
		sessions:   make(map[models.ConnID]*session),
		byIdentity: make(map[string]map[models.ConnID]struct{}),
		presence:   presence,
	}
}

// Register creates a half-open session and returns its id and the
// channel its outbound events are delivered on.
func (r *Registry) Register() (models.ConnID, <-chan models.ServerEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &session{
		id:       models.NewConnID(),
		joinedAt: time.Now(),
		ch:       make(chan models.ServerEvent, sessionBuffer),
	}
	r.sessions[s.id] = s
	return s.id, s.ch
}

// Bind attaches an identity to a session. Binding is permanent for the
// life of the connection; a second bind is rejected. Other sessions are
// notified of the arrival and the presence tracker is updated.
func (r *Registry) Bind(conn models.ConnID, identity string) error {
	r.mu.Lock()
	s, ok := r.sessions[conn]
	if !ok {
		r.mu.Unlock()
		return models.ErrNotFound
	}
	if s.identity != "" {
		r.mu.Unlock()
		return models.ErrAlreadyBound
	}
	s.identity = identity
	conns, ok := r.byIdentity[identity]
	if !ok {
		conns = make(map[models.ConnID]struct{})
		r.byIdentity[identity] = conns
	}
	conns[conn] = struct{}{}
	r.mu.Unlock()

	r.presence.Bound(identity)

	evt := models.ServerEvent{
		Type:     models.ServerEventUserJoined,
		Identity: identity,
	}
	r.mu.RLock()
	for id, other := range r.sessions {
		if id == conn || other.identity == "" {
			continue
		}
		deliver(other, evt)
	}
	r.mu.RUnlock()

	return nil
}

// Deregister removes a session. It reports the identity the session was
// bound to, if any, so the caller can release poll and gate bookkeeping.
// A "left" notification goes out only for bound sessions; the connection
// count always drops.
func (r *Registry) Deregister(conn models.ConnID) (string, bool) {
	r.mu.Lock()
	s, ok := r.sessions[conn]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	delete(r.sessions, conn)
	identity := s.identity
	if identity != "" {
		if conns, ok := r.byIdentity[identity]; ok {
			delete(conns, conn)
			if len(conns) == 0 {
				delete(r.byIdentity, identity)
			}
		}
	}
	close(s.ch)
	r.mu.Unlock()

	if identity == "" {
		return "", false
	}

	r.presence.Unbound(identity)

	r.Broadcast(models.ToAll(), models.ServerEvent{
		Type:     models.ServerEventUserLeft,
		Identity: identity,
	})

	return identity, true
}

// Identity returns the identity bound to a connection.
func (r *Registry) Identity(conn models.ConnID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[conn]
	if !ok || s.identity == "" {
		return "", false
	}
	return s.identity, true
}

// Connections returns the number of live sessions, bound or not.
func (r *Registry) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// BoundIdentities returns all identities with at least one live session.
func (r *Registry) BoundIdentities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identities := make([]string, 0, len(r.byIdentity))
	for identity := range r.byIdentity {
		identities = append(identities, identity)
	}
	return identities
}

// Broadcast delivers an event to every session the audience selects.
// Delivery is best-effort: a session whose buffer is full drops the event.
func (r *Registry) Broadcast(aud models.Audience, evt models.ServerEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch aud.Kind {
	case models.AudienceAll:
		for _, s := range r.sessions {
			if s.identity == "" {
				continue
			}
			deliver(s, evt)
		}
	case models.AudiencePair:
		r.deliverIdentity(aud.A, evt)
		if aud.B != aud.A {
			r.deliverIdentity(aud.B, evt)
		}
	case models.AudienceIdentity:
		r.deliverIdentity(aud.Identity, evt)
	case models.AudienceConn:
		if s, ok := r.sessions[aud.Conn]; ok {
			deliver(s, evt)
		}
	}
}

func (r *Registry) deliverIdentity(identity string, evt models.ServerEvent) {
	for conn := range r.byIdentity[identity] {
		if s, ok := r.sessions[conn]; ok {
			deliver(s, evt)
		}
	}
}

func deliver(s *session, evt models.ServerEvent) {
	select {
	case s.ch <- evt:
	default:
		// Slow consumer, drop.
	}
}
