package ws

import (
	"errors"
	"log/slog"

	"palaver/internal/gate"
	"palaver/internal/models"
	"palaver/internal/msgsync"
	"palaver/internal/poll"
	"palaver/internal/presence"
	"palaver/internal/reactions"
	"palaver/internal/registry"
	"palaver/internal/typing"
)

// historyLimit caps the room backfill sent on join.
const historyLimit = 50

type historyStore interface {
	ListMessages(chatID string, limit int) ([]models.Message, error)
	MarkRead(id, identity string) error
}

// Hub dispatches inbound connection events to the owning core component.
// Every mutating handler is a short critical section inside the target
// component; the hub itself keeps no mutable state.
type Hub struct {
	registry  *registry.Registry
	presence  *presence.Tracker
	typing    *typing.Router
	messages  *msgsync.Synchronizer
	reactions *reactions.Aggregator
	gate      *gate.Gate
	poll      *poll.Coordinator
	store     historyStore
}

func NewHub(
	reg *registry.Registry,
	pres *presence.Tracker,
	typ *typing.Router,
	messages *msgsync.Synchronizer,
	reacts *reactions.Aggregator,
	g *gate.Gate,
	p *poll.Coordinator,
	store historyStore,
) *Hub {
	return &Hub{
		registry:  reg,
		presence:  pres,
		typing:    typ,
		messages:  messages,
		reactions: reacts,
		gate:      g,
		poll:      p,
		store:     store,
	}
}

// Attach registers a half-open session for a new connection.
func (h *Hub) Attach() (models.ConnID, <-chan models.ServerEvent) {
	return h.registry.Register()
}

// Detach releases a session synchronously: registry, presence and, once
// the identity has no sessions left, poll and gate bookkeeping. It never
// waits on in-flight persistence.
func (h *Hub) Detach(conn models.ConnID) {
	identity, wasBound := h.registry.Deregister(conn)
	if !wasBound || h.presence.Online(identity) {
		return
	}
	h.poll.IdentityLeft(identity)
	h.gate.IdentityLeft()
}

// HandleEvent routes one client event. identity is the admission-time
// verified identity of the connection; identity-addressed operations
// additionally require the session to be bound via a join.
func (h *Hub) HandleEvent(conn models.ConnID, identity string, evt models.ClientEvent) {
	if evt.Type == models.ClientEventJoin {
		h.handleJoin(conn, identity)
		return
	}

	ident, bound := h.registry.Identity(conn)
	if !bound {
		// Half-open sessions get no say.
		return
	}

	switch evt.Type {
	case models.ClientEventSend:
		h.gate.Touch()
		h.messages.Send(ident, evt.Body, replyRefOf(evt.ReplyTo), evt.TempID, h.audienceFor(ident, evt.To))

	case models.ClientEventReactionAdd:
		h.gate.Touch()
		h.reactions.Add(models.ParseMessageID(evt.MessageID), evt.Emoji, ident, h.audienceFor(ident, evt.To))

	case models.ClientEventReactionRemove:
		h.gate.Touch()
		h.reactions.Remove(models.ParseMessageID(evt.MessageID), evt.Emoji, ident, h.audienceFor(ident, evt.To))

	case models.ClientEventTypingStart:
		h.gate.Touch()
		h.typing.Start(ident, h.audienceFor(ident, evt.To))

	case models.ClientEventTypingStop:
		h.typing.Stop(ident, h.audienceFor(ident, evt.To))

	case models.ClientEventPresenceQuery:
		info := h.presence.Info(evt.Identity)
		h.registry.Broadcast(models.ToConn(conn), models.ServerEvent{
			Type:     models.ServerEventPresence,
			Presence: &info,
			Online:   h.presence.OnlineCount(),
		})

	case models.ClientEventModeSet:
		h.gate.SetMode(evt.Private)

	case models.ClientEventPollInitiate:
		h.poll.Initiate(ident, conn)

	case models.ClientEventPollVote:
		h.poll.Vote(ident, evt.Approve)

	case models.ClientEventPollConfirm:
		h.poll.Confirm(conn)

	case models.ClientEventMarkRead:
		id := models.ParseMessageID(evt.MessageID)
		if !id.IsDurable() {
			return
		}
		if err := h.store.MarkRead(id.String(), ident); err != nil && !errors.Is(err, models.ErrNotFound) {
			slog.Error("mark read failed", "messageId", evt.MessageID, "error", err)
		}
	}
}

// handleJoin runs the admission gate and binds the session. Denial is
// surfaced to the requesting connection only; the session never binds.
func (h *Hub) handleJoin(conn models.ConnID, identity string) {
	if err := h.gate.Admit(identity); err != nil {
		h.registry.Broadcast(models.ToConn(conn), models.ServerEvent{
			Type:   models.ServerEventJoinDenied,
			Reason: "room is private",
		})
		return
	}

	if err := h.registry.Bind(conn, identity); err != nil {
		// Rebinding is a silent no-op.
		return
	}

	h.registry.Broadcast(models.ToConn(conn), models.ServerEvent{
		Type:     models.ServerEventJoinResult,
		Identity: identity,
		Online:   h.presence.OnlineCount(),
	})

	history, err := h.store.ListMessages(models.SharedRoomID, historyLimit)
	if err != nil {
		slog.Error("history backfill failed", "error", err)
		return
	}
	h.registry.Broadcast(models.ToConn(conn), models.ServerEvent{
		Type:     models.ServerEventHistory,
		ChatID:   models.SharedRoomID,
		Messages: history,
	})
}

// audienceFor picks the delivery target: the shared room, or the pair
// conversation when the event names a peer.
func (h *Hub) audienceFor(identity, to string) models.Audience {
	if to == "" {
		return models.ToAll()
	}
	return models.ToPair(identity, to)
}

func replyRefOf(ref string) models.ReplyRef {
	if ref == "" {
		return models.NoReply()
	}
	return models.ReplyTo(models.ParseMessageID(ref))
}
