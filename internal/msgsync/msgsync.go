package msgsync

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"palaver/internal/content"
	"palaver/internal/models"

	"github.com/c-pro/geche"
)

// recentTTL bounds how long a message stays resolvable for reply
// snapshots without a storage read.
const recentTTL = 15 * time.Minute

type messageStore interface {
	InsertMessage(msg models.Message) (string, error)
	GetMessage(id string) (models.Message, error)
}

type broadcaster interface {
	Broadcast(aud models.Audience, evt models.ServerEvent)
}

// notifier is told about every delivered message so it can reach
// recipients without a live session. May be nil.
type notifier interface {
	MessageSent(aud models.Audience, msg models.Message)
}

// Synchronizer owns the optimistic message lifecycle: broadcast first
// under the client temp id, persist asynchronously, then reconcile every
// observer to the durable id with a single rename event. Persistence is
// attempted exactly once; on failure the message stays visible under its
// temp id and observers must treat it as unconfirmed.
type Synchronizer struct {
	store  messageStore
	out    broadcaster
	push   notifier
	recent geche.Geche[string, models.Message]
	now    func() time.Time
}

func New(ctx context.Context, store messageStore, out broadcaster, push notifier) *Synchronizer {
	return &Synchronizer{
		store:  store,
		out:    out,
		push:   push,
		recent: geche.NewMapTTLCache[string, models.Message](ctx, recentTTL, time.Minute),
		now:    time.Now,
	}
}

// Send validates, broadcasts and persists one message. An empty body
// after trimming is a silent no-op; callers are expected to pre-validate.
func (s *Synchronizer) Send(authorID, body string, reply models.ReplyRef, tempID string, aud models.Audience) {
	body = strings.TrimSpace(body)
	if body == "" || tempID == "" {
		return
	}
	body = content.Sanitize(body)

	msg := models.Message{
		ID:        models.TempMessageID(tempID),
		ChatID:    aud.Conversation(),
		AuthorID:  authorID,
		Body:      body,
		HTML:      content.RenderMarkdown(body),
		CreatedAt: s.now().Unix(),
		ReplyTo:   s.resolveReply(reply),
		Reactions: map[string][]string{},
	}

	s.recent.Set(tempID, msg)

	s.out.Broadcast(aud, models.ServerEvent{
		Type:    models.ServerEventMessage,
		ChatID:  msg.ChatID,
		Message: &msg,
	})

	if s.push != nil {
		s.push.MessageSent(aud, msg)
	}

	go s.persist(msg, tempID, aud)
}

// persist writes the canonical record and reconciles observers. One
// attempt only: failure is logged and the optimistic copy is left as-is,
// with no retry and no rollback broadcast.
func (s *Synchronizer) persist(msg models.Message, tempID string, aud models.Audience) {
	durableID, err := s.store.InsertMessage(msg)
	if err != nil {
		slog.Error("message persist failed, leaving optimistic copy unreconciled",
			"tempId", tempID, "chatId", msg.ChatID, "error", err)
		return
	}

	msg.ID = models.DurableMessageID(durableID)
	s.recent.Set(durableID, msg)

	s.out.Broadcast(aud, models.ServerEvent{
		Type:      models.ServerEventRenamed,
		ChatID:    msg.ChatID,
		TempID:    tempID,
		MessageID: durableID,
	})
}

// resolveReply turns a reply reference into an embedded snapshot, once.
// Resolution failure is a silent degradation: the message goes out with
// no reply context.
func (s *Synchronizer) resolveReply(reply models.ReplyRef) *models.ReplySnapshot {
	switch reply.Kind {
	case models.ReplyEmbedded:
		return reply.Snapshot
	case models.ReplyByID:
		if cached, err := s.recent.Get(reply.ID.String()); err == nil {
			return snapshotOf(cached)
		}
		if !reply.ID.IsDurable() {
			return nil
		}
		stored, err := s.store.GetMessage(reply.ID.String())
		if err != nil {
			return nil
		}
		return snapshotOf(stored)
	default:
		return nil
	}
}

func snapshotOf(msg models.Message) *models.ReplySnapshot {
	return &models.ReplySnapshot{
		ID:        msg.ID,
		AuthorID:  msg.AuthorID,
		Body:      msg.Body,
		CreatedAt: msg.CreatedAt,
	}
}
