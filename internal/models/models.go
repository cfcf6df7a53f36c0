package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrAlreadyBound = errors.New("connection already bound")
	ErrAccessDenied = errors.New("access denied")
)

// SharedRoomID is the conversation key of the single shared room.
const SharedRoomID = "room"

// ConnID identifies a single live connection for its lifetime.
type ConnID string

func NewConnID() ConnID {
	return ConnID(uuid.NewString())
}

// MessageID is either a temporary client-assigned token or a durable
// server-assigned handle. A message is created under a temporary id and
// renamed to its durable id once persisted; the two never refer to the
// same live message at the same time.
type MessageID struct {
	value   string
	durable bool
}

func TempMessageID(token string) MessageID {
	return MessageID{value: token}
}

func DurableMessageID(handle string) MessageID {
	return MessageID{value: handle, durable: true}
}

// ParseMessageID classifies a wire-level id string. Durable handles are
// always server-minted UUIDs, so anything that parses as a UUID is
// treated as durable and everything else as a client temp token.
func ParseMessageID(s string) MessageID {
	if _, err := uuid.Parse(s); err == nil {
		return DurableMessageID(s)
	}
	return TempMessageID(s)
}

func (id MessageID) IsDurable() bool { return id.durable }
func (id MessageID) IsZero() bool    { return id.value == "" }
func (id MessageID) String() string  { return id.value }

func (id MessageID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value)
}

func (id *MessageID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("message id must be a string: %w", err)
	}
	*id = ParseMessageID(s)
	return nil
}

// ReplySnapshot is the embedded context of the message being replied to,
// captured once at send time.
type ReplySnapshot struct {
	ID        MessageID `json:"id"`
	AuthorID  string    `json:"authorId"`
	Body      string    `json:"body"`
	CreatedAt int64     `json:"createdAt"`
}

type ReplyKind int

const (
	ReplyNone ReplyKind = iota
	ReplyByID
	ReplyEmbedded
)

// ReplyRef is a tagged reference to the message a new message replies to.
// It is resolved to a ReplySnapshot exactly once, at send time; failed
// resolution degrades to no reply context.
type ReplyRef struct {
	Kind     ReplyKind
	ID       MessageID
	Snapshot *ReplySnapshot
}

func NoReply() ReplyRef { return ReplyRef{Kind: ReplyNone} }

func ReplyTo(id MessageID) ReplyRef {
	return ReplyRef{Kind: ReplyByID, ID: id}
}

func EmbeddedReply(snap ReplySnapshot) ReplyRef {
	return ReplyRef{Kind: ReplyEmbedded, Snapshot: &snap}
}

type AudienceKind int

const (
	AudienceAll AudienceKind = iota
	AudiencePair
	AudienceIdentity
	AudienceConn
)

// Audience is the delivery target of an outbound event, chosen
// explicitly by the caller rather than inferred from payload fields.
type Audience struct {
	Kind     AudienceKind
	A, B     string
	Identity string
	Conn     ConnID
}

func ToAll() Audience { return Audience{Kind: AudienceAll} }

func ToPair(a, b string) Audience {
	return Audience{Kind: AudiencePair, A: a, B: b}
}

func ToIdentity(identity string) Audience {
	return Audience{Kind: AudienceIdentity, Identity: identity}
}

func ToConn(conn ConnID) Audience {
	return Audience{Kind: AudienceConn, Conn: conn}
}

// Conversation returns the persistence scope this audience maps to:
// the shared room, or the deterministic key of an identity pair.
func (a Audience) Conversation() string {
	if a.Kind == AudiencePair {
		return PairKey(a.A, a.B)
	}
	return SharedRoomID
}

// PairKey builds a deterministic conversation key for a DM pair.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return fmt.Sprintf("dm_%s_%s", ids[0], ids[1])
}

// Message is a chat message. Immutable after reconciliation except for
// its reactions map.
type Message struct {
	ID        MessageID           `json:"id"`
	ChatID    string              `json:"chatId"`
	AuthorID  string              `json:"authorId"`
	Body      string              `json:"body"`
	HTML      string              `json:"html,omitempty"`
	CreatedAt int64               `json:"createdAt"`
	ReplyTo   *ReplySnapshot      `json:"replyTo,omitempty"`
	Reactions map[string][]string `json:"reactions"`
}

// PresenceInfo is the answer to a presence query. LastSeen is zero for
// an identity that has never been online.
type PresenceInfo struct {
	Identity string `json:"identity"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"lastSeen,omitempty"`
}

type PollStatus string

const (
	PollStatusOpen     PollStatus = "open"
	PollStatusApproved PollStatus = "approved"
	PollStatusRejected PollStatus = "rejected"
)

// PollUpdate is the tally broadcast after every vote.
type PollUpdate struct {
	Initiator string     `json:"initiator"`
	Status    PollStatus `json:"status"`
	Yes       int        `json:"yes"`
	No        int        `json:"no"`
	Needed    int        `json:"needed"`
	Total     int        `json:"total"`
}

type ClientEventType string

const (
	ClientEventJoin           ClientEventType = "join"
	ClientEventSend           ClientEventType = "message-send"
	ClientEventReactionAdd    ClientEventType = "reaction-add"
	ClientEventReactionRemove ClientEventType = "reaction-remove"
	ClientEventTypingStart    ClientEventType = "typing-start"
	ClientEventTypingStop     ClientEventType = "typing-stop"
	ClientEventPresenceQuery  ClientEventType = "presence-query"
	ClientEventModeSet        ClientEventType = "mode-set"
	ClientEventPollInitiate   ClientEventType = "poll-initiate"
	ClientEventPollVote       ClientEventType = "poll-vote"
	ClientEventPollConfirm    ClientEventType = "poll-confirm"
	ClientEventMarkRead       ClientEventType = "mark-read"
)

// ClientEvent is an inbound event on a connection. Only the fields
// relevant to the given type are set.
type ClientEvent struct {
	Type      ClientEventType `json:"type"`
	Body      string          `json:"body,omitempty"`
	To        string          `json:"to,omitempty"`
	ReplyTo   string          `json:"replyTo,omitempty"`
	TempID    string          `json:"tempId,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	Emoji     string          `json:"emoji,omitempty"`
	Identity  string          `json:"identity,omitempty"`
	Private   bool            `json:"private,omitempty"`
	Approve   bool            `json:"approve,omitempty"`
}

type ServerEventType string

const (
	ServerEventJoinResult    ServerEventType = "join-result"
	ServerEventJoinDenied    ServerEventType = "join-denied"
	ServerEventUserJoined    ServerEventType = "user-joined"
	ServerEventUserLeft      ServerEventType = "user-left"
	ServerEventHistory       ServerEventType = "history"
	ServerEventMessage       ServerEventType = "message-broadcast"
	ServerEventRenamed       ServerEventType = "message-renamed"
	ServerEventReactions     ServerEventType = "reactions-broadcast"
	ServerEventTypingStart   ServerEventType = "typing-start"
	ServerEventTypingStop    ServerEventType = "typing-stop"
	ServerEventPresence      ServerEventType = "presence-broadcast"
	ServerEventModeBroadcast ServerEventType = "mode-broadcast"
	ServerEventPollStarted   ServerEventType = "poll-started"
	ServerEventPollDenied    ServerEventType = "poll-denied"
	ServerEventPollUpdate    ServerEventType = "poll-update"
	ServerEventPollResult    ServerEventType = "poll-result"
	ServerEventDeleted       ServerEventType = "deleted"
)

// ServerEvent is an outbound event to one or more connections.
type ServerEvent struct {
	Type      ServerEventType     `json:"type"`
	ChatID    string              `json:"chatId,omitempty"`
	Message   *Message            `json:"message,omitempty"`
	Messages  []Message           `json:"messages,omitempty"`
	TempID    string              `json:"tempId,omitempty"`
	MessageID string              `json:"messageId,omitempty"`
	Reactions map[string][]string `json:"reactions,omitempty"`
	Identity  string              `json:"identity,omitempty"`
	Presence  *PresenceInfo       `json:"presence,omitempty"`
	Private   *bool               `json:"private,omitempty"`
	Poll      *PollUpdate         `json:"poll,omitempty"`
	Reason    string              `json:"reason,omitempty"`
	Online    int                 `json:"online,omitempty"`
}
