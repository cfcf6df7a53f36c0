package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBCredentials struct {
	Identity     string `msgpack:"identity"`
	PasswordHash string `msgpack:"passwordHash"`
	CreatedAt    int64  `msgpack:"createdAt"`
}

func (c *DBCredentials) Key() []byte {
	return []byte(c.Identity)
}

func (c *DBCredentials) MarshalBinary() (data []byte, err error) {
	type alias DBCredentials
	return msgpack.Marshal((*alias)(c))
}

func (c *DBCredentials) UnmarshalBinary(data []byte) error {
	type alias DBCredentials
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBReplySnapshot struct {
	ID        string `msgpack:"id"`
	AuthorID  string `msgpack:"authorId"`
	Body      string `msgpack:"body"`
	CreatedAt int64  `msgpack:"createdAt"`
}

type DBMessage struct {
	ID        string              `msgpack:"id"`
	Seq       uint64              `msgpack:"seq"`
	Timestamp int64               `msgpack:"timestamp"`
	ChatID    string              `msgpack:"chatId"`
	AuthorID  string              `msgpack:"authorId"`
	Body      string              `msgpack:"body"`
	HTML      string              `msgpack:"html"`
	ReplyTo   *DBReplySnapshot    `msgpack:"replyTo"`
	Reactions map[string][]string `msgpack:"reactions"`
	ReadBy    []string            `msgpack:"readBy"`
}

func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, m.Seq)
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

// DBMessageRef locates a message record inside its conversation bucket.
// Stored in the id index bucket keyed by durable message id.
type DBMessageRef struct {
	ChatID string `msgpack:"chatId"`
	Seq    uint64 `msgpack:"seq"`
}

func (r *DBMessageRef) MarshalBinary() (data []byte, err error) {
	type alias DBMessageRef
	return msgpack.Marshal((*alias)(r))
}

func (r *DBMessageRef) UnmarshalBinary(data []byte) error {
	type alias DBMessageRef
	return msgpack.Unmarshal(data, (*alias)(r))
}

type DBSubscription struct {
	Identity string `msgpack:"identity"`
	Endpoint string `msgpack:"endpoint"`
	P256dh   string `msgpack:"p256dh"`
	Auth     string `msgpack:"auth"`
}

func (s *DBSubscription) Key() []byte {
	return []byte(s.Endpoint)
}

func (s *DBSubscription) MarshalBinary() (data []byte, err error) {
	type alias DBSubscription
	return msgpack.Marshal((*alias)(s))
}

func (s *DBSubscription) UnmarshalBinary(data []byte) error {
	type alias DBSubscription
	return msgpack.Unmarshal(data, (*alias)(s))
}
