package storage

import (
	"fmt"
	"time"

	"palaver/internal/auth"
	"palaver/internal/models"

	"github.com/SherClockHolmes/webpush-go"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	bucketCredentials   = []byte("credentials")
	bucketMessages      = []byte("messages")
	bucketMessageIndex  = []byte("message_index")
	bucketSubscriptions = []byte("subscriptions")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketCredentials, bucketMessages, bucketMessageIndex, bucketSubscriptions} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// UpsertCredentials stores new or updated login credentials.
func (s *BboltStorage) UpsertCredentials(creds auth.Credentials) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		dbCreds := &DBCredentials{
			Identity:     creds.Identity,
			PasswordHash: creds.PasswordHash,
			CreatedAt:    creds.CreatedAt,
		}
		data, err := dbCreds.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbCreds.Key(), data)
	})
}

func (s *BboltStorage) GetCredentials(identity string) (auth.Credentials, error) {
	var creds auth.Credentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketCredentials).Get([]byte(identity))
		if data == nil {
			return models.ErrNotFound
		}
		var dbCreds DBCredentials
		if err := dbCreds.UnmarshalBinary(data); err != nil {
			return err
		}
		creds = auth.Credentials{
			Identity:     dbCreds.Identity,
			PasswordHash: dbCreds.PasswordHash,
			CreatedAt:    dbCreds.CreatedAt,
		}
		return nil
	})
	return creds, err
}

func (s *BboltStorage) ListIdentities() ([]string, error) {
	var identities []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCredentials).ForEach(func(k, v []byte) error {
			identities = append(identities, string(k))
			return nil
		})
	})
	return identities, err
}

// InsertMessage persists a message and returns its durable id. The record
// is keyed by a per-conversation sequence number so history reads come
// back in insertion order.
func (s *BboltStorage) InsertMessage(msg models.Message) (string, error) {
	durableID := uuid.NewString()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if msg.ChatID == "" {
			return fmt.Errorf("message missing chatID")
		}

		chatBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(msg.ChatID))
		if err != nil {
			return fmt.Errorf("failed to create chat bucket: %w", err)
		}

		seq, err := chatBucket.NextSequence()
		if err != nil {
			return err
		}

		dbMsg := DBMessage{
			ID:        durableID,
			Seq:       seq,
			Timestamp: msg.CreatedAt,
			ChatID:    msg.ChatID,
			AuthorID:  msg.AuthorID,
			Body:      msg.Body,
			HTML:      msg.HTML,
			Reactions: map[string][]string{},
		}
		if msg.ReplyTo != nil {
			dbMsg.ReplyTo = &DBReplySnapshot{
				ID:        msg.ReplyTo.ID.String(),
				AuthorID:  msg.ReplyTo.AuthorID,
				Body:      msg.ReplyTo.Body,
				CreatedAt: msg.ReplyTo.CreatedAt,
			}
		}

		data, err := dbMsg.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := chatBucket.Put(dbMsg.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		ref := DBMessageRef{ChatID: msg.ChatID, Seq: seq}
		refData, err := ref.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMessageIndex).Put([]byte(durableID), refData)
	})
	if err != nil {
		return "", err
	}

	return durableID, nil
}

func (s *BboltStorage) GetMessage(id string) (models.Message, error) {
	var msg models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		dbMsg, err := getByID(tx, id)
		if err != nil {
			return err
		}
		msg = toModel(dbMsg)
		return nil
	})
	return msg, err
}

// ListMessages returns up to limit most recent messages of a conversation
// in ascending insertion order.
func (s *BboltStorage) ListMessages(chatID string, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(chatID))
		if chatBucket == nil {
			return nil // no messages for this conversation
		}

		skip := 0
		if total := chatBucket.Stats().KeyN; total > limit {
			skip = total - limit
		}

		i := 0
		return chatBucket.ForEach(func(k, v []byte) error {
			if i < skip {
				i++
				return nil
			}
			i++
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, toModel(&dbMsg))
			return nil
		})
	})
	return messages, err
}

// AddReaction adds identity to the reaction set of emoji on the given
// message. The whole read-modify-write runs inside one bbolt update, so
// each call is atomic against concurrent toggles.
func (s *BboltStorage) AddReaction(id, emoji, identity string) error {
	return s.updateReactions(id, func(set mapset.Set[string]) {
		set.Add(identity)
	}, emoji)
}

// RemoveReaction removes identity from the reaction set of emoji.
func (s *BboltStorage) RemoveReaction(id, emoji, identity string) error {
	return s.updateReactions(id, func(set mapset.Set[string]) {
		set.Remove(identity)
	}, emoji)
}

func (s *BboltStorage) updateReactions(id string, mutate func(mapset.Set[string]), emoji string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbMsg, err := getByID(tx, id)
		if err != nil {
			return err
		}

		if dbMsg.Reactions == nil {
			dbMsg.Reactions = map[string][]string{}
		}
		set := mapset.NewThreadUnsafeSet(dbMsg.Reactions[emoji]...)
		mutate(set)
		dbMsg.Reactions[emoji] = mapset.Sorted(set)

		return putMessage(tx, dbMsg)
	})
}

func (s *BboltStorage) GetReactions(id string) (map[string][]string, error) {
	msg, err := s.GetMessage(id)
	if err != nil {
		return nil, err
	}
	if msg.Reactions == nil {
		return map[string][]string{}, nil
	}
	return msg.Reactions, nil
}

// MarkRead records that identity has read the message.
func (s *BboltStorage) MarkRead(id, identity string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbMsg, err := getByID(tx, id)
		if err != nil {
			return err
		}

		set := mapset.NewThreadUnsafeSet(dbMsg.ReadBy...)
		set.Add(identity)
		dbMsg.ReadBy = mapset.Sorted(set)

		return putMessage(tx, dbMsg)
	})
}

// DeleteAllMessages drops every persisted message and the id index.
func (s *BboltStorage) DeleteAllMessages() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketMessages, bucketMessageIndex} {
			if err := tx.DeleteBucket(bucket); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(bucket); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BboltStorage) SaveSubscription(identity string, sub webpush.Subscription) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketSubscriptions).CreateBucketIfNotExists([]byte(identity))
		if err != nil {
			return err
		}
		dbSub := &DBSubscription{
			Identity: identity,
			Endpoint: sub.Endpoint,
			P256dh:   sub.Keys.P256dh,
			Auth:     sub.Keys.Auth,
		}
		data, err := dbSub.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbSub.Key(), data)
	})
}

func (s *BboltStorage) ListSubscriptions(identity string) ([]webpush.Subscription, error) {
	var subs []webpush.Subscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSubscriptions).Bucket([]byte(identity))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var dbSub DBSubscription
			if err := dbSub.UnmarshalBinary(v); err != nil {
				return err
			}
			subs = append(subs, webpush.Subscription{
				Endpoint: dbSub.Endpoint,
				Keys: webpush.Keys{
					P256dh: dbSub.P256dh,
					Auth:   dbSub.Auth,
				},
			})
			return nil
		})
	})
	return subs, err
}

func (s *BboltStorage) DeleteSubscription(identity, endpoint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSubscriptions).Bucket([]byte(identity))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(endpoint))
	})
}

func getByID(tx *bbolt.Tx, id string) (*DBMessage, error) {
	refData := tx.Bucket(bucketMessageIndex).Get([]byte(id))
	if refData == nil {
		return nil, models.ErrNotFound
	}
	var ref DBMessageRef
	if err := ref.UnmarshalBinary(refData); err != nil {
		return nil, err
	}

	chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(ref.ChatID))
	if chatBucket == nil {
		return nil, models.ErrNotFound
	}
	ghost := DBMessage{Seq: ref.Seq}
	data := chatBucket.Get(ghost.Key())
	if data == nil {
		return nil, models.ErrNotFound
	}

	var dbMsg DBMessage
	if err := dbMsg.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &dbMsg, nil
}

func putMessage(tx *bbolt.Tx, dbMsg *DBMessage) error {
	chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(dbMsg.ChatID))
	if chatBucket == nil {
		return models.ErrNotFound
	}
	data, err := dbMsg.MarshalBinary()
	if err != nil {
		return err
	}
	return chatBucket.Put(dbMsg.Key(), data)
}

func toModel(dbMsg *DBMessage) models.Message {
	msg := models.Message{
		ID:        models.DurableMessageID(dbMsg.ID),
		ChatID:    dbMsg.ChatID,
		AuthorID:  dbMsg.AuthorID,
		Body:      dbMsg.Body,
		HTML:      dbMsg.HTML,
		CreatedAt: dbMsg.Timestamp,
		Reactions: dbMsg.Reactions,
	}
	if msg.Reactions == nil {
		msg.Reactions = map[string][]string{}
	}
	if dbMsg.ReplyTo != nil {
		msg.ReplyTo = &models.ReplySnapshot{
			ID:        models.ParseMessageID(dbMsg.ReplyTo.ID),
			AuthorID:  dbMsg.ReplyTo.AuthorID,
			Body:      dbMsg.ReplyTo.Body,
			CreatedAt: dbMsg.ReplyTo.CreatedAt,
		}
	}
	return msg
}
