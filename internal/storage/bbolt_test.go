package storage

import (
	"os"
	"path/filepath"
	"testing"

	"palaver/internal/auth"
	"palaver/internal/models"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *BboltStorage {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "storage_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	store, err := NewBboltStorage(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStorage(t *testing.T) {
	store := newTestStorage(t)

	t.Run("Credentials", func(t *testing.T) {
		_, err := store.GetCredentials("alice")
		assert.ErrorIs(t, err, models.ErrNotFound)

		creds := auth.Credentials{
			Identity:     "alice",
			PasswordHash: "hash",
			CreatedAt:    1700000000,
		}
		require.NoError(t, store.UpsertCredentials(creds))
		require.NoError(t, store.UpsertCredentials(auth.Credentials{
			Identity:     "bob",
			PasswordHash: "hash2",
			CreatedAt:    1700000001,
		}))

		got, err := store.GetCredentials("alice")
		require.NoError(t, err)
		assert.Equal(t, creds, got)

		identities, err := store.ListIdentities()
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"alice", "bob"}, identities)
	})

	t.Run("InsertAndGetMessage", func(t *testing.T) {
		msg := models.Message{
			ID:        models.TempMessageID("tmp-1"),
			ChatID:    models.SharedRoomID,
			AuthorID:  "alice",
			Body:      "hello",
			HTML:      "<p>hello</p>",
			CreatedAt: 1700000000,
			ReplyTo: &models.ReplySnapshot{
				ID:       models.TempMessageID("tmp-0"),
				AuthorID: "bob",
				Body:     "original",
			},
		}

		durableID, err := store.InsertMessage(msg)
		require.NoError(t, err)
		require.NotEmpty(t, durableID)

		got, err := store.GetMessage(durableID)
		require.NoError(t, err)
		// The stored record carries the durable id, not the temp token.
		assert.Equal(t, durableID, got.ID.String())
		assert.True(t, got.ID.IsDurable())
		assert.Equal(t, "hello", got.Body)
		require.NotNil(t, got.ReplyTo)
		assert.Equal(t, "bob", got.ReplyTo.AuthorID)
		assert.NotNil(t, got.Reactions)

		_, err = store.GetMessage("no-such-id")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("ListMessagesOrderAndLimit", func(t *testing.T) {
		chatID := models.PairKey("alice", "bob")
		for _, body := range []string{"one", "two", "three", "four"} {
			_, err := store.InsertMessage(models.Message{
				ChatID:   chatID,
				AuthorID: "alice",
				Body:     body,
			})
			require.NoError(t, err)
		}

		all, err := store.ListMessages(chatID, 10)
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, "one", all[0].Body)
		assert.Equal(t, "four", all[3].Body)

		// Limit keeps the most recent entries, still ascending.
		tail, err := store.ListMessages(chatID, 2)
		require.NoError(t, err)
		require.Len(t, tail, 2)
		assert.Equal(t, "three", tail[0].Body)
		assert.Equal(t, "four", tail[1].Body)

		empty, err := store.ListMessages("dm_nobody_noone", 10)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("Reactions", func(t *testing.T) {
		id, err := store.InsertMessage(models.Message{
			ChatID:   models.SharedRoomID,
			AuthorID: "alice",
			Body:     "react to me",
		})
		require.NoError(t, err)

		require.NoError(t, store.AddReaction(id, "👍", "bob"))
		require.NoError(t, store.AddReaction(id, "👍", "alice"))
		require.NoError(t, store.AddReaction(id, "👍", "bob")) // idempotent
		require.NoError(t, store.AddReaction(id, "🎉", "carol"))

		got, err := store.GetReactions(id)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob"}, got["👍"])
		assert.Equal(t, []string{"carol"}, got["🎉"])

		require.NoError(t, store.RemoveReaction(id, "👍", "bob"))
		require.NoError(t, store.RemoveReaction(id, "👍", "ghost")) // no-op

		got, err = store.GetReactions(id)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice"}, got["👍"])

		err = store.AddReaction("no-such-id", "👍", "bob")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("MarkRead", func(t *testing.T) {
		id, err := store.InsertMessage(models.Message{
			ChatID:   models.PairKey("alice", "bob"),
			AuthorID: "alice",
			Body:     "read me",
		})
		require.NoError(t, err)

		require.NoError(t, store.MarkRead(id, "bob"))
		require.NoError(t, store.MarkRead(id, "bob"))

		assert.ErrorIs(t, store.MarkRead("no-such-id", "bob"), models.ErrNotFound)
	})

	t.Run("DeleteAllMessages", func(t *testing.T) {
		id, err := store.InsertMessage(models.Message{
			ChatID:   models.SharedRoomID,
			AuthorID: "alice",
			Body:     "doomed",
		})
		require.NoError(t, err)

		require.NoError(t, store.DeleteAllMessages())

		_, err = store.GetMessage(id)
		assert.ErrorIs(t, err, models.ErrNotFound)

		msgs, err := store.ListMessages(models.SharedRoomID, 10)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		// The store remains writable after the wipe.
		_, err = store.InsertMessage(models.Message{
			ChatID:   models.SharedRoomID,
			AuthorID: "alice",
			Body:     "fresh start",
		})
		require.NoError(t, err)

		// Credentials survive.
		_, err = store.GetCredentials("alice")
		require.NoError(t, err)
	})

	t.Run("Subscriptions", func(t *testing.T) {
		sub := webpush.Subscription{
			Endpoint: "https://push.example.com/ep1",
			Keys:     webpush.Keys{P256dh: "p", Auth: "a"},
		}
		require.NoError(t, store.SaveSubscription("alice", sub))
		require.NoError(t, store.SaveSubscription("alice", sub)) // keyed by endpoint
		require.NoError(t, store.SaveSubscription("alice", webpush.Subscription{
			Endpoint: "https://push.example.com/ep2",
			Keys:     webpush.Keys{P256dh: "p2", Auth: "a2"},
		}))

		subs, err := store.ListSubscriptions("alice")
		require.NoError(t, err)
		assert.Len(t, subs, 2)

		require.NoError(t, store.DeleteSubscription("alice", "https://push.example.com/ep1"))
		subs, err = store.ListSubscriptions("alice")
		require.NoError(t, err)
		require.Len(t, subs, 1)
		assert.Equal(t, "https://push.example.com/ep2", subs[0].Endpoint)

		none, err := store.ListSubscriptions("nobody")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}
