package reactions

import (
	"log/slog"

	"palaver/internal/models"

	"github.com/forPelevin/gomoji"
)

type reactionStore interface {
	AddReaction(id, emoji, identity string) error
	RemoveReaction(id, emoji, identity string) error
	GetReactions(id string) (map[string][]string, error)
}

type broadcaster interface {
	Broadcast(aud models.Audience, evt models.ServerEvent)
}

// Aggregator toggles per-message emoji membership and republishes state.
// For durable ids every toggle is atomic against the store and the
// broadcast carries the full post-toggle map, so all observers converge
// even under concurrent toggles. For messages still under a temp id the
// store cannot be consulted; a minimal single-emoji delta goes out
// instead and may be overwritten by a later reconciled fetch.
type Aggregator struct {
	store reactionStore
	out   broadcaster
}

func NewAggregator(store reactionStore, out broadcaster) *Aggregator {
	return &Aggregator{store: store, out: out}
}

func (a *Aggregator) Add(id models.MessageID, emoji, identity string, aud models.Audience) {
	a.toggle(id, emoji, identity, aud, true)
}

func (a *Aggregator) Remove(id models.MessageID, emoji, identity string, aud models.Audience) {
	a.toggle(id, emoji, identity, aud, false)
}

func (a *Aggregator) toggle(id models.MessageID, emoji, identity string, aud models.Audience, add bool) {
	if id.IsZero() || !gomoji.ContainsEmoji(emoji) {
		return
	}

	if !id.IsDurable() {
		// Best-effort delta for an unreconciled message.
		members := []string{}
		if add {
			members = []string{identity}
		}
		a.out.Broadcast(aud, models.ServerEvent{
			Type:      models.ServerEventReactions,
			ChatID:    aud.Conversation(),
			MessageID: id.String(),
			Reactions: map[string][]string{emoji: members},
		})
		return
	}

	var err error
	if add {
		err = a.store.AddReaction(id.String(), emoji, identity)
	} else {
		err = a.store.RemoveReaction(id.String(), emoji, identity)
	}
	if err != nil {
		slog.Error("reaction toggle failed", "messageId", id.String(), "emoji", emoji, "error", err)
		return
	}

	// Re-read the complete map after the toggle; never broadcast a delta
	// for a durable id.
	full, err := a.store.GetReactions(id.String())
	if err != nil {
		slog.Error("reaction read-back failed", "messageId", id.String(), "error", err)
		return
	}

	a.out.Broadcast(aud, models.ServerEvent{
		Type:      models.ServerEventReactions,
		ChatID:    aud.Conversation(),
		MessageID: id.String(),
		Reactions: full,
	})
}
