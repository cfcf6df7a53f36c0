package push

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"palaver/internal/models"

	"github.com/SherClockHolmes/webpush-go"
)

type subscriptionStore interface {
	ListSubscriptions(identity string) ([]webpush.Subscription, error)
	DeleteSubscription(identity, endpoint string) error
}

type presenceSource interface {
	Online(identity string) bool
}

type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
}

// Notifier delivers best-effort web-push notifications for direct
// messages whose recipient has no live session.
type Notifier struct {
	store    subscriptionStore
	presence presenceSource
	cfg      Config
}

// NewNotifier returns nil when VAPID keys are not configured; callers
// treat a nil notifier as push disabled.
func NewNotifier(store subscriptionStore, presence presenceSource, cfg Config) *Notifier {
	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		return nil
	}
	return &Notifier{store: store, presence: presence, cfg: cfg}
}

// MessageSent inspects a delivered message and pushes to any pair
// recipient who is currently offline. Room traffic is never pushed.
func (n *Notifier) MessageSent(aud models.Audience, msg models.Message) {
	if n == nil || aud.Kind != models.AudiencePair {
		return
	}
	for _, identity := range []string{aud.A, aud.B} {
		if identity == msg.AuthorID || n.presence.Online(identity) {
			continue
		}
		go n.notify(identity, msg)
	}
}

func (n *Notifier) notify(identity string, msg models.Message) {
	subs, err := n.store.ListSubscriptions(identity)
	if err != nil {
		slog.Error("failed to list push subscriptions", "identity", identity, "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(map[string]string{
		"from": msg.AuthorID,
		"body": msg.Body,
	})
	if err != nil {
		return
	}

	for _, sub := range subs {
		resp, err := webpush.SendNotification(payload, &sub, &webpush.Options{
			Subscriber:      n.cfg.Subscriber,
			VAPIDPublicKey:  n.cfg.VAPIDPublicKey,
			VAPIDPrivateKey: n.cfg.VAPIDPrivateKey,
			TTL:             60,
		})
		if err != nil {
			slog.Error("web push failed", "identity", identity, "error", err)
			continue
		}
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			// Subscription is dead, drop it.
			if err := n.store.DeleteSubscription(identity, sub.Endpoint); err != nil {
				slog.Error("failed to delete stale subscription", "identity", identity, "error", err)
			}
		}
		_ = resp.Body.Close()
	}
}
