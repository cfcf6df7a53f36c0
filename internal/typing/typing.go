package typing

import "palaver/internal/models"

type broadcaster interface {
	Broadcast(aud models.Audience, evt models.ServerEvent)
}

// Router forwards typing signals verbatim to their audience. No state is
// kept server-side: debounce and quiet-interval timeouts are the
// sender's job, and receivers must expire indicators on their own, so a
// stop without a start or a start with no stop are both fine here.
type Router struct {
	out broadcaster
}

func NewRouter(out broadcaster) *Router {
	return &Router{out: out}
}

func (r *Router) Start(identity string, aud models.Audience) {
	r.out.Broadcast(aud, models.ServerEvent{
		Type:     models.ServerEventTypingStart,
		ChatID:   aud.Conversation(),
		Identity: identity,
	})
}

func (r *Router) Stop(identity string, aud models.Audience) {
	r.out.Broadcast(aud, models.ServerEvent{
		Type:     models.ServerEventTypingStop,
		ChatID:   aud.Conversation(),
		Identity: identity,
	})
}
