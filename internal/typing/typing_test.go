package typing

import (
	"testing"

	"palaver/internal/models"
)

type fakeOut struct {
	events []struct {
		aud models.Audience
		evt models.ServerEvent
	}
}

func (f *fakeOut) Broadcast(aud models.Audience, evt models.ServerEvent) {
	f.events = append(f.events, struct {
		aud models.Audience
		evt models.ServerEvent
	}{aud, evt})
}

func TestRouterPassthrough(t *testing.T) {
	out := &fakeOut{}
	router := NewRouter(out)

	router.Start("alice", models.ToAll())
	router.Stop("alice", models.ToAll())

	if len(out.events) != 2 {
		t.Fatalf("got %d events, want 2", len(out.events))
	}
	if out.events[0].evt.Type != models.ServerEventTypingStart || out.events[0].evt.Identity != "alice" {
		t.Errorf("first event = %+v, want typing-start from alice", out.events[0].evt)
	}
	if out.events[1].evt.Type != models.ServerEventTypingStop {
		t.Errorf("second event = %+v, want typing-stop", out.events[1].evt)
	}
}

func TestRouterStopWithoutStart(t *testing.T) {
	out := &fakeOut{}
	router := NewRouter(out)

	// No server-side state: a stop with no preceding start is forwarded
	// as-is, never an error.
	router.Stop("bob", models.ToPair("bob", "alice"))

	if len(out.events) != 1 {
		t.Fatalf("got %d events, want 1", len(out.events))
	}
	if out.events[0].aud.Kind != models.AudiencePair {
		t.Errorf("audience = %+v, want pair", out.events[0].aud)
	}
	if out.events[0].evt.ChatID != models.PairKey("alice", "bob") {
		t.Errorf("chatId = %q, want pair key", out.events[0].evt.ChatID)
	}
}
