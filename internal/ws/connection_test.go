package ws

import (
	"context"
	"errors"
	"testing"
	"time"

	"palaver/internal/models"
)

type mockWS struct {
	readCh      chan models.ClientEvent
	writeCh     chan any
	closeCh     chan struct{}
	closed      bool
	errToReturn error
}

func newMockWS() *mockWS {
	return &mockWS{
		readCh:  make(chan models.ClientEvent, 10),
		writeCh: make(chan any, 10),
		closeCh: make(chan struct{}),
	}
}

func (m *mockWS) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.closeCh)
	return nil
}

func (m *mockWS) WriteJSON(v interface{}) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	m.writeCh <- v
	return nil
}

func (m *mockWS) ReadJSON(v interface{}) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	select {
	case evt, ok := <-m.readCh:
		if !ok {
			return errors.New("closed")
		}
		if ptr, ok := v.(*models.ClientEvent); ok {
			*ptr = evt
		}
		return nil
	case <-m.closeCh:
		return errors.New("connection closed")
	}
}

type mockHub struct {
	attachCh   chan models.ConnID
	detachCh   chan models.ConnID
	dispatchCh chan models.ClientEvent
	toClient   chan models.ServerEvent
}

func newMockHub() *mockHub {
	return &mockHub{
		attachCh:   make(chan models.ConnID, 10),
		detachCh:   make(chan models.ConnID, 10),
		dispatchCh: make(chan models.ClientEvent, 10),
		toClient:   make(chan models.ServerEvent, 10),
	}
}

func (m *mockHub) Attach() (models.ConnID, <-chan models.ServerEvent) {
	conn := models.NewConnID()
	m.attachCh <- conn
	return conn, m.toClient
}

func (m *mockHub) Detach(conn models.ConnID) {
	m.detachCh <- conn
}

func (m *mockHub) HandleEvent(conn models.ConnID, identity string, evt models.ClientEvent) {
	m.dispatchCh <- evt
}

func TestConnection_Lifecycle(t *testing.T) {
	hub := newMockHub()
	ws := newMockWS()

	conn := NewConnection(hub, ws, "alice")

	var connID models.ConnID
	select {
	case connID = <-hub.attachCh:
	default:
		t.Fatal("Attach not called on NewConnection")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error)
	go func() {
		done <- conn.Handle(ctx)
	}()

	// Client -> hub.
	ws.readCh <- models.ClientEvent{Type: models.ClientEventSend, Body: "hello"}
	select {
	case received := <-hub.dispatchCh:
		if received.Body != "hello" {
			t.Errorf("hub received wrong event: %+v", received)
		}
	case <-time.After(1 * time.Second):
		t.Error("hub did not receive dispatched event")
	}

	// Server -> client.
	hub.toClient <- models.ServerEvent{Type: models.ServerEventMessage, ChatID: models.SharedRoomID}
	select {
	case received := <-ws.writeCh:
		evt, ok := received.(models.ServerEvent)
		if !ok {
			t.Fatalf("ws received wrong type: %T", received)
		}
		if evt.Type != models.ServerEventMessage {
			t.Errorf("ws received wrong event: %+v", evt)
		}
	case <-time.After(1 * time.Second):
		t.Error("ws did not receive server event")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Handle returned error: %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Error("Handle did not return after cancel")
	}

	select {
	case id := <-hub.detachCh:
		if id != connID {
			t.Errorf("Detach called with %s, want %s", id, connID)
		}
	default:
		t.Error("Detach not called")
	}

	if !ws.closed {
		t.Error("ws Close not called")
	}
}

func TestConnection_WSError(t *testing.T) {
	hub := newMockHub()
	ws := newMockWS()

	conn := NewConnection(hub, ws, "bob")
	ws.errToReturn = errors.New("read error")

	done := make(chan error)
	go func() {
		done <- conn.Handle(context.Background())
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected error from Handle, got nil")
		}
	case <-time.After(1 * time.Second):
		t.Error("Handle did not return on error")
	}

	if !ws.closed {
		t.Error("ws Close not called")
	}
}

func TestConnection_ServerChannelClosed(t *testing.T) {
	hub := newMockHub()
	ws := newMockWS()

	conn := NewConnection(hub, ws, "carol")
	<-hub.attachCh

	done := make(chan error)
	go func() {
		done <- conn.Handle(context.Background())
	}()

	// The registry closing the outbound channel shuts the session down
	// cleanly.
	close(hub.toClient)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Handle returned error: %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Error("Handle did not return after channel close")
	}
}
