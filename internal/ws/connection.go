package ws

import (
	"context"
	"errors"
	"sync"

	"palaver/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type eventHub interface {
	Attach() (models.ConnID, <-chan models.ServerEvent)
	Detach(conn models.ConnID)
	HandleEvent(conn models.ConnID, identity string, evt models.ClientEvent)
}

// Connection pumps one websocket: client events in, server events out.
// identity is the admission-time verified identity; the session stays
// half-open until a join event binds it.
type Connection struct {
	ws         wsConnection
	hub        eventHub
	connID     models.ConnID
	identity   string
	fromClient chan models.ClientEvent
	fromServer <-chan models.ServerEvent
	errorCh    chan error
}

func NewConnection(hub eventHub, ws wsConnection, identity string) *Connection {
	connID, fromServer := hub.Attach()
	return &Connection{
		ws:         ws,
		hub:        hub,
		connID:     connID,
		identity:   identity,
		fromClient: make(chan models.ClientEvent),
		fromServer: fromServer,
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Detach(c.connID)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpEvents(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpEvents(ctx context.Context) error {
	for {
		var evt models.ClientEvent
		if err := c.ws.ReadJSON(&evt); err != nil {
			return err
		}
		select {
		case c.fromClient <- evt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case evt := <-c.fromClient:
			c.hub.HandleEvent(c.connID, c.identity, evt)
		case evt, ok := <-c.fromServer:
			if !ok {
				return nil
			}
			if err := c.ws.WriteJSON(evt); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
