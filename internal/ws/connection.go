package ws

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"parley/internal/models"
)

const DefaultQueueSize = 64

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type messageHub interface {
	Attach(ctx context.Context, c *Connection) error
	Submit(ctx context.Context, connID string, frame models.Frame) error
	Detach(connID string)
}

// Connection is one socket session. It is identified by an id assigned at
// accept time, independent of the user that later registers on it.
type Connection struct {
	ID string

	ws     wsConnection
	hub    messageHub
	outbox chan models.Frame

	// userID is owned by the hub loop.
	userID string
}

func NewConnection(hub messageHub, ws wsConnection, queueSize int) *Connection {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Connection{
		ID:     uuid.NewString(),
		ws:     ws,
		hub:    hub,
		outbox: make(chan models.Frame, queueSize),
	}
}

// Handle attaches the connection to the hub and pumps frames in both
// directions until the client goes away, a write fails, the hub closes the
// outbox or ctx is cancelled. Detach is issued exactly once on the way out.
func (c *Connection) Handle(ctx context.Context) error {
	if err := c.hub.Attach(ctx, c); err != nil {
		_ = c.ws.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	errorCh := make(chan error, 2)
	defer func() {
		cancel()
		c.hub.Detach(c.ID)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-errorCh:
	case <-ctx.Done():
	}
	_ = c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var frame models.Frame
		if err := c.ws.ReadJSON(&frame); err != nil {
			return err
		}
		if err := c.hub.Submit(ctx, c.ID, frame); err != nil {
			return err
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case frame, ok := <-c.outbox:
			if !ok {
				return nil
			}
			if err := c.ws.WriteJSON(frame); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
