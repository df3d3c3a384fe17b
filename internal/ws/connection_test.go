package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"parley/internal/models"
)

type mockWS struct {
	readCh      chan models.Frame
	writeCh     chan any
	closeCh     chan struct{}
	mu          sync.Mutex
	closed      bool
	errToReturn error
}

func newMockWS() *mockWS {
	return &mockWS{
		readCh:  make(chan models.Frame, 10),
		writeCh: make(chan any, 64),
		closeCh: make(chan struct{}),
	}
}

func (m *mockWS) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.closeCh)
	return nil
}

func (m *mockWS) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockWS) WriteJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	select {
	case m.writeCh <- v:
		return nil
	case <-m.closeCh:
		return errors.New("connection closed")
	}
}

func (m *mockWS) ReadJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	select {
	case msg, ok := <-m.readCh:
		if !ok {
			return errors.New("closed")
		}
		if ptr, ok := v.(*models.Frame); ok {
			*ptr = msg
		}
		return nil
	case <-m.closeCh:
		return errors.New("connection closed")
	}
}

type mockHub struct {
	attachCh chan *Connection
	submitCh chan models.Frame
	detachCh chan string
}

func newMockHub() *mockHub {
	return &mockHub{
		attachCh: make(chan *Connection, 10),
		submitCh: make(chan models.Frame, 10),
		detachCh: make(chan string, 10),
	}
}

func (m *mockHub) Attach(_ context.Context, c *Connection) error {
	m.attachCh <- c
	return nil
}

func (m *mockHub) Submit(_ context.Context, _ string, frame models.Frame) error {
	m.submitCh <- frame
	return nil
}

func (m *mockHub) Detach(connID string) {
	m.detachCh <- connID
}

func TestConnection_Lifecycle(t *testing.T) {
	hub := newMockHub()
	ws := newMockWS()

	conn := NewConnection(hub, ws, 4)
	if conn.ID == "" {
		t.Fatal("connection id not assigned")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error)
	go func() {
		done <- conn.Handle(ctx)
	}()

	select {
	case c := <-hub.attachCh:
		if c != conn {
			t.Error("attached a different connection")
		}
	case <-time.After(time.Second):
		t.Fatal("Attach not called")
	}

	// 1. Client -> Hub
	clientFrame := models.Frame{Event: models.EventJoinChannel, Data: json.RawMessage(`"general"`)}
	ws.readCh <- clientFrame

	select {
	case received := <-hub.submitCh:
		if received.Event != clientFrame.Event || string(received.Data) != `"general"` {
			t.Errorf("Hub received wrong frame: %+v", received)
		}
	case <-time.After(time.Second):
		t.Error("Hub did not receive submitted frame")
	}

	// 2. Hub -> Client
	serverFrame := models.Frame{Event: models.EventMessage, Data: json.RawMessage(`{"content":"hi back"}`)}
	conn.outbox <- serverFrame

	select {
	case received := <-ws.writeCh:
		f, ok := received.(models.Frame)
		if !ok {
			t.Fatalf("WS received wrong type: %T", received)
		}
		if f.Event != models.EventMessage || string(f.Data) != `{"content":"hi back"}` {
			t.Errorf("WS received wrong frame: %+v", f)
		}
	case <-time.After(time.Second):
		t.Error("WS did not receive server frame")
	}

	// 3. Stop
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Handle returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Handle did not return after cancel")
	}

	select {
	case id := <-hub.detachCh:
		if id != conn.ID {
			t.Errorf("Expected Detach with %s, got %s", conn.ID, id)
		}
	default:
		t.Error("Detach not called")
	}
	select {
	case id := <-hub.detachCh:
		t.Errorf("Detach called twice (%s)", id)
	default:
	}

	if !ws.isClosed() {
		t.Error("WS Close not called")
	}
}

func TestConnection_WSError(t *testing.T) {
	hub := newMockHub()
	ws := newMockWS()
	ws.errToReturn = errors.New("read error")

	conn := NewConnection(hub, ws, 4)

	done := make(chan error)
	go func() {
		done <- conn.Handle(context.Background())
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected error from Handle, got nil")
		}
	case <-time.After(time.Second):
		t.Fatal("Handle did not return on error")
	}

	select {
	case <-hub.detachCh:
	default:
		t.Error("Detach not called after read error")
	}
	if !ws.isClosed() {
		t.Error("WS Close not called")
	}
}

func TestConnection_OutboxClosedByHub(t *testing.T) {
	hub := newMockHub()
	ws := newMockWS()
	conn := NewConnection(hub, ws, 4)

	done := make(chan error)
	go func() {
		done <- conn.Handle(context.Background())
	}()
	<-hub.attachCh

	close(conn.outbox)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean exit, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Handle did not return after outbox was closed")
	}
	if !ws.isClosed() {
		t.Error("WS Close not called")
	}
}
