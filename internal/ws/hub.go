package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"parley/internal/metrics"
	"parley/internal/models"
	"parley/internal/presence"
	"parley/internal/router"
)

const (
	observerTimeout = 5 * time.Second
	// Pending observer work is abandoned after this long on shutdown.
	observerDrainTimeout = 5 * time.Second
	observerQueueSize    = 1024
)

var ErrHubClosed = errors.New("hub is closed")

type handlerFunc func(c *Connection, data json.RawMessage) error

// Hub owns the presence registry, the live rooms and the connection table.
// All of them are mutated by the Run goroutine only: attach, detach, every
// inbound frame and every admin command is queued as a closure and executed
// to completion before the next one starts.
type Hub struct {
	registry  *presence.Registry
	rooms     *router.Rooms
	direct    *router.Direct
	observers []presence.Observer
	logger    *slog.Logger

	conns    map[string]*Connection
	handlers map[string]handlerFunc

	events chan func()
	done   chan struct{}

	// Status updates travel to the observers in order on their own
	// goroutine, so storage and Redis latency never stalls the loop.
	updates         chan models.StatusUpdate
	observersDone   chan struct{}
	observerCtx     context.Context
	cancelObservers context.CancelFunc
}

type HubConfig struct {
	Logger *slog.Logger
	// Observers run after a status change was broadcast, in order.
	Observers []presence.Observer
	// QueueSize bounds the number of pending inbound events.
	QueueSize int
}

func NewHub(cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}

	h := &Hub{
		observers: cfg.Observers,
		logger:    logger,
		conns:     make(map[string]*Connection),
		events:    make(chan func(), queueSize),
		done:      make(chan struct{}),

		updates:       make(chan models.StatusUpdate, observerQueueSize),
		observersDone: make(chan struct{}),
	}
	h.registry = presence.NewRegistry(h)
	h.rooms = router.NewRooms(h)
	h.direct = router.NewDirect(h.registry, h)

	h.handlers = map[string]handlerFunc{
		models.EventRegister:       h.onRegister,
		models.EventUserOnline:     h.onUserOnline,
		models.EventSetStatus:      h.onSetStatus,
		models.EventPrivateMessage: h.onPrivateMessage,
		models.EventJoinChannel:    h.onJoinChannel,
		models.EventLeaveChannel:   h.onLeaveChannel,
		models.EventSendMessage:    h.onSendMessage,
	}

	return h
}

// Run processes events until ctx is cancelled. On the way out every
// connection is detached, the registry is cleared and the observers are
// drained, so Done is only closed once no observer touches storage anymore.
func (h *Hub) Run(ctx context.Context) {
	h.observerCtx, h.cancelObservers = context.WithCancel(context.WithoutCancel(ctx))
	go h.runObservers()

	defer close(h.done)
	defer h.drainObservers()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case fn := <-h.events:
			h.run(fn)
		}
	}
}

func (h *Hub) runObservers() {
	defer close(h.observersDone)
	for update := range h.updates {
		for _, o := range h.observers {
			if err := h.observe(o, update); err != nil {
				h.logger.Error("status observer failed", "user_id", update.UserID, "status", update.Status, "error", err)
			}
		}
	}
}

func (h *Hub) observe(o presence.Observer, update models.StatusUpdate) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panicked: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(h.observerCtx, observerTimeout)
	defer cancel()
	return o.Observe(ctx, update)
}

func (h *Hub) drainObservers() {
	close(h.updates)
	select {
	case <-h.observersDone:
	case <-time.After(observerDrainTimeout):
		h.logger.Warn("observers are slow to drain, cancelling", "pending", len(h.updates))
		h.cancelObservers()
		<-h.observersDone
	}
	h.cancelObservers()
}

// notifyObservers queues update for the observer goroutine. It only blocks
// the loop when the queue is full.
func (h *Hub) notifyObservers(update models.StatusUpdate) {
	if len(h.observers) == 0 {
		return
	}
	select {
	case h.updates <- update:
	default:
		h.logger.Warn("observer queue is full", "user_id", update.UserID)
		h.updates <- update
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("hub event panicked", "panic", r)
		}
	}()
	fn()
}

func (h *Hub) enqueue(ctx context.Context, fn func()) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.events <- fn:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call enqueues fn and waits until the loop has executed it.
func (h *Hub) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := h.enqueue(ctx, func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) Attach(ctx context.Context, c *Connection) error {
	return h.enqueue(ctx, func() {
		h.conns[c.ID] = c
		metrics.ConnectionsOpen.Set(float64(len(h.conns)))
		h.logger.Debug("connection attached", "conn_id", c.ID)
	})
}

func (h *Hub) Submit(ctx context.Context, connID string, frame models.Frame) error {
	return h.enqueue(ctx, func() {
		h.dispatch(connID, frame)
	})
}

// Detach is the disconnect hook. It is safe to call more than once; only
// the first call for an attached connection has any effect.
func (h *Hub) Detach(connID string) {
	_ = h.enqueue(context.Background(), func() {
		h.disconnect(connID)
	})
}

// DisconnectUser closes the live connection of userID from the server side.
func (h *Hub) DisconnectUser(ctx context.Context, userID string) (bool, error) {
	var found bool
	err := h.call(ctx, func() {
		connID, ok := h.registry.Lookup(userID)
		if !ok {
			return
		}
		if _, attached := h.conns[connID]; !attached {
			return
		}
		found = true
		h.disconnect(connID)
	})
	return found, err
}

// Presence returns a snapshot of the presence registry.
func (h *Hub) Presence() []models.PresenceEntry {
	return h.registry.Snapshot()
}

// Status returns the presence of one user; absent users are offline.
func (h *Hub) Status(userID string) models.PresenceEntry {
	if entry, ok := h.registry.Get(userID); ok {
		return entry
	}
	return models.PresenceEntry{UserID: userID, Status: models.StatusOffline}
}

// Send implements router.Sender. It must only be called from the loop.
func (h *Hub) Send(connID string, frame models.Frame) bool {
	c, ok := h.conns[connID]
	if !ok {
		return false
	}
	select {
	case c.outbox <- frame:
		return true
	default:
		metrics.FramesDropped.Inc()
		h.logger.Warn("dropping frame, connection queue is full", "conn_id", connID, "event", frame.Event)
		return false
	}
}

// StatusChanged implements presence.Notifier: the update is broadcast to
// every attached connection first, then handed to the observers.
func (h *Hub) StatusChanged(update models.StatusUpdate) {
	metrics.PresenceEntries.Set(float64(h.registry.Len()))

	frame, err := models.NewFrame(models.EventUserStatusUpdate, update)
	if err != nil {
		h.logger.Error("failed to encode status update", "user_id", update.UserID, "error", err)
		return
	}
	for connID := range h.conns {
		h.Send(connID, frame)
	}
	h.notifyObservers(update)
}

func (h *Hub) dispatch(connID string, frame models.Frame) {
	c, ok := h.conns[connID]
	if !ok {
		return
	}

	handler, ok := h.handlers[frame.Event]
	if !ok {
		h.logger.Debug("ignoring unknown event", "conn_id", connID, "event", frame.Event)
		return
	}
	metrics.EventsTotal.WithLabelValues(frame.Event).Inc()

	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanics.WithLabelValues(frame.Event).Inc()
			h.logger.Error("event handler panicked", "conn_id", connID, "event", frame.Event, "panic", r)
		}
	}()
	if err := handler(c, frame.Data); err != nil {
		h.logger.Warn("event handler failed", "conn_id", connID, "user_id", c.userID, "event", frame.Event, "error", err)
	}
}

func (h *Hub) disconnect(connID string) {
	c, ok := h.conns[connID]
	if !ok {
		return
	}
	delete(h.conns, connID)
	metrics.ConnectionsOpen.Set(float64(len(h.conns)))

	h.rooms.LeaveAll(connID)
	if userID, ok := h.registry.UnregisterByConnection(connID); ok {
		h.logger.Info("user offline", "user_id", userID, "conn_id", connID)
	}
	close(c.outbox)
	h.logger.Debug("connection detached", "conn_id", connID)
}

func (h *Hub) shutdown() {
	for connID := range h.conns {
		h.disconnect(connID)
	}
	h.registry.Clear()
	metrics.PresenceEntries.Set(0)
	h.logger.Info("hub stopped")
}

func decodeID(data json.RawMessage, what string) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return "", fmt.Errorf("invalid %s: %w", what, err)
	}
	if id == "" {
		return "", fmt.Errorf("empty %s", what)
	}
	return id, nil
}

func (h *Hub) onRegister(c *Connection, data json.RawMessage) error {
	userID, err := decodeID(data, "user id")
	if err != nil {
		return err
	}
	h.registry.Register(userID, c.ID)
	c.userID = userID
	metrics.PresenceEntries.Set(float64(h.registry.Len()))
	h.logger.Info("user registered", "user_id", userID, "conn_id", c.ID)

	// Registering is not announced to other clients, but the observers
	// see it so that the later offline update has a matching online one.
	h.notifyObservers(models.StatusUpdate{UserID: userID, Status: models.StatusOnline})
	return nil
}

func (h *Hub) onUserOnline(c *Connection, data json.RawMessage) error {
	userID, err := decodeID(data, "user id")
	if err != nil {
		return err
	}
	h.registry.Register(userID, c.ID)
	c.userID = userID
	h.registry.SetStatus(userID, models.StatusOnline)
	return nil
}

func (h *Hub) onSetStatus(c *Connection, data json.RawMessage) error {
	if c.userID == "" {
		return errors.New("connection is not registered")
	}
	var req models.SetStatusRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("invalid status payload: %w", err)
	}
	if !req.Status.Valid() {
		return fmt.Errorf("unknown status %q", req.Status)
	}
	// A user goes offline by disconnecting; an offline user with a live
	// connection would still receive direct messages.
	if req.Status == models.StatusOffline {
		return errors.New("status offline can only be reached by disconnecting")
	}
	h.registry.SetStatus(c.userID, req.Status)
	return nil
}

func (h *Hub) onPrivateMessage(c *Connection, data json.RawMessage) error {
	var msg models.DirectMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("invalid private message: %w", err)
	}
	if msg.ReceiverID == "" {
		return errors.New("private message without receiverId")
	}

	outcome, err := h.direct.Route(msg, data)
	if err != nil {
		return err
	}
	metrics.DirectMessages.WithLabelValues(string(outcome)).Inc()
	if outcome == router.Offline {
		h.logger.Debug("receiver offline, message not delivered", "conn_id", c.ID, "receiver_id", msg.ReceiverID)
	}
	return nil
}

func (h *Hub) onJoinChannel(c *Connection, data json.RawMessage) error {
	channelID, err := decodeID(data, "channel id")
	if err != nil {
		return err
	}
	h.rooms.Join(c.ID, channelID)
	h.logger.Debug("joined channel", "conn_id", c.ID, "channel_id", channelID)
	return nil
}

func (h *Hub) onLeaveChannel(c *Connection, data json.RawMessage) error {
	channelID, err := decodeID(data, "channel id")
	if err != nil {
		return err
	}
	h.rooms.Leave(c.ID, channelID)
	h.logger.Debug("left channel", "conn_id", c.ID, "channel_id", channelID)
	return nil
}

func (h *Hub) onSendMessage(c *Connection, data json.RawMessage) error {
	var msg models.ChannelMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("invalid channel message: %w", err)
	}
	if msg.ChannelID == "" {
		return errors.New("channel message without channelId")
	}

	h.rooms.Broadcast(msg.ChannelID, models.Frame{Event: models.EventMessage, Data: data})
	metrics.ChannelBroadcasts.Inc()
	return nil
}
