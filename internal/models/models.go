package models

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

// Status is the presence status of a user.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusAway    Status = "away"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusAway:
		return true
	}
	return false
}

// User represents a user in the system.
// Document ids are serialized as "_id" to keep the document-store wire shape
// the frontend already consumes.
type User struct {
	ID        string    `json:"_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	About     string    `json:"about"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Channel represents a named group conversation.
// Members is the persisted member list; live room membership is tracked
// separately by the room router and is not kept in sync with it.
type Channel struct {
	ID          string    `json:"_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"createdBy"`
	Members     []string  `json:"members"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DirectMessage is a point-to-point message between two users.
type DirectMessage struct {
	ID         string    `json:"_id,omitempty"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ChannelMessage is a message posted to a channel.
type ChannelMessage struct {
	ID         string    `json:"_id,omitempty"`
	ChannelID  string    `json:"channelId"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// PresenceEntry is the live presence of one user.
// ConnectionID is empty for status-only entries.
type PresenceEntry struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId,omitempty"`
	Status       Status `json:"status"`
}

// StatusUpdate is broadcast to every connection when a user's status changes.
type StatusUpdate struct {
	UserID string `json:"userId"`
	Status Status `json:"status"`
}

// Frame is a single event on the socket, in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame encodes v as the frame payload.
func NewFrame(event string, v any) (Frame, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Data: data}, nil
}

// Socket event names.
const (
	EventRegister         = "register"
	EventUserOnline       = "userOnline"
	EventSetStatus        = "setStatus"
	EventPrivateMessage   = "private message"
	EventJoinChannel      = "joinChannel"
	EventLeaveChannel     = "leaveChannel"
	EventSendMessage      = "sendMessage"
	EventMessage          = "message"
	EventUserStatusUpdate = "userStatusUpdate"
)

// SetStatusRequest is the payload of a setStatus event.
type SetStatusRequest struct {
	Status Status `json:"status"`
}

type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
