// Package router fans messages out to channel rooms and forwards direct
// messages to the recipient's live connection.
package router

import (
	"encoding/json"
	"sort"
	"sync"

	"parley/internal/models"
)

// Sender delivers a frame to one connection. It reports false when the
// connection is unknown or cannot take more frames.
type Sender interface {
	Send(connID string, frame models.Frame) bool
}

// Locator resolves a user id to its live connection.
type Locator interface {
	Lookup(userID string) (string, bool)
}

// Rooms keeps live room membership of connections. It never touches the
// persisted channel member list.
type Rooms struct {
	sender  Sender
	members map[string]map[string]struct{} // channelID -> connIDs
	joined  map[string]map[string]struct{} // connID -> channelIDs

	mu sync.RWMutex
}

func NewRooms(sender Sender) *Rooms {
	return &Rooms{
		sender:  sender,
		members: make(map[string]map[string]struct{}),
		joined:  make(map[string]map[string]struct{}),
	}
}

func (r *Rooms) Join(connID, channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.members[channelID] == nil {
		r.members[channelID] = make(map[string]struct{})
	}
	r.members[channelID][connID] = struct{}{}

	if r.joined[connID] == nil {
		r.joined[connID] = make(map[string]struct{})
	}
	r.joined[connID][channelID] = struct{}{}
}

func (r *Rooms) Leave(connID, channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leave(connID, channelID)
}

func (r *Rooms) leave(connID, channelID string) {
	if conns, ok := r.members[channelID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.members, channelID)
		}
	}
	if chans, ok := r.joined[connID]; ok {
		delete(chans, channelID)
		if len(chans) == 0 {
			delete(r.joined, connID)
		}
	}
}

// LeaveAll removes connID from every room it joined.
func (r *Rooms) LeaveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for channelID := range r.joined[connID] {
		r.leave(connID, channelID)
	}
}

// Members returns the connections joined to channelID, sorted.
func (r *Rooms) Members(channelID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]string, 0, len(r.members[channelID]))
	for connID := range r.members[channelID] {
		conns = append(conns, connID)
	}
	sort.Strings(conns)
	return conns
}

// Broadcast delivers frame to every connection in channelID, the sender
// included, and returns how many connections accepted it.
func (r *Rooms) Broadcast(channelID string, frame models.Frame) int {
	delivered := 0
	for _, connID := range r.Members(channelID) {
		if r.sender.Send(connID, frame) {
			delivered++
		}
	}
	return delivered
}

// Direct forwards direct messages to the recipient's live connection.
type Direct struct {
	locator Locator
	sender  Sender
}

func NewDirect(locator Locator, sender Sender) *Direct {
	return &Direct{locator: locator, sender: sender}
}

// Outcome is what happened to a routed direct message.
type Outcome string

const (
	Delivered Outcome = "delivered"
	// Offline means the receiver has no live connection.
	Offline Outcome = "offline"
	// Dropped means the receiver is connected but its queue refused the frame.
	Dropped Outcome = "dropped"
)

// Route emits payload as a private message to msg.ReceiverID if the receiver
// is connected. An offline receiver is not an error: the message is simply
// not delivered and stays recoverable from the message store only.
// A nil payload is encoded from msg.
func (d *Direct) Route(msg models.DirectMessage, payload json.RawMessage) (Outcome, error) {
	connID, ok := d.locator.Lookup(msg.ReceiverID)
	if !ok {
		return Offline, nil
	}

	if payload == nil {
		data, err := json.Marshal(msg)
		if err != nil {
			return "", err
		}
		payload = data
	}

	sent := d.sender.Send(connID, models.Frame{
		Event: models.EventPrivateMessage,
		Data:  payload,
	})
	if !sent {
		return Dropped, nil
	}
	return Delivered, nil
}
