package storage

import (
	"encoding"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"parley/internal/models"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID           string `msgpack:"id"`
	Username     string `msgpack:"username"`
	Email        string `msgpack:"email"`
	About        string `msgpack:"about"`
	Status       string `msgpack:"status"`
	PasswordHash string `msgpack:"passwordHash"`
	CreatedAt    int64  `msgpack:"createdAt"` // Unix milliseconds
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

func (u *DBUser) toModel() models.User {
	return models.User{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		About:     u.About,
		Status:    models.Status(u.Status),
		CreatedAt: fromMillis(u.CreatedAt),
	}
}

type DBChannel struct {
	ID          string   `msgpack:"id"`
	Name        string   `msgpack:"name"`
	Description string   `msgpack:"description"`
	CreatedBy   string   `msgpack:"createdBy"`
	Members     []string `msgpack:"members"`
	CreatedAt   int64    `msgpack:"createdAt"`
}

func (c *DBChannel) Key() []byte {
	return []byte(c.ID)
}

func (c *DBChannel) MarshalBinary() (data []byte, err error) {
	type alias DBChannel
	return msgpack.Marshal((*alias)(c))
}

func (c *DBChannel) UnmarshalBinary(data []byte) error {
	type alias DBChannel
	return msgpack.Unmarshal(data, (*alias)(c))
}

func (c *DBChannel) toModel() models.Channel {
	members := c.Members
	if members == nil {
		members = []string{}
	}
	return models.Channel{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		CreatedBy:   c.CreatedBy,
		Members:     members,
		CreatedAt:   fromMillis(c.CreatedAt),
	}
}

// DBDirectMessage is keyed by its UUIDv7 id, so bucket order is creation order.
type DBDirectMessage struct {
	ID         string `msgpack:"id"`
	SenderID   string `msgpack:"senderId"`
	ReceiverID string `msgpack:"receiverId"`
	Content    string `msgpack:"content"`
	CreatedAt  int64  `msgpack:"createdAt"`
}

func (m *DBDirectMessage) Key() []byte {
	return []byte(m.ID)
}

func (m *DBDirectMessage) MarshalBinary() (data []byte, err error) {
	type alias DBDirectMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBDirectMessage) UnmarshalBinary(data []byte) error {
	type alias DBDirectMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

func (m *DBDirectMessage) toModel() models.DirectMessage {
	return models.DirectMessage{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		CreatedAt:  fromMillis(m.CreatedAt),
	}
}

type DBChannelMessage struct {
	ID         string `msgpack:"id"`
	ChannelID  string `msgpack:"channelId"`
	SenderID   string `msgpack:"senderId"`
	SenderName string `msgpack:"senderName"`
	Content    string `msgpack:"content"`
	CreatedAt  int64  `msgpack:"createdAt"`
}

func (m *DBChannelMessage) Key() []byte {
	return []byte(m.ID)
}

func (m *DBChannelMessage) MarshalBinary() (data []byte, err error) {
	type alias DBChannelMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBChannelMessage) UnmarshalBinary(data []byte) error {
	type alias DBChannelMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

func (m *DBChannelMessage) toModel() models.ChannelMessage {
	return models.ChannelMessage{
		ID:         m.ID,
		ChannelID:  m.ChannelID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Content:    m.Content,
		CreatedAt:  fromMillis(m.CreatedAt),
	}
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
