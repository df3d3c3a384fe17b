package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"parley/internal/auth"
	"parley/internal/models"
)

var (
	bucketUsers           = []byte("users")
	bucketUserEmails      = []byte("user_emails")
	bucketUserNames       = []byte("user_names")
	bucketChannels        = []byte("channels")
	bucketDirectMessages  = []byte("direct_messages")
	bucketChannelMessages = []byte("channel_messages")
)

type BboltStorage struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketUsers,
			bucketUserEmails,
			bucketUserNames,
			bucketChannels,
			bucketDirectMessages,
			bucketChannelMessages,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db, now: time.Now}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// newID returns a UUIDv7, so keys of a bucket sort in creation order.
func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return id.String(), nil
}

func get[T any, PT interface {
	*T
	Storeable
}](b *bbolt.Bucket, key []byte) (T, error) {
	var v T
	data := b.Get(key)
	if data == nil {
		return v, models.ErrNotFound
	}
	if err := PT(&v).UnmarshalBinary(data); err != nil {
		return v, err
	}
	return v, nil
}

func put(b *bbolt.Bucket, v Storeable) error {
	data, err := v.MarshalBinary()
	if err != nil {
		return err
	}
	return b.Put(v.Key(), data)
}

// CreateUser stores a new user. Emails and usernames are unique.
func (s *BboltStorage) CreateUser(creds auth.UserCredentials) (models.User, error) {
	id, err := newID()
	if err != nil {
		return models.User{}, err
	}
	dbUser := &DBUser{
		ID:           id,
		Username:     creds.Username,
		Email:        creds.Email,
		About:        creds.About,
		Status:       string(creds.Status),
		PasswordHash: creds.PasswordHash,
		CreatedAt:    s.now().UnixMilli(),
	}
	if dbUser.Status == "" {
		dbUser.Status = string(models.StatusOffline)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		emails := tx.Bucket(bucketUserEmails)
		names := tx.Bucket(bucketUserNames)
		if emails.Get([]byte(dbUser.Email)) != nil || names.Get(nameKey(dbUser.Username)) != nil {
			return auth.ErrUserExists
		}
		if err := put(tx.Bucket(bucketUsers), dbUser); err != nil {
			return err
		}
		if err := emails.Put([]byte(dbUser.Email), dbUser.Key()); err != nil {
			return err
		}
		return names.Put(nameKey(dbUser.Username), dbUser.Key())
	})
	if err != nil {
		return models.User{}, err
	}
	return dbUser.toModel(), nil
}

func (s *BboltStorage) GetUser(id string) (models.User, error) {
	var user models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		dbUser, err := get[DBUser](tx.Bucket(bucketUsers), []byte(id))
		if err != nil {
			return err
		}
		user = dbUser.toModel()
		return nil
	})
	return user, err
}

func (s *BboltStorage) GetCredentialsByEmail(email string) (auth.UserCredentials, error) {
	var creds auth.UserCredentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketUserEmails).Get([]byte(email))
		if id == nil {
			return models.ErrNotFound
		}
		dbUser, err := get[DBUser](tx.Bucket(bucketUsers), id)
		if err != nil {
			return err
		}
		creds = auth.UserCredentials{User: dbUser.toModel(), PasswordHash: dbUser.PasswordHash}
		return nil
	})
	return creds, err
}

// ListUsers returns all users in signup order.
func (s *BboltStorage) ListUsers() ([]models.User, error) {
	var users []models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			users = append(users, dbUser.toModel())
			return nil
		})
	})
	return users, err
}

// UpdateProfile changes the username and about text of a user. Empty values
// keep the current ones.
func (s *BboltStorage) UpdateProfile(id, username, about string) (models.User, error) {
	var user models.User
	err := s.db.Update(func(tx *bbolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		dbUser, err := get[DBUser](users, []byte(id))
		if err != nil {
			return err
		}

		if username != "" && username != dbUser.Username {
			names := tx.Bucket(bucketUserNames)
			if owner := names.Get(nameKey(username)); owner != nil && string(owner) != id {
				return auth.ErrUserExists
			}
			if err := names.Delete(nameKey(dbUser.Username)); err != nil {
				return err
			}
			if err := names.Put(nameKey(username), dbUser.Key()); err != nil {
				return err
			}
			dbUser.Username = username
		}
		if about != "" {
			dbUser.About = about
		}

		if err := put(users, &dbUser); err != nil {
			return err
		}
		user = dbUser.toModel()
		return nil
	})
	return user, err
}

// SetUserStatus persists the presence status of a user.
func (s *BboltStorage) SetUserStatus(id string, status models.Status) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		dbUser, err := get[DBUser](users, []byte(id))
		if err != nil {
			return err
		}
		dbUser.Status = string(status)
		return put(users, &dbUser)
	})
}

// CreateChannel stores a new channel with its creator as the first member.
func (s *BboltStorage) CreateChannel(ch models.Channel) (models.Channel, error) {
	id, err := newID()
	if err != nil {
		return models.Channel{}, err
	}
	dbChannel := &DBChannel{
		ID:          id,
		Name:        ch.Name,
		Description: ch.Description,
		CreatedBy:   ch.CreatedBy,
		CreatedAt:   s.now().UnixMilli(),
	}
	if ch.CreatedBy != "" {
		dbChannel.Members = []string{ch.CreatedBy}
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket(bucketChannels), dbChannel)
	})
	if err != nil {
		return models.Channel{}, err
	}
	return dbChannel.toModel(), nil
}

func (s *BboltStorage) GetChannel(id string) (models.Channel, error) {
	var ch models.Channel
	err := s.db.View(func(tx *bbolt.Tx) error {
		dbChannel, err := get[DBChannel](tx.Bucket(bucketChannels), []byte(id))
		if err != nil {
			return err
		}
		ch = dbChannel.toModel()
		return nil
	})
	return ch, err
}

// ListChannels returns all channels, newest first.
func (s *BboltStorage) ListChannels() ([]models.Channel, error) {
	var channels []models.Channel
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketChannels).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var dbChannel DBChannel
			if err := dbChannel.UnmarshalBinary(v); err != nil {
				return err
			}
			channels = append(channels, dbChannel.toModel())
		}
		return nil
	})
	return channels, err
}

// AddChannelMember adds userID to the persisted member list. Adding an
// existing member is a no-op.
func (s *BboltStorage) AddChannelMember(channelID, userID string) (models.Channel, error) {
	var ch models.Channel
	err := s.db.Update(func(tx *bbolt.Tx) error {
		channels := tx.Bucket(bucketChannels)
		dbChannel, err := get[DBChannel](channels, []byte(channelID))
		if err != nil {
			return err
		}
		if !slices.Contains(dbChannel.Members, userID) {
			dbChannel.Members = append(dbChannel.Members, userID)
			if err := put(channels, &dbChannel); err != nil {
				return err
			}
		}
		ch = dbChannel.toModel()
		return nil
	})
	return ch, err
}

// SaveDirectMessage assigns an id and a timestamp and stores the message.
func (s *BboltStorage) SaveDirectMessage(msg models.DirectMessage) (models.DirectMessage, error) {
	id, err := newID()
	if err != nil {
		return models.DirectMessage{}, err
	}
	dbMessage := &DBDirectMessage{
		ID:         id,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
		CreatedAt:  s.now().UnixMilli(),
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket(bucketDirectMessages), dbMessage)
	})
	if err != nil {
		return models.DirectMessage{}, fmt.Errorf("failed to save message: %w", err)
	}
	return dbMessage.toModel(), nil
}

// DirectMessageFilter selects the conversation of UserID, optionally
// narrowed to the messages exchanged with PeerID.
type DirectMessageFilter struct {
	UserID string
	PeerID string
}

func (f DirectMessageFilter) match(m *DBDirectMessage) bool {
	switch {
	case f.UserID == "":
		return true
	case f.PeerID == "":
		return m.SenderID == f.UserID || m.ReceiverID == f.UserID
	default:
		return (m.SenderID == f.UserID && m.ReceiverID == f.PeerID) ||
			(m.SenderID == f.PeerID && m.ReceiverID == f.UserID)
	}
}

// FindDirectMessages returns matching messages, oldest first.
func (s *BboltStorage) FindDirectMessages(filter DirectMessageFilter) ([]models.DirectMessage, error) {
	var messages []models.DirectMessage
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDirectMessages).ForEach(func(k, v []byte) error {
			var dbMessage DBDirectMessage
			if err := dbMessage.UnmarshalBinary(v); err != nil {
				return err
			}
			if filter.match(&dbMessage) {
				messages = append(messages, dbMessage.toModel())
			}
			return nil
		})
	})
	return messages, err
}

func (s *BboltStorage) DeleteDirectMessage(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDirectMessages)
		if b.Get([]byte(id)) == nil {
			return models.ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

// SaveChannelMessage stores a message in the per-channel bucket of an
// existing channel.
func (s *BboltStorage) SaveChannelMessage(msg models.ChannelMessage) (models.ChannelMessage, error) {
	if msg.ChannelID == "" {
		return models.ChannelMessage{}, errors.New("message missing channelId")
	}
	id, err := newID()
	if err != nil {
		return models.ChannelMessage{}, err
	}
	dbMessage := &DBChannelMessage{
		ID:         id,
		ChannelID:  msg.ChannelID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Content:    msg.Content,
		CreatedAt:  s.now().UnixMilli(),
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketChannels).Get([]byte(msg.ChannelID)) == nil {
			return fmt.Errorf("channel %s: %w", msg.ChannelID, models.ErrNotFound)
		}
		channelBucket, err := tx.Bucket(bucketChannelMessages).CreateBucketIfNotExists([]byte(msg.ChannelID))
		if err != nil {
			return fmt.Errorf("failed to create channel bucket: %w", err)
		}
		return put(channelBucket, dbMessage)
	})
	if err != nil {
		return models.ChannelMessage{}, err
	}
	return dbMessage.toModel(), nil
}

// ListChannelMessages returns the messages of a channel, oldest first.
func (s *BboltStorage) ListChannelMessages(channelID string) ([]models.ChannelMessage, error) {
	var messages []models.ChannelMessage
	err := s.db.View(func(tx *bbolt.Tx) error {
		channelBucket := tx.Bucket(bucketChannelMessages).Bucket([]byte(channelID))
		if channelBucket == nil {
			return nil // No messages for this channel
		}
		return channelBucket.ForEach(func(k, v []byte) error {
			var dbMessage DBChannelMessage
			if err := dbMessage.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, dbMessage.toModel())
			return nil
		})
	})
	return messages, err
}

func nameKey(username string) []byte {
	return []byte(strings.ToLower(username))
}

// RecordStatus persists a presence change. Users unknown to the store are
// ignored since socket clients may register arbitrary ids.
func (s *BboltStorage) RecordStatus(_ context.Context, update models.StatusUpdate) error {
	err := s.SetUserStatus(update.UserID, update.Status)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	return err
}
