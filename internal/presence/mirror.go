package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"parley/internal/models"
)

const (
	mirrorKeyPrefix = "presence:"
	onlineSetKey    = "online_users"
)

// Observer is told about status changes after they were broadcast.
type Observer interface {
	Observe(ctx context.Context, update models.StatusUpdate) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, update models.StatusUpdate) error

func (f ObserverFunc) Observe(ctx context.Context, update models.StatusUpdate) error {
	return f(ctx, update)
}

// MirrorRecord is the value stored under presence:<userId>.
type MirrorRecord struct {
	UserID    string        `json:"user_id"`
	Status    models.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// RedisMirror copies presence changes into Redis so that other services can
// read them. Every user with a known status has a presence:<userId> record;
// online_users lists only the users whose status is online. Routing never
// reads the mirror back.
type RedisMirror struct {
	redis  redis.Cmdable
	logger *slog.Logger
	now    func() time.Time
}

func NewRedisMirror(client redis.Cmdable, logger *slog.Logger) *RedisMirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisMirror{
		redis:  client,
		logger: logger,
		now:    time.Now,
	}
}

// NewRedisClient parses url and verifies the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (m *RedisMirror) Observe(ctx context.Context, update models.StatusUpdate) error {
	key := mirrorKeyPrefix + update.UserID

	var data []byte
	if update.Status != models.StatusOffline {
		var err error
		data, err = json.Marshal(MirrorRecord{
			UserID:    update.UserID,
			Status:    update.Status,
			UpdatedAt: m.now(),
		})
		if err != nil {
			return fmt.Errorf("failed to marshal presence: %w", err)
		}
	}

	_, err := m.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		switch update.Status {
		case models.StatusOffline:
			pipe.Del(ctx, key)
			pipe.SRem(ctx, onlineSetKey, update.UserID)
		case models.StatusOnline:
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, onlineSetKey, update.UserID)
		default:
			pipe.Set(ctx, key, data, 0)
			pipe.SRem(ctx, onlineSetKey, update.UserID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mirror presence for %s: %w", update.UserID, err)
	}
	return nil
}

// Reset removes everything the mirror wrote. The in-process registry starts
// empty on every boot, so the mirror has to as well.
func (m *RedisMirror) Reset(ctx context.Context) error {
	var (
		cursor uint64
		keys   []string
	)
	for {
		page, next, err := m.redis.Scan(ctx, cursor, mirrorKeyPrefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("failed to list mirrored users: %w", err)
		}
		keys = append(keys, page...)
		if next == 0 {
			break
		}
		cursor = next
	}

	if err := m.redis.Del(ctx, append(keys, onlineSetKey)...).Err(); err != nil {
		return fmt.Errorf("failed to reset presence mirror: %w", err)
	}

	m.logger.Info("presence mirror reset", "users", len(keys))
	return nil
}
