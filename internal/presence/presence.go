package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tracker answers "was this user active recently" and resolves avatar
// references. Both are best-effort caches; callers must treat failures as
// "unknown", never as fatal.
type Tracker interface {
	Touch(ctx context.Context, userID int) error
	Online(ctx context.Context, userID int) (bool, error)
	AvatarURL(ctx context.Context, userID int) (string, error)
}

// Store is a Redis-backed Tracker. The user service owns the avatar keys;
// the relay owns the last-seen keys.
type Store struct {
	client *redis.Client
	prefix string
	window time.Duration
}

// NewStore builds a Store. window is how long after the last touch a user
// still counts as online.
func NewStore(client *redis.Client, prefix string, window time.Duration) *Store {
	return &Store{client: client, prefix: prefix, window: window}
}

func (s *Store) seenKey(userID int) string {
	return fmt.Sprintf("%s:seen:%d", s.prefix, userID)
}

func (s *Store) avatarKey(userID int) string {
	return fmt.Sprintf("%s:avatar:%d", s.prefix, userID)
}

// Touch records activity for the user. The key expires on its own, so a
// vanished client goes offline without cleanup.
func (s *Store) Touch(ctx context.Context, userID int) error {
	return s.client.Set(ctx, s.seenKey(userID), strconv.FormatInt(time.Now().Unix(), 10), s.window).Err()
}

// Online reports whether the user was active within the window.
func (s *Store) Online(ctx context.Context, userID int) (bool, error) {
	err := s.client.Get(ctx, s.seenKey(userID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AvatarURL returns the cached avatar reference for the user, or "" when none
// is known.
func (s *Store) AvatarURL(ctx context.Context, userID int) (string, error) {
	val, err := s.client.Get(ctx, s.avatarKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// Noop is used when Redis is not configured: everyone reads as offline and
// avatarless.
type Noop struct{}

func (Noop) Touch(ctx context.Context, userID int) error               { return nil }
func (Noop) Online(ctx context.Context, userID int) (bool, error)      { return false, nil }
func (Noop) AvatarURL(ctx context.Context, userID int) (string, error) { return "", nil }
