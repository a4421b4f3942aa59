// Package redis holds short-lived coordination state: OAuth login nonces
// and processed webhook event IDs.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	statePrefix = "oauth_state:"
	eventPrefix = "stripe_event:"

	stateTTL = 10 * time.Minute
	eventTTL = 24 * time.Hour
)

type Store struct {
	client *redis.Client
}

func New(ctx context.Context, url string) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// SaveOAuthState stores a login nonce for later callback validation.
func (s *Store) SaveOAuthState(ctx context.Context, state string) error {
	return s.client.Set(ctx, statePrefix+state, "1", stateTTL).Err()
}

// ConsumeOAuthState removes the nonce and reports whether it existed.
// A nonce validates exactly one callback.
func (s *Store) ConsumeOAuthState(ctx context.Context, state string) (bool, error) {
	n, err := s.client.Del(ctx, statePrefix+state).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkEventProcessed records a webhook event ID and reports whether this is
// the first delivery. Redeliveries within the retention window return false.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID string) (bool, error) {
	return s.client.SetNX(ctx, eventPrefix+eventID, "1", eventTTL).Result()
}

// UnmarkEvent drops a claimed event ID after a failed processing attempt,
// letting the provider's redelivery go through.
func (s *Store) UnmarkEvent(ctx context.Context, eventID string) error {
	return s.client.Del(ctx, eventPrefix+eventID).Err()
}
