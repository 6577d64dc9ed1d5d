package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const oauthStateTTL = 10 * time.Minute

// ErrInvalidState indicates an unknown, expired or already used oauth state.
var ErrInvalidState = errors.New("invalid oauth state")

// RevocationStore remembers logged-out token ids until they expire.
type RevocationStore interface {
	Revoke(ctx context.Context, jti string, until time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// StateStore issues and consumes single-use oauth state values.
type StateStore interface {
	Issue(ctx context.Context, provider string) (string, error)
	Consume(ctx context.Context, provider, state string) error
}

// RedisRevocationStore keeps revoked token ids in Redis with a TTL matching the token.
type RedisRevocationStore struct {
	client *redis.Client
	prefix string
}

// NewRedisRevocationStore constructs a revocation store.
func NewRedisRevocationStore(client *redis.Client, namespace string) *RedisRevocationStore {
	return &RedisRevocationStore{client: client, prefix: keyPrefix(namespace, "revoked")}
}

// Revoke marks the token id revoked until its natural expiry.
func (s *RedisRevocationStore) Revoke(ctx context.Context, jti string, until time.Time) error {
	if s == nil || s.client == nil || jti == "" {
		return nil
	}
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.prefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether the token id has been revoked.
func (s *RedisRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if s == nil || s.client == nil || jti == "" {
		return false, nil
	}
	count, err := s.client.Exists(ctx, s.prefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return count > 0, nil
}

// RedisStateStore keeps oauth state values in Redis for ten minutes.
type RedisStateStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStateStore constructs a state store.
func NewRedisStateStore(client *redis.Client, namespace string) *RedisStateStore {
	return &RedisStateStore{client: client, prefix: keyPrefix(namespace, "oauth_state"), ttl: oauthStateTTL}
}

// Issue generates a state bound to the provider.
func (s *RedisStateStore) Issue(ctx context.Context, provider string) (string, error) {
	state := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := s.client.Set(ctx, s.prefix+state, provider, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store oauth state: %w", err)
	}
	return state, nil
}

// Consume deletes the state and checks it was issued for the provider.
func (s *RedisStateStore) Consume(ctx context.Context, provider, state string) error {
	state = strings.TrimSpace(state)
	if state == "" {
		return ErrInvalidState
	}
	stored, err := s.client.GetDel(ctx, s.prefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return ErrInvalidState
	}
	if err != nil {
		return fmt.Errorf("consume oauth state: %w", err)
	}
	if stored != provider {
		return ErrInvalidState
	}
	return nil
}

func keyPrefix(namespace, kind string) string {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = "unigigs"
	}
	return fmt.Sprintf("%s:%s:", namespace, kind)
}
