package files

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/closeflow/internal/backend"
)

// ErrTokenRequired is returned when a confirmation token is missing.
var ErrTokenRequired = errors.New("files: confirmation token required")

// TokenStore issues one-shot delete confirmation tokens backed by Redis.
type TokenStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewTokenStore constructs a TokenStore.
func NewTokenStore(client *redis.Client, ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &TokenStore{client: client, prefix: "closeflow:delete-token", ttl: ttl}
}

// Issue stores a token that authorises deleting ref for clientID once.
func (s *TokenStore) Issue(ctx context.Context, clientID string, ref backend.FileRef) (string, error) {
	token := uuid.NewString()
	if err := s.client.Set(ctx, s.key(token), encodeRef(clientID, ref), s.ttl).Err(); err != nil {
		return "", fmt.Errorf("files: issue token: %w", err)
	}
	return token, nil
}

// TTL is how long an issued token stays valid.
func (s *TokenStore) TTL() time.Duration { return s.ttl }

// Confirmer returns a Confirmer that consumes token.
func (s *TokenStore) Confirmer(clientID, token string) Confirmer {
	return ConfirmFunc(func(ctx context.Context, ref backend.FileRef) (bool, error) {
		if strings.TrimSpace(token) == "" {
			return false, ErrTokenRequired
		}
		stored, err := s.client.GetDel(ctx, s.key(token)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, nil
			}
			return false, err
		}
		return stored == encodeRef(clientID, ref), nil
	})
}

func (s *TokenStore) key(token string) string {
	return s.prefix + ":" + token
}

func encodeRef(clientID string, ref backend.FileRef) string {
	return strings.Join([]string{clientID, ref.Entity, ref.Category, ref.Filename}, "\x1f")
}
