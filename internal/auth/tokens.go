package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sentinel-iam/sentinel-iam/internal/shared"
)

const (
	tokenKeyPrefix   = "auth:token:"
	currentKeyPrefix = "auth:current:"
)

// TokenStore keeps opaque bearer tokens in Redis. Each user has at most one
// live token at a time: issuing a new one revokes the previous session.
type TokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTokenStore builds a TokenStore with the given session TTL.
func NewTokenStore(client *redis.Client, ttl time.Duration) *TokenStore {
	return &TokenStore{client: client, ttl: ttl}
}

// Issue creates a fresh token for the user, revoking any prior one.
func (s *TokenStore) Issue(ctx context.Context, userID int64) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: token entropy: %w", err)
	}
	token := hex.EncodeToString(buf)

	currentKey := currentKeyPrefix + strconv.FormatInt(userID, 10)
	prior, err := s.client.Get(ctx, currentKey).Result()
	if err != nil && err != redis.Nil {
		return "", fmt.Errorf("auth: read current token: %w", err)
	}

	pipe := s.client.TxPipeline()
	if prior != "" {
		pipe.Del(ctx, tokenKeyPrefix+prior)
	}
	pipe.Set(ctx, tokenKeyPrefix+token, strconv.FormatInt(userID, 10), s.ttl)
	pipe.Set(ctx, currentKey, token, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("auth: store token: %w", err)
	}
	return token, nil
}

// Resolve maps a presented token back to a user id.
func (s *TokenStore) Resolve(ctx context.Context, token string) (int64, error) {
	raw, err := s.client.Get(ctx, tokenKeyPrefix+token).Result()
	if err == redis.Nil {
		return 0, shared.ErrUnauthenticated
	}
	if err != nil {
		return 0, fmt.Errorf("auth: resolve token: %w", err)
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, shared.ErrUnauthenticated
	}
	return userID, nil
}

// Revoke invalidates the token and clears the user's current-session pointer
// when it still points at this token.
func (s *TokenStore) Revoke(ctx context.Context, token string, userID int64) error {
	currentKey := currentKeyPrefix + strconv.FormatInt(userID, 10)
	current, err := s.client.Get(ctx, currentKey).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("auth: read current token: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, tokenKeyPrefix+token)
	if current == token {
		pipe.Del(ctx, currentKey)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("auth: revoke token: %w", err)
	}
	return nil
}
