// Package session persists the credentials of the logged-in user.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"chat-client/internal/models"
)

var (
	ErrNoCredentials = errors.New("no stored credentials")
	ErrNoUserID      = errors.New("token carries no user id")
)

// Store loads and saves credentials between runs.
type Store interface {
	Load(ctx context.Context) (models.Credentials, error)
	Save(ctx context.Context, creds models.Credentials) error
	Clear(ctx context.Context) error
}

// MemoryStore keeps credentials for the lifetime of the process.
type MemoryStore struct {
	mu    sync.Mutex
	creds *models.Credentials
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) (models.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return models.Credentials{}, ErrNoCredentials
	}
	return *s.creds, nil
}

func (s *MemoryStore) Save(_ context.Context, creds models.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = &creds
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	return nil
}

// RedisStore keeps credentials in a Redis hash.
type RedisStore struct {
	rdb *redis.Client
	key string
}

func NewRedisStore(rdb *redis.Client, key string) *RedisStore {
	if key == "" {
		key = "chatclient:session"
	}
	return &RedisStore{rdb: rdb, key: key}
}

func (s *RedisStore) Load(ctx context.Context) (models.Credentials, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return models.Credentials{}, fmt.Errorf("load session: %w", err)
	}
	if fields["token"] == "" {
		return models.Credentials{}, ErrNoCredentials
	}
	return models.Credentials{Token: fields["token"], UserID: fields["user_id"]}, nil
}

func (s *RedisStore) Save(ctx context.Context, creds models.Credentials) error {
	if err := s.rdb.HSet(ctx, s.key, "token", creds.Token, "user_id", creds.UserID).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// UserIDFromToken reads the user id claim of a JWT without verifying its
// signature. The server remains the authority on the token.
func UserIDFromToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	for _, key := range []string{"sub", "user_id", "userId", "id"} {
		switch v := claims[key].(type) {
		case string:
			if v != "" {
				return v, nil
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		}
	}
	return "", ErrNoUserID
}

// Complete fills a missing user id from the token.
func Complete(creds models.Credentials) (models.Credentials, error) {
	if creds.Token == "" {
		return creds, ErrNoCredentials
	}
	if creds.UserID != "" {
		return creds, nil
	}
	id, err := UserIDFromToken(creds.Token)
	if err != nil {
		return creds, err
	}
	creds.UserID = id
	return creds, nil
}
