// Package cache keeps the conversation list in Redis between writes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/RichardoC/matrixchat/internal/db"
	"github.com/RichardoC/matrixchat/internal/metrics"
	"github.com/RichardoC/matrixchat/internal/models"
)

const (
	prefix          = "_MATRIXCHAT_"
	conversationKey = prefix + "conversations"
)

var ErrMiss = errors.New("cache miss")

// Backend is the key/value store the cache sits on.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, content []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(addr string) *RedisBackend {
	return &RedisBackend{
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return b, err
}

func (r *RedisBackend) Set(ctx context.Context, key string, content []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, content, ttl).Err()
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}

// Store serves ListConversations from the backend and drops the cached list on every
// write. Backend failures are logged and fall through to the wrapped store.
type Store struct {
	db.Store
	backend Backend
	ttl     time.Duration
	logger  *zap.Logger
}

func NewStore(inner db.Store, backend Backend, ttl time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{Store: inner, backend: backend, ttl: ttl, logger: logger}
}

func (s *Store) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	b, err := s.backend.Get(ctx, conversationKey)
	if err == nil {
		var conversations []models.ConversationSummary
		if err := json.Unmarshal(b, &conversations); err == nil {
			metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
			return conversations, nil
		}
		s.logger.Warn("discarding undecodable cached conversation list", zap.Error(err))
	} else if !errors.Is(err, ErrMiss) {
		s.logger.Warn("conversation cache read failed", zap.Error(err))
	}
	metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()

	conversations, err := s.Store.ListConversations(ctx)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(conversations); err == nil {
		if err := s.backend.Set(ctx, conversationKey, b, s.ttl); err != nil {
			s.logger.Warn("conversation cache write failed", zap.Error(err))
		}
	}
	return conversations, nil
}

func (s *Store) invalidate(ctx context.Context) {
	if err := s.backend.Delete(ctx, conversationKey); err != nil {
		s.logger.Warn("conversation cache invalidation failed", zap.Error(err))
	}
}

func (s *Store) CreateConversation(ctx context.Context, title string) (*models.Conversation, error) {
	conv, err := s.Store.CreateConversation(ctx, title)
	if err == nil {
		s.invalidate(ctx)
	}
	return conv, err
}

func (s *Store) DeleteConversation(ctx context.Context, id int64) error {
	err := s.Store.DeleteConversation(ctx, id)
	if err == nil {
		s.invalidate(ctx)
	}
	return err
}

func (s *Store) UpdateConversationTitle(ctx context.Context, id int64, title string) error {
	err := s.Store.UpdateConversationTitle(ctx, id, title)
	if err == nil {
		s.invalidate(ctx)
	}
	return err
}

func (s *Store) SaveMessage(ctx context.Context, content string, role models.Role, conversationID int64) (*models.Message, error) {
	msg, err := s.Store.SaveMessage(ctx, content, role, conversationID)
	if err == nil {
		s.invalidate(ctx)
	}
	return msg, err
}

// Close closes the backend and the wrapped store.
func (s *Store) Close() error {
	return multierr.Combine(s.backend.Close(), s.Store.Close())
}
