// Package redis stores exercise sessions in Redis as JSON documents.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/motion-rep-tracker/internal/config"
	"github.com/motion-rep-tracker/internal/models"
	"github.com/motion-rep-tracker/internal/storage"
	"github.com/motion-rep-tracker/pkg/logger"
)

// Store implements storage.SessionRepository.
// Each session lives under <prefix>session:<id>; <prefix>sessions is a list
// of IDs in creation order.
type Store struct {
	client *goredis.Client
	prefix string
	logger *logger.Logger
}

// NewStore connects to Redis and checks the connection
func NewStore(cfg config.RedisConfig, log *logger.Logger) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("Connected to Redis", logger.F("addr", cfg.Addr), logger.Int("db", cfg.DB))
	return &Store{client: client, prefix: cfg.KeyPrefix, logger: log}, nil
}

// Close closes the client
func (s *Store) Close() error {
	return s.client.Close()
}

// CreateSession stores session; an existing ID is rejected with
// storage.ErrSessionExists.
func (s *Store) CreateSession(ctx context.Context, session *models.ExerciseSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.sessionKey(session.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	if !created {
		return storage.ErrSessionExists
	}

	if err := s.client.RPush(ctx, s.indexKey(), session.ID).Err(); err != nil {
		return fmt.Errorf("failed to index session: %w", err)
	}

	s.logger.Debug("Session stored in Redis", logger.F("session_id", session.ID))
	return nil
}

// ListSessions returns all sessions in creation order. Index entries whose
// document is gone are skipped.
func (s *Store) ListSessions(ctx context.Context) ([]*models.ExerciseSession, error) {
	ids, err := s.client.LRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session index: %w", err)
	}
	if len(ids) == 0 {
		return []*models.ExerciseSession{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.sessionKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("failed to get sessions: %w", err)
	}

	sessions := make([]*models.ExerciseSession, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			s.logger.Warn("Session missing from Redis", logger.F("session_id", ids[i]))
			continue
		}
		var session models.ExerciseSession
		if err := json.Unmarshal([]byte(raw), &session); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session %s: %w", ids[i], err)
		}
		sessions = append(sessions, &session)
	}
	return sessions, nil
}

func (s *Store) sessionKey(id string) string {
	return fmt.Sprintf("%ssession:%s", s.prefix, id)
}

func (s *Store) indexKey() string {
	return s.prefix + "sessions"
}
