package storage

import (
	"context"
	"sync"

	"github.com/motion-rep-tracker/internal/models"
)

// MemoryStorage keeps sessions in process memory, in creation order
type MemoryStorage struct {
	mu       sync.RWMutex
	sessions []*models.ExerciseSession
	byID     map[string]struct{}
}

// NewMemoryStorage creates a new in-memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		byID: make(map[string]struct{}),
	}
}

// CreateSession stores a copy of session
func (s *MemoryStorage) CreateSession(ctx context.Context, session *models.ExerciseSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[session.ID]; exists {
		return ErrSessionExists
	}

	stored := cloneSession(session)
	s.sessions = append(s.sessions, stored)
	s.byID[session.ID] = struct{}{}
	return nil
}

// ListSessions returns copies of all stored sessions
func (s *MemoryStorage) ListSessions(ctx context.Context) ([]*models.ExerciseSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]*models.ExerciseSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, cloneSession(session))
	}
	return sessions, nil
}

func cloneSession(session *models.ExerciseSession) *models.ExerciseSession {
	c := *session
	if session.AccelerationData != nil {
		c.AccelerationData = make([]models.Sample, len(session.AccelerationData))
		copy(c.AccelerationData, session.AccelerationData)
	}
	return &c
}
