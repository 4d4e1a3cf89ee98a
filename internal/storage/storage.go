package storage

import (
	"context"

	"github.com/motion-rep-tracker/internal/models"
)

// SessionRepository stores completed exercise sessions.
// It is implemented by the in-memory, Cassandra, Redis and remote HTTP stores.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *models.ExerciseSession) error
	ListSessions(ctx context.Context) ([]*models.ExerciseSession, error)
}

// Errors
var (
	ErrSessionExists  = &StorageError{Message: "session already exists"}
	ErrInvalidSession = &StorageError{Message: "invalid session data"}
)

// StorageError represents a storage error
type StorageError struct {
	Message string
}

func (e *StorageError) Error() string {
	return e.Message
}
