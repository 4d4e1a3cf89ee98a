package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/motion-rep-tracker/internal/models"
	"github.com/motion-rep-tracker/internal/storage"
	"github.com/motion-rep-tracker/pkg/logger"
)

// SessionService handles completed-session records
type SessionService struct {
	storage storage.SessionRepository
	logger  *logger.Logger
}

// NewSessionService creates a new session service
func NewSessionService(storage storage.SessionRepository, log *logger.Logger) *SessionService {
	return &SessionService{
		storage: storage,
		logger:  log,
	}
}

// CreateSession validates req and stores it under a new ID.
// Validation failures wrap storage.ErrInvalidSession.
func (s *SessionService) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.ExerciseSession, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	session := &models.ExerciseSession{
		StartTime:        *req.StartTime,
		EndTime:          *req.EndTime,
		TotalReps:        *req.TotalReps,
		MaxAcceleration:  req.MaxAcceleration,
		AverageRepTime:   req.AverageRepTime,
		SessionDuration:  req.SessionDuration,
		AccelerationData: req.AccelerationData,
	}
	if err := s.Save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Save stores an already built session, assigning an ID if it has none
func (s *SessionService) Save(ctx context.Context, session *models.ExerciseSession) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.AccelerationData == nil {
		session.AccelerationData = []models.Sample{}
	}

	if err := s.storage.CreateSession(ctx, session); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info("Session saved",
		logger.F("session_id", session.ID),
		logger.Int("reps", session.TotalReps),
		logger.F("duration", session.SessionDuration))
	return nil
}

// ListSessions returns all stored sessions
func (s *SessionService) ListSessions(ctx context.Context) ([]*models.ExerciseSession, error) {
	sessions, err := s.storage.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if sessions == nil {
		sessions = []*models.ExerciseSession{}
	}
	return sessions, nil
}

func validate(req models.CreateSessionRequest) error {
	switch {
	case req.StartTime == nil:
		return invalid("startTime is required")
	case req.EndTime == nil:
		return invalid("endTime is required")
	case req.EndTime.Before(*req.StartTime):
		return invalid("endTime is before startTime")
	case req.TotalReps == nil:
		return invalid("totalReps is required")
	case *req.TotalReps < 0:
		return invalid("totalReps must not be negative")
	case req.MaxAcceleration == "":
		return invalid("maxAcceleration is required")
	case req.AverageRepTime == "":
		return invalid("averageRepTime is required")
	case req.SessionDuration == "":
		return invalid("sessionDuration is required")
	case req.AccelerationData == nil:
		return invalid("accelerationData is required")
	}
	return nil
}

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", storage.ErrInvalidSession, reason)
}
