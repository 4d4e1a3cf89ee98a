package cassandra

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/motion-rep-tracker/internal/models"
	"github.com/motion-rep-tracker/internal/storage"
	"github.com/motion-rep-tracker/pkg/logger"
)

// Repository implements storage.SessionRepository using Cassandra
type Repository struct {
	client  *Client
	logger  *logger.Logger
	timeout time.Duration
}

// NewRepository creates a new Cassandra-based session repository
func NewRepository(client *Client, log *logger.Logger, timeout time.Duration) *Repository {
	return &Repository{
		client:  client,
		logger:  log,
		timeout: timeout,
	}
}

// queryContext applies the configured timeout unless ctx already has a deadline
func (r *Repository) queryContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	queryCtx, cancel := ctx, context.CancelFunc(func() {})
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		queryCtx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	if err := queryCtx.Err(); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("context cancelled: %w", err)
	}
	return queryCtx, cancel, nil
}

// CreateSession inserts a session; an existing ID is rejected with
// storage.ErrSessionExists.
func (r *Repository) CreateSession(ctx context.Context, session *models.ExerciseSession) error {
	query := fmt.Sprintf(`
		INSERT INTO %s.exercise_sessions (id, start_time, end_time, total_reps,
			max_acceleration, average_rep_time, session_duration, acceleration_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		IF NOT EXISTS`, r.client.Keyspace())

	data, err := json.Marshal(session.AccelerationData)
	if err != nil {
		return fmt.Errorf("failed to marshal acceleration data: %w", err)
	}

	queryCtx, cancel, err := r.queryContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	applied, err := r.client.Session().Query(query,
		session.ID,
		session.StartTime,
		session.EndTime,
		session.TotalReps,
		session.MaxAcceleration,
		session.AverageRepTime,
		session.SessionDuration,
		string(data),
	).WithContext(queryCtx).ScanCAS(nil)

	if err != nil {
		r.logger.Error("Failed to create session in Cassandra",
			logger.F("session_id", session.ID),
			logger.Err(err))
		return fmt.Errorf("failed to create session: %w", err)
	}

	if !applied {
		return storage.ErrSessionExists
	}

	r.logger.Debug("Session created", logger.F("session_id", session.ID))
	return nil
}

// ListSessions returns every stored session ordered by start time
func (r *Repository) ListSessions(ctx context.Context) ([]*models.ExerciseSession, error) {
	query := fmt.Sprintf(`
		SELECT id, start_time, end_time, total_reps, max_acceleration,
			average_rep_time, session_duration, acceleration_data
		FROM %s.exercise_sessions`, r.client.Keyspace())

	queryCtx, cancel, err := r.queryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	iter := r.client.Session().Query(query).WithContext(queryCtx).Iter()

	var (
		sessions []*models.ExerciseSession
		session  models.ExerciseSession
		data     string
	)
	for iter.Scan(
		&session.ID,
		&session.StartTime,
		&session.EndTime,
		&session.TotalReps,
		&session.MaxAcceleration,
		&session.AverageRepTime,
		&session.SessionDuration,
		&data,
	) {
		s := session
		s.AccelerationData = nil
		if data != "" {
			if err := json.Unmarshal([]byte(data), &s.AccelerationData); err != nil {
				iter.Close()
				return nil, fmt.Errorf("failed to decode acceleration data of %s: %w", s.ID, err)
			}
		}
		sessions = append(sessions, &s)
	}

	if err := iter.Close(); err != nil {
		r.logger.Error("Failed to list sessions from Cassandra", logger.Err(err))
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})
	return sessions, nil
}
