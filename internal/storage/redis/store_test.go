package redis

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/motion-rep-tracker/internal/config"
	"github.com/motion-rep-tracker/internal/models"
	"github.com/motion-rep-tracker/internal/storage"
	"github.com/motion-rep-tracker/pkg/logger"
)

func TestKeys(t *testing.T) {
	s := &Store{prefix: "tracker:"}
	if got := s.sessionKey("abc"); got != "tracker:session:abc" {
		t.Errorf("sessionKey = %q", got)
	}
	if got := s.indexKey(); got != "tracker:sessions" {
		t.Errorf("indexKey = %q", got)
	}
}

// TestStore_Integration needs a running Redis; set REDIS_TEST_ADDR to run it.
func TestStore_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	prefix := "test:" + uuid.New().String() + ":"
	store, err := NewStore(config.RedisConfig{Addr: addr, KeyPrefix: prefix}, logger.NewWithWriter(io.Discard))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	defer func() {
		keys, _ := store.client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			store.client.Del(ctx, keys...)
		}
	}()

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	first := &models.ExerciseSession{
		ID:               "one",
		StartTime:        start,
		EndTime:          start.Add(time.Minute),
		TotalReps:        12,
		MaxAcceleration:  "4.52 m/s²",
		AverageRepTime:   "1.5s",
		SessionDuration:  "00:01:00",
		AccelerationData: []models.Sample{{Timestamp: 0.5, X: 1, Y: 2, Z: 3}},
	}
	if err := store.CreateSession(ctx, first); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if err := store.CreateSession(ctx, &models.ExerciseSession{ID: "two"}); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if err := store.CreateSession(ctx, first); err != storage.ErrSessionExists {
		t.Errorf("expected ErrSessionExists, got %v", err)
	}

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "one" || sessions[1].ID != "two" {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
	if sessions[0].TotalReps != 12 || len(sessions[0].AccelerationData) != 1 {
		t.Errorf("session did not round-trip: %+v", sessions[0])
	}
}
