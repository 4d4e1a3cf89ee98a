package storage

import (
	"context"
	"testing"
	"time"

	"github.com/motion-rep-tracker/internal/models"
)

func TestMemoryStorage_CreateAndList(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		err := store.CreateSession(ctx, &models.ExerciseSession{
			ID:               id,
			StartTime:        start.Add(time.Duration(i) * time.Minute),
			TotalReps:        i,
			AccelerationData: []models.Sample{{Timestamp: 0, X: 1, Y: 2, Z: 3}},
		})
		if err != nil {
			t.Fatalf("CreateSession(%q) error = %v", id, err)
		}
	}

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	for i, want := range []string{"a", "b", "c"} {
		if sessions[i].ID != want {
			t.Errorf("sessions[%d].ID = %q, want %q", i, sessions[i].ID, want)
		}
	}
}

func TestMemoryStorage_DuplicateID(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	if err := store.CreateSession(ctx, &models.ExerciseSession{ID: "a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.CreateSession(ctx, &models.ExerciseSession{ID: "a"}); err != ErrSessionExists {
		t.Errorf("expected ErrSessionExists, got %v", err)
	}
}

func TestMemoryStorage_StoresCopies(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	session := &models.ExerciseSession{ID: "a", TotalReps: 1, AccelerationData: []models.Sample{{X: 1}}}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	session.TotalReps = 99
	session.AccelerationData[0].X = 99

	sessions, _ := store.ListSessions(ctx)
	if sessions[0].TotalReps != 1 || sessions[0].AccelerationData[0].X != 1 {
		t.Errorf("stored session changed with the caller's copy: %+v", sessions[0])
	}
}

func TestMemoryStorage_ListReturnsCopies(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	session := &models.ExerciseSession{ID: "a", AccelerationData: []models.Sample{{X: 1}}}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, _ := store.ListSessions(ctx)
	first[0].AccelerationData[0].X = 99
	first[0].AccelerationData = append(first[0].AccelerationData, models.Sample{X: 7})

	second, _ := store.ListSessions(ctx)
	if len(second[0].AccelerationData) != 1 || second[0].AccelerationData[0].X != 1 {
		t.Errorf("stored samples changed through a listed copy: %+v", second[0].AccelerationData)
	}
}
