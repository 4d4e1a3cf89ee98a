package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/motion-rep-tracker/internal/models"
	"github.com/motion-rep-tracker/internal/storage"
)

func TestClient_CreateSession(t *testing.T) {
	var got models.CreateSessionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/sessions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(models.ExerciseSession{ID: "remote-1", TotalReps: *got.TotalReps})
	}))
	defer server.Close()

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	session := &models.ExerciseSession{
		StartTime:       start,
		EndTime:         start.Add(time.Minute),
		TotalReps:       7,
		MaxAcceleration: "3.20 m/s²",
	}

	client := NewClient(server.URL + "/")
	if err := client.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if session.ID != "remote-1" {
		t.Errorf("session.ID = %q, want remote-1", session.ID)
	}
	if got.TotalReps == nil || *got.TotalReps != 7 {
		t.Errorf("posted totalReps = %v, want 7", got.TotalReps)
	}
	if got.StartTime == nil || !got.StartTime.Equal(start) {
		t.Errorf("posted startTime = %v, want %v", got.StartTime, start)
	}
	if got.MaxAcceleration != "3.20 m/s²" {
		t.Errorf("posted maxAcceleration = %q", got.MaxAcceleration)
	}
}

func TestClient_CreateSessionRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"Invalid session data"}`))
	}))
	defer server.Close()

	err := NewClient(server.URL).CreateSession(context.Background(), &models.ExerciseSession{})
	if !errors.Is(err, storage.ErrInvalidSession) {
		t.Errorf("expected ErrInvalidSession, got %v", err)
	}
}

func TestClient_ListSessions(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantCount int
		wantError bool
	}{
		{name: "ok", status: http.StatusOK, body: `[{"id":"a"},{"id":"b"}]`, wantCount: 2},
		{name: "empty", status: http.StatusOK, body: `[]`, wantCount: 0},
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"Failed to fetch sessions"}`, wantError: true},
		{name: "garbage", status: http.StatusOK, body: `not json`, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			sessions, err := NewClient(server.URL).ListSessions(context.Background())
			if tt.wantError {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(sessions) != tt.wantCount {
				t.Errorf("expected %d sessions, got %d", tt.wantCount, len(sessions))
			}
		})
	}
}
