package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/motion-rep-tracker/internal/ble"
	"github.com/motion-rep-tracker/internal/connection"
	"github.com/motion-rep-tracker/internal/exercise"
	"github.com/motion-rep-tracker/internal/models"
	"github.com/motion-rep-tracker/internal/service"
	"github.com/motion-rep-tracker/internal/storage"
	"github.com/motion-rep-tracker/internal/tracker"
	"github.com/motion-rep-tracker/pkg/logger"
)

type testServer struct {
	sim     *ble.Sim
	handler *Handler
	router  http.Handler
}

func newTestServer(t *testing.T, repo storage.SessionRepository) *testServer {
	t.Helper()
	log := logger.NewWithWriter(io.Discard)

	sim := ble.NewSim(ble.DefaultSimConfig())
	manager := connection.NewManager(sim, log, connection.Options{})
	sessions := service.NewSessionService(repo, log)
	tr := tracker.New(manager, exercise.New(exercise.DefaultParams(), log), log, tracker.Options{})

	h := NewHandler(sessions, tr, log, Options{ScanTimeout: 5 * time.Second, ConnectTimeout: time.Second})
	t.Cleanup(func() {
		h.Close()
		tr.Close()
	})
	return &testServer{sim: sim, handler: h, router: h.Routes()}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("Failed to unmarshal response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestHandler_Health(t *testing.T) {
	s := newTestServer(t, storage.NewMemoryStorage())

	w := s.do(t, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if got := decode[map[string]string](t, w)["status"]; got != "ok" {
		t.Errorf("Expected status ok, got %q", got)
	}
}

func TestHandler_CreateSession(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		requestBody    interface{}
		expectedStatus int
	}{
		{
			name: "valid session",
			requestBody: map[string]interface{}{
				"startTime":        start,
				"endTime":          start.Add(time.Minute),
				"totalReps":        10,
				"maxAcceleration":  "4.52 m/s²",
				"averageRepTime":   "1.5s",
				"sessionDuration":  "00:01:00",
				"accelerationData": []models.Sample{{Timestamp: 0, X: 1, Y: 2, Z: 3}},
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "missing fields",
			requestBody: map[string]interface{}{
				"startTime": start,
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON",
			requestBody:    "not json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, storage.NewMemoryStorage())

			w := s.do(t, http.MethodPost, "/api/sessions", tt.requestBody)
			if w.Code != tt.expectedStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			if tt.expectedStatus != http.StatusCreated {
				return
			}

			session := decode[models.ExerciseSession](t, w)
			if session.ID == "" {
				t.Error("Expected session ID, got empty")
			}
			if session.TotalReps != 10 {
				t.Errorf("Expected 10 reps, got %d", session.TotalReps)
			}

			list := s.do(t, http.MethodGet, "/api/sessions", nil)
			if list.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d", list.Code)
			}
			if sessions := decode[[]models.ExerciseSession](t, list); len(sessions) != 1 {
				t.Errorf("Expected 1 stored session, got %d", len(sessions))
			}
		})
	}
}

type brokenRepository struct{}

func (brokenRepository) CreateSession(context.Context, *models.ExerciseSession) error {
	return errors.New("connection refused")
}

func (brokenRepository) ListSessions(context.Context) ([]*models.ExerciseSession, error) {
	return nil, errors.New("connection refused")
}

func TestHandler_ListSessionsStorageFailure(t *testing.T) {
	s := newTestServer(t, brokenRepository{})

	w := s.do(t, http.MethodGet, "/api/sessions", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", w.Code)
	}
	if resp := decode[models.ErrorResponse](t, w); resp.Error != "Failed to fetch sessions" {
		t.Errorf("Unexpected error body: %+v", resp)
	}
}

func TestHandler_EmptySessionList(t *testing.T) {
	s := newTestServer(t, storage.NewMemoryStorage())

	w := s.do(t, http.MethodGet, "/api/sessions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("Expected empty JSON array, got %s", w.Body.String())
	}
}

func TestHandler_StartSessionWhileDisconnected(t *testing.T) {
	s := newTestServer(t, storage.NewMemoryStorage())

	w := s.do(t, http.MethodPost, "/api/session/start", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected status 409, got %d", w.Code)
	}

	stats := decode[models.SessionStats](t, s.do(t, http.MethodGet, "/api/session", nil))
	if stats.Active || stats.RepCount != 0 {
		t.Errorf("Expected untouched session, got %+v", stats)
	}
}

func TestHandler_Connect(t *testing.T) {
	tests := []struct {
		name           string
		requestBody    interface{}
		expectedStatus int
	}{
		{name: "missing device id", requestBody: models.ConnectRequest{}, expectedStatus: http.StatusBadRequest},
		{name: "invalid JSON", requestBody: "{", expectedStatus: http.StatusBadRequest},
		{name: "unknown device", requestBody: models.ConnectRequest{DeviceID: "nope"}, expectedStatus: http.StatusBadGateway},
		{name: "simulated device", requestBody: models.ConnectRequest{DeviceID: "SIM:00:00:00:00:01"}, expectedStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, storage.NewMemoryStorage())

			w := s.do(t, http.MethodPost, "/api/device/connect", tt.requestBody)
			if w.Code != tt.expectedStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			if w.Code == http.StatusOK {
				status := decode[models.DeviceStatus](t, w)
				if status.State != "connected" || status.Connected == nil {
					t.Errorf("Expected connected device, got %+v", status)
				}
			}
		})
	}
}

func TestHandler_ScanConnectSessionFlow(t *testing.T) {
	s := newTestServer(t, storage.NewMemoryStorage())

	w := s.do(t, http.MethodPost, "/api/device/scan", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", w.Code)
	}
	if status := decode[models.DeviceStatus](t, w); status.State != "scanning" {
		t.Errorf("Expected scanning, got %q", status.State)
	}

	if w := s.do(t, http.MethodPost, "/api/device/scan", nil); w.Code != http.StatusConflict {
		t.Errorf("Expected second scan to conflict, got %d", w.Code)
	}

	waitFor(t, func() bool {
		status := decode[models.DeviceStatus](t, s.do(t, http.MethodGet, "/api/device", nil))
		return len(status.Devices) == 1
	})

	w = s.do(t, http.MethodPost, "/api/device/connect", models.ConnectRequest{DeviceID: s.sim.Device().ID})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if status := decode[models.DeviceStatus](t, w); status.Connected.Name != s.sim.Device().Name {
		t.Errorf("Expected advertised name, got %+v", status.Connected)
	}

	w = s.do(t, http.MethodPost, "/api/session/start", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if stats := decode[models.SessionStats](t, w); !stats.Active {
		t.Error("Expected active session")
	}

	waitFor(t, func() bool {
		stats := decode[models.SessionStats](t, s.do(t, http.MethodGet, "/api/session", nil))
		return len(stats.History) > 0
	})

	w = s.do(t, http.MethodPost, "/api/session/stop", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	w = s.do(t, http.MethodGet, "/api/session/export.csv", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Expected text/csv, got %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "acceleration-data-") {
		t.Errorf("Unexpected Content-Disposition %q", cd)
	}
	if !strings.HasPrefix(w.Body.String(), "timestamp,x-axis,y-axis,z-axis\n") {
		t.Errorf("Unexpected CSV: %q", w.Body.String())
	}

	w = s.do(t, http.MethodPost, "/api/session/reset", nil)
	if stats := decode[models.SessionStats](t, w); stats.SessionDuration != "00:00:00" || len(stats.History) != 0 {
		t.Errorf("Expected reset stats, got %+v", stats)
	}

	w = s.do(t, http.MethodPost, "/api/device/disconnect", nil)
	if status := decode[models.DeviceStatus](t, w); status.State != "disconnected" {
		t.Errorf("Expected disconnected, got %q", status.State)
	}
}

func TestHandler_Live(t *testing.T) {
	s := newTestServer(t, storage.NewMemoryStorage())
	server := httptest.NewServer(s.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	read := func() models.LiveMessage {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg models.LiveMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		return msg
	}

	if msg := read(); msg.Type != "device" || msg.Device.State != "disconnected" {
		t.Errorf("Expected initial device message, got %+v", msg)
	}
	if msg := read(); msg.Type != "stats" {
		t.Errorf("Expected initial stats message, got %+v", msg)
	}

	waitFor(t, func() bool { return s.handler.live.count() == 1 })

	// A failed start goes out on the error channel.
	s.do(t, http.MethodPost, "/api/session/start", nil)
	if msg := read(); msg.Type != "error" || !strings.Contains(msg.Error, "not connected") {
		t.Errorf("Expected not-connected error, got %+v", msg)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
