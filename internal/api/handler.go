package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/motion-rep-tracker/internal/connection"
	"github.com/motion-rep-tracker/internal/models"
	"github.com/motion-rep-tracker/internal/service"
	"github.com/motion-rep-tracker/internal/storage"
	"github.com/motion-rep-tracker/internal/tracker"
	"github.com/motion-rep-tracker/pkg/logger"
)

// Options tunes the blocking device operations
type Options struct {
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
}

// Handler holds all HTTP handlers
type Handler struct {
	sessions *service.SessionService
	tracker  *tracker.Tracker
	live     *liveHub
	opts     Options
	logger   *logger.Logger

	unsubscribe []func()
}

// NewHandler creates a new handler. tracker may be nil, in which case only
// the session history routes are served.
func NewHandler(sessions *service.SessionService, tr *tracker.Tracker, log *logger.Logger, opts Options) *Handler {
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = 30 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 15 * time.Second
	}

	h := &Handler{
		sessions: sessions,
		tracker:  tr,
		live:     newLiveHub(log),
		opts:     opts,
		logger:   log,
	}

	if tr != nil {
		h.unsubscribe = append(h.unsubscribe,
			tr.Aggregator().SubscribeStats(func(st models.SessionStats) {
				h.live.broadcast(models.LiveMessage{Type: "stats", Stats: &st})
			}),
			tr.Manager().SubscribeStates(func(st connection.Status) {
				status := tracker.DeviceStatus(st)
				h.live.broadcast(models.LiveMessage{Type: "device", Device: &status})
			}),
			tr.Manager().SubscribeErrors(func(err error) {
				h.live.broadcast(models.LiveMessage{Type: "error", Error: err.Error()})
			}),
		)
	}
	return h
}

// Close detaches from the tracker and drops websocket clients
func (h *Handler) Close() {
	for _, unsubscribe := range h.unsubscribe {
		unsubscribe()
	}
	h.live.closeAll()
}

// Routes sets up all routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/api/health", h.Health)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Get("/", h.ListSessions)
	})

	if h.tracker == nil {
		return r
	}

	r.Route("/api/device", func(r chi.Router) {
		r.Get("/", h.GetDevice)
		r.Post("/scan", h.StartScan)
		r.Post("/scan/cancel", h.CancelScan)
		r.Post("/connect", h.Connect)
		r.Post("/disconnect", h.Disconnect)
	})

	r.Route("/api/session", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/start", h.StartSession)
		r.Post("/stop", h.StopSession)
		r.Post("/reset", h.ResetSession)
		r.Get("/export.csv", h.ExportCSV)
	})

	r.Get("/ws", h.Live)

	return r
}

// Health handles health check requests
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateSession stores a completed exercise session
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req models.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid session body", logger.Err(err), logger.F("request_id", requestID))
		h.respondError(w, http.StatusBadRequest, "Invalid session data", err.Error())
		return
	}

	session, err := h.sessions.CreateSession(r.Context(), req)
	if err != nil {
		h.logger.Error("Error creating session", logger.Err(err), logger.F("request_id", requestID))
		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrInvalidSession) || errors.Is(err, storage.ErrSessionExists) {
			status = http.StatusBadRequest
		}
		h.respondError(w, status, "Invalid session data", err.Error())
		return
	}

	h.respondJSON(w, http.StatusCreated, session)
}

// ListSessions returns past exercise sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.ListSessions(r.Context())
	if err != nil {
		h.logger.Error("Error fetching sessions", logger.Err(err), logger.F("request_id", GetRequestID(r.Context())))
		h.respondError(w, http.StatusInternalServerError, "Failed to fetch sessions", err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, sessions)
}

// GetDevice returns the connection state and discovery list
func (h *Handler) GetDevice(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.tracker.DeviceStatus())
}

// StartScan starts discovery in the background. It ends on cancel, on
// connect, or after the scan timeout.
func (h *Handler) StartScan(w http.ResponseWriter, r *http.Request) {
	manager := h.tracker.Manager()
	if st := manager.State(); st != connection.Disconnected {
		h.respondError(w, http.StatusConflict, "cannot scan", fmt.Sprintf("device is %s", st))
		return
	}

	started := make(chan struct{})
	var once sync.Once
	ready := func() { once.Do(func() { close(started) }) }

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.opts.ScanTimeout)
		defer cancel()

		unsubscribe := manager.SubscribeStates(func(st connection.Status) {
			if st.State == connection.Scanning {
				ready()
			}
		})
		defer unsubscribe()

		err := manager.StartScan(ctx)
		ready()
		if err != nil && !errors.Is(err, connection.ErrScanCancelled) {
			h.logger.Warn("Scan failed", logger.Err(err))
		}
	}()

	<-started
	h.respondJSON(w, http.StatusAccepted, h.tracker.DeviceStatus())
}

// CancelScan stops a running scan
func (h *Handler) CancelScan(w http.ResponseWriter, r *http.Request) {
	h.tracker.Manager().CancelScan()
	h.respondJSON(w, http.StatusOK, h.tracker.DeviceStatus())
}

// Connect links to the device named in the body
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	var req models.ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.DeviceID == "" {
		h.respondError(w, http.StatusBadRequest, "invalid request body", "deviceId is required")
		return
	}

	requestID := GetRequestID(r.Context())
	h.logger.Info("Connecting device", logger.F("device_id", req.DeviceID), logger.F("request_id", requestID))

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.ConnectTimeout)
	defer cancel()

	if err := h.tracker.Manager().Connect(ctx, req.DeviceID); err != nil {
		h.respondError(w, statusFor(err), "failed to connect", err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, h.tracker.DeviceStatus())
}

// Disconnect drops the link
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.tracker.StopSession(r.Context()); err != nil {
		h.logger.Warn("Stop before disconnect failed", logger.Err(err))
	}
	if err := h.tracker.Manager().Disconnect(); err != nil {
		h.logger.Warn("Disconnect cleanup failed", logger.Err(err))
	}
	h.respondJSON(w, http.StatusOK, h.tracker.DeviceStatus())
}

// GetSession returns the live session statistics
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.tracker.Stats())
}

// StartSession starts a new live session
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	if err := h.tracker.StartSession(r.Context()); err != nil {
		h.respondError(w, statusFor(err), "failed to start session", err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, h.tracker.Stats())
}

// StopSession stops the live session
func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	if err := h.tracker.StopSession(r.Context()); err != nil {
		h.respondError(w, statusFor(err), "failed to stop session", err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, h.tracker.Stats())
}

// ResetSession zeroes the live statistics
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	h.tracker.Reset()
	h.respondJSON(w, http.StatusOK, h.tracker.Stats())
}

// ExportCSV downloads the rolling history
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	filename := fmt.Sprintf("acceleration-data-%s.csv", time.Now().UTC().Format("2006-01-02T15-04-05Z"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)

	if err := h.tracker.ExportCSV(w); err != nil {
		h.logger.Error("Failed to write CSV", logger.Err(err), logger.F("request_id", GetRequestID(r.Context())))
	}
}

// statusFor maps pipeline errors to HTTP status codes
func statusFor(err error) int {
	var stateErr *connection.StateError
	switch {
	case errors.As(err, &stateErr), errors.Is(err, connection.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, connection.ErrTransportUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, connection.ErrLinkFailure),
		errors.Is(err, connection.ErrServiceNotFound),
		errors.Is(err, connection.ErrWriteFailure),
		errors.Is(err, connection.ErrDiscoveryFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondJSON sends a JSON response
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func (h *Handler) respondError(w http.ResponseWriter, status int, errorMsg, message string) {
	h.respondJSON(w, status, models.ErrorResponse{
		Error:   errorMsg,
		Message: message,
	})
}
