// Package remote is a session repository backed by an external session API
// speaking the same /api/sessions contract this service serves.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/motion-rep-tracker/internal/models"
	"github.com/motion-rep-tracker/internal/storage"
)

// Client implements storage.SessionRepository over HTTP
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the API at baseURL
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// CreateSession posts session. The remote side assigns the ID, which is
// copied back into session.
func (c *Client) CreateSession(ctx context.Context, session *models.ExerciseSession) error {
	startTime, endTime, totalReps := session.StartTime, session.EndTime, session.TotalReps
	req := models.CreateSessionRequest{
		StartTime:        &startTime,
		EndTime:          &endTime,
		TotalReps:        &totalReps,
		MaxAcceleration:  session.MaxAcceleration,
		AverageRepTime:   session.AverageRepTime,
		SessionDuration:  session.SessionDuration,
		AccelerationData: session.AccelerationData,
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/sessions", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to post session: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", storage.ErrInvalidSession, strings.TrimSpace(string(body)))
	case resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK:
		return fmt.Errorf("create session failed with status %d: %s", resp.StatusCode, string(body))
	}

	var created models.ExerciseSession
	if err := json.Unmarshal(body, &created); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if created.ID != "" {
		session.ID = created.ID
	}
	return nil
}

// ListSessions fetches all sessions
func (c *Client) ListSessions(ctx context.Context) ([]*models.ExerciseSession, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/sessions", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list sessions failed with status %d: %s", resp.StatusCode, string(body))
	}

	var sessions []*models.ExerciseSession
	if err := json.Unmarshal(body, &sessions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return sessions, nil
}
