package models

import "time"

// Sample is one decoded tri-axial acceleration reading (m/s²).
// Timestamp is in seconds; its origin depends on who stamped it.
type Sample struct {
	Timestamp float64 `json:"timestamp"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
}

// Device represents a sensor found while scanning
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ExerciseSession is a completed session as stored by the session store
type ExerciseSession struct {
	ID               string    `json:"id"`
	StartTime        time.Time `json:"startTime"`
	EndTime          time.Time `json:"endTime"`
	TotalReps        int       `json:"totalReps"`
	MaxAcceleration  string    `json:"maxAcceleration"`
	AverageRepTime   string    `json:"averageRepTime"`
	SessionDuration  string    `json:"sessionDuration"`
	AccelerationData []Sample  `json:"accelerationData"`
}

// CreateSessionRequest is the body of POST /api/sessions.
// Pointer fields distinguish "missing" from zero values during validation.
type CreateSessionRequest struct {
	StartTime        *time.Time `json:"startTime"`
	EndTime          *time.Time `json:"endTime"`
	TotalReps        *int       `json:"totalReps"`
	MaxAcceleration  string     `json:"maxAcceleration"`
	AverageRepTime   string     `json:"averageRepTime"`
	SessionDuration  string     `json:"sessionDuration"`
	AccelerationData []Sample   `json:"accelerationData"`
}

// SessionStats is the presentation view of the live session
type SessionStats struct {
	Active          bool     `json:"active"`
	RepCount        int      `json:"repCount"`
	SessionDuration string   `json:"sessionDuration"`
	AverageRepTime  string   `json:"averageRepTime"`
	MaxAcceleration string   `json:"maxAcceleration"`
	History         []Sample `json:"accelerationHistory"`
}

// DeviceStatus is the presentation view of the connection
type DeviceStatus struct {
	State     string   `json:"state"`
	Connected *Device  `json:"connected,omitempty"`
	Devices   []Device `json:"devices"`
}

// ConnectRequest is the body of POST /api/device/connect
type ConnectRequest struct {
	DeviceID string `json:"deviceId"`
}

// LiveMessage is pushed to websocket clients
type LiveMessage struct {
	Type   string        `json:"type"` // "stats", "device", "error"
	Stats  *SessionStats `json:"stats,omitempty"`
	Device *DeviceStatus `json:"device,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
