// Package exercise turns a stream of acceleration samples into rep counts and
// session statistics.
//
// State.Ingest is a pure step function: every sample produces a new State
// value and the input is never modified. Aggregator wraps it with a clock, a
// lock and a snapshot stream.
package exercise

import (
	"math"
	"time"

	"github.com/motion-rep-tracker/internal/models"
)

// Detector defaults
const (
	DefaultThreshold       = 2.0 // m/s²
	DefaultDebounce        = 500 * time.Millisecond
	DefaultHistoryCapacity = 100
)

// Params tunes rep detection
type Params struct {
	Threshold       float64
	Debounce        time.Duration
	HistoryCapacity int
}

// DefaultParams returns the detector defaults
func DefaultParams() Params {
	return Params{
		Threshold:       DefaultThreshold,
		Debounce:        DefaultDebounce,
		HistoryCapacity: DefaultHistoryCapacity,
	}
}

func (p Params) withDefaults() Params {
	if p.Threshold <= 0 {
		p.Threshold = DefaultThreshold
	}
	if p.Debounce <= 0 {
		p.Debounce = DefaultDebounce
	}
	if p.HistoryCapacity <= 0 {
		p.HistoryCapacity = DefaultHistoryCapacity
	}
	return p
}

// PeakDetector is the edge-detection memory. A zero LastPeakAt means no
// rising edge has been seen yet.
type PeakDetector struct {
	WasAboveThreshold bool
	LastPeakAt        time.Time
}

// State is one session's accumulated statistics
type State struct {
	Active        bool
	StartedAt     time.Time
	StoppedAt     time.Time
	RepCount      int
	PeakMagnitude float64
	RepIntervals  []time.Duration
	History       []models.Sample
	Detector      PeakDetector
}

// Magnitude is the euclidean norm of an acceleration vector
func Magnitude(x, y, z float64) float64 {
	return math.Sqrt(x*x + y*y + z*z)
}

// Ingest applies one sample taken at now and returns the next state.
// Inactive states are returned unchanged.
func (s State) Ingest(x, y, z float64, now time.Time, p Params) State {
	if !s.Active {
		return s
	}
	p = p.withDefaults()
	next := s

	magnitude := Magnitude(x, y, z)
	if math.IsNaN(magnitude) || math.IsInf(magnitude, 0) {
		// Unusable reading: it counts as below threshold and is not recorded.
		next.Detector.WasAboveThreshold = false
		return next
	}

	sample := models.Sample{
		Timestamp: now.Sub(s.StartedAt).Seconds(),
		X:         x,
		Y:         y,
		Z:         z,
	}
	keep := s.History
	if len(keep) >= p.HistoryCapacity {
		keep = keep[len(keep)-p.HistoryCapacity+1:]
	}
	next.History = make([]models.Sample, 0, len(keep)+1)
	next.History = append(append(next.History, keep...), sample)

	if magnitude > next.PeakMagnitude {
		next.PeakMagnitude = magnitude
	}

	if magnitude <= p.Threshold {
		next.Detector.WasAboveThreshold = false
		return next
	}
	if s.Detector.WasAboveThreshold {
		return next
	}

	next.Detector.WasAboveThreshold = true
	last := s.Detector.LastPeakAt
	if last.IsZero() || now.Sub(last) > p.Debounce {
		next.RepCount++
		if !last.IsZero() {
			// full slice expression forces a copy
			next.RepIntervals = append(s.RepIntervals[:len(s.RepIntervals):len(s.RepIntervals)], now.Sub(last))
		}
	}
	// Every rising edge restarts the debounce window, counted or not.
	next.Detector.LastPeakAt = now
	return next
}

// AverageRepTime is the mean of the recorded inter-rep intervals
func (s State) AverageRepTime() time.Duration {
	if len(s.RepIntervals) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range s.RepIntervals {
		total += d
	}
	return total / time.Duration(len(s.RepIntervals))
}

// Elapsed is the session duration at now. A stopped session is frozen at
// its stop time.
func (s State) Elapsed(now time.Time) time.Duration {
	switch {
	case s.StartedAt.IsZero():
		return 0
	case s.Active:
		return now.Sub(s.StartedAt)
	case !s.StoppedAt.IsZero():
		return s.StoppedAt.Sub(s.StartedAt)
	default:
		return 0
	}
}

// Stats renders the state for presentation
func (s State) Stats(now time.Time) models.SessionStats {
	history := make([]models.Sample, len(s.History))
	copy(history, s.History)
	return models.SessionStats{
		Active:          s.Active,
		RepCount:        s.RepCount,
		SessionDuration: FormatDuration(s.Elapsed(now)),
		AverageRepTime:  FormatRepTime(s.AverageRepTime()),
		MaxAcceleration: FormatAcceleration(s.PeakMagnitude),
		History:         history,
	}
}
