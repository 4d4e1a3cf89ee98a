package exercise

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/motion-rep-tracker/internal/models"
)

// CSVHeader is the first row of an exported history
var CSVHeader = []string{"timestamp", "x-axis", "y-axis", "z-axis"}

// WriteCSV writes samples as CSV, one row per sample, numbers in plain
// decimal notation.
func WriteCSV(w io.Writer, samples []models.Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i, s := range samples {
		row := []string{formatFloat(s.Timestamp), formatFloat(s.X), formatFloat(s.Y), formatFloat(s.Z)}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Summary renders s as a completed session record. end is used when the
// session is still active.
func Summary(s State, end time.Time) models.ExerciseSession {
	if !s.StoppedAt.IsZero() && !s.Active {
		end = s.StoppedAt
	}
	data := make([]models.Sample, len(s.History))
	copy(data, s.History)
	return models.ExerciseSession{
		StartTime:        s.StartedAt,
		EndTime:          end,
		TotalReps:        s.RepCount,
		MaxAcceleration:  FormatAcceleration(s.PeakMagnitude),
		AverageRepTime:   FormatRepTime(s.AverageRepTime()),
		SessionDuration:  FormatDuration(end.Sub(s.StartedAt)),
		AccelerationData: data,
	}
}
