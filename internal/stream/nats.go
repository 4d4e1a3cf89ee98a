package stream

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/motion-rep-tracker/internal/models"
	"github.com/motion-rep-tracker/pkg/logger"
)

// Connect dials NATS and keeps reconnecting for the life of the process
func Connect(url string) (*nats.Conn, error) {
	return nats.Connect(
		url,
		nats.Name("motion-rep-tracker"),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
	)
}

// Publisher is satisfied by *nats.Conn
type Publisher interface {
	Publish(subject string, data []byte) error
}

// SampleFrameSize is the size of a mirrored sample: timestamp, x, y, z as
// little-endian float32.
const SampleFrameSize = 16

// Mirror republishes the live pipeline on NATS:
// <prefix>.samples carries binary sample frames, <prefix>.stats carries
// session snapshots as JSON.
type Mirror struct {
	pub    Publisher
	prefix string
	logger *logger.Logger

	failures atomic.Uint64
}

// NewMirror creates a mirror publishing under prefix
func NewMirror(pub Publisher, prefix string, log *logger.Logger) *Mirror {
	return &Mirror{pub: pub, prefix: prefix, logger: log}
}

// SamplesSubject returns the subject samples are published on
func (m *Mirror) SamplesSubject() string {
	return m.prefix + ".samples"
}

// StatsSubject returns the subject snapshots are published on
func (m *Mirror) StatsSubject() string {
	return m.prefix + ".stats"
}

// Failures returns the number of publishes that failed
func (m *Mirror) Failures() uint64 {
	return m.failures.Load()
}

// PublishSample mirrors one sample
func (m *Mirror) PublishSample(s models.Sample) {
	m.publish(m.SamplesSubject(), EncodeSample(s))
}

// PublishStats mirrors one snapshot
func (m *Mirror) PublishStats(st models.SessionStats) {
	data, err := json.Marshal(st)
	if err != nil {
		m.logger.Error("Failed to marshal stats", logger.Err(err))
		return
	}
	m.publish(m.StatsSubject(), data)
}

func (m *Mirror) publish(subject string, data []byte) {
	if err := m.pub.Publish(subject, data); err != nil {
		// Only the first failure of a streak is logged at WARN; samples arrive
		// at the sensor rate.
		if m.failures.Add(1) == 1 {
			m.logger.Warn("NATS publish failed", logger.F("subject", subject), logger.Err(err))
		} else {
			m.logger.Debug("NATS publish failed", logger.F("subject", subject), logger.Err(err))
		}
		return
	}
	m.failures.Store(0)
}

// EncodeSample packs s into a SampleFrameSize-byte frame
func EncodeSample(s models.Sample) []byte {
	out := make([]byte, SampleFrameSize)
	for i, v := range []float64{s.Timestamp, s.X, s.Y, s.Z} {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(float32(v)))
	}
	return out
}
