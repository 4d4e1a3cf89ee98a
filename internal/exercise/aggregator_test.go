package exercise

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/motion-rep-tracker/internal/models"
	"github.com/motion-rep-tracker/pkg/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestAggregator() (*Aggregator, *fakeClock) {
	clock := &fakeClock{now: t0}
	return NewWithClock(DefaultParams(), logger.NewWithWriter(io.Discard), clock.Now), clock
}

func TestAggregator_Lifecycle(t *testing.T) {
	a, clock := newTestAggregator()

	// Idle: samples are dropped.
	a.Ingest(models.Sample{Z: 3})
	require.Zero(t, a.Snapshot().RepCount)
	require.Empty(t, a.Snapshot().History)

	a.Start()
	a.Ingest(models.Sample{Z: 3})
	clock.Advance(300 * time.Millisecond)
	a.Ingest(models.Sample{Z: 0})
	clock.Advance(300 * time.Millisecond)
	a.Ingest(models.Sample{Z: 3})
	clock.Advance(1400 * time.Millisecond)

	stats := a.Snapshot()
	require.True(t, stats.Active)
	require.Equal(t, 2, stats.RepCount)
	require.Equal(t, "0.6s", stats.AverageRepTime)
	require.Equal(t, "3.00 m/s²", stats.MaxAcceleration)
	require.Equal(t, "00:00:02", stats.SessionDuration)
	require.Len(t, stats.History, 3)

	final, ok := a.Stop()
	require.True(t, ok)
	require.Equal(t, 2, final.RepCount)

	// Stopped: duration frozen, samples ignored.
	clock.Advance(time.Hour)
	a.Ingest(models.Sample{Z: 9})
	stats = a.Snapshot()
	require.False(t, stats.Active)
	require.Equal(t, "00:00:02", stats.SessionDuration)
	require.Equal(t, 2, stats.RepCount)
	require.Equal(t, "3.00 m/s²", stats.MaxAcceleration)

	_, ok = a.Stop()
	require.False(t, ok)

	// Restart begins from zero.
	a.Start()
	require.Zero(t, a.Snapshot().RepCount)
	require.Equal(t, clock.Now(), a.State().StartedAt)
}

func TestAggregator_Reset(t *testing.T) {
	tests := []struct {
		name       string
		active     bool
		wantActive bool
	}{
		{name: "active session keeps running", active: true, wantActive: true},
		{name: "stopped session", active: false, wantActive: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, clock := newTestAggregator()
			a.Start()
			for i := 0; i < 5; i++ {
				a.Ingest(models.Sample{X: 1, Y: 2, Z: float64(i * 2)})
				clock.Advance(time.Second)
			}
			if !tt.active {
				a.Stop()
			}

			clock.Advance(time.Minute)
			a.Reset()

			stats := a.Snapshot()
			require.Equal(t, tt.wantActive, stats.Active)
			require.Equal(t, 0, stats.RepCount)
			require.Equal(t, "00:00:00", stats.SessionDuration)
			require.Equal(t, "0.0s", stats.AverageRepTime)
			require.Equal(t, "0.00 m/s²", stats.MaxAcceleration)
			require.Empty(t, stats.History)

			if tt.active {
				require.Equal(t, clock.Now(), a.State().StartedAt)
				clock.Advance(3 * time.Second)
				require.Equal(t, "00:00:03", a.Snapshot().SessionDuration)
			}
		})
	}
}

func TestAggregator_PublishesSnapshots(t *testing.T) {
	a, _ := newTestAggregator()

	var got []models.SessionStats
	unsubscribe := a.SubscribeStats(func(s models.SessionStats) { got = append(got, s) })

	a.Ingest(models.Sample{Z: 3}) // idle, no change
	a.Start()
	a.Ingest(models.Sample{Z: 3})
	a.Stop()
	unsubscribe()
	a.Start()

	require.Len(t, got, 3)
	require.True(t, got[0].Active)
	require.Equal(t, 1, got[1].RepCount)
	require.False(t, got[2].Active)
}

func TestAggregator_RunTimer(t *testing.T) {
	a, clock := newTestAggregator()

	ticks := make(chan models.SessionStats, 8)
	a.SubscribeStats(func(s models.SessionStats) {
		select {
		case ticks <- s:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.RunTimer(ctx, 5*time.Millisecond)
		close(done)
	}()

	a.Start()
	clock.Advance(4 * time.Second)

	timeout := time.After(time.Second)
	for advanced := false; !advanced; {
		select {
		case s := <-ticks:
			advanced = s.SessionDuration == "00:00:04"
		case <-timeout:
			t.Fatal("timer did not publish")
		}
	}

	cancel()
	<-done
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []models.Sample{{Timestamp: 0, X: 1, Y: 2, Z: 3}}))
	require.Equal(t, "timestamp,x-axis,y-axis,z-axis\n0,1,2,3\n", buf.String())

	buf.Reset()
	require.NoError(t, WriteCSV(&buf, []models.Sample{{Timestamp: 0.02, X: -0.5, Y: 1e-7, Z: 9.81}}))
	require.Equal(t, "timestamp,x-axis,y-axis,z-axis\n0.02,-0.5,0.0000001,9.81\n", buf.String())

	buf.Reset()
	require.NoError(t, WriteCSV(&buf, nil))
	require.Equal(t, "timestamp,x-axis,y-axis,z-axis\n", buf.String())
}

func TestSummary(t *testing.T) {
	s := feed(active(), 600*time.Millisecond, 3, 0, 3)
	s.Active = false
	s.StoppedAt = t0.Add(90 * time.Second)

	rec := Summary(s, t0.Add(time.Hour))
	require.Equal(t, t0, rec.StartTime)
	require.Equal(t, s.StoppedAt, rec.EndTime)
	require.Equal(t, 2, rec.TotalReps)
	require.Equal(t, "3.00 m/s²", rec.MaxAcceleration)
	require.Equal(t, "1.2s", rec.AverageRepTime)
	require.Equal(t, "00:01:30", rec.SessionDuration)
	require.Len(t, rec.AccelerationData, 3)
}
