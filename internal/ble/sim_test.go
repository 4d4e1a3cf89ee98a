package ble

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/motion-rep-tracker/internal/frame"
	"github.com/motion-rep-tracker/internal/models"
)

func magnitude(s models.Sample) float64 {
	return math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
}

func TestSimConfig_Sample(t *testing.T) {
	cfg := DefaultSimConfig()
	perRep := int(cfg.RepPeriod.Seconds() * float64(cfg.Rate))

	var idleMax, trackingMax float64
	for n := 1; n <= perRep; n++ {
		idleMax = math.Max(idleMax, magnitude(cfg.sample(n, false)))
		trackingMax = math.Max(trackingMax, magnitude(cfg.sample(n, true)))
	}

	require.Less(t, idleMax, 2.0, "idle signal stays under the rep threshold")
	require.Greater(t, trackingMax, 2.0, "a rep crosses the threshold")
}

func TestSim_ScanStop(t *testing.T) {
	sim := NewSim(DefaultSimConfig())
	require.NoError(t, sim.Enable())

	found := make(chan models.Device, 1)
	errc := make(chan error, 1)
	go func() {
		errc <- sim.Scan(context.Background(), DefaultServiceUUID, func(d models.Device) {
			found <- d
		})
	}()

	select {
	case d := <-found:
		require.Equal(t, sim.Device(), d)
	case <-time.After(time.Second):
		t.Fatal("device not reported")
	}

	require.NoError(t, sim.StopScan())
	require.ErrorIs(t, <-errc, ErrScanStopped)
}

func TestSim_ScanContext(t *testing.T) {
	sim := NewSim(DefaultSimConfig())
	require.NoError(t, sim.Enable())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := sim.Scan(ctx, "00000000-0000-0000-0000-000000000000", func(models.Device) {
		t.Error("no device advertises this service")
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSim_NotEnabled(t *testing.T) {
	sim := NewSim(DefaultSimConfig())
	err := sim.Scan(context.Background(), DefaultServiceUUID, func(models.Device) {})
	require.ErrorIs(t, err, ErrNotEnabled)
}

func TestSim_ConnectAndStream(t *testing.T) {
	sim := NewSim(DefaultSimConfig())
	require.NoError(t, sim.Enable())
	ctx := context.Background()

	_, err := sim.Connect(ctx, "nope")
	require.ErrorIs(t, err, ErrUnknownDevice)

	link, err := sim.Connect(ctx, sim.Device().ID)
	require.NoError(t, err)

	_, err = link.Characteristic(ctx, "00000000-0000-0000-0000-000000000000", DefaultCharacteristicUUID)
	require.ErrorIs(t, err, ErrServiceNotFound)

	char, err := link.Characteristic(ctx, DefaultServiceUUID, DefaultCharacteristicUUID)
	require.NoError(t, err)

	frames := make(chan []byte, 16)
	require.NoError(t, char.EnableNotifications(func(p []byte) {
		select {
		case frames <- p:
		default:
		}
	}))

	select {
	case p := <-frames:
		_, err := frame.Decode(p, 0)
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("no frame received")
	}

	require.NoError(t, char.Write(ctx, CommandStart))
	require.Error(t, char.Write(ctx, []byte{0x07}))
	require.NoError(t, link.Disconnect())
}

func TestSim_Drop(t *testing.T) {
	sim := NewSim(DefaultSimConfig())
	require.NoError(t, sim.Enable())

	dropped := make(chan Link, 1)
	sim.SetDisconnectHandler(func(link Link) { dropped <- link })

	link, err := sim.Connect(context.Background(), sim.Device().ID)
	require.NoError(t, err)

	sim.Drop()
	require.Same(t, link, <-dropped)

	// Nothing connected: no second callback.
	sim.Drop()
	select {
	case <-dropped:
		t.Fatal("unexpected disconnect callback")
	default:
	}
}
