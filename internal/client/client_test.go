package client

import (
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camlink/internal/driver"
	"camlink/internal/events"
	"camlink/internal/wire"
	"camlink/internal/worker"
)

// testHarness runs a worker in-process and a Camera pumped over a real TCP
// connection, so the whole protocol is exercised without a subprocess.
type testHarness struct {
	cam    *Camera
	bus    *events.Bus
	served chan error
}

func startHarness(t *testing.T) *testHarness {
	t.Helper()
	sim := driver.NewSim(driver.WithFramePeriod(time.Millisecond))
	srv := worker.New(sim, time.Second, slog.Default())
	require.NoError(t, srv.Listen("127.0.0.1", 0))

	served := make(chan error, 1)
	go func() { served <- srv.Serve() }()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)

	bus := events.New()
	cam := NewCamera(Config{}, bus, slog.Default())
	cam.startPump(conn)
	t.Cleanup(func() { cam.Shutdown(2 * time.Second) })

	return &testHarness{cam: cam, bus: bus, served: served}
}

// await subscribes a typed event channel on the bus.
func await[T events.Event](t *testing.T, bus *events.Bus) <-chan T {
	t.Helper()
	ch := make(chan T, 64)
	unsub := bus.Subscribe(func(e T) { ch <- e })
	t.Cleanup(unsub)
	return ch
}

func recv[T events.Event](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		var zero T
		return zero
	}
}

func openCamera(t *testing.T, h *testHarness) string {
	t.Helper()
	serialsCh := await[events.SerialsUpdatedEvent](t, h.bus)
	openedCh := await[events.CameraOpenedEvent](t, h.bus)

	require.NoError(t, h.cam.RefreshCameras())
	serials := recv(t, serialsCh).Serials
	require.NotEmpty(t, serials)

	require.NoError(t, h.cam.OpenCamera(serials[0]))
	opened := recv(t, openedCh)
	assert.Equal(t, serials[0], opened.Serial)
	return serials[0]
}

func TestSerialsMirroredOnFacade(t *testing.T) {
	h := startHarness(t)
	serialsCh := await[events.SerialsUpdatedEvent](t, h.bus)

	require.NoError(t, h.cam.RefreshCameras())
	ev := recv(t, serialsCh)
	assert.Len(t, ev.Serials, 2)
	assert.Equal(t, ev.Serials, h.cam.Serials())
}

func TestOpenMirrorsSettingsAndState(t *testing.T) {
	h := startHarness(t)
	settingsCh := await[events.SettingsReadEvent](t, h.bus)

	serial := openCamera(t, h)
	settings := recv(t, settingsCh)
	assert.Equal(t, serial, settings.Serial)
	assert.Contains(t, settings.Settings, "exposure_ms")

	assert.True(t, h.cam.IsOpen())
	assert.False(t, h.cam.IsPlaying())
	assert.Contains(t, h.cam.Settings(), "sensor_size")
}

func TestSettingWriteUpdatesMirror(t *testing.T) {
	h := startHarness(t)
	changedCh := await[events.SettingChangedEvent](t, h.bus)
	openCamera(t, h)

	require.NoError(t, h.cam.SetSetting("exposure_ms", 1e9))
	changed := recv(t, changedCh)
	assert.Equal(t, 1000.0, changed.Changes["exposure_ms"], "worker clamps to the advertised range")
	assert.Equal(t, 1000.0, h.cam.Settings()["exposure_ms"])
}

func TestPlayStopLifecycle(t *testing.T) {
	h := startHarness(t)
	playingCh := await[events.PlayingChangedEvent](t, h.bus)
	frameCh := await[events.FrameReceivedEvent](t, h.bus)
	closedCh := await[events.CameraClosedEvent](t, h.bus)
	serial := openCamera(t, h)

	require.NoError(t, h.cam.Play())
	assert.True(t, recv(t, playingCh).Playing)

	frame := recv(t, frameCh)
	assert.Equal(t, serial, frame.Serial)
	assert.Equal(t, "mono16", frame.PixelFormat)
	assert.NotZero(t, frame.Index)

	require.NoError(t, h.cam.StopPlaying())
	assert.False(t, recv(t, playingCh).Playing)
	assert.True(t, h.cam.IsOpen())

	require.NoError(t, h.cam.CloseCamera())
	closed := recv(t, closedCh)
	assert.Equal(t, serial, closed.Serial)
	assert.False(t, h.cam.IsOpen())
}

func TestFrameHandlerReceivesPixels(t *testing.T) {
	h := startHarness(t)
	var pixelBytes atomic.Int64
	h.cam.SetFrameHandler(func(meta wire.ImageMeta, pixels []byte) {
		pixelBytes.Store(int64(len(pixels)))
	})
	frameCh := await[events.FrameReceivedEvent](t, h.bus)
	openCamera(t, h)

	require.NoError(t, h.cam.Play())
	frame := recv(t, frameCh)
	assert.Equal(t, int64(frame.Width*frame.Height*2), pixelBytes.Load())
}

func TestGuardRejectionSurfacesAsException(t *testing.T) {
	h := startHarness(t)
	excCh := await[events.CameraExceptionEvent](t, h.bus)
	playingCh := await[events.PlayingChangedEvent](t, h.bus)
	openCamera(t, h)

	require.NoError(t, h.cam.Play())
	assert.True(t, recv(t, playingCh).Playing)

	require.NoError(t, h.cam.SetSetting("roi_x", 5))
	exc := recv(t, excCh)
	assert.Contains(t, exc.Message, "cannot be set while the camera is playing")
	assert.Empty(t, exc.Trace)
	assert.True(t, h.cam.IsPlaying(), "rejection must not stop the session")
}

func TestRequestsBeforeOpenAreExceptions(t *testing.T) {
	h := startHarness(t)
	excCh := await[events.CameraExceptionEvent](t, h.bus)

	require.NoError(t, h.cam.Play())
	exc := recv(t, excCh)
	assert.Contains(t, exc.Message, "no camera is open")
}

func TestShutdownStopsWorkerAndPump(t *testing.T) {
	h := startHarness(t)
	openCamera(t, h)

	h.cam.Shutdown(5 * time.Second)

	select {
	case err := <-h.served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit after shutdown")
	}

	select {
	case <-h.cam.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("pump did not stop")
	}
	assert.ErrorIs(t, h.cam.RefreshCameras(), ErrNotConnected)
}

func TestSendBeforeStart(t *testing.T) {
	cam := NewCamera(Config{}, events.New(), slog.Default())
	assert.ErrorIs(t, cam.RefreshCameras(), ErrNotConnected)
	cam.Shutdown(time.Second) // must not panic or hang
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, "sim", cfg.Driver)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, time.Second, cfg.RecvTimeout)
}

func TestPickEphemeralPort(t *testing.T) {
	port, err := pickEphemeralPort("127.0.0.1")
	require.NoError(t, err)
	assert.Greater(t, port, 0)

	// The port is released and immediately bindable.
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	l.Close()
}
