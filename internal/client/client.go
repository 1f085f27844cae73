// Package client supervises the out-of-process camera worker: it spawns the
// subprocess, connects to its socket with bounded retry, pumps the wire
// protocol, and mirrors the remote camera state behind a facade.
package client

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"camlink/internal/events"
	"camlink/internal/logging"
	"camlink/internal/process"
	"camlink/internal/queue"
	"camlink/internal/wire"
)

const (
	// connectWindow is how long the supervisor retries the initial
	// connect while the worker starts up.
	connectWindow = 5 * time.Second

	connectRetryDelay = 50 * time.Millisecond
)

// ErrNotConnected is returned by request helpers before Start has
// succeeded or after the pump has stopped.
var ErrNotConnected = errors.New("client: not connected to worker")

// Config configures a supervised camera connection.
type Config struct {
	// Host the worker binds to. Defaults to 127.0.0.1.
	Host string
	// Port the worker binds to. 0 means the supervisor pre-binds an
	// ephemeral port and passes it down.
	Port int
	// WorkerBin is the executable spawned in worker mode. Defaults to the
	// current executable.
	WorkerBin string
	// DriverBinPath is passed through to the worker for drivers that load
	// vendor libraries from disk.
	DriverBinPath string
	// Driver names the worker-side adapter (--driver flag).
	Driver string
	// LogLevel is the worker's log level name (debug/info/warn/error).
	LogLevel string
	// RecvTimeout is the advertised socket receive timeout, passed down
	// positionally.
	RecvTimeout time.Duration
	// MetricsAddr, when set, makes the worker expose its Prometheus
	// endpoint on this address.
	MetricsAddr string
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Driver == "" {
		c.Driver = "sim"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RecvTimeout <= 0 {
		c.RecvTimeout = time.Second
	}
	if c.DriverBinPath == "" {
		c.DriverBinPath = "."
	}
	return c
}

// FrameHandler receives each frame's metadata and pixel data. It runs on
// the pump goroutine, so it must not block.
type FrameHandler func(meta wire.ImageMeta, pixels []byte)

// Camera is the supervising client. All exported methods are safe for
// concurrent use.
type Camera struct {
	cfg    Config
	bus    *events.Bus
	logger logging.Logger

	onFrame FrameHandler

	outbound *queue.Queue[wire.Message]
	proc     *process.Process
	conn     net.Conn

	pumpDone chan struct{}

	mu       sync.RWMutex
	started  bool
	serials  []string
	serial   string // serial of the requested/open camera
	open     bool
	playing  bool
	settings map[string]any
}

// NewCamera creates an unstarted supervisor. Events are published on bus.
func NewCamera(cfg Config, bus *events.Bus, logger logging.Logger) *Camera {
	return &Camera{
		cfg:      cfg.withDefaults(),
		bus:      bus,
		logger:   logger,
		outbound: queue.New[wire.Message](),
		pumpDone: make(chan struct{}),
		settings: map[string]any{},
	}
}

// SetFrameHandler installs the pixel-data callback. Must be called before
// Start.
func (c *Camera) SetFrameHandler(fn FrameHandler) {
	c.onFrame = fn
}

// Start spawns the worker subprocess, connects to it, and starts the pump.
func (c *Camera) Start() error {
	host, port := c.cfg.Host, c.cfg.Port
	if port == 0 {
		picked, err := pickEphemeralPort(host)
		if err != nil {
			return err
		}
		port = picked
	}

	bin := c.cfg.WorkerBin
	if bin == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve worker binary: %w", err)
		}
		bin = exe
	}

	args := []string{
		bin, "worker",
		strconv.Itoa(logging.LevelNumber(c.cfg.LogLevel)),
		c.cfg.DriverBinPath,
		host,
		strconv.Itoa(port),
		strconv.FormatFloat(c.cfg.RecvTimeout.Seconds(), 'f', -1, 64),
		"--driver", c.cfg.Driver,
	}
	if c.cfg.MetricsAddr != "" {
		args = append(args, "--metrics-addr", c.cfg.MetricsAddr)
	}
	c.proc = process.New("worker", args, c.logger)
	c.proc.SetLogParser(logging.GetLogger("worker"), nil)
	if err := c.proc.Start(); err != nil {
		return err
	}

	go c.watchProcess()

	conn, err := c.connect(net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		c.proc.Kill()
		c.proc.Wait()
		return err
	}
	c.startPump(conn)
	return nil
}

// watchProcess publishes the worker's exit on the bus, stderr tail
// included so crashes are observable.
func (c *Camera) watchProcess() {
	result := c.proc.Wait()
	if result.ExitCode != 0 {
		c.logger.Error("Worker exited abnormally", "exit_code", result.ExitCode, "stderr", result.StderrTail)
	} else {
		c.logger.Info("Worker exited")
	}
	c.bus.Publish(events.WorkerExitedEvent{ExitCode: result.ExitCode, StderrTail: result.StderrTail})
}

// connect dials the worker, retrying while it boots.
func (c *Camera) connect(addr string) (net.Conn, error) {
	deadline := time.Now().Add(connectWindow)
	for {
		conn, err := net.DialTimeout("tcp", addr, connectWindow)
		if err == nil {
			c.logger.Info("Connected to worker", "addr", addr)
			return conn, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("connect to worker at %s: %w", addr, err)
		}
		time.Sleep(connectRetryDelay)
	}
}

// startPump wires an established connection. Split from Start so tests can
// run against an in-process server without spawning a subprocess.
func (c *Camera) startPump(conn net.Conn) {
	c.conn = conn
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	go c.pump()
}

// Done is closed when the pump has stopped, which happens after the worker
// closes the connection.
func (c *Camera) Done() <-chan struct{} {
	return c.pumpDone
}

// pump owns the connection: it drains the outbound queue and dispatches
// inbound messages until either side is gone.
func (c *Camera) pump() {
	defer close(c.pumpDone)
	defer c.conn.Close()
	defer func() {
		c.mu.Lock()
		c.started = false
		c.open = false
		c.playing = false
		c.mu.Unlock()
	}()

	inbound := make(chan inboundMsg)
	stop := make(chan struct{})
	defer close(stop)
	go c.readLoop(inbound, stop)

	for {
		select {
		case msg, ok := <-c.outbound.Out():
			if !ok {
				return
			}
			if err := wire.WriteMessage(c.conn, msg); err != nil {
				c.logger.Error("Write to worker failed", "tag", msg.Tag, "error", err)
				return
			}
			if msg.Tag == wire.TagEOF {
				// Keep reading: the worker still delivers cam_closed
				// before it closes the connection.
				c.drainAfterEOF(inbound)
				return
			}
		case in := <-inbound:
			if in.err != nil {
				c.reportReadEnd(in.err)
				return
			}
			c.dispatch(in.msg)
		}
	}
}

// drainAfterEOF consumes the worker's remaining messages after the client
// announced shutdown, until the worker closes the connection.
func (c *Camera) drainAfterEOF(inbound <-chan inboundMsg) {
	for in := range inbound {
		if in.err != nil {
			c.reportReadEnd(in.err)
			return
		}
		c.dispatch(in.msg)
	}
}

func (c *Camera) reportReadEnd(err error) {
	if errors.Is(err, wire.ErrConnectionClosed) {
		c.logger.Info("Worker closed the connection")
		return
	}
	c.logger.Error("Read from worker failed", "error", err)
	c.bus.Publish(events.CameraExceptionEvent{Message: err.Error()})
}

type inboundMsg struct {
	msg wire.Message
	err error
}

func (c *Camera) readLoop(inbound chan<- inboundMsg, stop <-chan struct{}) {
	for {
		msg, err := wire.ReadMessage(c.conn)
		if err != nil {
			select {
			case inbound <- inboundMsg{err: err}:
			case <-stop:
			}
			return
		}
		select {
		case inbound <- inboundMsg{msg: msg}:
		case <-stop:
			return
		}
	}
}

// dispatch mirrors one worker message into local state and onto the bus.
func (c *Camera) dispatch(msg wire.Message) {
	switch msg.Tag {
	case wire.TagSerials:
		serials, err := wire.ParseSerials(msg.Value)
		if err != nil {
			c.logger.Warn("Bad serials message", "error", err)
			return
		}
		c.mu.Lock()
		c.serials = serials
		c.mu.Unlock()
		c.bus.Publish(events.SerialsUpdatedEvent{Serials: serials})

	case wire.TagSettings:
		settings, ok := msg.Value.(map[string]any)
		if !ok {
			c.logger.Warn("Bad settings message", "type", fmt.Sprintf("%T", msg.Value))
			return
		}
		c.mu.Lock()
		c.settings = settings
		serial := c.serial
		c.mu.Unlock()
		c.bus.Publish(events.SettingsReadEvent{Serial: serial, Settings: settings})

	case wire.TagCamOpen:
		c.mu.Lock()
		c.open = true
		serial := c.serial
		c.mu.Unlock()
		c.bus.Publish(events.CameraOpenedEvent{Serial: serial})

	case wire.TagCamClosed:
		c.mu.Lock()
		serial := c.serial
		c.open = false
		c.playing = false
		c.serial = ""
		c.mu.Unlock()
		c.bus.Publish(events.CameraClosedEvent{Serial: serial})

	case wire.TagPlaying:
		playing, ok := msg.Value.(bool)
		if !ok {
			c.logger.Warn("Bad playing message", "type", fmt.Sprintf("%T", msg.Value))
			return
		}
		c.mu.Lock()
		c.playing = playing
		serial := c.serial
		c.mu.Unlock()
		c.bus.Publish(events.PlayingChangedEvent{Serial: serial, Playing: playing})

	case wire.TagSetting:
		changes, ok := msg.Value.(map[string]any)
		if !ok {
			c.logger.Warn("Bad setting echo", "type", fmt.Sprintf("%T", msg.Value))
			return
		}
		c.mu.Lock()
		for name, value := range changes {
			c.settings[name] = value
		}
		serial := c.serial
		c.mu.Unlock()
		c.bus.Publish(events.SettingChangedEvent{Serial: serial, Changes: changes})

	case wire.TagImage:
		meta, err := wire.ParseImageMeta(msg.Value)
		if err != nil {
			c.logger.Warn("Bad image metadata", "error", err)
			return
		}
		c.mu.RLock()
		serial := c.serial
		c.mu.RUnlock()
		if c.onFrame != nil {
			c.onFrame(meta, msg.Binary)
		}
		c.bus.Publish(events.FrameReceivedEvent{
			Serial:      serial,
			PixelFormat: meta.PixelFormat,
			Width:       meta.Width,
			Height:      meta.Height,
			Index:       meta.FrameIndex,
			QueuedCount: meta.QueuedCount,
			CaptureTime: meta.CaptureTime,
		})

	case wire.TagException:
		exc, err := wire.ParseException(msg.Value)
		if err != nil {
			c.logger.Warn("Bad exception message", "error", err)
			return
		}
		c.logger.Warn("Worker reported exception", "message", exc.Message)
		c.bus.Publish(events.CameraExceptionEvent{Message: exc.Message, Trace: exc.Trace})

	default:
		c.logger.Warn("Unknown message from worker", "tag", msg.Tag)
	}
}

// send enqueues one request for the pump.
func (c *Camera) send(msg wire.Message) error {
	c.mu.RLock()
	started := c.started
	c.mu.RUnlock()
	if !started {
		return ErrNotConnected
	}
	c.outbound.Put(msg)
	return nil
}

// RefreshCameras asks the worker for the attached serial numbers. The
// answer arrives as a SerialsUpdatedEvent.
func (c *Camera) RefreshCameras() error {
	return c.send(wire.Message{Tag: wire.TagSerials})
}

// OpenCamera opens the camera with the given serial.
func (c *Camera) OpenCamera(serial string) error {
	c.mu.Lock()
	c.serial = serial
	c.mu.Unlock()
	return c.send(wire.Message{Tag: wire.TagOpenCam, Value: serial})
}

// CloseCamera closes the open camera session.
func (c *Camera) CloseCamera() error {
	return c.send(wire.Message{Tag: wire.TagCloseCam})
}

// Play starts frame acquisition.
func (c *Camera) Play() error {
	return c.send(wire.Message{Tag: wire.TagPlay})
}

// StopPlaying stops frame acquisition, leaving the camera open.
func (c *Camera) StopPlaying() error {
	return c.send(wire.Message{Tag: wire.TagStop})
}

// SetSetting writes one camera setting. The confirmed values arrive as a
// SettingChangedEvent.
func (c *Camera) SetSetting(name string, value any) error {
	return c.send(wire.Message{Tag: wire.TagSetting, Value: wire.SettingValue(name, value)})
}

// Serials returns the last refreshed serial numbers.
func (c *Camera) Serials() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.serials...)
}

// IsOpen reports whether a camera session is open.
func (c *Camera) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}

// IsPlaying reports whether the open camera is acquiring frames.
func (c *Camera) IsPlaying() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.playing
}

// Settings returns a copy of the mirrored settings snapshot.
func (c *Camera) Settings() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.settings))
	for name, value := range c.settings {
		out[name] = value
	}
	return out
}

// Shutdown stops the worker: it announces eof, waits for the worker to
// wind down, and escalates to signals if it does not exit within
// killDelay. Safe to call when never started.
func (c *Camera) Shutdown(killDelay time.Duration) {
	if err := c.send(wire.Message{Tag: wire.TagEOF}); err == nil {
		select {
		case <-c.pumpDone:
		case <-time.After(killDelay):
			c.logger.Warn("Worker did not close the connection, closing it ourselves")
			c.conn.Close()
		}
	}
	c.outbound.Close()

	if c.proc == nil {
		return
	}
	select {
	case <-c.proc.Done():
		c.proc.Wait()
	case <-time.After(killDelay):
		c.logger.Warn("Worker still running after eof, stopping it", "kill_delay", killDelay)
		c.proc.Stop()
	}
}

// pickEphemeralPort asks the kernel for a free port by binding and
// immediately releasing it. The worker binds the port right after, so the
// reuse window is tiny.
func pickEphemeralPort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("pick ephemeral port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
