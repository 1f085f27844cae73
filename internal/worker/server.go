// Package worker implements the camera-side server: it accepts exactly one
// client connection and bridges the wire protocol to a camera control loop.
package worker

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"camlink/internal/camera"
	"camlink/internal/logging"
	"camlink/internal/wire"
)

// drainTimeout bounds how long teardown waits for the control loop to
// finish after the connection is already gone.
const drainTimeout = 10 * time.Second

// Server hosts one camera session for one client.
type Server struct {
	adapter     camera.Adapter
	logger      logging.Logger
	recvTimeout time.Duration
	listener    net.Listener
}

// New creates a server for the given adapter. recvTimeout is the client's
// advertised receive timeout; reads from an idle client are allowed to
// block well past it, so it only paces the accept wait.
func New(adapter camera.Adapter, recvTimeout time.Duration, logger logging.Logger) *Server {
	return &Server{
		adapter:     adapter,
		logger:      logger,
		recvTimeout: recvTimeout,
	}
}

// Listen binds the server socket. The supervisor picked the port before
// spawning, so binding must succeed or the worker is useless.
func (s *Server) Listen(host string, port int) error {
	listener, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		return fmt.Errorf("listen %s:%d: %w", host, port, err)
	}
	s.listener = listener
	s.logger.Info("Listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address. Only valid after Listen.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts one connection and pumps it until the client sends eof or
// the connection fails. The listener is closed on return.
//
// The client retries its connect for up to 5 seconds, so an accept waiting
// much longer than that plus the client's receive timeout means the
// supervisor is gone and the worker should not linger.
func (s *Server) Serve() error {
	defer s.listener.Close()

	if tcp, ok := s.listener.(*net.TCPListener); ok {
		if err := tcp.SetDeadline(time.Now().Add(5*time.Second + 2*s.recvTimeout)); err != nil {
			return fmt.Errorf("set accept deadline: %w", err)
		}
	}
	conn, err := s.listener.Accept()
	if err != nil {
		return fmt.Errorf("accept: %w", err)
	}
	defer conn.Close()

	clientConnected.Set(1)
	defer clientConnected.Set(0)
	s.logger.Info("Client connected", "remote", conn.RemoteAddr().String())

	p := &pump{
		server: s,
		conn:   conn,
		logger: s.logger,
	}
	return p.run()
}

// inboundMsg is one read result from the reader goroutine. Exactly one of
// msg/err is meaningful; a non-nil err is the reader's last send.
type inboundMsg struct {
	msg wire.Message
	err error
}

// pump multiplexes inbound client requests and outbound session events on
// one goroutine, which is also the only writer to the connection.
type pump struct {
	server  *Server
	conn    net.Conn
	logger  logging.Logger
	session *camera.Controller
	serial  string
	// eof is set once the client announced shutdown; the pump exits as
	// soon as the session (if any) has fully closed.
	eof bool
}

func (p *pump) run() error {
	inbound := make(chan inboundMsg)
	stop := make(chan struct{})
	defer close(stop)
	go p.readLoop(inbound, stop)

	for {
		if p.session == nil {
			in := <-inbound
			if in.err != nil {
				return p.connectionLost(in.err)
			}
			if done, err := p.handleRequest(in.msg); done || err != nil {
				return err
			}
			continue
		}

		select {
		case in := <-inbound:
			if in.err != nil {
				return p.connectionLost(in.err)
			}
			if done, err := p.handleRequest(in.msg); done || err != nil {
				return err
			}
		case ev, ok := <-p.session.Events():
			if !ok {
				continue
			}
			if done, err := p.handleEvent(ev); done || err != nil {
				return err
			}
		}
	}
}

// readLoop feeds decoded messages into the channel until the connection
// dies or the pump stops listening. The terminal error is delivered
// in-band so the pump can react.
func (p *pump) readLoop(inbound chan<- inboundMsg, stop <-chan struct{}) {
	for {
		msg, err := wire.ReadMessage(p.conn)
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

// handleRequest applies one client request. done means the pump should
// exit cleanly; a non-nil error means the connection failed mid-write.
func (p *pump) handleRequest(msg wire.Message) (done bool, err error) {
	p.logger.Debug("Request", "tag", msg.Tag)

	switch msg.Tag {
	case wire.TagEOF:
		if p.session == nil {
			return true, nil
		}
		// Keep pumping events so the session's cam_closed still reaches
		// the client before the pump exits.
		p.eof = true
		p.session.Send(camera.Request{Op: camera.OpClose})
		return false, nil

	case wire.TagSerials:
		serials, derr := p.server.adapter.Discover()
		if derr != nil {
			return false, p.writeException(derr.Error(), "")
		}
		value := make([]any, len(serials))
		for i, serial := range serials {
			value[i] = serial
		}
		return false, p.write(wire.Message{Tag: wire.TagSerials, Value: value})

	case wire.TagOpenCam:
		if p.session != nil {
			return false, p.writeException("a camera is already open", "")
		}
		serial, ok := msg.Value.(string)
		if !ok || serial == "" {
			return false, p.writeException(fmt.Sprintf("invalid serial %v", msg.Value), "")
		}
		p.serial = serial
		p.session = camera.NewController(p.server.adapter, serial, logging.GetLogger("camera"))
		return false, nil
	}

	if wire.SessionScoped(msg.Tag) && p.session == nil {
		return false, p.writeException("no camera is open", "")
	}

	switch msg.Tag {
	case wire.TagCloseCam:
		p.session.Send(camera.Request{Op: camera.OpClose})
	case wire.TagPlay:
		p.session.Send(camera.Request{Op: camera.OpPlay})
	case wire.TagStop:
		p.session.Send(camera.Request{Op: camera.OpStop})
	case wire.TagSetting:
		name, value, perr := wire.ParseSetting(msg.Value)
		if perr != nil {
			return false, p.writeException(perr.Error(), "")
		}
		p.session.Send(camera.Request{Op: camera.OpSetting, Name: name, Value: value})
	default:
		return false, p.writeException(fmt.Sprintf("unknown request %q", msg.Tag), "")
	}
	return false, nil
}

// handleEvent forwards one session event to the client.
func (p *pump) handleEvent(ev camera.Event) (done bool, err error) {
	switch e := ev.(type) {
	case camera.SettingsRead:
		return false, p.write(wire.Message{Tag: wire.TagSettings, Value: e.Settings})

	case camera.Opened:
		return false, p.write(wire.Message{Tag: wire.TagCamOpen})

	case camera.PlayingChanged:
		return false, p.write(wire.Message{Tag: wire.TagPlaying, Value: e.Playing})

	case camera.SettingChanged:
		return false, p.write(wire.Message{Tag: wire.TagSetting, Value: e.Changes})

	case camera.FrameCaptured:
		meta := wire.ImageMeta{
			PixelFormat: e.Frame.PixelFormat,
			Width:       e.Frame.Width,
			Height:      e.Frame.Height,
			FrameIndex:  e.Frame.Index,
			QueuedCount: e.Frame.QueuedCount,
			CaptureTime: e.Frame.CaptureTime,
		}
		werr := p.write(wire.Message{Tag: wire.TagImage, Value: meta.Value(), Binary: e.Frame.Pixels})
		if werr == nil {
			recordFrame(p.serial, e.Frame.Index, e.Frame.QueuedCount)
		}
		return false, werr

	case camera.Exception:
		return false, p.writeException(e.Message, e.Trace)

	case camera.Closed:
		p.endSession()
		werr := p.write(wire.Message{Tag: wire.TagCamClosed})
		if werr != nil {
			return false, werr
		}
		return p.eof, nil
	}
	return false, nil
}

// endSession releases the finished controller and clears the per-session
// state. The control loop has already exited when Closed arrives.
func (p *pump) endSession() {
	dropFrameMetrics(p.serial)
	p.session.Release()
	p.session = nil
	p.serial = ""
}

// connectionLost tears the session down after a socket failure. There is
// no client left to notify, so events are discarded.
func (p *pump) connectionLost(err error) error {
	if errors.Is(err, wire.ErrConnectionClosed) {
		p.logger.Info("Client disconnected")
		err = nil
	} else {
		p.logger.Error("Connection failed", "error", err)
	}

	if p.session == nil {
		return err
	}
	p.session.Send(camera.Request{Op: camera.OpClose})
	select {
	case <-p.session.Done():
	case <-time.After(drainTimeout):
		p.logger.Error("Control loop did not stop in time")
	}
	p.endSession()
	return err
}

func (p *pump) write(msg wire.Message) error {
	n, err := wire.WriteMessageCount(p.conn, msg)
	bytesWritten.Add(float64(n))
	if err != nil {
		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
			return p.connectionLost(err)
		}
		p.logger.Error("Write failed", "tag", msg.Tag, "error", err)
		return p.connectionLost(err)
	}
	return nil
}

func (p *pump) writeException(message, trace string) error {
	return p.write(wire.Message{Tag: wire.TagException, Value: wire.Exception{Message: message, Trace: trace}.Value()})
}
