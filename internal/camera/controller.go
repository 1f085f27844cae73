package camera

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"camlink/internal/queue"
)

// defaultPollInterval paces the playing loop when the driver has no frame
// queued, so the control loop does not spin faster than the camera can
// produce.
const defaultPollInterval = time.Millisecond

// Controller owns one opened camera on a dedicated goroutine: it consumes
// requests, drives the driver, and publishes events. It is the only code
// allowed to touch the Driver after Open.
//
// State machine: Closed → Open/Idle → Open/Playing, with a terminal exit
// back to Closed from anywhere via a close request or a driver fault. The
// Closed event is emitted exactly once, whichever way the session ends.
type Controller struct {
	serial   string
	adapter  Adapter
	requests *queue.Queue[Request]
	events   *queue.Queue[Event]
	logger   *slog.Logger
	poll     time.Duration
	done     chan struct{}
}

// NewController opens a session for the given serial and starts its control
// loop. Events begin flowing immediately: SettingsRead then Opened on
// success, Exception then Closed on failure.
func NewController(adapter Adapter, serial string, logger *slog.Logger) *Controller {
	c := &Controller{
		serial:   serial,
		adapter:  adapter,
		requests: queue.New[Request](),
		events:   queue.New[Event](),
		logger:   logger.With("serial", serial, "session_id", uuid.NewString()),
		poll:     defaultPollInterval,
		done:     make(chan struct{}),
	}
	go c.run()
	return c
}

// Send enqueues a request for the control loop. It never blocks.
func (c *Controller) Send(req Request) {
	c.requests.Put(req)
}

// Events returns the session's event stream, in emission order.
func (c *Controller) Events() <-chan Event {
	return c.events.Out()
}

// Done is closed when the control loop has exited and the Closed event has
// been enqueued.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Release frees the queues after the consumer has observed Done. Events not
// yet drained are dropped.
func (c *Controller) Release() {
	<-c.done
	c.requests.Close()
	c.events.Close()
}

func (c *Controller) run() {
	defer close(c.done)
	// Closed is terminal and unconditional, mirroring the open below.
	defer c.events.Put(Closed{})

	drv, err := c.adapter.Open(c.serial)
	if err != nil {
		c.logger.Error("Failed to open camera", "error", err)
		c.events.Put(driverException(err))
		return
	}

	snap, err := drv.ReadSettings()
	if err != nil {
		c.logger.Error("Failed to read settings", "error", err)
		c.events.Put(driverException(err))
		c.dispose(drv)
		return
	}
	c.events.Put(SettingsRead{Settings: snap.Map()})
	c.events.Put(Opened{})
	c.logger.Info("Camera opened")

	if err := c.loop(drv, &snap); err != nil {
		c.logger.Error("Driver fault, tearing session down", "error", err)
		c.events.Put(driverException(err))
	}
	c.dispose(drv)
	c.logger.Info("Camera closed")
}

// loop runs until a close request (nil return) or a driver fault (error).
func (c *Controller) loop(drv Driver, snap *Snapshot) error {
	playing := false
	for {
		if !playing {
			// Idle: nothing to poll, block until the next request.
			req, ok := <-c.requests.Out()
			if !ok {
				return nil
			}
			stop, err := c.handle(drv, snap, req, &playing)
			if err != nil || stop {
				return err
			}
			continue
		}

		// Playing: drain every pending request, then try one frame poll.
	drain:
		for {
			select {
			case req, ok := <-c.requests.Out():
				if !ok {
					return nil
				}
				stop, err := c.handle(drv, snap, req, &playing)
				if err != nil || stop {
					return err
				}
				if !playing {
					break drain
				}
			default:
				break drain
			}
		}
		if !playing {
			continue
		}

		frame, err := drv.PollFrame()
		if err != nil {
			return fmt.Errorf("poll frame: %w", err)
		}
		if frame == nil {
			time.Sleep(c.poll)
			continue
		}
		c.events.Put(FrameCaptured{Frame: frame})
	}
}

// handle applies one request. stop means a close was requested; a non-nil
// error means the driver faulted.
func (c *Controller) handle(drv Driver, snap *Snapshot, req Request, playing *bool) (stop bool, err error) {
	switch req.Op {
	case OpClose:
		return true, nil

	case OpPlay:
		if *playing {
			return false, nil
		}
		if err := drv.Arm(); err != nil {
			return false, fmt.Errorf("arm: %w", err)
		}
		if snap.TriggerType == TriggerSoftware {
			if err := drv.IssueSoftwareTrigger(); err != nil {
				return false, fmt.Errorf("issue software trigger: %w", err)
			}
		}
		*playing = true
		c.events.Put(PlayingChanged{Playing: true})

	case OpStop:
		if !*playing {
			return false, nil
		}
		if err := drv.Disarm(); err != nil {
			return false, fmt.Errorf("disarm: %w", err)
		}
		*playing = false
		c.events.Put(PlayingChanged{Playing: false})

	case OpSetting:
		if err := c.writeSetting(drv, snap, req, *playing); err != nil {
			return false, err
		}

	default:
		c.events.Put(Exception{Message: fmt.Sprintf("unsupported request %v", req.Op)})
	}
	return false, nil
}

// writeSetting validates the request against the current mode's allowed
// set, clamps numeric values to their advertised range, applies the write,
// and echoes every changed field. A guard failure emits an exception and
// leaves the state untouched; only a driver error propagates.
func (c *Controller) writeSetting(drv Driver, snap *Snapshot, req Request, playing bool) error {
	if !Writable(req.Name, playing) {
		msg := fmt.Sprintf("setting %q is not recognized", req.Name)
		if playing && Writable(req.Name, false) {
			msg = fmt.Sprintf("setting %q cannot be set while the camera is playing", req.Name)
		}
		c.logger.Warn("Rejected setting write", "setting", req.Name, "playing", playing)
		c.events.Put(Exception{Message: msg})
		return nil
	}

	value := req.Value
	if r, ok := snap.RangeFor(req.Name); ok {
		if f, isNum := toFloat(value); isNum {
			value = r.Clamp(f)
		}
	}

	changes, err := drv.WriteSetting(req.Name, value)
	if err != nil {
		return fmt.Errorf("write setting %s: %w", req.Name, err)
	}
	if _, err := snap.Merge(changes); err != nil {
		return fmt.Errorf("merge setting echo: %w", err)
	}
	c.events.Put(SettingChanged{Changes: changes})
	return nil
}

// dispose returns the driver to a safe state. Errors are logged only: the
// driver is already untrusted on this path.
func (c *Controller) dispose(drv Driver) {
	if drv.Armed() {
		if err := drv.Disarm(); err != nil {
			c.logger.Warn("Disarm during dispose failed", "error", err)
		}
	}
	if err := drv.Close(); err != nil {
		c.logger.Warn("Driver close failed", "error", err)
	}
}

func driverException(err error) Exception {
	return Exception{Message: err.Error(), Trace: string(debug.Stack())}
}
