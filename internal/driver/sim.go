package driver

import (
	"fmt"
	"slices"
	"time"

	"camlink/internal/camera"

	"github.com/google/uuid"
)

func init() {
	Register("sim", func() camera.Adapter { return NewSim() })
}

const (
	simSensorWidth  = 1440
	simSensorHeight = 1080

	// simFramePeriod is how often an armed simulated camera produces a
	// frame. Fast enough that tests never wait noticeably.
	simFramePeriod = 2 * time.Millisecond
)

// Sim is a software camera. It honors the full settings schema, including
// the dependent region-of-interest recomputation real sensors do, and
// produces synthetic frames while armed.
type Sim struct {
	serials     []string
	framePeriod time.Duration
	faultAfter  int
	faultErr    error
	start       time.Time
}

// SimOption configures a simulated adapter.
type SimOption func(*Sim)

// WithSerials overrides the serial numbers Discover reports.
func WithSerials(serials ...string) SimOption {
	return func(s *Sim) { s.serials = serials }
}

// WithFramePeriod overrides the synthetic frame interval.
func WithFramePeriod(d time.Duration) SimOption {
	return func(s *Sim) { s.framePeriod = d }
}

// WithPollFault makes every opened camera fail its poll after producing n
// frames. Used to exercise fault teardown paths.
func WithPollFault(n int, err error) SimOption {
	return func(s *Sim) {
		s.faultAfter = n
		s.faultErr = err
	}
}

// NewSim builds a simulated adapter with two attached cameras.
func NewSim(opts ...SimOption) *Sim {
	s := &Sim{
		serials:     []string{"sim:" + uuid.NewString()[:8], "sim:" + uuid.NewString()[:8]},
		framePeriod: simFramePeriod,
		start:       time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Discover lists the simulated serial numbers.
func (s *Sim) Discover() ([]string, error) {
	return append([]string(nil), s.serials...), nil
}

// Open claims one simulated camera. The serial must be one Discover
// reported.
func (s *Sim) Open(serial string) (camera.Driver, error) {
	if !slices.Contains(s.serials, serial) {
		return nil, fmt.Errorf("sim: no camera with serial %q", serial)
	}
	return &simCamera{
		adapter: s,
		snap: camera.Snapshot{
			ExposureMS:        5,
			ExposureRange:     camera.Range{Min: 0, Max: 1000},
			BinningX:          1,
			BinningXRange:     camera.Range{Min: 1, Max: 4},
			BinningY:          1,
			BinningYRange:     camera.Range{Min: 1, Max: 4},
			SensorWidth:       simSensorWidth,
			SensorHeight:      simSensorHeight,
			ROIX:              0,
			ROIY:              0,
			ROIWidth:          simSensorWidth,
			ROIHeight:         simSensorHeight,
			FrameQueueSize:    1,
			TriggerType:       camera.TriggerSoftware,
			TriggerCount:      0,
			Gain:              0,
			GainRange:         camera.Range{Min: 0, Max: 48},
			BlackLevel:        0,
			BlackLevelRange:   camera.Range{Min: 0, Max: 255},
			Freq:              "20 MHz",
			SupportedFreqs:    []string{"20 MHz", "40 MHz"},
			Taps:              "1",
			SupportedTaps:     []string{"1", "2", "4"},
			SupportedTriggers: []string{camera.TriggerSoftware, camera.TriggerHardware},
			ColorGain:         [3]float64{1, 1, 1},
		},
	}, nil
}

// simCamera is one opened simulated camera. Like a real driver handle it is
// confined to the control-loop goroutine, so no locking.
type simCamera struct {
	adapter    *Sim
	snap       camera.Snapshot
	armed      bool
	triggered  bool
	frameIndex uint64
	sinceTrig  int
	nextFrame  time.Time
}

func (c *simCamera) ReadSettings() (camera.Snapshot, error) {
	return c.snap, nil
}

// WriteSetting applies one setting the way the vendor SDK would: numeric
// values clamp to their range, and moving a region-of-interest edge shrinks
// the dependent extent so the region stays on the sensor. The returned map
// holds every field that changed.
func (c *simCamera) WriteSetting(name string, value any) (map[string]any, error) {
	changes := map[string]any{}
	switch name {
	case "exposure_ms":
		f, ok := asFloat(value)
		if !ok {
			return nil, fmt.Errorf("sim: exposure_ms: %T is not numeric", value)
		}
		changes[name] = c.snap.ExposureRange.Clamp(f)

	case "binning_x":
		n, err := clampedInt(value, c.snap.BinningXRange)
		if err != nil {
			return nil, fmt.Errorf("sim: binning_x: %w", err)
		}
		changes[name] = n

	case "binning_y":
		n, err := clampedInt(value, c.snap.BinningYRange)
		if err != nil {
			return nil, fmt.Errorf("sim: binning_y: %w", err)
		}
		changes[name] = n

	case "roi_x":
		n, ok := asInt(value)
		if !ok {
			return nil, fmt.Errorf("sim: roi_x: %T is not an integer", value)
		}
		x := clampInt(n, 0, c.snap.SensorWidth-1)
		changes["roi_x"] = x
		changes["roi_width"] = min(c.snap.SensorWidth-x, c.snap.ROIWidth)

	case "roi_y":
		n, ok := asInt(value)
		if !ok {
			return nil, fmt.Errorf("sim: roi_y: %T is not an integer", value)
		}
		y := clampInt(n, 0, c.snap.SensorHeight-1)
		changes["roi_y"] = y
		changes["roi_height"] = min(c.snap.SensorHeight-y, c.snap.ROIHeight)

	case "roi_width":
		n, ok := asInt(value)
		if !ok {
			return nil, fmt.Errorf("sim: roi_width: %T is not an integer", value)
		}
		changes["roi_width"] = clampInt(n, 1, c.snap.SensorWidth-c.snap.ROIX)
		changes["roi_x"] = c.snap.ROIX

	case "roi_height":
		n, ok := asInt(value)
		if !ok {
			return nil, fmt.Errorf("sim: roi_height: %T is not an integer", value)
		}
		changes["roi_height"] = clampInt(n, 1, c.snap.SensorHeight-c.snap.ROIY)
		changes["roi_y"] = c.snap.ROIY

	case "trigger_type":
		s, ok := value.(string)
		if !ok || !slices.Contains(c.snap.SupportedTriggers, s) {
			return nil, fmt.Errorf("sim: unsupported trigger type %v", value)
		}
		changes[name] = s

	case "trigger_count":
		n, ok := asInt(value)
		if !ok {
			return nil, fmt.Errorf("sim: trigger_count: %T is not an integer", value)
		}
		changes[name] = max(0, n)

	case "frame_queue_size":
		n, ok := asInt(value)
		if !ok {
			return nil, fmt.Errorf("sim: frame_queue_size: %T is not an integer", value)
		}
		changes[name] = max(1, n)

	case "gain":
		n, err := clampedInt(value, c.snap.GainRange)
		if err != nil {
			return nil, fmt.Errorf("sim: gain: %w", err)
		}
		changes[name] = n

	case "black_level":
		n, err := clampedInt(value, c.snap.BlackLevelRange)
		if err != nil {
			return nil, fmt.Errorf("sim: black_level: %w", err)
		}
		changes[name] = n

	case "freq":
		s, ok := value.(string)
		if !ok || !slices.Contains(c.snap.SupportedFreqs, s) {
			return nil, fmt.Errorf("sim: unsupported frequency %v", value)
		}
		changes[name] = s

	case "taps":
		s, ok := value.(string)
		if !ok || !slices.Contains(c.snap.SupportedTaps, s) {
			return nil, fmt.Errorf("sim: unsupported tap count %v", value)
		}
		changes[name] = s

	case "color_gain":
		seq, ok := value.([]any)
		if !ok || len(seq) != 3 {
			return nil, fmt.Errorf("sim: color_gain: %T is not an [r, g, b] triple", value)
		}
		gains := make([]any, 3)
		for i, item := range seq {
			f, ok := asFloat(item)
			if !ok {
				return nil, fmt.Errorf("sim: color_gain: non-numeric channel gain")
			}
			gains[i] = f
		}
		changes[name] = gains

	default:
		return nil, fmt.Errorf("sim: unknown setting %q", name)
	}

	if _, err := c.snap.Merge(changes); err != nil {
		return nil, err
	}
	return changes, nil
}

func (c *simCamera) Arm() error {
	c.armed = true
	c.triggered = false
	c.sinceTrig = 0
	c.nextFrame = time.Now()
	return nil
}

func (c *simCamera) IssueSoftwareTrigger() error {
	if !c.armed {
		return fmt.Errorf("sim: software trigger while disarmed")
	}
	c.triggered = true
	c.sinceTrig = 0
	return nil
}

func (c *simCamera) Disarm() error {
	c.armed = false
	c.triggered = false
	return nil
}

func (c *simCamera) Armed() bool { return c.armed }

// PollFrame produces the next synthetic frame once the frame period has
// elapsed. A software-triggered camera produces nothing until triggered,
// and a positive trigger_count caps the frames per trigger.
func (c *simCamera) PollFrame() (*camera.Frame, error) {
	if c.adapter.faultErr != nil && c.frameIndex >= uint64(c.adapter.faultAfter) {
		return nil, c.adapter.faultErr
	}
	if !c.armed {
		return nil, nil
	}
	if c.snap.TriggerType == camera.TriggerSoftware && !c.triggered {
		return nil, nil
	}
	if c.snap.TriggerCount > 0 && c.sinceTrig >= c.snap.TriggerCount {
		return nil, nil
	}
	now := time.Now()
	if now.Before(c.nextFrame) {
		return nil, nil
	}
	c.nextFrame = now.Add(c.adapter.framePeriod)
	c.frameIndex++
	c.sinceTrig++
	return &camera.Frame{
		Pixels:      c.renderPixels(),
		PixelFormat: camera.FormatMono16,
		Width:       c.snap.ROIWidth,
		Height:      c.snap.ROIHeight,
		Index:       c.frameIndex,
		QueuedCount: 0,
		CaptureTime: now.Sub(c.adapter.start).Seconds(),
	}, nil
}

func (c *simCamera) Close() error {
	c.armed = false
	return nil
}

// renderPixels fills the region of interest with a horizontal gradient
// offset by the frame index, so consecutive frames differ.
func (c *simCamera) renderPixels() []byte {
	w, h := c.snap.ROIWidth, c.snap.ROIHeight
	pixels := make([]byte, w*h*2)
	for y := 0; y < h; y++ {
		row := pixels[y*w*2 : (y+1)*w*2]
		for x := 0; x < w; x++ {
			v := uint16(x) + uint16(c.frameIndex)
			row[x*2] = byte(v >> 8)
			row[x*2+1] = byte(v)
		}
	}
	return pixels
}

func clampedInt(value any, r camera.Range) (int, error) {
	n, ok := asInt(value)
	if !ok {
		return 0, fmt.Errorf("%T is not an integer", value)
	}
	return int(r.Clamp(float64(n))), nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n == float64(int64(n)) {
			return int(n), true
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
