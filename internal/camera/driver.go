package camera

// Frame is one captured image and its metadata. It is immutable once
// produced by the driver; ownership transfers to the transport when the
// controller enqueues it.
type Frame struct {
	Pixels      []byte
	PixelFormat string // FormatMono16 or FormatBGR48
	Width       int
	Height      int
	Index       uint64
	QueuedCount int
	CaptureTime float64 // monotonic seconds
}

// Driver is one opened camera. Only the control-loop goroutine calls it.
// Vendor bindings and the simulated camera implement this. The controller
// treats any returned error as fatal to the session.
type Driver interface {
	// ReadSettings returns the full settings snapshot, ranges included.
	ReadSettings() (Snapshot, error)
	// WriteSetting applies one setting and returns every field it changed,
	// including recomputed dependent fields (e.g. roi_width shrinking when
	// roi_x moves right).
	WriteSetting(name string, value any) (map[string]any, error)
	// Arm prepares frame acquisition.
	Arm() error
	// IssueSoftwareTrigger starts acquisition after Arm when the trigger
	// mode is software.
	IssueSoftwareTrigger() error
	// Disarm stops acquisition.
	Disarm() error
	// Armed reports whether the camera is currently armed.
	Armed() bool
	// PollFrame returns the next queued frame, or nil when none is ready.
	// It never blocks.
	PollFrame() (*Frame, error)
	// Close releases the camera.
	Close() error
}

// Adapter is the entry point of one camera driver: device discovery plus
// session creation.
type Adapter interface {
	// Discover lists the serial numbers of attached cameras.
	Discover() ([]string, error)
	// Open claims the camera with the given serial.
	Open(serial string) (Driver, error)
}
