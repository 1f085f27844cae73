package events

// Event type constants for kelindar/event.
const (
	TypeSerialsUpdated uint32 = iota + 1
	TypeCameraOpened
	TypeCameraClosed
	TypePlayingChanged
	TypeSettingsRead
	TypeSettingChanged
	TypeFrameReceived
	TypeCameraException
	TypeWorkerExited
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// SerialsUpdatedEvent carries the serial numbers of the attached cameras
// after a refresh.
type SerialsUpdatedEvent struct {
	Serials []string `json:"serials" doc:"Serial numbers of attached cameras"`
}

// Type returns the event type identifier for SerialsUpdatedEvent.
func (e SerialsUpdatedEvent) Type() uint32 { return TypeSerialsUpdated }

// CameraOpenedEvent reports that the worker opened a camera.
type CameraOpenedEvent struct {
	Serial string `json:"serial" example:"08153" doc:"Serial number of the opened camera"`
}

// Type returns the event type identifier for CameraOpenedEvent.
func (e CameraOpenedEvent) Type() uint32 { return TypeCameraOpened }

// CameraClosedEvent reports that the camera session ended, however it
// ended.
type CameraClosedEvent struct {
	Serial string `json:"serial" example:"08153" doc:"Serial number of the closed camera"`
}

// Type returns the event type identifier for CameraClosedEvent.
func (e CameraClosedEvent) Type() uint32 { return TypeCameraClosed }

// PlayingChangedEvent reports an acquisition start or stop.
type PlayingChangedEvent struct {
	Serial  string `json:"serial" example:"08153" doc:"Serial number of the camera"`
	Playing bool   `json:"playing" doc:"Whether the camera is acquiring frames"`
}

// Type returns the event type identifier for PlayingChangedEvent.
func (e PlayingChangedEvent) Type() uint32 { return TypePlayingChanged }

// SettingsReadEvent carries the full settings snapshot read at open.
type SettingsReadEvent struct {
	Serial   string         `json:"serial" example:"08153" doc:"Serial number of the camera"`
	Settings map[string]any `json:"settings" doc:"Full settings snapshot"`
}

// Type returns the event type identifier for SettingsReadEvent.
func (e SettingsReadEvent) Type() uint32 { return TypeSettingsRead }

// SettingChangedEvent carries the fields changed by one setting write.
type SettingChangedEvent struct {
	Serial  string         `json:"serial" example:"08153" doc:"Serial number of the camera"`
	Changes map[string]any `json:"changes" doc:"Changed settings, dependent fields included"`
}

// Type returns the event type identifier for SettingChangedEvent.
func (e SettingChangedEvent) Type() uint32 { return TypeSettingChanged }

// FrameReceivedEvent carries one captured frame's metadata. Pixel data
// stays with the subscriber that asked for it.
type FrameReceivedEvent struct {
	Serial      string  `json:"serial" example:"08153" doc:"Serial number of the camera"`
	PixelFormat string  `json:"pixel_format" example:"mono16" doc:"Pixel format of the frame"`
	Width       int     `json:"width" example:"1440" doc:"Frame width in pixels"`
	Height      int     `json:"height" example:"1080" doc:"Frame height in pixels"`
	Index       uint64  `json:"index" example:"42" doc:"Monotonic frame index"`
	QueuedCount int     `json:"queued_count" example:"0" doc:"Frames still queued on the camera"`
	CaptureTime float64 `json:"capture_time" doc:"Capture time in monotonic seconds"`
}

// Type returns the event type identifier for FrameReceivedEvent.
func (e FrameReceivedEvent) Type() uint32 { return TypeFrameReceived }

// CameraExceptionEvent reports a rejected request or a remote fault.
type CameraExceptionEvent struct {
	Message string `json:"message" doc:"Error description"`
	Trace   string `json:"trace,omitempty" doc:"Remote stack trace, when the fault carried one"`
}

// Type returns the event type identifier for CameraExceptionEvent.
func (e CameraExceptionEvent) Type() uint32 { return TypeCameraException }

// WorkerExitedEvent reports that the worker subprocess exited.
type WorkerExitedEvent struct {
	ExitCode   int    `json:"exit_code" example:"0" doc:"Subprocess exit code"`
	StderrTail string `json:"stderr_tail,omitempty" doc:"Retained stderr output, non-empty on crashes"`
}

// Type returns the event type identifier for WorkerExitedEvent.
func (e WorkerExitedEvent) Type() uint32 { return TypeWorkerExited }
