package camera

// Request is one command consumed by the control loop.
type Request struct {
	Op    Op
	Name  string // setting name, OpSetting only
	Value any    // requested value, OpSetting only
}

// Op enumerates control-loop commands.
type Op int

// Control-loop commands. OpClose is the sentinel that ends the loop.
const (
	OpClose Op = iota
	OpPlay
	OpStop
	OpSetting
)

func (o Op) String() string {
	switch o {
	case OpClose:
		return "close_cam"
	case OpPlay:
		return "play"
	case OpStop:
		return "stop"
	case OpSetting:
		return "setting"
	}
	return "unknown"
}

// Event is anything the control loop emits. Events are delivered in
// emission order; Closed is always the last event of a session.
type Event interface {
	isEvent()
}

// Opened reports a successful driver open. It always follows the initial
// Settings event.
type Opened struct{}

// Closed is the terminal event of every session, however it ended.
type Closed struct{}

// PlayingChanged reports an arm/disarm transition.
type PlayingChanged struct {
	Playing bool
}

// SettingsRead carries the full snapshot read at open.
type SettingsRead struct {
	Settings map[string]any
}

// SettingChanged carries the fields changed by one setting write,
// dependent recomputations included.
type SettingChanged struct {
	Changes map[string]any
}

// FrameCaptured carries one polled frame.
type FrameCaptured struct {
	Frame *Frame
}

// Exception reports a rejected request or a driver fault. Validation
// rejections leave the session running; driver faults are followed by
// teardown and Closed.
type Exception struct {
	Message string
	Trace   string
}

func (Opened) isEvent()         {}
func (Closed) isEvent()         {}
func (PlayingChanged) isEvent() {}
func (SettingsRead) isEvent()   {}
func (SettingChanged) isEvent() {}
func (FrameCaptured) isEvent()  {}
func (Exception) isEvent()      {}
