// Package camera holds the camera data model (settings snapshot, frame
// envelope, driver interfaces) and the Controller state machine that owns
// the driver on its control-loop goroutine.
package camera

import "fmt"

// Pixel formats a frame may carry.
const (
	FormatMono16 = "mono16"
	FormatBGR48  = "bgr48"
)

// Trigger modes. The order matters: index 0 is the software trigger that
// Play issues automatically after arming.
const (
	TriggerSoftware = "SW Trigger"
	TriggerHardware = "HW Trigger"
)

// Range is the advertised bounds of a numeric setting. Writes outside the
// range are clamped, never rejected.
type Range struct {
	Min float64
	Max float64
}

// Clamp confines v to the range.
func (r Range) Clamp(v float64) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

func (r Range) value() any { return []any{r.Min, r.Max} }

// AllSettings is every writable setting name, valid only while the session
// is open and idle.
var AllSettings = []string{
	"exposure_ms", "binning_x", "binning_y", "roi_x", "roi_y", "roi_width",
	"roi_height", "trigger_type", "trigger_count", "frame_queue_size",
	"gain", "black_level", "freq", "taps", "color_gain",
}

// PlaySettings is the subset of AllSettings that may also be written while
// the camera is playing.
var PlaySettings = []string{"exposure_ms", "gain", "black_level", "color_gain"}

var (
	allSet  = nameSet(AllSettings)
	playSet = nameSet(PlaySettings)
)

func nameSet(names []string) map[string]struct{} {
	s := make(map[string]struct{}, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Writable reports whether a setting may be written in the current mode.
func Writable(name string, playing bool) bool {
	if playing {
		_, ok := playSet[name]
		return ok
	}
	_, ok := allSet[name]
	return ok
}

// Snapshot is the full named set of camera configuration values and their
// valid ranges. It lives on the control-loop goroutine; other goroutines
// only ever see copies published as event payloads.
type Snapshot struct {
	ExposureMS    float64
	ExposureRange Range

	BinningX      int
	BinningXRange Range
	BinningY      int
	BinningYRange Range

	SensorWidth  int
	SensorHeight int

	ROIX      int
	ROIY      int
	ROIWidth  int
	ROIHeight int

	FrameQueueSize int
	TriggerType    string
	TriggerCount   int

	Gain      int
	GainRange Range

	BlackLevel      int
	BlackLevelRange Range

	Freq           string
	SupportedFreqs []string

	Taps          string
	SupportedTaps []string

	SupportedTriggers []string

	ColorGain [3]float64
}

// RangeFor returns the advertised range of a numeric setting, if it has one.
func (s *Snapshot) RangeFor(name string) (Range, bool) {
	switch name {
	case "exposure_ms":
		return s.ExposureRange, true
	case "binning_x":
		return s.BinningXRange, true
	case "binning_y":
		return s.BinningYRange, true
	case "gain":
		return s.GainRange, true
	case "black_level":
		return s.BlackLevelRange, true
	}
	return Range{}, false
}

// Map renders the snapshot in its wire shape: one entry per setting plus
// the read-only ranges and capability lists.
func (s *Snapshot) Map() map[string]any {
	return map[string]any{
		"exposure_ms":       s.ExposureMS,
		"exposure_range":    s.ExposureRange.value(),
		"binning_x":         s.BinningX,
		"binning_x_range":   s.BinningXRange.value(),
		"binning_y":         s.BinningY,
		"binning_y_range":   s.BinningYRange.value(),
		"sensor_size":       []any{s.SensorWidth, s.SensorHeight},
		"roi_x":             s.ROIX,
		"roi_y":             s.ROIY,
		"roi_width":         s.ROIWidth,
		"roi_height":        s.ROIHeight,
		"frame_queue_size":  s.FrameQueueSize,
		"trigger_type":      s.TriggerType,
		"trigger_count":     s.TriggerCount,
		"gain":              s.Gain,
		"gain_range":        s.GainRange.value(),
		"black_level":       s.BlackLevel,
		"black_level_range": s.BlackLevelRange.value(),
		"freq":              s.Freq,
		"supported_freqs":   append([]string(nil), s.SupportedFreqs...),
		"taps":              s.Taps,
		"supported_taps":    append([]string(nil), s.SupportedTaps...),
		"supported_triggers": append(
			[]string(nil), s.SupportedTriggers...),
		"color_gain": []any{s.ColorGain[0], s.ColorGain[1], s.ColorGain[2]},
	}
}

// Merge applies a map of changed settings to the snapshot and reports which
// fields it recognized, in no particular order. Unknown keys are an error;
// a driver reporting a setting this model does not know about means the two
// sides disagree about the schema.
func (s *Snapshot) Merge(changes map[string]any) ([]string, error) {
	changed := make([]string, 0, len(changes))
	for name, v := range changes {
		if err := s.set(name, v); err != nil {
			return changed, err
		}
		changed = append(changed, name)
	}
	return changed, nil
}

func (s *Snapshot) set(name string, v any) error {
	switch name {
	case "exposure_ms":
		return setFloat(&s.ExposureMS, name, v)
	case "exposure_range":
		return setRange(&s.ExposureRange, name, v)
	case "binning_x":
		return setInt(&s.BinningX, name, v)
	case "binning_x_range":
		return setRange(&s.BinningXRange, name, v)
	case "binning_y":
		return setInt(&s.BinningY, name, v)
	case "binning_y_range":
		return setRange(&s.BinningYRange, name, v)
	case "sensor_size":
		pair, err := intPair(name, v)
		if err != nil {
			return err
		}
		s.SensorWidth, s.SensorHeight = pair[0], pair[1]
		return nil
	case "roi_x":
		return setInt(&s.ROIX, name, v)
	case "roi_y":
		return setInt(&s.ROIY, name, v)
	case "roi_width":
		return setInt(&s.ROIWidth, name, v)
	case "roi_height":
		return setInt(&s.ROIHeight, name, v)
	case "frame_queue_size":
		return setInt(&s.FrameQueueSize, name, v)
	case "trigger_type":
		return setString(&s.TriggerType, name, v)
	case "trigger_count":
		return setInt(&s.TriggerCount, name, v)
	case "gain":
		return setInt(&s.Gain, name, v)
	case "gain_range":
		return setRange(&s.GainRange, name, v)
	case "black_level":
		return setInt(&s.BlackLevel, name, v)
	case "black_level_range":
		return setRange(&s.BlackLevelRange, name, v)
	case "freq":
		return setString(&s.Freq, name, v)
	case "supported_freqs":
		return setStrings(&s.SupportedFreqs, name, v)
	case "taps":
		return setString(&s.Taps, name, v)
	case "supported_taps":
		return setStrings(&s.SupportedTaps, name, v)
	case "supported_triggers":
		return setStrings(&s.SupportedTriggers, name, v)
	case "color_gain":
		gains, err := floatTriple(name, v)
		if err != nil {
			return err
		}
		s.ColorGain = gains
		return nil
	}
	return fmt.Errorf("unknown setting %q", name)
}

func setFloat(dst *float64, name string, v any) error {
	f, ok := toFloat(v)
	if !ok {
		return fmt.Errorf("setting %q: %T is not numeric", name, v)
	}
	*dst = f
	return nil
}

func setInt(dst *int, name string, v any) error {
	n, ok := toInt(v)
	if !ok {
		return fmt.Errorf("setting %q: %T is not an integer", name, v)
	}
	*dst = int(n)
	return nil
}

func setString(dst *string, name string, v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("setting %q: %T is not a string", name, v)
	}
	*dst = s
	return nil
}

func setStrings(dst *[]string, name string, v any) error {
	switch list := v.(type) {
	case []string:
		*dst = append([]string(nil), list...)
		return nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("setting %q: element %T is not a string", name, item)
			}
			out = append(out, s)
		}
		*dst = out
		return nil
	}
	return fmt.Errorf("setting %q: %T is not a string list", name, v)
}

func setRange(dst *Range, name string, v any) error {
	seq, ok := v.([]any)
	if !ok || len(seq) != 2 {
		return fmt.Errorf("setting %q: %T is not a [min, max] pair", name, v)
	}
	minV, okMin := toFloat(seq[0])
	maxV, okMax := toFloat(seq[1])
	if !okMin || !okMax {
		return fmt.Errorf("setting %q: non-numeric bounds", name)
	}
	dst.Min, dst.Max = minV, maxV
	return nil
}

func intPair(name string, v any) ([2]int, error) {
	seq, ok := v.([]any)
	if !ok || len(seq) != 2 {
		return [2]int{}, fmt.Errorf("setting %q: %T is not a pair", name, v)
	}
	a, okA := toInt(seq[0])
	b, okB := toInt(seq[1])
	if !okA || !okB {
		return [2]int{}, fmt.Errorf("setting %q: non-integer pair", name)
	}
	return [2]int{int(a), int(b)}, nil
}

func floatTriple(name string, v any) ([3]float64, error) {
	seq, ok := v.([]any)
	if !ok || len(seq) != 3 {
		return [3]float64{}, fmt.Errorf("setting %q: %T is not an [r, g, b] triple", name, v)
	}
	var out [3]float64
	for i, item := range seq {
		f, ok := toFloat(item)
		if !ok {
			return out, fmt.Errorf("setting %q: non-numeric channel gain", name)
		}
		out[i] = f
	}
	return out, nil
}

// toInt widens the integer kinds the text codec may produce.
func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

// toFloat accepts any numeric scalar.
func toFloat(v any) (float64, bool) {
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
