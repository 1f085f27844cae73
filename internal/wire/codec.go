package wire

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Encode serializes a (tag, value) pair as a YAML two-element sequence.
// The binary payload of image messages is not part of the text encoding;
// framing appends it separately.
func Encode(tag string, value any) ([]byte, error) {
	data, err := yaml.Marshal([]any{tag, value})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", tag, err)
	}
	return data, nil
}

// Decode reverses Encode.
func Decode(data []byte) (tag string, value any, err error) {
	var pair []any
	if err = yaml.Unmarshal(data, &pair); err != nil {
		return "", nil, fmt.Errorf("decode message: %w", err)
	}
	if len(pair) != 2 {
		return "", nil, fmt.Errorf("decode message: expected [tag, value], got %d elements", len(pair))
	}
	tag, ok := pair[0].(string)
	if !ok {
		return "", nil, fmt.Errorf("decode message: tag is %T, not string", pair[0])
	}
	return tag, pair[1], nil
}

// ImageMeta is the text-encoded portion of an image message. The pixel
// bytes travel out of band as the frame's binary payload.
type ImageMeta struct {
	PixelFormat string
	Width       int
	Height      int
	FrameIndex  uint64
	QueuedCount int
	CaptureTime float64
}

// Value returns the YAML shape of the metadata:
// [format, [w, h], index, queued, time].
func (m ImageMeta) Value() any {
	return []any{
		m.PixelFormat,
		[]any{m.Width, m.Height},
		m.FrameIndex,
		m.QueuedCount,
		m.CaptureTime,
	}
}

// ParseImageMeta extracts ImageMeta from a decoded image value.
func ParseImageMeta(v any) (ImageMeta, error) {
	seq, ok := v.([]any)
	if !ok || len(seq) != 5 {
		return ImageMeta{}, fmt.Errorf("image value: expected 5-element sequence, got %T", v)
	}
	format, ok := seq[0].(string)
	if !ok {
		return ImageMeta{}, fmt.Errorf("image value: pixel format is %T, not string", seq[0])
	}
	size, ok := seq[1].([]any)
	if !ok || len(size) != 2 {
		return ImageMeta{}, fmt.Errorf("image value: size is %T, not [w, h]", seq[1])
	}
	w, ok := asInt(size[0])
	if !ok {
		return ImageMeta{}, fmt.Errorf("image value: width is %T", size[0])
	}
	h, ok := asInt(size[1])
	if !ok {
		return ImageMeta{}, fmt.Errorf("image value: height is %T", size[1])
	}
	index, ok := asInt(seq[2])
	if !ok || index < 0 {
		return ImageMeta{}, fmt.Errorf("image value: bad frame index %v", seq[2])
	}
	queued, ok := asInt(seq[3])
	if !ok {
		return ImageMeta{}, fmt.Errorf("image value: bad queued count %v", seq[3])
	}
	capture, ok := asFloat(seq[4])
	if !ok {
		return ImageMeta{}, fmt.Errorf("image value: bad capture time %v", seq[4])
	}
	return ImageMeta{
		PixelFormat: format,
		Width:       int(w),
		Height:      int(h),
		FrameIndex:  uint64(index),
		QueuedCount: int(queued),
		CaptureTime: capture,
	}, nil
}

// Exception is the payload of an exception message.
type Exception struct {
	Message string
	Trace   string
}

// Value returns the YAML shape [message, trace].
func (e Exception) Value() any {
	return []any{e.Message, e.Trace}
}

// ParseException extracts an Exception from a decoded exception value.
func ParseException(v any) (Exception, error) {
	seq, ok := v.([]any)
	if !ok || len(seq) != 2 {
		return Exception{}, fmt.Errorf("exception value: expected [message, trace], got %T", v)
	}
	msg, _ := seq[0].(string)
	trace, _ := seq[1].(string)
	return Exception{Message: msg, Trace: trace}, nil
}

// SettingValue returns the YAML shape of a setting request: [name, value].
func SettingValue(name string, value any) any {
	return []any{name, value}
}

// ParseSetting extracts the (name, value) pair of a setting request.
func ParseSetting(v any) (name string, value any, err error) {
	seq, ok := v.([]any)
	if !ok || len(seq) != 2 {
		return "", nil, fmt.Errorf("setting value: expected [name, value], got %T", v)
	}
	name, ok = seq[0].(string)
	if !ok {
		return "", nil, fmt.Errorf("setting value: name is %T, not string", seq[0])
	}
	return name, seq[1], nil
}

// ParseSerials extracts the serial list of a serials response.
func ParseSerials(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	seq, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("serials value: expected sequence, got %T", v)
	}
	serials := make([]string, 0, len(seq))
	for _, item := range seq {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("serials value: element is %T, not string", item)
		}
		serials = append(serials, s)
	}
	return serials, nil
}

// asInt widens the integer kinds the YAML decoder may produce.
func asInt(v any) (int64, bool) {
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

// asFloat accepts any numeric scalar.
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
