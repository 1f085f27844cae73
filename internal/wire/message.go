// Package wire implements the camlink socket protocol: a length-prefixed
// frame carrying a YAML-encoded (tag, value) pair, with an optional raw
// binary payload that only image messages may use.
package wire

// Message tags sent by the client (supervisor side).
const (
	TagOpenCam  = "open_cam"  // value: serial string
	TagCloseCam = "close_cam" // value: nil
	TagPlay     = "play"      // value: nil
	TagStop     = "stop"      // value: nil
	TagSetting  = "setting"   // value: [name, value]
	TagSerials  = "serials"   // value: nil (request) / []string (response)
	TagEOF      = "eof"       // value: nil
)

// Message tags sent by the worker (server side).
const (
	TagCamOpen   = "cam_open"   // value: nil
	TagCamClosed = "cam_closed" // value: nil
	TagPlaying   = "playing"    // value: bool
	TagSettings  = "settings"   // value: map of all settings
	// TagSetting doubles as the per-write echo: value is the map of fields
	// changed by one write, including recomputed dependent fields.
	TagImage     = "image"     // value: [format, [w, h], index, queued, time]; binary payload holds pixels
	TagException = "exception" // value: [message, trace]
)

// Message is one protocol unit. Binary is non-nil only for TagImage, where
// it carries the raw pixel data excluded from the text encoding.
type Message struct {
	Tag    string
	Value  any
	Binary []byte
}

// SessionScoped reports whether a client tag requires an open camera
// session. Such requests are rejected with an exception when no session
// exists.
func SessionScoped(tag string) bool {
	switch tag {
	case TagCloseCam, TagPlay, TagStop, TagSetting:
		return true
	}
	return false
}
