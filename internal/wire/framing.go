package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame limits. A header announcing more than this is treated as a corrupt
// stream rather than an allocation request.
const (
	MaxTextLen   = 1 << 20  // 1 MiB of YAML covers any settings map
	MaxBinaryLen = 1 << 28  // 256 MiB bounds a single frame's pixel data
	headerLen    = 8
)

// ErrConnectionClosed reports that the peer closed the stream between
// messages. A close mid-frame is a protocol error instead.
var ErrConnectionClosed = errors.New("connection closed by peer")

// ProtocolError is fatal to the connection: a malformed header, a peer that
// vanished mid-frame, or a binary payload on a text-only tag.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// WriteMessage frames and writes one message: an 8-byte big-endian
// (text_len, binary_len) header, the YAML text, then the binary payload.
func WriteMessage(w io.Writer, m Message) error {
	_, err := WriteMessageCount(w, m)
	return err
}

// WriteMessageCount is WriteMessage reporting the bytes written, for
// transfer accounting.
func WriteMessageCount(w io.Writer, m Message) (int, error) {
	if len(m.Binary) > 0 && m.Tag != TagImage {
		return 0, &ProtocolError{Reason: fmt.Sprintf("tag %q cannot carry a binary payload", m.Tag)}
	}

	text, err := Encode(m.Tag, m.Value)
	if err != nil {
		return 0, err
	}
	if len(text) > MaxTextLen {
		return 0, &ProtocolError{Reason: fmt.Sprintf("text portion %d exceeds limit", len(text))}
	}
	if len(m.Binary) > MaxBinaryLen {
		return 0, &ProtocolError{Reason: fmt.Sprintf("binary payload %d exceeds limit", len(m.Binary))}
	}

	var header [headerLen]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(len(text)))
	binary.BigEndian.PutUint32(header[4:8], uint32(len(m.Binary)))

	written := 0
	n, err := w.Write(header[:])
	written += n
	if err != nil {
		return written, fmt.Errorf("write header: %w", err)
	}
	n, err = w.Write(text)
	written += n
	if err != nil {
		return written, fmt.Errorf("write text: %w", err)
	}
	if len(m.Binary) > 0 {
		n, err = w.Write(m.Binary)
		written += n
		if err != nil {
			return written, fmt.Errorf("write binary: %w", err)
		}
	}
	return written, nil
}

// ReadMessage reads and decodes one framed message. A clean close before
// the first header byte returns ErrConnectionClosed; a close anywhere later
// is a ProtocolError.
func ReadMessage(r io.Reader) (Message, error) {
	var header [headerLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Message{}, ErrConnectionClosed
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, &ProtocolError{Reason: "peer closed mid-header", Err: err}
		}
		return Message{}, fmt.Errorf("read header: %w", err)
	}

	textLen := binary.BigEndian.Uint32(header[0:4])
	binLen := binary.BigEndian.Uint32(header[4:8])
	if textLen > MaxTextLen {
		return Message{}, &ProtocolError{Reason: fmt.Sprintf("text length %d exceeds limit", textLen)}
	}
	if binLen > MaxBinaryLen {
		return Message{}, &ProtocolError{Reason: fmt.Sprintf("binary length %d exceeds limit", binLen)}
	}

	text := make([]byte, textLen)
	if _, err := io.ReadFull(r, text); err != nil {
		return Message{}, &ProtocolError{Reason: "peer closed mid-frame", Err: err}
	}

	tag, value, err := Decode(text)
	if err != nil {
		return Message{}, &ProtocolError{Reason: "undecodable text portion", Err: err}
	}

	if binLen > 0 && tag != TagImage {
		return Message{}, &ProtocolError{
			Reason: fmt.Sprintf("tag %q carries %d binary bytes", tag, binLen),
		}
	}

	var bin []byte
	if binLen > 0 {
		bin = make([]byte, binLen)
		if _, err := io.ReadFull(r, bin); err != nil {
			return Message{}, &ProtocolError{Reason: "peer closed mid-payload", Err: err}
		}
	}

	return Message{Tag: tag, Value: value, Binary: bin}, nil
}
