// Package frame implements the binary framing shared by the relay, the
// wrapper, and viewers: a one-byte type tag, a big-endian u32 payload
// length, then the payload.
package frame

import (
	"encoding/binary"
	"fmt"
)

// Type tags a frame on the wire. The values are part of the wire contract.
type Type byte

const (
	Output Type = 0 // raw terminal bytes, upstream → relay → viewers
	Input  Type = 1 // raw keystrokes, viewer → relay → upstream
	Resize Type = 2 // payload: u16 rows, u16 cols (big-endian)
)

func (t Type) String() string {
	switch t {
	case Output:
		return "output"
	case Input:
		return "input"
	case Resize:
		return "resize"
	}
	return fmt.Sprintf("type(%d)", byte(t))
}

const (
	headerLen = 5

	// MaxPayload bounds a single frame. Anything larger is a protocol
	// violation and terminates the connection.
	MaxPayload = 1 << 20
)

// Frame is one decoded type|length|payload record.
type Frame struct {
	Type    Type
	Payload []byte
}

// Pack serializes a single frame.
func Pack(t Type, payload []byte) []byte {
	return Append(make([]byte, 0, headerLen+len(payload)), t, payload)
}

// Append serializes a frame onto dst and returns the extended slice.
func Append(dst []byte, t Type, payload []byte) []byte {
	dst = append(dst, byte(t))
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// ResizePayload encodes a window size as a Resize frame payload.
func ResizePayload(rows, cols uint16) []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], rows)
	binary.BigEndian.PutUint16(payload[2:4], cols)
	return payload
}

// PackResize builds a complete Resize frame for the given window size.
func PackResize(rows, cols uint16) []byte {
	return Pack(Resize, ResizePayload(rows, cols))
}

// ParseResize decodes a Resize payload.
func ParseResize(payload []byte) (rows, cols uint16, err error) {
	if len(payload) != 4 {
		return 0, 0, fmt.Errorf("resize payload is %d bytes, want 4", len(payload))
	}
	return binary.BigEndian.Uint16(payload[0:2]), binary.BigEndian.Uint16(payload[2:4]), nil
}

// Scanner splits a byte stream back into frames. TCP reads may carry
// fractional frames or several frames at once; partial trailing bytes stay
// buffered until the rest arrives.
type Scanner struct {
	buf []byte
}

// Feed appends raw bytes from the wire.
func (s *Scanner) Feed(p []byte) {
	s.buf = append(s.buf, p...)
}

// Buffered reports how many undecoded bytes are pending.
func (s *Scanner) Buffered() int {
	return len(s.buf)
}

// Next returns the next complete frame. ok is false when the buffer does
// not yet hold a full frame. A declared length above MaxPayload returns an
// error; the stream is unrecoverable after that.
func (s *Scanner) Next() (f Frame, ok bool, err error) {
	if len(s.buf) < headerLen {
		return Frame{}, false, nil
	}
	length := binary.BigEndian.Uint32(s.buf[1:headerLen])
	if length > MaxPayload {
		return Frame{}, false, fmt.Errorf("frame length %d exceeds limit %d", length, MaxPayload)
	}
	total := headerLen + int(length)
	if len(s.buf) < total {
		return Frame{}, false, nil
	}
	payload := make([]byte, length)
	copy(payload, s.buf[headerLen:total])
	f = Frame{Type: Type(s.buf[0]), Payload: payload}
	s.buf = s.buf[:copy(s.buf, s.buf[total:])]
	return f, true, nil
}
