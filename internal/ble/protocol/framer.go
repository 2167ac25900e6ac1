package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// DefaultMaxFrameBytes bounds the bytes held for one incomplete frame.
const DefaultMaxFrameBytes = 4096

// maxLengthPrefixed is the largest body a 2-byte length prefix can carry.
const maxLengthPrefixed = 0xFFFF

var (
	// ErrFrameCorrupt marks input that could not be turned into a message.
	ErrFrameCorrupt = errors.New("protocol: corrupt frame")
	// ErrFrameTooLarge marks a partial frame that outgrew the buffer bound.
	ErrFrameTooLarge = errors.New("protocol: frame exceeds size limit")
)

// Framing selects how message boundaries are recovered from the stream.
type Framing string

const (
	// FramingJSON finds the end of each top-level JSON object by scanning.
	FramingJSON Framing = "json"
	// FramingLength expects a 2-byte big-endian length before every body.
	FramingLength Framing = "length"
)

// ParseFraming validates a config name.
func ParseFraming(name string) (Framing, error) {
	switch Framing(name) {
	case "", FramingJSON:
		return FramingJSON, nil
	case FramingLength:
		return FramingLength, nil
	default:
		return "", fmt.Errorf("protocol: unknown framing %q", name)
	}
}

// Framer accumulates decoded chunk bytes and cuts them into frames.
//
// Push calls frame once for every complete frame, in stream order, after the
// frame's bytes have left the buffer. Unusable input is reported through
// corrupt and dropped; Push never stalls on it.
type Framer interface {
	Push(p []byte, frame func([]byte), corrupt func(error))
	Reset()
	Buffered() int
}

// NewFramer returns a Framer for the given mode.
func NewFramer(f Framing, maxBytes int) (Framer, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	switch f {
	case "", FramingJSON:
		return &jsonFramer{max: maxBytes}, nil
	case FramingLength:
		if maxBytes > maxLengthPrefixed {
			maxBytes = maxLengthPrefixed
		}
		return &lengthFramer{max: maxBytes}, nil
	default:
		return nil, fmt.Errorf("protocol: unknown framing %q", f)
	}
}

// jsonFramer tracks object depth and string state so that braces inside
// string values never end a frame.
type jsonFramer struct {
	buf      []byte
	depth    int
	inString bool
	escaped  bool
	stray    bool // inside a run of non-whitespace bytes between objects
	skipping bool // dropping the rest of an oversized object
	max      int
}

func (f *jsonFramer) Push(p []byte, frame func([]byte), corrupt func(error)) {
	for _, b := range p {
		if f.depth == 0 {
			switch {
			case b == '{':
				f.stray = false
				f.depth = 1
				f.buf = append(f.buf[:0], b)
			case isSpace(b):
				f.stray = false
			default:
				if !f.stray {
					corrupt(fmt.Errorf("%w: unexpected %q outside an object", ErrFrameCorrupt, b))
				}
				f.stray = true
			}
			continue
		}

		if !f.skipping {
			f.buf = append(f.buf, b)
		}
		if f.inString {
			switch {
			case f.escaped:
				f.escaped = false
			case b == '\\':
				f.escaped = true
			case b == '"':
				f.inString = false
			}
		} else {
			switch b {
			case '"':
				f.inString = true
			case '{', '[':
				f.depth++
			case '}', ']':
				f.depth--
			}
		}

		if f.depth == 0 {
			if f.skipping {
				// Oversized object fully consumed; nothing inside it is a frame.
				f.skipping = false
				continue
			}
			out := f.buf
			f.buf = nil
			frame(out)
			continue
		}
		if !f.skipping && len(f.buf) > f.max {
			corrupt(fmt.Errorf("%w: %d bytes without a closing brace", ErrFrameTooLarge, len(f.buf)))
			f.buf = nil
			f.skipping = true
		}
	}
}

func (f *jsonFramer) Reset() {
	f.buf = nil
	f.depth = 0
	f.inString = false
	f.escaped = false
	f.stray = false
	f.skipping = false
}

func (f *jsonFramer) Buffered() int { return len(f.buf) }

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

// lengthFramer reads [len:2 BE][body:len] records.
type lengthFramer struct {
	buf  []byte
	skip int // body bytes of an oversized record still to drop
	max  int
}

func (f *lengthFramer) Push(p []byte, frame func([]byte), corrupt func(error)) {
	if f.skip > 0 {
		n := min(f.skip, len(p))
		f.skip -= n
		p = p[n:]
	}
	f.buf = append(f.buf, p...)
	for len(f.buf) >= 2 {
		n := int(binary.BigEndian.Uint16(f.buf))
		switch {
		case n == 0:
			corrupt(fmt.Errorf("%w: zero-length frame", ErrFrameCorrupt))
			f.buf = f.buf[2:]
			continue
		case n > f.max:
			corrupt(fmt.Errorf("%w: declared length %d > %d", ErrFrameTooLarge, n, f.max))
			if body := len(f.buf) - 2; body < n {
				f.skip = n - body
				f.buf = nil
				return
			}
			f.buf = f.buf[2+n:]
			continue
		case len(f.buf) < 2+n:
			return
		}
		out := make([]byte, n)
		copy(out, f.buf[2:2+n])
		f.buf = f.buf[2+n:]
		frame(out)
	}
}

func (f *lengthFramer) Reset() {
	f.buf = nil
	f.skip = 0
}

func (f *lengthFramer) Buffered() int { return len(f.buf) }
