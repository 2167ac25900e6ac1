package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyCommand is returned for a Command without a name.
var ErrEmptyCommand = errors.New("protocol: command has no name")

// Command is an outbound instruction to the cane, sent as
// {"cmd":"<Name>", ...Args}.
type Command struct {
	Name string
	Args map[string]any
}

// Codec bundles the wire settings both directions must agree on.
type Codec struct {
	Encoding      Encoding
	Framing       Framing
	MaxFrameBytes int
}

// DefaultCodec is raw bytes with JSON object framing.
func DefaultCodec() Codec {
	return Codec{
		Encoding:      Raw,
		Framing:       FramingJSON,
		MaxFrameBytes: DefaultMaxFrameBytes,
	}
}

// NewCodec resolves config names into a Codec.
func NewCodec(encoding, framing string, maxFrameBytes int) (Codec, error) {
	enc, err := ParseEncoding(encoding)
	if err != nil {
		return Codec{}, err
	}
	fr, err := ParseFraming(framing)
	if err != nil {
		return Codec{}, err
	}
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	return Codec{Encoding: enc, Framing: fr, MaxFrameBytes: maxFrameBytes}, nil
}

// NewReassembler returns an empty Reassembler for one session.
func (c Codec) NewReassembler() *Reassembler {
	framer, err := NewFramer(c.Framing, c.MaxFrameBytes)
	if err != nil {
		// Codec values come from NewCodec or DefaultCodec.
		framer = &jsonFramer{max: DefaultMaxFrameBytes}
	}
	return NewReassembler(c.Encoding, framer)
}

// Frame wraps a message body for the configured framing.
func (c Codec) Frame(body []byte) ([]byte, error) {
	if c.Framing != FramingLength {
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	}
	if len(body) == 0 || len(body) > maxLengthPrefixed {
		return nil, fmt.Errorf("protocol: body length %d cannot be length-prefixed", len(body))
	}
	out := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(out, uint16(len(body)))
	copy(out[2:], body)
	return out, nil
}

// EncodeCommand produces the bytes for a single characteristic write.
func (c Codec) EncodeCommand(cmd Command) ([]byte, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return nil, ErrEmptyCommand
	}
	obj := make(map[string]any, len(cmd.Args)+1)
	for k, v := range cmd.Args {
		obj[k] = v
	}
	obj["cmd"] = name

	body, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal command %q: %w", name, err)
	}
	framed, err := c.Frame(body)
	if err != nil {
		return nil, err
	}
	return c.encoding().Encode(framed), nil
}

func (c Codec) encoding() Encoding {
	if c.Encoding == nil {
		return Raw
	}
	return c.Encoding
}
