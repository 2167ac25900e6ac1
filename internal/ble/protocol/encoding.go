package protocol

import (
	"encoding/base64"
	"fmt"
)

// Encoding is the binary-to-text representation a transport uses for
// characteristic values. Each notification is encoded on its own.
type Encoding interface {
	Name() string
	Encode(data []byte) []byte
	Decode(chunk []byte) ([]byte, error)
}

var (
	// Raw passes bytes through untouched (native GATT stacks).
	Raw Encoding = rawEncoding{}
	// Base64 is the standard padded alphabet used by bridged mobile stacks.
	Base64 Encoding = base64Encoding{}
)

// ParseEncoding returns the Encoding for a config name: "raw" or "base64".
func ParseEncoding(name string) (Encoding, error) {
	switch name {
	case "", "raw":
		return Raw, nil
	case "base64":
		return Base64, nil
	default:
		return nil, fmt.Errorf("protocol: unknown wire encoding %q", name)
	}
}

type rawEncoding struct{}

func (rawEncoding) Name() string { return "raw" }

func (rawEncoding) Encode(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

func (rawEncoding) Decode(chunk []byte) ([]byte, error) {
	out := make([]byte, len(chunk))
	copy(out, chunk)
	return out, nil
}

type base64Encoding struct{}

func (base64Encoding) Name() string { return "base64" }

func (base64Encoding) Encode(data []byte) []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(data)))
	base64.StdEncoding.Encode(out, data)
	return out
}

func (base64Encoding) Decode(chunk []byte) ([]byte, error) {
	out := make([]byte, base64.StdEncoding.DecodedLen(len(chunk)))
	n, err := base64.StdEncoding.Decode(out, chunk)
	if err != nil {
		return nil, fmt.Errorf("protocol: base64 chunk: %w", err)
	}
	return out[:n], nil
}
