package protocol

import (
	"fmt"
	"log/slog"
)

// Reassembler turns the notification chunks of one session into messages.
// It is not safe for concurrent use; the owner serializes Feed calls.
type Reassembler struct {
	enc       Encoding
	framer    Framer
	discarded int
}

// NewReassembler builds a Reassembler with an empty buffer.
func NewReassembler(enc Encoding, framer Framer) *Reassembler {
	if enc == nil {
		enc = Raw
	}
	return &Reassembler{enc: enc, framer: framer}
}

// Feed decodes one chunk and calls emit for each message it completes, in
// arrival order. Corrupt frames are logged and dropped.
func (r *Reassembler) Feed(chunk []byte, emit func(Message)) {
	data, err := r.enc.Decode(chunk)
	if err != nil {
		r.corrupt(fmt.Errorf("%w: %w", ErrFrameCorrupt, err))
		r.framer.Reset()
		return
	}

	r.framer.Push(data, func(frame []byte) {
		msg, err := DecodeMessage(frame)
		if err != nil {
			r.corrupt(fmt.Errorf("%w: %w", ErrFrameCorrupt, err))
			return
		}
		emit(msg)
	}, r.corrupt)
}

// Reset discards any partial frame.
func (r *Reassembler) Reset() { r.framer.Reset() }

// Buffered reports bytes held for an incomplete frame.
func (r *Reassembler) Buffered() int { return r.framer.Buffered() }

// Discarded reports how many corrupt frames have been dropped.
func (r *Reassembler) Discarded() int { return r.discarded }

func (r *Reassembler) corrupt(err error) {
	r.discarded++
	slog.Warn("[BLE] discarding frame", "error", err, "buffered", r.framer.Buffered())
}
