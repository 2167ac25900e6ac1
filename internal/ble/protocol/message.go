// Package protocol implements the framing and message encoding used on the
// smart cane's notification and write characteristics.
//
// The cane sends self-describing JSON objects such as
//
//	{"type":"event","event":"fall","impact_g":4.2,"fall_recent":false}
//
// split across as many notifications as the link MTU requires. Nothing on
// the wire marks where one object ends; the Framer implementations in this
// package recover the boundaries.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Event kinds emitted by the cane firmware.
const (
	KindFall     = "fall"
	KindObstacle = "obstacle"
	KindStep     = "step"
)

// ErrMissingEvent is returned when a decoded object has no "event" field.
var ErrMissingEvent = errors.New("protocol: message has no event field")

// Message is one decoded event from the cane. It is immutable: accessors
// return copies and there are no setters.
type Message struct {
	kind   string
	fields map[string]any
	raw    []byte
}

// DecodeMessage parses exactly one JSON object. The "event" field is the
// required discriminant; every other field is kept as-is.
func DecodeMessage(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return Message{}, fmt.Errorf("protocol: decode message: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Message{}, errors.New("protocol: decode message: trailing data after object")
	}
	if fields == nil {
		return Message{}, errors.New("protocol: decode message: not an object")
	}

	kind, _ := fields["event"].(string)
	if strings.TrimSpace(kind) == "" {
		return Message{}, ErrMissingEvent
	}

	raw := make([]byte, len(data))
	copy(raw, data)
	return Message{
		kind:   strings.ToLower(strings.TrimSpace(kind)),
		fields: fields,
		raw:    bytes.TrimSpace(raw),
	}, nil
}

// Kind returns the lowercased event discriminant ("fall", "obstacle", ...).
func (m Message) Kind() string { return m.kind }

// Type returns the optional envelope "type" field, usually "event".
func (m Message) Type() string {
	s, _ := m.String("type")
	return s
}

// Raw returns a copy of the JSON the message was decoded from.
func (m Message) Raw() []byte {
	out := make([]byte, len(m.raw))
	copy(out, m.raw)
	return out
}

// Fields returns a shallow copy of all decoded fields.
func (m Message) Fields() map[string]any {
	out := make(map[string]any, len(m.fields))
	for k, v := range m.fields {
		out[k] = v
	}
	return out
}

// Has reports whether the field is present and not null.
func (m Message) Has(key string) bool {
	v, ok := m.fields[key]
	return ok && v != nil
}

// Float returns a numeric field.
func (m Message) Float(key string) (float64, bool) {
	switch v := m.fields[key].(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	}
	return 0, false
}

// Bool returns a boolean field.
func (m Message) Bool(key string) (bool, bool) {
	b, ok := m.fields[key].(bool)
	return b, ok
}

// String returns a string field.
func (m Message) String(key string) (string, bool) {
	s, ok := m.fields[key].(string)
	return s, ok
}

// MarshalJSON emits the original object.
func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.raw) == 0 {
		return []byte("null"), nil
	}
	return m.Raw(), nil
}

// FallEvent is the typed view of a "fall" message.
type FallEvent struct {
	ImpactG   float64
	HasImpact bool
	Recent    bool // another fall within the firmware's repeat window
}

// ObstacleEvent is the typed view of an "obstacle" message.
type ObstacleEvent struct {
	FrontCM  float64
	HasFront bool
	SideCM   float64
	HasSide  bool
}

// StepEvent is the typed view of a "step" (height change) message.
type StepEvent struct {
	SideCM  float64
	HasSide bool
}

// Fall returns the fall view, or false if the message is another kind.
func (m Message) Fall() (FallEvent, bool) {
	if m.kind != KindFall {
		return FallEvent{}, false
	}
	var ev FallEvent
	ev.ImpactG, ev.HasImpact = m.Float("impact_g")
	ev.Recent, _ = m.Bool("fall_recent")
	return ev, true
}

// Obstacle returns the obstacle view, or false if the message is another kind.
func (m Message) Obstacle() (ObstacleEvent, bool) {
	if m.kind != KindObstacle {
		return ObstacleEvent{}, false
	}
	var ev ObstacleEvent
	ev.FrontCM, ev.HasFront = m.Float("front_cm")
	ev.SideCM, ev.HasSide = m.Float("side_cm")
	return ev, true
}

// Step returns the step view, or false if the message is another kind.
func (m Message) Step() (StepEvent, bool) {
	if m.kind != KindStep {
		return StepEvent{}, false
	}
	var ev StepEvent
	ev.SideCM, ev.HasSide = m.Float("side_cm")
	return ev, true
}
