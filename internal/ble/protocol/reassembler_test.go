package protocol

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"
)

const fallJSON = `{"event":"fall","impact_g":4}`

// feedAll pushes every chunk and returns the messages emitted.
func feedAll(r *Reassembler, chunks ...[]byte) []Message {
	var got []Message
	for _, c := range chunks {
		r.Feed(c, func(m Message) { got = append(got, m) })
	}
	return got
}

func newJSONReassembler(t *testing.T) *Reassembler {
	t.Helper()
	return DefaultCodec().NewReassembler()
}

func TestReassemblerSingleChunk(t *testing.T) {
	r := newJSONReassembler(t)
	got := feedAll(r, []byte(fallJSON))
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
	if got[0].Kind() != KindFall {
		t.Errorf("Kind() = %q, want fall", got[0].Kind())
	}
	if r.Buffered() != 0 {
		t.Errorf("Buffered() = %d after complete message, want 0", r.Buffered())
	}
}

func TestReassemblerChunkBoundaryInvariant(t *testing.T) {
	data := []byte(fallJSON)

	// Every two-way split.
	for i := 1; i < len(data); i++ {
		r := newJSONReassembler(t)
		got := feedAll(r, data[:i], data[i:])
		if len(got) != 1 {
			t.Fatalf("split at %d: got %d messages, want 1", i, len(got))
		}
		impact, _ := got[0].Float("impact_g")
		if got[0].Kind() != KindFall || impact != 4 {
			t.Errorf("split at %d: decoded %s", i, got[0].Raw())
		}
	}

	// N-way splits of every width.
	for mtu := 1; mtu <= len(data); mtu++ {
		r := newJSONReassembler(t)
		chunks := SplitPayload(data, mtu)
		var got []Message
		for i, c := range chunks {
			r.Feed(c, func(m Message) { got = append(got, m) })
			if i < len(chunks)-1 && len(got) != 0 {
				t.Fatalf("mtu=%d: emitted before final chunk", mtu)
			}
		}
		if len(got) != 1 {
			t.Fatalf("mtu=%d: got %d messages, want 1", mtu, len(got))
		}
	}
}

func TestReassemblerInvalidFrameDoesNotWedge(t *testing.T) {
	r := newJSONReassembler(t)
	got := feedAll(r, []byte(`{"event":"fall",`), []byte(`}`))
	if len(got) != 0 {
		t.Fatalf("got %d messages from invalid frame, want 0", len(got))
	}
	if r.Buffered() != 0 {
		t.Errorf("Buffered() = %d after invalid frame, want 0", r.Buffered())
	}
	if r.Discarded() != 1 {
		t.Errorf("Discarded() = %d, want 1", r.Discarded())
	}

	got = feedAll(r, []byte(fallJSON))
	if len(got) != 1 {
		t.Errorf("got %d messages after recovery, want 1", len(got))
	}
}

func TestReassemblerBraceInsideString(t *testing.T) {
	r := newJSONReassembler(t)
	got := feedAll(r,
		[]byte(`{"event":"note","text":"a } and a \" {`),
		[]byte(` brace"}`),
	)
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
	if text, _ := got[0].String("text"); text != `a } and a " { brace` {
		t.Errorf("text = %q", text)
	}
}

func TestReassemblerSeveralMessagesInOneChunk(t *testing.T) {
	r := newJSONReassembler(t)
	got := feedAll(r,
		[]byte(`{"event":"fall"}`+"\n"+`{"event":"step","side_cm":3}{"event":"obs`),
		[]byte(`tacle"}`),
	)
	want := []string{KindFall, KindStep, KindObstacle}
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got), len(want))
	}
	for i, k := range want {
		if got[i].Kind() != k {
			t.Errorf("message[%d].Kind() = %q, want %q", i, got[i].Kind(), k)
		}
	}
}

func TestReassemblerNestedObject(t *testing.T) {
	r := newJSONReassembler(t)
	got := feedAll(r, []byte(`{"event":"fall","imu":{"x":1,"y":[1,2]}`), []byte(`}`))
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
}

func TestReassemblerStrayBytesDropped(t *testing.T) {
	r := newJSONReassembler(t)
	got := feedAll(r, []byte(`garbage}`), []byte(fallJSON))
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
	if r.Discarded() != 1 {
		t.Errorf("Discarded() = %d, want 1 (one stray run)", r.Discarded())
	}
}

func TestReassemblerOversizeFrameCleared(t *testing.T) {
	framer, err := NewFramer(FramingJSON, 32)
	if err != nil {
		t.Fatalf("NewFramer() error = %v", err)
	}
	r := NewReassembler(Raw, framer)

	got := feedAll(r, []byte(`{"event":"fall","pad":"`+strings.Repeat("x", 64)))
	if len(got) != 0 {
		t.Fatalf("got %d messages, want 0", len(got))
	}
	if r.Buffered() != 0 {
		t.Errorf("Buffered() = %d, want 0 after force-clear", r.Buffered())
	}

	// The tail of the oversized message is skipped; the next object decodes.
	got = feedAll(r, []byte(`"}`), []byte(fallJSON))
	if len(got) != 1 {
		t.Errorf("got %d messages after force-clear, want 1", len(got))
	}
}

func TestReassemblerOversizeFrameHidesNestedObjects(t *testing.T) {
	framer, err := NewFramer(FramingJSON, 64)
	if err != nil {
		t.Fatalf("NewFramer() error = %v", err)
	}
	r := NewReassembler(Raw, framer)

	oversized := `{"event":"obstacle","pad":"` + strings.Repeat("x", 80) +
		`","extra":{"event":"fall","impact_g":9},"list":[{"event":"step"}]}`
	var got []Message
	for _, c := range SplitPayload([]byte(oversized), 20) {
		r.Feed(c, func(m Message) { got = append(got, m) })
	}
	if len(got) != 0 {
		t.Fatalf("emitted %d messages from inside an oversized object (first kind %q), want 0", len(got), got[0].Kind())
	}
	if r.Discarded() != 1 {
		t.Errorf("Discarded() = %d, want 1", r.Discarded())
	}
	if r.Buffered() != 0 {
		t.Errorf("Buffered() = %d while skipping, want 0", r.Buffered())
	}

	got = feedAll(r, []byte(`{"event":"step","side_cm":5}`))
	if len(got) != 1 || got[0].Kind() != KindStep {
		t.Fatalf("got %d messages after the oversized object, want the step", len(got))
	}
}

func TestReassemblerResetDuringSkip(t *testing.T) {
	framer, _ := NewFramer(FramingJSON, 16)
	r := NewReassembler(Raw, framer)

	feedAll(r, []byte(`{"event":"fall","pad":{"a":"`+strings.Repeat("y", 32)))
	r.Reset()
	got := feedAll(r, []byte(fallJSON))
	if len(got) != 1 {
		t.Fatalf("got %d messages after Reset, want 1", len(got))
	}
}

func TestReassemblerResetDiscardsPartial(t *testing.T) {
	r := newJSONReassembler(t)
	feedAll(r, []byte(`{"event":"fa`))
	if r.Buffered() == 0 {
		t.Fatal("Buffered() = 0 with a partial message")
	}
	r.Reset()
	got := feedAll(r, []byte(`ll"}`), []byte(fallJSON))
	if len(got) != 1 || got[0].Kind() != KindFall {
		t.Fatalf("got %d messages after Reset, want only the fresh one", len(got))
	}
}

func TestReassemblerBase64Chunks(t *testing.T) {
	codec, err := NewCodec("base64", "json", 0)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	r := codec.NewReassembler()

	var chunks [][]byte
	for _, c := range SplitPayload([]byte(fallJSON), 7) {
		chunks = append(chunks, Base64.Encode(c))
	}
	got := feedAll(r, chunks...)
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
}

func TestReassemblerBase64InvalidChunkResets(t *testing.T) {
	codec, _ := NewCodec("base64", "json", 0)
	r := codec.NewReassembler()

	got := feedAll(r, Base64.Encode([]byte(`{"event":`)), []byte("!!not base64!!"))
	if len(got) != 0 {
		t.Fatalf("got %d messages, want 0", len(got))
	}
	if r.Buffered() != 0 {
		t.Errorf("Buffered() = %d after undecodable chunk, want 0", r.Buffered())
	}
}

func TestReassemblerLengthFraming(t *testing.T) {
	codec, err := NewCodec("raw", "length", 0)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	body := []byte(`{"event":"note","text":"}}}"}`)
	frame, err := codec.Frame(body)
	if err != nil {
		t.Fatalf("Frame() error = %v", err)
	}
	stream := append(append([]byte{}, frame...), frame...)

	r := codec.NewReassembler()
	got := feedAll(r, SplitPayload(stream, 5)...)
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if r.Buffered() != 0 {
		t.Errorf("Buffered() = %d, want 0", r.Buffered())
	}
}

func TestLengthFramerRejectsOversize(t *testing.T) {
	framer, _ := NewFramer(FramingLength, 16)
	var errs []error
	hdr := make([]byte, 2)
	binary.BigEndian.PutUint16(hdr, 100)
	framer.Push(hdr, func([]byte) { t.Error("unexpected frame") }, func(err error) { errs = append(errs, err) })
	if len(errs) != 1 || !errors.Is(errs[0], ErrFrameTooLarge) {
		t.Fatalf("errors = %v, want one ErrFrameTooLarge", errs)
	}
	if framer.Buffered() != 0 {
		t.Errorf("Buffered() = %d, want 0", framer.Buffered())
	}
}

func TestLengthFramerSkipsOversizeBody(t *testing.T) {
	codec, err := NewCodec("raw", "length", 32)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	// The oversized body carries a well-formed header-shaped prefix and a
	// complete inner object; none of it may surface.
	inner := []byte(`{"event":"fall","impact_g":9}`)
	body := append([]byte{0x00, byte(len(inner))}, inner...)
	body = append(body, []byte(strings.Repeat("z", 40))...)
	oversized := make([]byte, 2, 2+len(body))
	binary.BigEndian.PutUint16(oversized, uint16(len(body)))
	oversized = append(oversized, body...)

	valid, err := codec.Frame([]byte(`{"event":"step"}`))
	if err != nil {
		t.Fatalf("Frame() error = %v", err)
	}
	stream := append(oversized, valid...)

	r := codec.NewReassembler()
	got := feedAll(r, SplitPayload(stream, 7)...)
	if len(got) != 1 || got[0].Kind() != KindStep {
		t.Fatalf("got %d messages, want only the step", len(got))
	}
	if r.Discarded() != 1 {
		t.Errorf("Discarded() = %d, want 1", r.Discarded())
	}
}

func TestParseFramingAndEncoding(t *testing.T) {
	if _, err := ParseFraming("xml"); err == nil {
		t.Error("ParseFraming(xml) should fail")
	}
	if _, err := ParseEncoding("hex"); err == nil {
		t.Error("ParseEncoding(hex) should fail")
	}
	if f, _ := ParseFraming(""); f != FramingJSON {
		t.Errorf("ParseFraming(\"\") = %q, want json", f)
	}
	if e, _ := ParseEncoding(""); e.Name() != "raw" {
		t.Errorf("ParseEncoding(\"\") = %q, want raw", e.Name())
	}
}
