package protocol

import (
	"bytes"
	"testing"
)

func TestSplitPayloadFitsInOne(t *testing.T) {
	chunks := SplitPayload([]byte(`{"event":"step"}`), 50)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if string(chunks[0]) != `{"event":"step"}` {
		t.Errorf("chunk[0] = %q", chunks[0])
	}
}

func TestSplitPayloadEmpty(t *testing.T) {
	if chunks := SplitPayload(nil, 20); chunks != nil {
		t.Errorf("SplitPayload(nil) = %v, want nil", chunks)
	}
}

func TestSplitPayloadZeroMTU(t *testing.T) {
	if chunks := SplitPayload([]byte("abc"), 0); chunks != nil {
		t.Errorf("SplitPayload with mtu=0 should return nil, got %v", chunks)
	}
}

func TestSplitPayloadReassembles(t *testing.T) {
	data := []byte(`{"type":"event","event":"obstacle","front_cm":42,"side_cm":80}`)
	chunks := SplitPayload(data, DefaultMTUPayload)
	if len(chunks) != 4 {
		t.Fatalf("got %d chunks, want 4", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > DefaultMTUPayload {
			t.Errorf("chunk[%d] len=%d exceeds mtu=%d", i, len(c), DefaultMTUPayload)
		}
	}
	if got := bytes.Join(chunks, nil); !bytes.Equal(got, data) {
		t.Errorf("reassembled = %q, want %q", got, data)
	}
}

func TestSplitPayloadDoesNotAlias(t *testing.T) {
	data := []byte("abcdef")
	chunks := SplitPayload(data, 3)
	data[0] = 'X'
	if chunks[0][0] != 'a' {
		t.Error("chunk shares memory with input")
	}
}
