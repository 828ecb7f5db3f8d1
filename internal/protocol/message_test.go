package protocol

import (
	"bytes"
	"testing"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 0},
		{10, 10},
		{MaxBinarySize, MaxBinarySize},
		{MaxBinarySize + 1, MaxBinarySize},
		{70000, 65456},
	}
	for _, tt := range tests {
		if got := len(Truncate(make([]byte, tt.in))); got != tt.want {
			t.Errorf("Truncate(%d bytes) = %d bytes, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFullChunkFrameFitsCeiling(t *testing.T) {
	data, err := Encode(MessageTypeChunk, ChunkPayload{
		FileName: string(bytes.Repeat([]byte("n"), 255)),
		Offset:   1 << 40,
		Bytes:    make([]byte, MaxChunkSize),
		Final:    true,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(data) > MaxBinarySize {
		t.Errorf("chunk frame is %d bytes, ceiling is %d", len(data), MaxBinarySize)
	}
}

func TestParseEncode(t *testing.T) {
	data, err := Encode(MessageTypeFileCancel, FileCancelPayload{FileName: "a.txt", Reason: "timeout"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	msg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.Type != MessageTypeFileCancel {
		t.Fatalf("Type = %q", msg.Type)
	}
	var p FileCancelPayload
	if err := msg.DecodePayload(&p); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if p.FileName != "a.txt" || p.Reason != "timeout" || p.Explicit {
		t.Errorf("payload = %+v", p)
	}
}
