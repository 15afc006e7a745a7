package p2p

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriteReadEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(TypePing, struct{ Foo string }{Foo: "bar"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteEnvelope(&buf, env); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}

	got, err := ReadEnvelope(&buf)
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	if got.Type != TypePing || got.Version != ProtocolVersion {
		t.Fatalf("round-trip mismatch: got %+v", got)
	}
}

func TestWriteEnvelopeRejectsOversizeFrame(t *testing.T) {
	huge := strings.Repeat("a", MaxFrameSize+1)
	env, err := NewEnvelope(TypeGossipTx, struct{ Data string }{Data: huge})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteEnvelope(&buf, env); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadEnvelopeRejectsOversizeDeclaredLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	if _, err := ReadEnvelope(&buf); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}
