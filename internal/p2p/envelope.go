// Package p2p implements the node's peer-to-peer overlay: a length-framed
// JSON envelope codec, a challenge/response Ed25519 handshake, a
// connection manager with per-peer reconnect/ban accounting, bounded
// fan-out gossip with message deduplication, and per-peer rate limiting.
package p2p

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the largest permitted frame payload. Frames whose
// length prefix exceeds this are dropped (and the connection, which a
// length-prefixed codec cannot resynchronize without reading the declared
// payload, is closed by the caller).
const MaxFrameSize = 64 * 1024

// ErrFrameTooLarge is returned by ReadEnvelope when the declared frame
// length exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("p2p: frame exceeds maximum size")

// ProtocolVersion is the envelope version this node emits.
const ProtocolVersion uint8 = 1

// Envelope is the wire shape of every message exchanged between peers.
type Envelope struct {
	Version uint8           `json:"version"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Envelope types.
const (
	TypeHello     = "hello"
	TypeChallenge = "challenge"
	TypeSignature = "signature"
	TypePeerList  = "peer_list"
	TypeGossipTx  = "gossip_tx"
	TypePing      = "ping"
	TypePong      = "pong"
)

// NewEnvelope builds an envelope of the given type carrying payload
// marshaled to JSON.
func NewEnvelope(typ string, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("p2p: marshal %s payload: %w", typ, err)
	}
	return Envelope{Version: ProtocolVersion, Type: typ, Payload: data}, nil
}

// WriteEnvelope writes env to w as a big-endian 4-byte length prefix
// followed by the JSON-encoded envelope.
func WriteEnvelope(w io.Writer, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("p2p: marshal envelope: %w", err)
	}
	if len(data) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("p2p: write frame length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("p2p: write frame payload: %w", err)
	}
	return nil
}

// ReadEnvelope reads one length-prefixed JSON envelope from r. A declared
// length over MaxFrameSize returns ErrFrameTooLarge without attempting to
// read the oversized payload; the caller must close the connection, since
// the stream position can no longer be trusted to be frame-aligned.
func ReadEnvelope(r io.Reader) (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Envelope{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return Envelope{}, ErrFrameTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Envelope{}, fmt.Errorf("p2p: read frame payload: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return Envelope{}, fmt.Errorf("p2p: unmarshal envelope: %w", err)
	}
	return env, nil
}
