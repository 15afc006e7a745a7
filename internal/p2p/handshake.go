package p2p

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/certen/ledgernode/internal/crypto"
)

// HelloPayload identifies the connecting peer and its signing key.
type HelloPayload struct {
	NodeID       string `json:"node_id"`
	PublicKeyHex string `json:"public_key_hex"`
}

// ChallengePayload carries a random nonce the connector must sign.
type ChallengePayload struct {
	Nonce string `json:"nonce"`
}

// SignaturePayload carries the connector's signature over the challenge
// nonce.
type SignaturePayload struct {
	SigHex string `json:"sig_hex"`
}

// PeerListPayload is sent by the accepter after a successful handshake,
// for peer exchange.
type PeerListPayload struct {
	Peers []string `json:"peers"`
}

const handshakeTimeout = 10 * time.Second

// nonceSize is the length in bytes of the challenge nonce.
const nonceSize = 16

// DialAndHandshake connects to addr and performs the connector side of the
// handshake: send hello, receive challenge, sign it and send signature,
// then receive the accepter's peer_list. It returns the open connection
// and the peers the accepter advertised.
func DialAndHandshake(addr, nodeID string, priv ed25519.PrivateKey, pub ed25519.PublicKey) (net.Conn, []string, error) {
	conn, err := net.DialTimeout("tcp", addr, handshakeTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("p2p: dial %s: %w", addr, err)
	}
	conn.SetDeadline(time.Now().Add(handshakeTimeout))

	hello, err := NewEnvelope(TypeHello, HelloPayload{NodeID: nodeID, PublicKeyHex: hex.EncodeToString(pub)})
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if err := WriteEnvelope(conn, hello); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("p2p: send hello to %s: %w", addr, err)
	}

	env, err := ReadEnvelope(conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("p2p: read challenge from %s: %w", addr, err)
	}
	if env.Type != TypeChallenge {
		conn.Close()
		return nil, nil, fmt.Errorf("p2p: expected challenge from %s, got %s", addr, env.Type)
	}
	var challenge ChallengePayload
	if err := unmarshalPayload(env, &challenge); err != nil {
		conn.Close()
		return nil, nil, err
	}

	nonce, err := hex.DecodeString(challenge.Nonce)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("p2p: decode challenge nonce from %s: %w", addr, err)
	}

	sigEnv, err := NewEnvelope(TypeSignature, SignaturePayload{SigHex: crypto.Sign(priv, nonce)})
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if err := WriteEnvelope(conn, sigEnv); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("p2p: send signature to %s: %w", addr, err)
	}

	env, err = ReadEnvelope(conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("p2p: read peer_list from %s: %w", addr, err)
	}
	if env.Type != TypePeerList {
		conn.Close()
		return nil, nil, fmt.Errorf("p2p: expected peer_list from %s, got %s", addr, env.Type)
	}
	var peerList PeerListPayload
	if err := unmarshalPayload(env, &peerList); err != nil {
		conn.Close()
		return nil, nil, err
	}

	conn.SetDeadline(time.Time{})
	return conn, peerList.Peers, nil
}

// AcceptHandshake performs the accepter side of the handshake on an
// already-accepted connection: read hello, send a random challenge, read
// and verify the signature against the public key the connector claimed
// in hello, and on success send back a peer_list. Verification failure
// closes the connection (the caller is expected to do so on error return).
func AcceptHandshake(conn net.Conn, knownPeers []string) (peerID, peerPubKeyHex string, err error) {
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	env, err := ReadEnvelope(conn)
	if err != nil {
		return "", "", fmt.Errorf("p2p: read hello: %w", err)
	}
	if env.Type != TypeHello {
		return "", "", fmt.Errorf("p2p: expected hello, got %s", env.Type)
	}
	var hello HelloPayload
	if err := unmarshalPayload(env, &hello); err != nil {
		return "", "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", "", fmt.Errorf("p2p: generate nonce: %w", err)
	}
	challengeEnv, err := NewEnvelope(TypeChallenge, ChallengePayload{Nonce: hex.EncodeToString(nonce)})
	if err != nil {
		return "", "", err
	}
	if err := WriteEnvelope(conn, challengeEnv); err != nil {
		return "", "", fmt.Errorf("p2p: send challenge: %w", err)
	}

	env, err = ReadEnvelope(conn)
	if err != nil {
		return "", "", fmt.Errorf("p2p: read signature: %w", err)
	}
	if env.Type != TypeSignature {
		return "", "", fmt.Errorf("p2p: expected signature, got %s", env.Type)
	}
	var sig SignaturePayload
	if err := unmarshalPayload(env, &sig); err != nil {
		return "", "", err
	}

	if !crypto.Verify(hello.PublicKeyHex, sig.SigHex, nonce) {
		return "", "", fmt.Errorf("p2p: handshake signature invalid for node %s", hello.NodeID)
	}

	peerListEnv, err := NewEnvelope(TypePeerList, PeerListPayload{Peers: knownPeers})
	if err != nil {
		return "", "", err
	}
	if err := WriteEnvelope(conn, peerListEnv); err != nil {
		return "", "", fmt.Errorf("p2p: send peer_list: %w", err)
	}

	return hello.NodeID, hello.PublicKeyHex, nil
}

func unmarshalPayload(env Envelope, v interface{}) error {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("p2p: unmarshal %s payload: %w", env.Type, err)
	}
	return nil
}
