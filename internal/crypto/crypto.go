// Package crypto provides the signature and hashing primitives shared by
// ingress, gossip and consensus: Ed25519 verification and SHA-256 hashing.
package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
)

// Verify reports whether sig (hex) is a valid Ed25519 signature by pubkey
// (hex) over msg. Any decode failure or verification failure returns false
// without distinguishing the cause: there is no fallback path (including a
// length-only check) that can approve a malformed or wrong-key signature.
func Verify(pubkeyHex, sigHex string, msg []byte) bool {
	pub, err := hex.DecodeString(pubkeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}

// Sign signs msg with the given Ed25519 private key, returning a hex string.
// Used by the consensus replica and the dialing side of the P2P handshake.
func Sign(priv ed25519.PrivateKey, msg []byte) string {
	return hex.EncodeToString(ed25519.Sign(priv, msg))
}

// SHA256 returns the 32-byte SHA-256 digest of data.
func SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// SHA256Hex returns the hex-encoded SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
