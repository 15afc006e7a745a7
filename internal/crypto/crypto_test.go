package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestVerify_ValidSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	msg := []byte("aa01deadbeef")
	sigHex := Sign(priv, msg)

	if !Verify(hex.EncodeToString(pub), sigHex, msg) {
		t.Fatal("expected valid signature to verify")
	}
}

func TestVerify_FlippedBitFails(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	msg := []byte("aa01deadbeef")
	sig, _ := hex.DecodeString(Sign(priv, msg))
	sig[0] ^= 0x01

	if Verify(hex.EncodeToString(pub), hex.EncodeToString(sig), msg) {
		t.Fatal("flipped signature must not verify")
	}
}

func TestVerify_MalformedNeverApproves(t *testing.T) {
	cases := []struct{ pub, sig string }{
		{"", ""},
		{"not-hex", "not-hex"},
		{hex.EncodeToString(make([]byte, 10)), hex.EncodeToString(make([]byte, 64))},
		{hex.EncodeToString(make([]byte, 32)), hex.EncodeToString(make([]byte, 10))},
	}
	for _, c := range cases {
		if Verify(c.pub, c.sig, []byte("msg")) {
			t.Fatalf("malformed input must never verify: %+v", c)
		}
	}
}

func digest(s string) [32]byte {
	return sha256.Sum256([]byte(s))
}

func TestMerkleRoot_EmptyIsHashOfEmptyString(t *testing.T) {
	want := sha256.Sum256(nil)
	got := MerkleRoot(nil)
	if got != want {
		t.Fatalf("empty root mismatch: got %x want %x", got, want)
	}
}

func TestMerkleProof_RoundTrip(t *testing.T) {
	leaves := [][32]byte{digest("h0"), digest("h1"), digest("h2"), digest("h3")}
	root := MerkleRoot(leaves)

	for i := range leaves {
		proof, err := MerkleProof(leaves, i)
		if err != nil {
			t.Fatalf("proof %d: %v", i, err)
		}
		if !VerifyMerkleProof(leaves[i], proof, root) {
			t.Fatalf("proof %d failed to verify", i)
		}
	}
}

func TestMerkleProof_TamperDetection(t *testing.T) {
	leaves := [][32]byte{digest("h0"), digest("h1"), digest("h2"), digest("h3")}
	root := MerkleRoot(leaves)

	proof, err := MerkleProof(leaves, 2)
	if err != nil {
		t.Fatalf("proof: %v", err)
	}

	tamperedLeaf := leaves[2]
	tamperedLeaf[0] ^= 0x01
	if VerifyMerkleProof(tamperedLeaf, proof, root) {
		t.Fatal("tampered leaf must not verify")
	}

	tamperedProof := append([]ProofStep(nil), proof...)
	tamperedProof[0].Sibling[0] ^= 0x01
	if VerifyMerkleProof(leaves[2], tamperedProof, root) {
		t.Fatal("tampered sibling must not verify")
	}
}

func TestMerkleRoot_OddLevelDuplicatesLast(t *testing.T) {
	leaves := [][32]byte{digest("h0"), digest("h1"), digest("h2")}
	root := MerkleRoot(leaves)

	withDup := [][32]byte{digest("h0"), digest("h1"), digest("h2"), digest("h2")}
	wantRoot := MerkleRoot(withDup)

	if root != wantRoot {
		t.Fatalf("odd-level duplication mismatch: got %x want %x", root, wantRoot)
	}
}
