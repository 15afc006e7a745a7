package p2p

import (
	"crypto/ed25519"
	"net"
	"testing"
)

func TestHandshakeSucceedsWithValidSignature(t *testing.T) {
	connPub, connPriv, _ := ed25519.GenerateKey(nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	acceptErr := make(chan error, 1)
	acceptPeerID := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		defer conn.Close()
		peerID, pubHex, err := AcceptHandshake(conn, []string{"bootstrap:1"})
		if err != nil {
			acceptErr <- err
			return
		}
		if pubHex == "" {
			acceptErr <- err
			return
		}
		acceptPeerID <- peerID
		acceptErr <- nil
	}()

	conn, peers, err := DialAndHandshake(ln.Addr().String(), "dialer-node", connPriv, connPub)
	if err != nil {
		t.Fatalf("DialAndHandshake: %v", err)
	}
	defer conn.Close()

	if err := <-acceptErr; err != nil {
		t.Fatalf("AcceptHandshake: %v", err)
	}
	if got := <-acceptPeerID; got != "dialer-node" {
		t.Fatalf("expected peer id dialer-node, got %s", got)
	}
	if len(peers) != 1 || peers[0] != "bootstrap:1" {
		t.Fatalf("expected peer_list [bootstrap:1], got %v", peers)
	}
}

func TestHandshakeFailsWithWrongKey(t *testing.T) {
	_, connPriv, _ := ed25519.GenerateKey(nil)
	wrongPub, _, _ := ed25519.GenerateKey(nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	acceptErr := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		defer conn.Close()
		_, _, err = AcceptHandshake(conn, nil)
		acceptErr <- err
	}()

	// Dial while presenting a public key that does not correspond to the
	// private key actually used to sign the challenge nonce.
	conn, _, dialErr := DialAndHandshake(ln.Addr().String(), "dialer-node", connPriv, wrongPub)
	if dialErr == nil {
		conn.Close()
	}

	if err := <-acceptErr; err == nil {
		t.Fatal("expected AcceptHandshake to reject a mismatched key/signature")
	}
}
