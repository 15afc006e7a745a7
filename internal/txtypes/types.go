// Package txtypes defines the canonical data shapes shared across the
// ingress, mempool, consensus, execution and commit layers.
package txtypes

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Transaction is the canonical, immutable-once-admitted transaction shape.
// (sender, chain_id, nonce) must be unique across admitted transactions.
type Transaction struct {
	ID          uuid.UUID       `json:"id"`
	TxHash      string          `json:"tx_hash"`
	Sender      string          `json:"sender"`
	Recipient   string          `json:"recipient"`
	Amount      uint64          `json:"amount"`
	Fee         uint64          `json:"fee"`
	CreatedAt   time.Time       `json:"created_at"`
	Signature   string          `json:"signature"`
	PublicKey   string          `json:"public_key"`
	ChainID     string          `json:"chain_id"`
	Nonce       uint64          `json:"nonce"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	ParentIDs   []uuid.UUID     `json:"parent_ids,omitempty"`
	Idempotency string          `json:"idempotency_key,omitempty"`
}

// SigningMessage returns the byte sequence the client signature is computed
// over: the transaction hash bytes.
func (t *Transaction) SigningMessage() []byte {
	return []byte(t.TxHash)
}

// MempoolEntry wraps a Transaction with the arrival timestamp used for TTL
// eviction and fee/arrival ordering.
type MempoolEntry struct {
	Tx       *Transaction `json:"tx"`
	Received time.Time    `json:"received_at"`
}

// Block is the canonical block shape. Once committed, TxIDs and Signatures
// never change.
type Block struct {
	ID         uuid.UUID            `json:"id"`
	Height     uint64               `json:"height"`
	ParentIDs  []uuid.UUID          `json:"parent_ids"`
	MerkleRoot string               `json:"merkle_root"`
	Timestamp  time.Time            `json:"timestamp"`
	TxCount    int                  `json:"tx_count"`
	TxIDs      []uuid.UUID          `json:"tx_ids"`
	TxHashes   []string             `json:"tx_hashes"`
	Proposer   string               `json:"proposer"`
	Signatures []ValidatorSignature `json:"signatures"`
}

// ValidatorSignature is one member of a block's quorum certificate.
type ValidatorSignature struct {
	ValidatorID string `json:"validator_id"`
	Signature   string `json:"signature"`
}

// Validator describes one member of the consensus validator set.
type Validator struct {
	ID      string `json:"id"`
	PubKey  string `json:"public_key"`
	Stake   uint64 `json:"stake"`
	Slashed uint64 `json:"slashed"`
	Active  bool   `json:"active"`
}

// Receipt is the outcome of executing a single transaction.
type Receipt struct {
	TxID    uuid.UUID       `json:"tx_id"`
	Status  ReceiptStatus   `json:"status"`
	Result  json.RawMessage `json:"result,omitempty"`
	BlockID uuid.UUID       `json:"block_id"`
}

// ReceiptStatus is the execution outcome of a transaction.
type ReceiptStatus string

const (
	ReceiptOK     ReceiptStatus = "ok"
	ReceiptFailed ReceiptStatus = "failed"
)

// Balance is an address's signed running balance.
type Balance struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

// Peer is a remote node's network record.
type Peer struct {
	Address          string    `json:"address"`
	LastSeen         time.Time `json:"last_seen"`
	ConsecutiveFails int       `json:"consecutive_fails"`
	BannedUntil      time.Time `json:"banned_until,omitempty"`
	RateWindowStart  time.Time `json:"rate_window_start"`
	RateWindowCount  int       `json:"rate_window_count"`
}

// Banned reports whether the peer is currently inside a ban window.
func (p *Peer) Banned(now time.Time) bool {
	return now.Before(p.BannedUntil)
}

// EquivocationEvidence records two conflicting signatures by the same
// validator in the same view. Persisted immutably.
type EquivocationEvidence struct {
	ID          uuid.UUID `json:"id"`
	ValidatorID string    `json:"validator_id"`
	View        uint64    `json:"view"`
	Existing    string    `json:"existing_block_hash"`
	Conflicting string    `json:"conflicting_block_hash"`
	DetectedAt  time.Time `json:"detected_at"`
}
