// Package executor deterministically applies a transaction's effect,
// producing a receipt: native SBT mint/revoke for tagged payloads, a
// plain value transfer otherwise. Execution consults no wall-clock time
// and no randomness, so every validator reaches the same receipt for the
// same transaction.
package executor

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/certen/ledgernode/internal/kvstore"
	"github.com/certen/ledgernode/internal/txtypes"
)

// ErrUnknownContract is recorded as a failed receipt, not returned as a Go
// error, since an unrecognized payload is a valid (if rejected) outcome of
// execution.
var ErrUnknownContract = errors.New("executor: unknown contract or operation")

// ContractOp is the tagged shape of a native contract invocation payload.
type ContractOp struct {
	Contract string          `json:"contract"`
	Op       string          `json:"op"`
	Args     json.RawMessage `json:"args"`
}

// SBTMintArgs is the payload for contract "sbt", op "mint".
type SBTMintArgs struct {
	TokenID string `json:"token_id"`
	Issuer  string `json:"issuer"`
	Holder  string `json:"holder"`
}

// SBTRevokeArgs is the payload for contract "sbt", op "revoke".
type SBTRevokeArgs struct {
	TokenID string `json:"token_id"`
	Issuer  string `json:"issuer"`
}

// sbtRecord is the soul-bound token state stored at kvstore.SBTKey.
type sbtRecord struct {
	TokenID string `json:"token_id"`
	Issuer  string `json:"issuer"`
	Holder  string `json:"holder"`
	Revoked bool   `json:"revoked"`
}

// Executor applies transactions to node state and produces receipts.
type Executor struct {
	kv *kvstore.Store
}

// New builds an Executor backed by the KV cache, where SBT records live.
func New(kv *kvstore.Store) *Executor {
	return &Executor{kv: kv}
}

// Execute runs tx within the block identified by blockID, returning its
// receipt. Execute never returns an error for a malformed or rejected
// transaction — those become a failed receipt — only for an underlying
// storage fault.
func (e *Executor) Execute(tx *txtypes.Transaction, blockID uuid.UUID) (*txtypes.Receipt, error) {
	if len(tx.Payload) == 0 {
		return e.transferReceipt(tx, blockID), nil
	}

	var op ContractOp
	if err := json.Unmarshal(tx.Payload, &op); err != nil {
		return e.failedReceipt(tx, blockID, err), nil
	}

	switch {
	case op.Contract == "sbt" && op.Op == "mint":
		return e.executeSBTMint(tx, blockID, op.Args)
	case op.Contract == "sbt" && op.Op == "revoke":
		return e.executeSBTRevoke(tx, blockID, op.Args)
	default:
		return e.failedReceipt(tx, blockID, ErrUnknownContract), nil
	}
}

func (e *Executor) executeSBTMint(tx *txtypes.Transaction, blockID uuid.UUID, args json.RawMessage) (*txtypes.Receipt, error) {
	var a SBTMintArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return e.failedReceipt(tx, blockID, err), nil
	}

	key := kvstore.SBTKey(a.TokenID)
	if _, err := e.kv.Get(key); err == nil {
		return e.failedReceipt(tx, blockID, fmt.Errorf("executor: token %s already minted", a.TokenID)), nil
	} else if err != kvstore.ErrNotFound {
		return nil, err
	}

	rec := sbtRecord{TokenID: a.TokenID, Issuer: a.Issuer, Holder: a.Holder}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if err := e.kv.Put(key, data); err != nil {
		return nil, err
	}

	return e.okReceipt(tx, blockID, rec)
}

func (e *Executor) executeSBTRevoke(tx *txtypes.Transaction, blockID uuid.UUID, args json.RawMessage) (*txtypes.Receipt, error) {
	var a SBTRevokeArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return e.failedReceipt(tx, blockID, err), nil
	}

	key := kvstore.SBTKey(a.TokenID)
	raw, err := e.kv.Get(key)
	if err == kvstore.ErrNotFound {
		return e.failedReceipt(tx, blockID, fmt.Errorf("executor: token %s not found", a.TokenID)), nil
	}
	if err != nil {
		return nil, err
	}

	var rec sbtRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}

	// Only the issuer may revoke a soul-bound token.
	if rec.Issuer != a.Issuer {
		return e.failedReceipt(tx, blockID, fmt.Errorf("executor: only issuer %s may revoke token %s", rec.Issuer, a.TokenID)), nil
	}

	rec.Revoked = true
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if err := e.kv.Put(key, data); err != nil {
		return nil, err
	}

	return e.okReceipt(tx, blockID, rec)
}

func (e *Executor) transferReceipt(tx *txtypes.Transaction, blockID uuid.UUID) *txtypes.Receipt {
	result, _ := json.Marshal(map[string]interface{}{
		"sender": tx.Sender, "recipient": tx.Recipient, "amount": tx.Amount,
	})
	return &txtypes.Receipt{TxID: tx.ID, Status: txtypes.ReceiptOK, Result: result, BlockID: blockID}
}

func (e *Executor) okReceipt(tx *txtypes.Transaction, blockID uuid.UUID, v interface{}) (*txtypes.Receipt, error) {
	result, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &txtypes.Receipt{TxID: tx.ID, Status: txtypes.ReceiptOK, Result: result, BlockID: blockID}, nil
}

func (e *Executor) failedReceipt(tx *txtypes.Transaction, blockID uuid.UUID, cause error) *txtypes.Receipt {
	result, _ := json.Marshal(map[string]string{"error": cause.Error()})
	return &txtypes.Receipt{TxID: tx.ID, Status: txtypes.ReceiptFailed, Result: result, BlockID: blockID}
}

// PersistReceipt stores r at receipt:<tx_id> in the KV cache.
func (e *Executor) PersistReceipt(r *txtypes.Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return e.kv.Put(kvstore.ReceiptKey(r.TxID), data)
}
