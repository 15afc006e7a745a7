package kvstore

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Key namespace prefixes: a byte-slice prefix constant plus a small
// key-builder function per namespace.
var (
	prefixTxn       = []byte("txn:")
	prefixMempool   = []byte("mempool:")
	prefixReceipt   = []byte("receipt:")
	prefixBlock     = []byte("block:")
	prefixTxIndex   = []byte("tx_index:")
	prefixSBT       = []byte("sbt:")
	prefixBalance   = []byte("balance:")
	keyLatestHeight = []byte("state:latest_height")
	keyLatestBlock  = []byte("state:latest_block")
)

// TxnKey returns the key a transaction's canonical record is stored at.
func TxnKey(id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixTxn, id))
}

// MempoolKey returns the key a pending mempool entry is stored at.
func MempoolKey(id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixMempool, id))
}

// MempoolPrefix is the scan prefix used to rehydrate the mempool at
// startup.
func MempoolPrefix() []byte {
	return append([]byte(nil), prefixMempool...)
}

// ReceiptKey returns the key a transaction's execution receipt is stored
// at.
func ReceiptKey(txID uuid.UUID) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixReceipt, txID))
}

// BlockKey returns the key a committed block is stored at.
func BlockKey(id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixBlock, id))
}

// TxIndexKey returns the key mapping a transaction hash to its containing
// block and position.
func TxIndexKey(txHash string) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixTxIndex, txHash))
}

// SBTKey returns the key a soul-bound token record is stored at.
func SBTKey(id string) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixSBT, id))
}

// BalanceKey returns the key an address's balance is stored at.
func BalanceKey(address string) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixBalance, address))
}

// LatestHeightKey returns the singleton key holding the highest committed
// block height.
func LatestHeightKey() []byte {
	return keyLatestHeight
}

// LatestBlockKey returns the singleton key holding the highest committed
// block's id, the resume point for a node running without the relational
// store.
func LatestBlockKey() []byte {
	return keyLatestBlock
}

// EncodeHeight big-endian-encodes a height for use as a key suffix, so
// that lexicographic key order matches numeric height order.
func EncodeHeight(height uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, height)
	return b
}

// DecodeHeight is the inverse of EncodeHeight.
func DecodeHeight(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
