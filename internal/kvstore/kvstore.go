// Package kvstore is the node's durable key-value cache: an embedded
// GoLevelDB instance accessed through cometbft-db, storing transactions,
// mempool entries, receipts, blocks, tx indexes, SBT records and account
// balances as namespaced keys. In full storage mode it is a fast local
// cache and rehydration source beside the authoritative relational store;
// in lightweight storage mode (STORAGE_MODE=rocks*) it is the only durable
// record.
package kvstore

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	dbm "github.com/cometbft/cometbft-db"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kvstore: key not found")

// Store wraps a cometbft-db GoLevelDB instance with synchronous, durable
// writes and prefix scanning.
type Store struct {
	db dbm.DB
}

const (
	openBackoffInitial = 250 * time.Millisecond
	openBackoffCap     = 2 * time.Second
	openMaxAttempts    = 8
)

// Open opens (creating if necessary) a GoLevelDB database at dir, retrying
// with exponential backoff (250ms doubling to a 2s cap, 8 attempts max) to
// tolerate a concurrently-held lock from a previous process shutting down.
func Open(name, dir string) (*Store, error) {
	var lastErr error
	backoff := openBackoffInitial
	for attempt := 1; attempt <= openMaxAttempts; attempt++ {
		db, err := dbm.NewGoLevelDB(name, dir)
		if err == nil {
			return &Store{db: db}, nil
		}
		lastErr = err
		if attempt == openMaxAttempts {
			break
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > openBackoffCap {
			backoff = openBackoffCap
		}
	}
	return nil, fmt.Errorf("kvstore: open %s after %d attempts: %w", dir, openMaxAttempts, lastErr)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value stored at key, or ErrNotFound.
func (s *Store) Get(key []byte) ([]byte, error) {
	v, err := s.db.Get(key)
	if err != nil {
		return nil, fmt.Errorf("kvstore: get %q: %w", key, err)
	}
	if v == nil {
		return nil, ErrNotFound
	}
	return v, nil
}

// Has reports whether key exists.
func (s *Store) Has(key []byte) (bool, error) {
	return s.db.Has(key)
}

// Put writes key/value durably (fsync'd before returning).
func (s *Store) Put(key, value []byte) error {
	if err := s.db.SetSync(key, value); err != nil {
		return fmt.Errorf("kvstore: put %q: %w", key, err)
	}
	return nil
}

// Delete durably removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key []byte) error {
	if err := s.db.DeleteSync(key); err != nil {
		return fmt.Errorf("kvstore: delete %q: %w", key, err)
	}
	return nil
}

// Op is one write or delete within a BatchApply call.
type Op struct {
	Key     []byte
	Value   []byte // ignored when Deleted is set
	Deleted bool
}

// PutOp builds a write operation.
func PutOp(key, value []byte) Op { return Op{Key: key, Value: value} }

// DeleteOp builds a delete operation.
func DeleteOp(key []byte) Op { return Op{Key: key, Deleted: true} }

// BatchApply applies ops atomically and durably: either all of them are
// visible after BatchApply returns, or none are.
func (s *Store) BatchApply(ops []Op) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, op := range ops {
		if op.Deleted {
			if err := batch.Delete(op.Key); err != nil {
				return fmt.Errorf("kvstore: batch delete %q: %w", op.Key, err)
			}
			continue
		}
		if err := batch.Set(op.Key, op.Value); err != nil {
			return fmt.Errorf("kvstore: batch set %q: %w", op.Key, err)
		}
	}
	if err := batch.WriteSync(); err != nil {
		return fmt.Errorf("kvstore: batch write: %w", err)
	}
	return nil
}

// Entry is one key/value pair returned by a prefix scan.
type Entry struct {
	Key   []byte
	Value []byte
}

// ScanPrefix returns every key/value pair whose key starts with prefix, in
// ascending key order. Used at startup to rehydrate the mempool from the
// mempool: namespace.
func (s *Store) ScanPrefix(prefix []byte) ([]Entry, error) {
	end := prefixUpperBound(prefix)
	it, err := s.db.Iterator(prefix, end)
	if err != nil {
		return nil, fmt.Errorf("kvstore: iterator over %q: %w", prefix, err)
	}
	defer it.Close()

	var out []Entry
	for ; it.Valid(); it.Next() {
		if !bytes.HasPrefix(it.Key(), prefix) {
			break
		}
		k := append([]byte(nil), it.Key()...)
		v := append([]byte(nil), it.Value()...)
		out = append(out, Entry{Key: k, Value: v})
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("kvstore: iterate %q: %w", prefix, err)
	}
	return out, nil
}

// prefixUpperBound returns the lexicographically smallest key greater than
// every key with the given prefix, or nil if prefix is all 0xff bytes (in
// which case the scan runs to the end of the keyspace).
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
