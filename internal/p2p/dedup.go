package p2p

import (
	"crypto/sha256"
	"sync"
	"time"
)

const dedupTTL = 5 * time.Minute
const dedupPruneInterval = 30 * time.Second

// DedupCache suppresses repeated gossip message ids within a 5-minute
// window, on both inbound and outbound paths. Mutex-guarded; pruning runs
// on a background timer rather than per-lookup.
type DedupCache struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

// NewDedupCache builds an empty cache.
func NewDedupCache() *DedupCache {
	return &DedupCache{expires: make(map[string]time.Time)}
}

// MessageID derives the deduplication key for an envelope: sha256(type ||
// canonical_payload).
func MessageID(typ string, canonicalPayload []byte) string {
	h := sha256.New()
	h.Write([]byte(typ))
	h.Write(canonicalPayload)
	sum := h.Sum(nil)
	return string(sum)
}

// SeenOrRecord reports whether id was already recorded within the dedup
// window; if not, it records id with a fresh expiry and returns false.
func (d *DedupCache) SeenOrRecord(id string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if exp, ok := d.expires[id]; ok && now.Before(exp) {
		return true
	}
	d.expires[id] = now.Add(dedupTTL)
	return false
}

// Prune removes every entry whose expiry has passed. Intended to run every
// 30s on a background timer for the lifetime of the node.
func (d *DedupCache) Prune(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, exp := range d.expires {
		if now.After(exp) {
			delete(d.expires, id)
		}
	}
}

// Run starts the background pruning loop. It returns when stop is closed.
func (d *DedupCache) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(dedupPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case t := <-ticker.C:
			d.Prune(t)
		}
	}
}
