package p2p

import (
	"testing"
	"time"
)

func TestDedupCacheSuppressesWithinWindow(t *testing.T) {
	d := NewDedupCache()
	now := time.Now()

	if d.SeenOrRecord("m1", now) {
		t.Fatal("first observation should not be seen")
	}
	if !d.SeenOrRecord("m1", now.Add(time.Minute)) {
		t.Fatal("repeat within window should be suppressed")
	}
}

func TestDedupCacheExpiresAfterWindow(t *testing.T) {
	d := NewDedupCache()
	now := time.Now()
	d.SeenOrRecord("m1", now)

	if d.SeenOrRecord("m1", now.Add(6*time.Minute)) {
		t.Fatal("entry should have expired after 5 minutes")
	}
}

func TestDedupCachePrune(t *testing.T) {
	d := NewDedupCache()
	now := time.Now()
	d.SeenOrRecord("m1", now)
	d.Prune(now.Add(6 * time.Minute))

	d.mu.Lock()
	_, ok := d.expires["m1"]
	d.mu.Unlock()
	if ok {
		t.Fatal("expired entry should have been pruned")
	}
}
