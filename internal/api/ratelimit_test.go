package api

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToMax(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Fatal("4th request should be denied")
	}
}

func TestRateLimiterResetsAfterWindow(t *testing.T) {
	rl := NewRateLimiter(1, 10*time.Millisecond)
	if !rl.Allow("peer") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("peer") {
		t.Fatal("second request within window should be denied")
	}
	time.Sleep(20 * time.Millisecond)
	if !rl.Allow("peer") {
		t.Fatal("request after window reset should be allowed")
	}
}

func TestRateLimiterPerClient(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	if !rl.Allow("a") {
		t.Fatal("client a first request should be allowed")
	}
	if !rl.Allow("b") {
		t.Fatal("client b has its own bucket and should be allowed")
	}
}
