package p2p

import "testing"

func TestSelectFanOutBoundedAndDeterministic(t *testing.T) {
	addrs := []string{"a:1", "b:2", "c:3", "d:4", "e:5", "f:6", "g:7", "h:8", "i:9", "j:10"}

	got1 := SelectFanOut(addrs, "msgid-fixed")
	got2 := SelectFanOut(addrs, "msgid-fixed")

	if len(got1) != FanOut {
		t.Fatalf("expected %d targets, got %d", FanOut, len(got1))
	}
	for i := range got1 {
		if got1[i] != got2[i] {
			t.Fatalf("selection not deterministic: %v vs %v", got1, got2)
		}
	}
}

func TestSelectFanOutSmallerThanFanOut(t *testing.T) {
	addrs := []string{"a:1", "b:2"}
	got := SelectFanOut(addrs, "x")
	if len(got) != 2 {
		t.Fatalf("expected 2 targets when N < FanOut, got %d", len(got))
	}
}

func TestSelectFanOutEmpty(t *testing.T) {
	if got := SelectFanOut(nil, "x"); got != nil {
		t.Fatalf("expected nil for empty peer set, got %v", got)
	}
}
