package p2p

import "sort"

// FanOut is the maximum number of peers a single broadcast reaches
// directly.
const FanOut = 8

// SelectFanOut deterministically picks up to FanOut addresses from addrs
// to receive a message with the given id: the selection starts at index
// msgID[0] mod N and takes the next min(FanOut, N) peers cyclically, so
// repeated broadcasts of the same message id always reach the same
// starting subset first while load is diffused across the full peer set
// over many distinct message ids.
func SelectFanOut(addrs []string, msgID string) []string {
	n := len(addrs)
	if n == 0 {
		return nil
	}
	sorted := make([]string, n)
	copy(sorted, addrs)
	sort.Strings(sorted)

	count := FanOut
	if count > n {
		count = n
	}

	start := int(msgID[0]) % n
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, sorted[(start+i)%n])
	}
	return out
}
