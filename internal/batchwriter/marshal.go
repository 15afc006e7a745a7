package batchwriter

import (
	"encoding/json"

	"github.com/certen/ledgernode/internal/txtypes"
)

func marshalEntry(e *txtypes.MempoolEntry) ([]byte, error) {
	return json.Marshal(e)
}

func unmarshalEntry(data []byte) (*txtypes.MempoolEntry, error) {
	var e txtypes.MempoolEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// UnmarshalEntry is exported for the mempool package's startup
// rehydration scan over the kvstore mempool: prefix.
var UnmarshalEntry = unmarshalEntry
