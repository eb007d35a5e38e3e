package audit

import (
	"encoding/json"
)

// Entry is one line of the audit log. Data holds the accepted event's
// canonical wire form exactly as it was hashed, so the chain can be replayed
// byte for byte. EventHash covers Data concatenated with PrevHash, which is
// the previous entry's EventHash, or the genesis value for the first entry.
type Entry struct {
	EventID   string          `json:"event_id"`
	EventHash string          `json:"event_hash"`
	PrevHash  string          `json:"prev_hash"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Marshal returns the JSON encoding of the Entry.
func (e *Entry) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes a JSON encoded Entry.
func (e *Entry) Unmarshal(data []byte) error {
	return json.Unmarshal(data, e)
}
