package net

import (
	"bytes"

	"github.com/ugorji/go/codec"
)

// Message kinds exchanged between nodes.
const (
	// MessageSubmit pushes freshly accepted events to a peer.
	MessageSubmit = "submit"

	// MessageSyncRequest asks a peer for events the sender is missing,
	// advertising the event IDs it already has.
	MessageSyncRequest = "sync_request"

	// MessageSyncResponse answers a sync request with the events the
	// requester lacked.
	MessageSyncResponse = "sync_response"
)

// Message is the payload carried inside a transport Envelope: a batch of
// serialized wire events being pushed, or one leg of an anti-entropy
// exchange. Events stay in their serialized form end to end; the transport
// layer never needs to look inside them.
type Message struct {
	Kind   string
	From   string
	Known  []string
	Events [][]byte
}

// Marshal - json encoding of Message
func (m *Message) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(m); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal ...
func (m *Message) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	if err := dec.Decode(m); err != nil {
		return err
	}

	return nil
}
